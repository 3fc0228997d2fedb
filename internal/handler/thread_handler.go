package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/thread"
)

// ThreadServiceInterface はスレッドハンドラーが必要とするサービスインターフェース。
type ThreadServiceInterface interface {
	CreateThread(ctx context.Context, actorID, channelID, title string) (*model.Thread, error)
	SetLocked(ctx context.Context, actorID, threadID string, locked bool) (*model.Thread, error)
	ListThreads(ctx context.Context, channelID string) (*model.Channel, []thread.Summary, error)
	GetThread(ctx context.Context, viewerID, threadID, cursor string, limit int) (*thread.View, error)
}

// ThreadHandler はスレッド操作のHTTPハンドラー。
type ThreadHandler struct {
	service ThreadServiceInterface
}

// NewThreadHandler はThreadHandlerを生成する。
func NewThreadHandler(service ThreadServiceInterface) *ThreadHandler {
	return &ThreadHandler{service: service}
}

// createThreadRequest はスレッド作成リクエストのボディ。
type createThreadRequest struct {
	Title string `json:"title"`
}

// setLockRequest はロック状態変更リクエストのボディ。
type setLockRequest struct {
	Locked *bool `json:"locked"`
}

// ListThreads はチャンネル内のスレッド一覧を新しい順に返す。
// GET /api/channels/{id}/threads
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	channel, summaries, err := h.service.ListThreads(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toChannelThreadsResponse(channel, summaries))
}

// CreateThread はチャンネルにスレッドを作成する。
// POST /api/channels/{id}/threads
func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.service.CreateThread(r.Context(), userID, chi.URLParam(r, "id"), req.Title)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toThreadResponse(t))
}

// GetThread はスレッドとメッセージの1ページ分を返す。
// GET /api/threads/{id}?cursor=&limit=
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(w, model.NewValidationError("limit", "整数で指定してください"))
			return
		}
		limit = n
	}

	view, err := h.service.GetThread(r.Context(), userID, chi.URLParam(r, "id"), q.Get("cursor"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toThreadViewResponse(view))
}

// SetLock はスレッドのロック状態を変更する。
// PUT /api/threads/{id}/lock
func (h *ThreadHandler) SetLock(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req setLockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Locked == nil {
		handleServiceError(w, model.NewValidationError("locked", "必須です"))
		return
	}

	t, err := h.service.SetLocked(r.Context(), userID, chi.URLParam(r, "id"), *req.Locked)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toThreadResponse(t))
}
