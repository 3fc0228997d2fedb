package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/guildfire/internal/model"
)

// MessageServiceInterface はメッセージハンドラーが必要とするサービスインターフェース。
type MessageServiceInterface interface {
	Create(ctx context.Context, actorID, threadID, content string) (*model.Message, error)
	Update(ctx context.Context, actorID, messageID, content string) (*model.Message, error)
	Delete(ctx context.Context, actorID, messageID string) (*model.Message, error)
}

// ReactionServiceInterface はリアクションのトグル操作を提供する。
type ReactionServiceInterface interface {
	Toggle(ctx context.Context, actorID, messageID, emoji string) (model.ToggleResult, error)
}

// MessageHandler はメッセージとリアクションのHTTPハンドラー。
type MessageHandler struct {
	messages  MessageServiceInterface
	reactions ReactionServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(messages MessageServiceInterface, reactions ReactionServiceInterface) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		reactions: reactions,
	}
}

// messageRequest はメッセージ作成・更新リクエストのボディ。
type messageRequest struct {
	Content string `json:"content"`
}

// reactionRequest はリアクショントグルリクエストのボディ。
type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// CreateMessage はスレッドにメッセージを投稿する。
// POST /api/threads/{id}/messages
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.messages.Create(r.Context(), userID, chi.URLParam(r, "id"), req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(m))
}

// UpdateMessage は自分のメッセージ本文を編集する。
// PATCH /api/messages/{id}
func (h *MessageHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.messages.Update(r.Context(), userID, chi.URLParam(r, "id"), req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

// DeleteMessage はメッセージを論理削除する。
// DELETE /api/messages/{id}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if _, err := h.messages.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ToggleReaction はメッセージへのリアクションを付け外しする。
// POST /api/messages/{id}/reactions
func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req reactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	messageID := chi.URLParam(r, "id")
	result, err := h.reactions.Toggle(r.Context(), userID, messageID, req.Emoji)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleReactionResponse{
		MessageID: messageID,
		Emoji:     strings.TrimSpace(req.Emoji),
		Toggled:   string(result),
	})
}
