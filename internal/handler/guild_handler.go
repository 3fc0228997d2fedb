package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/guildfire/internal/guild"
	"github.com/hitoshi/guildfire/internal/model"
)

// GuildServiceInterface はギルドハンドラーが必要とするサービスインターフェース。
type GuildServiceInterface interface {
	ListGuilds(ctx context.Context, viewerID string) ([]guild.Summary, error)
	GetGuild(ctx context.Context, viewerID, slug string) (*guild.Detail, error)
	// Join はギルドに参加する。既に参加済みの場合はfalseを返す。
	Join(ctx context.Context, actorID, slug string) (bool, error)
	Permissions(ctx context.Context, actorID, slug string) (*model.MemberFacts, error)
}

// GuildHandler はギルド閲覧・参加のHTTPハンドラー。
type GuildHandler struct {
	service GuildServiceInterface
}

// NewGuildHandler はGuildHandlerを生成する。
func NewGuildHandler(service GuildServiceInterface) *GuildHandler {
	return &GuildHandler{service: service}
}

// ListGuilds はギルド一覧を返す。
// GET /api/guilds
func (h *GuildHandler) ListGuilds(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summaries, err := h.service.ListGuilds(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toGuildListResponse(summaries))
}

// GetGuild はギルド詳細とチャンネル一覧を返す。
// GET /api/guilds/{slug}
func (h *GuildHandler) GetGuild(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetGuild(r.Context(), userID, chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toGuildDetailResponse(detail))
}

// Join はギルドに参加する。新規参加なら201、参加済みなら200を返す。
// POST /api/guilds/{slug}/join
func (h *GuildHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	joined, err := h.service.Join(r.Context(), userID, chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if joined {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"joined": joined})
}

// Permissions は自分のギルド内での実効権限を返す。
// GET /api/guilds/{slug}/permissions
func (h *GuildHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	facts, err := h.service.Permissions(r.Context(), userID, chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPermissionsResponse(facts))
}
