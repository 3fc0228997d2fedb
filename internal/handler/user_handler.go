package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// GetProfile はユーザーと所属ギルドを返す。
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
	// UpdateDisplayName は表示名を更新する。空文字は未設定に戻す。
	UpdateDisplayName(ctx context.Context, userID, displayName string) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// updateProfileRequest は表示名更新リクエストのボディ。
type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
}

// GetMe は自分のプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UpdateMe は自分の表示名を更新する。
// PUT /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DisplayName == nil {
		handleServiceError(w, model.NewValidationError("display_name", "必須です"))
		return
	}

	u, err := h.service.UpdateDisplayName(r.Context(), userID, *req.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}
