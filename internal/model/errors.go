// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, permission, not_found, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeGuildNotFound    = "GUILD_NOT_FOUND"
	ErrCodeChannelNotFound  = "CHANNEL_NOT_FOUND"
	ErrCodeThreadNotFound   = "THREAD_NOT_FOUND"
	ErrCodeMessageNotFound  = "MESSAGE_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeCSRFInvalid      = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryPermission = "permission"
	CategoryNotFound   = "not_found"
	CategoryValidation = "validation"
	CategorySystem     = "system"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// reasonはログと画面表示の両方に使われるため、内部情報を含めないこと。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作は許可されていません: %s", reason),
		Category: CategoryPermission,
		Action:   "ギルドの管理者に権限を確認してください。",
	}
}

// NewGuildNotFoundError はギルド未検出エラーを生成する。
func NewGuildNotFoundError(ref string) *APIError {
	return newNotFound(ErrCodeGuildNotFound, "ギルド", ref)
}

// NewChannelNotFoundError はチャンネル未検出エラーを生成する。
func NewChannelNotFoundError(id string) *APIError {
	return newNotFound(ErrCodeChannelNotFound, "チャンネル", id)
}

// NewThreadNotFoundError はスレッド未検出エラーを生成する。
func NewThreadNotFoundError(id string) *APIError {
	return newNotFound(ErrCodeThreadNotFound, "スレッド", id)
}

// NewMessageNotFoundError はメッセージ未検出エラーを生成する。
// ソフト削除済みのメッセージもこのエラーで扱う。
func NewMessageNotFoundError(id string) *APIError {
	return newNotFound(ErrCodeMessageNotFound, "メッセージ", id)
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("%s が不正です: %s", field, reason),
		Category: CategoryValidation,
		Action:   "入力内容を修正して再度送信してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: CategoryPermission,
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

func newNotFound(code, kind, ref string) *APIError {
	return &APIError{
		Code:     code,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", kind, ref),
		Category: CategoryNotFound,
		Action:   fmt.Sprintf("%sが存在するか確認してください。", kind),
	}
}

// IsUnauthorized はerrが未認証エラーかどうかを判定する。
func IsUnauthorized(err error) bool {
	return hasCategory(err, CategoryAuth) && hasCode(err, ErrCodeUnauthorized)
}

// IsForbidden はerrが権限不足エラーかどうかを判定する。
func IsForbidden(err error) bool {
	return hasCategory(err, CategoryPermission)
}

// IsNotFound はerrが未検出エラーかどうかを判定する。
func IsNotFound(err error) bool {
	return hasCategory(err, CategoryNotFound)
}

// IsValidation はerrが入力検証エラーかどうかを判定する。
func IsValidation(err error) bool {
	return hasCategory(err, CategoryValidation)
}

func hasCategory(err error, category string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == category
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
