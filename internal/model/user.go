// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 外部IdPでの初回ログイン時に作成され、削除はしない。
type User struct {
	ID          string
	Username    string // 一意
	DisplayName string // 空文字は未設定
	Email       string // 空文字は未設定。設定時は一意
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Name は表示用の名前を返す。DisplayNameが未設定の場合はUsernameを返す。
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
