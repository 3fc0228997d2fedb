package model

import "time"

// ThreadState はスレッドの状態を表す。
type ThreadState string

const (
	// ThreadStateOpen は誰でも（メンバーなら）投稿できる状態。
	ThreadStateOpen ThreadState = "open"
	// ThreadStateLocked は管理者のみ投稿できる状態。
	ThreadStateLocked ThreadState = "locked"
)

// Thread はチャンネル内の議論単位を表す。削除はしない。
type Thread struct {
	ID          string
	ChannelID   string
	GuildID     string // チャンネル経由で解決したギルドID（非永続）
	Title       string
	CreatedByID string
	IsLocked    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// State はスレッドの現在の状態を返す。
func (t *Thread) State() ThreadState {
	if t.IsLocked {
		return ThreadStateLocked
	}
	return ThreadStateOpen
}
