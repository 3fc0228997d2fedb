package model

import "time"

// MessageState はメッセージの状態を表す。
type MessageState string

const (
	MessageStateActive  MessageState = "active"
	MessageStateEdited  MessageState = "edited"
	MessageStateDeleted MessageState = "deleted"
)

// Message はスレッド内のメッセージを表す。
// 削除は論理削除で、行と本文は保持したまま表示層で隠す。
type Message struct {
	ID          string
	ThreadID    string
	AuthorID    string
	Content     string
	CreatedAt   time.Time
	EditedAt    *time.Time
	DeletedAt   *time.Time
	DeletedByID *string
}

// IsDeleted はメッセージが論理削除済みかどうかを返す。
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// IsEdited はメッセージが編集済みかどうかを返す。
func (m *Message) IsEdited() bool {
	return m.EditedAt != nil
}

// State はメッセージの現在の状態を返す。削除は編集より優先される。
func (m *Message) State() MessageState {
	switch {
	case m.IsDeleted():
		return MessageStateDeleted
	case m.IsEdited():
		return MessageStateEdited
	default:
		return MessageStateActive
	}
}

// MessageReaction は (message, user, emoji) の組を表す。
// 行の存在が「リアクション済み」を意味し、件数はグループ化で算出する。
type MessageReaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// ReactionCount はメッセージ上の同一絵文字の集計を表す。
type ReactionCount struct {
	Emoji   string
	Count   int
	Reacted bool // 閲覧ユーザー自身がリアクション済みかどうか
}

// ToggleResult はリアクショントグルの結果を表す。
type ToggleResult string

const (
	ToggleAdded   ToggleResult = "added"
	ToggleRemoved ToggleResult = "removed"
)
