// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/guildfire/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// ListByIDs は指定IDのユーザーをIDをキーとしたマップで返す。存在しないIDは含まれない。
	ListByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)

	// CreateWithIdentity はユーザーとidentityを作成する。
	// 呼び出し側のトランザクション内で実行すること。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateDisplayName は表示名を更新する。空文字は未設定（NULL）として保存する。
	UpdateDisplayName(ctx context.Context, id, displayName string, updatedAt time.Time) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListProvidersByUserID はユーザーに紐付いたプロバイダー名を名前順で返す。
	ListProvidersByUserID(ctx context.Context, userID string) ([]string, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// GuildRepository はギルドデータの永続化インターフェース。
type GuildRepository interface {
	// FindByID は指定IDのギルドを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Guild, error)

	// FindBySlug はスラッグでギルドを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Guild, error)

	// List は全ギルドを名前順で返す。
	List(ctx context.Context) ([]*model.Guild, error)

	// ListByMember は指定ユーザーが所属するギルドを名前順で返す。
	ListByMember(ctx context.Context, userID string) ([]*model.Guild, error)
}

// ChannelRepository はチャンネルデータの永続化インターフェース。
type ChannelRepository interface {
	// FindByID は指定IDのチャンネルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Channel, error)

	// ListByGuild はギルドのチャンネルをposition, name順で返す。
	ListByGuild(ctx context.Context, guildID string) ([]*model.Channel, error)
}

// MembershipRepository はギルド所属とロール割り当ての永続化インターフェース。
type MembershipRepository interface {
	// FindFacts は認可判定用のメンバー情報を返す。非メンバーの場合もIsMember=falseで非nilを返す。
	// lockを指定すると所属行とロール割り当て行をロックし、判定から書き込みまで所属が変わらないことを保証する。
	FindFacts(ctx context.Context, guildID, userID string, lock LockMode) (*model.MemberFacts, error)

	// AddMember はユーザーをギルドに追加する。すでに所属している場合はfalseを返す。
	AddMember(ctx context.Context, guildID, userID string, joinedAt time.Time) (bool, error)

	// AssignRoleByName はギルド内の名前でロールを探し、メンバーに割り当てる。
	// ロールが存在しないか、すでに割り当て済みの場合はfalseを返す。
	AssignRoleByName(ctx context.Context, guildID, userID, roleName string) (bool, error)
}

// ThreadRepository はスレッドデータの永続化インターフェース。
type ThreadRepository interface {
	// FindByID は指定IDのスレッドを所属ギルドIDとともに取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string, lock LockMode) (*model.Thread, error)

	// Create はスレッドを作成する。
	Create(ctx context.Context, thread *model.Thread) error

	// SetLocked はロック状態を更新する。
	SetLocked(ctx context.Context, id string, locked bool, updatedAt time.Time) error

	// ListByChannel はチャンネルのスレッドを最終活動日時の降順で返す。
	ListByChannel(ctx context.Context, channelID string) ([]ThreadWithStats, error)
}

// MessageRepository はメッセージデータの永続化インターフェース。
type MessageRepository interface {
	// FindByID は指定IDのメッセージを取得する。論理削除済みも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string, lock LockMode) (*model.Message, error)

	// Create はメッセージを作成する。
	Create(ctx context.Context, message *model.Message) error

	// UpdateContent は本文とedited_atを更新する。
	UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error

	// SoftDelete はメッセージを論理削除する。
	SoftDelete(ctx context.Context, id, deletedByID string, deletedAt time.Time) error

	// ListByThread はスレッドのメッセージを(created_at, id)昇順で返す。
	// cursorがnilの場合は先頭から取得する。
	ListByThread(ctx context.Context, threadID string, cursor *MessageCursor, limit int) ([]*model.Message, error)
}

// ReactionRepository はリアクションデータの永続化インターフェース。
type ReactionRepository interface {
	// Insert はリアクションを追加する。同じ (message, user, emoji) がすでにある場合はfalseを返す。
	Insert(ctx context.Context, reaction *model.MessageReaction) (bool, error)

	// Delete はリアクションを削除する。存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, messageID, userID, emoji string) (bool, error)

	// CountsByMessages はメッセージごとの絵文字別件数を返す。
	// viewerIDが空でなければ、そのユーザー自身のリアクション有無も設定する。
	CountsByMessages(ctx context.Context, messageIDs []string, viewerID string) (map[string][]model.ReactionCount, error)
}

// ThreadWithStats はスレッドとメッセージ件数、最終投稿日時を結合した構造体。
type ThreadWithStats struct {
	model.Thread
	MessageCount  int
	LastMessageAt *time.Time
}

// MessageCursor はメッセージ一覧のページ位置を表す。直前ページ最後のメッセージを指す。
type MessageCursor struct {
	CreatedAt time.Time
	ID        string
}
