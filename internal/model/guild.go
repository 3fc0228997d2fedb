package model

import "time"

// Guild はチャンネルとメンバーをまとめるコミュニティを表す。
type Guild struct {
	ID        string
	Slug      string // URLで使う一意な識別子
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// GuildMember はギルドとユーザーの所属関係を表す。
// 行が存在すること自体が「ギルド内のチャンネルを閲覧・投稿できる」ことを意味する。
type GuildMember struct {
	GuildID  string
	UserID   string
	JoinedAt time.Time
}

// Permission はロールに付与される権限タグを表す。
type Permission string

const (
	// PermAdmin は全ての権限を包含する管理者権限。
	PermAdmin Permission = "admin"
	// PermPost はメッセージ投稿の権限。
	PermPost Permission = "post"
	// PermReact はリアクションの権限。
	PermReact Permission = "react"
	// PermManageChannels はチャンネル管理の権限。
	PermManageChannels Permission = "manage_channels"
	// PermManageRoles はロール管理の権限。
	PermManageRoles Permission = "manage_roles"
	// PermDeleteAny は他人のメッセージを削除できる権限。
	PermDeleteAny Permission = "delete_any"
)

// KnownPermissions は定義済みの権限タグ一覧。
var KnownPermissions = []Permission{
	PermAdmin, PermPost, PermReact, PermManageChannels, PermManageRoles, PermDeleteAny,
}

// IsKnownPermission はpが定義済みの権限タグかどうかを判定する。
func IsKnownPermission(p Permission) bool {
	for _, known := range KnownPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// Role はギルド単位で定義されるロールを表す。
type Role struct {
	ID          string
	GuildID     string
	Name        string
	Position    int // 表示順・優先度（大きいほど上位）
	Permissions []Permission
	CreatedAt   time.Time
}

// MemberFacts は認可判定に必要な、あるユーザーのギルド内での事実を表す。
// リポジトリ層が取得し、authzパッケージの判定関数に渡される。
type MemberFacts struct {
	GuildID     string
	UserID      string
	IsMember    bool
	Permissions []Permission // 割り当てロールが持つ権限タグの和集合
}

// ChannelType はチャンネルの種別を表す。
type ChannelType string

const (
	// ChannelTypeText は通常のテキストチャンネル。
	ChannelTypeText ChannelType = "text"
	// ChannelTypeAnnouncement はお知らせ用チャンネル。
	ChannelTypeAnnouncement ChannelType = "announcement"
)

// Channel はギルド内のチャンネルを表す。必ず1つのギルドに属する。
type Channel struct {
	ID        string
	GuildID   string
	Name      string
	Type      ChannelType
	Position  int
	CreatedAt time.Time
}
