package handler

import (
	"time"

	"github.com/hitoshi/guildfire/internal/guild"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/thread"
	"github.com/hitoshi/guildfire/internal/user"
)

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Name:        u.Name(),
		Email:       u.Email,
		CreatedAt:   u.CreatedAt,
	}
}

// profileResponse はGET /api/users/me のレスポンス。
type profileResponse struct {
	userResponse
	Guilds          []guildResponse `json:"guilds"`
	LinkedProviders []string        `json:"linked_providers"`
}

func toProfileResponse(p *user.Profile) profileResponse {
	guilds := make([]guildResponse, 0, len(p.Guilds))
	for _, g := range p.Guilds {
		guilds = append(guilds, toGuildResponse(g, true))
	}
	providers := p.Providers
	if providers == nil {
		providers = []string{}
	}
	return profileResponse{userResponse: toUserResponse(&p.User), Guilds: guilds, LinkedProviders: providers}
}

// guildResponse はギルド情報のAPIレスポンス。
type guildResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	IsMember  bool      `json:"is_member"`
	CreatedAt time.Time `json:"created_at"`
}

func toGuildResponse(g *model.Guild, isMember bool) guildResponse {
	return guildResponse{
		ID:        g.ID,
		Slug:      g.Slug,
		Name:      g.Name,
		IsMember:  isMember,
		CreatedAt: g.CreatedAt,
	}
}

func toGuildListResponse(summaries []guild.Summary) []guildResponse {
	out := make([]guildResponse, 0, len(summaries))
	for i := range summaries {
		out = append(out, toGuildResponse(&summaries[i].Guild, summaries[i].IsMember))
	}
	return out
}

// channelResponse はチャンネル情報のAPIレスポンス。
type channelResponse struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position int    `json:"position"`
}

func toChannelResponse(c *model.Channel) channelResponse {
	return channelResponse{
		ID:       c.ID,
		GuildID:  c.GuildID,
		Name:     c.Name,
		Type:     string(c.Type),
		Position: c.Position,
	}
}

// guildDetailResponse はギルド詳細のAPIレスポンス。
type guildDetailResponse struct {
	guildResponse
	Channels []channelResponse `json:"channels"`
}

func toGuildDetailResponse(d *guild.Detail) guildDetailResponse {
	channels := make([]channelResponse, 0, len(d.Channels))
	for _, c := range d.Channels {
		channels = append(channels, toChannelResponse(c))
	}
	return guildDetailResponse{
		guildResponse: toGuildResponse(&d.Guild, d.IsMember),
		Channels:      channels,
	}
}

// permissionsResponse はギルド内の実効権限のAPIレスポンス。
type permissionsResponse struct {
	GuildID     string   `json:"guild_id"`
	IsMember    bool     `json:"is_member"`
	Permissions []string `json:"permissions"`
}

func toPermissionsResponse(f *model.MemberFacts) permissionsResponse {
	perms := make([]string, 0, len(f.Permissions))
	for _, p := range f.Permissions {
		perms = append(perms, string(p))
	}
	return permissionsResponse{GuildID: f.GuildID, IsMember: f.IsMember, Permissions: perms}
}

// threadResponse はスレッド情報のAPIレスポンス。
type threadResponse struct {
	ID            string     `json:"id"`
	ChannelID     string     `json:"channel_id"`
	Title         string     `json:"title"`
	CreatedByID   string     `json:"created_by_id"`
	IsLocked      bool       `json:"is_locked"`
	State         string     `json:"state"`
	MessageCount  *int       `json:"message_count,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toThreadResponse(t *model.Thread) threadResponse {
	return threadResponse{
		ID:          t.ID,
		ChannelID:   t.ChannelID,
		Title:       t.Title,
		CreatedByID: t.CreatedByID,
		IsLocked:    t.IsLocked,
		State:       string(t.State()),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// channelThreadsResponse はチャンネル内スレッド一覧のAPIレスポンス。
type channelThreadsResponse struct {
	Channel channelResponse  `json:"channel"`
	Threads []threadResponse `json:"threads"`
}

func toChannelThreadsResponse(c *model.Channel, summaries []thread.Summary) channelThreadsResponse {
	threads := make([]threadResponse, 0, len(summaries))
	for i := range summaries {
		s := summaries[i]
		resp := toThreadResponse(&s.Thread)
		count := s.MessageCount
		resp.MessageCount = &count
		resp.LastMessageAt = s.LastMessageAt
		threads = append(threads, resp)
	}
	return channelThreadsResponse{Channel: toChannelResponse(c), Threads: threads}
}

// reactionResponse はリアクション集計のAPIレスポンス。
type reactionResponse struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"`
}

// messageResponse はメッセージ情報のAPIレスポンス。
// 削除済みメッセージはcontentとcontent_htmlが空になる。
type messageResponse struct {
	ID          string             `json:"id"`
	ThreadID    string             `json:"thread_id"`
	AuthorID    string             `json:"author_id"`
	AuthorName  string             `json:"author_name,omitempty"`
	Content     string             `json:"content"`
	ContentHTML string             `json:"content_html,omitempty"`
	State       string             `json:"state"`
	Deleted     bool               `json:"deleted"`
	CreatedAt   time.Time          `json:"created_at"`
	EditedAt    *time.Time         `json:"edited_at,omitempty"`
	Reactions   []reactionResponse `json:"reactions"`
}

func toMessageResponse(m *model.Message) messageResponse {
	resp := messageResponse{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		State:     string(m.State()),
		Deleted:   m.IsDeleted(),
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		Reactions: []reactionResponse{},
	}
	if resp.Deleted {
		resp.Content = ""
	}
	return resp
}

func toMessageViewResponse(v *thread.MessageView) messageResponse {
	reactions := make([]reactionResponse, 0, len(v.Reactions))
	for _, rc := range v.Reactions {
		reactions = append(reactions, reactionResponse{Emoji: rc.Emoji, Count: rc.Count, Reacted: rc.Reacted})
	}
	return messageResponse{
		ID:          v.ID,
		ThreadID:    v.ThreadID,
		AuthorID:    v.AuthorID,
		AuthorName:  v.AuthorName,
		Content:     v.Content,
		ContentHTML: v.ContentHTML,
		State:       string(v.State),
		Deleted:     v.Deleted,
		CreatedAt:   v.CreatedAt,
		EditedAt:    v.EditedAt,
		Reactions:   reactions,
	}
}

// threadViewResponse はスレッド閲覧のAPIレスポンス。
type threadViewResponse struct {
	Thread     threadResponse    `json:"thread"`
	Messages   []messageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func toThreadViewResponse(v *thread.View) threadViewResponse {
	messages := make([]messageResponse, 0, len(v.Messages))
	for i := range v.Messages {
		messages = append(messages, toMessageViewResponse(&v.Messages[i]))
	}
	return threadViewResponse{
		Thread:     toThreadResponse(&v.Thread),
		Messages:   messages,
		NextCursor: v.NextCursor,
	}
}

// toggleReactionResponse はリアクショントグルのAPIレスポンス。
type toggleReactionResponse struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Toggled   string `json:"toggled"`
}
