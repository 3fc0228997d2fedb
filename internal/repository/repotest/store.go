// Package repotest はサービス層のテスト用に、repository.Storeのインメモリ実装を提供する。
// WithinTxは全体をミューテックスで直列化し、fnがエラーを返した場合は状態を巻き戻す。
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
)

type memberKey struct {
	guildID string
	userID  string
}

type reactionKey struct {
	messageID string
	userID    string
	emoji     string
}

type state struct {
	users       map[string]model.User
	identities  map[string]model.Identity // provider + "\x00" + provider_user_id
	guilds      map[string]model.Guild
	channels    map[string]model.Channel
	roles       map[string]model.Role
	members     map[memberKey]time.Time
	memberRoles map[memberKey]map[string]bool
	threads     map[string]model.Thread
	messages    map[string]model.Message
	reactions   map[reactionKey]time.Time
}

func newState() *state {
	return &state{
		users:       map[string]model.User{},
		identities:  map[string]model.Identity{},
		guilds:      map[string]model.Guild{},
		channels:    map[string]model.Channel{},
		roles:       map[string]model.Role{},
		members:     map[memberKey]time.Time{},
		memberRoles: map[memberKey]map[string]bool{},
		threads:     map[string]model.Thread{},
		messages:    map[string]model.Message{},
		reactions:   map[reactionKey]time.Time{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.guilds {
		c.guilds[k] = v
	}
	for k, v := range s.channels {
		c.channels[k] = v
	}
	for k, v := range s.roles {
		v.Permissions = append([]model.Permission(nil), v.Permissions...)
		c.roles[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.memberRoles {
		roles := make(map[string]bool, len(v))
		for id := range v {
			roles[id] = true
		}
		c.memberRoles[k] = roles
	}
	for k, v := range s.threads {
		c.threads[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = copyMessage(v)
	}
	for k, v := range s.reactions {
		c.reactions[k] = v
	}
	return c
}

func copyMessage(m model.Message) model.Message {
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		m.DeletedAt = &t
	}
	if m.DeletedByID != nil {
		s := *m.DeletedByID
		m.DeletedByID = &s
	}
	return m
}

// Store はインメモリのrepository.Store実装。
type Store struct {
	mu    sync.Mutex
	st    *state
	clock time.Time

	// TxCount はWithinTxが呼ばれた回数。
	TxCount int
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		st:    newState(),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// WithinTx はfnを直列に実行し、エラー時は実行前の状態に戻す。
func (s *Store) WithinTx(ctx context.Context, fn func(r *repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TxCount++

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	if err := fn(s.repositories(s.st)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) repositories(st *state) *repository.Repositories {
	return &repository.Repositories{
		Users:      &userRepo{st: st},
		Identities: &identityRepo{st: st},
		Sessions:   noSessions{},
		Guilds:     &guildRepo{st: st},
		Channels:   &channelRepo{st: st},
		Members:    &memberRepo{st: st},
		Threads:    &threadRepo{st: st},
		Messages:   &messageRepo{st: st},
		Reactions:  &reactionRepo{st: st},
	}
}

// now はフィクスチャ用の単調増加する時刻を返す。呼ぶたびに1秒進む。
func (s *Store) now() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// ============================================================
// フィクスチャ
// ============================================================

// AddUser はユーザーを追加する。
func (s *Store) AddUser(username string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u := model.User{ID: uuid.NewString(), Username: username, CreatedAt: now, UpdatedAt: now}
	s.st.users[u.ID] = u
	return &u
}

// AddIdentity はユーザーにプロバイダーのアカウントを紐付ける。
func (s *Store) AddIdentity(userID, provider, providerUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.identities[provider+"\x00"+providerUserID] = model.Identity{
		ID: uuid.NewString(), UserID: userID, Provider: provider, ProviderUserID: providerUserID, CreatedAt: s.now(),
	}
}

// AddGuild はギルドを追加する。
func (s *Store) AddGuild(slug, name string) *model.Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := model.Guild{ID: uuid.NewString(), Slug: slug, Name: name, CreatedAt: s.now()}
	s.st.guilds[g.ID] = g
	return &g
}

// AddRole はギルドにロールを追加する。
func (s *Store) AddRole(guildID, name string, position int, perms ...model.Permission) *model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := model.Role{ID: uuid.NewString(), GuildID: guildID, Name: name, Position: position, Permissions: perms, CreatedAt: s.now()}
	s.st.roles[r.ID] = r
	return &r
}

// AddMember はユーザーをギルドに所属させ、名前で指定したロールを割り当てる。
func (s *Store) AddMember(guildID, userID string, roleNames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{guildID, userID}
	s.st.members[key] = s.now()
	for _, name := range roleNames {
		for _, r := range s.st.roles {
			if r.GuildID == guildID && r.Name == name {
				if s.st.memberRoles[key] == nil {
					s.st.memberRoles[key] = map[string]bool{}
				}
				s.st.memberRoles[key][r.ID] = true
			}
		}
	}
}

// RemoveMember はユーザーのギルド所属とロール割り当てを削除する。
func (s *Store) RemoveMember(guildID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{guildID, userID}
	delete(s.st.members, key)
	delete(s.st.memberRoles, key)
}

// AddChannel はギルドにチャンネルを追加する。
func (s *Store) AddChannel(guildID, name string, position int) *model.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := model.Channel{ID: uuid.NewString(), GuildID: guildID, Name: name, Type: model.ChannelTypeText, Position: position, CreatedAt: s.now()}
	s.st.channels[ch.ID] = ch
	return &ch
}

// AddThread はチャンネルにスレッドを追加する。
func (s *Store) AddThread(channelID, createdByID, title string, locked bool) *model.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t := model.Thread{
		ID: uuid.NewString(), ChannelID: channelID, GuildID: s.st.channels[channelID].GuildID,
		Title: title, CreatedByID: createdByID, IsLocked: locked, CreatedAt: now, UpdatedAt: now,
	}
	s.st.threads[t.ID] = t
	return &t
}

// AddMessage はスレッドにメッセージを追加する。
func (s *Store) AddMessage(threadID, authorID, content string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := model.Message{ID: uuid.NewString(), ThreadID: threadID, AuthorID: authorID, Content: content, CreatedAt: s.now()}
	s.st.messages[m.ID] = m
	return &m
}

// Thread は現在のスレッドの状態を返す。存在しない場合はnilを返す。
func (s *Store) Thread(id string) *model.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.threads[id]
	if !ok {
		return nil
	}
	return &t
}

// Message は現在のメッセージの状態を返す。存在しない場合はnilを返す。
func (s *Store) Message(id string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.messages[id]
	if !ok {
		return nil
	}
	c := copyMessage(m)
	return &c
}

// User は現在のユーザーの状態を返す。存在しない場合はnilを返す。
func (s *Store) User(id string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil
	}
	return &u
}

// IsMember はユーザーがギルドに所属しているかを返す。
func (s *Store) IsMember(guildID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.members[memberKey{guildID, userID}]
	return ok
}

// ReactionCount は (message, emoji) のリアクション行数を返す。
func (s *Store) ReactionCount(messageID, emoji string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.st.reactions {
		if k.messageID == messageID && k.emoji == emoji {
			n++
		}
	}
	return n
}

// ThreadCount はチャンネル内のスレッド数を返す。
func (s *Store) ThreadCount(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.st.threads {
		if t.ChannelID == channelID {
			n++
		}
	}
	return n
}

// MessageCount はスレッド内のメッセージ数（論理削除済みを含む）を返す。
func (s *Store) MessageCount(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.st.messages {
		if m.ThreadID == threadID {
			n++
		}
	}
	return n
}

// ============================================================
// リポジトリ実装
// ============================================================

type userRepo struct{ st *state }

func (r *userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *userRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range r.st.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *userRepo) ListByIDs(_ context.Context, ids []string) (map[string]*model.User, error) {
	users := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := r.st.users[id]; ok {
			users[id] = &u
		}
	}
	return users, nil
}

func (r *userRepo) CreateWithIdentity(_ context.Context, user *model.User, identity *model.Identity) error {
	for _, u := range r.st.users {
		if u.Username == user.Username {
			return fmt.Errorf("duplicate username: %s", user.Username)
		}
	}
	r.st.users[user.ID] = *user
	r.st.identities[identity.Provider+"\x00"+identity.ProviderUserID] = *identity
	return nil
}

func (r *userRepo) UpdateDisplayName(_ context.Context, id, displayName string, updatedAt time.Time) error {
	u, ok := r.st.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	u.DisplayName = displayName
	u.UpdatedAt = updatedAt
	r.st.users[id] = u
	return nil
}

type identityRepo struct{ st *state }

func (r *identityRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	i, ok := r.st.identities[provider+"\x00"+providerUserID]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (r *identityRepo) ListProvidersByUserID(_ context.Context, userID string) ([]string, error) {
	seen := map[string]bool{}
	providers := []string{}
	for _, i := range r.st.identities {
		if i.UserID == userID && !seen[i.Provider] {
			seen[i.Provider] = true
			providers = append(providers, i.Provider)
		}
	}
	sort.Strings(providers)
	return providers, nil
}

// noSessions はセッションを保持しない。セッションはミドルウェア側のモックで扱う。
type noSessions struct{}

func (noSessions) Create(context.Context, *model.Session) error             { return nil }
func (noSessions) FindByID(context.Context, string) (*model.Session, error) { return nil, nil }
func (noSessions) DeleteByID(context.Context, string) error                 { return nil }
func (noSessions) DeleteByUserID(context.Context, string) error             { return nil }
func (noSessions) DeleteExpired(context.Context) (int64, error)             { return 0, nil }

type guildRepo struct{ st *state }

func (r *guildRepo) FindByID(_ context.Context, id string) (*model.Guild, error) {
	g, ok := r.st.guilds[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (r *guildRepo) FindBySlug(_ context.Context, slug string) (*model.Guild, error) {
	for _, g := range r.st.guilds {
		if g.Slug == slug {
			return &g, nil
		}
	}
	return nil, nil
}

func (r *guildRepo) List(_ context.Context) ([]*model.Guild, error) {
	return r.sorted(func(model.Guild) bool { return true }), nil
}

func (r *guildRepo) ListByMember(_ context.Context, userID string) ([]*model.Guild, error) {
	return r.sorted(func(g model.Guild) bool {
		_, ok := r.st.members[memberKey{g.ID, userID}]
		return ok
	}), nil
}

func (r *guildRepo) sorted(keep func(model.Guild) bool) []*model.Guild {
	guilds := []*model.Guild{}
	for _, g := range r.st.guilds {
		if keep(g) {
			g := g
			guilds = append(guilds, &g)
		}
	}
	sort.Slice(guilds, func(i, j int) bool {
		if guilds[i].Name != guilds[j].Name {
			return guilds[i].Name < guilds[j].Name
		}
		return guilds[i].ID < guilds[j].ID
	})
	return guilds
}

type channelRepo struct{ st *state }

func (r *channelRepo) FindByID(_ context.Context, id string) (*model.Channel, error) {
	ch, ok := r.st.channels[id]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (r *channelRepo) ListByGuild(_ context.Context, guildID string) ([]*model.Channel, error) {
	channels := []*model.Channel{}
	for _, ch := range r.st.channels {
		if ch.GuildID == guildID {
			ch := ch
			channels = append(channels, &ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].Position != channels[j].Position {
			return channels[i].Position < channels[j].Position
		}
		return channels[i].Name < channels[j].Name
	})
	return channels, nil
}

type memberRepo struct{ st *state }

func (r *memberRepo) FindFacts(_ context.Context, guildID, userID string, _ repository.LockMode) (*model.MemberFacts, error) {
	facts := &model.MemberFacts{GuildID: guildID, UserID: userID}
	key := memberKey{guildID, userID}
	if _, ok := r.st.members[key]; !ok {
		return facts, nil
	}
	facts.IsMember = true

	seen := map[model.Permission]bool{}
	for roleID := range r.st.memberRoles[key] {
		for _, p := range r.st.roles[roleID].Permissions {
			seen[p] = true
		}
	}
	for p := range seen {
		facts.Permissions = append(facts.Permissions, p)
	}
	sort.Slice(facts.Permissions, func(i, j int) bool { return facts.Permissions[i] < facts.Permissions[j] })
	return facts, nil
}

func (r *memberRepo) AddMember(_ context.Context, guildID, userID string, joinedAt time.Time) (bool, error) {
	key := memberKey{guildID, userID}
	if _, ok := r.st.members[key]; ok {
		return false, nil
	}
	r.st.members[key] = joinedAt
	return true, nil
}

func (r *memberRepo) AssignRoleByName(_ context.Context, guildID, userID, roleName string) (bool, error) {
	key := memberKey{guildID, userID}
	if _, ok := r.st.members[key]; !ok {
		return false, fmt.Errorf("user %s is not a member of guild %s", userID, guildID)
	}
	for _, role := range r.st.roles {
		if role.GuildID != guildID || role.Name != roleName {
			continue
		}
		if r.st.memberRoles[key][role.ID] {
			return false, nil
		}
		if r.st.memberRoles[key] == nil {
			r.st.memberRoles[key] = map[string]bool{}
		}
		r.st.memberRoles[key][role.ID] = true
		return true, nil
	}
	return false, nil
}

type threadRepo struct{ st *state }

func (r *threadRepo) FindByID(_ context.Context, id string, _ repository.LockMode) (*model.Thread, error) {
	t, ok := r.st.threads[id]
	if !ok {
		return nil, nil
	}
	t.GuildID = r.st.channels[t.ChannelID].GuildID
	return &t, nil
}

func (r *threadRepo) Create(_ context.Context, t *model.Thread) error {
	if _, ok := r.st.channels[t.ChannelID]; !ok {
		return fmt.Errorf("channel not found: %s", t.ChannelID)
	}
	stored := *t
	stored.GuildID = ""
	r.st.threads[t.ID] = stored
	return nil
}

func (r *threadRepo) SetLocked(_ context.Context, id string, locked bool, updatedAt time.Time) error {
	t, ok := r.st.threads[id]
	if !ok {
		return fmt.Errorf("thread not found: %s", id)
	}
	t.IsLocked = locked
	t.UpdatedAt = updatedAt
	r.st.threads[id] = t
	return nil
}

func (r *threadRepo) ListByChannel(_ context.Context, channelID string) ([]repository.ThreadWithStats, error) {
	threads := []repository.ThreadWithStats{}
	for _, t := range r.st.threads {
		if t.ChannelID != channelID {
			continue
		}
		t.GuildID = r.st.channels[t.ChannelID].GuildID
		tw := repository.ThreadWithStats{Thread: t}
		for _, m := range r.st.messages {
			if m.ThreadID != t.ID || m.IsDeleted() {
				continue
			}
			tw.MessageCount++
			if tw.LastMessageAt == nil || m.CreatedAt.After(*tw.LastMessageAt) {
				at := m.CreatedAt
				tw.LastMessageAt = &at
			}
		}
		threads = append(threads, tw)
	}
	activity := func(tw repository.ThreadWithStats) time.Time {
		if tw.LastMessageAt != nil {
			return *tw.LastMessageAt
		}
		return tw.CreatedAt
	}
	sort.Slice(threads, func(i, j int) bool {
		ai, aj := activity(threads[i]), activity(threads[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return threads[i].ID > threads[j].ID
	})
	return threads, nil
}

type messageRepo struct{ st *state }

func (r *messageRepo) FindByID(_ context.Context, id string, _ repository.LockMode) (*model.Message, error) {
	m, ok := r.st.messages[id]
	if !ok {
		return nil, nil
	}
	c := copyMessage(m)
	return &c, nil
}

func (r *messageRepo) Create(_ context.Context, m *model.Message) error {
	if _, ok := r.st.threads[m.ThreadID]; !ok {
		return fmt.Errorf("thread not found: %s", m.ThreadID)
	}
	r.st.messages[m.ID] = copyMessage(*m)
	return nil
}

func (r *messageRepo) UpdateContent(_ context.Context, id, content string, editedAt time.Time) error {
	m, ok := r.st.messages[id]
	if !ok || m.IsDeleted() {
		return fmt.Errorf("message not found: %s", id)
	}
	m.Content = content
	m.EditedAt = &editedAt
	r.st.messages[id] = m
	return nil
}

func (r *messageRepo) SoftDelete(_ context.Context, id, deletedByID string, deletedAt time.Time) error {
	m, ok := r.st.messages[id]
	if !ok || m.IsDeleted() {
		return fmt.Errorf("message not found: %s", id)
	}
	m.DeletedAt = &deletedAt
	m.DeletedByID = &deletedByID
	r.st.messages[id] = m
	return nil
}

func (r *messageRepo) ListByThread(_ context.Context, threadID string, cursor *repository.MessageCursor, limit int) ([]*model.Message, error) {
	messages := []*model.Message{}
	for _, m := range r.st.messages {
		if m.ThreadID != threadID {
			continue
		}
		if cursor != nil && !after(m, cursor) {
			continue
		}
		c := copyMessage(m)
		messages = append(messages, &c)
	}
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func after(m model.Message, c *repository.MessageCursor) bool {
	if !m.CreatedAt.Equal(c.CreatedAt) {
		return m.CreatedAt.After(c.CreatedAt)
	}
	return m.ID > c.ID
}

type reactionRepo struct{ st *state }

func (r *reactionRepo) Insert(_ context.Context, reaction *model.MessageReaction) (bool, error) {
	if _, ok := r.st.messages[reaction.MessageID]; !ok {
		return false, fmt.Errorf("message not found: %s", reaction.MessageID)
	}
	key := reactionKey{reaction.MessageID, reaction.UserID, reaction.Emoji}
	if _, ok := r.st.reactions[key]; ok {
		return false, nil
	}
	r.st.reactions[key] = reaction.CreatedAt
	return true, nil
}

func (r *reactionRepo) Delete(_ context.Context, messageID, userID, emoji string) (bool, error) {
	key := reactionKey{messageID, userID, emoji}
	if _, ok := r.st.reactions[key]; !ok {
		return false, nil
	}
	delete(r.st.reactions, key)
	return true, nil
}

func (r *reactionRepo) CountsByMessages(_ context.Context, messageIDs []string, viewerID string) (map[string][]model.ReactionCount, error) {
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}

	type agg struct {
		count   int
		reacted bool
		first   time.Time
	}
	byMessage := map[string]map[string]*agg{}
	for k, at := range r.st.reactions {
		if !wanted[k.messageID] {
			continue
		}
		if byMessage[k.messageID] == nil {
			byMessage[k.messageID] = map[string]*agg{}
		}
		a := byMessage[k.messageID][k.emoji]
		if a == nil {
			a = &agg{first: at}
			byMessage[k.messageID][k.emoji] = a
		}
		a.count++
		if at.Before(a.first) {
			a.first = at
		}
		if viewerID != "" && k.userID == viewerID {
			a.reacted = true
		}
	}

	counts := make(map[string][]model.ReactionCount, len(byMessage))
	for messageID, emojis := range byMessage {
		list := make([]model.ReactionCount, 0, len(emojis))
		for emoji, a := range emojis {
			list = append(list, model.ReactionCount{Emoji: emoji, Count: a.count, Reacted: a.reacted})
		}
		sort.Slice(list, func(i, j int) bool {
			ai, aj := emojis[list[i].Emoji].first, emojis[list[j].Emoji].first
			if !ai.Equal(aj) {
				return ai.Before(aj)
			}
			return list[i].Emoji < list[j].Emoji
		})
		counts[messageID] = list
	}
	return counts, nil
}

// compile-time interface check
var _ repository.Store = (*Store)(nil)
