package thread

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/guildfire/internal/metrics"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
	"github.com/hitoshi/guildfire/internal/repository/repotest"
)

// --- テスト用フィクスチャ ---

type recorder struct {
	metrics.Nop
	created     int
	lockChanges []bool
	denied      []string
}

func (r *recorder) RecordThreadCreated() { r.created++ }
func (r *recorder) RecordThreadLockChanged(locked bool) {
	r.lockChanges = append(r.lockChanges, locked)
}
func (r *recorder) RecordDenied(op string) { r.denied = append(r.denied, op) }

type fixture struct {
	store    *repotest.Store
	rec      *recorder
	svc      *Service
	guild    *model.Guild
	channel  *model.Channel
	admin    *model.User
	member   *model.User
	outsider *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.NewStore()
	guild := store.AddGuild("gaming-hub", "Gaming Hub")
	store.AddRole(guild.ID, "Admin", 0, model.PermAdmin, model.PermDeleteAny)
	store.AddRole(guild.ID, "Member", 1, model.PermPost, model.PermReact)
	channel := store.AddChannel(guild.ID, "general", 0)

	admin := store.AddUser("admin")
	member := store.AddUser("alex")
	outsider := store.AddUser("stranger")
	store.AddMember(guild.ID, admin.ID, "Admin")
	store.AddMember(guild.ID, member.ID, "Member")

	rec := &recorder{}
	return &fixture{
		store:    store,
		rec:      rec,
		svc:      NewService(store, rec, nil),
		guild:    guild,
		channel:  channel,
		admin:    admin,
		member:   member,
		outsider: outsider,
	}
}

// --- CreateThread ---

func TestCreateThread_MemberCreatesOpenThread(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	got, err := f.svc.CreateThread(context.Background(), f.member.ID, f.channel.ID, "  Welcome  ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := &model.Thread{
		ID:          got.ID,
		ChannelID:   f.channel.ID,
		GuildID:     f.guild.ID,
		Title:       "Welcome",
		CreatedByID: f.member.ID,
		IsLocked:    false,
		CreatedAt:   fixed,
		UpdatedAt:   fixed,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}
	if f.store.Thread(got.ID) == nil {
		t.Error("thread should be persisted")
	}
	if f.rec.created != 1 {
		t.Errorf("threads created metric = %d, want 1", f.rec.created)
	}
}

func TestCreateThread_Unauthenticated(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateThread(context.Background(), "", f.channel.ID, "Welcome")
	if !model.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if f.store.TxCount != 0 {
		t.Error("no transaction should be opened for anonymous actors")
	}
}

func TestCreateThread_TitleValidation(t *testing.T) {
	tests := []struct {
		name  string
		title string
		ok    bool
	}{
		{"single char", "a", false},
		{"single char padded", "   a   ", false},
		{"whitespace only", "    ", false},
		{"two chars", "ab", true},
		{"120 chars", strings.Repeat("x", 120), true},
		{"121 chars", strings.Repeat("x", 121), false},
		{"multibyte counts runes", strings.Repeat("あ", 120), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateThread(context.Background(), f.member.ID, f.channel.ID, tt.title)
			if tt.ok && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !tt.ok {
				if !model.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if n := f.store.ThreadCount(f.channel.ID); n != 0 {
					t.Errorf("thread count = %d, want 0", n)
				}
			}
		})
	}
}

func TestCreateThread_ChannelNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateThread(context.Background(), f.member.ID, "00000000-0000-0000-0000-000000000000", "Welcome")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateThread_NonMemberForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateThread(context.Background(), f.outsider.ID, f.channel.ID, "Welcome")
	if !model.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if n := f.store.ThreadCount(f.channel.ID); n != 0 {
		t.Errorf("thread count = %d, want 0", n)
	}
	if diff := cmp.Diff([]string{"create_thread"}, f.rec.denied); diff != "" {
		t.Errorf("denied metrics mismatch (-want +got):\n%s", diff)
	}
}

// --- SetLocked ---

func TestSetLocked_AdminLocksAndUnlocks(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.member.ID, "Welcome", false)

	got, err := f.svc.SetLocked(context.Background(), f.admin.ID, th.ID, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !got.IsLocked || got.State() != model.ThreadStateLocked {
		t.Errorf("returned thread should be locked, got %+v", got)
	}
	if !f.store.Thread(th.ID).IsLocked {
		t.Error("stored thread should be locked")
	}

	if _, err := f.svc.SetLocked(context.Background(), f.admin.ID, th.ID, false); err != nil {
		t.Fatalf("unlock: expected no error, got %v", err)
	}
	if f.store.Thread(th.ID).IsLocked {
		t.Error("stored thread should be unlocked")
	}
	if diff := cmp.Diff([]bool{true, false}, f.rec.lockChanges); diff != "" {
		t.Errorf("lock change metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestSetLocked_AlreadyLockedIsNoop(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.member.ID, "Welcome", true)
	before := f.store.Thread(th.ID)

	got, err := f.svc.SetLocked(context.Background(), f.admin.ID, th.ID, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !got.IsLocked {
		t.Error("thread should remain locked")
	}
	if !f.store.Thread(th.ID).UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("updated_at should not change for a no-op transition")
	}
	if len(f.rec.lockChanges) != 0 {
		t.Errorf("no lock change should be recorded, got %v", f.rec.lockChanges)
	}
}

func TestSetLocked_NonAdminForbidden(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.member.ID, "Welcome", false)

	for _, actor := range []string{f.member.ID, f.outsider.ID} {
		_, err := f.svc.SetLocked(context.Background(), actor, th.ID, true)
		if !model.IsForbidden(err) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	}
	if f.store.Thread(th.ID).IsLocked {
		t.Error("thread should stay open")
	}
}

func TestSetLocked_ThreadNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetLocked(context.Background(), f.admin.ID, "missing", true)
	if !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetLocked_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.member.ID, "Welcome", false)

	_, err := f.svc.SetLocked(context.Background(), "", th.ID, true)
	if !model.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

// --- ListThreads ---

func TestListThreads_OrderedByLatestActivity(t *testing.T) {
	f := newFixture(t)
	older := f.store.AddThread(f.channel.ID, f.member.ID, "Older", false)
	newer := f.store.AddThread(f.channel.ID, f.member.ID, "Newer", false)
	// 古いスレッドへの投稿で順序が入れ替わる
	f.store.AddMessage(older.ID, f.member.ID, "bump")

	ch, summaries, err := f.svc.ListThreads(context.Background(), f.channel.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ch.ID != f.channel.ID {
		t.Errorf("channel = %s, want %s", ch.ID, f.channel.ID)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(summaries))
	}
	if summaries[0].Thread.ID != older.ID || summaries[1].Thread.ID != newer.ID {
		t.Errorf("unexpected order: %s, %s", summaries[0].Thread.Title, summaries[1].Thread.Title)
	}
	if summaries[0].MessageCount != 1 || summaries[0].LastMessageAt == nil {
		t.Errorf("unexpected stats: %+v", summaries[0])
	}
}

func TestListThreads_ChannelNotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.ListThreads(context.Background(), "missing")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// --- GetThread ---

func TestGetThread_MessagesWithReactionsAndDeletedPlaceholder(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.admin.ID, "Welcome", false)
	first := f.store.AddMessage(th.ID, f.member.ID, "hi https://example.com")
	second := f.store.AddMessage(th.ID, f.admin.ID, "secret")

	err := f.store.WithinTx(context.Background(), func(r *repository.Repositories) error {
		at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
		for _, uid := range []string{f.member.ID, f.admin.ID} {
			if _, err := r.Reactions.Insert(context.Background(), &model.MessageReaction{MessageID: first.ID, UserID: uid, Emoji: "👍", CreatedAt: at}); err != nil {
				return err
			}
		}
		return r.Messages.SoftDelete(context.Background(), second.ID, f.admin.ID, at)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	view, err := f.svc.GetThread(context.Background(), f.member.ID, th.ID, "", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(view.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(view.Messages))
	}

	m0 := view.Messages[0]
	if m0.ID != first.ID || m0.AuthorName != "alex" || m0.Content != first.Content {
		t.Errorf("unexpected first message: %+v", m0)
	}
	if !strings.Contains(m0.ContentHTML, `href="https://example.com"`) {
		t.Errorf("content_html should autolink, got %q", m0.ContentHTML)
	}
	if diff := cmp.Diff([]model.ReactionCount{{Emoji: "👍", Count: 2, Reacted: true}}, m0.Reactions); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}

	m1 := view.Messages[1]
	if !m1.Deleted || m1.State != model.MessageStateDeleted {
		t.Errorf("second message should be a deleted placeholder: %+v", m1)
	}
	if m1.Content != "" || m1.ContentHTML != "" {
		t.Error("deleted message content must not be exposed")
	}
	if m1.Reactions == nil {
		t.Error("reactions should be an empty slice, not nil")
	}
	if view.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty", view.NextCursor)
	}
}

func TestGetThread_AnonymousViewerHasNoReactedFlag(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.admin.ID, "Welcome", false)
	msg := f.store.AddMessage(th.ID, f.member.ID, "hi")
	err := f.store.WithinTx(context.Background(), func(r *repository.Repositories) error {
		_, err := r.Reactions.Insert(context.Background(), &model.MessageReaction{MessageID: msg.ID, UserID: f.member.ID, Emoji: "🔥", CreatedAt: time.Now()})
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	view, err := f.svc.GetThread(context.Background(), "", th.ID, "", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := view.Messages[0].Reactions; len(got) != 1 || got[0].Reacted {
		t.Errorf("unexpected reactions for anonymous viewer: %+v", got)
	}
}

func TestGetThread_CursorPagination(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.admin.ID, "Welcome", false)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.store.AddMessage(th.ID, f.member.ID, "msg").ID)
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		view, err := f.svc.GetThread(context.Background(), f.member.ID, th.ID, cursor, 2)
		if err != nil {
			t.Fatalf("page %d: expected no error, got %v", pages, err)
		}
		for _, m := range view.Messages {
			got = append(got, m.ID)
		}
		pages++
		if view.NextCursor == "" {
			break
		}
		cursor = view.NextCursor
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if diff := cmp.Diff(ids, got); diff != "" {
		t.Errorf("message order mismatch (-want +got):\n%s", diff)
	}
}

func TestGetThread_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	th := f.store.AddThread(f.channel.ID, f.admin.ID, "Welcome", false)

	if _, err := f.svc.GetThread(context.Background(), "", th.ID, "", MaxPageSize+1); !model.IsValidation(err) {
		t.Errorf("limit over max: expected validation error, got %v", err)
	}
	if _, err := f.svc.GetThread(context.Background(), "", th.ID, "not-a-cursor", 10); !model.IsValidation(err) {
		t.Errorf("bad cursor: expected validation error, got %v", err)
	}
	if _, err := f.svc.GetThread(context.Background(), "", "missing", "", 10); !model.IsNotFound(err) {
		t.Errorf("missing thread: expected not found, got %v", err)
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	in := repository.MessageCursor{
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 1, 123456000, time.UTC),
		ID:        "6f1c1c3e-0d2b-4a38-9b1e-0c8f0f9d7a11",
	}

	out, err := DecodeCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Errorf("cursor = %+v, want %+v", out, in)
	}
}
