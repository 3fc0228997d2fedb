package reaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/guildfire/internal/authz"
	"github.com/hitoshi/guildfire/internal/metrics"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
	"github.com/hitoshi/guildfire/internal/repository/repotest"
)

type recorder struct {
	metrics.Nop
	mu      sync.Mutex
	results []string
}

func (r *recorder) RecordReactionToggled(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

type fixture struct {
	store    *repotest.Store
	rec      *recorder
	guild    *model.Guild
	msg      *model.Message
	member   *model.User
	outsider *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.NewStore()
	guild := store.AddGuild("gaming-hub", "Gaming Hub")
	store.AddRole(guild.ID, "Member", 1, model.PermPost, model.PermReact)
	channel := store.AddChannel(guild.ID, "general", 0)
	member := store.AddUser("alex")
	outsider := store.AddUser("stranger")
	store.AddMember(guild.ID, member.ID, "Member")
	th := store.AddThread(channel.ID, member.ID, "Welcome", false)

	return &fixture{
		store:    store,
		rec:      &recorder{},
		guild:    guild,
		msg:      store.AddMessage(th.ID, member.ID, "hi"),
		member:   member,
		outsider: outsider,
	}
}

func TestToggle_AddThenRemove(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, f.rec)
	ctx := context.Background()

	first, err := svc.Toggle(ctx, f.member.ID, f.msg.ID, "🔥")
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if n := f.store.ReactionCount(f.msg.ID, "🔥"); n != 1 {
		t.Errorf("reaction count after add = %d, want 1", n)
	}

	second, err := svc.Toggle(ctx, f.member.ID, f.msg.ID, "🔥")
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if n := f.store.ReactionCount(f.msg.ID, "🔥"); n != 0 {
		t.Errorf("reaction count after remove = %d, want 0", n)
	}

	got := []model.ToggleResult{first, second}
	want := []model.ToggleResult{model.ToggleAdded, model.ToggleRemoved}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toggle results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"added", "removed"}, f.rec.results); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestToggle_EmojiIsTrimmed(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, nil)

	if _, err := svc.Toggle(context.Background(), f.member.ID, f.msg.ID, "  :party:  "); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n := f.store.ReactionCount(f.msg.ID, ":party:"); n != 1 {
		t.Errorf("reaction count = %d, want 1", n)
	}
}

func TestToggle_DifferentEmojisAreIndependent(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, nil)
	ctx := context.Background()

	for _, emoji := range []string{"👍", "🎮", "👍"} {
		if _, err := svc.Toggle(ctx, f.member.ID, f.msg.ID, emoji); err != nil {
			t.Fatalf("toggle %s: %v", emoji, err)
		}
	}
	if n := f.store.ReactionCount(f.msg.ID, "👍"); n != 0 {
		t.Errorf("👍 count = %d, want 0", n)
	}
	if n := f.store.ReactionCount(f.msg.ID, "🎮"); n != 1 {
		t.Errorf("🎮 count = %d, want 1", n)
	}
}

func TestToggle_Errors(t *testing.T) {
	tests := []struct {
		name      string
		actor     func(f *fixture) string
		messageID func(f *fixture) string
		emoji     string
		check     func(error) bool
	}{
		{"unauthenticated", func(*fixture) string { return "" }, func(f *fixture) string { return f.msg.ID }, "👍", model.IsUnauthorized},
		{"empty emoji", func(f *fixture) string { return f.member.ID }, func(f *fixture) string { return f.msg.ID }, "   ", model.IsValidation},
		{"17 runes", func(f *fixture) string { return f.member.ID }, func(f *fixture) string { return f.msg.ID }, strings.Repeat("x", 17), model.IsValidation},
		{"missing message", func(f *fixture) string { return f.member.ID }, func(*fixture) string { return "missing" }, "👍", model.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := NewService(f.store, authz.Policy{}, nil)

			_, err := svc.Toggle(context.Background(), tt.actor(f), tt.messageID(f), tt.emoji)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestToggle_SixteenRunesAccepted(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, nil)

	if _, err := svc.Toggle(context.Background(), f.member.ID, f.msg.ID, strings.Repeat("x", 16)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestToggle_DeletedMessageIsNotFound(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, nil)
	ctx := context.Background()
	err := f.store.WithinTx(ctx, func(r *repository.Repositories) error {
		return r.Messages.SoftDelete(ctx, f.msg.ID, f.member.ID, f.msg.CreatedAt)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := svc.Toggle(ctx, f.member.ID, f.msg.ID, "👍"); !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggle_MembershipPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := NewService(f.store, authz.Policy{}, nil)
	if _, err := open.Toggle(ctx, f.outsider.ID, f.msg.ID, "👍"); err != nil {
		t.Fatalf("open policy: expected no error, got %v", err)
	}

	gated := NewService(f.store, authz.Policy{ReactionsRequireMembership: true}, nil)
	if _, err := gated.Toggle(ctx, f.outsider.ID, f.msg.ID, "🔥"); !model.IsForbidden(err) {
		t.Fatalf("gated policy: expected forbidden, got %v", err)
	}
	if n := f.store.ReactionCount(f.msg.ID, "🔥"); n != 0 {
		t.Errorf("🔥 count = %d, want 0", n)
	}
	if _, err := gated.Toggle(ctx, f.member.ID, f.msg.ID, "🔥"); err != nil {
		t.Fatalf("gated policy member: expected no error, got %v", err)
	}
}

func TestToggle_ConcurrentTogglesAlternate(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, f.rec)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Toggle(context.Background(), f.member.ID, f.msg.ID, "👍"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	// 偶数回のトグルで元の状態（リアクションなし）に戻る
	if c := f.store.ReactionCount(f.msg.ID, "👍"); c != 0 {
		t.Errorf("reaction count = %d, want 0", c)
	}
	added := 0
	for _, r := range f.rec.results {
		if r == string(model.ToggleAdded) {
			added++
		}
	}
	if added != n/2 {
		t.Errorf("added results = %d, want %d", added, n/2)
	}
}

func TestToggle_ContextCanceled(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, authz.Policy{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Toggle(ctx, f.member.ID, f.msg.ID, "👍")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
