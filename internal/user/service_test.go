package user

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
	"github.com/hitoshi/guildfire/internal/repository/repotest"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	updateDisplayNameFn func(ctx context.Context, id, displayName string, updatedAt time.Time) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) ListByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) UpdateDisplayName(ctx context.Context, id, displayName string, updatedAt time.Time) error {
	return m.updateDisplayNameFn(ctx, id, displayName, updatedAt)
}

// mockStore はfnに固定のリポジトリを渡すだけのStore。
type mockStore struct {
	repos *repository.Repositories
}

func (m *mockStore) WithinTx(ctx context.Context, fn func(r *repository.Repositories) error) error {
	return fn(m.repos)
}

// --- テスト ---

func TestGetProfile_WithGuilds(t *testing.T) {
	store := repotest.NewStore()
	hub := store.AddGuild("gaming-hub", "Gaming Hub")
	store.AddGuild("art-club", "Art Club")
	alex := store.AddUser("alex")
	store.AddMember(hub.ID, alex.ID)
	store.AddIdentity(alex.ID, "google", "g-1")
	store.AddIdentity(alex.ID, "discord", "d-1")

	profile, err := NewService(store).GetProfile(context.Background(), alex.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if profile.User.Username != "alex" {
		t.Errorf("Username = %q, want %q", profile.User.Username, "alex")
	}
	if len(profile.Guilds) != 1 || profile.Guilds[0].Slug != "gaming-hub" {
		t.Errorf("unexpected guilds: %+v", profile.Guilds)
	}
	if diff := cmp.Diff([]string{"discord", "google"}, profile.Providers); diff != "" {
		t.Errorf("providers mismatch (-want +got):\n%s", diff)
	}
}

func TestGetProfile_Errors(t *testing.T) {
	svc := NewService(repotest.NewStore())

	if _, err := svc.GetProfile(context.Background(), ""); !model.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if _, err := svc.GetProfile(context.Background(), "missing"); !model.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdateDisplayName_TrimsAndClears(t *testing.T) {
	store := repotest.NewStore()
	alex := store.AddUser("alex")
	svc := NewService(store)

	got, err := svc.UpdateDisplayName(context.Background(), alex.ID, "  Alex the Great  ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.DisplayName != "Alex the Great" || got.Name() != "Alex the Great" {
		t.Errorf("unexpected user: %+v", got)
	}
	if store.User(alex.ID).DisplayName != "Alex the Great" {
		t.Error("display name should be persisted")
	}

	cleared, err := svc.UpdateDisplayName(context.Background(), alex.ID, "   ")
	if err != nil {
		t.Fatalf("clear: expected no error, got %v", err)
	}
	if cleared.DisplayName != "" || cleared.Name() != "alex" {
		t.Errorf("display name should fall back to username, got %+v", cleared)
	}
}

func TestUpdateDisplayName_TooLong(t *testing.T) {
	store := repotest.NewStore()
	alex := store.AddUser("alex")

	_, err := NewService(store).UpdateDisplayName(context.Background(), alex.ID, strings.Repeat("あ", MaxDisplayNameLength+1))
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.TxCount != 0 {
		t.Error("validation failure should not open a transaction")
	}
}

func TestUpdateDisplayName_RepositoryError(t *testing.T) {
	repoErr := errors.New("connection reset")
	users := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Username: "alex"}, nil
		},
		updateDisplayNameFn: func(ctx context.Context, id, displayName string, updatedAt time.Time) error {
			return repoErr
		},
	}
	svc := NewService(&mockStore{repos: &repository.Repositories{Users: users}})

	_, err := svc.UpdateDisplayName(context.Background(), "user-1", "Alex")
	if !errors.Is(err, repoErr) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Error("infrastructure errors should not be reported as API errors")
	}
}

func TestUpdateDisplayName_UserNotFound(t *testing.T) {
	users := &mockUserRepo{}
	svc := NewService(&mockStore{repos: &repository.Repositories{Users: users}})

	if _, err := svc.UpdateDisplayName(context.Background(), "ghost", "Ghost"); !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
