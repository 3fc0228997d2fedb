package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/guildfire/internal/authz"
	"github.com/hitoshi/guildfire/internal/guild"
	"github.com/hitoshi/guildfire/internal/message"
	"github.com/hitoshi/guildfire/internal/middleware"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/reaction"
	"github.com/hitoshi/guildfire/internal/repository/repotest"
	"github.com/hitoshi/guildfire/internal/thread"
	"github.com/hitoshi/guildfire/internal/user"
)

const testCSRFToken = "csrf-token-for-tests"

// mockSessionFinder はセッションID→ユーザーIDの対応でセッションを返す。
type mockSessionFinder struct {
	userBySession map[string]string
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	userID, ok := m.userBySession[id]
	if !ok {
		return nil, nil
	}
	return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

// routerFixture はインメモリストア上の実サービスでルーター全体を組み立てる。
type routerFixture struct {
	store   *repotest.Store
	handler http.Handler
	hub     *model.Guild
	general *model.Channel
	admin   *model.User
	alex    *model.User
	outside *model.User
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := repotest.NewStore()
	hub := store.AddGuild("gaming-hub", "Gaming Hub")
	store.AddRole(hub.ID, "Admin", 0, model.PermAdmin)
	store.AddRole(hub.ID, "Member", 1, model.PermPost, model.PermReact)
	general := store.AddChannel(hub.ID, "general", 0)
	admin := store.AddUser("admin")
	alex := store.AddUser("alex")
	outside := store.AddUser("outsider")
	store.AddMember(hub.ID, admin.ID, "Admin")
	store.AddMember(hub.ID, alex.ID, "Member")

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		HealthChecker: &mockHealthChecker{},
		SessionFinder: &mockSessionFinder{userBySession: map[string]string{
			"admin-session":   admin.ID,
			"alex-session":    alex.ID,
			"outside-session": outside.ID,
		}},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slogDiscard(),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "guildfire_threads_created_total 0\n")
		}),
		AuthService:     &mockAuthService{},
		AuthConfig:      AuthHandlerConfig{BaseURL: "http://localhost:3000"},
		GuildService:    guild.NewService(store),
		ThreadService:   thread.NewService(store, nil, nil),
		MessageService:  message.NewService(store, authz.Policy{}, nil),
		ReactionService: reaction.NewService(store, authz.Policy{}, nil),
		UserService:     user.NewService(store),
	}

	return &routerFixture{
		store:   store,
		handler: NewRouter(deps),
		hub:     hub,
		general: general,
		admin:   admin,
		alex:    alex,
		outside: outside,
	}
}

// do はセッションとCSRFトークンを付けてリクエストを実行する。
func (f *routerFixture) do(t *testing.T, session, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, "", http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("security headers should be applied, X-Content-Type-Options = %q", got)
	}
}

func TestRouter_Health_DatabaseDown(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	router := NewRouter(&RouterDeps{
		HealthChecker: &mockHealthChecker{err: errors.New("connection refused")},
		RateLimiter:   rl,
		Logger:        slogDiscard(),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, "", http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "guildfire_threads_created_total") {
		t.Errorf("unexpected metrics body: %s", w.Body.String())
	}
}

func TestRouter_APIRequiresSession(t *testing.T) {
	f := newRouterFixture(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/guilds"},
		{http.MethodGet, "/api/users/me"},
		{http.MethodGet, "/api/channels/" + f.general.ID + "/threads"},
		{http.MethodPost, "/api/channels/" + f.general.ID + "/threads"},
		{http.MethodDelete, "/api/messages/some-id"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := f.do(t, "", rt.method, rt.path, nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			body := decodeBody[middleware.ErrorResponseBody](t, w)
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestRouter_MutationWithoutCSRFToken_ReturnsForbidden(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/channels/"+f.general.ID+"/threads",
		strings.NewReader(`{"title":"No token"}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "alex-session"})
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if f.store.ThreadCount(f.general.ID) != 0 {
		t.Error("thread should not be created without a CSRF token")
	}
}

func TestRouter_CSRFTokenEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, "alex-session", http.MethodGet, "/api/csrf-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody[map[string]string](t, w)
	if body["token"] != testCSRFToken {
		t.Errorf("token = %q, want the existing cookie value", body["token"])
	}
}

func TestRouter_GuildBrowsingAndJoin(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, "outside-session", http.MethodGet, "/api/guilds", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/guilds status = %d", w.Code)
	}
	guilds := decodeBody[[]guildResponse](t, w)
	if len(guilds) != 1 || guilds[0].Slug != "gaming-hub" || guilds[0].IsMember {
		t.Fatalf("unexpected guild list: %+v", guilds)
	}

	w = f.do(t, "outside-session", http.MethodGet, "/api/guilds/gaming-hub", nil)
	detail := decodeBody[guildDetailResponse](t, w)
	if len(detail.Channels) != 1 || detail.Channels[0].Name != "general" {
		t.Errorf("unexpected channels: %+v", detail.Channels)
	}

	w = f.do(t, "outside-session", http.MethodPost, "/api/guilds/gaming-hub/join", nil)
	if w.Code != http.StatusCreated {
		t.Errorf("first join status = %d, want %d", w.Code, http.StatusCreated)
	}
	w = f.do(t, "outside-session", http.MethodPost, "/api/guilds/gaming-hub/join", nil)
	if w.Code != http.StatusOK {
		t.Errorf("second join status = %d, want %d", w.Code, http.StatusOK)
	}

	w = f.do(t, "outside-session", http.MethodGet, "/api/guilds/gaming-hub/permissions", nil)
	perms := decodeBody[permissionsResponse](t, w)
	if !perms.IsMember || len(perms.Permissions) != 2 {
		t.Errorf("unexpected permissions after join: %+v", perms)
	}

	w = f.do(t, "outside-session", http.MethodGet, "/api/guilds/nowhere", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown guild status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// gaming-hub / general / Welcome の一連の流れ。
func TestRouter_ThreadLifecycleScenario(t *testing.T) {
	f := newRouterFixture(t)

	// 1. メンバーがスレッドを作成し、最初のメッセージを投稿する
	w := f.do(t, "alex-session", http.MethodPost, "/api/channels/"+f.general.ID+"/threads",
		map[string]string{"title": "Welcome"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create thread status = %d: %s", w.Code, w.Body.String())
	}
	th := decodeBody[threadResponse](t, w)
	if th.State != "open" || th.Title != "Welcome" {
		t.Fatalf("unexpected thread: %+v", th)
	}

	w = f.do(t, "alex-session", http.MethodPost, "/api/threads/"+th.ID+"/messages",
		map[string]string{"content": "hello **world**"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create message status = %d: %s", w.Code, w.Body.String())
	}
	msg := decodeBody[messageResponse](t, w)

	// 2. 非メンバーは投稿できない
	w = f.do(t, "outside-session", http.MethodPost, "/api/threads/"+th.ID+"/messages",
		map[string]string{"content": "let me in"})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-member post status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// 3. 管理者がロックすると、メンバーは投稿できず管理者は投稿できる
	w = f.do(t, "alex-session", http.MethodPut, "/api/threads/"+th.ID+"/lock", map[string]bool{"locked": true})
	if w.Code != http.StatusForbidden {
		t.Errorf("member lock status = %d, want %d", w.Code, http.StatusForbidden)
	}
	w = f.do(t, "admin-session", http.MethodPut, "/api/threads/"+th.ID+"/lock", map[string]bool{"locked": true})
	if w.Code != http.StatusOK {
		t.Fatalf("admin lock status = %d: %s", w.Code, w.Body.String())
	}
	if locked := decodeBody[threadResponse](t, w); !locked.IsLocked || locked.State != "locked" {
		t.Errorf("thread should be locked: %+v", locked)
	}
	w = f.do(t, "alex-session", http.MethodPost, "/api/threads/"+th.ID+"/messages",
		map[string]string{"content": "still here?"})
	if w.Code != http.StatusForbidden {
		t.Errorf("member post on locked thread status = %d, want %d", w.Code, http.StatusForbidden)
	}
	w = f.do(t, "admin-session", http.MethodPost, "/api/threads/"+th.ID+"/messages",
		map[string]string{"content": "locked for maintenance"})
	if w.Code != http.StatusCreated {
		t.Errorf("admin post on locked thread status = %d, want %d", w.Code, http.StatusCreated)
	}

	// 4. リアクションのトグル
	w = f.do(t, "alex-session", http.MethodPost, "/api/messages/"+msg.ID+"/reactions", map[string]string{"emoji": "👍"})
	if got := decodeBody[toggleReactionResponse](t, w); got.Toggled != "added" {
		t.Errorf("first toggle = %+v, want added", got)
	}
	w = f.do(t, "admin-session", http.MethodPost, "/api/messages/"+msg.ID+"/reactions", map[string]string{"emoji": "👍"})
	if got := decodeBody[toggleReactionResponse](t, w); got.Toggled != "added" {
		t.Errorf("admin toggle = %+v, want added", got)
	}

	// 5. 編集と削除は作成者のみ
	w = f.do(t, "admin-session", http.MethodPatch, "/api/messages/"+msg.ID, map[string]string{"content": "hijack"})
	if w.Code != http.StatusForbidden {
		t.Errorf("admin edit status = %d, want %d", w.Code, http.StatusForbidden)
	}
	w = f.do(t, "alex-session", http.MethodPatch, "/api/messages/"+msg.ID, map[string]string{"content": "hello again"})
	if w.Code != http.StatusOK {
		t.Fatalf("author edit status = %d: %s", w.Code, w.Body.String())
	}
	if edited := decodeBody[messageResponse](t, w); edited.State != "edited" || edited.EditedAt == nil {
		t.Errorf("message should be edited: %+v", edited)
	}

	// 6. スレッド閲覧
	w = f.do(t, "alex-session", http.MethodGet, "/api/threads/"+th.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get thread status = %d", w.Code)
	}
	view := decodeBody[threadViewResponse](t, w)
	if len(view.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(view.Messages))
	}
	first := view.Messages[0]
	if first.ID != msg.ID || first.AuthorName != "alex" {
		t.Errorf("unexpected first message: %+v", first)
	}
	if len(first.Reactions) != 1 || first.Reactions[0].Count != 2 || !first.Reactions[0].Reacted {
		t.Errorf("unexpected reactions: %+v", first.Reactions)
	}

	// 7. 作成者による削除後はプレースホルダーになる
	w = f.do(t, "admin-session", http.MethodDelete, "/api/messages/"+msg.ID, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("admin delete status = %d, want %d", w.Code, http.StatusForbidden)
	}
	w = f.do(t, "alex-session", http.MethodDelete, "/api/messages/"+msg.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("author delete status = %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, "alex-session", http.MethodDelete, "/api/messages/"+msg.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = f.do(t, "alex-session", http.MethodGet, "/api/threads/"+th.ID, nil)
	view = decodeBody[threadViewResponse](t, w)
	if !view.Messages[0].Deleted || view.Messages[0].Content != "" {
		t.Errorf("deleted message should be a placeholder: %+v", view.Messages[0])
	}

	// 8. チャンネルのスレッド一覧（削除済みは件数に含めない）
	w = f.do(t, "alex-session", http.MethodGet, "/api/channels/"+f.general.ID+"/threads", nil)
	list := decodeBody[channelThreadsResponse](t, w)
	if len(list.Threads) != 1 || list.Threads[0].MessageCount == nil || *list.Threads[0].MessageCount != 1 {
		t.Errorf("unexpected thread list: %+v", list.Threads)
	}
}

func TestRouter_ValidationErrors(t *testing.T) {
	f := newRouterFixture(t)
	th := f.store.AddThread(f.general.ID, f.alex.ID, "Welcome", false)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"short title", http.MethodPost, "/api/channels/" + f.general.ID + "/threads", map[string]string{"title": "a"}, http.StatusBadRequest},
		{"empty content", http.MethodPost, "/api/threads/" + th.ID + "/messages", map[string]string{"content": "   "}, http.StatusBadRequest},
		{"missing locked", http.MethodPut, "/api/threads/" + th.ID + "/lock", map[string]string{}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/threads/" + th.ID + "?limit=abc", nil, http.StatusBadRequest},
		{"limit too large", http.MethodGet, "/api/threads/" + th.ID + "?limit=101", nil, http.StatusBadRequest},
		{"unknown channel", http.MethodPost, "/api/channels/missing/threads", map[string]string{"title": "Hello"}, http.StatusNotFound},
		{"unknown thread", http.MethodGet, "/api/threads/missing", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "alex-session", tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_MalformedJSON_ReturnsInvalidRequest(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/channels/"+f.general.ID+"/threads", strings.NewReader("{"))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "alex-session"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeBody[middleware.ErrorResponseBody](t, w); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
}

func TestRouter_UserProfile(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, "alex-session", http.MethodPut, "/api/users/me", map[string]string{"display_name": "  Alex  "})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /api/users/me status = %d: %s", w.Code, w.Body.String())
	}
	if u := decodeBody[userResponse](t, w); u.DisplayName != "Alex" || u.Name != "Alex" {
		t.Errorf("unexpected user: %+v", u)
	}

	w = f.do(t, "alex-session", http.MethodGet, "/api/users/me", nil)
	profile := decodeBody[profileResponse](t, w)
	if profile.Username != "alex" || len(profile.Guilds) != 1 || profile.Guilds[0].Slug != "gaming-hub" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

func TestRouter_AuthRoutes(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, "", http.MethodGet, "/auth/login", nil)
	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("GET /auth/login status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}

	w = f.do(t, "", http.MethodGet, "/auth/unknown", nil)
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /auth/unknown status = %d, want 404 or 405", w.Code)
	}
}
