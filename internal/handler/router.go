package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/guildfire/internal/metrics"
	"github.com/hitoshi/guildfire/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string // カンマ区切りで複数指定可
	StrictTransport   bool   // HTTPS運用時にHSTSヘッダーを付与する
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.Recorder
	MetricsHandler    http.Handler // nilの場合は /metrics を公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	GuildService    GuildServiceInterface
	ThreadService   ThreadServiceInterface
	MessageService  MessageServiceInterface
	ReactionService ReactionServiceInterface
	UserService     UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS
//	  /api/*: Session → RateLimit(General) → CSRF
//	  投稿系: + RateLimit(Post)
//
// /health, /metrics, 認証ルート（/auth/*）はセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.StrictTransport))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	guildHandler := NewGuildHandler(deps.GuildService)
	threadHandler := NewThreadHandler(deps.ThreadService)
	messageHandler := NewMessageHandler(deps.MessageService, deps.ReactionService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		posting := deps.RateLimiter.PostMiddleware()

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", userHandler.GetMe)
			r.Put("/me", userHandler.UpdateMe)
		})

		r.Route("/guilds", func(r chi.Router) {
			r.Get("/", guildHandler.ListGuilds)
			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", guildHandler.GetGuild)
				r.Post("/join", guildHandler.Join)
				r.Get("/permissions", guildHandler.Permissions)
			})
		})

		r.Route("/channels/{id}/threads", func(r chi.Router) {
			r.Get("/", threadHandler.ListThreads)
			r.With(posting).Post("/", threadHandler.CreateThread)
		})

		r.Route("/threads/{id}", func(r chi.Router) {
			r.Get("/", threadHandler.GetThread)
			r.Put("/lock", threadHandler.SetLock)
			r.With(posting).Post("/messages", messageHandler.CreateMessage)
		})

		r.Route("/messages/{id}", func(r chi.Router) {
			r.With(posting).Patch("/", messageHandler.UpdateMessage)
			r.Delete("/", messageHandler.DeleteMessage)
			r.With(posting).Post("/reactions", messageHandler.ToggleReaction)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
