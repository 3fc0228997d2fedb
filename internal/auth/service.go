// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/hitoshi/guildfire/internal/guild"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
)

const (
	maxUsernameLength = 32
	// ユーザー名の重複時に連番を試す上限。超えた場合はランダムな接尾辞を付ける。
	maxUsernameAttempts = 50
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Username       string // ユーザー名の候補。正規化・重複回避の前の値
	DisplayName    string
	Email          string
	Provider       string // "discord", "google"
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	// DefaultGuildSlug が設定されている場合、新規ユーザーをそのギルドに自動参加させる。
	DefaultGuildSlug string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	store       repository.Store
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	store repository.Store,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		store:       store,
		sessionRepo: sessionRepo,
		config:      config,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同一トランザクションで作成する。
// 既定ギルドが設定されていれば、既存ユーザーも含めて未参加の場合のみMemberロールで参加させる。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identityの検索とユーザー作成を1トランザクションで行う
	var userID string
	created := false
	err = s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		identity, err := r.Identities.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
		if err != nil {
			return fmt.Errorf("failed to find identity: %w", err)
		}
		if identity != nil {
			userID = identity.UserID
			return s.autoJoin(ctx, r, userID)
		}

		user, err := s.createUser(ctx, r, userInfo)
		if err != nil {
			return err
		}
		userID = user.ID
		created = true

		return s.autoJoin(ctx, r, user.ID)
	})
	if err != nil {
		return nil, err
	}

	if created {
		slog.Info("new user created",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *Service) createUser(ctx context.Context, r *repository.Repositories, info *OAuthUserInfo) (*model.User, error) {
	username, err := uniqueUsername(ctx, r.Users, NormalizeUsername(info.Username))
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: truncateRunes(strings.TrimSpace(info.DisplayName), 64),
		Email:       info.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	identity := &model.Identity{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}
	if err := r.Users.CreateWithIdentity(ctx, user, identity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}
	return user, nil
}

func (s *Service) autoJoin(ctx context.Context, r *repository.Repositories, userID string) error {
	if s.config.DefaultGuildSlug == "" {
		return nil
	}
	g, err := r.Guilds.FindBySlug(ctx, s.config.DefaultGuildSlug)
	if err != nil {
		return fmt.Errorf("failed to find default guild: %w", err)
	}
	if g == nil {
		slog.Warn("default guild not found", slog.String("slug", s.config.DefaultGuildSlug))
		return nil
	}
	if _, err := guild.JoinWithDefaultRole(ctx, r, g.ID, userID, s.now()); err != nil {
		return fmt.Errorf("failed to join default guild: %w", err)
	}
	return nil
}

// NormalizeUsername はユーザー名の候補を小文字英数字・アンダースコア・ピリオド・ハイフンに正規化する。
// 使える文字が残らない場合は "user" を返す。
func NormalizeUsername(candidate string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(candidate)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '_' || r == '.' || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_.-")
	if len(name) > maxUsernameLength {
		name = name[:maxUsernameLength]
	}
	if name == "" {
		return "user"
	}
	return name
}

// uniqueUsername はbaseが使われていればbase2, base3...と連番を付けて空いている名前を返す。
func uniqueUsername(ctx context.Context, users repository.UserRepository, base string) (string, error) {
	for i := 1; i <= maxUsernameAttempts; i++ {
		candidate := base
		if i > 1 {
			suffix := strconv.Itoa(i)
			candidate = truncateBytes(base, maxUsernameLength-len(suffix)) + suffix
		}
		existing, err := users.FindByUsername(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}
	}
	suffix := "-" + uuid.NewString()[:8]
	return truncateBytes(base, maxUsernameLength-len(suffix)) + suffix, nil
}

func truncateBytes(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	var user *model.User
	err = s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		u, err := r.Users.FindByID(ctx, session.UserID)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if u == nil {
			return model.NewUserNotFoundError()
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
