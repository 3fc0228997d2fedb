package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// プロバイダーごとの既定エンドポイント
var providerDefaults = map[string]struct {
	authURL     string
	tokenURL    string
	userInfoURL string
	scopes      []string
}{
	"discord": {
		authURL:     "https://discord.com/oauth2/authorize",
		tokenURL:    "https://discord.com/api/oauth2/token",
		userInfoURL: "https://discord.com/api/users/@me",
		scopes:      []string{"identify", "email"},
	},
	"google": {
		authURL:     "https://accounts.google.com/o/oauth2/auth",
		tokenURL:    "https://oauth2.googleapis.com/token",
		userInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		scopes:      []string{"openid", "email", "profile"},
	},
}

// OAuthConfig は外部IdPの設定。
type OAuthConfig struct {
	Provider     string // discord | google
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// 空の場合はプロバイダーの既定値を使う。テストではモックサーバーを指定する。
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はトークン交換とユーザー情報取得に使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OAuth2Provider はOAuth 2.0 認可コードフローで外部IdPのユーザー情報を取得する。
type OAuth2Provider struct {
	provider    string
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewOAuth2Provider はOAuth2Providerを生成する。未対応のプロバイダーはエラーを返す。
func NewOAuth2Provider(cfg OAuthConfig) (*OAuth2Provider, error) {
	provider := strings.ToLower(cfg.Provider)
	defaults, ok := providerDefaults[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported oauth provider: %q", cfg.Provider)
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.authURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.tokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaults.userInfoURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &OAuth2Provider{
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       defaults.scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// Name はプロバイダー名を返す。
func (p *OAuth2Provider) Name() string {
	return p.provider
}

// GetLoginURL は認可URLを生成する。
func (p *OAuth2Provider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// userInfoResponse はDiscordとGoogle（OIDC）のユーザー情報レスポンスの和集合。
type userInfoResponse struct {
	ID                string `json:"id"`  // Discord
	Sub               string `json:"sub"` // OIDC
	Username          string `json:"username"`
	PreferredUsername string `json:"preferred_username"`
	GlobalName        string `json:"global_name"`
	Name              string `json:"name"`
	Email             string `json:"email"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	// 1. 認可コードをアクセストークンに交換
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでユーザー情報を取得
	info, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	return info, nil
}

func (p *OAuth2Provider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var raw userInfoResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	return raw.toUserInfo(p.provider)
}

func (r userInfoResponse) toUserInfo(provider string) (*OAuthUserInfo, error) {
	info := &OAuthUserInfo{
		Provider:       provider,
		ProviderUserID: firstNonEmpty(r.ID, r.Sub),
		Username:       firstNonEmpty(r.Username, r.PreferredUsername),
		DisplayName:    firstNonEmpty(r.GlobalName, r.Name),
		Email:          r.Email,
	}
	if info.ProviderUserID == "" {
		return nil, fmt.Errorf("empty user id in user info response")
	}
	// Googleはusernameを返さないため、メールアドレスのローカル部を候補にする
	if info.Username == "" && info.Email != "" {
		info.Username, _, _ = strings.Cut(info.Email, "@")
	}
	return info, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// compile-time interface check
var _ OAuthProvider = (*OAuth2Provider)(nil)
