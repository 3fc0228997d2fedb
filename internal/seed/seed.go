// Package seed は開発・デモ用の初期データを投入する。
//
// フィクスチャはYAMLで記述し、既定では埋め込みの fixture.yaml を使う。
// 投入は1トランザクションで行い、何度実行しても同じ状態に収束する。
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v7"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/guildfire/internal/auth"
	"github.com/hitoshi/guildfire/internal/guild"
	"github.com/hitoshi/guildfire/internal/message"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/reaction"
	"github.com/hitoshi/guildfire/internal/thread"
)

//go:embed fixture.yaml
var defaultFixture []byte

// Fixture は投入するデータ全体を表す。
type Fixture struct {
	Users  []User  `yaml:"users"`
	Guilds []Guild `yaml:"guilds"`
}

// User はフィクスチャのユーザー。usernameで既存ユーザーと照合する。
type User struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	Email       string `yaml:"email"`
}

// Guild はフィクスチャのギルド。slugで既存ギルドと照合する。
type Guild struct {
	Slug     string    `yaml:"slug"`
	Name     string    `yaml:"name"`
	Owner    string    `yaml:"owner"`
	Channels []Channel `yaml:"channels"`
	Roles    []Role    `yaml:"roles"`
	Members  []Member  `yaml:"members"`
	Threads  []Thread  `yaml:"threads"`
}

// Channel はフィクスチャのチャンネル。
type Channel struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Position int    `yaml:"position"`
}

// Role はフィクスチャのロール。
type Role struct {
	Name        string   `yaml:"name"`
	Position    int      `yaml:"position"`
	Permissions []string `yaml:"permissions"`
}

// Member はギルドメンバーと割り当てるロール名。
type Member struct {
	Username string   `yaml:"username"`
	Roles    []string `yaml:"roles"`
}

// Thread はフィクスチャのスレッド。(channel, title) で既存スレッドと照合する。
type Thread struct {
	Channel  string    `yaml:"channel"`
	Title    string    `yaml:"title"`
	Author   string    `yaml:"author"`
	Locked   bool      `yaml:"locked"`
	Messages []Message `yaml:"messages"`
}

// Message はフィクスチャのメッセージ。Reactionsは絵文字→リアクションしたユーザー名。
type Message struct {
	Author    string              `yaml:"author"`
	Content   string              `yaml:"content"`
	Reactions map[string][]string `yaml:"reactions"`
}

// Load はpathのフィクスチャを読み込む。pathが空の場合は埋め込みのフィクスチャを使う。
func Load(path string) (*Fixture, error) {
	if path == "" {
		return Parse(defaultFixture)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("フィクスチャの読み込みに失敗: %w", err)
	}
	return Parse(data)
}

// Parse はYAMLをFixtureに変換し、参照整合性を検証する。
func Parse(data []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("フィクスチャの解析に失敗: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate はフィクスチャ内の参照と値の制約を検証する。
func (fx *Fixture) Validate() error {
	users := make(map[string]bool, len(fx.Users))
	for _, u := range fx.Users {
		if u.Username == "" {
			return fmt.Errorf("usernameが空のユーザーがあります")
		}
		if users[u.Username] {
			return fmt.Errorf("ユーザー %q が重複しています", u.Username)
		}
		users[u.Username] = true
	}

	slugs := make(map[string]bool, len(fx.Guilds))
	for _, g := range fx.Guilds {
		if g.Slug == "" || g.Name == "" {
			return fmt.Errorf("ギルドにはslugとnameが必要です")
		}
		if slugs[g.Slug] {
			return fmt.Errorf("ギルド %q が重複しています", g.Slug)
		}
		slugs[g.Slug] = true
		if err := g.validate(users); err != nil {
			return fmt.Errorf("ギルド %q: %w", g.Slug, err)
		}
	}
	return nil
}

func (g *Guild) validate(users map[string]bool) error {
	if g.Owner != "" && !users[g.Owner] {
		return fmt.Errorf("ownerのユーザー %q が定義されていません", g.Owner)
	}

	channels := make(map[string]bool, len(g.Channels))
	for _, c := range g.Channels {
		switch model.ChannelType(c.Type) {
		case "", model.ChannelTypeText, model.ChannelTypeAnnouncement:
		default:
			return fmt.Errorf("チャンネル %q の種別 %q は不正です", c.Name, c.Type)
		}
		channels[c.Name] = true
	}

	roles := make(map[string]bool, len(g.Roles))
	for _, r := range g.Roles {
		for _, p := range r.Permissions {
			if !model.IsKnownPermission(model.Permission(p)) {
				return fmt.Errorf("ロール %q の権限 %q は未定義です", r.Name, p)
			}
		}
		roles[r.Name] = true
	}

	members := make(map[string]bool, len(g.Members))
	for _, m := range g.Members {
		if !users[m.Username] {
			return fmt.Errorf("メンバー %q が定義されていません", m.Username)
		}
		for _, r := range m.Roles {
			if !roles[r] {
				return fmt.Errorf("メンバー %q のロール %q が定義されていません", m.Username, r)
			}
		}
		members[m.Username] = true
	}

	for _, t := range g.Threads {
		if !channels[t.Channel] {
			return fmt.Errorf("スレッド %q のチャンネル %q が定義されていません", t.Title, t.Channel)
		}
		if !members[t.Author] {
			return fmt.Errorf("スレッド %q の作成者 %q はメンバーではありません", t.Title, t.Author)
		}
		if n := utf8.RuneCountInString(strings.TrimSpace(t.Title)); n < thread.MinTitleLength || n > thread.MaxTitleLength {
			return fmt.Errorf("スレッドタイトル %q の長さが不正です", t.Title)
		}
		for i, m := range t.Messages {
			if !members[m.Author] {
				return fmt.Errorf("スレッド %q のメッセージ%dの作成者 %q はメンバーではありません", t.Title, i+1, m.Author)
			}
			if err := message.ValidateContent(m.Content); err != nil {
				return fmt.Errorf("スレッド %q のメッセージ%d: %w", t.Title, i+1, err)
			}
			for emoji, reactors := range m.Reactions {
				if emoji == "" || utf8.RuneCountInString(emoji) > reaction.MaxEmojiLength {
					return fmt.Errorf("絵文字 %q は不正です", emoji)
				}
				for _, u := range reactors {
					if !users[u] {
						return fmt.Errorf("リアクションのユーザー %q が定義されていません", u)
					}
				}
			}
		}
	}
	return nil
}

// AddFakeMembers はgofakeitで生成したn人のユーザーを作成し、slugのギルドに既定ロールで参加させる。
// 同じrandomSeedからは同じユーザーが生成される。
func (fx *Fixture) AddFakeMembers(slug string, n int, randomSeed int64) error {
	if n <= 0 {
		return nil
	}
	var target *Guild
	for i := range fx.Guilds {
		if fx.Guilds[i].Slug == slug {
			target = &fx.Guilds[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("ギルド %q がフィクスチャにありません", slug)
	}
	if !target.hasRole(guild.DefaultMemberRole) {
		return fmt.Errorf("ギルド %q にロール %q がありません", slug, guild.DefaultMemberRole)
	}

	taken := make(map[string]bool, len(fx.Users)+n)
	for _, u := range fx.Users {
		taken[u.Username] = true
	}

	faker := gofakeit.New(uint64(randomSeed))
	for added := 0; added < n; {
		username := auth.NormalizeUsername(faker.Username())
		if taken[username] {
			if len(username) > 27 {
				username = username[:27]
			}
			username = fmt.Sprintf("%s%d", username, faker.Number(10, 9999))
			if taken[username] {
				continue
			}
		}
		taken[username] = true

		fx.Users = append(fx.Users, User{
			Username:    username,
			DisplayName: faker.Name(),
			Email:       username + "@fake.guildfire.local",
		})
		target.Members = append(target.Members, Member{
			Username: username,
			Roles:    []string{guild.DefaultMemberRole},
		})
		added++
	}
	return nil
}

func (g *Guild) hasRole(name string) bool {
	for _, r := range g.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
