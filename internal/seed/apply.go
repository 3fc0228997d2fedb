package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
)

// Result はApplyで新規に作成された行数を表す。既存の行は数えない。
type Result struct {
	Users     int
	Guilds    int
	Channels  int
	Roles     int
	Members   int
	Threads   int
	Messages  int
	Reactions int
}

// Apply はフィクスチャを1トランザクションで投入する。
// ユーザーはusername、ギルドはslug、チャンネルとロールは名前、スレッドは (チャンネル, タイトル) で
// 既存行と照合し、存在するものは作成しない。既存スレッドにメッセージがある場合は追加しない。
func Apply(ctx context.Context, db repository.TxBeginner, fx *Fixture) (*Result, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a := &applier{
		tx:      tx,
		now:     time.Now().UTC().Truncate(time.Microsecond),
		userIDs: make(map[string]string, len(fx.Users)),
	}

	for _, u := range fx.Users {
		if err := a.applyUser(ctx, u); err != nil {
			return nil, fmt.Errorf("ユーザー %q の投入に失敗: %w", u.Username, err)
		}
	}
	for i := range fx.Guilds {
		if err := a.applyGuild(ctx, &fx.Guilds[i]); err != nil {
			return nil, fmt.Errorf("ギルド %q の投入に失敗: %w", fx.Guilds[i].Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("シードデータを投入しました",
		slog.Int("users", a.result.Users),
		slog.Int("guilds", a.result.Guilds),
		slog.Int("channels", a.result.Channels),
		slog.Int("threads", a.result.Threads),
		slog.Int("messages", a.result.Messages),
		slog.Int("reactions", a.result.Reactions),
	)
	return &a.result, nil
}

type applier struct {
	tx      *sql.Tx
	now     time.Time
	userIDs map[string]string
	result  Result
}

// exec はクエリを実行し、行が作成されたかどうかを返す。
func (a *applier) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := a.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *applier) count(created bool, counter *int) {
	if created {
		*counter++
	}
}

func (a *applier) applyUser(ctx context.Context, u User) error {
	created, err := a.exec(ctx, `
		INSERT INTO users (id, username, display_name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT DO NOTHING`,
		uuid.NewString(), u.Username, nullString(u.DisplayName), nullString(u.Email), a.now,
	)
	if err != nil {
		return err
	}
	a.count(created, &a.result.Users)

	var id string
	err = a.tx.QueryRowContext(ctx, `SELECT id FROM users WHERE username = $1`, u.Username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("メールアドレス %q は別のユーザーが使用しています", u.Email)
	}
	if err != nil {
		return err
	}
	a.userIDs[u.Username] = id
	return nil
}

func (a *applier) applyGuild(ctx context.Context, g *Guild) error {
	var ownerID sql.NullString
	if g.Owner != "" {
		ownerID = nullString(a.userIDs[g.Owner])
	}

	var guildID string
	var inserted bool
	err := a.tx.QueryRowContext(ctx, `
		INSERT INTO guilds (id, slug, name, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, owner_id = EXCLUDED.owner_id
		RETURNING id, (xmax = 0)`,
		uuid.NewString(), g.Slug, g.Name, ownerID, a.now,
	).Scan(&guildID, &inserted)
	if err != nil {
		return err
	}
	a.count(inserted, &a.result.Guilds)

	channelIDs := make(map[string]string, len(g.Channels))
	for _, c := range g.Channels {
		id, err := a.applyChannel(ctx, guildID, c)
		if err != nil {
			return fmt.Errorf("チャンネル %q: %w", c.Name, err)
		}
		channelIDs[c.Name] = id
	}

	roleIDs := make(map[string]string, len(g.Roles))
	for _, r := range g.Roles {
		id, err := a.applyRole(ctx, guildID, r)
		if err != nil {
			return fmt.Errorf("ロール %q: %w", r.Name, err)
		}
		roleIDs[r.Name] = id
	}

	for _, m := range g.Members {
		if err := a.applyMember(ctx, guildID, m, roleIDs); err != nil {
			return fmt.Errorf("メンバー %q: %w", m.Username, err)
		}
	}

	for _, t := range g.Threads {
		if err := a.applyThread(ctx, channelIDs[t.Channel], t); err != nil {
			return fmt.Errorf("スレッド %q: %w", t.Title, err)
		}
	}
	return nil
}

func (a *applier) applyChannel(ctx context.Context, guildID string, c Channel) (string, error) {
	channelType := model.ChannelType(c.Type)
	if channelType == "" {
		channelType = model.ChannelTypeText
	}
	created, err := a.exec(ctx, `
		INSERT INTO channels (id, guild_id, name, type, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guild_id, name) DO NOTHING`,
		uuid.NewString(), guildID, c.Name, string(channelType), c.Position, a.now,
	)
	if err != nil {
		return "", err
	}
	a.count(created, &a.result.Channels)

	var id string
	err = a.tx.QueryRowContext(ctx,
		`SELECT id FROM channels WHERE guild_id = $1 AND name = $2`, guildID, c.Name,
	).Scan(&id)
	return id, err
}

func (a *applier) applyRole(ctx context.Context, guildID string, r Role) (string, error) {
	created, err := a.exec(ctx, `
		INSERT INTO roles (id, guild_id, name, position, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (guild_id, name) DO NOTHING`,
		uuid.NewString(), guildID, r.Name, r.Position, a.now,
	)
	if err != nil {
		return "", err
	}
	a.count(created, &a.result.Roles)

	var id string
	if err := a.tx.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE guild_id = $1 AND name = $2`, guildID, r.Name,
	).Scan(&id); err != nil {
		return "", err
	}

	for _, p := range r.Permissions {
		if _, err := a.exec(ctx, `
			INSERT INTO role_permissions (role_id, permission)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			id, p,
		); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (a *applier) applyMember(ctx context.Context, guildID string, m Member, roleIDs map[string]string) error {
	userID := a.userIDs[m.Username]
	created, err := a.exec(ctx, `
		INSERT INTO guild_members (guild_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		guildID, userID, a.now,
	)
	if err != nil {
		return err
	}
	a.count(created, &a.result.Members)

	for _, roleName := range m.Roles {
		if _, err := a.exec(ctx, `
			INSERT INTO member_roles (guild_id, user_id, role_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			guildID, userID, roleIDs[roleName],
		); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) applyThread(ctx context.Context, channelID string, t Thread) error {
	var threadID string
	err := a.tx.QueryRowContext(ctx,
		`SELECT id FROM threads WHERE channel_id = $1 AND title = $2 ORDER BY created_at LIMIT 1`,
		channelID, t.Title,
	).Scan(&threadID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		threadID = uuid.NewString()
		if _, err := a.exec(ctx, `
			INSERT INTO threads (id, channel_id, title, created_by_id, is_locked, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			threadID, channelID, t.Title, a.userIDs[t.Author], t.Locked, a.now,
		); err != nil {
			return err
		}
		a.result.Threads++
	case err != nil:
		return err
	}

	var existing int
	if err := a.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = $1`, threadID,
	).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	for i, m := range t.Messages {
		messageID := uuid.NewString()
		// 表示順を安定させるため1秒ずつずらす
		createdAt := a.now.Add(time.Duration(i) * time.Second)
		if _, err := a.exec(ctx, `
			INSERT INTO messages (id, thread_id, author_id, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			messageID, threadID, a.userIDs[m.Author], m.Content, createdAt,
		); err != nil {
			return err
		}
		a.result.Messages++

		for emoji, usernames := range m.Reactions {
			for _, username := range usernames {
				created, err := a.exec(ctx, `
					INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT DO NOTHING`,
					messageID, a.userIDs[username], emoji, createdAt,
				)
				if err != nil {
					return err
				}
				a.count(created, &a.result.Reactions)
			}
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
