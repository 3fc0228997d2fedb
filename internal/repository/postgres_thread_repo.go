package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/guildfire/internal/model"
)

// PostgresThreadRepo はPostgreSQLを使用したスレッドリポジトリ。
type PostgresThreadRepo struct {
	db DBTX
}

// NewPostgresThreadRepo はPostgresThreadRepoを生成する。
func NewPostgresThreadRepo(db DBTX) *PostgresThreadRepo {
	return &PostgresThreadRepo{db: db}
}

// FindByID は指定IDのスレッドを所属ギルドIDとともに取得する。見つからない場合はnilを返す。
// LockShareは投稿時にロック状態の変更と競合させないため、LockUpdateはロック状態の変更時に使う。
func (r *PostgresThreadRepo) FindByID(ctx context.Context, id string, lock LockMode) (*model.Thread, error) {
	if !isUUID(id) {
		return nil, nil
	}
	t := &model.Thread{}
	err := r.db.QueryRowContext(ctx,
		`SELECT t.id, t.channel_id, c.guild_id, t.title, t.created_by_id, t.is_locked, t.created_at, t.updated_at
		 FROM threads t
		 JOIN channels c ON c.id = t.channel_id
		 WHERE t.id = $1`+lock.suffix("t"),
		id,
	).Scan(&t.ID, &t.ChannelID, &t.GuildID, &t.Title, &t.CreatedByID, &t.IsLocked, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find thread by ID: %w", err)
	}
	return t, nil
}

// Create はスレッドを作成する。
func (r *PostgresThreadRepo) Create(ctx context.Context, t *model.Thread) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO threads (id, channel_id, title, created_by_id, is_locked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ChannelID, t.Title, t.CreatedByID, t.IsLocked, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// SetLocked はロック状態を更新する。
func (r *PostgresThreadRepo) SetLocked(ctx context.Context, id string, locked bool, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE threads SET is_locked = $2, updated_at = $3 WHERE id = $1`,
		id, locked, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread lock: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("thread not found: %s", id)
	}
	return nil
}

// ListByChannel はチャンネルのスレッドを最終活動日時の降順で返す。
// 論理削除済みのメッセージは件数に含めない。
func (r *PostgresThreadRepo) ListByChannel(ctx context.Context, channelID string) ([]ThreadWithStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.channel_id, c.guild_id, t.title, t.created_by_id, t.is_locked, t.created_at, t.updated_at,
		        COUNT(m.id) AS message_count,
		        MAX(m.created_at) AS last_message_at
		 FROM threads t
		 JOIN channels c ON c.id = t.channel_id
		 LEFT JOIN messages m ON m.thread_id = t.id AND m.deleted_at IS NULL
		 WHERE t.channel_id = $1
		 GROUP BY t.id, c.guild_id
		 ORDER BY COALESCE(MAX(m.created_at), t.created_at) DESC, t.id DESC`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	threads := []ThreadWithStats{}
	for rows.Next() {
		var tw ThreadWithStats
		var lastMessageAt sql.NullTime
		if err := rows.Scan(
			&tw.ID, &tw.ChannelID, &tw.GuildID, &tw.Title, &tw.CreatedByID, &tw.IsLocked, &tw.CreatedAt, &tw.UpdatedAt,
			&tw.MessageCount, &lastMessageAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		if lastMessageAt.Valid {
			at := lastMessageAt.Time
			tw.LastMessageAt = &at
		}
		threads = append(threads, tw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threads: %w", err)
	}
	return threads, nil
}

// compile-time interface check
var _ ThreadRepository = (*PostgresThreadRepo)(nil)
