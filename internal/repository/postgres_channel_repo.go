package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/guildfire/internal/model"
)

// PostgresChannelRepo はPostgreSQLを使用したチャンネルリポジトリ。
type PostgresChannelRepo struct {
	db DBTX
}

// NewPostgresChannelRepo はPostgresChannelRepoを生成する。
func NewPostgresChannelRepo(db DBTX) *PostgresChannelRepo {
	return &PostgresChannelRepo{db: db}
}

// FindByID は指定IDのチャンネルを取得する。見つからない場合はnilを返す。
func (r *PostgresChannelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	if !isUUID(id) {
		return nil, nil
	}
	ch := &model.Channel{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name, type, position, created_at FROM channels WHERE id = $1`,
		id,
	).Scan(&ch.ID, &ch.GuildID, &ch.Name, &ch.Type, &ch.Position, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find channel by ID: %w", err)
	}
	return ch, nil
}

// ListByGuild はギルドのチャンネルをposition, name順で返す。
func (r *PostgresChannelRepo) ListByGuild(ctx context.Context, guildID string) ([]*model.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guild_id, name, type, position, created_at
		 FROM channels
		 WHERE guild_id = $1
		 ORDER BY position, name`,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	channels := []*model.Channel{}
	for rows.Next() {
		ch := &model.Channel{}
		if err := rows.Scan(&ch.ID, &ch.GuildID, &ch.Name, &ch.Type, &ch.Position, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}
	return channels, nil
}

// compile-time interface check
var _ ChannelRepository = (*PostgresChannelRepo)(nil)
