package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/guildfire/internal/model"
)

const guildColumns = `g.id, g.slug, g.name, g.owner_id, g.created_at`

// PostgresGuildRepo はPostgreSQLを使用したギルドリポジトリ。
type PostgresGuildRepo struct {
	db DBTX
}

// NewPostgresGuildRepo はPostgresGuildRepoを生成する。
func NewPostgresGuildRepo(db DBTX) *PostgresGuildRepo {
	return &PostgresGuildRepo{db: db}
}

func scanGuild(row rowScanner) (*model.Guild, error) {
	g := &model.Guild{}
	var ownerID sql.NullString
	if err := row.Scan(&g.ID, &g.Slug, &g.Name, &ownerID, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.OwnerID = ownerID.String
	return g, nil
}

// FindByID は指定IDのギルドを取得する。見つからない場合はnilを返す。
func (r *PostgresGuildRepo) FindByID(ctx context.Context, id string) (*model.Guild, error) {
	if !isUUID(id) {
		return nil, nil
	}
	g, err := scanGuild(r.db.QueryRowContext(ctx,
		`SELECT `+guildColumns+` FROM guilds g WHERE g.id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find guild by ID: %w", err)
	}
	return g, nil
}

// FindBySlug はスラッグでギルドを取得する。見つからない場合はnilを返す。
func (r *PostgresGuildRepo) FindBySlug(ctx context.Context, slug string) (*model.Guild, error) {
	g, err := scanGuild(r.db.QueryRowContext(ctx,
		`SELECT `+guildColumns+` FROM guilds g WHERE g.slug = $1`, slug,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find guild by slug: %w", err)
	}
	return g, nil
}

// List は全ギルドを名前順で返す。
func (r *PostgresGuildRepo) List(ctx context.Context) ([]*model.Guild, error) {
	return r.query(ctx, `SELECT `+guildColumns+` FROM guilds g ORDER BY g.name, g.id`)
}

// ListByMember は指定ユーザーが所属するギルドを名前順で返す。
func (r *PostgresGuildRepo) ListByMember(ctx context.Context, userID string) ([]*model.Guild, error) {
	if !isUUID(userID) {
		return []*model.Guild{}, nil
	}
	return r.query(ctx,
		`SELECT `+guildColumns+`
		 FROM guilds g
		 JOIN guild_members gm ON gm.guild_id = g.id
		 WHERE gm.user_id = $1
		 ORDER BY g.name, g.id`,
		userID,
	)
}

func (r *PostgresGuildRepo) query(ctx context.Context, query string, args ...any) ([]*model.Guild, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list guilds: %w", err)
	}
	defer rows.Close()

	guilds := []*model.Guild{}
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guild: %w", err)
		}
		guilds = append(guilds, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guilds: %w", err)
	}
	return guilds, nil
}

// compile-time interface check
var _ GuildRepository = (*PostgresGuildRepo)(nil)
