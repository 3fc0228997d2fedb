package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/guildfire/internal/model"
)

// PostgresIdentityRepo はOAuthプロバイダーのアカウントとギルドファイアのユーザーの紐付けを扱う。
type PostgresIdentityRepo struct {
	db DBTX
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db DBTX) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はログイン時の本人解決に使う。紐付けがなければnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var i model.Identity
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&i.ID, &i.UserID, &i.Provider, &i.ProviderUserID, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity for %s: %w", provider, err)
	}
	return &i, nil
}

// ListProvidersByUserID はユーザーがログインに使えるプロバイダー名を名前順で返す。
func (r *PostgresIdentityRepo) ListProvidersByUserID(ctx context.Context, userID string) ([]string, error) {
	if !isUUID(userID) {
		return []string{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT provider FROM identities WHERE user_id = $1 ORDER BY provider`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity providers: %w", err)
	}
	defer rows.Close()

	providers := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan identity provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
