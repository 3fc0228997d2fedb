package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/guildfire/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用したギルド所属リポジトリ。
type PostgresMembershipRepo struct {
	db DBTX
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db DBTX) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// FindFacts は認可判定用のメンバー情報を返す。
// 所属行が存在しなければIsMember=falseで返し、権限は取得しない。
func (r *PostgresMembershipRepo) FindFacts(ctx context.Context, guildID, userID string, lock LockMode) (*model.MemberFacts, error) {
	facts := &model.MemberFacts{GuildID: guildID, UserID: userID}
	if !isUUID(guildID) || !isUUID(userID) {
		return facts, nil
	}

	// 1. 所属行の確認
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM guild_members gm WHERE gm.guild_id = $1 AND gm.user_id = $2`+lock.suffix("gm"),
		guildID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return facts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find guild membership: %w", err)
	}
	facts.IsMember = true

	// 2. 割り当てロールの権限タグを集約（ロック句はDISTINCTと併用できないためGo側で重複排除）
	rows, err := r.db.QueryContext(ctx,
		`SELECT rp.permission
		 FROM member_roles mr
		 JOIN role_permissions rp ON rp.role_id = mr.role_id
		 WHERE mr.guild_id = $1 AND mr.user_id = $2
		 ORDER BY rp.permission`+lock.suffix("mr"),
		guildID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load member permissions: %w", err)
	}
	defer rows.Close()

	seen := make(map[model.Permission]bool)
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if !seen[p] {
			seen[p] = true
			facts.Permissions = append(facts.Permissions, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return facts, nil
}

// AddMember はユーザーをギルドに追加する。すでに所属している場合はfalseを返す。
func (r *PostgresMembershipRepo) AddMember(ctx context.Context, guildID, userID string, joinedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO guild_members (guild_id, user_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (guild_id, user_id) DO NOTHING`,
		guildID, userID, joinedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add guild member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// AssignRoleByName はギルド内の名前でロールを探し、メンバーに割り当てる。
func (r *PostgresMembershipRepo) AssignRoleByName(ctx context.Context, guildID, userID, roleName string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO member_roles (guild_id, user_id, role_id)
		 SELECT $1, $2, ro.id FROM roles ro WHERE ro.guild_id = $1 AND ro.name = $3
		 ON CONFLICT (guild_id, user_id, role_id) DO NOTHING`,
		guildID, userID, roleName,
	)
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
