package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/guildfire/internal/model"
)

// PostgresReactionRepo はPostgreSQLを使用したリアクションリポジトリ。
// (message_id, user_id, emoji) の主キーにより、並行トグルでも重複行は生まれない。
type PostgresReactionRepo struct {
	db DBTX
}

// NewPostgresReactionRepo はPostgresReactionRepoを生成する。
func NewPostgresReactionRepo(db DBTX) *PostgresReactionRepo {
	return &PostgresReactionRepo{db: db}
}

// Insert はリアクションを追加する。同じ組がすでにある場合はfalseを返す。
func (r *PostgresReactionRepo) Insert(ctx context.Context, reaction *model.MessageReaction) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert reaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete はリアクションを削除する。存在しなかった場合はfalseを返す。
func (r *PostgresReactionRepo) Delete(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete reaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// CountsByMessages はメッセージごとの絵文字別件数を、最初にリアクションされた順で返す。
func (r *PostgresReactionRepo) CountsByMessages(ctx context.Context, messageIDs []string, viewerID string) (map[string][]model.ReactionCount, error) {
	counts := make(map[string][]model.ReactionCount, len(messageIDs))
	if len(messageIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT message_id, emoji, COUNT(*) AS cnt,
		        COALESCE(BOOL_OR(user_id::text = $2), false) AS reacted
		 FROM message_reactions
		 WHERE message_id = ANY($1::uuid[])
		 GROUP BY message_id, emoji
		 ORDER BY message_id, MIN(created_at), emoji`,
		pq.Array(messageIDs), viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var rc model.ReactionCount
		if err := rows.Scan(&messageID, &rc.Emoji, &rc.Count, &rc.Reacted); err != nil {
			return nil, fmt.Errorf("failed to scan reaction count: %w", err)
		}
		counts[messageID] = append(counts[messageID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reaction counts: %w", err)
	}
	return counts, nil
}

// compile-time interface check
var _ ReactionRepository = (*PostgresReactionRepo)(nil)
