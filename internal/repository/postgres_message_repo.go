package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/guildfire/internal/model"
)

const messageColumns = `m.id, m.thread_id, m.author_id, m.content, m.created_at, m.edited_at, m.deleted_at, m.deleted_by_id`

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db DBTX
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db DBTX) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func scanMessage(row rowScanner) (*model.Message, error) {
	m := &model.Message{}
	var editedAt, deletedAt sql.NullTime
	var deletedByID sql.NullString
	if err := row.Scan(&m.ID, &m.ThreadID, &m.AuthorID, &m.Content, &m.CreatedAt, &editedAt, &deletedAt, &deletedByID); err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if deletedByID.Valid {
		s := deletedByID.String
		m.DeletedByID = &s
	}
	return m, nil
}

// FindByID は指定IDのメッセージを取得する。論理削除済みも返す。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string, lock LockMode) (*model.Message, error) {
	if !isUUID(id) {
		return nil, nil
	}
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`+lock.suffix("m"),
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by ID: %w", err)
	}
	return m, nil
}

// Create はメッセージを作成する。
func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, author_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ThreadID, m.AuthorID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// UpdateContent は本文とedited_atを更新する。論理削除済みのメッセージは更新しない。
func (r *PostgresMessageRepo) UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, content, editedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return expectOneRow(result, "message", id)
}

// SoftDelete はメッセージを論理削除する。すでに削除済みの場合は何もしない。
func (r *PostgresMessageRepo) SoftDelete(ctx context.Context, id, deletedByID string, deletedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = $3, deleted_by_id = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, deletedByID, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to soft delete message: %w", err)
	}
	return expectOneRow(result, "message", id)
}

// ListByThread はスレッドのメッセージを(created_at, id)昇順で返す。
func (r *PostgresMessageRepo) ListByThread(ctx context.Context, threadID string, cursor *MessageCursor, limit int) ([]*model.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+messageColumns+`
			 FROM messages m
			 WHERE m.thread_id = $1
			 ORDER BY m.created_at, m.id
			 LIMIT $2`,
			threadID, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+messageColumns+`
			 FROM messages m
			 WHERE m.thread_id = $1 AND (m.created_at, m.id) > ($2, $3::uuid)
			 ORDER BY m.created_at, m.id
			 LIMIT $4`,
			threadID, cursor.CreatedAt, cursor.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func expectOneRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
