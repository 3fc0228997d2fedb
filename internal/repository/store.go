package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
// リポジトリはどちらに対しても同じSQLを実行できる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// LockMode は行取得時の行ロックの種類を表す。
type LockMode int

const (
	// LockNone はロックを取得しない。
	LockNone LockMode = iota
	// LockShare は共有ロック（FOR SHARE）を取得する。並行する更新・削除をブロックする。
	LockShare
	// LockUpdate は排他ロック（FOR UPDATE）を取得する。
	LockUpdate
)

// suffix はSELECT文末尾に付けるロック句を返す。tableはロック対象のテーブル別名。
func (m LockMode) suffix(table string) string {
	switch m {
	case LockShare:
		return " FOR SHARE OF " + table
	case LockUpdate:
		return " FOR UPDATE OF " + table
	default:
		return ""
	}
}

// Repositories は同一のDBTX上で動作するリポジトリ一式。
type Repositories struct {
	Users      UserRepository
	Identities IdentityRepository
	Sessions   SessionRepository
	Guilds     GuildRepository
	Channels   ChannelRepository
	Members    MembershipRepository
	Threads    ThreadRepository
	Messages   MessageRepository
	Reactions  ReactionRepository
}

// NewRepositories はdb上で動作するPostgreSQLリポジトリ一式を生成する。
func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		Users:      NewPostgresUserRepo(db),
		Identities: NewPostgresIdentityRepo(db),
		Sessions:   NewPostgresSessionRepo(db),
		Guilds:     NewPostgresGuildRepo(db),
		Channels:   NewPostgresChannelRepo(db),
		Members:    NewPostgresMembershipRepo(db),
		Threads:    NewPostgresThreadRepo(db),
		Messages:   NewPostgresMessageRepo(db),
		Reactions:  NewPostgresReactionRepo(db),
	}
}

// Store はトランザクション境界を提供する。
// 認可判定とそれに続く書き込みは同じWithinTx内で行う。
type Store interface {
	// WithinTx はトランザクションを開始し、そのトランザクションに束縛したリポジトリでfnを実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithinTx(ctx context.Context, fn func(r *Repositories) error) error
}

// PostgresStore はPostgreSQLのトランザクションを使うStore実装。
type PostgresStore struct {
	db TxBeginner
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db TxBeginner) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinTx はREAD COMMITTEDのトランザクション内でfnを実行する。
// 競合する書き込みは各リポジトリの行ロックと一意制約で直列化される。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(r *Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation はerrが一意制約違反（SQLSTATE 23505）かどうかを判定する。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isUUID はidがUUIDとして解釈可能かどうかを判定する。
// UUID列に不正な文字列を渡すとPostgreSQLがエラーを返すため、事前に未検出として扱う。
func isUUID(id string) bool {
	return uuid.Validate(id) == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
