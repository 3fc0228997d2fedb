// Package thread はスレッドの作成、ロック操作、閲覧のドメインロジックを提供する。
package thread

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/guildfire/internal/authz"
	"github.com/hitoshi/guildfire/internal/metrics"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
	"github.com/hitoshi/guildfire/internal/security"
)

const (
	// MinTitleLength はスレッドタイトルの最小文字数（トリム後）。
	MinTitleLength = 2
	// MaxTitleLength はスレッドタイトルの最大文字数（トリム後）。
	MaxTitleLength = 120

	// DefaultPageSize はメッセージ一覧のデフォルト取得件数。
	DefaultPageSize = 50
	// MaxPageSize はメッセージ一覧の最大取得件数。
	MaxPageSize = 100
)

// Summary はチャンネルのスレッド一覧の1行を表す。
type Summary struct {
	Thread        model.Thread
	MessageCount  int
	LastMessageAt *time.Time
}

// MessageView は閲覧用に整形したメッセージ。
// 論理削除済みのメッセージはDeleted=trueとなり、本文は空になる。
type MessageView struct {
	ID          string
	ThreadID    string
	AuthorID    string
	AuthorName  string
	Content     string
	ContentHTML string
	State       model.MessageState
	CreatedAt   time.Time
	EditedAt    *time.Time
	Deleted     bool
	Reactions   []model.ReactionCount
}

// View はスレッドとメッセージの1ページ分を表す。
type View struct {
	Thread     model.Thread
	Messages   []MessageView
	NextCursor string // 次ページがない場合は空
}

// Service はスレッド操作のサービス層。
type Service struct {
	store    repository.Store
	metrics  metrics.Recorder
	renderer security.ContentRenderer
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, recorder metrics.Recorder, renderer security.ContentRenderer) *Service {
	if renderer == nil {
		renderer = security.NewContentRenderer()
	}
	return &Service{
		store:    store,
		metrics:  metrics.OrNop(recorder),
		renderer: renderer,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// CreateThread はチャンネルにスレッドを作成する。
// 1. 認証済みであること
// 2. タイトルがトリム後2〜120文字であること
// 3. チャンネルが存在し、作成者がそのギルドのメンバーであること
func (s *Service) CreateThread(ctx context.Context, actorID, channelID, title string) (*model.Thread, error) {
	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}

	title = strings.TrimSpace(title)
	if n := utf8.RuneCountInString(title); n < MinTitleLength || n > MaxTitleLength {
		return nil, model.NewValidationError("title", fmt.Sprintf("%d〜%d文字で入力してください", MinTitleLength, MaxTitleLength))
	}

	var created *model.Thread
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		ch, err := r.Channels.FindByID(ctx, channelID)
		if err != nil {
			return fmt.Errorf("チャンネルの取得に失敗しました: %w", err)
		}
		if ch == nil {
			return model.NewChannelNotFoundError(channelID)
		}

		facts, err := r.Members.FindFacts(ctx, ch.GuildID, actorID, repository.LockShare)
		if err != nil {
			return fmt.Errorf("メンバー情報の取得に失敗しました: %w", err)
		}
		if !authz.CanCreateThread(facts) {
			s.metrics.RecordDenied("create_thread")
			return model.NewForbiddenError("ギルドのメンバーではありません")
		}

		now := s.now()
		t := &model.Thread{
			ID:          uuid.NewString(),
			ChannelID:   ch.ID,
			GuildID:     ch.GuildID,
			Title:       title,
			CreatedByID: actorID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.Threads.Create(ctx, t); err != nil {
			return fmt.Errorf("スレッドの作成に失敗しました: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordThreadCreated()
	slog.Info("thread created", "thread_id", created.ID, "channel_id", created.ChannelID, "user_id", actorID)
	return created, nil
}

// SetLocked はスレッドのロック状態を変更する。管理者のみ実行できる。
// すでに指定の状態であれば何も変更せずに現在のスレッドを返す。
func (s *Service) SetLocked(ctx context.Context, actorID, threadID string, locked bool) (*model.Thread, error) {
	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}

	var result *model.Thread
	changed := false
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		t, err := r.Threads.FindByID(ctx, threadID, repository.LockUpdate)
		if err != nil {
			return fmt.Errorf("スレッドの取得に失敗しました: %w", err)
		}
		if t == nil {
			return model.NewThreadNotFoundError(threadID)
		}

		facts, err := r.Members.FindFacts(ctx, t.GuildID, actorID, repository.LockShare)
		if err != nil {
			return fmt.Errorf("メンバー情報の取得に失敗しました: %w", err)
		}
		if !authz.CanModerateThread(facts) {
			s.metrics.RecordDenied("toggle_thread_lock")
			return model.NewForbiddenError("スレッドのロック操作には管理者権限が必要です")
		}

		if t.IsLocked == locked {
			result = t
			return nil
		}

		now := s.now()
		if err := r.Threads.SetLocked(ctx, t.ID, locked, now); err != nil {
			return fmt.Errorf("スレッドのロック状態の更新に失敗しました: %w", err)
		}
		t.IsLocked = locked
		t.UpdatedAt = now
		result = t
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.RecordThreadLockChanged(locked)
		slog.Info("thread lock changed", "thread_id", result.ID, "state", string(result.State()), "user_id", actorID)
	}
	return result, nil
}

// ListThreads はチャンネルのスレッドを最終活動日時の降順で返す。
func (s *Service) ListThreads(ctx context.Context, channelID string) (*model.Channel, []Summary, error) {
	var (
		channel   *model.Channel
		summaries []Summary
	)
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		ch, err := r.Channels.FindByID(ctx, channelID)
		if err != nil {
			return fmt.Errorf("チャンネルの取得に失敗しました: %w", err)
		}
		if ch == nil {
			return model.NewChannelNotFoundError(channelID)
		}

		rows, err := r.Threads.ListByChannel(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("スレッド一覧の取得に失敗しました: %w", err)
		}

		channel = ch
		summaries = make([]Summary, len(rows))
		for i, row := range rows {
			summaries[i] = Summary{
				Thread:        row.Thread,
				MessageCount:  row.MessageCount,
				LastMessageAt: row.LastMessageAt,
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return channel, summaries, nil
}

// GetThread はスレッドとメッセージの1ページを返す。
// viewerIDが空でなければ、各リアクション集計に閲覧者自身のリアクション有無を含める。
// cursorは前ページのNextCursorをそのまま渡す。limitが0以下の場合はDefaultPageSizeを使う。
func (s *Service) GetThread(ctx context.Context, viewerID, threadID, cursor string, limit int) (*View, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		return nil, model.NewValidationError("limit", fmt.Sprintf("1〜%dの範囲で指定してください", MaxPageSize))
	}

	var after *repository.MessageCursor
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, model.NewValidationError("cursor", "形式が正しくありません")
		}
		after = c
	}

	view := &View{}
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		t, err := r.Threads.FindByID(ctx, threadID, repository.LockNone)
		if err != nil {
			return fmt.Errorf("スレッドの取得に失敗しました: %w", err)
		}
		if t == nil {
			return model.NewThreadNotFoundError(threadID)
		}
		view.Thread = *t

		// 次ページの有無を判定するために1件多く取得する
		messages, err := r.Messages.ListByThread(ctx, t.ID, after, limit+1)
		if err != nil {
			return fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
		}
		if len(messages) > limit {
			messages = messages[:limit]
			last := messages[len(messages)-1]
			view.NextCursor = EncodeCursor(repository.MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		}

		ids := make([]string, 0, len(messages))
		authorIDs := make([]string, 0, len(messages))
		seen := map[string]bool{}
		for _, m := range messages {
			ids = append(ids, m.ID)
			if !seen[m.AuthorID] {
				seen[m.AuthorID] = true
				authorIDs = append(authorIDs, m.AuthorID)
			}
		}

		authors, err := r.Users.ListByIDs(ctx, authorIDs)
		if err != nil {
			return fmt.Errorf("投稿者の取得に失敗しました: %w", err)
		}
		reactions, err := r.Reactions.CountsByMessages(ctx, ids, viewerID)
		if err != nil {
			return fmt.Errorf("リアクション集計の取得に失敗しました: %w", err)
		}

		view.Messages = make([]MessageView, len(messages))
		for i, m := range messages {
			view.Messages[i] = s.toMessageView(m, authors[m.AuthorID], reactions[m.ID])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) toMessageView(m *model.Message, author *model.User, reactions []model.ReactionCount) MessageView {
	v := MessageView{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		AuthorID:  m.AuthorID,
		State:     m.State(),
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		Reactions: reactions,
	}
	if author != nil {
		v.AuthorName = author.Name()
	}
	if v.Reactions == nil {
		v.Reactions = []model.ReactionCount{}
	}

	// 論理削除済みの本文は返さない
	if m.IsDeleted() {
		v.Deleted = true
		return v
	}
	v.Content = m.Content
	v.ContentHTML = s.renderer.Render(m.Content)
	return v
}

// EncodeCursor はメッセージ位置を不透明なカーソル文字列に変換する。
func EncodeCursor(c repository.MessageCursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "_" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor はEncodeCursorで生成したカーソル文字列を解析する。
func DecodeCursor(s string) (*repository.MessageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "_")
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid cursor: %q", raw)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	if err := uuid.Validate(id); err != nil {
		return nil, fmt.Errorf("invalid cursor id: %w", err)
	}
	return &repository.MessageCursor{CreatedAt: createdAt, ID: id}, nil
}
