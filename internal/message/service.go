// Package message はメッセージの投稿・編集・論理削除のドメインロジックを提供する。
//
// メッセージは Active → Edited → Deleted の順に遷移し、Deleted は終端状態となる。
// 認可判定と書き込みは常に同じトランザクション内で行う。
package message

import (
	"context"
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
)

// MaxContentLength はメッセージ本文の最大文字数（トリム後）。
const MaxContentLength = 2000

// Service はメッセージ操作のサービス層。
type Service struct {
	store   repository.Store
	policy  authz.Policy
	metrics metrics.Recorder
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, policy authz.Policy, recorder metrics.Recorder) *Service {
	return &Service{
		store:   store,
		policy:  policy,
		metrics: metrics.OrNop(recorder),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ValidateContent は前後の空白を除いた本文が空でなく、最大文字数以内であることを検証する。
// 保存される本文は入力のままで、トリムは検証にのみ使う。
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return model.NewValidationError("content", "本文を入力してください")
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return model.NewValidationError("content", fmt.Sprintf("%d文字以内で入力してください", MaxContentLength))
	}
	return nil
}

// Create はスレッドにメッセージを投稿する。
// 1. 認証済みであること
// 2. 本文が検証を通ること
// 3. スレッドが存在し、投稿者がそのギルドのメンバーであること
// 4. スレッドがロック中の場合は投稿者が管理者であること
func (s *Service) Create(ctx context.Context, actorID, threadID, content string) (*model.Message, error) {
	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	var created *model.Message
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		// ロック操作と並行した投稿を防ぐため、スレッド行を共有ロックで読む
		t, err := r.Threads.FindByID(ctx, threadID, repository.LockShare)
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
		if !authz.IsGuildMember(facts) {
			s.metrics.RecordDenied("create_message")
			return model.NewForbiddenError("ギルドのメンバーではありません")
		}
		if !authz.CanPostMessage(facts, t) {
			s.metrics.RecordDenied("create_message")
			return model.NewForbiddenError("ロック中のスレッドには管理者のみ投稿できます")
		}

		m := &model.Message{
			ID:        uuid.NewString(),
			ThreadID:  t.ID,
			AuthorID:  actorID,
			Content:   content,
			CreatedAt: s.now(),
		}
		if err := r.Messages.Create(ctx, m); err != nil {
			return fmt.Errorf("メッセージの作成に失敗しました: %w", err)
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMessagePosted()
	slog.Debug("message posted", "message_id", created.ID, "thread_id", created.ThreadID, "user_id", actorID)
	return created, nil
}

// Update はメッセージ本文を編集する。作成者本人のみ実行できる。
// 論理削除済みのメッセージは存在しないものとして扱う。
func (s *Service) Update(ctx context.Context, actorID, messageID, content string) (*model.Message, error) {
	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	var updated *model.Message
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		m, err := r.Messages.FindByID(ctx, messageID, repository.LockUpdate)
		if err != nil {
			return fmt.Errorf("メッセージの取得に失敗しました: %w", err)
		}
		if m == nil || m.IsDeleted() {
			return model.NewMessageNotFoundError(messageID)
		}
		if !authz.CanEditMessage(actorID, m) {
			s.metrics.RecordDenied("update_message")
			return model.NewForbiddenError("メッセージの作成者ではありません")
		}

		now := s.now()
		if err := r.Messages.UpdateContent(ctx, m.ID, content, now); err != nil {
			return fmt.Errorf("メッセージの更新に失敗しました: %w", err)
		}
		m.Content = content
		m.EditedAt = &now
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMessageEdited()
	return updated, nil
}

// Delete はメッセージを論理削除する。
// 作成者本人に加え、ポリシーで有効化されている場合は delete_any 権限を持つメンバーも削除できる。
// 行と本文は保持し、deleted_at と deleted_by_id を設定する。
func (s *Service) Delete(ctx context.Context, actorID, messageID string) (*model.Message, error) {
	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}

	var deleted *model.Message
	byModerator := false
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		m, err := r.Messages.FindByID(ctx, messageID, repository.LockUpdate)
		if err != nil {
			return fmt.Errorf("メッセージの取得に失敗しました: %w", err)
		}
		if m == nil || m.IsDeleted() {
			return model.NewMessageNotFoundError(messageID)
		}

		// 作成者以外の場合のみ、モデレーション権限の確認にギルドの情報が必要になる
		var facts *model.MemberFacts
		if m.AuthorID != actorID && s.policy.AdminDeleteAny {
			t, err := r.Threads.FindByID(ctx, m.ThreadID, repository.LockNone)
			if err != nil {
				return fmt.Errorf("スレッドの取得に失敗しました: %w", err)
			}
			if t == nil {
				return model.NewThreadNotFoundError(m.ThreadID)
			}
			facts, err = r.Members.FindFacts(ctx, t.GuildID, actorID, repository.LockShare)
			if err != nil {
				return fmt.Errorf("メンバー情報の取得に失敗しました: %w", err)
			}
		}
		if !s.policy.CanDeleteMessage(actorID, m, facts) {
			s.metrics.RecordDenied("delete_message")
			return model.NewForbiddenError("メッセージの作成者ではありません")
		}

		now := s.now()
		if err := r.Messages.SoftDelete(ctx, m.ID, actorID, now); err != nil {
			return fmt.Errorf("メッセージの削除に失敗しました: %w", err)
		}
		m.DeletedAt = &now
		deletedBy := actorID
		m.DeletedByID = &deletedBy
		deleted = m
		byModerator = m.AuthorID != actorID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMessageDeleted(byModerator)
	slog.Info("message deleted",
		"message_id", deleted.ID,
		"thread_id", deleted.ThreadID,
		"user_id", actorID,
		"by_moderator", byModerator,
	)
	return deleted, nil
}
