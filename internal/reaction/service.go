// Package reaction はメッセージへのリアクションのトグル操作を提供する。
package reaction

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/guildfire/internal/authz"
	"github.com/hitoshi/guildfire/internal/metrics"
	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
)

// MaxEmojiLength は絵文字（またはショートコード）の最大文字数。
const MaxEmojiLength = 16

// Service はリアクション操作のサービス層。
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

// Toggle は (message, actor, emoji) のリアクションを付け外しする。
// 存在すれば削除して removed を、存在しなければ追加して added を返す。
// 並行するトグルとの一意制約の競合は added として扱う。
func (s *Service) Toggle(ctx context.Context, actorID, messageID, emoji string) (model.ToggleResult, error) {
	if actorID == "" {
		return "", model.NewUnauthorizedError()
	}

	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return "", model.NewValidationError("emoji", fmt.Sprintf("1〜%d文字で入力してください", MaxEmojiLength))
	}

	var result model.ToggleResult
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		m, err := r.Messages.FindByID(ctx, messageID, repository.LockShare)
		if err != nil {
			return fmt.Errorf("メッセージの取得に失敗しました: %w", err)
		}
		if m == nil || m.IsDeleted() {
			return model.NewMessageNotFoundError(messageID)
		}

		if s.policy.NeedsFactsForReaction() {
			t, err := r.Threads.FindByID(ctx, m.ThreadID, repository.LockNone)
			if err != nil {
				return fmt.Errorf("スレッドの取得に失敗しました: %w", err)
			}
			if t == nil {
				return model.NewThreadNotFoundError(m.ThreadID)
			}
			facts, err := r.Members.FindFacts(ctx, t.GuildID, actorID, repository.LockShare)
			if err != nil {
				return fmt.Errorf("メンバー情報の取得に失敗しました: %w", err)
			}
			if !s.policy.CanReact(facts) {
				s.metrics.RecordDenied("toggle_reaction")
				return model.NewForbiddenError("ギルドのメンバーではありません")
			}
		}

		// 削除を先に試み、消えた行があれば removed とする
		removed, err := r.Reactions.Delete(ctx, m.ID, actorID, emoji)
		if err != nil {
			return fmt.Errorf("リアクションの削除に失敗しました: %w", err)
		}
		if removed {
			result = model.ToggleRemoved
			return nil
		}

		// 並行トグルが先に挿入した場合もInsertはfalseを返すだけなので、結果はaddedのまま
		if _, err := r.Reactions.Insert(ctx, &model.MessageReaction{
			MessageID: m.ID,
			UserID:    actorID,
			Emoji:     emoji,
			CreatedAt: s.now(),
		}); err != nil {
			return fmt.Errorf("リアクションの追加に失敗しました: %w", err)
		}
		result = model.ToggleAdded
		return nil
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordReactionToggled(string(result))
	return result, nil
}
