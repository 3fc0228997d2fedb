// Package guild はギルドの閲覧・参加・権限照会のドメインロジックを提供する。
package guild

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
)

// DefaultMemberRole は参加時に割り当てるロール名。
const DefaultMemberRole = "Member"

// Summary はギルド一覧の1行を表す。
type Summary struct {
	Guild    model.Guild
	IsMember bool
}

// Detail はギルドとチャンネル一覧を表す。
type Detail struct {
	Guild    model.Guild
	Channels []*model.Channel
	IsMember bool
}

// Service はギルド操作のサービス層。
type Service struct {
	store repository.Store
	now   func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ListGuilds は全ギルドを名前順で返す。viewerIDが空でなければ所属有無を含める。
func (s *Service) ListGuilds(ctx context.Context, viewerID string) ([]Summary, error) {
	var summaries []Summary
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		guilds, err := r.Guilds.List(ctx)
		if err != nil {
			return fmt.Errorf("ギルド一覧の取得に失敗しました: %w", err)
		}

		joined := map[string]bool{}
		if viewerID != "" {
			mine, err := r.Guilds.ListByMember(ctx, viewerID)
			if err != nil {
				return fmt.Errorf("所属ギルドの取得に失敗しました: %w", err)
			}
			for _, g := range mine {
				joined[g.ID] = true
			}
		}

		summaries = make([]Summary, len(guilds))
		for i, g := range guilds {
			summaries[i] = Summary{Guild: *g, IsMember: joined[g.ID]}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetGuild はスラッグでギルドを取得し、チャンネルをposition順で返す。
func (s *Service) GetGuild(ctx context.Context, viewerID, slug string) (*Detail, error) {
	var detail *Detail
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		g, err := r.Guilds.FindBySlug(ctx, slug)
		if err != nil {
			return fmt.Errorf("ギルドの取得に失敗しました: %w", err)
		}
		if g == nil {
			return model.NewGuildNotFoundError(slug)
		}

		channels, err := r.Channels.ListByGuild(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("チャンネル一覧の取得に失敗しました: %w", err)
		}

		detail = &Detail{Guild: *g, Channels: channels}
		if viewerID != "" {
			facts, err := r.Members.FindFacts(ctx, g.ID, viewerID, repository.LockNone)
			if err != nil {
				return fmt.Errorf("メンバー情報の取得に失敗しました: %w", err)
			}
			detail.IsMember = facts.IsMember
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Join はユーザーをギルドに参加させ、既定のMemberロールを割り当てる。
// すでに参加済みの場合は何もせずfalseを返す。
func (s *Service) Join(ctx context.Context, actorID, slug string) (bool, error) {
	if actorID == "" {
		return false, model.NewUnauthorizedError()
	}

	var joined bool
	var guildID string
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		g, err := r.Guilds.FindBySlug(ctx, slug)
		if err != nil {
			return fmt.Errorf("ギルドの取得に失敗しました: %w", err)
		}
		if g == nil {
			return model.NewGuildNotFoundError(slug)
		}
		guildID = g.ID

		joined, err = JoinWithDefaultRole(ctx, r, g.ID, actorID, s.now())
		return err
	})
	if err != nil {
		return false, err
	}

	if joined {
		slog.Info("guild joined", "guild_id", guildID, "user_id", actorID)
	}
	return joined, nil
}

// JoinWithDefaultRole はrのトランザクション内でメンバーを追加し、Memberロールを割り当てる。
// 初回ログイン時の自動参加からも使う。
func JoinWithDefaultRole(ctx context.Context, r *repository.Repositories, guildID, userID string, at time.Time) (bool, error) {
	added, err := r.Members.AddMember(ctx, guildID, userID, at)
	if err != nil {
		return false, fmt.Errorf("メンバーの追加に失敗しました: %w", err)
	}
	if !added {
		return false, nil
	}
	if _, err := r.Members.AssignRoleByName(ctx, guildID, userID, DefaultMemberRole); err != nil {
		return false, fmt.Errorf("ロールの割り当てに失敗しました: %w", err)
	}
	return true, nil
}

// Permissions はユーザーのギルド内での所属と実効権限を返す。
func (s *Service) Permissions(ctx context.Context, actorID, slug string) (*model.MemberFacts, error) {
	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}

	var facts *model.MemberFacts
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		g, err := r.Guilds.FindBySlug(ctx, slug)
		if err != nil {
			return fmt.Errorf("ギルドの取得に失敗しました: %w", err)
		}
		if g == nil {
			return model.NewGuildNotFoundError(slug)
		}

		facts, err = r.Members.FindFacts(ctx, g.ID, actorID, repository.LockNone)
		if err != nil {
			return fmt.Errorf("メンバー情報の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return facts, nil
}
