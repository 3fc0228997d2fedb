// Package user はユーザープロフィールのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/guildfire/internal/model"
	"github.com/hitoshi/guildfire/internal/repository"
)

// MaxDisplayNameLength は表示名の最大文字数（トリム後）。
const MaxDisplayNameLength = 64

// Profile はユーザーと所属ギルド、ログインに使えるプロバイダーを表す。
type Profile struct {
	User      model.User
	Guilds    []*model.Guild
	Providers []string
}

// Service はユーザープロフィールのサービス層。
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

// GetProfile はユーザーと所属ギルドを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}

	var profile *Profile
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		u, err := r.Users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if u == nil {
			return model.NewUserNotFoundError()
		}

		guilds, err := r.Guilds.ListByMember(ctx, userID)
		if err != nil {
			return fmt.Errorf("所属ギルドの取得に失敗しました: %w", err)
		}
		providers, err := r.Identities.ListProvidersByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("紐付けプロバイダーの取得に失敗しました: %w", err)
		}
		profile = &Profile{User: *u, Guilds: guilds, Providers: providers}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateDisplayName は表示名を更新する。トリム後に空の場合は表示名を未設定に戻す。
func (s *Service) UpdateDisplayName(ctx context.Context, userID, displayName string) (*model.User, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}

	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLength {
		return nil, model.NewValidationError("displayName", fmt.Sprintf("%d文字以内で入力してください", MaxDisplayNameLength))
	}

	var updated *model.User
	err := s.store.WithinTx(ctx, func(r *repository.Repositories) error {
		u, err := r.Users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if u == nil {
			return model.NewUserNotFoundError()
		}

		now := s.now()
		if err := r.Users.UpdateDisplayName(ctx, userID, displayName, now); err != nil {
			return fmt.Errorf("表示名の更新に失敗しました: %w", err)
		}
		u.DisplayName = displayName
		u.UpdatedAt = now
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("表示名を更新しました",
		slog.String("user_id", userID),
	)
	return updated, nil
}
