// Package user はログイン中ユーザーのプロフィール参照を提供する。
package user

import (
	"context"
	"fmt"

	"github.com/hitoshi/dealhub/internal/model"
)

// UserFinder はID指定でユーザーを取得するインターフェース。
// repository.UserRepositoryが満たす。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service はユーザー参照のサービス層。
type Service struct {
	users UserFinder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserFinder) *Service {
	return &Service{users: users}
}

// GetProfile はユーザーの概要を返す。パスワードハッシュとセッション情報は含めない。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.UserSummary, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	summary := u.Summary()
	return &summary, nil
}
