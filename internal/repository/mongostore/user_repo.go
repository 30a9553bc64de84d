package mongostore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type userDoc struct {
	ID               string    `bson:"_id"`
	Email            string    `bson:"email"`
	EmailKey         string    `bson:"email_key"`
	Name             string    `bson:"name"`
	PasswordHash     string    `bson:"password_hash"`
	Role             string    `bson:"role"`
	EmailVerified    bool      `bson:"email_verified"`
	RefreshTokenHash string    `bson:"refresh_token_hash"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toUserDoc(u *model.User) userDoc {
	return userDoc{
		ID:               u.ID,
		Email:            u.Email,
		EmailKey:         strings.ToLower(u.Email),
		Name:             u.Name,
		PasswordHash:     u.PasswordHash,
		Role:             string(u.Role),
		EmailVerified:    u.EmailVerified,
		RefreshTokenHash: u.RefreshTokenHash,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID:               d.ID,
		Email:            d.Email,
		Name:             d.Name,
		PasswordHash:     d.PasswordHash,
		Role:             model.Role(d.Role),
		EmailVerified:    d.EmailVerified,
		RefreshTokenHash: d.RefreshTokenHash,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// UserRepo はusersコレクションを使用したユーザーリポジトリ。
type UserRepo struct {
	col *mongo.Collection
}

// Create はユーザーを作成する。
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	if _, err := r.col.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.find(ctx, bson.D{{Key: "_id", Value: id}})
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.find(ctx, bson.D{{Key: "email_key", Value: strings.ToLower(email)}})
}

func (r *UserRepo) find(ctx context.Context, filter bson.D) (*model.User, error) {
	doc, err := findOne[userDoc](ctx, r.col, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	return doc.toModel(), nil
}

// UpdateProfile はemail_verified=falseを条件に含めたUpdateOneで未確認のユーザーに限り上書きする。
func (r *UserRepo) UpdateProfile(ctx context.Context, id, name, passwordHash string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "email_verified", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: name},
			{Key: "password_hash", Value: passwordHash},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.col.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to count user: %w", err)
	}
	if n > 0 {
		return repository.ErrAlreadyVerified
	}
	return repository.ErrUserNotFound
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *UserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return updateFields(ctx, r.col, id, bson.D{
		{Key: "password_hash", Value: passwordHash},
		{Key: "updated_at", Value: time.Now()},
	})
}

// MarkEmailVerified はメール確認済みにする。
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return updateFields(ctx, r.col, id, bson.D{
		{Key: "email_verified", Value: true},
		{Key: "updated_at", Value: time.Now()},
	})
}

// UpdateRole は役割を更新する。
func (r *UserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	return updateFields(ctx, r.col, id, bson.D{
		{Key: "role", Value: string(role)},
		{Key: "updated_at", Value: time.Now()},
	})
}

// SetRefreshToken はリフレッシュトークンのダイジェストを置き換える。
func (r *UserRepo) SetRefreshToken(ctx context.Context, id, digest string) error {
	return updateFields(ctx, r.col, id, bson.D{
		{Key: "refresh_token_hash", Value: digest},
		{Key: "updated_at", Value: time.Now()},
	})
}

// RotateRefreshToken は保存済みダイジェストを条件に含めたUpdateOneで比較交換する。
func (r *UserRepo) RotateRefreshToken(ctx context.Context, id, oldDigest, newDigest string) (bool, error) {
	if oldDigest == "" {
		return false, nil
	}
	res, err := r.col.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "refresh_token_hash", Value: oldDigest}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token_hash", Value: newDigest},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// ClearRefreshToken はセッションを無効化する。
func (r *UserRepo) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token_hash", Value: ""},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ repository.UserRepository = (*UserRepo)(nil)
