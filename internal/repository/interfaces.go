// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
)

// ErrDuplicateEmail は正規化後のメールアドレスが既に登録されている場合に返す。
var ErrDuplicateEmail = errors.New("email already registered")

// ErrUserNotFound は更新対象のユーザーが存在しない場合に返す。
var ErrUserNotFound = errors.New("user not found")

// ErrAlreadyVerified は確認済みアカウントの登録情報を上書きしようとした場合に返す。
var ErrAlreadyVerified = errors.New("user already verified")

// UserRepository はユーザー認証情報の永続化インターフェース。
// メールアドレスは呼び出し側で正規化済み（前後空白除去・小文字化）であること。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateProfile は未確認アカウントの再登録時に名前とパスワードハッシュを上書きする。
	// 確認済みかどうかの判定と更新は原子的に行い、確認済みの場合はErrAlreadyVerifiedを返す。
	UpdateProfile(ctx context.Context, id, name, passwordHash string) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// MarkEmailVerified はメール確認済みにする。確認済みの場合も成功する。
	MarkEmailVerified(ctx context.Context, id string) error

	// UpdateRole は役割を更新する。
	UpdateRole(ctx context.Context, id string, role model.Role) error

	// SetRefreshToken は現在有効なリフレッシュトークンのダイジェストを置き換える。
	SetRefreshToken(ctx context.Context, id, digest string) error

	// RotateRefreshToken は保存済みダイジェストがoldDigestと一致する場合に限りnewDigestへ置き換える。
	// 置き換えた場合にtrueを返す。
	RotateRefreshToken(ctx context.Context, id, oldDigest, newDigest string) (bool, error)

	// ClearRefreshToken はセッションを無効化する。ユーザーが存在しない場合も成功する。
	ClearRefreshToken(ctx context.Context, id string) error
}

// OneTimeCodeRepository はワンタイムコードの永続化インターフェース。
// (UserID, Purpose)ごとに最大1件のレコードを保持する。
type OneTimeCodeRepository interface {
	// Replace は(UserID, Purpose)の既存レコードを新しいレコードで原子的に置き換える。
	Replace(ctx context.Context, code *model.OneTimeCode) error

	// ReserveAttempt は試行回数を原子的に1増やし、増加後のレコードを返す。
	// 見つからない場合はnilを返す。
	ReserveAttempt(ctx context.Context, userID string, purpose model.CodePurpose) (*model.OneTimeCode, error)

	// DeleteByID は指定IDのレコードを削除する。削除した場合にtrueを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)

	// DeleteExpired はbefore時点で期限切れのレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
