package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/dealhub/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, role, email_verified, refresh_token_hash, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, email_verified, refresh_token_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, user.PasswordHash, string(user.Role), user.EmailVerified,
		nullString(user.RefreshTokenHash), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// UpdateProfile は未確認のユーザーに限り名前とパスワードハッシュを上書きする。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id, name, passwordHash string) error {
	err := r.execUpdate(ctx, "update profile",
		`UPDATE users SET name = $2, password_hash = $3, updated_at = now()
		 WHERE id = $1 AND email_verified = FALSE`,
		id, name, passwordHash)
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	// 0件の場合は不在か確認済みかを区別する
	user, findErr := r.FindByID(ctx, id)
	if findErr != nil {
		return findErr
	}
	if user != nil {
		return ErrAlreadyVerified
	}
	return ErrUserNotFound
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execUpdate(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
}

// MarkEmailVerified はメール確認済みにする。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.execUpdate(ctx, "mark email verified",
		`UPDATE users SET email_verified = TRUE, updated_at = now() WHERE id = $1`,
		id)
}

// UpdateRole は役割を更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	return r.execUpdate(ctx, "update role",
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		id, string(role))
}

// SetRefreshToken はリフレッシュトークンのダイジェストを置き換える。
func (r *PostgresUserRepo) SetRefreshToken(ctx context.Context, id, digest string) error {
	return r.execUpdate(ctx, "set refresh token",
		`UPDATE users SET refresh_token_hash = $2, updated_at = now() WHERE id = $1`,
		id, digest)
}

// RotateRefreshToken は比較交換でダイジェストを置き換える。
func (r *PostgresUserRepo) RotateRefreshToken(ctx context.Context, id, oldDigest, newDigest string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = $3, updated_at = now()
		 WHERE id = $1 AND refresh_token_hash = $2`,
		id, oldDigest, newDigest,
	)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ClearRefreshToken はセッションを無効化する。
func (r *PostgresUserRepo) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return nil
}

// execUpdate は1行を更新するUPDATEを実行し、対象が無ければErrUserNotFoundを返す。
func (r *PostgresUserRepo) execUpdate(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	var refresh sql.NullString

	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&role, &user.EmailVerified, &refresh,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.Role = model.Role(role)
	if refresh.Valid {
		user.RefreshTokenHash = refresh.String
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
