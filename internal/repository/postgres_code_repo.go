package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
)

const codeColumns = `id, user_id, purpose, code_hash, expires_at, attempts, created_at`

// PostgresCodeRepo はPostgreSQLを使用したワンタイムコードリポジトリ。
type PostgresCodeRepo struct {
	db *sql.DB
}

// NewPostgresCodeRepo はPostgresCodeRepoを生成する。
func NewPostgresCodeRepo(db *sql.DB) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: db}
}

// Replace はUNIQUE(user_id, purpose)を利用したINSERT ON CONFLICTで既存コードを置き換える。
// 置き換え時はIDも新しくなるため、旧コードのIDによる削除は0件となる。
func (r *PostgresCodeRepo) Replace(ctx context.Context, code *model.OneTimeCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO one_time_codes (id, user_id, purpose, code_hash, expires_at, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, purpose) DO UPDATE SET
		   id = EXCLUDED.id,
		   code_hash = EXCLUDED.code_hash,
		   expires_at = EXCLUDED.expires_at,
		   attempts = EXCLUDED.attempts,
		   created_at = EXCLUDED.created_at`,
		code.ID, code.UserID, string(code.Purpose), code.CodeHash, code.ExpiresAt, code.Attempts, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace one-time code: %w", err)
	}
	return nil
}

// ReserveAttempt は試行回数を1増やし、増加後のレコードを返す。
func (r *PostgresCodeRepo) ReserveAttempt(ctx context.Context, userID string, purpose model.CodePurpose) (*model.OneTimeCode, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE one_time_codes SET attempts = attempts + 1
		 WHERE user_id = $1 AND purpose = $2
		 RETURNING `+codeColumns,
		userID, string(purpose),
	)
	code, err := scanCode(row)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve attempt: %w", err)
	}
	return code, nil
}

// DeleteByID は指定IDのレコードを削除する。
func (r *PostgresCodeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM one_time_codes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete one-time code: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteExpired は期限切れのレコードを削除する。
func (r *PostgresCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM one_time_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired one-time codes: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

func scanCode(row rowScanner) (*model.OneTimeCode, error) {
	code := &model.OneTimeCode{}
	var purpose string

	err := row.Scan(
		&code.ID, &code.UserID, &purpose, &code.CodeHash,
		&code.ExpiresAt, &code.Attempts, &code.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	code.Purpose = model.CodePurpose(purpose)
	return code, nil
}

// compile-time interface check
var _ OneTimeCodeRepository = (*PostgresCodeRepo)(nil)
