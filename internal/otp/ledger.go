// Package otp はメール送付する短命なワンタイムコードの発行と検証を提供する。
//
// ユーザーと用途の組ごとに有効なコードは最大1件。発行は既存コードを置き換え、
// 検証は試行回数を先に予約してからハッシュを比較するため、
// 並行リクエストでも1コードあたりの比較回数は上限を超えない。
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/repository"
	"github.com/hitoshi/dealhub/internal/security"
)

var (
	// ErrNotFound は有効なコードが存在しない場合に返す。
	ErrNotFound = errors.New("otp: no active code")
	// ErrTooManyAttempts は試行回数の上限に達した場合に返す。コードは破棄される。
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	// ErrInvalidOrExpired はコード不一致または期限切れの場合に返す。
	ErrInvalidOrExpired = errors.New("otp: invalid or expired code")
)

// 既定値
const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 5
)

// Config はLedgerの設定。ゼロ値のフィールドは既定値を使う。
type Config struct {
	TTL         time.Duration
	MaxAttempts int

	// Now は現在時刻を返す。テストで差し替える。
	Now func() time.Time
	// Random はコード生成に使う乱数源。テストで差し替える。
	Random io.Reader
}

// Ledger はワンタイムコードの発行・検証・掃除を行う。
type Ledger struct {
	codes       repository.OneTimeCodeRepository
	hasher      security.Hasher
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	random      io.Reader
}

// NewLedger はLedgerを生成する。
func NewLedger(codes repository.OneTimeCodeRepository, hasher security.Hasher, cfg Config) *Ledger {
	l := &Ledger{
		codes:       codes,
		hasher:      hasher,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		random:      cfg.Random,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = DefaultMaxAttempts
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.random == nil {
		l.random = rand.Reader
	}
	return l
}

// TTL はコードの有効期間を返す。
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Issue は新しいコードを発行し、平文を返す。
// 同じユーザー・用途の既存コードは置き換えられ、以後検証できない。
// 平文はメール送付にのみ使い、保存やログ出力をしてはならない。
func (l *Ledger) Issue(ctx context.Context, userID string, purpose model.CodePurpose) (string, error) {
	if !purpose.IsValid() {
		return "", fmt.Errorf("otp: unknown purpose %q", purpose)
	}

	plain, err := generateCode(l.random)
	if err != nil {
		return "", err
	}
	hash, err := l.hasher.Hash(plain)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	now := l.now().UTC()
	code := &model.OneTimeCode{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  hash,
		ExpiresAt: now.Add(l.ttl),
		Attempts:  0,
		CreatedAt: now,
	}
	if err := l.codes.Replace(ctx, code); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}
	return plain, nil
}

// Verify はcandidateを検証し、一致すればコードを消費する。
//
// 失敗時はErrNotFound、ErrTooManyAttempts、ErrInvalidOrExpiredのいずれかを返す。
// 不一致と期限切れはどちらも試行回数に数える。
func (l *Ledger) Verify(ctx context.Context, userID string, purpose model.CodePurpose, candidate string) error {
	code, err := l.codes.ReserveAttempt(ctx, userID, purpose)
	if err != nil {
		return fmt.Errorf("failed to reserve attempt: %w", err)
	}
	if code == nil {
		return ErrNotFound
	}

	if code.Attempts-1 >= l.maxAttempts {
		if _, err := l.codes.DeleteByID(ctx, code.ID); err != nil {
			return fmt.Errorf("failed to discard exhausted code: %w", err)
		}
		return ErrTooManyAttempts
	}

	if code.IsExpired(l.now()) || !l.hasher.Compare(code.CodeHash, candidate) {
		return ErrInvalidOrExpired
	}

	deleted, err := l.codes.DeleteByID(ctx, code.ID)
	if err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}
	if !deleted {
		// 並行する検証が先に消費した、または再発行で置き換えられた
		return ErrNotFound
	}
	return nil
}

// Sweep は期限切れのコードを削除し、削除件数を返す。
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.codes.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired codes: %w", err)
	}
	return n, nil
}
