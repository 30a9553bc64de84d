package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
)

type codeKey struct {
	userID  string
	purpose model.CodePurpose
}

// MemoryCodeRepo はプロセス内メモリに保持するワンタイムコードリポジトリ。
type MemoryCodeRepo struct {
	mu    sync.Mutex
	codes map[codeKey]*model.OneTimeCode
}

// NewMemoryCodeRepo はMemoryCodeRepoを生成する。
func NewMemoryCodeRepo() *MemoryCodeRepo {
	return &MemoryCodeRepo{codes: make(map[codeKey]*model.OneTimeCode)}
}

// Replace は(UserID, Purpose)の既存レコードを置き換える。
func (r *MemoryCodeRepo) Replace(_ context.Context, code *model.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *code
	r.codes[codeKey{c.UserID, c.Purpose}] = &c
	return nil
}

// ReserveAttempt は試行回数を1増やし、増加後のレコードを返す。
func (r *MemoryCodeRepo) ReserveAttempt(_ context.Context, userID string, purpose model.CodePurpose) (*model.OneTimeCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[codeKey{userID, purpose}]
	if !ok {
		return nil, nil
	}
	c.Attempts++
	cp := *c
	return &cp, nil
}

// DeleteByID は指定IDのレコードを削除する。
func (r *MemoryCodeRepo) DeleteByID(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, c := range r.codes {
		if c.ID == id {
			delete(r.codes, k)
			return true, nil
		}
	}
	return false, nil
}

// DeleteExpired は期限切れのレコードを削除する。
func (r *MemoryCodeRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, c := range r.codes {
		if c.ExpiresAt.Before(before) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}

// Len は保持しているレコード数を返す。
func (r *MemoryCodeRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// compile-time interface check
var _ OneTimeCodeRepository = (*MemoryCodeRepo)(nil)
