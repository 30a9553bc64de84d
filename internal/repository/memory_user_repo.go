package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
)

// MemoryUserRepo はプロセス内メモリに保持するユーザーリポジトリ。
// ローカル開発とテストで使用する。返す値はすべてコピー。
type MemoryUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := r.byEmail[key]; ok {
		return ErrDuplicateEmail
	}
	u := *user
	r.byID[u.ID] = &u
	r.byEmail[key] = u.ID
	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

// UpdateProfile は未確認のユーザーに限り名前とパスワードハッシュを上書きする。
func (r *MemoryUserRepo) UpdateProfile(_ context.Context, id, name, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}
	u.Name = name
	u.PasswordHash = passwordHash
	u.UpdatedAt = r.now()
	return nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *MemoryUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(u *model.User) { u.PasswordHash = passwordHash })
}

// MarkEmailVerified はメール確認済みにする。
func (r *MemoryUserRepo) MarkEmailVerified(_ context.Context, id string) error {
	return r.update(id, func(u *model.User) { u.EmailVerified = true })
}

// UpdateRole は役割を更新する。
func (r *MemoryUserRepo) UpdateRole(_ context.Context, id string, role model.Role) error {
	return r.update(id, func(u *model.User) { u.Role = role })
}

// SetRefreshToken はリフレッシュトークンのダイジェストを置き換える。
func (r *MemoryUserRepo) SetRefreshToken(_ context.Context, id, digest string) error {
	return r.update(id, func(u *model.User) { u.RefreshTokenHash = digest })
}

// RotateRefreshToken は比較交換でダイジェストを置き換える。
func (r *MemoryUserRepo) RotateRefreshToken(_ context.Context, id, oldDigest, newDigest string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok || u.RefreshTokenHash == "" || u.RefreshTokenHash != oldDigest {
		return false, nil
	}
	u.RefreshTokenHash = newDigest
	u.UpdatedAt = r.now()
	return true, nil
}

// ClearRefreshToken はセッションを無効化する。
func (r *MemoryUserRepo) ClearRefreshToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.byID[id]; ok {
		u.RefreshTokenHash = ""
		u.UpdatedAt = r.now()
	}
	return nil
}

func (r *MemoryUserRepo) update(id string, fn func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = r.now()
	return nil
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
