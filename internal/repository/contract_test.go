package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dealhub/internal/model"
)

func newTestUser(email string) *model.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         "Alice",
		PasswordHash: "hash",
		Role:         model.RoleUnassigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestCode(userID string, purpose model.CodePurpose, ttl time.Duration) *model.OneTimeCode {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.OneTimeCode{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  "code-hash",
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// runUserRepositoryContract はUserRepository実装が共通で満たすべき振る舞いを検証する。
func runUserRepositoryContract(t *testing.T, repo UserRepository) {
	ctx := context.Background()

	t.Run("作成と取得", func(t *testing.T) {
		u := newTestUser("create@example.com")
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.FindByID(ctx, u.ID)
		if err != nil || got == nil {
			t.Fatalf("FindByID = %v, %v", got, err)
		}
		if got.Email != u.Email || got.Role != model.RoleUnassigned || got.EmailVerified {
			t.Errorf("unexpected user: %+v", got)
		}
		if got.HasSession() {
			t.Error("new user should have no session")
		}

		byEmail, err := repo.FindByEmail(ctx, "create@example.com")
		if err != nil || byEmail == nil || byEmail.ID != u.ID {
			t.Errorf("FindByEmail = %v, %v", byEmail, err)
		}
	})

	t.Run("存在しない場合はnil", func(t *testing.T) {
		got, err := repo.FindByID(ctx, uuid.New().String())
		if err != nil || got != nil {
			t.Errorf("FindByID = %v, %v; want nil, nil", got, err)
		}
		got, err = repo.FindByEmail(ctx, "nobody@example.com")
		if err != nil || got != nil {
			t.Errorf("FindByEmail = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("メールアドレス重複", func(t *testing.T) {
		if err := repo.Create(ctx, newTestUser("dup@example.com")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		err := repo.Create(ctx, newTestUser("DUP@example.com"))
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Errorf("err = %v, want ErrDuplicateEmail", err)
		}
	})

	t.Run("更新系", func(t *testing.T) {
		u := newTestUser("update@example.com")
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if err := repo.UpdateProfile(ctx, u.ID, "Bob", "hash2"); err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		if err := repo.MarkEmailVerified(ctx, u.ID); err != nil {
			t.Fatalf("MarkEmailVerified: %v", err)
		}
		if err := repo.MarkEmailVerified(ctx, u.ID); err != nil {
			t.Fatalf("MarkEmailVerified twice: %v", err)
		}
		if err := repo.UpdateRole(ctx, u.ID, model.RoleInvestor); err != nil {
			t.Fatalf("UpdateRole: %v", err)
		}
		if err := repo.UpdatePassword(ctx, u.ID, "hash3"); err != nil {
			t.Fatalf("UpdatePassword: %v", err)
		}

		got, _ := repo.FindByID(ctx, u.ID)
		if got.Name != "Bob" || got.PasswordHash != "hash3" || !got.EmailVerified || got.Role != model.RoleInvestor {
			t.Errorf("unexpected user after updates: %+v", got)
		}
	})

	t.Run("確認済みアカウントの登録情報は上書きできない", func(t *testing.T) {
		u := newTestUser("verified-profile@example.com")
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.MarkEmailVerified(ctx, u.ID); err != nil {
			t.Fatalf("MarkEmailVerified: %v", err)
		}

		err := repo.UpdateProfile(ctx, u.ID, "Mallory", "attacker-hash")
		if !errors.Is(err, ErrAlreadyVerified) {
			t.Fatalf("err = %v, want ErrAlreadyVerified", err)
		}
		got, _ := repo.FindByID(ctx, u.ID)
		if got.Name != u.Name || got.PasswordHash != u.PasswordHash {
			t.Errorf("verified user was overwritten: %+v", got)
		}

		if err := repo.UpdateProfile(ctx, uuid.New().String(), "Bob", "hash"); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("missing user err = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("存在しないユーザーの更新", func(t *testing.T) {
		err := repo.UpdateRole(ctx, uuid.New().String(), model.RoleSourcer)
		if !errors.Is(err, ErrUserNotFound) {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
		if err := repo.ClearRefreshToken(ctx, uuid.New().String()); err != nil {
			t.Errorf("ClearRefreshToken on missing user: %v", err)
		}
	})

	t.Run("リフレッシュトークンの比較交換", func(t *testing.T) {
		u := newTestUser("rotate@example.com")
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if ok, _ := repo.RotateRefreshToken(ctx, u.ID, "", "d1"); ok {
			t.Error("rotation must fail when no session exists")
		}
		if err := repo.SetRefreshToken(ctx, u.ID, "d1"); err != nil {
			t.Fatalf("SetRefreshToken: %v", err)
		}
		if ok, err := repo.RotateRefreshToken(ctx, u.ID, "d1", "d2"); err != nil || !ok {
			t.Fatalf("RotateRefreshToken = %v, %v; want true", ok, err)
		}
		if ok, _ := repo.RotateRefreshToken(ctx, u.ID, "d1", "d3"); ok {
			t.Error("stale digest must not rotate")
		}

		got, _ := repo.FindByID(ctx, u.ID)
		if got.RefreshTokenHash != "d2" {
			t.Errorf("RefreshTokenHash = %q, want d2", got.RefreshTokenHash)
		}

		if err := repo.ClearRefreshToken(ctx, u.ID); err != nil {
			t.Fatalf("ClearRefreshToken: %v", err)
		}
		got, _ = repo.FindByID(ctx, u.ID)
		if got.HasSession() {
			t.Error("session must be cleared")
		}
	})

	t.Run("並行ローテーションは1件だけ成功", func(t *testing.T) {
		u := newTestUser("race@example.com")
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.SetRefreshToken(ctx, u.ID, "start"); err != nil {
			t.Fatalf("SetRefreshToken: %v", err)
		}

		const n = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.RotateRefreshToken(ctx, u.ID, "start", uuid.New().String())
				if err != nil {
					t.Errorf("RotateRefreshToken: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("wins = %d, want 1", wins)
		}
	})
}

// runCodeRepositoryContract はOneTimeCodeRepository実装が共通で満たすべき振る舞いを検証する。
// newUserIDは外部キー制約を満たす既存ユーザーのIDを返す。
func runCodeRepositoryContract(t *testing.T, repo OneTimeCodeRepository, newUserID func() string) {
	ctx := context.Background()

	t.Run("置き換えで1件のみ保持", func(t *testing.T) {
		userID := newUserID()
		first := newTestCode(userID, model.PurposeVerification, time.Minute)
		second := newTestCode(userID, model.PurposeVerification, time.Minute)
		second.CodeHash = "second-hash"

		if err := repo.Replace(ctx, first); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if _, err := repo.ReserveAttempt(ctx, userID, model.PurposeVerification); err != nil {
			t.Fatalf("ReserveAttempt: %v", err)
		}
		if err := repo.Replace(ctx, second); err != nil {
			t.Fatalf("Replace: %v", err)
		}

		// 置き換えで試行回数は0に戻り、予約後は1となる
		got, err := repo.ReserveAttempt(ctx, userID, model.PurposeVerification)
		if err != nil || got == nil {
			t.Fatalf("ReserveAttempt = %v, %v", got, err)
		}
		if got.ID != second.ID || got.CodeHash != "second-hash" || got.Attempts != 1 {
			t.Errorf("unexpected code after replace: %+v", got)
		}

		if ok, _ := repo.DeleteByID(ctx, first.ID); ok {
			t.Error("superseded code id must not be deletable")
		}
	})

	t.Run("名前空間は独立", func(t *testing.T) {
		userID := newUserID()
		if err := repo.Replace(ctx, newTestCode(userID, model.PurposeVerification, time.Minute)); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		got, err := repo.ReserveAttempt(ctx, userID, model.PurposePasswordReset)
		if err != nil || got != nil {
			t.Errorf("reset namespace = %v, %v; want nil", got, err)
		}
	})

	t.Run("試行回数の予約", func(t *testing.T) {
		userID := newUserID()
		if got, err := repo.ReserveAttempt(ctx, userID, model.PurposePasswordReset); err != nil || got != nil {
			t.Fatalf("ReserveAttempt on missing = %v, %v", got, err)
		}

		if err := repo.Replace(ctx, newTestCode(userID, model.PurposePasswordReset, time.Minute)); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		for want := 1; want <= 3; want++ {
			got, err := repo.ReserveAttempt(ctx, userID, model.PurposePasswordReset)
			if err != nil || got == nil {
				t.Fatalf("ReserveAttempt = %v, %v", got, err)
			}
			if got.Attempts != want {
				t.Errorf("Attempts = %d, want %d", got.Attempts, want)
			}
		}
	})

	t.Run("並行予約は重複しない", func(t *testing.T) {
		userID := newUserID()
		if err := repo.Replace(ctx, newTestCode(userID, model.PurposeVerification, time.Minute)); err != nil {
			t.Fatalf("Replace: %v", err)
		}

		const n = 10
		var wg sync.WaitGroup
		seen := make(chan int, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := repo.ReserveAttempt(ctx, userID, model.PurposeVerification)
				if err != nil || got == nil {
					t.Errorf("ReserveAttempt = %v, %v", got, err)
					return
				}
				seen <- got.Attempts
			}()
		}
		wg.Wait()
		close(seen)

		counts := make(map[int]bool)
		for a := range seen {
			if counts[a] {
				t.Errorf("attempt value %d observed twice", a)
			}
			counts[a] = true
		}
		if len(counts) != n {
			t.Errorf("distinct attempts = %d, want %d", len(counts), n)
		}
	})

	t.Run("IDによる削除は1回だけ成功", func(t *testing.T) {
		userID := newUserID()
		code := newTestCode(userID, model.PurposeVerification, time.Minute)
		if err := repo.Replace(ctx, code); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if ok, err := repo.DeleteByID(ctx, code.ID); err != nil || !ok {
			t.Fatalf("DeleteByID = %v, %v; want true", ok, err)
		}
		if ok, _ := repo.DeleteByID(ctx, code.ID); ok {
			t.Error("second delete must report false")
		}
	})

	t.Run("期限切れの一括削除", func(t *testing.T) {
		expiredUser := newUserID()
		liveUser := newUserID()
		if err := repo.Replace(ctx, newTestCode(expiredUser, model.PurposeVerification, -time.Minute)); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if err := repo.Replace(ctx, newTestCode(liveUser, model.PurposeVerification, time.Hour)); err != nil {
			t.Fatalf("Replace: %v", err)
		}

		n, err := repo.DeleteExpired(ctx, time.Now())
		if err != nil {
			t.Fatalf("DeleteExpired: %v", err)
		}
		if n < 1 {
			t.Errorf("deleted = %d, want >= 1", n)
		}
		if got, _ := repo.ReserveAttempt(ctx, expiredUser, model.PurposeVerification); got != nil {
			t.Error("expired code must be removed")
		}
		if got, _ := repo.ReserveAttempt(ctx, liveUser, model.PurposeVerification); got == nil {
			t.Error("live code must survive")
		}
	})
}

func uniqueEmail() string {
	return uuid.New().String() + "@example.com"
}
