package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryUserRepo_Contract(t *testing.T) {
	runUserRepositoryContract(t, NewMemoryUserRepo())
}

func TestMemoryCodeRepo_Contract(t *testing.T) {
	runCodeRepositoryContract(t, NewMemoryCodeRepo(), func() string { return uuid.New().String() })
}

// 取得したユーザーを変更してもリポジトリ内部の値に影響しないことを検証
func TestMemoryUserRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemoryUserRepo()
	u := newTestUser("copy@example.com")
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := repo.FindByID(context.Background(), u.ID)
	got.Name = "Mallory"

	again, _ := repo.FindByID(context.Background(), u.ID)
	if again.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", again.Name)
	}
}
