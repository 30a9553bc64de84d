// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleUnassigned は役割未選択の状態を示す。登録直後の初期値。
	RoleUnassigned Role = "unassigned"
	// RoleSourcer は案件を掲載するソーサーを示す。
	RoleSourcer Role = "sourcer"
	// RoleInvestor は案件を閲覧・オファーする投資家を示す。
	RoleInvestor Role = "investor"
	// RoleAdmin は管理者を示す。自己選択では付与されない。
	RoleAdmin Role = "admin"
)

// SelectableRoles はユーザー自身が選択できる役割の一覧。
var SelectableRoles = []Role{RoleSourcer, RoleInvestor}

// IsSelectable はユーザー自身が選択できる役割かどうかを返す。
func (r Role) IsSelectable() bool {
	for _, s := range SelectableRoles {
		if r == s {
			return true
		}
	}
	return false
}

// IsValid は定義済みの役割かどうかを返す。
func (r Role) IsValid() bool {
	switch r {
	case RoleUnassigned, RoleSourcer, RoleInvestor, RoleAdmin:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザー（認証情報）を表す。
// PasswordHashとRefreshTokenHashはAPIレスポンスに含めてはならない。
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Role          Role
	EmailVerified bool

	// RefreshTokenHash は現在有効なリフレッシュトークンのSHA-256ダイジェスト。
	// 空文字はセッションなしを示す。
	RefreshTokenHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSession はサーバー側に有効なセッションが記録されているかを返す。
func (u *User) HasSession() bool {
	return u.RefreshTokenHash != ""
}

// UserSummary はログインレスポンス等で返すユーザー概要。
type UserSummary struct {
	ID            string
	Name          string
	Email         string
	Role          Role
	EmailVerified bool
}

// Summary はUserからUserSummaryを生成する。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}
