package model

import "time"

// CodePurpose はワンタイムコードの名前空間を表す。
// 名前空間ごとにユーザーあたり最大1件のコードが有効となる。
type CodePurpose string

const (
	// PurposeVerification はメールアドレス確認用のコード。
	PurposeVerification CodePurpose = "verification"
	// PurposePasswordReset はパスワードリセット用のコード。
	PurposePasswordReset CodePurpose = "password_reset"
)

// IsValid は定義済みの名前空間かどうかを返す。
func (p CodePurpose) IsValid() bool {
	return p == PurposeVerification || p == PurposePasswordReset
}

// OneTimeCode はメール送付する短命なワンタイムコードの記録。
// 平文は保存せず、ハッシュのみを保持する。
type OneTimeCode struct {
	ID        string
	UserID    string
	Purpose   CodePurpose
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
	CreatedAt time.Time
}

// IsExpired は指定時刻において有効期限切れかどうかを返す。
func (c *OneTimeCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
