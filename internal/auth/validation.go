package auth

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/otp"
	"github.com/hitoshi/dealhub/internal/security"
)

// 入力制約
const (
	minNameLength     = 2
	maxNameLength     = 100
	minPasswordLength = 8
	maxEmailLength    = 320
)

// NormalizeEmail は前後の空白を除去して小文字化する。
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// validateEmail は正規化済みメールアドレスの形式を検証する。
// 表示名付きの形式やドメインにドットを含まないアドレスは拒否する。
func validateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("Email is required")
	}
	if len(email) > maxEmailLength {
		return model.NewValidationError("A valid email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return model.NewValidationError("A valid email is required")
	}
	at := strings.LastIndexByte(email, '@')
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return model.NewValidationError("A valid email is required")
	}
	return nil
}

// sanitizeName は表示名からマークアップと制御文字を除去し、長さを検証する。
func sanitizeName(sanitizer security.NameSanitizer, raw string) (string, error) {
	name := sanitizer.Sanitize(raw)
	n := utf8.RuneCountInString(name)
	if n < minNameLength {
		return "", model.NewValidationError("Name must be at least 2 characters")
	}
	if n > maxNameLength {
		return "", model.NewValidationError("Name must be at most 100 characters")
	}
	return name, nil
}

// validatePassword は新しく設定するパスワードの強度を検証する。
// 8〜72バイトで、英小文字・英大文字・数字をそれぞれ1文字以上含むこと。
func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > security.MaxSecretBytes {
		return model.NewValidationError("Password must be between 8 and 72 characters")
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return model.NewValidationError("Password must include an upper-case letter, a lower-case letter and a digit")
	}
	return nil
}

// validateUserID はリクエストで受け取ったユーザーIDを検証する。
func validateUserID(uid string) error {
	if strings.TrimSpace(uid) == "" {
		return model.NewValidationError("uid is required")
	}
	if _, err := uuid.Parse(uid); err != nil {
		return model.NewValidationError("uid is invalid")
	}
	return nil
}

// validateCode はワンタイムコードの形式を検証する。
func validateCode(code string) error {
	if code == "" {
		return model.NewValidationError("Code is required")
	}
	if !otp.IsWellFormed(code) {
		return model.NewValidationError("Code must be 5 digits")
	}
	return nil
}
