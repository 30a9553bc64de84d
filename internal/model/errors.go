// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, code, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeInvalidRole          = "INVALID_ROLE"
	ErrCodeEmailInUse           = "EMAIL_IN_USE"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeMissingRefreshToken  = "MISSING_REFRESH_TOKEN"
	ErrCodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	ErrCodeInsufficientRole     = "INSUFFICIENT_ROLE"
	ErrCodeOwnershipMismatch    = "OWNERSHIP_MISMATCH"
	ErrCodeOriginNotAllowed     = "ORIGIN_NOT_ALLOWED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeCodeNotFound         = "CODE_NOT_FOUND"
	ErrCodeInvalidOrExpiredCode = "INVALID_OR_EXPIRED_CODE"
	ErrCodeTooManyAttempts      = "TOO_MANY_ATTEMPTS"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  reason,
		Category: "validation",
		Action:   "Correct the highlighted field and try again.",
	}
}

// NewInvalidRoleError は選択できない役割が指定された場合のエラーを生成する。
func NewInvalidRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  "Invalid role",
		Category: "validation",
		Action:   "Choose either sourcer or investor.",
	}
}

// NewEmailInUseError は確認済みアカウントのメールアドレスで登録しようとした場合のエラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "Email already in use",
		Category: "auth",
		Action:   "Log in or reset your password.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザー不在とパスワード不一致を区別しないため、常に同一の内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewMissingRefreshTokenError はリフレッシュトークンCookieが無い場合のエラーを生成する。
func NewMissingRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingRefreshToken,
		Message:  "Missing refresh token",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークンが無効・失効している場合のエラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "Invalid refresh token",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewUnauthorizedError はアクセストークンが無い・無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Log in and retry with a valid access token.",
	}
}

// NewEmailNotVerifiedError はメール未確認のアカウントに対するエラーを生成する。
func NewEmailNotVerifiedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  message,
		Category: "auth",
		Action:   "Enter the verification code sent to your email.",
	}
}

// NewInsufficientRoleError は役割が不足している場合のエラーを生成する。
func NewInsufficientRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientRole,
		Message:  "Insufficient role",
		Category: "auth",
		Action:   "Select a role that can access this resource.",
	}
}

// NewOwnershipMismatchError は認証済みユーザー以外のアカウントを操作しようとした場合のエラーを生成する。
func NewOwnershipMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnershipMismatch,
		Message:  "You can only change your own account",
		Category: "auth",
		Action:   "Log in as the account you want to change.",
	}
}

// NewOriginNotAllowedError は許可オリジン以外からのCookie付きリクエストに対するエラーを生成する。
func NewOriginNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeOriginNotAllowed,
		Message:  "Cross-origin request rejected",
		Category: "auth",
		Action:   "Send the request from the application origin.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Register or log in again.",
	}
}

// NewCodeNotFoundError は有効なワンタイムコードが存在しない場合のエラーを生成する。
// 未発行・使用済み・期限切れ後に置換済みを区別しない。
func NewCodeNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeNotFound,
		Message:  "Invalid or expired code",
		Category: "code",
		Action:   "Request a new code.",
	}
}

// NewInvalidOrExpiredCodeError はコード不一致または期限切れのエラーを生成する。
// 不一致と期限切れを区別しない。
func NewInvalidOrExpiredCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredCode,
		Message:  "Invalid or expired code",
		Category: "code",
		Action:   "Check the code in the latest email or request a new one.",
	}
}

// NewTooManyAttemptsError は試行回数の上限に達した場合のエラーを生成する。
func NewTooManyAttemptsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyAttempts,
		Message:  "Too many attempts. Request a new code.",
		Category: "code",
		Action:   "Request a new code.",
	}
}

// NewRateLimitedError はリクエストレート超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部サーバーエラーを生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait and try again.",
	}
}
