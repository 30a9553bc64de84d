// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/dealhub/internal/auth"
	"github.com/hitoshi/dealhub/internal/middleware"
	"github.com/hitoshi/dealhub/internal/model"
)

const (
	refreshCookieName = "refreshToken"
	refreshCookiePath = "/auth"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.RegisterResult, error)
	ResendVerification(ctx context.Context, email string) (*auth.GenericResult, error)
	VerifyEmail(ctx context.Context, userID, code string) error
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string)
	ForgotPassword(ctx context.Context, email string) (*auth.GenericResult, error)
	ResetPassword(ctx context.Context, userID, code, newPassword string) error
	SelectRole(ctx context.Context, userID string, role model.Role) (model.Role, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	RefreshMaxAge time.Duration // リフレッシュトークンCookieの有効期間
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	UID  string `json:"uid"`
	Code string `json:"code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	UID      string `json:"uid"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

type selectRoleRequest struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type messageWithUIDResponse struct {
	Message string `json:"message"`
	UID     string `json:"uid"`
}

type loginUserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	AccessToken string            `json:"accessToken"`
	User        loginUserResponse `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type selectRoleResponse struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// Register は新規ユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, messageWithUIDResponse{Message: res.Message, UID: res.UserID})
}

// ResendVerification は確認コードを再送する。
// POST /auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.ResendVerification(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageWithUIDResponse{Message: res.Message, UID: res.UserID})
}

// VerifyEmail は確認コードを検証する。
// POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.UID, req.Code); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: auth.MessageEmailVerified})
}

// Login はログインしてアクセストークンを返し、リフレッシュトークンをCookieに設定する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, res.RefreshToken)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		User: loginUserResponse{
			ID:    res.User.ID,
			Name:  res.User.Name,
			Email: res.User.Email,
			Role:  string(res.User.Role),
		},
	})
}

// Refresh はリフレッシュトークンCookieから新しいアクセストークンを発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Refresh(r.Context(), h.refreshCookie(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if res.RefreshToken != "" {
		h.setRefreshCookie(w, res.RefreshToken)
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: res.AccessToken})
}

// Logout はセッションを破棄し、リフレッシュトークンCookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), h.refreshCookie(r))
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: auth.MessageLoggedOut})
}

// ForgotPassword はパスワード再設定コードを送付する。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageWithUIDResponse{Message: res.Message, UID: res.UserID})
}

// ResetPassword は再設定コードを検証してパスワードを更新する。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.UID, req.Code, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: auth.MessagePasswordReset})
}

// SelectRole は認証済みユーザー自身の役割を設定する。
// uidがアクセストークンの主体と異なる場合は403を返す。
// POST /auth/select-role
func (h *AuthHandler) SelectRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req selectRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UID != "" && req.UID != principal.UserID {
		slog.Warn("他ユーザーの役割変更を拒否しました", slog.String("user_id", principal.UserID))
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewOwnershipMismatchError())
		return
	}

	role, err := h.service.SelectRole(r.Context(), principal.UserID, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectRoleResponse{Message: auth.MessageRoleSelected, Role: string(role)})
}

func (h *AuthHandler) refreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setRefreshCookie はリフレッシュトークンをHTTP Only Cookieに設定する。
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.RefreshMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearRefreshCookie は設定時と同じ属性でリフレッシュトークンCookieを削除する。
func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
