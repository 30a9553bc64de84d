package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/dealhub/internal/middleware"
	"github.com/hitoshi/dealhub/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// GetProfile は認証済みユーザーの概要を返す。
	GetProfile(ctx context.Context, userID string) (*model.UserSummary, error)
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type meUserResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

type meResponse struct {
	User meUserResponse `json:"user"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(profile)})
}

// GetUser は管理者向けに指定ユーザーの概要を返す。
// GET /admin/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("id is invalid"))
		return
	}

	profile, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(profile)})
}

func toUserResponse(p *model.UserSummary) meUserResponse {
	return meUserResponse{
		ID:            p.ID,
		Name:          p.Name,
		Email:         p.Email,
		Role:          string(p.Role),
		EmailVerified: p.EmailVerified,
	}
}
