// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// Principal はアクセストークンから得た認証済みユーザーの情報。
type Principal struct {
	UserID string
	Email  string
	Role   model.Role
}

// AccessTokenVerifier はアクセストークンの検証に必要なインターフェース。
type AccessTokenVerifier interface {
	VerifyAccessToken(raw string) (*token.Claims, error)
}

// NewAccessTokenMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済み主体をリクエストコンテキストに注入する。
// トークンが無い・無効な場合は401 Unauthorizedを返す。
func NewAccessTokenMiddleware(verifier AccessTokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーからトークンを取得
			raw, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. 署名・有効期限・種別を検証
			claims, err := verifier.VerifyAccessToken(raw)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済み主体をコンテキストに注入
			annotateUserID(r.Context(), claims.Subject)
			ctx := ContextWithPrincipal(r.Context(), Principal{
				UserID: claims.Subject,
				Email:  claims.Email,
				Role:   model.Role(claims.Role),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーから"Bearer <token>"形式のトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
// アクセストークンミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", errors.New("user ID not found in context")
	}
	return p.UserID, nil
}

// ContextWithPrincipal はコンテキストに認証済み主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
