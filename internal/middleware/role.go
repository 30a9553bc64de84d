package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/dealhub/internal/model"
)

// NewRequireRoleMiddleware は認証済み主体の役割が指定のいずれかであることを要求するミドルウェアを返す。
// アクセストークンミドルウェアの後に配置する。
// 未認証の場合は401、役割が一致しない場合は403を返す。
func NewRequireRoleMiddleware(roles ...model.Role) func(next http.Handler) http.Handler {
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				slog.Warn("役割が不足しています",
					slog.String("user_id", p.UserID),
					slog.String("role", string(p.Role)),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewInsufficientRoleError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
