package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/dealhub/internal/model"
)

// NewOriginCheckMiddleware はCookieで認証するエンドポイント向けのCSRF対策ミドルウェアを返す。
// 状態変更メソッドでOriginヘッダー（無ければRefererヘッダー）が許可オリジン以外を指す場合は403を返す。
// どちらのヘッダーも無いリクエストはブラウザ以外のクライアントとみなして通す。
func NewOriginCheckMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowed := strings.TrimRight(allowedOrigin, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = refererOrigin(r.Header.Get("Referer"))
			}
			if origin != "" && origin != allowed {
				slog.Warn("CSRF検証に失敗しました: 許可されていないオリジン",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewOriginNotAllowedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// refererOrigin はRefererのURLからスキームとホスト部分を取り出す。
func refererOrigin(referer string) string {
	scheme, rest, ok := strings.Cut(referer, "://")
	if !ok {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}
