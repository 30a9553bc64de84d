package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/dealhub/internal/middleware"
	"github.com/hitoshi/dealhub/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger              *slog.Logger
	CORSAllowedOrigin   string
	HSTS                bool
	RateLimiter         *middleware.RateLimiter
	AccessTokenVerifier middleware.AccessTokenVerifier
	HTTPRecorder        middleware.HTTPRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// 登録・ログインはauthグループ、コード関連はsensitiveグループのレート制限を受ける。
// Cookieで認証するrefreshにはオリジン検証を追加する。logoutは常にCookieを削除して成功する。
// /adminは管理者の役割を要求する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)

	authLimit := deps.RateLimiter.AuthMiddleware()
	sensitiveLimit := deps.RateLimiter.SensitiveMiddleware()
	originCheck := middleware.NewOriginCheckMiddleware(deps.CORSAllowedOrigin)
	requireAccess := middleware.NewAccessTokenMiddleware(deps.AccessTokenVerifier)

	r.Route("/auth", func(r chi.Router) {
		r.With(authLimit).Post("/register", authHandler.Register)
		r.With(authLimit).Post("/login", authHandler.Login)

		r.With(sensitiveLimit).Post("/resend-verification", authHandler.ResendVerification)
		r.With(sensitiveLimit).Post("/verify-email", authHandler.VerifyEmail)
		r.With(sensitiveLimit).Post("/forgot-password", authHandler.ForgotPassword)
		r.With(sensitiveLimit).Post("/reset-password", authHandler.ResetPassword)

		r.With(originCheck).Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)

		// 認証が必要なルート
		r.Group(func(r chi.Router) {
			r.Use(requireAccess)
			r.Post("/select-role", authHandler.SelectRole)
			r.Get("/me", userHandler.Me)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAccess)
		r.Use(middleware.NewRequireRoleMiddleware(model.RoleAdmin))
		r.Get("/users/{id}", userHandler.GetUser)
	})

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}
