package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dealhub/internal/auth"
	"github.com/hitoshi/dealhub/internal/config"
	"github.com/hitoshi/dealhub/internal/database"
	"github.com/hitoshi/dealhub/internal/handler"
	"github.com/hitoshi/dealhub/internal/mail"
	"github.com/hitoshi/dealhub/internal/metrics"
	"github.com/hitoshi/dealhub/internal/middleware"
	"github.com/hitoshi/dealhub/internal/otp"
	"github.com/hitoshi/dealhub/internal/repository"
	"github.com/hitoshi/dealhub/internal/repository/mongostore"
	"github.com/hitoshi/dealhub/internal/security"
	"github.com/hitoshi/dealhub/internal/token"
	"github.com/hitoshi/dealhub/internal/user"
)

// stores はストアドライバごとのリポジトリ実装と接続のライフサイクルをまとめる。
type stores struct {
	users  repository.UserRepository
	codes  repository.OneTimeCodeRepository
	health handler.HealthChecker
	close  func() error
}

// pingFunc は関数をHealthCheckerとして扱うアダプタ。
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// openStores はSTORE_DRIVERに応じてリポジトリを初期化する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("データベースに接続しました", slog.String("driver", cfg.StoreDriver))
		return &stores{
			users: repository.NewPostgresUserRepo(db),
			codes: repository.NewPostgresCodeRepo(db),
			health: pingFunc(func(ctx context.Context) error {
				return db.PingContext(ctx)
			}),
			close: db.Close,
		}, nil

	case config.StoreDriverMongo:
		store, err := mongostore.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &stores{
			users:  store.Users(),
			codes:  store.Codes(),
			health: store,
			close:  store.Close,
		}, nil

	case config.StoreDriverMemory:
		slog.Warn("インメモリストアを使用します。再起動でデータは失われます")
		return &stores{
			users:  repository.NewMemoryUserRepo(),
			codes:  repository.NewMemoryCodeRepo(),
			health: pingFunc(func(context.Context) error { return nil }),
			close:  func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// newMailer はMAIL_DRIVERに応じたメール送信ドライバーを生成する。
func newMailer(cfg *config.Config, logger *slog.Logger) (mail.Mailer, error) {
	switch cfg.MailDriver {
	case config.MailDriverResend:
		m, err := mail.NewResendMailer(cfg.ResendAPIKey, cfg.FromEmail, &http.Client{Timeout: cfg.MailSendTimeout})
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.MailDriverLog:
		if cfg.ExposeCodes() {
			logger.Warn("開発用にメール本文をログへ出力します")
		}
		return mail.NewLogMailer(logger, cfg.ExposeCodes()), nil
	default:
		return nil, fmt.Errorf("unsupported mail driver %q", cfg.MailDriver)
	}
}

// newRegistry はGo・プロセスのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newOpsHandler はワーカー用の/healthと/metricsのみを提供するハンドラーを生成する。
func newOpsHandler(checker handler.HealthChecker, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(nil))
	r.Get("/health", handler.NewHealthHandler(checker))
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}

// apiServer はAPIサーバーの構成要素を保持する。
type apiServer struct {
	handler    http.Handler
	dispatcher *mail.Dispatcher
	limiter    *middleware.RateLimiter
}

// close はバックグラウンド処理を停止する。未送信のメールは送信し終えるまで待つ。
func (s *apiServer) close() {
	s.limiter.Stop()
	s.dispatcher.Stop()
}

// buildAPIServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// ctxはメール配送ワーカーの親コンテキストとなる。
func buildAPIServer(ctx context.Context, cfg *config.Config, st *stores, logger *slog.Logger) (*apiServer, error) {
	// 1. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. セキュリティ
	passwordHasher, err := security.NewBcryptHasher(cfg.PasswordSaltRounds)
	if err != nil {
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	codeHasher, err := security.NewBcryptHasher(cfg.TokenSaltRounds)
	if err != nil {
		return nil, fmt.Errorf("failed to create code hasher: %w", err)
	}

	// 3. コード台帳とトークン
	ledger := otp.NewLedger(st.codes, codeHasher, otp.Config{
		TTL:         cfg.CodeTTL,
		MaxAttempts: cfg.CodeMaxAttempts,
	})
	tokens, err := token.NewService(token.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	// 4. メール配送
	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}
	dispatcher := mail.NewDispatcher(mailer, logger, collector, mail.DispatcherConfig{
		QueueSize:   cfg.MailQueueSize,
		Workers:     cfg.MailWorkers,
		SendTimeout: cfg.MailSendTimeout,
	})

	// 5. ドメインサービス
	authService, err := auth.NewService(st.users, ledger, tokens, passwordHasher, dispatcher, collector, auth.ServiceConfig{
		CodeTTL:  cfg.CodeTTL,
		Rotation: auth.RotationPolicy(cfg.RefreshRotation),
		DecoyKey: auth.DeriveDecoyKey(cfg.JWTAccessSecret),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}
	userService := user.NewService(st.users)

	// 6. ルーター
	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitAuth, cfg.RateLimitSensitive))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              logger,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		HSTS:                cfg.CookieSecure,
		RateLimiter:         limiter,
		AccessTokenVerifier: tokens,
		HTTPRecorder:        collector,
		AuthService:         authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			RefreshMaxAge: tokens.RefreshTTL(),
		},
		UserService:    userService,
		HealthChecker:  st.health,
		MetricsHandler: metrics.Handler(reg),
	})

	dispatcher.Start(ctx)
	return &apiServer{handler: router, dispatcher: dispatcher, limiter: limiter}, nil
}
