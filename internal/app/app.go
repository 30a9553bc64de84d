// Package app はサブコマンドの解析と全依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/dealhub/internal/config"
	"github.com/hitoshi/dealhub/internal/database"
	"github.com/hitoshi/dealhub/internal/logger"
	"github.com/hitoshi/dealhub/internal/metrics"
	"github.com/hitoshi/dealhub/internal/otp"
	"github.com/hitoshi/dealhub/internal/security"
	"github.com/hitoshi/dealhub/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	config.LoadDotEnv("")
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn("LOG_LEVELが不正なためinfoを使用します", slog.String("value", cfg.LogLevel))
	}
	log = logger.SetupDefault(w, level)

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINT/SIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(context.Background(), "http://localhost:"+port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("mail_driver", cfg.MailDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return serve(ctx, ln, cfg, log)
}

// serve はlnでHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, log *slog.Logger) error {
	defer ln.Close()

	// 1. ストア接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.close()

	// 2. 依存関係のワイヤリング。メール配送ワーカーはctxのキャンセルを引き継がない
	api, err := buildAPIServer(context.WithoutCancel(ctx), cfg, st, log)
	if err != nil {
		return err
	}
	defer api.close()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Handler:           api.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("APIサーバーを起動しました", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("APIサーバーを停止しています")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("APIサーバーを停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れコードの削除ジョブを実行し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 1. ストア接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.close()

	// 2. コード台帳の初期化
	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	hasher, err := security.NewBcryptHasher(cfg.TokenSaltRounds)
	if err != nil {
		return fmt.Errorf("failed to create code hasher: %w", err)
	}
	ledger := otp.NewLedger(st.codes, hasher, otp.Config{TTL: cfg.CodeTTL, MaxAttempts: cfg.CodeMaxAttempts})

	// 3. 運用エンドポイント（/health, /metrics）の起動
	ops := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newOpsHandler(st.health, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("ワーカーの運用エンドポイントを起動しました", slog.String("addr", ops.Addr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("運用エンドポイントの起動に失敗しました", slog.String("error", err.Error()))
		}
	}()

	// 4. 削除ジョブの起動（ブロッキング）
	job := cleanup.NewCodeSweepJob(ledger, collector, log)
	job.Start(ctx, cfg.CodeSweepInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Warn("運用エンドポイントの停止に失敗しました", slog.String("error", err.Error()))
	}

	log.Info("ワーカーを停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// MongoDBのインデックスは接続時に作成されるため、postgres以外では何もしない。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Info("マイグレーションはpostgresドライバーでのみ実行します",
			slog.String("store_driver", cfg.StoreDriver),
		)
		return nil
	}

	log.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("データベースマイグレーションが完了しました", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// baseURLの/healthにHTTPリクエストを送り、200以外はエラーとする。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
