// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアドライバ
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// メールドライバ
const (
	MailDriverLog    = "log"
	MailDriverResend = "resend"
)

// EnvProduction は本番環境を示すAPP_ENVの値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	AppEnv   string
	LogLevel string

	// Server
	ServerPort string

	// Store
	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// JWT
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	JWTIssuer        string
	RefreshRotation  string

	// One-time codes
	CodeTTL            time.Duration
	CodeMaxAttempts    int
	TokenSaltRounds    int
	PasswordSaltRounds int

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Mail
	MailDriver      string
	ResendAPIKey    string
	FromEmail       string
	MailQueueSize   int
	MailWorkers     int
	MailSendTimeout time.Duration
	DevExposeCodes  bool

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth      int
	RateLimitSensitive int

	// Worker
	CodeSweepInterval time.Duration
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// ExposeCodes はログメーラーがメール本文を出力してよいかを返す。本番では常にfalse。
func (c *Config) ExposeCodes() bool {
	return c.DevExposeCodes && !c.IsProduction()
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが無い場合は何もしない。
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".envの読み込みに失敗しました", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.MongoURI = os.Getenv("MONGODB_URI")
	cfg.MongoDatabase = getEnvString("MONGODB_DATABASE", "dealhub")
	cfg.JWTAccessSecret = os.Getenv("JWT_ACCESS_SECRET")
	cfg.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "dealhub")
	cfg.RefreshRotation = strings.ToLower(getEnvString("REFRESH_ROTATION", "static"))
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.MailDriver = strings.ToLower(getEnvString("MAIL_DRIVER", MailDriverLog))
	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.FromEmail = getEnvString("FROM_EMAIL", "no-reply@dealhub.local")

	// Required fields
	var missing []string
	if cfg.JWTAccessSecret == "" {
		missing = append(missing, "JWT_ACCESS_SECRET")
	}
	if cfg.JWTRefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGODB_URI")
		}
	}
	if cfg.MailDriver == MailDriverResend && cfg.ResendAPIKey == "" {
		missing = append(missing, "RESEND_API_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	var errs []error
	parseDuration := func(key string, def time.Duration) time.Duration {
		d, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	parseInt := func(key string, def int) int {
		i, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return i
	}
	parseBool := func(key string, def bool) bool {
		b, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return b
	}

	cfg.JWTAccessTTL = parseDuration("JWT_ACCESS_EXPIRES", 15*time.Minute)
	cfg.JWTRefreshTTL = parseDuration("JWT_REFRESH_EXPIRES", 7*24*time.Hour)
	cfg.CodeTTL = parseDuration("CODE_TTL", 10*time.Minute)
	cfg.CodeMaxAttempts = parseInt("CODE_MAX_ATTEMPTS", 5)
	cfg.TokenSaltRounds = parseInt("TOKEN_SALT_ROUNDS", 12)
	cfg.PasswordSaltRounds = parseInt("PASSWORD_SALT_ROUNDS", 12)
	cfg.CookieSecure = parseBool("COOKIE_SECURE", true)
	cfg.MailQueueSize = parseInt("MAIL_QUEUE_SIZE", 100)
	cfg.MailWorkers = parseInt("MAIL_WORKERS", 2)
	cfg.MailSendTimeout = parseDuration("MAIL_SEND_TIMEOUT", 10*time.Second)
	cfg.DevExposeCodes = parseBool("DEV_EXPOSE_CODES", false)
	cfg.RateLimitAuth = parseInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitSensitive = parseInt("RATE_LIMIT_SENSITIVE", 10)
	cfg.CodeSweepInterval = parseDuration("CODE_SWEEP_INTERVAL", time.Hour)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of postgres, mongo, memory: %q", c.StoreDriver))
	}
	switch c.MailDriver {
	case MailDriverLog, MailDriverResend:
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER must be one of log, resend: %q", c.MailDriver))
	}
	switch c.RefreshRotation {
	case "static", "rotate":
	default:
		errs = append(errs, fmt.Errorf("REFRESH_ROTATION must be static or rotate: %q", c.RefreshRotation))
	}
	durations := []struct {
		key string
		val time.Duration
	}{
		{"JWT_ACCESS_EXPIRES", c.JWTAccessTTL},
		{"JWT_REFRESH_EXPIRES", c.JWTRefreshTTL},
		{"CODE_TTL", c.CodeTTL},
		{"CODE_SWEEP_INTERVAL", c.CodeSweepInterval},
		{"MAIL_SEND_TIMEOUT", c.MailSendTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}
	if c.CodeMaxAttempts <= 0 {
		errs = append(errs, errors.New("CODE_MAX_ATTEMPTS must be positive"))
	}
	if c.RateLimitAuth <= 0 || c.RateLimitSensitive <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_AUTH and RATE_LIMIT_SENSITIVE must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s must be an integer: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s must be a boolean: %q", key, v)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// ParseDuration はtime.ParseDurationの書式に加えて日単位の"d"接尾辞（例: "7d"）を受け付ける。
func ParseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
