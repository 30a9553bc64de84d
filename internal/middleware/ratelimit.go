package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
	"golang.org/x/time/rate"
)

// レート制限グループ名
const (
	GroupAuth      = "auth"
	GroupSensitive = "sensitive"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AuthRate        rate.Limit    // 登録・ログインのレート（req/sec）。20/60
	AuthBurst       int           // 登録・ログインのバーストサイズ
	SensitiveRate   rate.Limit    // コード検証・再送・パスワード再設定のレート（req/sec）。10/60
	SensitiveBurst  int           // コード検証・再送・パスワード再設定のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 登録・ログイン 20 req/min/IP、コード関連 10 req/min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteConfig(20, 10)
}

// PerMinuteConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// バーストサイズは1分あたりの上限と同じにする。
func PerMinuteConfig(authPerMinute, sensitivePerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		AuthRate:        rate.Limit(float64(authPerMinute) / 60.0),
		AuthBurst:       authPerMinute,
		SensitiveRate:   rate.Limit(float64(sensitivePerMinute) / 60.0),
		SensitiveBurst:  sensitivePerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterGroup は同じレートを共有するクライアント別リミッターの集合。
type limiterGroup struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterGroup(name string, r rate.Limit, burst int) *limiterGroup {
	return &limiterGroup{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はクライアントのリミッターを取得または作成する。
func (g *limiterGroup) get(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cl, exists := g.limiters[key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}
	limiter := rate.NewLimiter(g.rate, g.burst)
	g.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (g *limiterGroup) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (g *limiterGroup) evict(now time.Time, ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, cl := range g.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(g.limiters, key)
		}
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// 登録・ログイン用とコード関連の2グループを提供し、グループ間は独立に計数する。
type RateLimiter struct {
	config    RateLimiterConfig
	auth      *limiterGroup
	sensitive *limiterGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:    config,
		auth:      newLimiterGroup(GroupAuth, config.AuthRate, config.AuthBurst),
		sensitive: newLimiterGroup(GroupSensitive, config.SensitiveRate, config.SensitiveBurst),
		stopCh:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// AuthMiddleware は登録・ログイン用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth)
}

// SensitiveMiddleware はコード検証・再送・パスワード再設定用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) SensitiveMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.sensitive)
}

// LimiterCount は指定グループで現在管理されているエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount(group string) int {
	switch group {
	case GroupAuth:
		return rl.auth.len()
	case GroupSensitive:
		return rl.sensitive.len()
	default:
		return 0
	}
}

func (rl *RateLimiter) middleware(g *limiterGroup) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !g.get(ip).Allow() {
				writeRateLimitResponse(w, g.rate)
				slog.Warn("レート制限を超過しました",
					slog.String("client_ip", ip),
					slog.String("limit_type", g.name),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP はリクエスト元のIPアドレスを返す。
// プロキシヘッダーは信頼せず、RemoteAddrのみを使う。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.auth.evict(now, ttl)
	rl.sensitive.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
