// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、認証サービス、メール配送、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordAuthEvent(operation, outcome string)
	RecordOTPVerification(purpose, outcome string)
	RecordEmail(outcome string)
	RecordCodesSwept(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	authEvents     *prometheus.CounterVec
	otpVerifies    *prometheus.CounterVec
	emails         *prometheus.CounterVec
	codesSwept     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealhub_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealhub_auth_events_total",
			Help: "認証操作の結果別件数",
		}, []string{"operation", "outcome"}),
		otpVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealhub_otp_verifications_total",
			Help: "ワンタイムコード検証の用途・結果別件数",
		}, []string{"purpose", "outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealhub_emails_total",
			Help: "メール配送の結果別件数",
		}, []string{"outcome"}),
		codesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealhub_codes_swept_total",
			Help: "掃除ジョブで削除した期限切れコードの合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.authEvents,
		c.otpVerifies,
		c.emails,
		c.codesSwept,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordAuthEvent は認証操作の結果を記録する。
func (c *Collector) RecordAuthEvent(operation, outcome string) {
	c.authEvents.WithLabelValues(operation, outcome).Inc()
}

// RecordOTPVerification はワンタイムコード検証の結果を記録する。
func (c *Collector) RecordOTPVerification(purpose, outcome string) {
	c.otpVerifies.WithLabelValues(purpose, outcome).Inc()
}

// RecordEmail はメール配送の結果を記録する。
func (c *Collector) RecordEmail(outcome string) {
	c.emails.WithLabelValues(outcome).Inc()
}

// RecordCodesSwept は削除した期限切れコード数を記録する。
func (c *Collector) RecordCodesSwept(count int64) {
	c.codesSwept.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクス不要な構成とテストで使う。
type Nop struct{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordAuthEvent(string, string) {}
func (Nop) RecordOTPVerification(string, string) {}
func (Nop) RecordEmail(string) {}
func (Nop) RecordCodesSwept(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
