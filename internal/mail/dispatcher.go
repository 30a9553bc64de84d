package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// 配送結果
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// DeliveryRecorder は配送結果を記録するインターフェース。metrics.Collectorが満たす。
type DeliveryRecorder interface {
	RecordEmail(outcome string)
}

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration

	// MaxAttempts は再送対象エラー時の最大試行回数。
	MaxAttempts int
	// RetryBaseDelay は再送間隔の初回遅延。以降は2倍ずつ増加する。
	RetryBaseDelay time.Duration
}

// Dispatcher はメールをバックグラウンドで配送する。
// Deliverは呼び出し元をブロックせず、キューが満杯の場合はメールを破棄して警告を出す。
type Dispatcher struct {
	mailer   Mailer
	logger   *slog.Logger
	recorder DeliveryRecorder
	cfg      DispatcherConfig

	queue chan Message
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewDispatcher はDispatcherを生成する。ゼロ値の設定項目には既定値を使う。
func NewDispatcher(mailer Mailer, logger *slog.Logger, recorder DeliveryRecorder, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		mailer:   mailer,
		logger:   logger,
		recorder: recorder,
		cfg:      cfg,
		queue:    make(chan Message, cfg.QueueSize),
	}
}

// Start はワーカーを起動する。ctxはワーカーの送信処理の親コンテキストとなる。
// 2回目以降の呼び出しは何もしない。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(context.WithoutCancel(ctx))
	}
	d.logger.Info("メール配送ワーカーを開始しました",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
	)
}

// Deliver はメールをキューに積む。停止後またはキュー満杯の場合は破棄する。
func (d *Dispatcher) Deliver(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(msg, "dispatcher stopped")
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.drop(msg, "queue full")
	}
}

// Stop は新規受付を止め、キューに残ったメールを送り切ってから戻る。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		// ワーカー未起動の場合は残りを破棄する
		for msg := range d.queue {
			d.drop(msg, "dispatcher never started")
		}
		return
	}
	d.wg.Wait()
	d.logger.Info("メール配送ワーカーを停止しました")
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.send(ctx, msg)
	}
}

// send は1通を送信する。再送対象のエラーは指数バックオフでMaxAttemptsまで再試行する。
func (d *Dispatcher) send(ctx context.Context, msg Message) {
	var err error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(d.cfg.RetryBaseDelay, attempt-1)
			d.logger.Warn("メール送信を再試行します",
				slog.String("to", msg.To),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				d.drop(msg, "context canceled")
				return
			}
		}

		if err = d.sendOnce(ctx, msg); err == nil {
			d.record(OutcomeSent)
			return
		}
		if !IsRetryable(err) {
			break
		}
	}

	d.logger.Error("メール送信に失敗しました",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("error", err.Error()),
	)
	d.record(OutcomeFailed)
}

func (d *Dispatcher) sendOnce(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.mailer.Send(ctx, msg)
}

func (d *Dispatcher) drop(msg Message, reason string) {
	d.logger.Warn("メールを破棄しました",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("reason", reason),
	)
	d.record(OutcomeDropped)
}

func (d *Dispatcher) record(outcome string) {
	if d.recorder != nil {
		d.recorder.RecordEmail(outcome)
	}
}
