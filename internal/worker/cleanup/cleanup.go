// Package cleanup は期限切れワンタイムコードの定期削除ジョブを提供する。
// 期限切れコードは検証時にも拒否されるため、削除は容量管理のためだけに行う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は削除ジョブの既定の実行間隔。
const DefaultInterval = 15 * time.Minute

// Sweeper は期限切れコードを削除し、削除件数を返す。otp.Ledgerが満たす。
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweepRecorder は削除件数を記録する。metrics.Collectorが満たす。
type SweepRecorder interface {
	RecordCodesSwept(count int64)
}

// CodeSweepJob は期限切れワンタイムコードの削除ジョブ。
// 冪等であり、複数インスタンスから同時に実行しても結果は変わらない。
type CodeSweepJob struct {
	sweeper  Sweeper
	recorder SweepRecorder
	logger   *slog.Logger
}

// NewCodeSweepJob は新しいCodeSweepJobを生成する。recorderはnilでもよい。
func NewCodeSweepJob(sweeper Sweeper, recorder SweepRecorder, logger *slog.Logger) *CodeSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeSweepJob{
		sweeper:  sweeper,
		recorder: recorder,
		logger:   logger,
	}
}

// Run は期限切れコードを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CodeSweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("コード削除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to run code sweep: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordCodesSwept(deletedCount)
	}

	j.logger.Info("コード削除ジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// ctxがキャンセルされるまでブロックする。intervalが0以下の場合はDefaultIntervalを使う。
func (j *CodeSweepJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("コード削除ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("コード削除ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
