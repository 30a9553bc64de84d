package mail

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// defaultMaxAttempts は1通あたりの既定の最大送信試行回数。
	defaultMaxAttempts = 3
	// defaultRetryBaseDelay は指数バックオフの既定の初回遅延。
	defaultRetryBaseDelay = 500 * time.Millisecond
	// maxRetryDelay は指数バックオフの最大遅延。
	maxRetryDelay = 10 * time.Second
)

// SendError はメール送信APIが2xx以外を返したことを表す。
type SendError struct {
	StatusCode int
	Detail     string
}

// Error はerrorインターフェースを実装する。
func (e *SendError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Detail)
}

// Retryable は再送で成功しうるステータス（429/5xx）かどうかを返す。
func (e *SendError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable は送信エラーが再送対象かどうかを分類する。
// 429/5xxの応答とネットワークエラーは再送し、それ以外（4xx、テンプレート不備等）は再送しない。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// retryDelay は試行回数に基づいて指数バックオフ遅延を計算する。
// attemptは0始まりで、base, 2*base, 4*base...と増加し、maxRetryDelayで頭打ちになる。
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
