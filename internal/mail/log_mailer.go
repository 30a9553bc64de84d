package mail

import (
	"context"
	"log/slog"
)

// LogMailer はメールを送信せずログに出力する開発用ドライバー。
// exposeBodyがfalseの場合、本文（コードを含む）は出力しない。
type LogMailer struct {
	logger     *slog.Logger
	exposeBody bool
}

// NewLogMailer はLogMailerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogMailer(logger *slog.Logger, exposeBody bool) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger, exposeBody: exposeBody}
}

// Send はメールの宛先と件名をログに出力する。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	attrs := []slog.Attr{
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	}
	if m.exposeBody {
		attrs = append(attrs, slog.String("body", msg.Text))
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "メールは送信せずログに出力しました", attrs...)
	return nil
}

// compile-time interface check
var _ Mailer = (*LogMailer)(nil)
