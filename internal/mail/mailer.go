// Package mail はトランザクションメールの組み立てと非同期配送を提供する。
package mail

import "context"

// Message は送信する1通のメール。
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer はメール送信ドライバーのインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
