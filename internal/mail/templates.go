package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// 件名
const (
	SubjectVerification  = "Your verification code"
	SubjectPasswordReset = "Your password reset code"
)

var verificationHTML = template.Must(template.New("verification").Parse(
	`<p>Hi {{.Name}},</p>` +
		`<p>Your verification code is <b style="font-size:20px;letter-spacing:3px;">{{.Code}}</b>. ` +
		`It expires in {{.Minutes}} minutes.</p>`))

var passwordResetHTML = template.Must(template.New("password_reset").Parse(
	`<p>Your password reset code is <b style="font-size:20px;letter-spacing:3px;">{{.Code}}</b>. ` +
		`It expires in {{.Minutes}} minutes.</p>` +
		`<p>If you did not request a reset, you can ignore this email.</p>`))

type codeView struct {
	Name    string
	Code    string
	Minutes int
}

// VerificationMessage はメールアドレス確認コードのメールを組み立てる。
func VerificationMessage(to, name, code string, ttl time.Duration) (Message, error) {
	view := codeView{Name: name, Code: code, Minutes: minutes(ttl)}
	html, err := render(verificationHTML, view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: SubjectVerification,
		HTML:    html,
		Text:    fmt.Sprintf("Hi %s, your verification code is %s. It expires in %d minutes.", name, code, view.Minutes),
	}, nil
}

// PasswordResetMessage はパスワードリセットコードのメールを組み立てる。
func PasswordResetMessage(to, code string, ttl time.Duration) (Message, error) {
	view := codeView{Code: code, Minutes: minutes(ttl)}
	html, err := render(passwordResetHTML, view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: SubjectPasswordReset,
		HTML:    html,
		Text:    fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.", code, view.Minutes),
	}, nil
}

func render(t *template.Template, view codeView) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func minutes(d time.Duration) int {
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
