package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultResendBaseURL はResend APIのベースURL。
const DefaultResendBaseURL = "https://api.resend.com"

// maxErrorBody はエラー時に読み取るレスポンスボディの上限。
const maxErrorBody = 4 << 10

// ResendMailer はResendのHTTP APIでメールを送信する。
type ResendMailer struct {
	apiKey  string
	from    string
	client  *http.Client
	baseURL string
}

// NewResendMailer はResendMailerを生成する。
// clientがnilの場合はタイムアウト付きのクライアントを使う。
func NewResendMailer(apiKey, from string, client *http.Client) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, errors.New("resend: API key is required")
	}
	if from == "" {
		return nil, errors.New("resend: sender address is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ResendMailer{
		apiKey:  apiKey,
		from:    from,
		client:  client,
		baseURL: DefaultResendBaseURL,
	}, nil
}

// WithBaseURL は送信先APIのベースURLを差し替えたコピーを返す。テストで使用する。
func (m *ResendMailer) WithBaseURL(baseURL string) *ResendMailer {
	cp := *m
	cp.baseURL = baseURL
	return &cp
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

// Send はメールを送信する。2xx以外のレスポンスは*SendErrorとして返す。
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("resend: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resend: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("resend: %w", &SendError{StatusCode: resp.StatusCode, Detail: string(bytes.TrimSpace(detail))})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// compile-time interface check
var _ Mailer = (*ResendMailer)(nil)
