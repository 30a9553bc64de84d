package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestVerificationMessage(t *testing.T) {
	msg, err := VerificationMessage("a@x.com", "Alice", "12345", 10*time.Minute)
	if err != nil {
		t.Fatalf("VerificationMessage: %v", err)
	}
	if msg.To != "a@x.com" || msg.Subject != SubjectVerification {
		t.Errorf("unexpected header: %+v", msg)
	}
	if !strings.Contains(msg.HTML, "12345") || !strings.Contains(msg.HTML, "expires in 10 minutes") {
		t.Errorf("HTML missing code or expiry: %s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "12345") {
		t.Errorf("Text missing code: %s", msg.Text)
	}
}

// 名前に含まれるHTMLはエスケープされること
func TestVerificationMessage_EscapesName(t *testing.T) {
	msg, err := VerificationMessage("a@x.com", "<script>x</script>", "12345", 10*time.Minute)
	if err != nil {
		t.Fatalf("VerificationMessage: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Errorf("name must be escaped: %s", msg.HTML)
	}
}

func TestPasswordResetMessage(t *testing.T) {
	msg, err := PasswordResetMessage("a@x.com", "54321", 10*time.Minute)
	if err != nil {
		t.Fatalf("PasswordResetMessage: %v", err)
	}
	if msg.Subject != SubjectPasswordReset || !strings.Contains(msg.HTML, "54321") {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestResendMailer_Send(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	m, err := NewResendMailer("re_test", "no-reply@dealhub.local", srv.Client())
	if err != nil {
		t.Fatalf("NewResendMailer: %v", err)
	}
	m = m.WithBaseURL(srv.URL)

	err = m.Send(context.Background(), Message{To: "a@x.com", Subject: "s", HTML: "<p>h</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer re_test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.From != "no-reply@dealhub.local" || len(got.To) != 1 || got.To[0] != "a@x.com" || got.HTML != "<p>h</p>" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestResendMailer_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	m, _ := NewResendMailer("re_test", "no-reply@dealhub.local", srv.Client())
	err := m.WithBaseURL(srv.URL).Send(context.Background(), Message{To: "a@x.com"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Errorf("err = %v, want status 422 error", err)
	}
}

func TestNewResendMailer_RequiresKeyAndSender(t *testing.T) {
	if _, err := NewResendMailer("", "from@x.com", nil); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := NewResendMailer("key", "", nil); err == nil {
		t.Error("expected error without sender")
	}
}

// 本文公開が無効の場合はコードがログに出ないこと
func TestLogMailer_HidesBodyByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	_ = NewLogMailer(logger, false).Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "code 12345"})
	if strings.Contains(buf.String(), "12345") {
		t.Errorf("body leaked into log: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "a@x.com") {
		t.Errorf("recipient missing from log: %s", buf.String())
	}

	buf.Reset()
	_ = NewLogMailer(logger, true).Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "code 12345"})
	if !strings.Contains(buf.String(), "12345") {
		t.Errorf("body should be logged when exposed: %s", buf.String())
	}
}

type recordingMailer struct {
	mu    sync.Mutex
	sent  []Message
	err   error
	block chan struct{}
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *outcomeCounter) RecordEmail(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[outcome]++
}

func (c *outcomeCounter) get(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[outcome]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// Stopはキューに残ったメールを送り切ること
func TestDispatcher_StopDrainsQueue(t *testing.T) {
	mailer := &recordingMailer{}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{QueueSize: 10, Workers: 2})
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		d.Deliver(Message{To: "a@x.com"})
	}
	d.Stop()

	if mailer.count() != 5 {
		t.Errorf("sent = %d, want 5", mailer.count())
	}
	if rec.get(OutcomeSent) != 5 {
		t.Errorf("sent outcome = %d, want 5", rec.get(OutcomeSent))
	}
}

// キュー満杯時はブロックせず破棄すること
func TestDispatcher_DropsWhenFull(t *testing.T) {
	mailer := &recordingMailer{block: make(chan struct{})}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{QueueSize: 1, Workers: 1, SendTimeout: 5 * time.Second})
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Deliver(Message{To: "a@x.com"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked")
	}

	close(mailer.block)
	d.Stop()

	if rec.get(OutcomeDropped) == 0 {
		t.Error("expected some messages to be dropped")
	}
	if got := rec.get(OutcomeDropped) + rec.get(OutcomeSent); got != 10 {
		t.Errorf("dropped+sent = %d, want 10", got)
	}
}

func TestDispatcher_RecordsFailures(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{})
	d.Start(context.Background())

	d.Deliver(Message{To: "a@x.com"})
	d.Stop()

	if rec.get(OutcomeFailed) != 1 {
		t.Errorf("failed outcome = %d, want 1", rec.get(OutcomeFailed))
	}
}

func TestDispatcher_DeliverAfterStopIsDropped(t *testing.T) {
	mailer := &recordingMailer{}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{})
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	d.Deliver(Message{To: "a@x.com"})
	if mailer.count() != 0 || rec.get(OutcomeDropped) != 1 {
		t.Errorf("sent = %d, dropped = %d; want 0, 1", mailer.count(), rec.get(OutcomeDropped))
	}
}

// flakyMailer は最初のfailures回だけerrを返す。
type flakyMailer struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (m *flakyMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return m.err
	}
	return nil
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	mailer := &flakyMailer{failures: 2, err: fmt.Errorf("resend: %w", &SendError{StatusCode: 503})}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond})
	d.Start(context.Background())

	d.Deliver(Message{To: "a@x.com"})
	d.Stop()

	if mailer.calls != 3 {
		t.Errorf("calls = %d, want 3", mailer.calls)
	}
	if rec.get(OutcomeSent) != 1 || rec.get(OutcomeFailed) != 0 {
		t.Errorf("sent = %d, failed = %d; want 1, 0", rec.get(OutcomeSent), rec.get(OutcomeFailed))
	}
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	mailer := &flakyMailer{failures: 10, err: &SendError{StatusCode: 429}}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{MaxAttempts: 2, RetryBaseDelay: time.Millisecond})
	d.Start(context.Background())

	d.Deliver(Message{To: "a@x.com"})
	d.Stop()

	if mailer.calls != 2 {
		t.Errorf("calls = %d, want 2", mailer.calls)
	}
	if rec.get(OutcomeFailed) != 1 {
		t.Errorf("failed outcome = %d, want 1", rec.get(OutcomeFailed))
	}
}

func TestDispatcher_DoesNotRetryPermanentFailures(t *testing.T) {
	mailer := &flakyMailer{failures: 10, err: &SendError{StatusCode: 422}}
	rec := &outcomeCounter{}
	d := NewDispatcher(mailer, quietLogger(), rec, DispatcherConfig{MaxAttempts: 5, RetryBaseDelay: time.Millisecond})
	d.Start(context.Background())

	d.Deliver(Message{To: "a@x.com"})
	d.Stop()

	if mailer.calls != 1 {
		t.Errorf("4xxは再送しないこと: calls = %d", mailer.calls)
	}
}

func TestResendMailer_ErrorIsSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m, _ := NewResendMailer("re_test", "no-reply@dealhub.local", srv.Client())
	err := m.WithBaseURL(srv.URL).Send(context.Background(), Message{To: "a@x.com"})

	var se *SendError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want *SendError with 502", err)
	}
	if !IsRetryable(err) {
		t.Error("502は再送対象であること")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &SendError{StatusCode: 429}, true},
		{"500", &SendError{StatusCode: 500}, true},
		{"400", &SendError{StatusCode: 400}, false},
		{"ネットワークエラー", fmt.Errorf("resend: request failed: %w", timeoutError{}), true},
		{"その他", errors.New("template broken"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	base := 500 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{10, maxRetryDelay},
	}
	for _, tt := range tests {
		if got := retryDelay(base, tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}
