package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/dealhub/internal/token"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(raw string) (*token.Claims, error)
}

func (m *mockVerifier) VerifyAccessToken(raw string) (*token.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(raw)
	}
	return nil, errors.New("not configured")
}

// staticVerifier は"good"のみを受け付け、指定の主体を返すモックを生成する。
func staticVerifier(userID, role string) *mockVerifier {
	return &mockVerifier{
		verifyFn: func(raw string) (*token.Claims, error) {
			if raw != "good" {
				return nil, token.ErrInvalidToken
			}
			return &token.Claims{
				Email: userID + "@example.com",
				Role:  role,
				Type:  token.TypeAccess,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   userID,
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
				},
			}, nil
		},
	}
}

type mockHTTPRecorder struct {
	statuses  []int
	latencies []time.Duration
}

func (m *mockHTTPRecorder) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockHTTPRecorder) RecordRequestLatency(d time.Duration) {
	m.latencies = append(m.latencies, d)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
