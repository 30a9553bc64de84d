package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/dealhub/internal/metrics"
	"github.com/hitoshi/dealhub/internal/middleware"
	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/token"
	"github.com/prometheus/client_golang/prometheus"
)

type rejectingVerifier struct{}

func (rejectingVerifier) VerifyAccessToken(string) (*token.Claims, error) {
	return nil, token.ErrInvalidToken
}

// roleVerifier はトークン文字列をそのまま役割として扱うAccessTokenVerifier。
type roleVerifier struct{}

func (roleVerifier) VerifyAccessToken(raw string) (*token.Claims, error) {
	return &token.Claims{
		Role:             raw,
		Type:             "access",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-" + raw},
	}, nil
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		t.Cleanup(deps.RateLimiter.Stop)
	}
	if deps.AuthService == nil {
		deps.AuthService = &mockAuthService{}
	}
	if deps.UserService == nil {
		deps.UserService = &mockUserService{}
	}
	if deps.AccessTokenVerifier == nil {
		deps.AccessTokenVerifier = &rejectingVerifier{}
	}
	deps.CORSAllowedOrigin = "http://localhost:3000"
	return NewRouter(deps)
}

func TestNewRouter_RoutesExist(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/auth/register"},
		{http.MethodPost, "/auth/resend-verification"},
		{http.MethodPost, "/auth/verify-email"},
		{http.MethodPost, "/auth/login"},
		{http.MethodPost, "/auth/refresh"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/auth/forgot-password"},
		{http.MethodPost, "/auth/reset-password"},
		{http.MethodPost, "/auth/select-role"},
		{http.MethodGet, "/auth/me"},
		{http.MethodGet, "/admin/users/" + "00000000-0000-4000-8000-000000000000"},
		{http.MethodGet, "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code == http.StatusNotFound || w.Code == http.StatusMethodNotAllowed {
				t.Errorf("status = %d, route not registered", w.Code)
			}
		})
	}
}

func TestNewRouter_AppliesCommonMiddleware(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("セキュリティヘッダーが付与されていない")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("CORSヘッダーが付与されていない")
	}
}

func TestNewRouter_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	router := newTestRouter(t, &RouterDeps{
		HTTPRecorder:   collector,
		MetricsHandler: metrics.Handler(reg),
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	raw, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(raw), "dealhub_http_status_total") {
		t.Errorf("metrics output lacks dealhub_http_status_total:\n%s", raw)
	}
}

func TestNewRouter_NoMetricsHandler(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_LogoutIgnoresForeignOrigin(t *testing.T) {
	var got string
	router := newTestRouter(t, &RouterDeps{
		AuthService: &mockAuthService{
			logoutFn: func(ctx context.Context, refreshToken string) { got = refreshToken },
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: "refresh-1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got != "refresh-1" {
		t.Errorf("logout token = %q, want refresh-1", got)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "refreshToken=;") {
		t.Errorf("Set-Cookie = %q, want clearing cookie", w.Header().Get("Set-Cookie"))
	}
}

func TestNewRouter_SelectRoleRequiresAccessToken(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/select-role",
		strings.NewReader(`{"uid":"u","role":"investor"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestNewRouter_AdminRoutesRequireAdminRole(t *testing.T) {
	const targetID = "11111111-1111-4111-8111-111111111111"
	router := newTestRouter(t, &RouterDeps{
		AccessTokenVerifier: roleVerifier{},
		UserService: &mockUserService{
			getProfileFn: func(ctx context.Context, userID string) (*model.UserSummary, error) {
				return &model.UserSummary{ID: userID, Email: "b@example.com", Role: model.RoleInvestor}, nil
			},
		},
	})

	tests := []struct {
		name       string
		bearer     string
		path       string
		wantStatus int
	}{
		{"トークンなし", "", "/admin/users/" + targetID, http.StatusUnauthorized},
		{"投資家", string(model.RoleInvestor), "/admin/users/" + targetID, http.StatusForbidden},
		{"ソーサー", string(model.RoleSourcer), "/admin/users/" + targetID, http.StatusForbidden},
		{"管理者", string(model.RoleAdmin), "/admin/users/" + targetID, http.StatusOK},
		{"不正なID", string(model.RoleAdmin), "/admin/users/not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body=%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}
