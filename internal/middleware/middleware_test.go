package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/authcore/internal/metrics"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// =============================================================================
// Logger
// =============================================================================

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Logger(logger))
	r.Get("/api/reset-password/{token}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	r.Get("/ok", okHandler)

	tests := []struct {
		name      string
		path      string
		wantPath  string
		wantLevel string
		wantCode  float64
	}{
		{name: "token is redacted", path: "/api/reset-password/secret-token", wantPath: "/api/reset-password/{token}", wantLevel: "WARN", wantCode: 400},
		{name: "plain route", path: "/ok?code=abc", wantPath: "/ok", wantLevel: "INFO", wantCode: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.NotContains(t, buf.String(), "secret-token")
			assert.NotContains(t, buf.String(), "code=abc")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, "request completed", entry["msg"])
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantPath, entry["path"])
			assert.Equal(t, tt.wantCode, entry["status"])
			assert.NotEmpty(t, entry["requestID"])
		})
	}
}

// =============================================================================
// Metrics
// =============================================================================

func TestMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/reset-password/{token}", okHandler)

	for _, token := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/reset-password/"+token, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin", nil))

	expected := `
# HELP authcore_http_requests_total Total number of HTTP requests
# TYPE authcore_http_requests_total counter
authcore_http_requests_total{method="GET",route="/api/reset-password/{token}",status="200"} 3
authcore_http_requests_total{method="GET",route="unmatched",status="404"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authcore_http_requests_total"))
}

// =============================================================================
// RateLimiter
// =============================================================================

func TestRateLimiter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2}, m)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	r := chi.NewRouter()
	r.With(limiter.Limit).Post("/api/login", okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = ip + ":51234"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	// Burst of two, then rejected.
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	rr := send("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "rate_limited")

	// Another client is unaffected.
	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)

	// One request per second refills.
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	n, err := testutil.GatherAndCount(reg, "authcore_rate_limited_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{}, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("10.0.0.1")
	limiter.allow("10.0.0.2")
	require.Len(t, limiter.visitors, 2)

	now = now.Add(visitorIdle + time.Minute)
	limiter.allow("10.0.0.3")
	assert.Len(t, limiter.visitors, 1)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{}, nil)
	def := DefaultRateLimitConfig()
	assert.Equal(t, def.BurstSize, limiter.burst)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{remote: "192.0.2.9", want: "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
