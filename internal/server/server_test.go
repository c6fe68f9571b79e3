package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/config"
	"github.com/sakif/authcore/internal/handler"
	"github.com/sakif/authcore/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig is the default configuration on an in-memory SQLite database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.SQLitePath = ":memory:"
	cfg.Auth.BcryptCost = 4
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.stores.Close() })
	return s
}

func (s *Server) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestServer_RegisterThenUser(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := s.do(http.MethodPost, "/api/register", `{"username":"bob","password":"secret1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var sid *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			sid = c
		}
	}
	require.NotNil(t, sid)

	rr = s.do(http.MethodGet, "/api/user", "", sid)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"bob"`)

	rr = s.do(http.MethodGet, "/api/user", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServer_DuplicateRegistration(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := s.do(http.MethodPost, "/api/register", `{"username":"bob","password":"secret1","email":"bob@example.com"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	tests := []struct {
		name      string
		body      string
		wantError string
		wantField string
	}{
		{
			name:      "same username",
			body:      `{"username":"bob","password":"secret2"}`,
			wantError: "duplicate_username",
			wantField: "username",
		},
		{
			name:      "same email",
			body:      `{"username":"robert","password":"secret2","email":"bob@example.com"}`,
			wantError: "duplicate_email",
			wantField: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(http.MethodPost, "/api/register", tt.body)
			require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

			var body handler.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantField, body.Field)
			assert.Empty(t, rr.Result().Cookies())
		})
	}
}

// A federated login whose email local-part is already a local username gets
// a suffixed username; a second login with the same email reuses it.
func TestServer_FederatedUsernameCollision(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()

	rr := s.do(http.MethodPost, "/api/register", `{"username":"ada","password":"secret1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	id := service.FederatedIdentity{Provider: "github", Email: "ada@example.com", DisplayName: "Ada Lovelace", ExternalUID: "42"}
	first, err := s.bridge.AuthenticateFederated(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.User.Username, "ada"))
	assert.NotEqual(t, "ada", first.User.Username)

	again, err := s.bridge.AuthenticateFederated(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, again.User.ID)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"directory":"ok"}}`, rr.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	s.do(http.MethodGet, "/healthz", "")
	rr := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `authcore_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_RateLimitsLogin(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.PerMinute = 1
	cfg.RateLimit.Burst = 1
	s := newTestServer(t, cfg)

	body := `{"username":"nobody","password":"wrong"}`
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/login", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/api/login", body).Code)

	// Unlimited routes are unaffected.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "").Code)
}

func TestServer_OAuthRoutes(t *testing.T) {
	t.Run("disabled without credentials", func(t *testing.T) {
		s := newTestServer(t, testConfig(t))
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/auth/github/login", "").Code)
	})

	t.Run("github enabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.GitHub.ClientID = "gh-id"
		cfg.Auth.GitHub.ClientSecret = "gh-secret"
		cfg.Auth.StateSecret = "server-test-state-secret"
		cfg.Server.CookieSecret = "0123456789abcdef0123456789abcdef"
		s := newTestServer(t, cfg)

		rr := s.do(http.MethodGet, "/auth/github/login", "")
		require.Equal(t, http.StatusTemporaryRedirect, rr.Code)

		loc, err := url.Parse(rr.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "github.com", loc.Host)
		assert.Equal(t, "gh-id", loc.Query().Get("client_id"))

		// Google has no credentials.
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/auth/google/login", "").Code)
	})

	t.Run("short state secret", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.GitHub.ClientID = "gh-id"
		cfg.Auth.GitHub.ClientSecret = "gh-secret"
		cfg.Auth.StateSecret = "short"
		_, err := New(context.Background(), cfg, testLogger())
		require.Error(t, err)
	})
}

func TestOpenStores(t *testing.T) {
	tests := []struct {
		name        string
		sessions    string
		wantJanitor bool
		wantErr     bool
	}{
		{name: "sqlite sessions", sessions: "sqlite", wantJanitor: true},
		{name: "memory sessions", sessions: "memory"},
		{name: "postgres sessions on sqlite", sessions: "postgres", wantErr: true},
		{name: "unknown", sessions: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Sessions.Driver = tt.sessions

			stores, err := OpenStores(context.Background(), cfg, testLogger())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer stores.Close()

			assert.Equal(t, tt.wantJanitor, stores.NeedsJanitor)
			assert.NotNil(t, stores.Users)
			assert.NotNil(t, stores.Sessions)
			assert.Contains(t, stores.Checks, "directory")
		})
	}
}

func TestNewNotifier(t *testing.T) {
	n, err := newNotifier(config.MailConfig{Driver: "log"}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, n)

	_, err = newNotifier(config.MailConfig{Driver: "pigeon"}, testLogger())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "pigeon"))
}
