package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sheetsproxy/internal/authgate"
	"github.com/teemow/sheetsproxy/internal/credentials"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/tokens"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	t.Run("keeps caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
	})

	t.Run("assigns id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Len(t, seen, 36)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestBodyLimitMiddleware(t *testing.T) {
	h := BodyLimitMiddleware(8)(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"way too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2, false)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "bucket refills over time")

	now = now.Add(limiterIdleTimeout + time.Minute)
	rl.Allow("10.0.0.3")
	rl.mu.Lock()
	_, kept := rl.visitors["10.0.0.2"]
	rl.mu.Unlock()
	assert.False(t, kept, "idle visitors are swept")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", clientIP(req, false))
	assert.Equal(t, "203.0.113.7", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "203.0.113.8", clientIP(req, true))
}

func TestValidateHTTPSRequirement(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"https", "https://sheets.example.com", false},
		{"http localhost", "http://localhost:8080", false},
		{"http 127.0.0.1", "http://127.0.0.1:8080", false},
		{"http ipv6 loopback", "http://[::1]:8080", false},
		{"http public host", "http://sheets.example.com", true},
		{"other scheme", "ftp://sheets.example.com", true},
		{"unparseable", "://bad", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHTTPSRequirement(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHTTPServer_RejectsPlainHTTPBaseURL(t *testing.T) {
	sc := newTestContext(t, identity.NewSingleTenantResolver())
	_, err := NewHTTPServer(sc, Options{BaseURL: "http://sheets.example.com"})
	assert.Error(t, err)

	_, err = NewHTTPServer(nil, Options{})
	assert.Error(t, err)
}

func TestInternalHandler_TrustsUserIDHeader(t *testing.T) {
	sc := newTestContext(t, identity.NewResolver(identity.NewMemoryBindingStore()))
	srv, err := NewHTTPServer(sc, Options{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/revoke", nil)
	req.Header.Set(authgate.HeaderUserID, "alice@example.com")
	rec := httptest.NewRecorder()
	srv.InternalHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "alice@example.com")
}

func TestServerContext_IdentityFor(t *testing.T) {
	single := newTestContext(t, identity.NewSingleTenantResolver())
	id, err := single.IdentityFor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, identity.SentinelIdentity, id)

	multi := newTestContext(t, identity.NewResolver(identity.NewMemoryBindingStore()))
	_, err = multi.IdentityFor(context.Background())
	assert.Error(t, err)

	id, err = multi.IdentityFor(authgate.WithIdentity(context.Background(), "bob@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", id)
}

func TestServerContext_Shutdown(t *testing.T) {
	sc := newTestContext(t, identity.NewSingleTenantResolver())
	assert.False(t, sc.IsShutdown())
	require.NoError(t, sc.Shutdown())
	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	assert.Error(t, sc.Context().Err())

	rec := httptest.NewRecorder()
	NewHealthChecker(sc).ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func newTestContext(t *testing.T, resolver identity.Resolver) *ServerContext {
	t.Helper()
	lifecycle, err := tokens.New(tokens.Config{Store: credentials.NewMemoryStore()})
	require.NoError(t, err)
	sc, err := NewServerContext(context.Background(), Config{Lifecycle: lifecycle, Resolver: resolver})
	require.NoError(t, err)
	return sc
}
