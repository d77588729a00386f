package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/sheetsproxy/internal/apierror"
	"github.com/teemow/sheetsproxy/internal/credentials"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/storage/redis"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	token *oauth2.Token
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tok := *f.token
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return &tok, nil
}

type stubFallback struct {
	cred *credentials.Credential
	err  error
}

func (s stubFallback) Credential(context.Context) (*credentials.Credential, error) {
	return s.cred, s.err
}

func newLifecycle(t *testing.T, store credentials.Store, r Refresher, fb Fallback) *Lifecycle {
	t.Helper()
	l, err := New(Config{
		Store:     store,
		Refresher: r,
		Fallback:  fb,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return l
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestAuthorize_EmptyIdentity(t *testing.T) {
	l := newLifecycle(t, credentials.NewMemoryStore(), nil, nil)

	_, err := l.Authorize(context.Background(), "")
	assert.True(t, apierror.Is(err, apierror.Unauthenticated))
}

func TestAuthorize_NoCredential(t *testing.T) {
	l := newLifecycle(t, credentials.NewMemoryStore(), nil, nil)

	_, err := l.Authorize(context.Background(), identity.SentinelIdentity)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.Unauthenticated))
	assert.ErrorIs(t, err, credentials.ErrNotFound)
	assert.Equal(t, apierror.MsgAuthRequired, apierror.Sanitize(err).Message)
}

func TestAuthorize_ValidCredential(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store(ctx, identity.SentinelIdentity, &credentials.Credential{
		AccessToken: "ya29.valid",
		TokenType:   "Bearer",
		ExpiryDate:  credentials.Millis(testNow.Add(time.Hour)),
	}))
	r := &fakeRefresher{}
	l := newLifecycle(t, store, r, nil)

	live, err := l.Authorize(ctx, identity.SentinelIdentity)
	require.NoError(t, err)
	assert.Equal(t, "ya29.valid", live.Credential.AccessToken)
	assert.Equal(t, identity.SentinelIdentity, live.Identity)
	assert.Zero(t, r.calls)
}

func TestAuthorize_NoExpiryNeverRefreshes(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store(ctx, "u", &credentials.Credential{AccessToken: "ya29.forever", RefreshToken: "1//r"}))
	r := &fakeRefresher{}
	l := newLifecycle(t, store, r, nil)

	_, err := l.Authorize(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, r.calls)
}

func TestAuthorize_ExpiredWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store(ctx, "u", &credentials.Credential{
		AccessToken: "ya29.old",
		ExpiryDate:  credentials.Millis(testNow.Add(-time.Minute)),
	}))
	l := newLifecycle(t, store, &fakeRefresher{}, nil)

	_, err := l.Authorize(ctx, "u")
	assert.True(t, apierror.Is(err, apierror.Unauthenticated))
}

func TestAuthorize_InsideBufferRefreshes(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store(ctx, "u", &credentials.Credential{
		AccessToken:  "ya29.old",
		RefreshToken: "1//keep",
		ExpiryDate:   credentials.Millis(testNow.Add(4*time.Minute + 59*time.Second)),
	}))
	r := &fakeRefresher{token: &oauth2.Token{AccessToken: "ya29.new", Expiry: testNow.Add(time.Hour)}}
	l := newLifecycle(t, store, r, nil)

	live, err := l.Authorize(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "ya29.new", live.Credential.AccessToken)
	assert.Equal(t, "1//keep", live.Credential.RefreshToken)
}

func TestAuthorize_RotatedRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store(ctx, "u", &credentials.Credential{
		AccessToken:  "ya29.old",
		RefreshToken: "1//old",
		ExpiryDate:   credentials.Millis(testNow.Add(-time.Hour)),
	}))
	r := &fakeRefresher{token: &oauth2.Token{AccessToken: "ya29.new", RefreshToken: "1//rotated", Expiry: testNow.Add(time.Hour)}}
	l := newLifecycle(t, store, r, nil)

	_, err := l.Authorize(ctx, "u")
	require.NoError(t, err)

	stored, err := store.Load(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "1//rotated", stored.RefreshToken)
}

func TestAuthorize_Fallback(t *testing.T) {
	tests := []struct {
		name     string
		fallback Fallback
		wantErr  bool
		wantTok  string
	}{
		{
			name:     "seeds storage",
			fallback: stubFallback{cred: &credentials.Credential{AccessToken: "ya29.env", TokenType: "Bearer"}},
			wantTok:  "ya29.env",
		},
		{
			name:     "none configured",
			fallback: stubFallback{err: ErrNoFallback},
			wantErr:  true,
		},
		{
			name:     "unusable fallback",
			fallback: stubFallback{err: errors.New("bad json")},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := credentials.NewMemoryStore()
			l := newLifecycle(t, store, nil, tt.fallback)

			live, err := l.Authorize(ctx, "u")
			if tt.wantErr {
				assert.True(t, apierror.Is(err, apierror.Unauthenticated))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTok, live.Credential.AccessToken)

			stored, err := store.Load(ctx, "u")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTok, stored.AccessToken)
		})
	}
}

type failingStore struct{ *credentials.MemoryStore }

func (*failingStore) Load(context.Context, string) (*credentials.Credential, error) {
	return nil, errors.New("connection reset by peer")
}

func TestAuthorize_StoreFailureIsInternal(t *testing.T) {
	l := newLifecycle(t, &failingStore{credentials.NewMemoryStore()}, nil, nil)

	_, err := l.Authorize(context.Background(), "u")
	assert.True(t, apierror.Is(err, apierror.Internal))
}

func TestLiveClient_HTTPClientSendsToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	live := &LiveClient{Identity: "u", Credential: &credentials.Credential{AccessToken: "ya29.live", TokenType: "Bearer"}}
	resp, err := live.HTTPClient(context.Background()).Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer ya29.live", got)
}

func TestRevokeAndStore(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	l := newLifecycle(t, store, nil, nil)

	assert.True(t, apierror.Is(l.Store(ctx, "", &credentials.Credential{}), apierror.InvalidArgument))
	require.NoError(t, l.Store(ctx, "u", &credentials.Credential{AccessToken: "ya29.a"}))
	require.NoError(t, l.Revoke(ctx, "u"))

	_, err := l.Authorize(ctx, "u")
	assert.True(t, apierror.Is(err, apierror.Unauthenticated))
}

// multiTenant wires a Redis-backed credential and binding store with a token
// endpoint served by handler.
func multiTenant(t *testing.T, handler http.HandlerFunc) (*Lifecycle, identity.Resolver, *redis.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.NewStoreWithClient(client, "e2e:", nil)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	refresher := NewOAuthRefresher(&oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	})

	l, err := New(Config{Store: store, Refresher: refresher, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return l, identity.NewResolver(store), store
}

func seedExpired(t *testing.T, resolver identity.Resolver, store credentials.Store, token, who string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, resolver.Bind(ctx, token, who, who))
	require.NoError(t, store.Store(ctx, who, &credentials.Credential{
		AccessToken:  "ya29.expired",
		RefreshToken: "1//refresh",
		TokenType:    "Bearer",
		ExpiryDate:   credentials.Millis(testNow.Add(-time.Minute)),
	}))
}

func TestAuthorize_MultiTenantRefreshSucceeds(t *testing.T) {
	ctx := context.Background()
	var grants atomic.Int32
	l, resolver, store := multiTenant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "1//refresh", r.PostForm.Get("refresh_token"))
		grants.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"access_token":"ya29.fresh","token_type":"Bearer","expires_in":3600}`)
	})

	const mcpToken = "mcp_0123456789abcdef0123456789abcdef"
	seedExpired(t, resolver, store, mcpToken, "alice@example.com")

	who, err := resolver.Resolve(ctx, mcpToken)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", who)

	live, err := l.Authorize(ctx, who)
	require.NoError(t, err)
	assert.Equal(t, int32(1), grants.Load())
	assert.Equal(t, "ya29.fresh", live.Credential.AccessToken)

	stored, err := store.Load(ctx, who)
	require.NoError(t, err)
	assert.Equal(t, "ya29.fresh", stored.AccessToken)
	assert.Equal(t, "1//refresh", stored.RefreshToken)
	require.NotNil(t, stored.ExpiryDate)
	// The token endpoint computes expiry from the wall clock.
	assert.True(t, stored.ExpiryTime().After(time.Now().Add(50*time.Minute)))
}

func TestAuthorize_MultiTenantRefreshFails(t *testing.T) {
	ctx := context.Background()
	l, resolver, store := multiTenant(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	})

	const mcpToken = "mcp_fedcba9876543210fedcba9876543210"
	seedExpired(t, resolver, store, mcpToken, "bob@example.com")

	_, err := l.Authorize(ctx, "bob@example.com")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.RefreshFailed))

	res := apierror.Sanitize(err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, apierror.MsgAuthExpired, res.Message)
	assert.NotContains(t, res.Message, "1//refresh")

	_, err = store.Load(ctx, "bob@example.com")
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	_, err = l.Authorize(ctx, "bob@example.com")
	assert.True(t, apierror.Is(err, apierror.Unauthenticated))
}
