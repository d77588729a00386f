package apierror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		secrets []string
	}{
		{"access token", "call failed with ya29.a0AfH6SMBxYz-_12", []string{"ya29.a0AfH6SMBxYz-_12"}},
		{"refresh token", "bad grant 1//0gLxYz_abc", []string{"1//0gLxYz_abc", "0gLxYz_abc"}},
		{"access_token json", `{"access_token": "abc123"}`, []string{"abc123"}},
		{"refresh_token kv", "refresh_token=def456", []string{"def456"}},
		{"generic token", "token: ghi789", []string{"ghi789"}},
		{"unix path", "open /etc/sheetsproxy/secrets.json failed", []string{"/etc/sheetsproxy/secrets.json"}},
		{"windows path", `open C:\Users\me\secrets.json`, []string{`C:\Users\me\secrets.json`}},
		{"client secret", "client_secret=GOCSPX-xyz", []string{"GOCSPX-xyz"}},
		{"api key", "api-key: AIzaSyA", []string{"AIzaSyA"}},
		{"secret", "secret=hunter2", []string{"hunter2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.input)
			for _, s := range tt.secrets {
				assert.NotContains(t, out, s)
			}
			assert.Contains(t, out, RedactionMarker)
		})
	}

	assert.Equal(t, "nothing sensitive here", Redact("nothing sensitive here"))
}

func TestSanitize_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantMsg    string
		wantStatus int
	}{
		{"nil", nil, MsgUnknown, 500},
		{"unauthenticated kind", New(Unauthenticated, "no credential for identity"), MsgAuthRequired, 401},
		{"no token found text", errors.New("No token found for user x"), MsgAuthRequired, 401},
		{"token expired text", errors.New("Token expired"), MsgAuthRequired, 401},
		{"refresh failed kind", New(RefreshFailed, "could not renew"), MsgAuthExpired, 401},
		{"refresh failed kind with expiry text", New(RefreshFailed, "Token expired and refresh failed. Please visit /auth/url to re-authenticate."), MsgAuthExpired, 401},
		{"unauthenticated kind with refresh text", New(Unauthenticated, "refresh token missing"), MsgAuthRequired, 401},
		{"wrapped refresh failed kind", fmt.Errorf("authorize: %w", New(RefreshFailed, "Token expired and refresh failed.")), MsgAuthExpired, 401},
		{"refresh failed text", errors.New("Token refresh failed"), MsgAuthExpired, 401},
		{"refresh token text", errors.New("invalid refresh token"), MsgAuthExpired, 401},
		{"configuration kind", New(Configuration, "missing client id"), MsgConfig, 500},
		{"path error", &fs.PathError{Op: "open", Path: "/srv/secrets.json", Err: fs.ErrNotExist}, MsgConfig, 500},
		{"not exist", fmt.Errorf("load: %w", os.ErrNotExist), MsgConfig, 500},
		{"enoent text", errors.New("ENOENT: secrets.json"), MsgConfig, 500},
		{"forbidden kind", New(Forbidden, "Forbidden. Invalid MCP token."), "Forbidden. Invalid MCP token.", 403},
		{"invalid argument", New(InvalidArgument, "Missing required parameter: range"), "Missing required parameter: range", 400},
		{"plain error", errors.New("boom"), "boom", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Sanitize(tt.err)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
		})
	}
}

func TestSanitize_StatusPrecedence(t *testing.T) {
	gerr := &googleapi.Error{Code: 404, Message: "Requested entity was not found."}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"upstream googleapi status", fmt.Errorf("get: %w", gerr), 404},
		{"upstream beats local", Wrap(InvalidArgument, "bad", gerr), 404},
		{"normalized upstream", FromGoogle(gerr), 404},
		{"explicit local status", &Error{Kind: Internal, Status: 429, Message: "slow down"}, 429},
		{"dns error", fmt.Errorf("dial: %w", &net.DNSError{Err: "no such host", Name: "sheets.googleapis.com"}), 503},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), 503},
		{"typed dns error", Wrap(Internal, "failed to load credential", &net.DNSError{Err: "no such host", Name: "redis.internal"}), 503},
		{"typed connection refused", Wrap(Internal, "failed to load credential", syscall.ECONNREFUSED), 503},
		{"explicit status beats network", &Error{Kind: Internal, Status: 429, Err: syscall.ECONNREFUSED}, 429},
		{"kind default", New(Upstream, "bad gateway"), 502},
		{"default", errors.New("unexpected"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, Sanitize(tt.err).StatusCode)
		})
	}
}

func TestSanitize_NeverLeaksTokens(t *testing.T) {
	secret := "ya29.SyntheticAccessTokenValue_123"
	err := Wrap(Upstream, "upstream rejected "+secret, errors.New("Authorization: Bearer "+secret))

	res := Sanitize(err)
	assert.NotContains(t, res.Message, secret)
}

func TestFromGoogle(t *testing.T) {
	assert.Nil(t, FromGoogle(nil))

	plain := errors.New("plain")
	assert.Same(t, plain, FromGoogle(plain))

	gerr := &googleapi.Error{Code: 403, Message: "The caller does not have permission"}
	got := FromGoogle(gerr)
	assert.Equal(t, Upstream, KindOf(got))

	var ge *googleapi.Error
	require.True(t, errors.As(got, &ge))

	res := Sanitize(got)
	assert.Equal(t, 403, res.StatusCode)
	assert.Equal(t, "The caller does not have permission", res.Message)

	noMsg := FromGoogle(&googleapi.Error{Code: 500})
	assert.Equal(t, "Internal Server Error", Sanitize(noMsg).Message)
}

func TestError(t *testing.T) {
	cause := errors.New("cause")
	e := Wrap(Internal, "failed", cause)
	assert.Equal(t, "failed: cause", e.Error())
	assert.True(t, errors.Is(e, cause))
	assert.Equal(t, "cause", Wrap(Internal, "", cause).Error())
	assert.True(t, Is(fmt.Errorf("outer: %w", e), Internal))
	assert.False(t, Is(nil, Internal))
	assert.Equal(t, InvalidArgument, KindOf(Newf(InvalidArgument, "Missing required parameter: %s", "range")))
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind   Kind
		name   string
		status int
	}{
		{Internal, "internal", 500},
		{Unauthenticated, "unauthenticated", 401},
		{Forbidden, "forbidden", 403},
		{RefreshFailed, "refresh_failed", 401},
		{Upstream, "upstream", 502},
		{Configuration, "configuration", 500},
		{InvalidArgument, "invalid_argument", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.kind.String())
			assert.Equal(t, tt.status, tt.kind.Status())
		})
	}
}

func TestWrite(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	rec := httptest.NewRecorder()

	Write(rec, logger, "GET /spreadsheets/x", errors.New("dial tcp: token=ya29.leak"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body.Error, "ya29.leak")
	assert.True(t, strings.Contains(logBuf.String(), "ya29.leak"), "full detail goes to the log")
}
