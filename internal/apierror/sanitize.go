package apierror

import (
	"errors"
	"io/fs"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"
)

// RedactionMarker replaces every redacted substring.
const RedactionMarker = "[REDACTED]"

// Client-facing guidance messages.
const (
	MsgAuthRequired = "Authentication required. Please visit /auth/url to authenticate."
	MsgAuthExpired  = "Authentication expired. Please re-authenticate via /auth/url"
	MsgConfig       = "Configuration error. Please check server configuration."
	MsgUnknown      = "An unknown error occurred"
)

// Applied in order.
var redactions = []*regexp.Regexp{
	regexp.MustCompile(`ya29\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`1//[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)access_token["\s:=]+[^"}\s]+`),
	regexp.MustCompile(`(?i)refresh_token["\s:=]+[^"}\s]+`),
	regexp.MustCompile(`(?i)token["\s:=]+[^"}\s]+`),
	regexp.MustCompile(`[A-Z]:\\[^:]+`),
	regexp.MustCompile(`/[^\s:]+`),
	regexp.MustCompile(`(?i)client_secret["\s:=]+[^"}\s]+`),
	regexp.MustCompile(`(?i)api[_-]?key["\s:=]+[^"}\s]+`),
	regexp.MustCompile(`(?i)secret["\s:=]+[^"}\s]+`),
}

// Result is the client-safe form of an error.
type Result struct {
	Message    string
	StatusCode int
}

// Redact removes token, secret and path shaped substrings from msg.
func Redact(msg string) string {
	for _, re := range redactions {
		msg = re.ReplaceAllString(msg, RedactionMarker)
	}
	return msg
}

// Sanitize maps err to a message and status that are safe to return to a
// client. It has no side effects.
func Sanitize(err error) Result {
	if err == nil {
		return Result{Message: MsgUnknown, StatusCode: http.StatusInternalServerError}
	}

	raw := err.Error()
	clientText := raw
	var e *Error
	typed := errors.As(err, &e)
	if typed && e.Message != "" {
		clientText = e.Message
	}
	if clientText == "" {
		clientText = MsgUnknown
	}
	sanitized := Redact(clientText)

	if typed {
		switch e.Kind {
		case Unauthenticated:
			return Result{Message: MsgAuthRequired, StatusCode: http.StatusUnauthorized}
		case RefreshFailed:
			return Result{Message: MsgAuthExpired, StatusCode: http.StatusUnauthorized}
		case Configuration:
			return Result{Message: MsgConfig, StatusCode: http.StatusInternalServerError}
		}
		if isFilesystemError(err) {
			return Result{Message: MsgConfig, StatusCode: http.StatusInternalServerError}
		}
		return Result{Message: sanitized, StatusCode: statusOf(err)}
	}

	// Untyped errors are classified by their text. Guidance substrings are
	// matched on the raw text as well, since the generic token pattern can
	// swallow them.
	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(raw, s) || strings.Contains(sanitized, s) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("No token found", "Token expired"):
		return Result{Message: MsgAuthRequired, StatusCode: http.StatusUnauthorized}
	case contains("refresh failed", "refresh token"):
		return Result{Message: MsgAuthExpired, StatusCode: http.StatusUnauthorized}
	case isFilesystemError(err) || contains("ENOENT", "no such file"):
		return Result{Message: MsgConfig, StatusCode: http.StatusInternalServerError}
	}

	return Result{Message: sanitized, StatusCode: statusOf(err)}
}

// statusOf picks the upstream status first, then an explicit local one,
// then 503 for unreachable networks, then the kind's default.
func statusOf(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code > 0 {
		return gerr.Code
	}

	var e *Error
	typed := errors.As(err, &e)
	if typed && e.Status > 0 {
		return e.Status
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return http.StatusServiceUnavailable
	}
	if typed {
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}

func isFilesystemError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist)
}
