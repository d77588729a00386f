package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Kind classifies an error for status mapping and client messaging.
type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	RefreshFailed
	Upstream
	Configuration
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case RefreshFailed:
		return "refresh_failed"
	case Upstream:
		return "upstream"
	case Configuration:
		return "configuration"
	case InvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Status is the default HTTP status for the kind. Upstream errors carry
// their own status.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated, RefreshFailed:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case InvalidArgument:
		return http.StatusBadRequest
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Status overrides the kind's default when set.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the explicit status or the kind's default.
func (e *Error) HTTPStatus() int {
	if e.Status > 0 {
		return e.Status
	}
	return e.Kind.Status()
}

// New returns a classified error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromGoogle classifies a Google API error as Upstream with the provider's
// status. Other errors are returned unchanged.
func FromGoogle(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &Error{Kind: Upstream, Status: gerr.Code, Message: msg, Err: err}
}
