package authgate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teemow/sheetsproxy/internal/apierror"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/instrumentation"
	"github.com/teemow/sheetsproxy/internal/logging"
)

const bearerPrefix = "Bearer "

// Client-facing rejection texts.
const (
	MsgMissingHeader  = "Unauthorized. Missing or invalid Authorization header."
	HintMissingHeader = "Include Authorization: Bearer <token> header"
	MsgUnconfigured   = "MCP authentication not configured. Set MCP_TOKEN environment variable."
	MsgInvalidToken   = "Forbidden. Invalid MCP token."
	MsgUnknownToken   = "Forbidden. Invalid MCP token or user not found."
	HintUnknownToken  = "Please complete OAuth authentication first. Visit /auth/url to get the OAuth URL. Your user account will be created automatically from your Google email."
	MsgInternal       = "Internal authentication error."
)

// State is the branch of the gate that produced a decision.
type State int

const (
	StateNoHeader State = iota
	StateSingleTenantNoBackend
	StateSingleTenantWithExpectedToken
	StateMultiTenant
)

func (s State) String() string {
	switch s {
	case StateNoHeader:
		return "no_header"
	case StateSingleTenantNoBackend:
		return "single_tenant_no_backend"
	case StateSingleTenantWithExpectedToken:
		return "single_tenant_token"
	case StateMultiTenant:
		return "multi_tenant"
	default:
		return "unknown"
	}
}

// Decision is the outcome of authenticating one request.
type Decision struct {
	Allowed  bool
	State    State
	Identity string // empty when allowed without identity
	Token    string

	Status  int
	Message string
	Hint    string
	Err     error // cause of an internal failure, never sent to clients
}

// AsError returns the rejection as a classified error, or nil when allowed.
func (d Decision) AsError() error {
	if d.Allowed {
		return nil
	}
	kind := apierror.Forbidden
	switch d.Status {
	case http.StatusUnauthorized:
		kind = apierror.Unauthenticated
	case http.StatusInternalServerError:
		kind = apierror.Internal
		if d.State == StateSingleTenantNoBackend {
			kind = apierror.Configuration
		}
	}
	return &apierror.Error{Kind: kind, Status: d.Status, Message: d.Message, Err: d.Err}
}

// Config configures a Gate.
type Config struct {
	// Resolver maps tokens to identities. A nil or single-tenant resolver
	// puts the gate in single-tenant mode.
	Resolver identity.Resolver

	// ExpectedToken is the shared token for single-tenant mode.
	ExpectedToken string

	// Strict rejects requests when single-tenant mode has no expected token.
	Strict bool

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Gate authenticates requests.
type Gate struct {
	resolver      identity.Resolver
	multiTenant   bool
	expectedToken string
	strict        bool
	metrics       *instrumentation.Metrics
	logger        *slog.Logger
}

// New returns a Gate for cfg.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		resolver:      cfg.Resolver,
		multiTenant:   cfg.Resolver != nil && cfg.Resolver.MultiTenant(),
		expectedToken: cfg.ExpectedToken,
		strict:        cfg.Strict,
		metrics:       cfg.Metrics,
		logger:        logging.WithComponent(logger, "authgate"),
	}
}

// MultiTenant reports whether the gate resolves identities per token.
func (g *Gate) MultiTenant() bool { return g.multiTenant }

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// Authenticate decides whether a request with the given Authorization
// header may proceed.
func (g *Gate) Authenticate(ctx context.Context, authorization string) Decision {
	d := g.decide(ctx, authorization)
	g.record(ctx, d)
	return d
}

func (g *Gate) decide(ctx context.Context, authorization string) Decision {
	token, ok := ParseBearer(authorization)
	if !ok {
		return Decision{
			State:   StateNoHeader,
			Status:  http.StatusUnauthorized,
			Message: MsgMissingHeader,
			Hint:    HintMissingHeader,
		}
	}

	if g.multiTenant {
		return g.resolve(ctx, token)
	}

	if g.expectedToken == "" {
		d := Decision{State: StateSingleTenantNoBackend, Token: token}
		if g.strict {
			d.Status = http.StatusInternalServerError
			d.Message = MsgUnconfigured
			return d
		}
		g.logger.Warn("MCP_TOKEN not set, allowing unauthenticated request")
		d.Allowed = true
		return d
	}

	d := Decision{State: StateSingleTenantWithExpectedToken, Token: token}
	if !identity.ConstantTimeEqual(token, g.expectedToken) {
		d.Status = http.StatusForbidden
		d.Message = MsgInvalidToken
		return d
	}
	d.Allowed = true
	d.Identity = identity.SentinelIdentity
	return d
}

func (g *Gate) resolve(ctx context.Context, token string) Decision {
	d := Decision{State: StateMultiTenant, Token: token}

	who, err := g.resolver.Resolve(ctx, token)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		d.Status = http.StatusForbidden
		d.Message = MsgUnknownToken
		d.Hint = HintUnknownToken
	case err != nil:
		d.Status = http.StatusInternalServerError
		d.Message = MsgInternal
		d.Err = err
	default:
		d.Allowed = true
		d.Identity = who
	}
	return d
}

func (g *Gate) record(ctx context.Context, d Decision) {
	result := instrumentation.AuthResultAllowed
	switch {
	case d.Allowed:
	case d.State == StateSingleTenantNoBackend:
		result = instrumentation.AuthResultUnconfigured
	case d.Err != nil:
		result = instrumentation.AuthResultError
	default:
		result = instrumentation.AuthResultDenied
	}
	g.metrics.RecordAuthDecision(ctx, d.State.String(), result)

	if d.Err != nil {
		g.logger.Error("identity resolution failed", logging.Err(d.Err))
		return
	}
	if !d.Allowed {
		g.logger.Debug("request rejected",
			slog.String("state", d.State.String()),
			slog.Int(logging.KeyStatus, d.Status))
	}
}

// Middleware rejects unauthenticated requests and attaches the identity and
// bearer token to the request context of allowed ones.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Never trust a client-supplied identity header.
		r.Header.Del(HeaderUserID)

		d := g.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if !d.Allowed {
			apierror.WriteJSON(w, d.Status, apierror.Body{Error: d.Message, Hint: d.Hint})
			return
		}

		ctx := WithBearerToken(r.Context(), d.Token)
		if d.Identity != "" {
			ctx = WithIdentity(ctx, d.Identity)
			r.Header.Set(HeaderUserID, d.Identity)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
