package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/teemow/sheetsproxy/internal/apierror"
	"github.com/teemow/sheetsproxy/internal/authgate"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/instrumentation"
	"github.com/teemow/sheetsproxy/internal/logging"
	"github.com/teemow/sheetsproxy/internal/sheets"
	"github.com/teemow/sheetsproxy/internal/tokens"
)

// Config wires the dependencies shared by the REST and MCP surfaces.
// Lifecycle and Resolver are required.
type Config struct {
	Lifecycle *tokens.Lifecycle
	Resolver  identity.Resolver
	Gate      *authgate.Gate

	// OAuth is nil when no Google client is configured. The auth routes
	// then answer with a configuration error.
	OAuth *oauth2.Config

	// SheetsEndpoint and UserInfoEndpoint override the Google base URLs.
	SheetsEndpoint   string
	UserInfoEndpoint string

	// ReadOnly rejects operations that modify spreadsheets.
	ReadOnly bool

	Version     string
	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
	Logger      *slog.Logger
}

// ServerContext holds the state shared by the HTTP routes and MCP tools.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext validates cfg and returns a context bound to ctx.
func NewServerContext(ctx context.Context, cfg Config) (*ServerContext, error) {
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("token lifecycle is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = authgate.New(authgate.Config{
			Resolver: cfg.Resolver,
			Metrics:  cfg.Metrics,
			Logger:   cfg.Logger,
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "server"),
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Lifecycle returns the token lifecycle.
func (sc *ServerContext) Lifecycle() *tokens.Lifecycle { return sc.cfg.Lifecycle }

// Resolver returns the identity resolver.
func (sc *ServerContext) Resolver() identity.Resolver { return sc.cfg.Resolver }

// Gate returns the auth gate protecting the API routes.
func (sc *ServerContext) Gate() *authgate.Gate { return sc.cfg.Gate }

// OAuthConfig returns the Google OAuth client config, or nil.
func (sc *ServerContext) OAuthConfig() *oauth2.Config { return sc.cfg.OAuth }

// Metrics returns the metrics recorder (may be nil).
func (sc *ServerContext) Metrics() *instrumentation.Metrics { return sc.cfg.Metrics }

// AuditLogger returns the audit logger (may be nil).
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger { return sc.cfg.AuditLogger }

func (sc *ServerContext) Logger() *slog.Logger { return sc.logger }

func (sc *ServerContext) ReadOnly() bool { return sc.cfg.ReadOnly }

func (sc *ServerContext) Version() string { return sc.cfg.Version }

// MultiTenant reports whether identities come from a binding store.
func (sc *ServerContext) MultiTenant() bool {
	return sc.cfg.Resolver.MultiTenant()
}

// IdentityFor returns the identity the request runs as. Without a
// multi-tenant backend every caller shares the sentinel identity.
func (sc *ServerContext) IdentityFor(ctx context.Context) (string, error) {
	if id, ok := authgate.IdentityFrom(ctx); ok {
		return id, nil
	}
	if !sc.MultiTenant() {
		return identity.SentinelIdentity, nil
	}
	return "", apierror.New(apierror.Unauthenticated, authgate.MsgUnknownToken)
}

// SheetsService authorizes identity and returns a Sheets client that sends
// its live access token.
func (sc *ServerContext) SheetsService(ctx context.Context, id string) (*sheetsapi.Service, error) {
	client, err := sc.cfg.Lifecycle.Authorize(ctx, id)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, client.HTTPClient(ctx), sc.cfg.SheetsEndpoint)
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to create Sheets client", err)
	}
	return svc, nil
}

// RunOperation executes op for the identity attached to ctx.
func (sc *ServerContext) RunOperation(ctx context.Context, op *sheets.Operation, args sheets.Args) (any, error) {
	if sc.cfg.ReadOnly && !op.ReadOnly {
		return nil, apierror.Newf(apierror.Forbidden, "%s is disabled in read-only mode", op.Name)
	}
	// Reject bad input before touching credentials.
	if err := op.Validate(args); err != nil {
		return nil, err
	}
	id, err := sc.IdentityFor(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := sc.SheetsService(ctx, id)
	if err != nil {
		return nil, err
	}
	return op.Execute(ctx, svc, args, sc.cfg.Metrics)
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
