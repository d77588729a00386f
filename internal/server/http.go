package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/sheetsproxy/internal/authgate"
)

const (
	// MCPEndpointPath is where the streamable-http MCP transport is served.
	MCPEndpointPath = "/mcp"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	// MCPServer enables the /mcp endpoint when set.
	MCPServer *mcpserver.MCPServer

	// Health serves /healthz, /readyz and /healthz/detailed when set.
	Health *HealthChecker

	RateLimit    float64
	RateBurst    int
	TrustProxy   bool
	MaxBodyBytes int64

	// BaseURL is the public URL of the service. Plain HTTP is only
	// accepted for loopback hosts.
	BaseURL string
}

// HTTPServer serves the REST routes, the OAuth flow and the MCP endpoint.
type HTTPServer struct {
	sc      *ServerContext
	opts    Options
	limiter *RateLimiter

	mu      sync.Mutex
	servers []*http.Server
}

// NewHTTPServer validates opts and builds the server.
func NewHTTPServer(sc *ServerContext, opts Options) (*HTTPServer, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context is required")
	}
	if opts.BaseURL != "" {
		if err := validateHTTPSRequirement(opts.BaseURL); err != nil {
			return nil, err
		}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPServer{
		sc:      sc,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateBurst, opts.TrustProxy),
	}, nil
}

// Handler returns the public router. API routes sit behind the auth gate.
func (s *HTTPServer) Handler() http.Handler {
	return otelhttp.NewHandler(s.router(s.sc.Gate().Middleware), ServiceName)
}

// InternalHandler returns the router for a listener reachable only from
// trusted peers. It takes the identity from X-User-Id instead of
// authenticating bearer tokens.
func (s *HTTPServer) InternalHandler() http.Handler {
	return otelhttp.NewHandler(s.router(authgate.TrustedUserIDMiddleware), ServiceName+"-internal")
}

func (s *HTTPServer) router(protect func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		RequestIDMiddleware,
		SecurityHeadersMiddleware,
		MetricsMiddleware(s.sc.Metrics(), s.sc.Logger()),
		s.limiter.Middleware,
		BodyLimitMiddleware(s.opts.MaxBodyBytes),
	)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if h := s.opts.Health; h != nil {
		r.Method(http.MethodGet, "/healthz", h.LivenessHandler())
		r.Method(http.MethodGet, "/readyz", h.ReadinessHandler())
		r.Method(http.MethodGet, "/healthz/detailed", h.DetailedHealthHandler())
	}
	r.Get("/tools", s.handleTools)
	r.Get("/fetch", s.handleFetch)

	r.Get("/auth/url", s.handleAuthURL)
	r.Get("/callback", s.handleCallback)
	r.Get("/oauth2callback", s.handleCallback)
	r.Get("/auth/mcp-token", s.handleMCPToken)

	r.Group(func(r chi.Router) {
		r.Use(protect)

		r.Post("/auth/revoke", s.handleRevoke)
		r.Post("/auth/link-token", s.handleLinkToken)

		r.Post("/api/tools/{name}", s.handleTool)

		r.Post("/spreadsheets", s.direct("createSpreadsheet", nil))
		r.Route("/spreadsheets/{id}", func(r chi.Router) {
			r.Get("/", s.direct("getSpreadsheetById", withQuery("ranges", "includeGridData")))
			r.Post("/batchUpdate", s.direct("batchUpdateSpreadsheetById", nil))
			r.Post("/getByDataFilter", s.direct("getSpreadsheetByDataFilter", nil))
			r.Post("/sheets/{sheetId}/copyTo", s.direct("copySheetToSpreadsheet", copyToArgs))

			r.Get("/values:batchGet", s.direct("batchGetValues",
				withQuery("ranges", "majorDimension", "valueRenderOption", "dateTimeRenderOption")))
			r.Post("/values:batchUpdate", s.direct("batchUpdateValues", nil))
			r.Post("/values:batchClear", s.direct("batchClearValues", nil))
			r.Post("/values:batchGetByDataFilter", s.direct("batchGetValuesByDataFilter", nil))
			r.Post("/values:batchClearByDataFilter", s.direct("batchClearValuesByDataFilter", nil))

			r.Get("/values/{range}", s.direct("getValuesFromRange",
				withQuery("majorDimension", "valueRenderOption", "dateTimeRenderOption")))
			r.Put("/values/{range}", s.direct("updateValuesInRange", withQuery("valueInputOption")))
			r.Post("/values/{range}/append", s.direct("appendValuesToRange",
				withQuery("valueInputOption", "insertDataOption")))
			r.Post("/values/{range}/clear", s.direct("clearValuesFromRange", nil))
		})

		if s.opts.MCPServer != nil {
			streamable := mcpserver.NewStreamableHTTPServer(s.opts.MCPServer,
				mcpserver.WithEndpointPath(MCPEndpointPath),
				mcpserver.WithHTTPContextFunc(identityFromRequest),
			)
			r.Handle(MCPEndpointPath, streamable)
		}
	})

	return r
}

// identityFromRequest carries the gate's decision into MCP tool handlers.
func identityFromRequest(ctx context.Context, r *http.Request) context.Context {
	if id, ok := authgate.IdentityFrom(r.Context()); ok {
		ctx = authgate.WithIdentity(ctx, id)
	}
	if tok, ok := authgate.BearerTokenFrom(r.Context()); ok {
		ctx = authgate.WithBearerToken(ctx, tok)
	}
	return ctx
}

// Start serves the public router on addr and blocks.
func (s *HTTPServer) Start(addr string) error {
	return s.serve(addr, s.Handler())
}

// StartInternal serves the trusted router on addr and blocks.
func (s *HTTPServer) StartInternal(addr string) error {
	return s.serve(addr, s.InternalHandler())
}

func (s *HTTPServer) serve(addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()

	s.sc.Logger().Info("starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops every listener.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := append([]*http.Server(nil), s.servers...)
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validateHTTPSRequirement allows plain HTTP only for loopback hosts, since
// bearer tokens and OAuth codes travel over this listener.
func validateHTTPSRequirement(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("HTTPS is required for non-loopback base URLs (got: %s)", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}
}
