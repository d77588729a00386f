package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/teemow/sheetsproxy/internal/authgate"
	"github.com/teemow/sheetsproxy/internal/credentials"
	"github.com/teemow/sheetsproxy/internal/google"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/instrumentation"
	"github.com/teemow/sheetsproxy/internal/logging"
	"github.com/teemow/sheetsproxy/internal/server"
	"github.com/teemow/sheetsproxy/internal/storage/postgres"
	redisstore "github.com/teemow/sheetsproxy/internal/storage/redis"
	"github.com/teemow/sheetsproxy/internal/tokens"
	"github.com/teemow/sheetsproxy/internal/tools/sheets_tools"
)

// Transport names accepted by --transport.
const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
	transportREST           = "rest"
)

// Storage backends accepted by --storage-type.
const (
	storageMemory   = "memory"
	storagePostgres = "postgres"
	storageRedis    = "redis"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// StorageConfig selects and configures the credential backend.
type StorageConfig struct {
	// Type is memory, postgres or redis. Empty means inferred from the
	// connection settings.
	Type        string
	DatabaseURL string
	// Migrate applies pending schema migrations at startup (postgres only).
	Migrate bool
	Redis   redisstore.Config
}

// GoogleConfig identifies the OAuth client and the optional static token.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	SecretsFile  string
	// TokenFile holds a credential used when storage has none.
	TokenFile string
}

// serveConfig is everything the serve command needs after flags and
// environment have been merged.
type serveConfig struct {
	Transport    string
	HTTPAddr     string
	InternalAddr string
	BaseURL      string

	Debug     bool
	LogFormat string

	ReadOnly      bool
	Production    bool
	MCPToken      string
	EncryptionKey string

	RateLimit  float64
	RateBurst  int
	TrustProxy bool

	Storage StorageConfig
	Google  GoogleConfig
	Metrics MetricsConfig
}

// envBinding maps a flag to the environment variables consulted when the
// flag was not set on the command line. The first non-empty variable wins.
type envBinding struct {
	flag    string
	envs    []string
	convert func(string) string
}

func isProduction(v string) string {
	return fmt.Sprint(strings.EqualFold(v, "production"))
}

var serveEnvBindings = []envBinding{
	{flag: "transport", envs: []string{"MCP_TRANSPORT"}},
	{flag: "http-addr", envs: []string{"HTTP_ADDR"}},
	{flag: "http-addr", envs: []string{"PORT"}, convert: func(v string) string { return ":" + v }},
	{flag: "internal-addr", envs: []string{"INTERNAL_ADDR"}},
	{flag: "base-url", envs: []string{"MCP_BASE_URL"}},
	{flag: "debug", envs: []string{"LOG_LEVEL"}, convert: func(v string) string { return fmt.Sprint(strings.EqualFold(v, "debug")) }},
	{flag: "log-format", envs: []string{"LOG_FORMAT"}},
	{flag: "read-only", envs: []string{"SHEETSPROXY_READ_ONLY"}},
	{flag: "production", envs: []string{"SHEETSPROXY_ENV", "NODE_ENV"}, convert: isProduction},
	{flag: "mcp-token", envs: []string{"MCP_TOKEN"}},
	{flag: "encryption-key", envs: []string{"TOKEN_ENCRYPTION_KEY"}},
	{flag: "rate-limit", envs: []string{"RATE_LIMIT"}},
	{flag: "rate-burst", envs: []string{"RATE_BURST"}},
	{flag: "trust-proxy", envs: []string{"TRUST_PROXY"}},
	{flag: "storage-type", envs: []string{"STORAGE_TYPE"}},
	{flag: "database-url", envs: []string{"DATABASE_URL"}},
	{flag: "migrate", envs: []string{"AUTO_MIGRATE"}},
	{flag: "redis-addr", envs: []string{"REDIS_ADDR"}},
	{flag: "redis-password", envs: []string{"REDIS_PASSWORD"}},
	{flag: "redis-db", envs: []string{"REDIS_DB"}},
	{flag: "redis-key-prefix", envs: []string{"REDIS_KEY_PREFIX"}},
	{flag: "google-client-id", envs: []string{"GOOGLE_CLIENT_ID"}},
	{flag: "google-client-secret", envs: []string{"GOOGLE_CLIENT_SECRET"}},
	{flag: "google-redirect-url", envs: []string{"GOOGLE_REDIRECT_URI"}},
	{flag: "google-secrets-file", envs: []string{"GOOGLE_SECRETS_FILE"}},
	{flag: "google-token-file", envs: []string{"GOOGLE_TOKEN_FILE"}},
	{flag: "metrics-enabled", envs: []string{"METRICS_ENABLED"}},
	{flag: "metrics-addr", envs: []string{"METRICS_ADDR"}},
}

// applyEnvFallbacks fills every flag that was not explicitly set from its
// environment variables. Bindings are evaluated in order, so for a flag
// bound twice the earlier binding takes precedence.
func applyEnvFallbacks(cmd *cobra.Command, bindings []envBinding) error {
	filled := map[string]bool{}
	for _, b := range bindings {
		if filled[b.flag] || cmd.Flags().Changed(b.flag) {
			continue
		}
		for _, env := range b.envs {
			v := os.Getenv(env)
			if v == "" {
				continue
			}
			if b.convert != nil {
				v = b.convert(v)
			}
			if err := cmd.Flags().Set(b.flag, v); err != nil {
				return fmt.Errorf("invalid value %q in %s for --%s: %w", v, env, b.flag, err)
			}
			filled[b.flag] = true
			break
		}
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Sheets proxy",
		Long: `Start the Google Sheets proxy.

Supports multiple transport types:
  - stdio: MCP over standard input/output (default)
  - streamable-http: MCP at /mcp plus the REST routes and OAuth flow
  - rest: the REST routes and OAuth flow without the MCP endpoint

Tenancy:
  With --storage-type memory every caller shares one credential and
  authenticates with MCP_TOKEN. The postgres and redis backends map each
  MCP token to its own Google account. When --storage-type is not given it
  is inferred: DATABASE_URL selects postgres, REDIS_ADDR selects redis.

OAuth Configuration:
  --google-client-id and --google-client-secret (or GOOGLE_CLIENT_ID and
  GOOGLE_CLIENT_SECRET), or a secrets.json downloaded from the Google Cloud
  console. Without a client the OAuth routes are disabled and expired
  credentials cannot be refreshed.

Every flag can also be set through the environment variable named in its
help text. Flags given on the command line always win.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnvFallbacks(cmd, serveEnvBindings); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Transport, "transport", transportStdio, "Transport type: stdio, streamable-http or rest. Can also use MCP_TRANSPORT env var.")
	f.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP server address. Can also use HTTP_ADDR or PORT env vars.")
	f.StringVar(&cfg.InternalAddr, "internal-addr", "", "Optional listener that trusts the X-User-Id header instead of bearer tokens. Bind it to a private interface only. Can also use INTERNAL_ADDR env var.")
	f.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL, used for the OAuth redirect. Defaults to http://localhost<http-addr>. Can also use MCP_BASE_URL env var.")
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging. Can also use LOG_LEVEL=debug.")
	f.StringVar(&cfg.LogFormat, "log-format", "", "Log format: text or json (default: json in production, text otherwise). Can also use LOG_FORMAT env var.")
	f.BoolVar(&cfg.ReadOnly, "read-only", false, "Only expose operations that do not modify spreadsheets. Can also use SHEETSPROXY_READ_ONLY env var.")
	f.BoolVar(&cfg.Production, "production", false, "Reject requests when no authentication is configured. Can also use SHEETSPROXY_ENV=production or NODE_ENV=production.")
	f.StringVar(&cfg.MCPToken, "mcp-token", "", "Shared MCP token for single-tenant mode, or the caller token for stdio. Can also use MCP_TOKEN env var.")
	f.StringVar(&cfg.EncryptionKey, "encryption-key", "", "AES-256 key for credentials at rest (32 bytes, base64). Generate with: sheetsproxy token generate-key. Can also use TOKEN_ENCRYPTION_KEY env var.")
	f.Float64Var(&cfg.RateLimit, "rate-limit", 10, "Requests per second allowed per client IP (0 disables). Can also use RATE_LIMIT env var.")
	f.IntVar(&cfg.RateBurst, "rate-burst", 20, "Burst size for the per-client rate limit. Can also use RATE_BURST env var.")
	f.BoolVar(&cfg.TrustProxy, "trust-proxy", false, "Take the client IP from X-Forwarded-For and X-Real-IP. Can also use TRUST_PROXY env var.")

	f.StringVar(&cfg.Storage.Type, "storage-type", "", "Credential storage: memory, postgres or redis. Can also use STORAGE_TYPE env var.")
	f.StringVar(&cfg.Storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL. Can also use DATABASE_URL env var.")
	f.BoolVar(&cfg.Storage.Migrate, "migrate", false, "Apply pending database migrations at startup. Can also use AUTO_MIGRATE env var.")
	f.StringVar(&cfg.Storage.Redis.Addr, "redis-addr", "", "Redis server address (host:port). Can also use REDIS_ADDR env var.")
	f.StringVar(&cfg.Storage.Redis.Password, "redis-password", "", "Redis password. Can also use REDIS_PASSWORD env var.")
	f.IntVar(&cfg.Storage.Redis.DB, "redis-db", 0, "Redis database number. Can also use REDIS_DB env var.")
	f.StringVar(&cfg.Storage.Redis.KeyPrefix, "redis-key-prefix", redisstore.DefaultKeyPrefix, "Prefix for all Redis keys. Can also use REDIS_KEY_PREFIX env var.")

	f.StringVar(&cfg.Google.ClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&cfg.Google.ClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	f.StringVar(&cfg.Google.RedirectURL, "google-redirect-url", "", "OAuth redirect URL (default: <base-url>/oauth2callback). Can also use GOOGLE_REDIRECT_URI env var.")
	f.StringVar(&cfg.Google.SecretsFile, "google-secrets-file", google.DefaultSecretsFile, "OAuth client secrets file used when no client ID is given. Can also use GOOGLE_SECRETS_FILE env var.")
	f.StringVar(&cfg.Google.TokenFile, "google-token-file", "", "File holding a Google token used when storage has none. GOOGLE_ACCESS_TOKEN takes precedence. Can also use GOOGLE_TOKEN_FILE env var.")

	f.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(cfg serveConfig) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Transport {
	case transportStdio, transportStreamableHTTP, transportREST:
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http, rest)", cfg.Transport)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	storageType, err := resolveStorageType(cfg.Storage)
	if err != nil {
		return err
	}
	cfg.Storage.Type = storageType
	cfg.BaseURL = resolveBaseURL(cfg.BaseURL, cfg.HTTPAddr)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	enc, err := newEncryptor(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	backend, err := openStorage(ctx, cfg.Storage, enc, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	if backend.bindings != nil && !enc.Enabled() {
		logger.Warn("credentials are stored unencrypted; set --encryption-key for multi-tenant deployments")
	}

	var resolver identity.Resolver = identity.NewSingleTenantResolver()
	if backend.bindings != nil {
		resolver = identity.NewResolver(backend.bindings)
	}

	oauthConf, err := newOAuthConfig(cfg.Google, cfg.BaseURL)
	if err != nil {
		return err
	}
	if oauthConf == nil {
		logger.Warn("no Google OAuth client configured; the OAuth routes are disabled and credentials will not be refreshed")
	}

	lifecycleCfg := tokens.Config{
		Store:    credentials.Instrument(backend.credentials, backend.name, metrics),
		Fallback: tokens.NewEnvFallback(cfg.Google.TokenFile),
		Metrics:  metrics,
		Logger:   logging.WithComponent(logger, "tokens"),
		AuthURL:  strings.TrimSuffix(cfg.BaseURL, "/") + tokens.DefaultAuthPath,
	}
	if oauthConf != nil {
		lifecycleCfg.Refresher = tokens.NewOAuthRefresher(oauthConf)
	}
	lifecycle, err := tokens.New(lifecycleCfg)
	if err != nil {
		return fmt.Errorf("failed to create token lifecycle: %w", err)
	}

	gate := authgate.New(authgate.Config{
		Resolver:      resolver,
		ExpectedToken: cfg.MCPToken,
		Strict:        cfg.Production,
		Metrics:       metrics,
		Logger:        logging.WithComponent(logger, "authgate"),
	})

	serverContext, err := server.NewServerContext(ctx, server.Config{
		Lifecycle:   lifecycle,
		Resolver:    resolver,
		Gate:        gate,
		OAuth:       oauthConf,
		ReadOnly:    cfg.ReadOnly,
		Version:     version,
		Metrics:     metrics,
		AuditLogger: instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", logging.Err(err))
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("sheetsproxy", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := sheets_tools.RegisterSheetsTools(mcpSrv, serverContext, cfg.ReadOnly); err != nil {
		return fmt.Errorf("failed to register Sheets tools: %w", err)
	}

	logger.Info("starting sheetsproxy",
		"version", version,
		"transport", cfg.Transport,
		"storage", backend.name,
		"multi_tenant", resolver.MultiTenant(),
		"read_only", cfg.ReadOnly,
		"production", cfg.Production)

	if cfg.Transport == transportStdio {
		return runStdioServer(ctx, mcpSrv, resolver, cfg.MCPToken)
	}
	if cfg.Transport == transportREST {
		mcpSrv = nil
	}
	return runHTTPServer(ctx, serverContext, mcpSrv, cfg, provider, logger)
}

func newLogger(cfg serveConfig) *slog.Logger {
	format := cfg.LogFormat
	if format == "" {
		format = logging.FormatText
		if cfg.Production {
			format = logging.FormatJSON
		}
	}
	// stdout carries the stdio protocol, so logs always go to stderr.
	return logging.New(os.Stderr, format, cfg.Debug)
}

// resolveStorageType validates the configured backend, inferring it from
// the connection settings when none was named.
func resolveStorageType(cfg StorageConfig) (string, error) {
	t := strings.ToLower(strings.TrimSpace(cfg.Type))
	if t == "" {
		switch {
		case cfg.DatabaseURL != "":
			t = storagePostgres
		case cfg.Redis.Addr != "":
			t = storageRedis
		default:
			t = storageMemory
		}
	}

	switch t {
	case storageMemory:
		return t, nil
	case storagePostgres:
		if cfg.DatabaseURL == "" {
			return "", fmt.Errorf("--database-url is required for postgres storage")
		}
		return t, nil
	case storageRedis:
		if cfg.Redis.Addr == "" {
			return "", fmt.Errorf("--redis-addr is required for redis storage")
		}
		return t, nil
	default:
		return "", fmt.Errorf("unsupported storage type: %s (supported: memory, postgres, redis)", cfg.Type)
	}
}

// resolveBaseURL falls back to the local listener for development.
func resolveBaseURL(baseURL, httpAddr string) string {
	if baseURL != "" {
		return strings.TrimSuffix(baseURL, "/")
	}
	if strings.HasPrefix(httpAddr, ":") {
		return "http://localhost" + httpAddr
	}
	return "http://" + httpAddr
}

func newEncryptor(encodedKey string) (*credentials.Encryptor, error) {
	key, err := credentials.KeyFromBase64(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	enc, err := credentials.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	return enc, nil
}

// newOAuthConfig returns nil without error when no client is configured.
func newOAuthConfig(cfg GoogleConfig, baseURL string) (*oauth2.Config, error) {
	client, err := google.LoadClientConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL, cfg.SecretsFile, baseURL+"/oauth2callback")
	if errors.Is(err, google.ErrNoClientConfig) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Google OAuth client: %w", err)
	}
	return google.OAuthConfig(client), nil
}

// storageBackend is the opened credential backend. bindings is nil for the
// single-tenant memory store.
type storageBackend struct {
	name        string
	credentials credentials.Store
	bindings    identity.BindingStore
	close       func()
}

func openStorage(ctx context.Context, cfg StorageConfig, enc *credentials.Encryptor, logger *slog.Logger) (*storageBackend, error) {
	switch cfg.Type {
	case storagePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := migrateUp(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &storageBackend{
			name:        storagePostgres,
			credentials: postgres.NewCredentialStore(pool, enc),
			bindings:    postgres.NewBindingStore(pool),
			close:       pool.Close,
		}, nil

	case storageRedis:
		store, err := redisstore.NewStore(ctx, cfg.Redis, enc, logger)
		if err != nil {
			return nil, err
		}
		return &storageBackend{
			name:        storageRedis,
			credentials: store,
			bindings:    store,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Warn("closing redis client failed", logging.Err(err))
				}
			},
		}, nil

	case storageMemory, "":
		return &storageBackend{
			name:        storageMemory,
			credentials: credentials.NewMemoryStore(),
			close:       func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// stdioIdentity resolves the caller once at startup. An empty result means
// the sentinel identity applies.
func stdioIdentity(ctx context.Context, resolver identity.Resolver, token string) (string, error) {
	if !resolver.MultiTenant() {
		return "", nil
	}
	if token == "" {
		return "", fmt.Errorf("MCP_TOKEN is required for the stdio transport with a multi-tenant backend")
	}
	id, err := resolver.Resolve(ctx, token)
	if errors.Is(err, identity.ErrNotFound) {
		return "", fmt.Errorf("MCP_TOKEN is not bound to a user; complete the OAuth flow first")
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve MCP_TOKEN: %w", err)
	}
	return id, nil
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, resolver identity.Resolver, token string) error {
	id, err := stdioIdentity(ctx, resolver, token)
	if err != nil {
		return err
	}

	contextFunc := func(ctx context.Context) context.Context {
		if id != "" {
			ctx = authgate.WithIdentity(ctx, id)
		}
		return ctx
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv, mcpserver.WithStdioContextFunc(contextFunc)); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}

func runHTTPServer(ctx context.Context, sc *server.ServerContext, mcpSrv *mcpserver.MCPServer, cfg serveConfig, provider *instrumentation.Provider, logger *slog.Logger) error {
	health := server.NewHealthChecker(sc)
	httpServer, err := server.NewHTTPServer(sc, server.Options{
		MCPServer:  mcpSrv,
		Health:     health,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
		TrustProxy: cfg.TrustProxy,
		BaseURL:    cfg.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	metricsServer, err := startMetricsServer(cfg.Metrics, provider, logger)
	if err != nil {
		return err
	}

	serverDone := make(chan error, 2)
	go func() { serverDone <- httpServer.Start(cfg.HTTPAddr) }()
	if cfg.InternalAddr != "" {
		logger.Warn("internal listener trusts X-User-Id; keep it off public networks", "addr", cfg.InternalAddr)
		go func() { serverDone <- httpServer.StartInternal(cfg.InternalAddr) }()
	}
	logger.Info("HTTP server ready", "addr", cfg.HTTPAddr, "base_url", cfg.BaseURL, "mcp", mcpSrv != nil)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
	case err := <-serverDone:
		if err != nil {
			runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", logging.Err(err))
		}
	}

	if runErr == nil {
		logger.Info("HTTP server gracefully stopped")
	}
	return runErr
}

// startMetricsServer returns nil when metrics are disabled or not exported
// through Prometheus.
func startMetricsServer(cfg MetricsConfig, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	if !cfg.Enabled || !provider.Enabled() {
		return nil, nil
	}
	if provider.PrometheusHandler() == nil {
		logger.Info("metrics server disabled; metrics are not exported through prometheus")
		return nil, nil
	}

	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    cfg.Addr,
		Enabled:                 true,
		InstrumentationProvider: provider,
		Logger:                  logging.WithComponent(logger, "metrics"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	// Use ready channel to confirm metrics server started successfully
	metricsReady := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(metricsReady); err != nil {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-metricsReady:
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}
