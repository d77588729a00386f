package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/sheetsproxy/internal/apierror"
	"github.com/teemow/sheetsproxy/internal/credentials"
	"github.com/teemow/sheetsproxy/internal/google"
	"github.com/teemow/sheetsproxy/internal/instrumentation"
	"github.com/teemow/sheetsproxy/internal/logging"
)

// DefaultAuthPath is where users start the OAuth flow.
const DefaultAuthPath = "/auth/url"

// Config configures a Lifecycle. Store is required.
type Config struct {
	Store     credentials.Store
	Refresher Refresher
	Fallback  Fallback
	Metrics   *instrumentation.Metrics
	Logger    *slog.Logger

	// AuthURL is shown in re-authentication guidance. Defaults to DefaultAuthPath.
	AuthURL string

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Lifecycle authorizes outbound calls for an identity.
type Lifecycle struct {
	store     credentials.Store
	refresher Refresher
	fallback  Fallback
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
	authURL   string
	now       func() time.Time
}

// New validates cfg and returns a Lifecycle.
func New(cfg Config) (*Lifecycle, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	l := &Lifecycle{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		fallback:  cfg.Fallback,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		authURL:   cfg.AuthURL,
		now:       cfg.Now,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = logging.WithComponent(l.logger, "tokens")
	if l.authURL == "" {
		l.authURL = DefaultAuthPath
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// LiveClient is an authorized credential for exactly one outbound call.
type LiveClient struct {
	Identity   string
	Credential *credentials.Credential
}

// Token returns the credential as an oauth2 token.
func (c *LiveClient) Token() *oauth2.Token {
	return google.TokenFromCredential(c.Credential)
}

// HTTPClient returns a client that sends the access token and never
// refreshes on its own.
func (c *LiveClient) HTTPClient(ctx context.Context) *http.Client {
	return google.NewHTTPClient(ctx, oauth2.StaticTokenSource(c.Token()))
}

// Authorize returns a usable credential for identity.
//
// It fails with apierror.Unauthenticated when there is no credential or an
// expired one cannot be refreshed, and with apierror.RefreshFailed when the
// refresh call itself fails. A failed refresh revokes the stored credential.
func (l *Lifecycle) Authorize(ctx context.Context, identity string) (*LiveClient, error) {
	if identity == "" {
		return nil, apierror.New(apierror.Unauthenticated,
			"User identity is required for authorization. Please ensure you are authenticated.")
	}
	logger := l.logger.With(logging.UserHash(identity))

	cred, err := l.load(ctx, identity, logger)
	if err != nil {
		return nil, err
	}

	if credentials.IsExpired(cred, l.now()) {
		if cred.RefreshToken == "" {
			l.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultNoRefreshToken)
			logger.Info("credential expired without refresh token")
			return nil, apierror.Newf(apierror.Unauthenticated,
				"Token expired. Please visit %s to re-authenticate.", l.authURL)
		}
		cred, err = l.refresh(ctx, identity, cred, logger)
		if err != nil {
			return nil, err
		}
	}

	return &LiveClient{Identity: identity, Credential: cred}, nil
}

func (l *Lifecycle) load(ctx context.Context, identity string, logger *slog.Logger) (*credentials.Credential, error) {
	cred, err := l.store.Load(ctx, identity)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, credentials.ErrNotFound) {
		return nil, apierror.Wrap(apierror.Internal, "failed to load credential", err)
	}

	if l.fallback != nil {
		fb, ferr := l.fallback.Credential(ctx)
		switch {
		case ferr == nil:
			if err := l.store.Store(ctx, identity, fb); err != nil {
				return nil, apierror.Wrap(apierror.Internal, "failed to seed credential", err)
			}
			logger.Info("seeded credential from fallback")
			return fb, nil
		case !errors.Is(ferr, ErrNoFallback):
			logger.Warn("fallback credential unusable", logging.Err(ferr))
		}
	}

	return nil, apierror.Wrap(apierror.Unauthenticated,
		fmt.Sprintf("No token found. Please visit %s to authenticate.", l.authURL), err)
}

func (l *Lifecycle) refresh(ctx context.Context, identity string, cred *credentials.Credential, logger *slog.Logger) (*credentials.Credential, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, "refresh")
	defer span.End()

	guidance := fmt.Sprintf("Token expired and refresh failed. Please visit %s to re-authenticate.", l.authURL)

	if l.refresher == nil {
		l.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		l.revoke(ctx, identity, logger)
		return nil, apierror.New(apierror.RefreshFailed, guidance)
	}

	tok, err := l.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		l.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		logger.Warn("token refresh failed", slog.String(logging.KeyError, apierror.Redact(err.Error())))
		l.revoke(ctx, identity, logger)
		return nil, apierror.Wrap(apierror.RefreshFailed, guidance, err)
	}

	upd := credentials.Update{AccessToken: &tok.AccessToken}
	if !tok.Expiry.IsZero() {
		upd.ExpiryDate = credentials.Millis(tok.Expiry)
	}
	if tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken {
		upd.RefreshToken = &tok.RefreshToken
	}
	if err := l.store.Update(ctx, identity, upd); err != nil {
		instrumentation.SetSpanError(span, err)
		l.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		return nil, apierror.Wrap(apierror.Internal, "failed to persist refreshed credential", err)
	}

	refreshed := cred.Clone()
	upd.Apply(refreshed)

	instrumentation.SetSpanSuccess(span)
	l.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultSuccess)
	logger.Info("token refreshed",
		slog.Time("expiry", refreshed.ExpiryTime()),
		slog.Bool("rotated", upd.RefreshToken != nil))
	return refreshed, nil
}

func (l *Lifecycle) revoke(ctx context.Context, identity string, logger *slog.Logger) {
	if err := l.store.Revoke(ctx, identity); err != nil {
		logger.Error("failed to revoke credential after refresh failure", logging.Err(err))
	}
}

// Revoke soft-revokes the identity's stored credential.
func (l *Lifecycle) Revoke(ctx context.Context, identity string) error {
	if identity == "" {
		return apierror.New(apierror.Unauthenticated, "User identity is required")
	}
	if err := l.store.Revoke(ctx, identity); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to revoke credential", err)
	}
	l.logger.Info("credential revoked", logging.UserHash(identity))
	return nil
}

// Store saves a freshly exchanged credential for identity.
func (l *Lifecycle) Store(ctx context.Context, identity string, c *credentials.Credential) error {
	if identity == "" || c == nil {
		return apierror.New(apierror.InvalidArgument, "identity and credential are required")
	}
	if err := l.store.Store(ctx, identity, c); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to store credential", err)
	}
	l.logger.Info("credential stored", logging.UserHash(identity))
	return nil
}
