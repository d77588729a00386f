package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teemow/sheetsproxy/internal/logging"
)

// Connection pool settings.
const (
	maxConns        = int32(10)
	minConns        = int32(1)
	maxConnLifetime = time.Hour
	maxConnIdleTime = 30 * time.Minute

	defaultConnectAttempts = 5
)

// Connect opens a pool for databaseURL and pings it, retrying with
// exponential backoff while the database comes up.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger = logging.WithComponent(logger, "postgres")

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime

	attempt := 0
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		attempt++
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create connection pool: %w", err))
		}
		if err := p.Ping(connectCtx); err != nil {
			p.Close()
			logger.Warn("database not reachable yet", slog.Int("attempt", attempt), logging.Err(err))
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return p, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(defaultConnectAttempts),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("database connection established",
		slog.String("database", poolConfig.ConnConfig.Database),
		slog.Int("max_conns", int(poolConfig.MaxConns)))
	return pool, nil
}

// HealthCheck pings the database with a short timeout.
func HealthCheck(ctx context.Context, db DatabaseIface) error {
	if db == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.Ping(ctx)
}
