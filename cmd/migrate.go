package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/teemow/sheetsproxy/internal/logging"
	"github.com/teemow/sheetsproxy/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the PostgreSQL schema",
		Long:      "Apply, roll back or list the embedded schema migrations of the postgres credential store.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			logger := logging.New(os.Stderr, logging.FormatText, false)
			pool, err := postgres.Connect(cmd.Context(), databaseURL, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			return runMigrate(cmd.Context(), pool, direction, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL. Can also use DATABASE_URL env var.")

	return cmd
}

func runMigrate(ctx context.Context, pool *pgxpool.Pool, direction string, out io.Writer, logger *slog.Logger) error {
	migrator, err := postgres.NewMigrator(pool)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		applied, err := migrator.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", applied)
		return nil
	case "down":
		if err := migrator.Down(ctx); err != nil {
			return err
		}
		logger.Info("rolled back one migration")
		return nil
	case "status":
		states, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		printMigrationStatus(out, states)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction: %s", direction)
	}
}

func printMigrationStatus(out io.Writer, states []postgres.MigrationState) {
	for _, s := range states {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(out, "%05d  %-8s %s\n", s.Version, state, s.Source)
	}
}

// migrateUp runs the pending migrations for serve --migrate.
func migrateUp(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	migrator, err := postgres.NewMigrator(pool)
	if err != nil {
		return err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		return err
	}
	logger.Info("database schema up to date", "applied", applied)
	return nil
}
