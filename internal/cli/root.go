// Package cli implements streakctl, an operator tool for the gamification store.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/gamification/internal/bootstrap"
	"example.com/gamification/internal/catalog"
	"example.com/gamification/internal/db"
	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/persistence/postgres"
)

// Store is the persistence a command needs.
type Store interface {
	domain.Repository
	catalog.Writer
}

type backend struct {
	store   Store
	service *domain.Service
}

// openBackend is swapped out in tests.
var openBackend = openPostgres

var postgresURL string

var rootCmd = &cobra.Command{
	Use:           "streakctl",
	Short:         "streakctl inspects and maintains streaks and achievements",
	Long:          "streakctl seeds the achievement catalog, records activity days and reads streaks and leaderboards straight from the database.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&postgresURL, "postgres-url", "", "Postgres connection string (defaults to POSTGRES_URL)")
}

func openPostgres(ctx context.Context) (*backend, func(), error) {
	cfg := bootstrap.LoadConfig()
	if postgresURL != "" {
		cfg.PostgresURL = postgresURL
	}

	pool, err := db.NewPool(ctx, db.NewPoolParams{URL: cfg.PostgresURL})
	if err != nil {
		return nil, nil, err
	}
	rdb, err := bootstrap.NewRedisClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	repo := postgres.NewRepository(pool)
	closeFn := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		pool.Close()
	}
	return &backend{store: repo, service: bootstrap.NewService(repo, cfg, rdb)}, closeFn, nil
}

func withBackend(cmd *cobra.Command, run func(context.Context, *backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, closeFn, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return run(ctx, b)
}
