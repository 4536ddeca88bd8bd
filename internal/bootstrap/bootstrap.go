// Package bootstrap holds the wiring shared by the service binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/catalog"
	"example.com/gamification/internal/config"
	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/locking"
	"example.com/gamification/internal/logging"
)

const lockRetryDelay = 50 * time.Millisecond

// LoadConfig reads an optional .env file, then the environment, and configures logging.
func LoadConfig() config.Config {
	envErr := godotenv.Load()
	cfg := config.Load()
	logging.Setup(logging.SetupParams{
		LogFileName:   cfg.LogFile,
		LogToStdout:   true,
		LogLevel:      cfg.LogLevel,
		LogFormatJSON: cfg.LogFormatJSON,
	})
	if envErr != nil {
		log.Debug("No .env file found")
	}
	return cfg
}

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.RedisAddress == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddress, err)
	}
	return client, nil
}

// CatalogEntries reads the catalog file when configured, otherwise the embedded default.
func CatalogEntries(path string) ([]domain.Achievement, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// SeedCatalog upserts the configured catalog into repo.
func SeedCatalog(ctx context.Context, repo catalog.Writer, path string) (int, error) {
	entries, err := CatalogEntries(path)
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	inserted, err := catalog.Seed(ctx, repo, entries)
	if err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	log.WithFields(log.Fields{"entries": len(entries), "inserted": inserted}).Info("achievement catalog seeded")
	return inserted, nil
}

// NewService builds the domain service with a cached catalog. A non-nil rdb switches the
// per-user lock to Redis so several processes share it.
func NewService(repo domain.Repository, cfg config.Config, rdb *redis.Client) *domain.Service {
	opts := []domain.Option{
		domain.WithCatalog(catalog.NewCache(repo, cfg.CatalogCacheTTL)),
		domain.WithLogger(log.WithField("component", "service")),
	}
	if rdb != nil {
		opts = append(opts, domain.WithLocker(locking.NewRedisLocker(rdb, cfg.LockTTL, lockRetryDelay)))
	}
	return domain.NewService(repo, opts...)
}
