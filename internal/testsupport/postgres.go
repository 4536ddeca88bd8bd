// Package testsupport starts disposable dependencies for integration tests.
package testsupport

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresImage = "postgres:16-alpine"

// StartPostgres runs Postgres with every up migration applied and returns a pool to it.
// The container and the pool are released when t finishes.
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	scripts, err := migrationScripts()
	require.NoError(t, err)

	pg, err := postgrescontainer.Run(ctx, postgresImage,
		postgrescontainer.WithDatabase("gamification"),
		postgrescontainer.WithUsername("gamification"),
		postgrescontainer.WithPassword("gamification"),
		postgrescontainer.WithInitScripts(scripts...),
		// The server restarts once after running init scripts.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	testcontainers.CleanupContainer(t, pg)
	require.NoError(t, err)

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))
	return pool
}

// migrationScripts lists db/postgres/migrations/*.up.sql in apply order.
func migrationScripts() ([]string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return nil, errors.New("testsupport: cannot locate source directory")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "..", "db", "postgres", "migrations")
	scripts, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("testsupport: no migrations in %s", dir)
	}
	sort.Strings(scripts)
	return scripts, nil
}
