// Package db opens the Postgres connection pool shared by the binaries.
package db

import (
	"context"
	"fmt"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type NewPoolParams struct {
	URL            string
	TracingEnabled bool
	// Registerer receives pool statistics when set.
	Registerer prometheus.Registerer
	// MetricsLabel identifies the pool in exported metrics.
	MetricsLabel string
}

func NewPool(ctx context.Context, params NewPoolParams) (*pgxpool.Pool, error) {
	poolConfig, err := ParseConfig(params)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if params.Registerer != nil {
		collector := pgxpoolprometheus.NewCollector(pool, map[string]string{"db_name": params.MetricsLabel})
		if err := params.Registerer.Register(collector); err != nil {
			pool.Close()
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}
	return pool, nil
}

// ParseConfig builds the pool config, attaching the OpenTelemetry tracer when enabled.
func ParseConfig(params NewPoolParams) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(params.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if params.TracingEnabled {
		poolConfig.ConnConfig.Tracer = otelpgx.NewTracer()
	}
	return poolConfig, nil
}
