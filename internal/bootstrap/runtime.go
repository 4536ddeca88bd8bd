package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/config"
	"example.com/gamification/internal/db"
	"example.com/gamification/internal/telemetry/metrics"
)

const shutdownGrace = 10 * time.Second

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// NewPool opens the Postgres pool and exports its statistics to reg.
func NewPool(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.NewPoolParams{
		URL:            cfg.PostgresURL,
		TracingEnabled: cfg.TracingEnabled,
		Registerer:     reg,
		MetricsLabel:   "gamification",
	})
}

// ServeMetrics exposes reg on addr until ctx is cancelled. The returned channel is closed once the
// server has shut down.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry) <-chan struct{} {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})

	go func() {
		log.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server error: %s", err)
		}
	}()
	go func() {
		defer close(done)
		<-ctx.Done()
		if err := Shutdown(srv); err != nil {
			log.Errorf("metrics server shutdown error: %s", err)
		}
	}()
	return done
}

// Shutdown stops srv, giving in-flight requests a bounded grace period.
func Shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
