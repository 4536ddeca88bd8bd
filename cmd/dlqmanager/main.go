package main

import (
	"time"

	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/bootstrap"
	"example.com/gamification/internal/outbox"
	"example.com/gamification/internal/telemetry/metrics"
)

const dlqBatchSize = 50

func main() {
	cfg := bootstrap.LoadConfig()

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	promRegistry := metrics.SetupPrometheus()
	pool, err := bootstrap.NewPool(ctx, cfg, promRegistry)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %s", err)
	}
	defer pool.Close()

	metricsDone := bootstrap.ServeMetrics(ctx, cfg.MetricsAddress, promRegistry)
	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	log.WithFields(log.Fields{
		"interval":    cfg.DLQPollInterval.String(),
		"max_retries": cfg.DLQMaxRetries,
		"base_delay":  cfg.DLQBaseDelay.String(),
	}).Info("dlq manager started")

	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("dlq manager shutting down")
			<-metricsDone
			return
		case <-ticker.C:
		}

		settled, err := manager.RunOnce(ctx, dlqBatchSize)
		switch {
		case err != nil:
			log.WithField("settled", settled).Errorf("dlq manager: %s", err)
		case settled > 0:
			log.Infof("dlq manager settled %d entries", settled)
		}
	}
}
