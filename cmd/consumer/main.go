package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/bootstrap"
	"example.com/gamification/internal/consumer"
	"example.com/gamification/internal/events"
	"example.com/gamification/internal/persistence/postgres"
	"example.com/gamification/internal/telemetry/metrics"
)

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

	rdb, err := bootstrap.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatalf("redis: %s", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	service := bootstrap.NewService(postgres.NewRepository(pool), cfg, rdb)

	logger := log.WithField("component", "consumer")
	router := consumer.NewRouter(logger).
		Route(events.TypeActivityLogged, consumer.NewProgressHandler(service, logger)).
		Route(events.TypeAchievementUnlocked, consumer.UnlockNotifier(logger))

	metricsDone := bootstrap.ServeMetrics(ctx, cfg.MetricsAddress, promRegistry)

	var wg sync.WaitGroup
	for _, topic := range cfg.ConsumerTopics {
		topicLogger := logger.WithFields(log.Fields{"topic": topic, "group": cfg.ConsumerGroupID})
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
			ErrorLogger:     kafka.LoggerFunc(topicLogger.Errorf),
		})
		proc := consumer.NewProcessor(reader, router, consumer.WithLogger(topicLogger))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()

			topicLogger.Info("consumer started")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				topicLogger.WithError(err).Error("consumer stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info("consumer shutdown requested")
	wg.Wait()
	<-metricsDone
}
