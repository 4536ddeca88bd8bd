package main

import (
	"errors"
	"net/http"

	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"example.com/gamification/internal/api"
	"example.com/gamification/internal/auth"
	"example.com/gamification/internal/bootstrap"
	"example.com/gamification/internal/config"
	"example.com/gamification/internal/outbox"
	"example.com/gamification/internal/persistence/postgres"
	"example.com/gamification/internal/telemetry/metrics"
	httptransport "example.com/gamification/internal/transport/http"
)

func main() {
	cfg := bootstrap.LoadConfig()

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager("gamification", "api", promRegistry)

	pool, err := bootstrap.NewPool(ctx, cfg, promRegistry)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %s", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	if _, err := bootstrap.SeedCatalog(ctx, repo, cfg.CatalogFile); err != nil {
		log.Fatalf("catalog: %s", err)
	}

	rdb, err := bootstrap.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatalf("redis: %s", err)
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("REDIS_ADDRESS not set: per-user locks are process-local and rate limiting is off")
	}

	service := bootstrap.NewService(repo, cfg, rdb)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithClaimLease(cfg.OutboxClaimLease))
	go dispatcher.Run(ctx)

	handlerOpts := []api.Option{api.WithInlineProgress(cfg.ProgressMode == config.ProgressInline)}
	if rdb != nil {
		limiter := redis_rate.NewLimiter(rdb)
		handlerOpts = append(handlerOpts, api.WithWriteMiddleware(
			httptransport.RateLimit(limiter, "gamification:writes", cfg.RateLimitPerMinute, metricsManager),
		))
	}

	router := mux.NewRouter()
	router.Use(otelmux.Middleware("gamification-api"))
	router.Use(httptransport.RequestMetrics(metricsManager))
	router.Use(httptransport.LogRequest())
	router.Use(httptransport.DrainAndCloseRequest())
	if cfg.AuthEnabled {
		router.Use(auth.Authenticate(auth.NewVerifier(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}), "/healthz", "/metrics"))
	} else {
		log.Warn("AUTH_ENABLED=false: bearer tokens are not checked")
	}
	api.NewHandler(service, handlerOpts...).RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler(promRegistry)).Methods(http.MethodGet)

	handler := httptransport.PanicRecovery(metricsManager)(httptransport.Cors(cfg.AllowedOrigins)(router))
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler)

	go func() {
		log.WithFields(log.Fields{
			"address":       cfg.HTTPAddress,
			"progress_mode": cfg.ProgressMode,
		}).Info("gamification api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %s", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")
	if err := bootstrap.Shutdown(server); err != nil {
		log.Errorf("graceful shutdown failed: %s", err)
	}

	<-dispatcher.Done()
}
