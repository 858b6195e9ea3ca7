// Package main is the entry point for the event ingestor. It consumes post
// and reaction events from JetStream, applies them to the content store, and
// keeps cached user preferences fresh.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pastach/recsvc/internal/config"
	"github.com/pastach/recsvc/internal/content"
	"github.com/pastach/recsvc/internal/db"
	"github.com/pastach/recsvc/internal/embedding"
	"github.com/pastach/recsvc/internal/ingest"
	"github.com/pastach/recsvc/internal/middleware"
	"github.com/pastach/recsvc/internal/preference"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Event Ingestor")
		fmt.Println()
		fmt.Println("Usage: ingestor [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
	database, err := db.Open(openCtx, cfg.DatabaseURL)
	openCancel()
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prefMetrics := preference.NewMetrics()
	if err := prefMetrics.Register(registry); err != nil {
		logger.Error("failed to register preference metrics", "error", err)
		os.Exit(1)
	}
	ingestMetrics := ingest.NewMetrics()
	if err := ingestMetrics.Register(registry); err != nil {
		logger.Error("failed to register ingest metrics", "error", err)
		os.Exit(1)
	}

	contentStore := content.NewPostgresStore(database, logger)
	prefStore := preference.NewPostgresStore(database)
	prefCache := preference.NewBreakerCache(preference.NewRedisCache(redisClient))

	prefEngine := preference.NewEngine(prefStore, prefCache, contentStore, preference.EngineConfig{
		LikeWeight:    float32(cfg.LikeWeight),
		DislikeWeight: float32(cfg.DislikeWeight),
		Dimensions:    cfg.EmbeddingDimensions,
		CacheTTL:      cfg.PreferenceCacheTTL(),
	}, logger, prefMetrics)

	oracle := embedding.NewOpenAIOracle(embedding.Config{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})

	subscriber, err := newSubscriber(cfg, logger)
	if err != nil {
		logger.Error("failed to create subscriber", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logger.Error("failed to close subscriber", "error", err)
		}
	}()

	ingestor := ingest.NewIngestor(contentStore, oracle, prefEngine, logger, ingestMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics and liveness endpoint for the consumer process.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Port)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	done := make(chan error, 1)
	go func() {
		logger.Info("starting ingestor",
			"topics", []string{ingest.TopicPosts, ingest.TopicReactions},
			"durable", cfg.NATSDurable)
		done <- ingestor.Run(ctx, subscriber)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down ingestor...")
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			logger.Warn("ingestor did not drain in time")
		}
	case err := <-done:
		if err != nil && err != context.Canceled {
			logger.Error("ingestor stopped", "error", err)
			cancel()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", "error", err)
	}

	logger.Info("ingestor stopped")
}

// newSubscriber builds a durable JetStream subscriber. Streams are
// auto-provisioned per topic so a fresh environment needs no manual setup.
func newSubscriber(cfg *config.Config, logger *slog.Logger) (*wmNats.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("nats disconnected", "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxAckPending(256),
		natsgo.AckWait(30 * time.Second),
		natsgo.DeliverAll(),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            cfg.NATSURL,
		AckWaitTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    true,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.NATSDurable,
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create jetstream subscriber: %w", err)
	}
	return sub, nil
}
