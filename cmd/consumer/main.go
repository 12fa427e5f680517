package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/config"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/conn"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/event"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/processing"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/store"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Error loading .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Parse("consumer", os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	connOpts := conn.Options{
		Interval:       cfg.RetryInterval,
		AttemptTimeout: cfg.OpTimeout,
		Logger:         logger,
		Metrics:        metrics.NewConnectionMetrics(prometheus.DefaultRegisterer, "votes"),
	}

	var dialQueue conn.DialFunc[event.VoteConsumer]
	switch cfg.QueueBackend {
	case config.BackendKafka:
		dialQueue = event.DialKafka(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	default:
		dialQueue = event.DialRedis(cfg.RedisURL, cfg.QueueKey)
	}

	queueConn := conn.NewManager(cfg.QueueBackend, dialQueue,
		func(q event.VoteConsumer) error { return q.Close() },
		connOpts,
	)
	defer queueConn.Close()

	storeConn := conn.NewManager[store.VoteStore]("db", store.Dial(cfg.DatabaseDriver, cfg.DatabaseURL),
		func(s store.VoteStore) error { return s.Close() },
		connOpts,
	)
	defer storeConn.Close()

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if cfg.MetricsPort > 0 {
		go serveMetrics(cfg.MetricsPort, logger)
	}

	processor := processing.NewVoteProcessor(
		queueConn,
		storeConn,
		metrics.NewProcessorMetrics(prometheus.DefaultRegisterer, "votes", "consumer"),
		logger,
		processing.Config{
			PollInterval: cfg.PollInterval,
			OpTimeout:    cfg.OpTimeout,
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)

		// Wait for both dependencies before the first poll
		if _, err := queueConn.Acquire(mainCtx); err != nil {
			logger.Error("Giving up on queue", "error", err)
			return
		}
		if _, err := storeConn.Acquire(mainCtx); err != nil {
			logger.Error("Giving up on db", "error", err)
			return
		}

		logger.Info("Starting consumer", "queue", cfg.QueueBackend, "db", cfg.DatabaseDriver)
		if err := processor.Run(mainCtx); err != nil {
			logger.Error("Error during processor execution", "error", err)
		}
	}()

	// The `main` blocks here, waiting for a shutdown signal
	<-signalChan

	logger.Info("Shutdown signal received, stopping the consumer...")
	cancel()
	<-done

	logger.Info("Consumer terminated")
}

func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":" + strconv.Itoa(port)
	logger.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server closed", "error", err)
	}
}
