package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/config"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/conn"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/pubsub"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/store"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/tally"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Error loading .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Parse("broadcaster", os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	bm := metrics.NewBroadcastMetrics(prometheus.DefaultRegisterer, "votes", "broadcaster")

	storeConn := conn.NewManager[store.VoteStore]("db", store.Dial(cfg.DatabaseDriver, cfg.DatabaseURL),
		func(s store.VoteStore) error { return s.Close() },
		conn.Options{
			Interval:       cfg.RetryInterval,
			AttemptTimeout: cfg.OpTimeout,
			Logger:         logger,
			Metrics:        metrics.NewConnectionMetrics(prometheus.DefaultRegisterer, "votes"),
		},
	)
	defer storeConn.Close()

	hub := pubsub.NewHub(bm, logger)
	aggregator := tally.NewAggregator(storeConn, hub, bm, logger, tally.Config{
		Choices:   cfg.Choices,
		Interval:  cfg.AggregateInterval,
		OpTimeout: cfg.OpTimeout,
	})

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(mainCtx)

	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		if _, err := storeConn.Acquire(mainCtx); err != nil {
			logger.Error("Giving up on db", "error", err)
			return
		}
		aggregator.Run(mainCtx)
	}()

	mux := http.NewServeMux()
	mux.Handle("GET /ws", pubsub.ServeWS(hub, cfg.AllowedOrigins, logger))
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"status": http.StatusOK})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	server := http.Server{
		Handler:           mux,
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// signal.Notify requires the channel to be buffered
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Info("Shutdown signal received, stopping the broadcaster...")
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("App running", "port", cfg.Port)
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server closed", "error", err)
		cancel()
		<-aggDone
		os.Exit(1)
	}

	<-aggDone
	logger.Info("Broadcaster terminated")
}
