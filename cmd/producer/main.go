package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/config"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/event"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/simulation"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Error loading .env", "error", err)
		os.Exit(1)
	}

	// Simulator knobs come first, everything after "--" is shared config
	fs := flag.NewFlagSet("producer", flag.ExitOnError)
	voters := fs.Int("voters", 1000, "Number of distinct simulated voters")
	interval := fs.Duration("every", 500*time.Millisecond, "Wait between two simulated votes")
	fs.Parse(os.Args[1:])

	cfg, err := config.Parse("producer", fs.Args())
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var publisher event.VotePublisher
	switch cfg.QueueBackend {
	case config.BackendKafka:
		publisher, err = event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		ctx, stop := context.WithTimeout(mainCtx, cfg.OpTimeout)
		publisher, err = event.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueKey)
		stop()
	}
	if err != nil {
		logger.Error("failed to create publisher", "queue", cfg.QueueBackend, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	sim := simulation.New(publisher, cfg.Choices, *voters, *interval, logger)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sim.Run(mainCtx); err != nil {
			logger.Error("Error while running simulator", "error", err)
		}
	}()

	// `main` now hangs here, waiting for a shutdown signal
	logger.Info("Producer is running. Press Ctrl+C to exit", "queue", cfg.QueueBackend)
	<-signalChan

	// Upon receiving the signal, we cancel the context, which will cause sim.Run() to stop
	logger.Info("Shutdown signal received, stopping the producer...")
	cancel()
	<-done

	logger.Info("Producer terminated")
}
