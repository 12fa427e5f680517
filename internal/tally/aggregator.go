package tally

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/conn"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/store"
)

// ScoresEvent is the event name observers receive snapshots under.
const ScoresEvent = "scores"

type Publisher interface {
	Publish(event string, payload any) error
}

type Config struct {
	Choices   []string
	Interval  time.Duration
	OpTimeout time.Duration
}

// Aggregator periodically reads the grouped counts from the store and
// hands a complete snapshot to the broadcaster, whether or not a vote
// arrived since the previous cycle.
type Aggregator struct {
	storeConn *conn.Manager[store.VoteStore]
	publisher Publisher
	metrics   *metrics.BroadcastMetrics
	logger    *slog.Logger
	cfg       Config
}

func NewAggregator(
	storeConn *conn.Manager[store.VoteStore],
	publisher Publisher,
	m *metrics.BroadcastMetrics,
	logger *slog.Logger,
	cfg Config,
) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	return &Aggregator{
		storeConn: storeConn,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// ComputeSnapshot returns the count of every configured choice, zero
// included, plus any other choice found in the store.
func (a *Aggregator) ComputeSnapshot(ctx context.Context) (model.TallySnapshot, error) {
	st, ok := a.storeConn.Current()
	if !ok {
		return nil, &conn.ConnectionError{
			Dependency: a.storeConn.Name(),
			Err:        fmt.Errorf("not connected"),
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, a.cfg.OpTimeout)
	defer cancel()

	counts, err := st.CountByChoice(opCtx)
	if err != nil {
		a.storeConn.MarkDisconnected(err)
		return nil, err
	}

	return model.NewTallySnapshot(a.cfg.Choices).Merge(counts), nil
}

func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		a.Step(ctx)

		select {
		case <-ctx.Done():
			a.logger.Info("aggregator receiving signal to stop")
			return nil
		case <-ticker.C:
		}
	}
}

// Step computes and publishes one snapshot. Failures are logged and the
// observers simply keep their last snapshot.
func (a *Aggregator) Step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("aggregator iteration panicked", "panic", r)
		}
	}()

	if a.storeConn.State() != conn.Connected {
		if _, err := a.storeConn.Acquire(ctx); err != nil {
			a.logger.Error("store unavailable", "error", err)
		}
		return
	}

	snapshot, err := a.ComputeSnapshot(ctx)
	if err != nil {
		a.logger.Error("error performing query", "error", err)
		return
	}

	a.metrics.SetTally(snapshot)
	if err := a.publisher.Publish(ScoresEvent, snapshot); err != nil {
		a.logger.Error("failed to publish scores", "error", err)
	}
}
