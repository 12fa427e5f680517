package processing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/conn"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/event"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
	"github.com/Guizzs26/vote_consolidation_pipeline/internal/store"
)

type Config struct {
	// PollInterval is the pause between two iterations.
	PollInterval time.Duration
	// OpTimeout bounds every single queue or store call.
	OpTimeout time.Duration
	// MaxDeliveryAttempts is how many upserts a reachable store may reject
	// before the vote is dropped. Outages never count.
	MaxDeliveryAttempts int
	// QueueCheckInterval is the minimum gap between two queue pings while
	// the queue is idle.
	QueueCheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:        100 * time.Millisecond,
		OpTimeout:           5 * time.Second,
		MaxDeliveryAttempts: 10,
		QueueCheckInterval:  5 * time.Second,
	}
}

// VoteProcessor drains the queue one vote at a time into the tally store.
// It is the only writer of the store.
type VoteProcessor struct {
	queueConn *conn.Manager[event.VoteConsumer]
	storeConn *conn.Manager[store.VoteStore]
	metrics   *metrics.ProcessorMetrics
	logger    *slog.Logger
	cfg       Config

	// pending is a vote taken from the queue whose upsert has not
	// succeeded yet. It is retried before anything new is popped.
	pending         *event.Delivery
	pendingAttempts int

	lastQueueCheck time.Time
}

func NewVoteProcessor(
	queueConn *conn.Manager[event.VoteConsumer],
	storeConn *conn.Manager[store.VoteStore],
	m *metrics.ProcessorMetrics,
	logger *slog.Logger,
	cfg Config,
) *VoteProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = d.OpTimeout
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = d.MaxDeliveryAttempts
	}
	if cfg.QueueCheckInterval <= 0 {
		cfg.QueueCheckInterval = d.QueueCheckInterval
	}
	return &VoteProcessor{
		queueConn: queueConn,
		storeConn: storeConn,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

func (vp *VoteProcessor) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			vp.logger.Info("vote processor receiving signal to stop")
			return nil

		case <-t.C:
			vp.Step(ctx)
			t.Reset(vp.cfg.PollInterval)
		}
	}
}

// Step runs one iteration of the loop. A panic inside it is logged and
// swallowed so the next iteration still happens.
func (vp *VoteProcessor) Step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			vp.logger.Error("vote processor iteration panicked", "panic", r)
		}
	}()

	queue, ok := vp.queueConn.Current()
	if !ok {
		// The queue hands unacked votes out again after a reconnect, and
		// the ack of the old delivery is bound to the dead handle
		vp.pending = nil
		vp.pendingAttempts = 0

		vp.logger.Info("reconnecting " + vp.queueConn.Name())
		if _, err := vp.queueConn.Acquire(ctx); err != nil {
			vp.logger.Error("queue unavailable", "error", err)
		}
		return
	}

	d := vp.pending
	if d == nil {
		var err error
		opCtx, cancel := context.WithTimeout(ctx, vp.cfg.OpTimeout)
		d, err = queue.Pop(opCtx)
		cancel()
		if err != nil {
			vp.logger.Error("failed to pop vote", "error", err)
			vp.queueConn.MarkDisconnected(err)
			return
		}
	}

	if d == nil {
		vp.checkQueue(ctx, queue)
		vp.keepAlive(ctx)
		return
	}

	vp.handle(ctx, d)
}

func (vp *VoteProcessor) handle(ctx context.Context, d *event.Delivery) {
	vote, err := model.ParseVote(d.Payload)
	if err != nil {
		vp.logger.Warn("dropping malformed vote", "error", err)
		vp.metrics.Malformed()
		vp.settle(ctx, d)
		return
	}

	st, ok := vp.storeConn.Current()
	if !ok {
		// Keep the vote, it is written once the store is back
		vp.pending = d
		vp.logger.Info("reconnecting " + vp.storeConn.Name())
		if _, err := vp.storeConn.Acquire(ctx); err != nil {
			vp.logger.Error("store unavailable", "error", err)
		}
		return
	}

	vp.logger.Info("processing vote", "voter_id", vote.VoterID, "choice", vote.Choice)

	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, vp.cfg.OpTimeout)
	err = st.UpsertVote(opCtx, vote)
	cancel()
	if err != nil {
		vp.logger.Error("failed to record vote", "voter_id", vote.VoterID, "error", err)
		vp.pending = d
		if vp.storeReachable(ctx, st, err) {
			vp.rejected(ctx, d, vote)
		}
		return
	}

	vp.metrics.Processed(vote.Choice, time.Since(start))
	vp.settle(ctx, d)
}

// storeReachable tells an outage apart from a statement the store refuses.
// On an outage the store is marked disconnected and false is returned.
func (vp *VoteProcessor) storeReachable(ctx context.Context, st store.VoteStore, upsertErr error) bool {
	if errors.Is(upsertErr, context.DeadlineExceeded) || errors.Is(upsertErr, context.Canceled) {
		vp.storeConn.MarkDisconnected(upsertErr)
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, vp.cfg.OpTimeout)
	defer cancel()

	if err := st.Ping(opCtx); err != nil {
		vp.storeConn.MarkDisconnected(err)
		return false
	}
	return true
}

// rejected counts an upsert refused by a live store and gives the vote up
// once it was refused MaxDeliveryAttempts times in a row.
func (vp *VoteProcessor) rejected(ctx context.Context, d *event.Delivery, vote model.Vote) {
	vp.pendingAttempts++
	if vp.pendingAttempts < vp.cfg.MaxDeliveryAttempts {
		return
	}

	vp.logger.Error("dropping vote rejected by the store",
		"voter_id", vote.VoterID,
		"choice", vote.Choice,
		"attempts", vp.pendingAttempts,
	)
	vp.metrics.Dropped()
	vp.settle(ctx, d)
}

// settle acks the delivery and forgets it. If the ack fails the queue
// hands the vote out again later, which the upsert tolerates.
func (vp *VoteProcessor) settle(ctx context.Context, d *event.Delivery) {
	vp.pending = nil
	vp.pendingAttempts = 0

	opCtx, cancel := context.WithTimeout(ctx, vp.cfg.OpTimeout)
	defer cancel()

	if err := d.Ack(opCtx); err != nil {
		vp.logger.Error("failed to ack vote", "error", err)
		vp.queueConn.MarkDisconnected(err)
	}
}

// checkQueue pings the idle queue so a broken connection is noticed even
// when pops keep coming back empty.
func (vp *VoteProcessor) checkQueue(ctx context.Context, queue event.VoteConsumer) {
	if time.Since(vp.lastQueueCheck) < vp.cfg.QueueCheckInterval {
		return
	}
	vp.lastQueueCheck = time.Now()

	opCtx, cancel := context.WithTimeout(ctx, vp.cfg.OpTimeout)
	defer cancel()

	if err := queue.Ping(opCtx); err != nil {
		vp.logger.Error("queue ping failed", "error", err)
		vp.queueConn.MarkDisconnected(err)
	}
}

// keepAlive stops intermediaries from tearing down the idle store
// connection while the queue is empty.
func (vp *VoteProcessor) keepAlive(ctx context.Context) {
	st, ok := vp.storeConn.Current()
	if !ok {
		if _, err := vp.storeConn.Acquire(ctx); err != nil {
			vp.logger.Error("store unavailable", "error", err)
		}
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, vp.cfg.OpTimeout)
	defer cancel()

	if err := st.Ping(opCtx); err != nil {
		vp.logger.Error("keepalive failed", "error", err)
		vp.storeConn.MarkDisconnected(err)
	}
}
