package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnectionError is returned when a dependency could not be reached.
// With the default options it is only seen when the context is cancelled.
type ConnectionError struct {
	Dependency string
	Attempts   int
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempt(s): %v", e.Dependency, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DialFunc opens a fresh handle to a dependency. It must fail rather than
// return a handle that is not usable yet.
type DialFunc[T any] func(ctx context.Context) (T, error)

// CloseFunc releases a handle that was marked dead.
type CloseFunc[T any] func(T) error

type Options struct {
	// Interval between two attempts, before jitter.
	Interval time.Duration
	// Jitter is the randomization factor applied to Interval, 0.2 means +/-20%.
	Jitter float64
	// MaxAttempts bounds the attempts of a single Acquire. Zero waits forever.
	MaxAttempts int
	// AttemptTimeout bounds every dial.
	AttemptTimeout time.Duration
	// OnFailure replaces the default "waiting for <dependency>" log line.
	OnFailure func(dependency string, attempt int, err error)
	Logger    *slog.Logger
	Metrics   *metrics.ConnectionMetrics
}

func DefaultOptions() Options {
	return Options{
		Interval:       time.Second,
		Jitter:         0.2,
		AttemptTimeout: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = d.Jitter
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = d.AttemptTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.Interval
	b.MaxInterval = o.Interval
	b.Multiplier = 1
	b.RandomizationFactor = o.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Manager owns the single live handle to one dependency and replaces it
// when its user reports it dead.
type Manager[T any] struct {
	name  string
	dial  DialFunc[T]
	close CloseFunc[T]
	opts  Options

	mu      sync.Mutex
	current T
	state   atomic.Int32
}

func NewManager[T any](name string, dial DialFunc[T], closeFn CloseFunc[T], opts Options) *Manager[T] {
	m := &Manager[T]{
		name:  name,
		dial:  dial,
		close: closeFn,
		opts:  opts.withDefaults(),
	}
	m.opts.Metrics.SetState(name, int(Disconnected))
	return m
}

func (m *Manager[T]) Name() string { return m.name }

func (m *Manager[T]) State() State { return State(m.state.Load()) }

func (m *Manager[T]) setState(s State) {
	m.state.Store(int32(s))
	m.opts.Metrics.SetState(m.name, int(s))
}

// Current returns the live handle, ok is false unless the manager is Connected.
func (m *Manager[T]) Current() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Connected {
		var zero T
		return zero, false
	}
	return m.current, true
}

// Acquire returns the live handle, dialing until it succeeds when there is
// none. Only ctx cancellation or a finite MaxAttempts stop the retries.
func (m *Manager[T]) Acquire(ctx context.Context) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == Connected {
		return m.current, nil
	}

	m.setState(Connecting)
	b := m.opts.backOff()

	var zero T
	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, m.opts.AttemptTimeout)
		c, err := m.dial(dialCtx)
		cancel()
		m.opts.Metrics.Attempt(m.name, err)

		if err == nil {
			m.current = c
			m.setState(Connected)
			m.opts.Logger.Info("connected to "+m.name, "attempts", attempt)
			return c, nil
		}

		m.failed(attempt, err)

		if m.opts.MaxAttempts > 0 && attempt >= m.opts.MaxAttempts {
			m.setState(Disconnected)
			return zero, &ConnectionError{Dependency: m.name, Attempts: attempt, Err: err}
		}

		t := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			t.Stop()
			m.setState(Disconnected)
			return zero, &ConnectionError{Dependency: m.name, Attempts: attempt, Err: ctx.Err()}
		case <-t.C:
		}
	}
}

func (m *Manager[T]) failed(attempt int, err error) {
	if m.opts.OnFailure != nil {
		m.opts.OnFailure(m.name, attempt, err)
		return
	}
	m.opts.Logger.Warn("waiting for "+m.name, "attempt", attempt, "error", err)
}

// MarkDisconnected drops the live handle after an I/O failure. The next
// user has to Acquire again.
func (m *Manager[T]) MarkDisconnected(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Connected {
		return
	}

	m.opts.Logger.Warn("lost connection to "+m.name, "error", cause)
	m.release()
}

// Close releases the live handle, if any.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Connected {
		return nil
	}
	return m.release()
}

func (m *Manager[T]) release() error {
	var err error
	if m.close != nil {
		if err = m.close(m.current); err != nil {
			m.opts.Logger.Debug("failed to close "+m.name, "error", err)
		}
	}
	var zero T
	m.current = zero
	m.setState(Disconnected)
	return err
}
