package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
Metrics Types:

- CounterVec: A counter with labels. Used for votes recorded per choice
  and connection attempts per dependency.

- Histogram: Tracks the distribution of upsert latency, so we can see
  percentiles and not just the average.

- Gauge: A value that goes up and down, like the number of connected
  observers or the current count of a choice.

Registration:
Every constructor takes a prometheus.Registerer. The binaries pass
prometheus.DefaultRegisterer, tests pass a fresh prometheus.NewRegistry()
so constructing twice never panics on duplicate registration.

All methods are safe on a nil receiver, components run without metrics.
*/

type ProcessorMetrics struct {
	VotesProcessed *prometheus.CounterVec
	VotesMalformed prometheus.Counter
	VotesDropped   prometheus.Counter
	ProcessingTime prometheus.Histogram
}

func NewProcessorMetrics(reg prometheus.Registerer, namespace, subsystem string) *ProcessorMetrics {
	f := promauto.With(reg)
	return &ProcessorMetrics{
		VotesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "votes_processed_total",
				Help:      "Total number of votes written to the tally store",
			},
			[]string{"choice"},
		),
		VotesMalformed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "votes_malformed_total",
				Help:      "Total number of queue payloads dropped because they could not be decoded",
			},
		),
		VotesDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "votes_dropped_total",
				Help:      "Total number of votes dropped after exhausting store retries",
			},
		),
		ProcessingTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "vote_upsert_seconds",
				Help:      "Histogram of vote upsert latency",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
		),
	}
}

func (m *ProcessorMetrics) Processed(choice string, took time.Duration) {
	if m == nil {
		return
	}
	m.VotesProcessed.WithLabelValues(choice).Inc()
	m.ProcessingTime.Observe(took.Seconds())
}

func (m *ProcessorMetrics) Malformed() {
	if m == nil {
		return
	}
	m.VotesMalformed.Inc()
}

func (m *ProcessorMetrics) Dropped() {
	if m == nil {
		return
	}
	m.VotesDropped.Inc()
}

type ConnectionMetrics struct {
	Attempts *prometheus.CounterVec
	State    *prometheus.GaugeVec
}

func NewConnectionMetrics(reg prometheus.Registerer, namespace string) *ConnectionMetrics {
	f := promauto.With(reg)
	return &ConnectionMetrics{
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "attempts_total",
				Help:      "Connection attempts per dependency and result",
			},
			[]string{"dependency", "result"},
		),
		State: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection state per dependency (0 disconnected, 1 connecting, 2 connected)",
			},
			[]string{"dependency"},
		),
	}
}

func (m *ConnectionMetrics) Attempt(dependency string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Attempts.WithLabelValues(dependency, result).Inc()
}

func (m *ConnectionMetrics) SetState(dependency string, state int) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(dependency).Set(float64(state))
}

type BroadcastMetrics struct {
	Observers      prometheus.Gauge
	Publishes      *prometheus.CounterVec
	DroppedClients prometheus.Counter
	Tally          *prometheus.GaugeVec
}

func NewBroadcastMetrics(reg prometheus.Registerer, namespace, subsystem string) *BroadcastMetrics {
	f := promauto.With(reg)
	return &BroadcastMetrics{
		Observers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "observers",
				Help:      "Number of observers currently subscribed",
			},
		),
		Publishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "publishes_total",
				Help:      "Total number of events fanned out, by event name",
			},
			[]string{"event"},
		),
		DroppedClients: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dropped_observers_total",
				Help:      "Observers dropped because their send buffer was full",
			},
		),
		Tally: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tally_votes",
				Help:      "Current number of votes per choice, as last aggregated",
			},
			[]string{"choice"},
		),
	}
}

func (m *BroadcastMetrics) ObserverCount(n int) {
	if m == nil {
		return
	}
	m.Observers.Set(float64(n))
}

func (m *BroadcastMetrics) Published(event string) {
	if m == nil {
		return
	}
	m.Publishes.WithLabelValues(event).Inc()
}

func (m *BroadcastMetrics) DroppedClient() {
	if m == nil {
		return
	}
	m.DroppedClients.Inc()
}

func (m *BroadcastMetrics) SetTally(counts map[string]int) {
	if m == nil {
		return
	}
	for choice, n := range counts {
		m.Tally.WithLabelValues(choice).Set(float64(n))
	}
}
