// Package metrics exports exploration progress published on the bus as
// Prometheus metrics.
package metrics

import (
	"time"

	"github.com/deepsea/diver/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subscriber is the part of the bus the collector listens on.
type Subscriber interface {
	Subscribe(topic string, fn bus.Handler) *bus.Subscription
}

// Metrics holds the exploration metrics.
type Metrics struct {
	Runs          *prometheus.CounterVec // by status
	Faults        prometheus.Counter
	Solves        *prometheus.CounterVec // by outcome
	SolveDuration prometheus.Histogram
	Pending       prometheus.Gauge
	Deferred      prometheus.Gauge
	Covered       prometheus.Gauge
	Stops         prometheus.Counter

	subs []*bus.Subscription
}

// New returns metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "diver_runs_total",
			Help: "Finished runs by status",
		}, []string{"status"}),

		Faults: factory.NewCounter(prometheus.CounterOpts{
			Name: "diver_faults_total",
			Help: "Program faults discovered",
		}),

		Solves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "diver_solves_total",
			Help: "Solver calls by outcome",
		}, []string{"status"}),

		SolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "diver_solve_duration_seconds",
			Help:    "Solver call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
		}),

		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "diver_frontier_pending",
			Help: "Branch points waiting to be solved",
		}),

		Deferred: factory.NewGauge(prometheus.GaugeOpts{
			Name: "diver_frontier_deferred",
			Help: "Branch points waiting for a retry after an unknown answer",
		}),

		Covered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "diver_frontier_covered",
			Help: "Distinct branch directions taken by some run",
		}),

		Stops: factory.NewCounter(prometheus.CounterOpts{
			Name: "diver_stop_requests_total",
			Help: "Stop requests published on the bus",
		}),
	}
}

// Subscribe starts updating the metrics from records published on b.
func (m *Metrics) Subscribe(b Subscriber) {
	m.subs = append(m.subs,
		b.Subscribe(bus.TopicRun, m.onRun),
		b.Subscribe(bus.TopicFault, m.onFault),
		b.Subscribe(bus.TopicSolve, m.onSolve),
		b.Subscribe(bus.TopicFrontier, m.onFrontier),
		b.Subscribe(bus.TopicStop, m.onStop),
	)
}

// Close stops listening on the bus.
func (m *Metrics) Close() error {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
	return nil
}

func (m *Metrics) onRun(_ string, rec bus.Record) {
	if status, ok := rec["status"].(string); ok {
		m.Runs.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) onFault(string, bus.Record) { m.Faults.Inc() }

func (m *Metrics) onStop(string, bus.Record) { m.Stops.Inc() }

func (m *Metrics) onSolve(_ string, rec bus.Record) {
	if status, ok := rec["status"].(string); ok {
		m.Solves.WithLabelValues(status).Inc()
	}
	if d, ok := rec["duration"].(time.Duration); ok {
		m.SolveDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) onFrontier(_ string, rec bus.Record) {
	set := func(g prometheus.Gauge, key string) {
		if n, ok := rec[key].(int); ok {
			g.Set(float64(n))
		}
	}
	set(m.Pending, "pending")
	set(m.Deferred, "deferred")
	set(m.Covered, "covered")
}
