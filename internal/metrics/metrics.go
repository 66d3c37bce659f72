// Package metrics holds the collector's Prometheus counters. A run is a short-lived
// batch job, so the registry is pushed to a Pushgateway at the end instead of scraped.
package metrics

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	prefix = "ltd_collector_"

	queueTypeLabel = "queue_type"
	reasonLabel    = "reason"
)

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	pages       *prometheus.CounterVec
	games       *prometheus.CounterVec
	rows        *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	stops       *prometheus.CounterVec
	lastSuccess prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "pages_fetched_total",
				Help: "Non-empty pages fetched from the games endpoint",
			},
			[]string{queueTypeLabel},
		),
		games: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "games_seen_total",
				Help: "Games received from the games endpoint",
			},
			[]string{queueTypeLabel},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "rows_written_total",
				Help: "Pro-leak rows committed to match_data",
			},
			[]string{queueTypeLabel},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "rows_skipped_total",
				Help: "Pro-leak rows dropped as duplicates within a run",
			},
			[]string{queueTypeLabel},
		),
		stops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "queue_stops_total",
				Help: "Queue types stopped, by reason",
			},
			[]string{queueTypeLabel, reasonLabel},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "last_success_timestamp_seconds",
				Help: "Unix time of the last completed run",
			},
		),
	}
	m.registry.MustRegister(m.pages, m.games, m.rows, m.skipped, m.stops, m.lastSuccess)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) PageFetched(queueType string, games int) {
	m.pages.WithLabelValues(queueType).Inc()
	m.games.WithLabelValues(queueType).Add(float64(games))
}

func (m *Metrics) RowsWritten(queueType string, n int) {
	m.rows.WithLabelValues(queueType).Add(float64(n))
}

func (m *Metrics) RowsSkipped(queueType string, n int) {
	m.skipped.WithLabelValues(queueType).Add(float64(n))
}

func (m *Metrics) QueueStopped(queueType, reason string) {
	m.stops.WithLabelValues(queueType, reason).Inc()
}

// RunCompleted records the completion time as unix seconds.
func (m *Metrics) RunCompleted(unix int64) {
	m.lastSuccess.Set(float64(unix))
}

// Push sends every metric to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return errors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}
