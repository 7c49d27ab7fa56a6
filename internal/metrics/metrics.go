// Package metrics records per-run counters for tablesnap and optionally
// pushes them to a Prometheus Pushgateway, since a run is too short-lived
// to be scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for one process.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	LastSuccess prometheus.Gauge

	// Snapshot metrics
	Rows    prometheus.Gauge
	Skipped prometheus.Gauge

	// Stage and sink metrics
	StageDuration *prometheus.HistogramVec
	SinkResults   *prometheus.CounterVec
	SinkDuration  *prometheus.HistogramVec
}

// New creates metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablesnap_runs_total",
				Help: "Total number of pipeline runs by final state",
			},
			[]string{"state"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tablesnap_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tablesnap_last_success_timestamp_seconds",
				Help: "Unix time of the last run that published to every sink",
			},
		),
		Rows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tablesnap_snapshot_rows",
				Help: "Rows accepted in the latest snapshot",
			},
		),
		Skipped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tablesnap_snapshot_skipped_rows",
				Help: "Rows dropped from the latest snapshot because of shape mismatch",
			},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablesnap_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		SinkResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablesnap_sink_results_total",
				Help: "Sink publish outcomes",
			},
			[]string{"sink", "result"},
		),
		SinkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablesnap_sink_duration_seconds",
				Help:    "Sink publish duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"sink"},
		),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStage observes how long a stage took.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordSnapshot records the size of an extracted snapshot.
func (m *Metrics) RecordSnapshot(rows, skipped int) {
	m.Rows.Set(float64(rows))
	m.Skipped.Set(float64(skipped))
}

// RecordSink records one sink outcome. result is "published",
// "unchanged" or "failed".
func (m *Metrics) RecordSink(sink, result string, d time.Duration) {
	m.SinkResults.WithLabelValues(sink, result).Inc()
	m.SinkDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// RecordRun records the final state of a run.
func (m *Metrics) RecordRun(state string, d time.Duration, succeeded bool) {
	m.Runs.WithLabelValues(state).Inc()
	m.RunDuration.Observe(d.Seconds())
	if succeeded {
		m.LastSuccess.SetToCurrentTime()
	}
}

// Push sends every metric to a Pushgateway, grouped by job and instance.
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(m.registry)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
