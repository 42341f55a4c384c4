// Package metrics records generation runs for Prometheus. A CLI process is
// too short-lived to be scraped, so the registry is written out in the
// node_exporter textfile format instead.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the acegen metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	resolvedDuration   *prometheus.HistogramVec
	preprocessSamples  *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of generation runs",
		},
		[]string{"duration_source", "status"},
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock time of a generation run",
			Buckets:   []float64{5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"task_type"},
	)

	c.resolvedDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolved_audio_duration_seconds",
			Help:      "Requested audio length after duration resolution",
			Buckets:   prometheus.LinearBuckets(30, 30, 10),
		},
		[]string{"duration_source"},
	)

	c.preprocessSamples = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preprocess_samples_total",
			Help:      "Dataset samples handed to preprocessing",
		},
		[]string{"kind"}, // kind: labeled, truncated
	)

	return c
}

// RecordGeneration records one generation run. Unresolved durations
// (seconds <= 0) are counted but not observed.
func (c *Collector) RecordGeneration(taskType, source string, success bool, elapsed time.Duration, seconds float64) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	c.generationsTotal.WithLabelValues(source, status).Inc()
	c.generationDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
	if seconds > 0 {
		c.resolvedDuration.WithLabelValues(source).Observe(seconds)
	}
}

// RecordPreprocess records the sample counts of a preprocessing run.
func (c *Collector) RecordPreprocess(labeled, truncated int) {
	if c == nil {
		return
	}
	c.preprocessSamples.WithLabelValues("labeled").Add(float64(labeled))
	c.preprocessSamples.WithLabelValues("truncated").Add(float64(truncated))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes every metric to path, atomically.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}
