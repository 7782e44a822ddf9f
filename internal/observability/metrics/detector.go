// Package metrics provides custom Prometheus metrics for the detection pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics contains all Prometheus metrics related to detector chain
// evaluation, partitioned by node name.
type DetectorMetrics struct {
	DetectionCounter *prometheus.CounterVec
	EvaluationTotal  *prometheus.CounterVec
	ErrorCounter     *prometheus.CounterVec

	EvaluationDuration *prometheus.HistogramVec
	OperationDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewDetectorMetrics creates a new instance of DetectorMetrics.
// It requires a Prometheus registry to register the metrics.
func NewDetectorMetrics(registry *prometheus.Registry) (*DetectorMetrics, error) {
	m := &DetectorMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detector metrics: %w", err)
	}
	return m, nil
}

func (m *DetectorMetrics) initMetrics() {
	m.DetectionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvkit_detections_total",
			Help: "Total number of detections partitioned by node name.",
		},
		[]string{"node"},
	)
	m.EvaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvkit_node_evaluations_total",
			Help: "Total number of node evaluations.",
		},
		[]string{"node"},
	)
	m.ErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvkit_node_errors_total",
			Help: "Total number of failed node evaluations.",
		},
		[]string{"node"},
	)
	m.EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvkit_node_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a detector node against one input region.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"node"},
	)
	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvkit_operation_duration_seconds",
			Help:    "Time taken by instrumented pipeline operations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)
}

// ObserveDetectorDuration records one node evaluation.
func (m *DetectorMetrics) ObserveDetectorDuration(node string, seconds float64) {
	m.EvaluationTotal.WithLabelValues(node).Inc()
	m.EvaluationDuration.WithLabelValues(node).Observe(seconds)
}

// IncDetectorError counts a failed node evaluation.
func (m *DetectorMetrics) IncDetectorError(node string) {
	m.ErrorCounter.WithLabelValues(node).Inc()
}

// AddDetections counts detections emitted by a node.
func (m *DetectorMetrics) AddDetections(node string, count int) {
	if count > 0 {
		m.DetectionCounter.WithLabelValues(node).Add(float64(count))
	}
}

// ObserveOperation records a timing hook measurement into the operation
// histogram. Durations arrive in milliseconds.
func (m *DetectorMetrics) ObserveOperation(operation string, durationMS float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(durationMS / 1000)
}

// Describe implements the prometheus.Collector interface.
func (m *DetectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DetectionCounter.Describe(ch)
	m.EvaluationTotal.Describe(ch)
	m.ErrorCounter.Describe(ch)
	m.EvaluationDuration.Describe(ch)
	m.OperationDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DetectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DetectionCounter.Collect(ch)
	m.EvaluationTotal.Collect(ch)
	m.ErrorCounter.Collect(ch)
	m.EvaluationDuration.Collect(ch)
	m.OperationDuration.Collect(ch)
}
