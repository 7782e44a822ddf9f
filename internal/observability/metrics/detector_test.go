package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDetectorMetrics(registry)
	require.NoError(t, err)

	m.ObserveDetectorDuration("face", 0.012)
	m.ObserveDetectorDuration("face", 0.020)
	m.IncDetectorError("face")
	m.AddDetections("face", 3)
	m.AddDetections("face", 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.EvaluationTotal.WithLabelValues("face")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ErrorCounter.WithLabelValues("face")), 0.001)
	assert.InDelta(t, 3, testutil.ToFloat64(m.DetectionCounter.WithLabelValues("face")), 0.001)
}

func TestDetectorMetricsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewDetectorMetrics(registry)
	require.NoError(t, err)

	_, err = NewDetectorMetrics(registry)
	assert.Error(t, err)
}

func TestPipelineMetricsSampling(t *testing.T) {
	registry := prometheus.NewRegistry()
	depth := 7.0
	read := 12.0
	m, err := NewPipelineMetrics(registry, FlowSamplers{
		ChannelDepth: func() float64 { return depth },
		FramesRead:   func() float64 { return read },
	})
	require.NoError(t, err)

	assert.InDelta(t, 7, testutil.ToFloat64(m.ChannelDepth), 0.001)
	assert.InDelta(t, 12, testutil.ToFloat64(m.FramesRead), 0.001)

	depth = 2
	read = 20
	assert.InDelta(t, 2, testutil.ToFloat64(m.ChannelDepth), 0.001)
	assert.InDelta(t, 20, testutil.ToFloat64(m.FramesRead), 0.001)
}

func TestPipelineMetricsNilSamplers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry, FlowSamplers{})
	require.NoError(t, err)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ChannelDepth), 0.001)
	assert.InDelta(t, 0, testutil.ToFloat64(m.WorkerRestarts), 0.001)
}
