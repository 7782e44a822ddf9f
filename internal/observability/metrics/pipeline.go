package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// FlowSamplers supplies the pipeline's own atomic counters to Prometheus.
// The workers already count frames; sampling them at scrape time avoids
// double bookkeeping. Nil samplers read as zero.
type FlowSamplers struct {
	FramesRead       func() float64 // frames acquired from the source
	FramesPublished  func() float64 // frames admitted to the channel
	FramesEvicted    func() float64 // frames evicted under backpressure
	FramesProcessed  func() float64 // frames evaluated by detect workers
	PreprocessErrors func() float64 // frames dropped by preprocessor failures
	WorkerRestarts   func() float64 // detect worker crash replacements
	ChannelDepth     func() float64 // frames currently buffered
}

// PipelineMetrics contains all Prometheus metrics related to frame flow
// through the pipeline: source reads, channel pressure and worker health.
type PipelineMetrics struct {
	FramesRead       prometheus.CounterFunc
	FramesPublished  prometheus.CounterFunc
	FramesEvicted    prometheus.CounterFunc
	FramesProcessed  prometheus.CounterFunc
	PreprocessErrors prometheus.CounterFunc
	WorkerRestarts   prometheus.CounterFunc
	ChannelDepth     prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewPipelineMetrics creates a new instance of PipelineMetrics over the
// given samplers.
func NewPipelineMetrics(registry *prometheus.Registry, samplers FlowSamplers) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics(samplers)
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func orZero(fn func() float64) func() float64 {
	if fn == nil {
		return func() float64 { return 0 }
	}
	return fn
}

func (m *PipelineMetrics) initMetrics(s FlowSamplers) {
	m.FramesRead = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cvkit_frames_read_total",
		Help: "Total number of frames read from the source.",
	}, orZero(s.FramesRead))
	m.FramesPublished = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cvkit_frames_published_total",
		Help: "Total number of frames published to the frame channel.",
	}, orZero(s.FramesPublished))
	m.FramesEvicted = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cvkit_frames_evicted_total",
		Help: "Total number of frames evicted from the channel under backpressure.",
	}, orZero(s.FramesEvicted))
	m.FramesProcessed = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cvkit_frames_processed_total",
		Help: "Total number of frames evaluated by detect workers.",
	}, orZero(s.FramesProcessed))
	m.PreprocessErrors = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cvkit_preprocess_errors_total",
		Help: "Total number of frames dropped by preprocessor failures.",
	}, orZero(s.PreprocessErrors))
	m.WorkerRestarts = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cvkit_worker_restarts_total",
		Help: "Total number of detect worker crash replacements.",
	}, orZero(s.WorkerRestarts))
	m.ChannelDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cvkit_channel_depth",
		Help: "Frames currently buffered in the frame channel.",
	}, orZero(s.ChannelDepth))
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.FramesRead.Desc()
	ch <- m.FramesPublished.Desc()
	ch <- m.FramesEvicted.Desc()
	ch <- m.FramesProcessed.Desc()
	ch <- m.PreprocessErrors.Desc()
	ch <- m.WorkerRestarts.Desc()
	ch <- m.ChannelDepth.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.FramesRead
	ch <- m.FramesPublished
	ch <- m.FramesEvicted
	ch <- m.FramesProcessed
	ch <- m.PreprocessErrors
	ch <- m.WorkerRestarts
	ch <- m.ChannelDepth
}
