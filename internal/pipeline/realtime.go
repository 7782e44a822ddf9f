// Package pipeline assembles and runs the detection pipeline: frame source,
// preprocessor chain, bounded frame channel, detect worker pool, result
// dispatch and the telemetry endpoint.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/detect"
	"github.com/cvkitio/cvkit-go/internal/dispatch"
	"github.com/cvkitio/cvkit-go/internal/frame"
	"github.com/cvkitio/cvkit-go/internal/logging"
	"github.com/cvkitio/cvkit-go/internal/observability"
	metricspkg "github.com/cvkitio/cvkit-go/internal/observability/metrics"
	"github.com/cvkitio/cvkit-go/internal/preprocess"
	"github.com/cvkitio/cvkit-go/internal/timing"
	"github.com/cvkitio/cvkit-go/internal/vision"
	"github.com/cvkitio/cvkit-go/internal/worker"
)

// resultSinkCapacity bounds the result channel between detect workers and
// the dispatcher goroutine.
const resultSinkCapacity = 64

// Run assembles the pipeline from settings and runs it until the stream
// ends or a termination signal arrives. Used by both the realtime and file
// commands; the source type in settings decides which stream is read.
func Run(ctx context.Context, settings *conf.Settings) error {
	// Role marker so the cleanup command can identify pipeline processes.
	if err := os.Setenv(conf.EnvProcRole, "pipeline"); err != nil {
		return err
	}

	log := logging.ForService("pipeline")
	printHostBanner()

	channel := frame.NewChannel(settings.Channel.Capacity, settings.Channel.PublishTimeout)

	// The supervisor is assigned below; samplers are only invoked at scrape
	// time, after the telemetry endpoint starts.
	var sup *worker.Supervisor
	metrics, err := observability.NewMetrics(metricspkg.FlowSamplers{
		ChannelDepth:    func() float64 { return float64(channel.Len()) },
		FramesPublished: func() float64 { return float64(channel.Published()) },
		FramesEvicted:   func() float64 { return float64(channel.Dropped()) },
		FramesProcessed: func() float64 { return float64(sup.Processed()) },
		WorkerRestarts:  func() float64 { return float64(sup.Restarts()) },
		FramesRead:      func() float64 { return float64(sup.Producer().FramesRead()) },
		PreprocessErrors: func() float64 {
			return float64(sup.Producer().PreprocessErrors())
		},
	})
	if err != nil {
		return err
	}

	hook, err := timing.NewHookFromSettings(&settings.Timing, metrics.Detector, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := hook.Close(); err != nil {
			log.Warn("failed to close timing storage", "error", err)
		}
	}()

	pre, err := preprocess.NewChain(settings.Preprocessors)
	if err != nil {
		return err
	}

	source := vision.NewCaptureSource(settings.Source)
	sink := dispatch.NewSink(resultSinkCapacity, &dispatch.LogDispatcher{Log: log}, log)

	// The factory runs inside the supervisor, after sup is assigned, so it
	// can pick up the hook stamped with the run ID.
	factory := func() (*detect.Chain, error) {
		return detect.NewChain(settings.Detectors,
			detect.WithHook(sup.Hook()),
			detect.WithLogger(log),
			detect.WithMetrics(metrics.Detector))
	}

	sup = worker.NewSupervisor(settings, source, pre, channel, sink, factory, hook, log)
	log.Info("pipeline assembled",
		"source", settings.Source.Type,
		"detectors", len(settings.Detectors),
		"detect_workers", settings.Workers.DetectWorkers)

	quitChan := make(chan struct{})
	var wg sync.WaitGroup
	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quitChan)
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := sup.Run(sigCtx)

	close(quitChan)
	wg.Wait()
	return runErr
}

// printHostBanner prints platform details the way operators expect to see
// them on startup.
func printHostBanner() {
	info, err := host.Info()
	if err != nil {
		fmt.Printf("Error retrieving host info: %v\n", err)
		return
	}
	fmt.Printf("System details: %s %s %s on %s\n",
		info.OS, info.Platform, info.PlatformVersion, info.KernelArch)
}
