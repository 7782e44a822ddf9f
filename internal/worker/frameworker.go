package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
	"github.com/cvkitio/cvkit-go/internal/frame"
	"github.com/cvkitio/cvkit-go/internal/preprocess"
	"github.com/cvkitio/cvkit-go/internal/timing"
)

// FrameWorker is the single producer: it acquires frames from the source,
// runs the preprocessor chain and publishes the result to the frame
// channel with producer-assigned sequence numbers.
type FrameWorker struct {
	source   FrameSource
	chain    *preprocess.Chain
	channel  *frame.Channel
	cfg      conf.SourceSettings
	throttle time.Duration
	hook     *timing.Hook
	log      *slog.Logger

	heartbeat        *Heartbeat
	seq              atomic.Uint64
	preprocessErrors atomic.Uint64
	skipped          atomic.Uint64
}

// NewFrameWorker wires a producer. throttle, when positive, is the minimum
// interval between published frames (derived from the root detectors'
// frequency settings); frames arriving faster are skipped at the source.
func NewFrameWorker(source FrameSource, chain *preprocess.Chain, channel *frame.Channel,
	cfg conf.SourceSettings, throttle time.Duration, hook *timing.Hook, log *slog.Logger) *FrameWorker {
	return &FrameWorker{
		source:    source,
		chain:     chain,
		channel:   channel,
		cfg:       cfg,
		throttle:  throttle,
		hook:      hook,
		log:       log,
		heartbeat: NewHeartbeat(),
	}
}

// RootThrottle derives the producer-side publish throttle from the root
// detectors' frequency settings: the smallest configured interval wins, and
// any root without a frequency disables throttling entirely.
func RootThrottle(detectors []conf.DetectorConfig) time.Duration {
	min := time.Duration(0)
	for _, d := range detectors {
		if d.Parent != "" {
			continue
		}
		if d.FrequencyMS <= 0 {
			return 0
		}
		interval := time.Duration(d.FrequencyMS) * time.Millisecond
		if min == 0 || interval < min {
			min = interval
		}
	}
	return min
}

// Heartbeat exposes the producer's liveness stamp.
func (w *FrameWorker) Heartbeat() *Heartbeat { return w.heartbeat }

// Published returns the number of frames handed to the channel.
func (w *FrameWorker) Published() uint64 { return w.seq.Load() }

// PreprocessErrors returns the count of frames dropped by failing stages.
func (w *FrameWorker) PreprocessErrors() uint64 { return w.preprocessErrors.Load() }

// Skipped returns frames read from the source but dropped by the throttle.
func (w *FrameWorker) Skipped() uint64 { return w.skipped.Load() }

// FramesRead returns the total frames acquired from the source, whether
// they were published, skipped or dropped in preprocessing.
func (w *FrameWorker) FramesRead() uint64 {
	return w.seq.Load() + w.skipped.Load() + w.preprocessErrors.Load()
}

// Run acquires, preprocesses and publishes frames until the stream ends,
// the context is cancelled, or the transient-error budget is exhausted.
// A clean end of stream returns nil.
func (w *FrameWorker) Run(ctx context.Context) error {
	if err := w.source.Open(); err != nil {
		return errors.New(err).
			Component("worker").
			Category(errors.CategoryFrameSource).
			Build()
	}
	defer func() {
		if err := w.source.Close(); err != nil {
			w.log.Warn("error closing frame source", "error", err)
		}
	}()

	retries := 0
	backoff := w.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var lastPublish time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}

		img, err := w.source.NextFrame(ctx)
		switch {
		case errors.Is(err, ErrEndOfStream):
			w.log.Info("frame source ended", "published", w.seq.Load())
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			retries++
			if retries > w.cfg.MaxRetries {
				return errors.New(err).
					Component("worker").
					Category(errors.CategoryFrameSource).
					Context("retries", retries-1).
					Build()
			}
			w.log.Warn("transient frame source error, backing off",
				"error", err, "attempt", retries, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff *= 2
			continue
		}
		retries = 0
		backoff = w.cfg.RetryBackoff
		if backoff <= 0 {
			backoff = 100 * time.Millisecond
		}
		w.heartbeat.Beat()

		now := time.Now()
		if w.throttle > 0 && !lastPublish.IsZero() && now.Sub(lastPublish) < w.throttle {
			w.skipped.Add(1)
			continue
		}

		var processed = img
		perr := w.hook.Measure("frame_processing", nil, func() error {
			var err error
			processed, err = w.chain.Apply(img)
			return err
		})
		if perr != nil {
			// The failing stage aborts the whole frame.
			w.preprocessErrors.Add(1)
			w.log.Error("preprocess failed, dropping frame", "error", perr)
			continue
		}

		f := &frame.Frame{
			Seq:       w.seq.Add(1),
			Timestamp: now,
			Source:    w.sourceName(),
			Image:     processed,
		}
		if err := w.channel.Publish(f); err != nil {
			// Draining: the pipeline is shutting down.
			return nil
		}
		lastPublish = now
	}
}

func (w *FrameWorker) sourceName() string {
	switch w.cfg.Type {
	case conf.SourceTypeFile:
		return w.cfg.Path
	case conf.SourceTypeRTSP:
		return w.cfg.URL
	default:
		return w.cfg.Type
	}
}
