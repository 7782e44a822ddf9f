package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/cvkitio/cvkit-go/internal/detect"
	"github.com/cvkitio/cvkit-go/internal/dispatch"
	"github.com/cvkitio/cvkit-go/internal/frame"
)

// DetectWorker is one consumer of the frame channel. Each worker owns its
// detector chain instance so model-load cost is paid once per worker and
// no mutable state is shared across the pool.
type DetectWorker struct {
	id      int
	channel *frame.Channel
	chain   *detect.Chain
	sink    *dispatch.Sink
	log     *slog.Logger

	heartbeat *Heartbeat
	processed atomic.Uint64
}

// NewDetectWorker wires one consumer.
func NewDetectWorker(id int, channel *frame.Channel, chain *detect.Chain,
	sink *dispatch.Sink, log *slog.Logger) *DetectWorker {
	return &DetectWorker{
		id:        id,
		channel:   channel,
		chain:     chain,
		sink:      sink,
		log:       log.With("worker", id),
		heartbeat: NewHeartbeat(),
	}
}

// ID returns the worker's pool identifier.
func (w *DetectWorker) ID() int { return w.id }

// Heartbeat exposes the worker's liveness stamp.
func (w *DetectWorker) Heartbeat() *Heartbeat { return w.heartbeat }

// Processed returns the number of frames this worker has evaluated.
func (w *DetectWorker) Processed() uint64 { return w.processed.Load() }

// Run consumes frames until the drain sentinel or context cancellation.
// Evaluation of a claimed frame is never preempted mid-detection; the
// worker re-checks for shutdown between frames.
func (w *DetectWorker) Run(ctx context.Context) {
	w.log.Debug("detect worker started")
	for {
		f, ok := w.channel.Consume(ctx)
		if !ok {
			w.log.Debug("detect worker exiting", "processed", w.processed.Load())
			return
		}

		rs := w.chain.Evaluate(ctx, f)
		w.sink.Publish(rs)
		w.processed.Add(1)
		w.heartbeat.Beat()
	}
}
