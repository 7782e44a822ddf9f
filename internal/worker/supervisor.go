package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/detect"
	"github.com/cvkitio/cvkit-go/internal/dispatch"
	"github.com/cvkitio/cvkit-go/internal/errors"
	"github.com/cvkitio/cvkit-go/internal/frame"
	"github.com/cvkitio/cvkit-go/internal/preprocess"
	"github.com/cvkitio/cvkit-go/internal/timing"
)

// State is the pipeline lifecycle state. Transitions happen only inside
// the Supervisor; it is the single place workers are created or torn down.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ChainFactory builds a fresh detector chain. Invoked once per detect
// worker, including crash replacements, so every worker loads its own
// detector models.
type ChainFactory func() (*detect.Chain, error)

// workerEvent reports a detect worker goroutine ending. A nil cause is a
// normal exit; anything else is a recovered panic.
type workerEvent struct {
	id    int
	cause any
}

// Supervisor owns the producer and the detect worker pool: it spawns them,
// monitors liveness, replaces crashed workers within a restart budget and
// drives the drain sequence on shutdown.
type Supervisor struct {
	settings *conf.Settings
	channel  *frame.Channel
	sink     *dispatch.Sink
	factory  ChainFactory
	hook     *timing.Hook
	log      *slog.Logger
	runID    string

	state    atomic.Int32
	restarts atomic.Int64
	events   chan workerEvent

	mu      sync.Mutex
	live    map[int]*DetectWorker
	retired uint64 // frames processed by workers that have exited
	nextID  int

	producer     *FrameWorker
	producerErr  error
	producerDone chan struct{}
	stopProducer context.CancelFunc
}

// NewSupervisor constructs a supervisor from an immutable, fully resolved
// configuration. No ambient lookups happen after this point.
func NewSupervisor(settings *conf.Settings, source FrameSource, pre *preprocess.Chain,
	channel *frame.Channel, sink *dispatch.Sink, factory ChainFactory,
	hook *timing.Hook, log *slog.Logger) *Supervisor {
	s := &Supervisor{
		settings:     settings,
		channel:      channel,
		sink:         sink,
		factory:      factory,
		runID:        uuid.NewString(),
		live:         make(map[int]*DetectWorker),
		producerDone: make(chan struct{}),
		events:       make(chan workerEvent, settings.Workers.DetectWorkers+settings.Supervisor.MaxRestarts+2),
	}
	s.log = log.With("run_id", s.runID)
	s.hook = hook.WithContext(map[string]any{"run_id": s.runID})
	s.state.Store(int32(StateStarting))

	throttle := RootThrottle(settings.Detectors)
	s.producer = NewFrameWorker(source, pre, channel, settings.Source, throttle, s.hook, s.log)
	return s
}

// State returns the current pipeline state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// RunID identifies this pipeline run in logs and timing context.
func (s *Supervisor) RunID() string { return s.runID }

// Producer returns the frame producer, for flow metric sampling.
func (s *Supervisor) Producer() *FrameWorker { return s.producer }

// Hook returns the timing hook carrying this run's identity, for detector
// chains built after the supervisor.
func (s *Supervisor) Hook() *timing.Hook { return s.hook }

// Restarts returns the number of crash replacements performed so far.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Info("pipeline state transition", "from", prev.String(), "to", next.String())
	}
}

// Processed returns the total frames evaluated across the pool, including
// workers that have already exited.
func (s *Supervisor) Processed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.retired
	for _, w := range s.live {
		total += w.Processed()
	}
	return total
}

// Run starts the producer and the configured number of detect workers,
// then supervises until the stream ends, the context is cancelled, or the
// restart budget is exhausted. It always completes the drain sequence
// before returning: remaining buffered frames are evaluated (within the
// grace period) and the result sink is flushed.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateStarting)
	s.sink.Start()

	prodCtx, stopProducer := context.WithCancel(context.Background())
	s.stopProducer = stopProducer
	defer stopProducer()
	consCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	go func() {
		s.producerErr = s.producer.Run(prodCtx)
		close(s.producerDone)
	}()

	active := 0
	var runErr error
	for range s.settings.Workers.DetectWorkers {
		if err := s.spawnWorker(consCtx); err != nil {
			runErr = err
			break
		}
		active++
	}

	draining := runErr != nil
	if !draining {
		s.setState(StateRunning)
		s.log.Info("pipeline running",
			"detect_workers", active,
			"channel_capacity", s.channel.Cap())
	} else {
		s.beginDrain()
	}

	heartbeatInterval := s.settings.Supervisor.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 5 * time.Second
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	// Nil-able copies so fired one-shot channels drop out of the select.
	prodDone := s.producerDone
	ctxDone := ctx.Done()
	var graceExpired <-chan time.Time
	var graceTimer *time.Timer
	startDrain := func() {
		if draining {
			return
		}
		draining = true
		s.beginDrain()
		grace := s.settings.Supervisor.GracePeriod
		if grace <= 0 {
			grace = 10 * time.Second
		}
		graceTimer = time.NewTimer(grace)
		graceExpired = graceTimer.C
	}

	abandoned := 0
loop:
	for active > 0 || !draining {
		select {
		case <-prodDone:
			prodDone = nil
			// Clean end of stream drains; a producer failure is fatal but
			// still drains what was already buffered.
			if runErr == nil {
				runErr = s.producerErr
			}
			startDrain()

		case <-ctxDone:
			ctxDone = nil
			s.log.Info("shutdown requested")
			startDrain()

		case ev := <-s.events:
			active--
			if ev.cause == nil {
				s.retireWorker(ev.id)
				continue
			}
			s.retireWorker(ev.id)
			restarts := s.restarts.Add(1)
			s.log.Error("detect worker crashed",
				"worker", ev.id, "cause", ev.cause,
				"restarts", restarts, "budget", s.settings.Supervisor.MaxRestarts)
			if restarts > int64(s.settings.Supervisor.MaxRestarts) {
				if runErr == nil {
					runErr = errors.Newf("worker restart budget exhausted after %d crashes", restarts).
						Component("worker").
						Category(errors.CategoryWorker).
						Context("last_crash_worker", ev.id).
						Build()
				}
				startDrain()
				continue
			}
			// Replacements are spawned during drain too, so buffered
			// frames still get evaluated after a late crash.
			if err := s.spawnWorker(consCtx); err != nil {
				if runErr == nil {
					runErr = err
				}
				startDrain()
				continue
			}
			active++

		case <-graceExpired:
			// A worker wedged inside a detector call will never report an
			// exit event; shutdown must not wait for it. Late events land
			// in the buffered events channel and late results are dropped
			// by the closed sink.
			stopConsumers()
			abandoned = active
			s.log.Error("grace period exceeded, abandoning stuck workers",
				"stragglers", active, "buffered", s.channel.Len())
			break loop

		case <-ticker.C:
			s.checkLiveness(heartbeatInterval)
		}
	}
	if graceTimer != nil {
		graceTimer.Stop()
	}

	// The producer may still be running when drain was forced by the
	// restart budget; it exits on the cancelled context or the drained
	// channel, whichever it hits first.
	if prodDone != nil {
		<-prodDone
		if runErr == nil {
			runErr = s.producerErr
		}
	}

	// All writers have stopped; flush remaining results to dispatchers.
	s.sink.Close()
	if err := s.hook.Flush(); err != nil {
		s.log.Warn("failed to flush timing measurements", "error", err)
	}

	s.setState(StateStopped)
	s.log.Info("pipeline stopped",
		"published", s.channel.Published(),
		"dropped", s.channel.Dropped(),
		"processed", s.Processed(),
		"dispatched", s.sink.Delivered(),
		"abandoned_workers", abandoned)
	if runErr != nil {
		s.log.Error("pipeline stopped with error", "error", runErr)
	}
	return runErr
}

// beginDrain stops the producer and closes the channel so consumers finish
// the buffered backlog and then see the end-of-stream sentinel.
func (s *Supervisor) beginDrain() {
	s.setState(StateDraining)
	s.stopProducer()
	s.channel.Drain()
}

// spawnWorker builds a chain (loading this worker's own detector models)
// and starts a consumer goroutine whose panics are reported as crashes.
func (s *Supervisor) spawnWorker(ctx context.Context) error {
	chain, err := s.factory()
	if err != nil {
		return errors.New(err).
			Component("worker").
			Category(errors.CategoryModelLoad).
			Build()
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	w := NewDetectWorker(id, s.channel, chain, s.sink, s.log)
	s.live[id] = w
	s.mu.Unlock()

	go func() {
		defer func() {
			// A panic loses the in-flight frame; processing is at most once.
			s.events <- workerEvent{id: id, cause: recover()}
		}()
		w.Run(ctx)
	}()
	return nil
}

// retireWorker folds an exited worker's counters into the retired total and
// removes it from liveness tracking.
func (s *Supervisor) retireWorker(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.live[id]; ok {
		s.retired += w.Processed()
		delete(s.live, id)
	}
}

// checkLiveness reports workers whose heartbeat has stalled. A hanging
// detector call stalls its worker; it is surfaced here rather than killed
// mid-call.
func (s *Supervisor) checkLiveness(interval time.Duration) {
	if s.State() != StateRunning {
		return
	}
	stallAfter := 3 * interval

	if s.producer != nil && s.channel.Len() == 0 {
		if since := s.producer.Heartbeat().Since(); since > stallAfter {
			s.log.Warn("frame producer heartbeat stalled", "since", since)
		}
	}

	if s.channel.Len() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.live {
		if since := w.Heartbeat().Since(); since > stallAfter {
			s.log.Warn("detect worker heartbeat stalled", "worker", id, "since", since)
		}
	}
}
