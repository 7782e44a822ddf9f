// Package dispatch moves detection results from the worker pool to the
// action dispatcher over a bounded multi-writer, single-reader channel.
// Delivery is fire-and-forget from the pipeline's perspective: dispatcher
// failures are the dispatcher's concern and are never retried here.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cvkitio/cvkit-go/internal/detect"
)

// Dispatcher receives complete frame result sets and performs side effects
// (notifications, storage, forwarding). Implementations must tolerate
// unordered delivery across frames.
type Dispatcher interface {
	Dispatch(rs *detect.FrameResultSet)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(rs *detect.FrameResultSet)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(rs *detect.FrameResultSet) { f(rs) }

// MultiDispatcher fans a result set out to several dispatchers in order.
type MultiDispatcher []Dispatcher

// Dispatch implements Dispatcher.
func (m MultiDispatcher) Dispatch(rs *detect.FrameResultSet) {
	for _, d := range m {
		d.Dispatch(rs)
	}
}

// LogDispatcher logs detections and node errors. It is the default
// dispatcher when no external delivery is wired in.
type LogDispatcher struct {
	Log *slog.Logger
}

// Dispatch implements Dispatcher.
func (l *LogDispatcher) Dispatch(rs *detect.FrameResultSet) {
	for _, r := range rs.Results() {
		switch {
		case r.Err != nil:
			l.Log.Error("detector node error",
				"seq", rs.Seq, "node", r.Node, "error", r.Err)
		case len(r.Detections) > 0:
			l.Log.Info("detections",
				"seq", rs.Seq, "node", r.Node, "count", len(r.Detections),
				"source", rs.Source)
		}
	}
}

// Sink is the output channel between detect workers (writers) and the
// single dispatcher goroutine (reader). A full sink drops results rather
// than stalling workers.
type Sink struct {
	ch         chan *detect.FrameResultSet
	dispatcher Dispatcher
	log        *slog.Logger

	dropped   atomic.Uint64
	delivered atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewSink creates a sink with the given buffer capacity feeding d.
func NewSink(capacity int, d Dispatcher, log *slog.Logger) *Sink {
	return &Sink{
		ch:         make(chan *detect.FrameResultSet, capacity),
		dispatcher: d,
		log:        log,
	}
}

// Start launches the single reader goroutine.
func (s *Sink) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for rs := range s.ch {
			s.deliver(rs)
		}
	}()
}

func (s *Sink) deliver(rs *detect.FrameResultSet) {
	defer func() {
		if r := recover(); r != nil && s.log != nil {
			s.log.Error("dispatcher panicked", "seq", rs.Seq, "panic", r)
		}
	}()
	s.dispatcher.Dispatch(rs)
	s.delivered.Add(1)
}

// Publish hands a result set to the dispatcher without blocking the
// calling worker. Results are dropped when the sink is saturated or
// already closed; a stalled worker delivering late must not panic.
func (s *Sink) Publish(rs *detect.FrameResultSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- rs:
	default:
		s.dropped.Add(1)
		if s.log != nil {
			s.log.Warn("result sink full, dropping result set", "seq", rs.Seq)
		}
	}
}

// Close stops accepting results and waits for buffered results to be
// delivered. Publish calls after Close drop their results.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Delivered returns the number of result sets handed to the dispatcher.
func (s *Sink) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns the number of result sets dropped at saturation.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }
