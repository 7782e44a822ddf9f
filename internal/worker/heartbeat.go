package worker

import (
	"sync/atomic"
	"time"
)

// Heartbeat is an atomic last-activity timestamp stamped by a worker and
// read by the supervisor's stall monitor. The supervisor never kills a
// worker mid-call; a stalled heartbeat is surfaced as a diagnostic.
type Heartbeat struct {
	last atomic.Int64
}

// NewHeartbeat returns a heartbeat stamped with the current time.
func NewHeartbeat() *Heartbeat {
	h := &Heartbeat{}
	h.Beat()
	return h
}

// Beat stamps the current time.
func (h *Heartbeat) Beat() {
	h.last.Store(time.Now().UnixNano())
}

// Since returns the time elapsed since the last beat.
func (h *Heartbeat) Since() time.Duration {
	return time.Since(time.Unix(0, h.last.Load()))
}
