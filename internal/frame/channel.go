package frame

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cvkitio/cvkit-go/internal/errors"
)

// ErrDraining is returned by Publish once the channel has been drained.
var ErrDraining = errors.NewStd("frame channel is draining")

// Channel is the bounded hand-off between the frame producer and the detect
// worker pool. A full channel never blocks the producer indefinitely: past
// the publish timeout the oldest unclaimed frame is evicted to admit the new
// one, so consumers always see the most recent frames at the cost of
// dropping stale ones.
//
// Publish is single-producer; Consume is safe for any number of consumers.
type Channel struct {
	ch             chan *Frame
	publishTimeout time.Duration

	mu       sync.Mutex // serializes Publish against Drain
	draining bool

	published atomic.Uint64
	dropped   atomic.Uint64

	// OnDrop, if set before first use, observes evicted frames.
	OnDrop func(*Frame)
}

// NewChannel creates a channel holding up to capacity frames. publishTimeout
// bounds how long Publish blocks before evicting the oldest frame.
func NewChannel(capacity int, publishTimeout time.Duration) *Channel {
	return &Channel{
		ch:             make(chan *Frame, capacity),
		publishTimeout: publishTimeout,
	}
}

// Publish hands f off to the consumer pool. If the channel stays full past
// the publish timeout, buffered frames are evicted oldest-first until f
// fits. Returns ErrDraining after Drain has been called.
func (c *Channel) Publish(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining {
		return ErrDraining
	}

	// Fast path: a slot is free.
	select {
	case c.ch <- f:
		c.published.Add(1)
		return nil
	default:
	}

	// Wait for a consumer to make room, bounded by the publish timeout.
	timer := time.NewTimer(c.publishTimeout)
	defer timer.Stop()
	select {
	case c.ch <- f:
		c.published.Add(1)
		return nil
	case <-timer.C:
	}

	// Timeout expired: evict the oldest unclaimed frame to admit the new
	// one. Only the producer fills the channel, so a freed slot stays free
	// until the send below.
	for {
		select {
		case old := <-c.ch:
			c.dropped.Add(1)
			if c.OnDrop != nil {
				c.OnDrop(old)
			}
		default:
		}

		select {
		case c.ch <- f:
			c.published.Add(1)
			return nil
		default:
		}
	}
}

// Consume blocks until a frame is available, the channel is drained, or ctx
// is cancelled. The second return value is false when the consumer should
// exit: the drain sentinel was received or the context ended. Frames
// published before the drain remain consumable until the buffer is empty.
func (c *Channel) Consume(ctx context.Context) (*Frame, bool) {
	select {
	case f, ok := <-c.ch:
		if !ok {
			return nil, false
		}
		return f, true
	case <-ctx.Done():
		return nil, false
	}
}

// Drain transitions the channel into draining: subsequent publishes fail
// and consumers receive the sentinel once the buffer is empty. Must be
// called after the producer has stopped publishing or is prepared to
// handle ErrDraining.
func (c *Channel) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.draining {
		c.draining = true
		close(c.ch)
	}
}

// Published returns the number of frames successfully published.
func (c *Channel) Published() uint64 { return c.published.Load() }

// Dropped returns the number of frames evicted under backpressure.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Len returns the number of frames currently buffered.
func (c *Channel) Len() int { return len(c.ch) }

// Cap returns the channel capacity.
func (c *Channel) Cap() int { return cap(c.ch) }
