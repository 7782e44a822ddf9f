package frame

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrame(seq uint64) *Frame {
	return &Frame{Seq: seq, Timestamp: time.Now(), Source: "test"}
}

func TestPublishEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	c := NewChannel(2, time.Millisecond)

	var droppedSeqs []uint64
	c.OnDrop = func(f *Frame) { droppedSeqs = append(droppedSeqs, f.Seq) }

	// No consumers: publishing past capacity must evict oldest-first.
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, c.Publish(newTestFrame(seq)))
	}

	assert.Equal(t, uint64(5), c.Published())
	assert.Equal(t, uint64(3), c.Dropped())
	assert.Equal(t, []uint64{1, 2, 3}, droppedSeqs)

	// The freshest frames survive, in publish order.
	c.Drain()
	ctx := context.Background()
	f1, ok := c.Consume(ctx)
	require.True(t, ok)
	f2, ok := c.Consume(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(4), f1.Seq)
	assert.Equal(t, uint64(5), f2.Seq)

	_, ok = c.Consume(ctx)
	assert.False(t, ok, "drained channel must deliver the sentinel")
}

func TestPublishWaitsForConsumerBeforeEvicting(t *testing.T) {
	t.Parallel()

	c := NewChannel(1, 500*time.Millisecond)
	require.NoError(t, c.Publish(newTestFrame(1)))

	// A consumer arriving within the publish timeout prevents any drop.
	done := make(chan *Frame, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		f, _ := c.Consume(context.Background())
		done <- f
	}()

	require.NoError(t, c.Publish(newTestFrame(2)))
	assert.Equal(t, uint64(0), c.Dropped())
	assert.Equal(t, uint64(1), (<-done).Seq)
}

func TestPublishAfterDrain(t *testing.T) {
	t.Parallel()

	c := NewChannel(4, time.Millisecond)
	c.Drain()

	err := c.Publish(newTestFrame(1))
	assert.ErrorIs(t, err, ErrDraining)

	// Drain is idempotent.
	c.Drain()
}

func TestConsumeContextCancel(t *testing.T) {
	t.Parallel()

	c := NewChannel(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := c.Consume(ctx)
	assert.False(t, ok)
}

func TestFreshestFrameReachesConsumersUnderOverload(t *testing.T) {
	t.Parallel()

	const total = 200
	c := NewChannel(4, time.Millisecond)

	var mu sync.Mutex
	received := make(map[uint64]bool)

	var wg sync.WaitGroup
	ctx := context.Background()
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				f, ok := c.Consume(ctx)
				if !ok {
					return
				}
				mu.Lock()
				received[f.Seq] = true
				mu.Unlock()
				// Slow consumers force producer-side eviction.
				time.Sleep(time.Millisecond)
			}
		}()
	}

	for seq := uint64(1); seq <= total; seq++ {
		require.NoError(t, c.Publish(newTestFrame(seq)))
	}
	c.Drain()
	wg.Wait()

	// The most recently published frame must be processed; older frames
	// may have been dropped silently.
	assert.True(t, received[total], "most recent frame must not be starved")
	assert.Equal(t, uint64(total), c.Published())
	assert.Equal(t, c.Published()-c.Dropped(), uint64(len(received)),
		"every non-dropped frame is consumed exactly once")
}

func TestClaimedFramesFinishAfterDrain(t *testing.T) {
	t.Parallel()

	c := NewChannel(8, time.Millisecond)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, c.Publish(newTestFrame(seq)))
	}
	c.Drain()

	// All frames published before the drain stay consumable.
	var seqs []uint64
	for {
		f, ok := c.Consume(context.Background())
		if !ok {
			break
		}
		seqs = append(seqs, f.Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}
