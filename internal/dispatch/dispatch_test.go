package dispatch

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvkitio/cvkit-go/internal/detect"
	"github.com/cvkitio/cvkit-go/internal/frame"
)

type captureDispatcher struct {
	mu   sync.Mutex
	seqs []uint64
}

func (c *captureDispatcher) Dispatch(rs *detect.FrameResultSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, rs.Seq)
}

func (c *captureDispatcher) seen() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func resultSet(seq uint64) *detect.FrameResultSet {
	return detect.NewFrameResultSet(&frame.Frame{Seq: seq, Timestamp: time.Now(), Source: "test"})
}

func TestSinkDeliversAllPublishedResults(t *testing.T) {
	t.Parallel()

	capture := &captureDispatcher{}
	sink := NewSink(16, capture, slog.Default())
	sink.Start()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 4; i++ {
				sink.Publish(resultSet(base*10 + i))
			}
		}(uint64(w))
	}
	wg.Wait()
	sink.Close()

	assert.Len(t, capture.seen(), 16)
	assert.Equal(t, uint64(16), sink.Delivered())
	assert.Equal(t, uint64(0), sink.Dropped())
}

func TestSinkDropsWhenSaturated(t *testing.T) {
	t.Parallel()

	// No reader started: the buffer fills, further publishes drop.
	sink := NewSink(2, &captureDispatcher{}, slog.Default())
	for seq := uint64(1); seq <= 5; seq++ {
		sink.Publish(resultSet(seq))
	}

	assert.Equal(t, uint64(3), sink.Dropped())
}

func TestSinkSurvivesDispatcherPanic(t *testing.T) {
	t.Parallel()

	capture := &captureDispatcher{}
	var calls int
	panicky := DispatcherFunc(func(rs *detect.FrameResultSet) {
		calls++
		if calls == 1 {
			panic("dispatcher bug")
		}
		capture.Dispatch(rs)
	})

	sink := NewSink(4, panicky, slog.Default())
	sink.Start()
	sink.Publish(resultSet(1))
	sink.Publish(resultSet(2))
	sink.Close()

	require.Equal(t, []uint64{2}, capture.seen(), "a panicking dispatch must not kill the sink")
}

func TestSinkPublishAfterCloseDropsResult(t *testing.T) {
	t.Parallel()

	// An abandoned worker may deliver a late result after shutdown has
	// flushed the sink; that must drop, not panic.
	capture := &captureDispatcher{}
	sink := NewSink(4, capture, slog.Default())
	sink.Start()
	sink.Publish(resultSet(1))
	sink.Close()

	require.NotPanics(t, func() { sink.Publish(resultSet(2)) })
	assert.Equal(t, []uint64{1}, capture.seen())
	assert.Equal(t, uint64(1), sink.Dropped())
}

func TestMultiDispatcherFansOutInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	first := DispatcherFunc(func(*detect.FrameResultSet) { order = append(order, "first") })
	second := DispatcherFunc(func(*detect.FrameResultSet) { order = append(order, "second") })

	MultiDispatcher{first, second}.Dispatch(resultSet(1))
	assert.Equal(t, []string{"first", "second"}, order)
}
