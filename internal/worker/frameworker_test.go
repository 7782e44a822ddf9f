package worker

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
	"github.com/cvkitio/cvkit-go/internal/frame"
	"github.com/cvkitio/cvkit-go/internal/preprocess"
)

// flakySource fails the first failures reads, then behaves like fakeSource.
type flakySource struct {
	fakeSource
	failures int64
	errs     atomic.Int64
}

func (s *flakySource) NextFrame(ctx context.Context) (image.Image, error) {
	if s.errs.Load() < s.failures {
		s.errs.Add(1)
		return nil, errors.NewStd("decoder hiccup")
	}
	return s.fakeSource.NextFrame(ctx)
}

func newTestFrameWorker(t *testing.T, source FrameSource, cfg conf.SourceSettings, throttle time.Duration) (*FrameWorker, *frame.Channel) {
	t.Helper()
	pre, err := preprocess.NewChain(nil)
	require.NoError(t, err)
	ch := frame.NewChannel(32, 250*time.Millisecond)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFrameWorker(source, pre, ch, cfg, throttle, nil, log), ch
}

func TestFrameWorkerRetriesTransientErrors(t *testing.T) {
	source := &flakySource{fakeSource: fakeSource{frames: 3}, failures: 2}
	cfg := conf.SourceSettings{Type: conf.SourceTypeFile, Path: "stream.mp4", MaxRetries: 3, RetryBackoff: time.Millisecond}
	w, ch := newTestFrameWorker(t, source, cfg, 0)

	err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(3), w.Published())
	assert.Equal(t, uint64(3), ch.Published())
	assert.Equal(t, uint64(3), w.FramesRead())
	assert.True(t, source.closed.Load())
}

func TestFrameWorkerRetryBudgetExhausted(t *testing.T) {
	source := &flakySource{fakeSource: fakeSource{frames: 3}, failures: 100}
	cfg := conf.SourceSettings{Type: conf.SourceTypeFile, Path: "stream.mp4", MaxRetries: 2, RetryBackoff: time.Millisecond}
	w, _ := newTestFrameWorker(t, source, cfg, 0)

	err := w.Run(context.Background())
	require.Error(t, err)

	var enhanced *errors.EnhancedError
	require.ErrorAs(t, err, &enhanced)
	assert.Equal(t, errors.CategoryFrameSource, enhanced.Category)
	assert.Zero(t, w.Published())
	assert.True(t, source.closed.Load())
}

func TestFrameWorkerThrottleSkipsFastFrames(t *testing.T) {
	source := &fakeSource{frames: 5}
	cfg := conf.SourceSettings{Type: conf.SourceTypeFile, Path: "stream.mp4", MaxRetries: 1, RetryBackoff: time.Millisecond}
	w, _ := newTestFrameWorker(t, source, cfg, time.Hour)

	err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), w.Published())
	assert.Equal(t, uint64(4), w.Skipped())
	assert.Equal(t, uint64(5), w.FramesRead())
}

func TestFrameWorkerStopsWhenChannelDrained(t *testing.T) {
	source := &fakeSource{frames: -1}
	cfg := conf.SourceSettings{Type: conf.SourceTypeFile, Path: "stream.mp4", MaxRetries: 1, RetryBackoff: time.Millisecond}
	w, ch := newTestFrameWorker(t, source, cfg, 0)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return w.Published() > 0
	}, 2*time.Second, time.Millisecond)
	ch.Drain()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop after drain")
	}
	assert.True(t, source.closed.Load())
}

func TestRootThrottle(t *testing.T) {
	tests := []struct {
		name      string
		detectors []conf.DetectorConfig
		want      time.Duration
	}{
		{
			name: "no detectors",
			want: 0,
		},
		{
			name:      "root without frequency disables throttling",
			detectors: []conf.DetectorConfig{{Name: "a"}, {Name: "b", FrequencyMS: 200}},
			want:      0,
		},
		{
			name: "smallest root interval wins",
			detectors: []conf.DetectorConfig{
				{Name: "a", FrequencyMS: 200},
				{Name: "b", FrequencyMS: 50},
			},
			want: 50 * time.Millisecond,
		},
		{
			name: "child frequencies ignored",
			detectors: []conf.DetectorConfig{
				{Name: "a", FrequencyMS: 100},
				{Name: "b", Parent: "a", FrequencyMS: 1},
			},
			want: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RootThrottle(tt.detectors))
		})
	}
}
