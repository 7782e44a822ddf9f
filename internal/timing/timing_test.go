package timing

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
)

type captureStorage struct {
	mu           sync.Mutex
	measurements []Measurement
}

func (c *captureStorage) Record(m Measurement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.measurements = append(c.measurements, m)
}
func (c *captureStorage) Flush() error { return nil }
func (c *captureStorage) Close() error { return nil }

func TestDisabledHookIsPassthrough(t *testing.T) {
	t.Parallel()

	var h *Hook
	assert.False(t, h.Enabled())

	called := false
	err := h.Measure("op", nil, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, h.Flush())
	assert.NoError(t, h.Close())
}

func TestMeasureRecordsDurationAndMetadata(t *testing.T) {
	t.Parallel()

	storage := &captureStorage{}
	h := NewHook(storage)

	err := h.Measure("detect.face", map[string]any{"node": "face"}, func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, storage.measurements, 1)
	m := storage.measurements[0]
	assert.Equal(t, "detect.face", m.Function)
	assert.GreaterOrEqual(t, m.DurationMS, 5.0)
	assert.Equal(t, os.Getpid(), m.ProcessID)
	assert.Equal(t, "face", m.Context["node"])
	assert.False(t, m.Timestamp.IsZero())
}

func TestWithContextStampsEveryMeasurement(t *testing.T) {
	t.Parallel()

	storage := &captureStorage{}
	h := NewHook(storage).WithContext(map[string]any{"run_id": "abc-123"})

	require.NoError(t, h.Measure("first", nil, func() error { return nil }))
	require.NoError(t, h.Measure("second", map[string]any{"node": "face"}, func() error { return nil }))

	require.Len(t, storage.measurements, 2)
	assert.Equal(t, "abc-123", storage.measurements[0].Context["run_id"])
	assert.Equal(t, "abc-123", storage.measurements[1].Context["run_id"])
	assert.Equal(t, "face", storage.measurements[1].Context["node"])
}

func TestWithContextOnDisabledHookStaysDisabled(t *testing.T) {
	t.Parallel()

	var h *Hook
	h = h.WithContext(map[string]any{"run_id": "abc"})
	assert.False(t, h.Enabled())
	require.NoError(t, h.Measure("op", nil, func() error { return nil }))
}

func TestMeasureRecordsFailedOperations(t *testing.T) {
	t.Parallel()

	storage := &captureStorage{}
	h := NewHook(storage)

	boom := errors.NewStd("boom")
	err := h.Measure("op", nil, func() error { return boom })

	assert.ErrorIs(t, err, boom, "the wrapped error passes through unchanged")
	assert.Len(t, storage.measurements, 1, "failures are still timed")
}

func TestFileStorageWritesJSONL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "timing", "measurements.jsonl")
	storage, err := NewFileStorage(path, nil)
	require.NoError(t, err)

	h := NewHook(storage)
	require.NoError(t, h.Measure("scale", map[string]any{"width": 640}, func() error { return nil }))
	require.NoError(t, h.Measure("grayscale", nil, func() error { return nil }))
	require.NoError(t, h.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var functions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m Measurement
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		functions = append(functions, m.Function)
		assert.Equal(t, os.Getpid(), m.ProcessID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"scale", "grayscale"}, functions)
}

type fakeObserver struct {
	ops map[string]float64
}

func (f *fakeObserver) ObserveOperation(op string, durationMS float64) {
	f.ops[op] = durationMS
}

func TestMetricsStorageForwardsToObserver(t *testing.T) {
	t.Parallel()

	obs := &fakeObserver{ops: map[string]float64{}}
	h := NewHook(NewMetricsStorage(obs))

	require.NoError(t, h.Measure("detect", nil, func() error { return nil }))
	assert.Contains(t, obs.ops, "detect")
}

func TestNewHookFromSettings(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		h, err := NewHookFromSettings(&conf.TimingSettings{Enabled: false}, nil, nil)
		require.NoError(t, err)
		assert.False(t, h.Enabled())
	})

	t.Run("file backend", func(t *testing.T) {
		t.Parallel()
		cfg := &conf.TimingSettings{
			Enabled: true,
			Storage: "file",
			Path:    filepath.Join(t.TempDir(), "timing.jsonl"),
		}
		h, err := NewHookFromSettings(cfg, nil, nil)
		require.NoError(t, err)
		assert.True(t, h.Enabled())
		assert.NoError(t, h.Close())
	})

	t.Run("unknown storage disables timing", func(t *testing.T) {
		t.Parallel()
		cfg := &conf.TimingSettings{Enabled: true, Storage: "carrier-pigeon"}
		h, err := NewHookFromSettings(cfg, nil, nil)
		require.NoError(t, err)
		assert.False(t, h.Enabled())
	})
}
