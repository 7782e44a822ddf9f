// Package timing provides optional instrumentation that wraps designated
// operations to record start time, duration and metadata without altering
// control flow. A disabled hook is a plain function call.
package timing

import (
	"os"
	"time"
)

// Measurement is one recorded operation timing.
type Measurement struct {
	Timestamp  time.Time      `json:"timestamp"`
	Function   string         `json:"function"`
	DurationMS float64        `json:"duration_ms"`
	ProcessID  int            `json:"process_id"`
	Context    map[string]any `json:"context,omitempty"`
}

// Storage persists measurements. Implementations must be safe for
// concurrent use by all workers.
type Storage interface {
	Record(m Measurement)
	Flush() error
	Close() error
}

// Hook wraps operations with timing measurement. A nil Hook (or a Hook with
// nil storage) is valid and measures nothing.
type Hook struct {
	storage Storage
	base    map[string]any
}

// NewHook creates a hook recording to storage. Passing nil storage yields a
// disabled hook.
func NewHook(storage Storage) *Hook {
	if storage == nil {
		return nil
	}
	return &Hook{storage: storage}
}

// Enabled reports whether measurements are being recorded.
func (h *Hook) Enabled() bool {
	return h != nil && h.storage != nil
}

// WithContext returns a hook that stamps the given keys on every measurement
// it records, under any per-call context. Disabled hooks pass through.
func (h *Hook) WithContext(base map[string]any) *Hook {
	if !h.Enabled() || len(base) == 0 {
		return h
	}
	merged := make(map[string]any, len(h.base)+len(base))
	for k, v := range h.base {
		merged[k] = v
	}
	for k, v := range base {
		merged[k] = v
	}
	return &Hook{storage: h.storage, base: merged}
}

// Measure runs fn, recording its duration under the given operation name.
// The function's result is returned unchanged, and the measurement is
// recorded whether or not fn fails.
func (h *Hook) Measure(operation string, context map[string]any, fn func() error) error {
	if !h.Enabled() {
		return fn()
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if len(h.base) > 0 {
		merged := make(map[string]any, len(h.base)+len(context))
		for k, v := range h.base {
			merged[k] = v
		}
		for k, v := range context {
			merged[k] = v
		}
		context = merged
	}
	h.storage.Record(Measurement{
		Timestamp:  start.UTC(),
		Function:   operation,
		DurationMS: float64(elapsed.Nanoseconds()) / 1e6,
		ProcessID:  os.Getpid(),
		Context:    context,
	})
	return err
}

// Flush flushes pending measurements.
func (h *Hook) Flush() error {
	if !h.Enabled() {
		return nil
	}
	return h.storage.Flush()
}

// Close releases storage resources.
func (h *Hook) Close() error {
	if !h.Enabled() {
		return nil
	}
	return h.storage.Close()
}
