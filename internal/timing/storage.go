package timing

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cvkitio/cvkit-go/internal/conf"
)

// FileStorage appends measurements as JSON lines to a rotated file.
type FileStorage struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	enc    *json.Encoder
	log    *slog.Logger
}

// NewFileStorage creates a JSONL file storage at path, creating parent
// directories as needed.
func NewFileStorage(path string, log *slog.Logger) (*FileStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 3,
	}
	return &FileStorage{
		writer: writer,
		enc:    json.NewEncoder(writer),
		log:    log,
	}, nil
}

// Record implements Storage.
func (s *FileStorage) Record(m Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(m); err != nil && s.log != nil {
		s.log.Error("failed to store timing measurement", "error", err)
	}
}

// Flush implements Storage. File writes are unbuffered, nothing to do.
func (s *FileStorage) Flush() error { return nil }

// Close implements Storage.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

// Observer receives operation durations; the observability package
// implements it with Prometheus histograms.
type Observer interface {
	ObserveOperation(operation string, durationMS float64)
}

// MetricsStorage forwards measurements to an Observer.
type MetricsStorage struct {
	observer Observer
}

// NewMetricsStorage wraps an Observer as a Storage backend.
func NewMetricsStorage(observer Observer) *MetricsStorage {
	return &MetricsStorage{observer: observer}
}

// Record implements Storage.
func (s *MetricsStorage) Record(m Measurement) {
	s.observer.ObserveOperation(m.Function, m.DurationMS)
}

// Flush implements Storage.
func (s *MetricsStorage) Flush() error { return nil }

// Close implements Storage.
func (s *MetricsStorage) Close() error { return nil }

// NewHookFromSettings builds a Hook per the timing configuration. Returns a
// disabled hook when timing is off or the storage kind is "none".
func NewHookFromSettings(cfg *conf.TimingSettings, observer Observer, log *slog.Logger) (*Hook, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch strings.ToLower(cfg.Storage) {
	case "file", "":
		storage, err := NewFileStorage(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return NewHook(storage), nil
	case "metrics":
		if observer == nil {
			return nil, nil
		}
		return NewHook(NewMetricsStorage(observer)), nil
	case "none":
		return nil, nil
	default:
		if log != nil {
			log.Warn("unknown timing storage type, timing disabled", "storage", cfg.Storage)
		}
		return nil, nil
	}
}
