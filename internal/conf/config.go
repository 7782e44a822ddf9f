// Package conf handles the application configuration: a YAML config file
// discovered from OS-specific paths, environment variable bindings and
// command line flags, layered through viper.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/cvkitio/cvkit-go/internal/errors"
)

// Environment variables understood by the pipeline.
const (
	EnvConfig        = "CVKIT_CONFIG"
	EnvWorkers       = "CVKIT_WORKERS"
	EnvTimingEnabled = "CVKIT_TIMING_ENABLED"
	EnvTimingStorage = "CVKIT_TIMING_STORAGE"
	EnvTimingFile    = "CVKIT_TIMING_FILE"
	EnvProcRole      = "CVKIT_PROC_ROLE"
)

// DefaultDetectWorkers is used when no worker count is configured anywhere.
const DefaultDetectWorkers = 2

// FrameWorkerCount is fixed: a single producer avoids frame-ordering races
// at the source.
const FrameWorkerCount = 1

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled    bool   // true to enable this log
	Path       string // path to log file
	MaxSize    int    // max log file size in MB before rotation
	MaxBackups int    // number of rotated files to keep
	MaxAge     int    // days to keep rotated files
}

// Frame source types.
const (
	SourceTypeFile   = "file"
	SourceTypeWebcam = "webcam"
	SourceTypeRTSP   = "rtsp"
)

// SourceSettings describes the frame source to acquire from.
type SourceSettings struct {
	Type         string        // "file", "webcam" or "rtsp"
	Path         string        // video file path for type "file"
	Device       int           // capture device index for type "webcam"
	URL          string        // stream url for type "rtsp"
	MaxRetries   int           // transient read failures tolerated before giving up
	RetryBackoff time.Duration // initial backoff between read retries
	ReadTimeout  time.Duration // per-read timeout
}

// PreprocessorConfig describes one stage of the preprocessor chain.
type PreprocessorConfig struct {
	Type   string // "resize" or "grayscale"
	Width  int    // target width, 0 to derive from height
	Height int    // target height, 0 to derive from width
}

// DetectorConfig describes one node of the detector chain graph.
type DetectorConfig struct {
	Name          string  // unique node name
	Type          string  // detector kind, resolved through the registry
	Parent        string  // optional parent node name
	Threshold     float64 // minimum confidence score to report
	MaxDetections int     // retain top-N detections by score, 0 for unlimited
	ModelPath     string  // model file for detectors that load one
	Scale         float64 // optional input scale factor
	FrequencyMS   int     // minimum interval between evaluations, 0 for every frame
}

// WorkerSettings holds the resolved pool sizes.
type WorkerSettings struct {
	DetectWorkers int // number of detect worker consumers
	FrameWorkers  int // fixed at 1, see FrameWorkerCount
}

// ChannelSettings controls the bounded frame channel.
type ChannelSettings struct {
	Capacity       int           // buffered frame count
	PublishTimeout time.Duration // how long publish blocks before evicting the oldest frame
}

// SupervisorSettings controls worker lifecycle management.
type SupervisorSettings struct {
	GracePeriod       time.Duration // drain deadline for consumers on shutdown
	MaxRestarts       int           // worker crash replacement budget
	HeartbeatInterval time.Duration // stall detection check interval
}

// TimingSettings controls the optional timing instrumentation.
type TimingSettings struct {
	Enabled bool
	Storage string // "file", "metrics" or "none"
	Path    string // JSONL output path for the file backend
}

// TelemetrySettings controls the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool
	Listen  string // address and port
}

// Settings is the immutable configuration resolved once at startup.
type Settings struct {
	Debug bool

	Main struct {
		Name string    // node name, used to identify this instance
		Log  LogConfig // main application log
	}

	Source        SourceSettings
	Preprocessors []PreprocessorConfig
	Detectors     []DetectorConfig
	Workers       WorkerSettings
	Channel       ChannelSettings
	Supervisor    SupervisorSettings
	Timing        TimingSettings
	Telemetry     TelemetrySettings
}

// Load reads the configuration file and environment variables into a
// Settings value. The result is validated before being returned.
func Load() (*Settings, error) {
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return &settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	// Explicit config file wins over path discovery.
	if configFile := os.Getenv(EnvConfig); configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}

	configPaths, err := getDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file, run on defaults after writing a template.
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// getDefaultConfigPaths returns a list of default config paths for the current OS
func getDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return []string{
			".",
			filepath.Join(homeDir, "AppData", "Local", "cvkit-go"),
		}, nil
	default:
		return []string{
			filepath.Join(homeDir, ".config", "cvkit-go"),
			"/etc/cvkit-go",
			".",
		}, nil
	}
}
