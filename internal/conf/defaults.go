// conf/defaults.go default values for settings
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "cvkit-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "cvkit.log")
	viper.SetDefault("main.log.maxsize", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)

	viper.SetDefault("source.type", "webcam")
	viper.SetDefault("source.device", 0)
	viper.SetDefault("source.maxretries", 5)
	viper.SetDefault("source.retrybackoff", 250*time.Millisecond)
	viper.SetDefault("source.readtimeout", 5*time.Second)

	viper.SetDefault("workers.detectworkers", DefaultDetectWorkers)
	viper.SetDefault("workers.frameworkers", FrameWorkerCount)

	viper.SetDefault("channel.capacity", 16)
	viper.SetDefault("channel.publishtimeout", 100*time.Millisecond)

	viper.SetDefault("supervisor.graceperiod", 10*time.Second)
	viper.SetDefault("supervisor.maxrestarts", 3)
	viper.SetDefault("supervisor.heartbeatinterval", 5*time.Second)

	viper.SetDefault("timing.enabled", false)
	viper.SetDefault("timing.storage", "file")
	viper.SetDefault("timing.path", "logs/timing_measurements.jsonl")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")
}

// defaultConfigTemplate is the config written on first run. It mirrors the
// viper defaults plus a commented example of the detector hierarchy.
func defaultConfigTemplate() map[string]any {
	return map[string]any{
		"debug": false,
		"main": map[string]any{
			"name": "cvkit-go",
			"log": map[string]any{
				"enabled": true,
				"path":    "cvkit.log",
			},
		},
		"source": map[string]any{
			"type":   "webcam",
			"device": 0,
		},
		"preprocessors": []map[string]any{
			{"type": "resize", "width": 640},
			{"type": "grayscale"},
		},
		"detectors": []map[string]any{
			{
				"name":          "face",
				"type":          "face",
				"threshold":     0.6,
				"maxdetections": 10,
			},
		},
		"workers": map[string]any{
			"detectworkers": DefaultDetectWorkers,
		},
		"channel": map[string]any{
			"capacity":       16,
			"publishtimeout": "100ms",
		},
	}
}

// createDefaultConfig writes a default config file to the first default
// config path so the next run picks it up.
func createDefaultConfig() error {
	configPaths, err := getDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	data, err := yaml.Marshal(defaultConfigTemplate())
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file:", configPath)
	return nil
}
