// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"workers.detectworkers", EnvWorkers, validateEnvPositiveInt},
		{"timing.enabled", EnvTimingEnabled, validateEnvBool},
		{"timing.storage", EnvTimingStorage, validateEnvTimingStorage},
		{"timing.path", EnvTimingFile, nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			return fmt.Errorf("failed to bind %s: %w", binding.EnvVar, err)
		}

		if binding.Validate == nil {
			continue
		}
		if value := viper.GetString(binding.ConfigKey); value != "" {
			if err := binding.Validate(value); err != nil {
				return fmt.Errorf("invalid value for %s: %w", binding.EnvVar, err)
			}
		}
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected an integer, got %q", value)
	}
	if n < 1 {
		return fmt.Errorf("expected a positive integer, got %d", n)
	}
	return nil
}

func validateEnvBool(value string) error {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on", "false", "0", "no", "off":
		return nil
	}
	return fmt.Errorf("expected a boolean, got %q", value)
}

func validateEnvTimingStorage(value string) error {
	switch strings.ToLower(value) {
	case "file", "metrics", "none":
		return nil
	}
	return fmt.Errorf("unknown timing storage %q", value)
}
