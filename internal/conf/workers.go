package conf

import (
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// ResolveDetectWorkers resolves the detect worker pool size. Precedence:
// command line flag > CVKIT_WORKERS environment variable > config file >
// default. Invalid or non-positive candidates fall through to the next
// source.
func ResolveDetectWorkers(flagValue int, flagChanged bool) int {
	if flagChanged && flagValue >= 1 {
		return flagValue
	}

	if env := os.Getenv(EnvWorkers); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n >= 1 {
			return n
		}
	}

	if n := viper.GetInt("workers.detectworkers"); n >= 1 {
		return n
	}

	return DefaultDetectWorkers
}

// ResolveWorkers fills in the WorkerSettings of s from the layered
// configuration sources. The frame worker count is pinned to 1 regardless
// of configuration.
func (s *Settings) ResolveWorkers(flagValue int, flagChanged bool) {
	s.Workers.DetectWorkers = ResolveDetectWorkers(flagValue, flagChanged)
	s.Workers.FrameWorkers = FrameWorkerCount
}
