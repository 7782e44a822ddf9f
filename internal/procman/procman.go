// Package procman finds and terminates orphaned pipeline worker processes.
// Matching is by role markers left in the process environment or by the
// command line, never by executable name alone.
package procman

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
)

// ProcessInfo describes one matched process.
type ProcessInfo struct {
	PID       int32
	PPID      int32
	Cmdline   string
	Role      string // value of the role marker, empty for cmdline matches
	StartedAt time.Time
}

// Runtime returns how long the process has been running as of now.
func (p ProcessInfo) Runtime(now time.Time) time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(p.StartedAt)
}

// Lister enumerates candidate processes and delivers signals to them.
// The production implementation uses gopsutil; tests substitute a fake.
type Lister interface {
	List(ctx context.Context) ([]ProcessInfo, error)
	Terminate(pid int32) error
	Kill(pid int32) error
}

// ScanOptions filters the scan result.
type ScanOptions struct {
	MinRuntime time.Duration // only report processes alive at least this long
}

// CleanupOptions controls the cleanup pass.
type CleanupOptions struct {
	DryRun bool // report matches without signalling
	Force  bool // SIGKILL instead of SIGTERM
}

// CleanupReport accounts for every matched process: each one is either
// signalled or listed with the error that prevented it.
type CleanupReport struct {
	Matched []ProcessInfo
	Killed  []int32
	Failed  map[int32]error
}

// Scanner matches pipeline worker processes among everything the lister
// reports, excluding the scanner's own process.
type Scanner struct {
	lister  Lister
	log     *slog.Logger
	selfPID int32
	now     func() time.Time
}

// NewScanner builds a scanner over the given lister.
func NewScanner(lister Lister, log *slog.Logger) *Scanner {
	return &Scanner{
		lister:  lister,
		log:     log,
		selfPID: int32(os.Getpid()),
		now:     time.Now,
	}
}

// matches reports whether a process belongs to the pipeline. A role marker
// in the environment is authoritative; otherwise the command line must name
// the binary and a pipeline subcommand.
func matches(p ProcessInfo) bool {
	if p.Role != "" {
		return true
	}
	cmd := strings.ToLower(p.Cmdline)
	if !strings.Contains(cmd, "cvkit") {
		return false
	}
	for _, sub := range []string{" run", " file", " realtime"} {
		if strings.Contains(cmd, sub) {
			return true
		}
	}
	return false
}

// Scan returns all matching processes, oldest first.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) ([]ProcessInfo, error) {
	procs, err := s.lister.List(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("procman").
			Category(errors.CategoryCleanup).
			Build()
	}

	now := s.now()
	var matched []ProcessInfo
	for _, p := range procs {
		if p.PID == s.selfPID {
			continue
		}
		if !matches(p) {
			continue
		}
		if opts.MinRuntime > 0 && p.Runtime(now) < opts.MinRuntime {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})
	return matched, nil
}

// Cleanup signals every process in matched, unless DryRun is set. It acts
// on the list it is given rather than rescanning, so what the caller showed
// is exactly what gets signalled. Every entry shows up in the report exactly
// once, signalled or failed.
func (s *Scanner) Cleanup(matched []ProcessInfo, opts CleanupOptions) *CleanupReport {
	report := &CleanupReport{
		Matched: matched,
		Failed:  make(map[int32]error),
	}

	now := s.now()
	for _, p := range matched {
		s.log.Info("found orphaned worker process",
			"pid", p.PID, "ppid", p.PPID,
			"runtime", FormatRuntime(p.Runtime(now)),
			"role", p.Role, "cmdline", truncate(p.Cmdline, 80))
	}

	if opts.DryRun {
		s.log.Info("dry run, no processes signalled", "matched", len(matched))
		return report
	}

	for _, p := range matched {
		var sigErr error
		if opts.Force {
			sigErr = s.lister.Kill(p.PID)
		} else {
			sigErr = s.lister.Terminate(p.PID)
		}
		if sigErr != nil {
			report.Failed[p.PID] = sigErr
			s.log.Error("failed to signal process", "pid", p.PID, "error", sigErr)
			continue
		}
		report.Killed = append(report.Killed, p.PID)
		s.log.Info("signalled process", "pid", p.PID, "force", opts.Force)
	}
	return report
}

// FormatRuntime renders a duration as "1h 2m 3s", dropping leading zero
// components.
func FormatRuntime(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// roleFromEnviron extracts the role marker from an environment block.
func roleFromEnviron(environ []string) string {
	prefix := conf.EnvProcRole + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix)
		}
	}
	return ""
}
