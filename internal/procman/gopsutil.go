package procman

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemLister enumerates live processes through gopsutil.
type SystemLister struct{}

// NewSystemLister returns a lister over the host's process table.
func NewSystemLister() *SystemLister {
	return &SystemLister{}
}

// List walks the process table. Processes that disappear or deny access
// mid-walk are skipped, matching the best-effort nature of the scan.
func (l *SystemLister) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}

		info := ProcessInfo{PID: p.Pid, Cmdline: cmdline}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			info.PPID = ppid
		}
		if createMS, err := p.CreateTimeWithContext(ctx); err == nil {
			info.StartedAt = time.UnixMilli(createMS)
		}
		// Environ needs elevated access for foreign processes; a failure
		// just means no role marker is visible.
		if environ, err := p.EnvironWithContext(ctx); err == nil {
			info.Role = roleFromEnviron(environ)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Terminate sends SIGTERM.
func (l *SystemLister) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Terminate()
}

// Kill sends SIGKILL.
func (l *SystemLister) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
