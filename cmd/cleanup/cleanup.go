// Package cleanup implements the orphaned-process cleanup command.
package cleanup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cvkitio/cvkit-go/internal/logging"
	"github.com/cvkitio/cvkit-go/internal/procman"
)

// Command creates the command that finds and terminates orphaned pipeline
// worker processes left behind by a previous run.
func Command() *cobra.Command {
	var (
		dryRun     bool
		force      bool
		all        bool
		minRuntime int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Find and kill orphaned pipeline worker processes",
		Long:  "Scan the process table for pipeline workers from previous runs and terminate them. Without --all the command asks for confirmation before signalling.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.ForService("cleanup")
			scanner := procman.NewScanner(procman.NewSystemLister(), log)
			ctx := context.Background()

			matched, err := scanner.Scan(ctx, procman.ScanOptions{
				MinRuntime: time.Duration(minRuntime) * time.Second,
			})
			if err != nil {
				return err
			}
			if len(matched) == 0 {
				fmt.Println("No orphaned pipeline processes found.")
				return nil
			}

			printProcessTable(matched)

			if dryRun {
				fmt.Println("Dry run mode, no processes killed.")
				return nil
			}
			if !all && !confirm(cmd.InOrStdin()) {
				fmt.Println("Cancelled.")
				return nil
			}

			// Signal exactly the processes that were listed above.
			report := scanner.Cleanup(matched, procman.CleanupOptions{DryRun: dryRun, Force: force})
			for pid, ferr := range report.Failed {
				fmt.Printf("failed to kill %d: %v\n", pid, ferr)
			}
			fmt.Printf("Killed %d of %d process(es).\n", len(report.Killed), len(report.Matched))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show processes without killing them")
	cmd.Flags().BoolVar(&force, "force", false, "Force kill processes (SIGKILL instead of SIGTERM)")
	cmd.Flags().BoolVar(&all, "all", false, "Kill all found processes without prompting")
	cmd.Flags().IntVar(&minRuntime, "min-runtime", 0, "Only consider processes running longer than N seconds")

	return cmd
}

func printProcessTable(procs []procman.ProcessInfo) {
	now := time.Now()
	fmt.Printf("\nFound %d pipeline process(es):\n\n", len(procs))
	fmt.Printf("%-8s %-8s %-12s %s\n", "PID", "PPID", "RUNTIME", "COMMAND")
	fmt.Println(strings.Repeat("-", 80))
	for _, p := range procs {
		cmdline := p.Cmdline
		if len(cmdline) > 50 {
			cmdline = cmdline[:47] + "..."
		}
		fmt.Printf("%-8d %-8d %-12s %s\n",
			p.PID, p.PPID, procman.FormatRuntime(p.Runtime(now)), cmdline)
	}
	fmt.Println()
}

func confirm(in io.Reader) bool {
	fmt.Print("Kill all listed processes? [y/N] ")
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
