package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/am"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/process"
	"github.com/teranos/pulseflow/sym"
)

// PulseCmd represents the pulse command - the job worker pool
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the async continuation worker pool",
	Long: sym.Pulse + ` Pulse runs the jobs that carry process instances across
async boundaries.

Workers acquire due jobs by locking them, resume the parked execution and
delete the job on success. A failed job is retried on the resolved retry
cycle; once its retries reach zero an incident is raised.

Examples:
  pulseflow pulse start               # Run workers in the foreground
  pulseflow pulse start --workers 3   # Run with 3 concurrent workers
  pulseflow pulse drain               # Run every due job once and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the worker pool and the definitions watcher
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker pool",
	Long: `Start the worker pool in foreground mode.

The daemon will:
- Deploy every definition in the definitions directory and watch it for changes
- Release job locks left by an unclean shutdown of this node
- Acquire and execute due jobs until interrupted (Ctrl+C)`,
	RunE: runPulseStart,
}

var pulseDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run every due job on this process and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ran, err := rt.engine.RunDueJobs(cmd.Context())
		if err != nil {
			return err
		}
		pterm.Success.Printf("%s Ran %d job(s)\n", sym.Pulse, ran)
		return nil
	},
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of concurrent workers (default from pulse.workers)")
	PulseStartCmd.Flags().String("definitions", "", "Definitions directory (default from engine.definitions_dir)")
	pulseDrainCmd.Flags().String("definitions", "", "Definitions directory (default from engine.definitions_dir)")

	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(pulseDrainCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")
	rt, err := openRuntime(cmd, func(cfg *am.Config) {
		if workers > 0 {
			cfg.Pulse.Workers = workers
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := definitionsDir(cmd, rt.cfg)
	var watcher *process.DirectoryWatcher
	if _, err := os.Stat(dir); err == nil {
		watcher, err = process.NewDirectoryWatcher(dir, rt.registry, logger.ComponentLogger("definitions"))
		if err != nil {
			return err
		}
		watcher.Start()
		defer watcher.Stop()
	}

	if err := rt.engine.Start(); err != nil {
		return err
	}

	pool := rt.engine.Pool()
	pterm.Success.Printf("%s Pulse started\n", sym.Pulse)
	pterm.Printf("  Workers:       %d\n", pool.Workers())
	pterm.Printf("  Poll interval: %v\n", rt.cfg.Pulse.PollInterval())
	pterm.Printf("  Lock owner:    %s\n", pool.Acquirer().Owner())
	pterm.Printf("  Definitions:   %d deployed", len(rt.registry.List()))
	if watcher != nil {
		pterm.Printf(", watching %s", dir)
	}
	pterm.Println()
	if cycle := rt.cfg.Engine.FailedJobRetryTimeCycle; cycle != "" {
		pterm.Printf("  Retry cycle:   %s\n", cycle)
	}
	pterm.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Printf("%s Shutting down, waiting for running jobs...\n", sym.PulseClose)
	return nil
}
