package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/cmd/pulseflow/commands"
	"github.com/teranos/pulseflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pulseflow",
	Short: "pulseflow - process orchestration runtime",
	Long: `pulseflow runs process definitions as execution trees backed by SQLite.

Tokens move through activities until they wait on a person, a message, an
external worker or an async continuation job. Failed jobs are retried on a
configurable cycle and raise an incident once their retries are exhausted.

Available commands:
  am       - Show and validate configuration ("I am")
  db       - Migrate the database and show row counts
  pulse    - Run the job worker pool
  instance - Start, inspect and delete process instances
  task     - Complete user tasks, external tasks and messages
  job      - List jobs and override retries
  incident - List incidents

Examples:
  pulseflow am show                           # Show current configuration
  pulseflow instance start order --var total=59.5
  pulseflow instance tree <id>                # Show an execution tree
  pulseflow pulse start                       # Run workers until Ctrl+C
  pulseflow job set-retries <job-id> 2        # Resolve an incident`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' prints configuration only
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides database.path)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.InstanceCmd)
	rootCmd.AddCommand(commands.TaskCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.IncidentCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
