package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/pulse/async"
	"github.com/teranos/pulseflow/sym"
)

// JobCmd lists continuation jobs and overrides their retries
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Pulse + " List jobs and override retries",
	Long: sym.Pulse + ` job — async continuation jobs

Setting retries above zero on an exhausted job resolves its incidents and
makes it acquirable again. The retry interval sequence continues where it
stopped.

Examples:
  pulseflow job ls
  pulseflow job ls --status exhausted
  pulseflow job ls --instance <id>
  pulseflow job set-retries <job-id> 2`,
}

var jobListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, _ := cmd.Flags().GetString("instance")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		var jobs []*async.Job
		if instance != "" {
			jobs, err = rt.engine.Jobs(cmd.Context(), instance)
		} else {
			var filter *async.JobStatus
			if status != "" {
				s := async.JobStatus(status)
				filter = &s
			}
			jobs, err = rt.engine.Queue().Store().ListJobs(cmd.Context(), filter, limit)
		}
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			pterm.Info.Println("No jobs")
			return nil
		}

		rows := pterm.TableData{{"ID", "Status", "Retries", "Attempt", "Due", "Activity", "Process Instance", "Error"}}
		for _, j := range jobs {
			due := "-"
			if j.Duedate != nil {
				due = j.Duedate.Local().Format(timeLayout)
			}
			rows = append(rows, []string{
				j.ID, string(j.Status), strconv.Itoa(j.Retries), strconv.Itoa(j.RetryAttempt),
				due, j.ActivityID, j.ProcessInstanceID, truncate(j.ExceptionMessage, 60),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var jobSetRetriesCmd = &cobra.Command{
	Use:   "set-retries <job-id> <retries>",
	Short: "Override the remaining retries of a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		retries, err := strconv.Atoi(args[1])
		if err != nil || retries < 0 {
			return fmt.Errorf("retries must be a non-negative integer, got %q", args[1])
		}

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.engine.SetJobRetries(cmd.Context(), args[0], retries); err != nil {
			return err
		}
		pterm.Success.Printf("Job %s now has %d retries\n", args[0], retries)
		return nil
	},
}

func init() {
	jobListCmd.Flags().String("instance", "", "Only jobs of this process instance")
	jobListCmd.Flags().String("status", "", "Filter by status: queued, locked, failed, exhausted")
	jobListCmd.Flags().Int("limit", 50, "Maximum number of jobs to list")

	JobCmd.AddCommand(jobListCmd)
	JobCmd.AddCommand(jobSetRetriesCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
