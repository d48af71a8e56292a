package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/sym"
)

// TaskCmd completes the wait states people and outside systems resolve
var TaskCmd = &cobra.Command{
	Use:   "task",
	Short: sym.Engine + " List and complete user and external tasks",
	Long: sym.Engine + ` task — user tasks, external tasks and messages

Examples:
  pulseflow task ls
  pulseflow task complete <task-id> --var approved=true
  pulseflow task external labels            # External tasks on topic "labels"
  pulseflow task complete-external <id>
  pulseflow task message payment-received --instance <id>`,
}

var taskListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List open user tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, _ := cmd.Flags().GetString("instance")
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		tasks, err := rt.engine.Tasks(cmd.Context(), instance)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			pterm.Info.Println("No open tasks")
			return nil
		}
		rows := pterm.TableData{{"ID", "Name", "Activity", "Process Instance", "Created"}}
		for _, t := range tasks {
			rows = append(rows, []string{t.ID, t.Name, t.ActivityID, t.ProcessInstanceID, t.CreatedAt.Format(timeLayout)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var taskExternalCmd = &cobra.Command{
	Use:   "external [topic]",
	Short: "List open external tasks, optionally of one topic",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := ""
		if len(args) == 1 {
			topic = args[0]
		}
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		tasks, err := rt.engine.ExternalTasks(cmd.Context(), topic)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			pterm.Info.Println("No open external tasks")
			return nil
		}
		rows := pterm.TableData{{"ID", "Topic", "Activity", "Process Instance", "Created"}}
		for _, t := range tasks {
			rows = append(rows, []string{t.ID, t.Topic, t.ActivityID, t.ProcessInstanceID, t.CreatedAt.Format(timeLayout)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Complete a user task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVars(cmd, func(rt *runtime, vars map[string]any) error {
			if err := rt.engine.CompleteTask(cmd.Context(), args[0], vars); err != nil {
				return err
			}
			pterm.Success.Printf("Completed task %s\n", args[0])
			return nil
		})
	},
}

var taskCompleteExternalCmd = &cobra.Command{
	Use:   "complete-external <external-task-id>",
	Short: "Report an external task done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVars(cmd, func(rt *runtime, vars map[string]any) error {
			if err := rt.engine.CompleteExternalTask(cmd.Context(), args[0], vars); err != nil {
				return err
			}
			pterm.Success.Printf("Completed external task %s\n", args[0])
			return nil
		})
	},
}

var taskMessageCmd = &cobra.Command{
	Use:   "message <name>",
	Short: "Correlate a message to the oldest waiting receive task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, _ := cmd.Flags().GetString("instance")
		return withVars(cmd, func(rt *runtime, vars map[string]any) error {
			if err := rt.engine.CorrelateMessage(cmd.Context(), args[0], instance, vars); err != nil {
				return err
			}
			pterm.Success.Printf("Message %s correlated\n", args[0])
			return nil
		})
	},
}

const timeLayout = "2006-01-02 15:04:05"

func init() {
	taskListCmd.Flags().String("instance", "", "Only tasks of this process instance")
	taskMessageCmd.Flags().String("instance", "", "Only correlate within this process instance")
	for _, c := range []*cobra.Command{taskCompleteCmd, taskCompleteExternalCmd, taskMessageCmd} {
		c.Flags().StringArray("var", nil, "Process variable as key=value (repeatable)")
	}

	TaskCmd.AddCommand(taskListCmd)
	TaskCmd.AddCommand(taskExternalCmd)
	TaskCmd.AddCommand(taskCompleteCmd)
	TaskCmd.AddCommand(taskCompleteExternalCmd)
	TaskCmd.AddCommand(taskMessageCmd)
}

// withVars parses --var flags and runs fn against an open runtime
func withVars(cmd *cobra.Command, fn func(rt *runtime, vars map[string]any) error) error {
	pairs, _ := cmd.Flags().GetStringArray("var")
	vars, err := parseVars(pairs)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt, vars)
}
