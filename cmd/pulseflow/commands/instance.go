package commands

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/sym"
)

// InstanceCmd groups process instance operations
var InstanceCmd = &cobra.Command{
	Use:   "instance",
	Short: sym.Engine + " Start, inspect and delete process instances",
	Long: sym.Engine + ` instance — process instances

Examples:
  pulseflow instance start order --var total=59.5 --business-key A-1001
  pulseflow instance start order:^1.2       # Latest 1.x version from 1.2
  pulseflow instance ls
  pulseflow instance tree <id>
  pulseflow instance vars <id>
  pulseflow instance rm <id>`,
}

var instanceStartCmd = &cobra.Command{
	Use:   "start <definition>",
	Short: "Start a process instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("var")
		vars, err := parseVars(pairs)
		if err != nil {
			return err
		}
		businessKey, _ := cmd.Flags().GetString("business-key")

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		id, err := rt.engine.StartProcessInstance(cmd.Context(), args[0], businessKey, vars)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Started process instance %s\n", id)
		return printTree(rt, cmd, id)
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List running process instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		instances, err := rt.engine.ProcessInstances(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			pterm.Info.Println("No running process instances")
			return nil
		}
		rows := pterm.TableData{{"ID", "Definition", "Business Key", "Activity", "Wait", "Seq"}}
		for _, pi := range instances {
			rows = append(rows, []string{
				pi.ID, pi.ProcessDefinitionID, pi.BusinessKey, pi.ActivityID,
				string(pi.WaitState), fmt.Sprintf("%d", pi.SequenceCounter),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var instanceTreeCmd = &cobra.Command{
	Use:   "tree <process-instance-id>",
	Short: "Show the execution tree of a process instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return printTree(rt, cmd, args[0])
	},
}

var instanceVarsCmd = &cobra.Command{
	Use:   "vars <process-instance-id>",
	Short: "Show the variables of a process instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		vars, err := rt.engine.GetVariables(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rows := pterm.TableData{{"Name", "Value"}}
		for _, name := range slices.Sorted(maps.Keys(vars)) {
			rows = append(rows, []string{name, fmt.Sprintf("%v", vars[name])})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var instanceRmCmd = &cobra.Command{
	Use:   "rm <process-instance-id>",
	Short: "Delete a process instance with its jobs, incidents and tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.engine.DeleteProcessInstance(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("Deleted process instance %s\n", args[0])
		return nil
	},
}

func init() {
	instanceStartCmd.Flags().StringArray("var", nil, "Process variable as key=value (repeatable)")
	instanceStartCmd.Flags().String("business-key", "", "Business key of the new instance")
	instanceListCmd.Flags().Int("limit", 50, "Maximum number of instances to list")

	InstanceCmd.AddCommand(instanceStartCmd)
	InstanceCmd.AddCommand(instanceListCmd)
	InstanceCmd.AddCommand(instanceTreeCmd)
	InstanceCmd.AddCommand(instanceVarsCmd)
	InstanceCmd.AddCommand(instanceRmCmd)
}

func printTree(rt *runtime, cmd *cobra.Command, processInstanceID string) error {
	tree, err := rt.engine.ProcessInstanceTree(cmd.Context(), processInstanceID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			pterm.Info.Printf("Process instance %s has ended\n", processInstanceID)
			return nil
		}
		return err
	}
	return pterm.DefaultTree.WithRoot(pterm.TreeNode{Children: []pterm.TreeNode{treeNode(tree)}}).Render()
}

func treeNode(n *execution.TreeNode) pterm.TreeNode {
	node := pterm.TreeNode{Text: describeExecution(n.Execution)}
	for _, child := range n.Children {
		node.Children = append(node.Children, treeNode(child))
	}
	return node
}

// describeExecution renders one line per execution:
// id activity [flags] wait=state seq=n related=bits
func describeExecution(e execution.Execution) string {
	var b strings.Builder
	b.WriteString(e.ID)
	if e.ActivityID != "" {
		b.WriteString(" @ " + e.ActivityID)
	}

	var flags []string
	if e.IsProcessInstance() {
		flags = append(flags, "instance")
	}
	if e.IsScope && !e.IsProcessInstance() {
		flags = append(flags, "scope")
	}
	if e.IsConcurrent {
		flags = append(flags, "concurrent")
	}
	if e.IsActive {
		flags = append(flags, "active")
	}
	if len(flags) > 0 {
		b.WriteString(" [" + strings.Join(flags, ",") + "]")
	}
	if e.WaitState != execution.WaitNone {
		b.WriteString(" wait=" + string(e.WaitState))
	}
	fmt.Fprintf(&b, " seq=%d", e.SequenceCounter)
	if e.CachedEntityState != 0 {
		b.WriteString(" related=" + e.CachedEntityState.String())
	}
	return b.String()
}
