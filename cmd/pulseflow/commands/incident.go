package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/sym"
)

// IncidentCmd lists incidents raised by exhausted jobs
var IncidentCmd = &cobra.Command{
	Use:   "incident",
	Short: sym.Pulse + " List incidents",
}

var incidentListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List incidents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, _ := cmd.Flags().GetString("instance")
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		incidents, err := rt.engine.Incidents(cmd.Context(), instance, limit)
		if err != nil {
			return err
		}
		if len(incidents) == 0 {
			pterm.Success.Println("No open incidents")
			return nil
		}
		rows := pterm.TableData{{"ID", "Type", "Job", "Activity", "Process Instance", "Created", "Message"}}
		for _, inc := range incidents {
			rows = append(rows, []string{
				inc.ID, inc.Type, inc.JobID, inc.ActivityID, inc.ProcessInstanceID,
				inc.CreatedAt.Local().Format(timeLayout), truncate(inc.Message, 60),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	incidentListCmd.Flags().String("instance", "", "Only incidents of this process instance")
	incidentListCmd.Flags().Int("limit", 50, "Maximum number of incidents to list")
	IncidentCmd.AddCommand(incidentListCmd)
}
