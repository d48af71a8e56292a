package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseflow/am"
	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/pulse/async"
	"github.com/teranos/pulseflow/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the pulseflow database",
	Long: sym.DB + ` db — Manage the pulseflow database

Examples:
  pulseflow db migrate            # Apply pending migrations
  pulseflow db stats              # Row counts per table and job status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		database, err := openDatabase(cmd, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		status, err := db.MigrationStatus(cmd.Context(), database)
		if err != nil {
			return err
		}
		rows := pterm.TableData{{"Version", "Migration", "Applied"}}
		for _, m := range status {
			applied := "pending"
			if m.AppliedAt != nil {
				applied = m.AppliedAt.Format(timeLayout)
			}
			rows = append(rows, []string{m.Version, m.Name, applied})
		}
		pterm.Success.Printf("Database ready at %s\n", cfg.GetDatabasePath())
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts and job queue statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	counts, err := db.Stats(cmd.Context(), database)
	if err != nil {
		return err
	}
	stats, err := async.NewQueue(database).GetStats(cmd.Context())
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printf("%s Database Statistics", sym.DB)
	pterm.Printf("Database Path: %s\n\n", cfg.GetDatabasePath())

	rows := pterm.TableData{{"Table", "Rows"}}
	for _, c := range counts {
		rows = append(rows, []string{c.Table, fmt.Sprintf("%d", c.Rows)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	pterm.Println()
	jobs := pterm.TableData{
		{"Queued", "Locked", "Failed", "Exhausted", "Total"},
		{
			fmt.Sprintf("%d", stats.Queued),
			fmt.Sprintf("%d", stats.Locked),
			fmt.Sprintf("%d", stats.Failed),
			fmt.Sprintf("%d", stats.Exhausted),
			fmt.Sprintf("%d", stats.Total),
		},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(jobs).Render()
}
