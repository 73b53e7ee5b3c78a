package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <branch>",
	Short: "Show one shard's record, health, and resource usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output machine-readable JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.mgr.Status(args[0])
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(report)
	}

	s := report.Session
	fmt.Printf("%s\n", render(headerStyle, s.ID))
	fmt.Printf("  branch:   %s\n", s.Branch)
	fmt.Printf("  worktree: %s\n", s.WorktreePath)
	fmt.Printf("  agent:    %s\n", s.Agent)
	fmt.Printf("  status:   %s\n", renderStatus(s.Status))
	fmt.Printf("  health:   %s\n", renderHealth(report.Health))
	fmt.Printf("  ports:    %d-%d\n", s.PortRangeStart, s.PortRangeEnd)
	if id := s.Identity(); id != nil {
		fmt.Printf("  process:  %s\n", id)
	}
	if m := report.Metrics; m != nil {
		fmt.Printf("  cpu:      %.1f%%\n", m.CPUPercent)
		fmt.Printf("  memory:   %.1f MB\n", float64(m.MemoryBytes)/(1<<20))
	}
	if s.LastActivity != nil {
		fmt.Printf("  activity: %s\n", humanAge(*s.LastActivity))
	}
	if s.Note != nil {
		fmt.Printf("  note:     %s\n", *s.Note)
	}
	return nil
}
