package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all shards",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output machine-readable JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	sessions, err := app.mgr.List()
	if err != nil {
		return err
	}

	if listJSON {
		return printJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No shards.")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		ports := fmt.Sprintf("%d-%d", s.PortRangeStart, s.PortRangeEnd)
		proc := render(dimStyle, "-")
		if id := s.Identity(); id != nil {
			proc = fmt.Sprintf("%s[%d]", id.Name, id.PID)
		}
		rows = append(rows, []string{
			s.ID,
			s.Branch,
			renderStatus(s.Status),
			ports,
			proc,
			humanAge(s.CreatedAt),
		})
	}
	fmt.Print(table([]string{"ID", "BRANCH", "STATUS", "PORTS", "PROCESS", "CREATED"}, rows))

	if app.cfg.Cleanup.WarnOnStale {
		if candidates, err := newReconciler(app, false, "").Scan(); err == nil && len(candidates) > 0 {
			fmt.Println(render(dimStyle, staleWarning(len(candidates))))
		}
	}
	return nil
}

// staleWarning is the hint list prints when cleanup has pending candidates.
func staleWarning(n int) string {
	return fmt.Sprintf("%d shard(s) look stale; run 'shardflow cleanup' to review", n)
}
