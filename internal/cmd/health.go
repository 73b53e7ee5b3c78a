package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardflow/shardflow/internal/health"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health [branch]",
	Short: "Classify shard agents as working, idle, crashed, or unknown",
	Long: `Health compares each shard's recorded state with the live process
table. An Active shard whose agent process has exited reports crashed; the
record itself is never modified by observation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "output machine-readable JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	branch := ""
	if len(args) == 1 {
		branch = args[0]
	}

	reports, err := app.mgr.Health(branch)
	if err != nil {
		return err
	}
	summary := health.Aggregate(reports)

	if healthJSON {
		return printJSON(struct {
			Shards  []health.Report `json:"shards"`
			Summary health.Summary  `json:"summary"`
		}{reports, summary})
	}

	if len(reports) == 0 {
		fmt.Println("No shards.")
		return nil
	}

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{r.ShardID, renderHealth(r.State)})
	}
	fmt.Print(table([]string{"SHARD", "HEALTH"}, rows))
	fmt.Printf("\n%d working, %d idle, %d crashed, %d unknown\n",
		summary.Working, summary.Idle, summary.Crashed, summary.Unknown)
	return nil
}
