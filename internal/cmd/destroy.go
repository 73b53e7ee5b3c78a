package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy <branch>",
	Short: "Stop a shard and remove its worktree, branch, and record",
	Long: `Destroy tears the shard down completely and releases its port range.
Uncommitted changes in the worktree abort the operation unless --force is
given; --force never bypasses the process identity check before killing.`,
	Args: cobra.ExactArgs(1),
	RunE: runDestroy,
}

func init() {
	rootCmd.AddCommand(destroyCmd)
	destroyCmd.Flags().BoolVarP(&destroyForce, "force", "f", false, "discard uncommitted changes in the worktree")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.mgr.Destroy(args[0], destroyForce); err != nil {
		return err
	}

	fmt.Printf("Destroyed shard for branch %s\n", args[0])
	return nil
}
