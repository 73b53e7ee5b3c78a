package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete <branch>",
	Short: "Destroy a finished shard, cleaning up its remote branch if merged",
	Long: `Complete is destroy for shards whose work has landed. When the gh CLI
reports the branch's pull request as merged, the remote branch is deleted
too (unless cleanup.keep_remote_branches is set). The merged check is best
effort; without gh, complete behaves exactly like destroy.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func init() {
	rootCmd.AddCommand(completeCmd)
}

func runComplete(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.mgr.Complete(args[0]); err != nil {
		return err
	}

	fmt.Printf("Completed shard for branch %s\n", args[0])
	return nil
}
