package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <branch>",
	Short: "Stop a shard's agent, keeping its worktree and record",
	Long: `Stop closes the shard's terminal window (best effort) and kills the
tracked agent process after verifying it is still the same process that was
started. The worktree, branch, and shard record all survive; use open to
resume work.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	sess, err := app.mgr.Stop(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Stopped shard %s\n", sess.ID)
	return nil
}
