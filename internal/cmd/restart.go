package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartAgent string

var restartCmd = &cobra.Command{
	Use:        "restart <branch>",
	Short:      "Stop a shard and reopen it in a fresh terminal",
	Args:       cobra.ExactArgs(1),
	RunE:       runRestart,
	Deprecated: "use 'stop' followed by 'open' instead",
}

func init() {
	rootCmd.AddCommand(restartCmd)
	restartCmd.Flags().StringVarP(&restartAgent, "agent", "a", "", "switch the shard to a different agent")
}

func runRestart(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	sess, err := app.mgr.Restart(args[0], restartAgent)
	if err != nil {
		return err
	}

	fmt.Printf("Restarted shard %s\n", sess.ID)
	return nil
}
