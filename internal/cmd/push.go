package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pushForce bool

var pushCmd = &cobra.Command{
	Use:   "push <branch>",
	Short: "Push a shard's branch to origin",
	Long: `Push publishes the shard's branch to origin, setting the upstream on
first push. With --force the push uses --force-with-lease, so a rewritten
history never overwrites commits pushed from another machine.`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().BoolVarP(&pushForce, "force", "f", false, "force push with a lease")
}

func runPush(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	sess, err := app.mgr.Push(args[0], pushForce)
	if err != nil {
		return err
	}

	fmt.Printf("Pushed %s to origin\n", sess.Branch)
	return nil
}
