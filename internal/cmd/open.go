package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardflow/shardflow/internal/session"
)

var (
	openAgent    string
	openTerminal string
)

var openCmd = &cobra.Command{
	Use:   "open <branch>",
	Short: "Open another agent terminal in an existing shard",
	Long: `Open spawns a fresh terminal window in the shard's worktree without
closing any existing windows, and points the shard's process tracking at the
new agent.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().StringVarP(&openAgent, "agent", "a", "", "switch the shard to a different agent")
	openCmd.Flags().StringVarP(&openTerminal, "terminal", "t", "", "terminal backend: iterm, ghostty, terminal_app, native")
}

func runOpen(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	term, err := session.ParseTerminalType(openTerminal)
	if err != nil {
		return err
	}

	sess, err := app.mgr.Open(args[0], openAgent, term)
	if err != nil {
		return err
	}

	fmt.Printf("Opened shard %s in %s\n", sess.ID, *sess.TerminalType)
	return nil
}
