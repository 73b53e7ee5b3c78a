package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardflow/shardflow/internal/session"
	"github.com/shardflow/shardflow/internal/shard"
)

var (
	createAgent     string
	createCommand   string
	createTerminal  string
	createPortCount int
	createNote      string
	createBase      string
)

var createCmd = &cobra.Command{
	Use:   "create <branch>",
	Short: "Create a new shard: worktree, ports, and an agent terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&createAgent, "agent", "a", "", "agent binary to run (default from config)")
	createCmd.Flags().StringVar(&createCommand, "command", "", "full command line (default: the agent name)")
	createCmd.Flags().StringVarP(&createTerminal, "terminal", "t", "", "terminal backend: iterm, ghostty, terminal_app, native")
	createCmd.Flags().IntVarP(&createPortCount, "ports", "p", 0, "ports to reserve (default from config)")
	createCmd.Flags().StringVarP(&createNote, "note", "n", "", "free-form note stored on the shard")
	createCmd.Flags().StringVar(&createBase, "base", "", "base branch to start from (default: HEAD)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	term, err := session.ParseTerminalType(createTerminal)
	if err != nil {
		return err
	}

	sess, err := app.mgr.Create(args[0], shard.CreateOptions{
		Agent:      createAgent,
		Command:    createCommand,
		Terminal:   term,
		PortCount:  createPortCount,
		Note:       createNote,
		BaseBranch: createBase,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created shard %s\n", sess.ID)
	fmt.Printf("  branch:   %s\n", sess.Branch)
	fmt.Printf("  worktree: %s\n", sess.WorktreePath)
	fmt.Printf("  ports:    %d-%d\n", sess.PortRangeStart, sess.PortRangeEnd)
	if sess.TerminalType != nil {
		fmt.Printf("  terminal: %s\n", *sess.TerminalType)
	}
	if id := sess.Identity(); id != nil {
		fmt.Printf("  process:  %s\n", id)
	} else {
		fmt.Println("  process:  not tracked (agent did not appear within timeout)")
	}
	return nil
}
