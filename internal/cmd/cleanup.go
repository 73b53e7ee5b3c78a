package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardflow/shardflow/internal/cleanup"
)

var (
	cleanupDryRun   bool
	cleanupForce    bool
	cleanupYes      bool
	cleanupStrategy string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove shards whose resources have decayed",
	Long: `Cleanup scans every shard record and flags the ones that have rotted:

- orphaned worktree: the worktree directory no longer exists
- dead process: an Active shard whose agent exited or whose pid was reused
- no identity: an Active shard that never resolved a process to track
- age-based: Stopped shards past cleanup.max_age_days

The scan is read-only. Flagged shards are then removed one at a time, so a
failure on one never blocks the rest. Worktrees with uncommitted changes
are skipped unless --force is given.`,
	RunE: runCleanupCmd,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "show what would be removed without removing anything")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "remove worktrees even with uncommitted changes")
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "skip the confirmation prompt")
	cleanupCmd.Flags().StringVarP(&cleanupStrategy, "strategy", "s", "", "run a single strategy (orphaned-worktree, dead-process, no-identity, age-based)")
}

func runCleanupCmd(cmd *cobra.Command, args []string) error {
	switch cleanupStrategy {
	case "", "orphaned-worktree", "dead-process", "no-identity", "age-based":
	default:
		return fmt.Errorf("unknown cleanup strategy %q", cleanupStrategy)
	}

	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.close()

	rec := newReconciler(app, cleanupForce, cleanupStrategy)
	rec.SweepCaptureFiles(app.cfg.Paths.ResolveStateDir(), time.Hour)

	candidates, err := rec.Scan()
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("Nothing to clean up.")
		return nil
	}

	fmt.Printf("Found %d shard(s) to clean up:\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %s  %s (%s)\n", c.ID(), c.Reason, c.Detail)
	}

	if cleanupDryRun {
		fmt.Println("\nDry run: nothing removed.")
		return nil
	}

	if !cleanupYes && !confirm("Proceed?") {
		fmt.Println("Aborted.")
		return nil
	}

	summary := rec.Apply(candidates)
	fmt.Printf("\nRemoved %d, skipped %d, failed %d\n",
		summary.Removed, summary.Skipped, summary.Failed)
	for _, a := range summary.Actions {
		if a.Outcome != cleanup.OutcomeRemoved {
			fmt.Printf("  %s: %s (%s)\n", a.Outcome, a.ShardID, a.Detail)
		}
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d shard(s) failed to clean up", summary.Failed)
	}
	return nil
}

// newReconciler builds the cleanup reconciler from the loaded config.
// Other commands use it too: list runs a scan for its stale warning.
func newReconciler(app *appContext, force bool, only string) *cleanup.Reconciler {
	return cleanup.New(app.store, app.wt, app.tracker, app.log, cleanup.Options{
		MaxAge:             app.cfg.Cleanup.MaxAge(),
		Force:              force,
		KeepRemoteBranches: app.cfg.Cleanup.KeepRemoteBranches,
		ShutdownGrace:      app.cfg.Process.ShutdownGrace(),
		Only:               only,
		WorktreeDir:        app.cfg.Paths.ResolveWorktreeDir(app.wt.RepoDir()),
	})
}

// confirm asks a yes/no question on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
