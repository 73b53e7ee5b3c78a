// Package cleanup reconciles shard records against reality: it scans for
// shards whose resources have decayed, then removes them one candidate at a
// time so a single failure never aborts the run.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
	"github.com/shardflow/shardflow/internal/terminal"
	"github.com/shardflow/shardflow/internal/worktree"
)

// Options tunes a reconciliation run.
type Options struct {
	// MaxAge is the retention window for stopped shards. Zero disables
	// age-based cleanup.
	MaxAge time.Duration
	// IdentityGrace is how long an active shard may run without a
	// resolved process identity before it is flagged.
	IdentityGrace time.Duration
	// Force removes worktrees even when they hold uncommitted changes.
	Force bool
	// KeepRemoteBranches leaves origin branches alone during removal.
	KeepRemoteBranches bool
	// ShutdownGrace is how long a killed process gets between SIGTERM
	// and escalation.
	ShutdownGrace time.Duration
	// Only restricts the run to a single strategy by name
	// (orphaned-worktree, dead-process, no-identity, age-based).
	// Empty runs all strategies.
	Only string
	// WorktreeDir is the directory holding shard worktrees. When set, the
	// orphaned-worktree strategy also scans it for directories that have
	// no shard record behind them.
	WorktreeDir string
}

// Outcome is the per-candidate result of an apply.
type Outcome string

const (
	OutcomeRemoved Outcome = "removed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Action records what happened to one candidate.
type Action struct {
	ShardID string  `json:"shard_id"`
	Reason  Reason  `json:"reason"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Summary tallies a reconciliation run.
type Summary struct {
	Removed int      `json:"removed"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Actions []Action `json:"actions,omitempty"`
}

func (s *Summary) record(a Action) {
	switch a.Outcome {
	case OutcomeRemoved:
		s.Removed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
	s.Actions = append(s.Actions, a)
}

// processHandler is the slice of the tracker the reconciler needs.
type processHandler interface {
	identityVerifier
	KillIfVerified(stored session.ProcessIdentity, grace time.Duration) error
}

// Reconciler detects and removes decayed shards.
type Reconciler struct {
	store      session.Store
	wt         worktree.Worktrees
	procs      processHandler
	log        *logging.Logger
	opts       Options
	strategies []Strategy
}

// New creates a Reconciler. Strategies run in a fixed precedence order;
// the first strategy to flag a shard owns its candidate, so a shard is
// cleaned at most once per run.
func New(store session.Store, wt worktree.Worktrees, procs processHandler, log *logging.Logger, opts Options) *Reconciler {
	if log == nil {
		log = logging.NopLogger()
	}
	if opts.IdentityGrace <= 0 {
		opts.IdentityGrace = 5 * time.Minute
	}
	all := []Strategy{
		&orphanedWorktreeStrategy{stat: os.Stat},
		&deadProcessStrategy{verifier: procs},
		&noIdentityStrategy{grace: opts.IdentityGrace, now: time.Now},
		&expiredStrategy{maxAge: opts.MaxAge, now: time.Now},
	}
	strategies := all
	if opts.Only != "" {
		strategies = nil
		for _, s := range all {
			if s.Name() == opts.Only {
				strategies = append(strategies, s)
			}
		}
	}
	return &Reconciler{
		store:      store,
		wt:         wt,
		procs:      procs,
		log:        log,
		opts:       opts,
		strategies: strategies,
	}
}

// Scan examines every shard record and returns the cleanup candidates.
// It mutates nothing; a dry run is a Scan whose result is only printed.
// Orphanhood is checked in both directions: records whose worktree
// vanished, and worktrees on disk with no record behind them.
func (r *Reconciler) Scan() ([]Candidate, error) {
	sessions, err := r.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing shards: %w", err)
	}

	var candidates []Candidate
	for _, sess := range sessions {
		for _, strat := range r.strategies {
			c, ok := strat.Examine(sess)
			if !ok {
				continue
			}
			r.log.Debug("cleanup candidate",
				"shard", sess.ID, "strategy", strat.Name(), "detail", c.Detail)
			candidates = append(candidates, *c)
			break
		}
	}

	candidates = append(candidates, r.scanRecordlessWorktrees(sessions)...)
	return candidates, nil
}

// scanRecordlessWorktrees walks the worktrees directory and flags entries
// no shard record claims. Both registered worktrees and bare directories
// count; a half-created directory that never registered is still debris.
func (r *Reconciler) scanRecordlessWorktrees(sessions []*session.Session) []Candidate {
	if r.opts.WorktreeDir == "" || !r.hasStrategy("orphaned-worktree") {
		return nil
	}

	claimed := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		if sess.WorktreePath != "" {
			claimed[filepath.Clean(sess.WorktreePath)] = true
		}
	}

	seen := make(map[string]bool)
	var paths []string
	if registered, err := r.wt.List(); err == nil {
		for _, p := range registered {
			if filepath.Dir(filepath.Clean(p)) == filepath.Clean(r.opts.WorktreeDir) && !seen[filepath.Clean(p)] {
				seen[filepath.Clean(p)] = true
				paths = append(paths, filepath.Clean(p))
			}
		}
	}
	entries, err := os.ReadDir(r.opts.WorktreeDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("could not scan worktrees directory",
				"dir", r.opts.WorktreeDir, "error", err.Error())
		}
		if len(paths) == 0 {
			return nil
		}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(r.opts.WorktreeDir, e.Name())
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	var candidates []Candidate
	for _, p := range paths {
		if claimed[p] {
			continue
		}
		branch, _ := r.wt.GetBranch(p)
		r.log.Debug("cleanup candidate",
			"worktree", p, "strategy", "orphaned-worktree", "detail", "no shard record")
		candidates = append(candidates, Candidate{
			WorktreePath: p,
			Branch:       branch,
			Reason:       ReasonOrphanedWorktree,
			Detail:       fmt.Sprintf("worktree %s has no shard record", p),
		})
	}
	return candidates
}

func (r *Reconciler) hasStrategy(name string) bool {
	for _, s := range r.strategies {
		if s.Name() == name {
			return true
		}
	}
	return false
}

// Apply removes each candidate independently. An error on one shard is
// recorded and the run continues; the returned summary covers every
// candidate exactly once.
func (r *Reconciler) Apply(candidates []Candidate) Summary {
	var summary Summary
	for _, c := range candidates {
		summary.record(r.applyOne(c))
	}
	return summary
}

func (r *Reconciler) applyOne(c Candidate) Action {
	if c.Session == nil {
		return r.applyRecordlessWorktree(c)
	}
	sess := c.Session
	act := Action{ShardID: sess.ID, Reason: c.Reason}

	// A still-tracked process is stopped before its resources go away.
	// Verification inside the kill path means a reused pid is left alone.
	if id := sess.Identity(); id != nil {
		if err := r.procs.KillIfVerified(*id, r.opts.ShutdownGrace); err != nil {
			act.Outcome = OutcomeFailed
			act.Detail = fmt.Sprintf("stopping process: %v", err)
			return act
		}
	}

	if skipped, detail := r.removeWorktree(sess); skipped {
		act.Outcome = OutcomeSkipped
		act.Detail = detail
		return act
	}

	r.removeBranch(sess)

	if err := r.store.Delete(sess.ID); err != nil {
		act.Outcome = OutcomeFailed
		act.Detail = fmt.Sprintf("deleting record: %v", err)
		return act
	}

	r.log.Info("cleaned up shard", "shard", sess.ID, "reason", string(c.Reason))
	act.Outcome = OutcomeRemoved
	act.Detail = c.Detail
	return act
}

// removeWorktree tears down the worktree directory. Uncommitted work is
// sacred without Force; a dirty worktree skips the whole candidate so the
// record keeps pointing at the surviving files.
func (r *Reconciler) removeWorktree(sess *session.Session) (skipped bool, detail string) {
	if sess.WorktreePath == "" {
		return false, ""
	}
	if _, err := os.Stat(sess.WorktreePath); os.IsNotExist(err) {
		_ = r.wt.Prune()
		return false, ""
	}

	if skipped, detail := r.dirtyGuard(sess.WorktreePath); skipped {
		return true, detail
	}

	if err := r.wt.Remove(sess.WorktreePath); err != nil {
		r.log.Warn("worktree removal left debris", "shard", sess.ID, "error", err.Error())
	}
	return false, ""
}

// dirtyGuard decides whether a worktree's uncommitted work blocks removal.
// A failing check blocks too: a worktree whose state cannot be read must
// be assumed dirty, not clean.
func (r *Reconciler) dirtyGuard(path string) (skipped bool, detail string) {
	if r.opts.Force {
		return false, ""
	}
	dirty, err := r.wt.HasUncommittedChanges(path)
	if err != nil {
		return true, fmt.Sprintf("could not check for uncommitted changes: %v", err)
	}
	if dirty {
		return true, "worktree has uncommitted changes"
	}
	return false, ""
}

// applyRecordlessWorktree removes a worktree directory that no shard
// record claims. There is no record to delete and no process to stop; the
// directory, its registration, and its branch are the whole candidate.
func (r *Reconciler) applyRecordlessWorktree(c Candidate) Action {
	act := Action{ShardID: c.ID(), Reason: c.Reason}

	if skipped, detail := r.dirtyGuard(c.WorktreePath); skipped {
		act.Outcome = OutcomeSkipped
		act.Detail = detail
		return act
	}

	if err := r.wt.Remove(c.WorktreePath); err != nil {
		act.Outcome = OutcomeFailed
		act.Detail = fmt.Sprintf("removing worktree: %v", err)
		return act
	}
	if c.Branch != "" && r.wt.BranchExists(c.Branch) {
		if err := r.wt.DeleteBranch(c.Branch); err != nil {
			r.log.Warn("could not delete branch", "branch", c.Branch, "error", err.Error())
		}
	}

	r.log.Info("removed recordless worktree", "worktree", c.WorktreePath)
	act.Outcome = OutcomeRemoved
	act.Detail = c.Detail
	return act
}

// SweepCaptureFiles removes pid-capture files older than the cutoff from
// the state directory. A capture that old belongs to a spawn whose
// resolution finished long ago, one way or the other.
func (r *Reconciler) SweepCaptureFiles(stateDir string, olderThan time.Duration) int {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-olderThan)
	swept := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), terminal.CapturePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(stateDir, e.Name())) == nil {
			swept++
		}
	}
	if swept > 0 {
		r.log.Debug("swept stale pid-capture files", "count", swept)
	}
	return swept
}

// removeBranch deletes the shard's branch. Branch deletion is best effort;
// a branch that outlives its shard is untidy, not broken.
func (r *Reconciler) removeBranch(sess *session.Session) {
	if sess.Branch == "" || !r.wt.BranchExists(sess.Branch) {
		return
	}
	if err := r.wt.DeleteBranch(sess.Branch); err != nil {
		r.log.Warn("could not delete branch", "branch", sess.Branch, "error", err.Error())
		return
	}
	if !r.opts.KeepRemoteBranches {
		if err := r.wt.DeleteRemoteBranch(sess.Branch); err != nil {
			r.log.Debug("no remote branch to delete", "branch", sess.Branch)
		}
	}
}
