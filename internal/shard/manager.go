// Package shard orchestrates the shard lifecycle: worktree creation, port
// allocation, terminal spawning, process tracking, and teardown.
package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shardflow/shardflow/internal/config"
	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/health"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/process"
	"github.com/shardflow/shardflow/internal/session"
	"github.com/shardflow/shardflow/internal/terminal"
	"github.com/shardflow/shardflow/internal/worktree"
)

// terminalRegistry is the slice of terminal.Registry the manager needs.
type terminalRegistry interface {
	Select(preferred session.TerminalType) (terminal.Backend, error)
	Get(t session.TerminalType) (terminal.Backend, error)
}

// processTracker is the slice of process.Tracker the manager needs.
type processTracker interface {
	ResolveFromCapture(capturePath, command string, timeout time.Duration) *session.ProcessIdentity
	VerifyIdentity(stored session.ProcessIdentity) process.VerifyResult
	KillIfVerified(stored session.ProcessIdentity, grace time.Duration) error
	GetMetrics(pid int) *process.Metrics
}

// runGH executes the gh CLI. A package variable so tests can intercept the
// merged-PR check without a GitHub remote.
var runGH = func(args ...string) ([]byte, error) {
	return exec.Command("gh", args...).Output()
}

// Manager coordinates the collaborators behind every lifecycle operation.
type Manager struct {
	cfg       *config.Config
	store     session.Store
	wt        worktree.Worktrees
	terminals terminalRegistry
	tracker   processTracker
	log       *logging.Logger
	projectID string
}

// NewManager wires a Manager from its collaborators. projectID is the
// stable per-repository identifier shard ids are derived from.
func NewManager(cfg *config.Config, store session.Store, wt worktree.Worktrees,
	terminals terminalRegistry, tracker processTracker, log *logging.Logger, projectID string) *Manager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		wt:        wt,
		terminals: terminals,
		tracker:   tracker,
		log:       log,
		projectID: projectID,
	}
}

// CreateOptions carries the optional knobs of create.
type CreateOptions struct {
	// Agent is the agent binary name; defaults to process.agent_name.
	Agent string
	// Command is the full command line; defaults to the agent name.
	Command string
	// Terminal forces a specific backend instead of the richest available.
	Terminal session.TerminalType
	// PortCount overrides ports.per_shard for this shard.
	PortCount int
	// Note is free-form text stored on the record.
	Note string
	// BaseBranch starts the shard branch from a branch other than HEAD.
	BaseBranch string
}

// qualifyBranch applies the configured branch prefix to bare branch names.
// Names that already carry a slash are taken verbatim.
func (m *Manager) qualifyBranch(branch string) string {
	prefix := m.cfg.Branch.Prefix
	if prefix == "" || strings.Contains(branch, "/") {
		return branch
	}
	return prefix + "/" + branch
}

// shardID maps a user-supplied branch name to the record id.
func (m *Manager) shardID(branch string) string {
	return session.SessionID(m.projectID, m.qualifyBranch(branch))
}

// load fetches the record for a branch.
func (m *Manager) load(branch string) (*session.Session, error) {
	return m.store.Load(m.shardID(branch))
}

// Create provisions a new shard: worktree, port range, terminal window, and
// record. The port allocation and record write happen under the directory
// lock so two concurrent creates cannot claim the same range.
func (m *Manager) Create(branch string, opts CreateOptions) (*session.Session, error) {
	if strings.TrimSpace(branch) == "" {
		return nil, errors.NewValidationError("branch name is required").WithField("branch")
	}

	gitBranch := m.qualifyBranch(branch)
	id := session.SessionID(m.projectID, gitBranch)
	if m.store.Exists(id) {
		return nil, errors.NewAlreadyExistsError("shard", id)
	}

	agent := opts.Agent
	if agent == "" {
		agent = m.cfg.Process.AgentName
	}
	command := opts.Command
	if command == "" {
		command = agent
	}
	portCount := opts.PortCount
	if portCount <= 0 {
		portCount = m.cfg.Ports.PerShard
	}

	log := m.log.WithShard(id)

	worktreePath := m.worktreePath(id)
	// New shards branch from the repository's main branch unless the
	// caller picked a base; branching from whatever HEAD happens to be
	// would tie the shard to the invoking checkout's state.
	baseBranch := opts.BaseBranch
	if baseBranch == "" {
		if mb := m.wt.FindMainBranch(); m.wt.BranchExists(mb) {
			baseBranch = mb
		}
	}
	if baseBranch != "" {
		if err := m.wt.CreateFromBranch(worktreePath, gitBranch, baseBranch); err != nil {
			return nil, err
		}
	} else {
		if err := m.wt.Create(worktreePath, gitBranch); err != nil {
			return nil, err
		}
	}

	sess, err := m.allocateAndPersist(id, gitBranch, worktreePath, agent, command, portCount, opts.Note)
	if err != nil {
		m.rollbackWorktree(worktreePath, gitBranch, log)
		return nil, err
	}
	log.Info("created shard",
		"branch", gitBranch, "ports", fmt.Sprintf("%d-%d", sess.PortRangeStart, sess.PortRangeEnd))

	if err := m.spawn(sess, command, opts.Terminal, log); err != nil {
		errors.BestEffort(log, "delete record after failed spawn", func() error {
			return m.store.Delete(id)
		})
		m.rollbackWorktree(worktreePath, gitBranch, log)
		return nil, err
	}

	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// allocateAndPersist claims a port range and writes the initial record
// while holding the sessions-directory lock.
func (m *Manager) allocateAndPersist(id, gitBranch, worktreePath, agent, command string, portCount int, note string) (*session.Session, error) {
	lock, err := session.AcquireDirLock(m.store.Dir())
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	existing, err := m.store.List()
	if err != nil {
		return nil, err
	}
	var ranges []session.PortRange
	for _, s := range existing {
		if s.PortRangeStart != 0 {
			ranges = append(ranges, s.PortRange())
		}
	}

	ports, err := session.AllocatePortRange(ranges, m.cfg.Ports.Base, portCount)
	if err != nil {
		return nil, err
	}

	sess := session.New(m.projectID, gitBranch, worktreePath, agent, command, ports)
	if note != "" {
		n := note
		sess.Note = &n
	}
	if sess.ID != id {
		return nil, fmt.Errorf("shard id mismatch: %s vs %s", sess.ID, id)
	}
	if err := session.ValidatePortRanges(append(existing, sess)); err != nil {
		return nil, err
	}
	if err := m.store.Create(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// spawn opens a terminal window running the agent and resolves its process
// identity. The record is mutated but not saved; callers persist.
func (m *Manager) spawn(sess *session.Session, command string, preferred session.TerminalType, log *logging.Logger) error {
	if preferred == "" && m.cfg.Terminal.Preferred != "" {
		t, err := session.ParseTerminalType(m.cfg.Terminal.Preferred)
		if err != nil {
			return err
		}
		preferred = t
	}
	backend, err := m.terminals.Select(preferred)
	if err != nil {
		return err
	}

	capture := terminal.NewCapturePath(m.store.Dir())
	result, err := backend.Spawn(sess.WorktreePath, command, capture)
	if err != nil {
		return err
	}
	sess.SetTerminal(result.Terminal)
	sess.Status = session.StatusActive
	sess.Touch()

	id := m.tracker.ResolveFromCapture(capture, command, m.cfg.Process.ResolveTimeout())
	if id == nil {
		// Untracked shards still work; stop and cleanup just cannot
		// verify a process to kill.
		log.Warn("shard running without process identity", "command", command)
	}
	sess.SetIdentity(id)
	return nil
}

// Open spawns an additional terminal in an existing shard's worktree.
// Previous windows are left alone; the record tracks the newest process.
func (m *Manager) Open(branch string, agent string, preferred session.TerminalType) (*session.Session, error) {
	sess, err := m.load(branch)
	if err != nil {
		return nil, err
	}
	log := m.log.WithShard(sess.ID)

	command := sess.Command
	if agent != "" && agent != sess.Agent {
		sess.Agent = agent
		command = agent
		sess.Command = command
	}

	if err := m.spawn(sess, command, preferred, log); err != nil {
		return nil, err
	}
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	log.Info("opened shard", "terminal", string(*sess.TerminalType))
	return sess, nil
}

// Stop closes the shard's terminal and kills its tracked process, then
// marks the record Stopped. Worktree and record survive. Stopping an
// already-stopped shard is a no-op. Terminal close failures are swallowed;
// only a permission failure on the kill propagates.
func (m *Manager) Stop(branch string) (*session.Session, error) {
	sess, err := m.load(branch)
	if err != nil {
		return nil, err
	}
	log := m.log.WithShard(sess.ID)

	if sess.Status == session.StatusStopped && sess.Identity() == nil {
		log.Debug("shard already stopped")
		return sess, nil
	}

	if sess.TerminalType != nil {
		if backend, err := m.terminals.Get(*sess.TerminalType); err == nil {
			errors.BestEffort(log, "close terminal window", backend.Close)
		}
	}

	if id := sess.Identity(); id != nil {
		if err := m.tracker.KillIfVerified(*id, m.cfg.Process.ShutdownGrace()); err != nil {
			return nil, err
		}
		sess.SetIdentity(nil)
	}

	sess.Status = session.StatusStopped
	sess.Touch()
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	log.Info("stopped shard")
	return sess, nil
}

// Destroy stops the shard, removes its worktree and branch, and deletes
// the record, releasing the port range. Without force, uncommitted changes
// in the worktree abort the whole operation. Force bypasses only that
// check; the kill path still verifies identity.
func (m *Manager) Destroy(branch string, force bool) error {
	sess, err := m.Stop(branch)
	if err != nil {
		return err
	}
	log := m.log.WithShard(sess.ID)

	// An already-vanished worktree has no work to protect. Otherwise the
	// guard fails closed: a check that cannot run proves nothing clean.
	if _, statErr := os.Stat(sess.WorktreePath); !force && statErr == nil {
		dirty, err := m.wt.HasUncommittedChanges(sess.WorktreePath)
		if err != nil {
			return fmt.Errorf("checking worktree %s for uncommitted changes: %w", sess.WorktreePath, err)
		}
		if dirty {
			return errors.NewDirtyWorktreeError(sess.Branch, sess.WorktreePath)
		}
	}

	errors.BestEffort(log, "remove worktree", func() error {
		return m.wt.Remove(sess.WorktreePath)
	})
	if m.wt.BranchExists(sess.Branch) {
		errors.BestEffort(log, "delete branch", func() error {
			return m.wt.DeleteBranch(sess.Branch)
		})
	}

	if err := m.store.Delete(sess.ID); err != nil {
		return err
	}
	log.Info("destroyed shard", "forced", force)
	return nil
}

// Complete destroys a finished shard and, when its PR is known merged,
// also deletes the remote branch. The merged check is best effort: if gh
// is missing or the query fails, the remote branch is left alone.
func (m *Manager) Complete(branch string) error {
	sess, err := m.load(branch)
	if err != nil {
		return err
	}
	gitBranch := sess.Branch
	log := m.log.WithShard(sess.ID)

	merged := m.prMerged(gitBranch)

	if err := m.Destroy(branch, false); err != nil {
		return err
	}

	if merged && !m.cfg.Cleanup.KeepRemoteBranches {
		errors.BestEffort(log, "delete remote branch", func() error {
			return m.wt.DeleteRemoteBranch(gitBranch)
		})
	}
	return nil
}

// prMerged asks gh whether the branch's PR has merged.
func (m *Manager) prMerged(gitBranch string) bool {
	out, err := runGH("pr", "view", gitBranch, "--json", "state,mergedAt")
	if err != nil {
		return false
	}
	var pr struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(out, &pr); err != nil {
		return false
	}
	return pr.State == "MERGED"
}

// Push publishes the shard's branch to origin so a PR can be opened
// against it. Force uses a lease so a rewritten history never clobbers
// commits pushed from elsewhere.
func (m *Manager) Push(branch string, force bool) (*session.Session, error) {
	sess, err := m.load(branch)
	if err != nil {
		return nil, err
	}
	if err := m.wt.Push(sess.WorktreePath, force); err != nil {
		return nil, err
	}
	sess.Touch()
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Restart stops the shard and reopens it in a fresh terminal.
//
// Deprecated: restart is retained for compatibility. Use Stop followed by
// Open, which is all this does.
func (m *Manager) Restart(branch string, agent string) (*session.Session, error) {
	if _, err := m.Stop(branch); err != nil {
		return nil, err
	}
	return m.Open(branch, agent, "")
}

// List returns every shard record, sorted by id.
func (m *Manager) List() ([]*session.Session, error) {
	return m.store.List()
}

// StatusReport is the full picture of one shard for the status operation.
type StatusReport struct {
	Session *session.Session `json:"session"`
	Health  health.State     `json:"health"`
	Metrics *process.Metrics `json:"metrics,omitempty"`
}

// Status loads one shard and augments it with live health and metrics.
func (m *Manager) Status(branch string) (*StatusReport, error) {
	sess, err := m.load(branch)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		Session: sess,
		Health:  m.classify(sess),
	}
	if id := sess.Identity(); id != nil && report.Health != health.StateCrashed {
		report.Metrics = m.tracker.GetMetrics(id.PID)
	}
	return report, nil
}

// Health classifies one shard, or all shards when branch is empty.
func (m *Manager) Health(branch string) ([]health.Report, error) {
	if branch != "" {
		sess, err := m.load(branch)
		if err != nil {
			return nil, err
		}
		return []health.Report{{ShardID: sess.ID, State: m.classify(sess)}}, nil
	}

	sessions, err := m.store.List()
	if err != nil {
		return nil, err
	}
	reports := make([]health.Report, 0, len(sessions))
	for _, sess := range sessions {
		reports = append(reports, health.Report{ShardID: sess.ID, State: m.classify(sess)})
	}
	return reports, nil
}

// classify derives the health state from live process checks. A stopped
// shard with no tracked process is not crashed; it is simply not running,
// and its state rests on its activity timestamps alone.
func (m *Manager) classify(sess *session.Session) health.State {
	id := sess.Identity()
	if sess.Status == session.StatusStopped && id == nil {
		return health.StateUnknown
	}
	if id == nil {
		// Active but never tracked: no liveness signal exists.
		return health.StateUnknown
	}
	alive := m.tracker.VerifyIdentity(*id) == process.IdentityMatch
	return health.Classify(alive, sess.LastActivity, m.cfg.Health.IdleThreshold())
}

// worktreePath is where a shard's worktree lives.
func (m *Manager) worktreePath(id string) string {
	return filepath.Join(m.cfg.Paths.ResolveWorktreeDir(m.wt.RepoDir()), id)
}

// rollbackWorktree undoes worktree and branch creation after a later step
// of create failed.
func (m *Manager) rollbackWorktree(path, gitBranch string, log *logging.Logger) {
	errors.BestEffort(log, "rollback worktree", func() error {
		return m.wt.Remove(path)
	})
	if m.wt.BranchExists(gitBranch) {
		errors.BestEffort(log, "rollback branch", func() error {
			return m.wt.DeleteBranch(gitBranch)
		})
	}
}
