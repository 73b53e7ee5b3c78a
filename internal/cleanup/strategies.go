package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shardflow/shardflow/internal/process"
	"github.com/shardflow/shardflow/internal/session"
)

// Reason identifies which strategy flagged a shard for cleanup.
type Reason string

const (
	// ReasonOrphanedWorktree means the recorded worktree path no longer
	// exists on disk.
	ReasonOrphanedWorktree Reason = "orphaned_worktree"
	// ReasonDeadProcess means an active shard's tracked process is gone
	// or its pid was reused.
	ReasonDeadProcess Reason = "dead_process"
	// ReasonNoIdentity means an active shard never resolved a process
	// identity and is past the resolution grace period.
	ReasonNoIdentity Reason = "no_identity"
	// ReasonExpired means a stopped shard is older than the retention
	// window.
	ReasonExpired Reason = "expired"
)

// Candidate is a shard one strategy flagged, with the evidence it saw at
// scan time. Apply re-checks nothing the strategy already established; it
// acts on this snapshot. Session is nil for a worktree found on disk with
// no record behind it; WorktreePath and Branch carry what the scan could
// learn about it instead.
type Candidate struct {
	Session      *session.Session
	WorktreePath string
	Branch       string
	Reason       Reason
	Detail       string
}

// ID names the candidate for reporting. Recordless worktrees are known
// only by their directory name.
func (c *Candidate) ID() string {
	if c.Session != nil {
		return c.Session.ID
	}
	return filepath.Base(c.WorktreePath)
}

// Strategy examines one shard record without side effects.
type Strategy interface {
	Name() string
	Examine(s *session.Session) (*Candidate, bool)
}

// identityVerifier is the slice of the process tracker strategies need.
type identityVerifier interface {
	VerifyIdentity(stored session.ProcessIdentity) process.VerifyResult
}

// orphanedWorktreeStrategy flags shards whose worktree directory vanished
// out from under them.
type orphanedWorktreeStrategy struct {
	stat func(path string) (os.FileInfo, error)
}

func (s *orphanedWorktreeStrategy) Name() string { return "orphaned-worktree" }

func (s *orphanedWorktreeStrategy) Examine(sess *session.Session) (*Candidate, bool) {
	if sess.WorktreePath == "" {
		return nil, false
	}
	if _, err := s.stat(sess.WorktreePath); !os.IsNotExist(err) {
		return nil, false
	}
	return &Candidate{
		Session: sess,
		Reason:  ReasonOrphanedWorktree,
		Detail:  fmt.Sprintf("worktree %s no longer exists", sess.WorktreePath),
	}, true
}

// deadProcessStrategy flags active shards whose tracked process is no
// longer the process that was started. A pid-reuse mismatch counts as dead:
// the agent is gone either way, and the squatter is never touched.
type deadProcessStrategy struct {
	verifier identityVerifier
}

func (s *deadProcessStrategy) Name() string { return "dead-process" }

func (s *deadProcessStrategy) Examine(sess *session.Session) (*Candidate, bool) {
	if sess.Status != session.StatusActive {
		return nil, false
	}
	id := sess.Identity()
	if id == nil {
		return nil, false
	}

	switch s.verifier.VerifyIdentity(*id) {
	case process.IdentityGone:
		return &Candidate{
			Session: sess,
			Reason:  ReasonDeadProcess,
			Detail:  fmt.Sprintf("process %s exited", id),
		}, true
	case process.IdentityMismatch:
		return &Candidate{
			Session: sess,
			Reason:  ReasonDeadProcess,
			Detail:  fmt.Sprintf("pid %d reused by another process", id.PID),
		}, true
	}
	return nil, false
}

// noIdentityStrategy flags active shards that never resolved a process
// identity. A grace period covers the window where resolution is still in
// flight for a freshly created shard.
type noIdentityStrategy struct {
	grace time.Duration
	now   func() time.Time
}

func (s *noIdentityStrategy) Name() string { return "no-identity" }

func (s *noIdentityStrategy) Examine(sess *session.Session) (*Candidate, bool) {
	if sess.Status != session.StatusActive || sess.Identity() != nil {
		return nil, false
	}
	age := s.now().Sub(sess.CreatedAt)
	if age < s.grace {
		return nil, false
	}
	return &Candidate{
		Session: sess,
		Reason:  ReasonNoIdentity,
		Detail:  fmt.Sprintf("active for %s with no tracked process", age.Round(time.Second)),
	}, true
}

// expiredStrategy flags stopped shards past the retention window. Activity
// counts as life; the newest of created_at and last_activity decides age.
// A zero maxAge disables the strategy.
type expiredStrategy struct {
	maxAge time.Duration
	now    func() time.Time
}

func (s *expiredStrategy) Name() string { return "age-based" }

func (s *expiredStrategy) Examine(sess *session.Session) (*Candidate, bool) {
	if s.maxAge <= 0 || sess.Status != session.StatusStopped {
		return nil, false
	}

	ref := sess.CreatedAt
	if sess.LastActivity != nil && sess.LastActivity.After(ref) {
		ref = *sess.LastActivity
	}
	age := s.now().Sub(ref)
	if age <= s.maxAge {
		return nil, false
	}
	return &Candidate{
		Session: sess,
		Reason:  ReasonExpired,
		Detail:  fmt.Sprintf("stopped and inactive for %s", age.Round(time.Hour)),
	}, true
}
