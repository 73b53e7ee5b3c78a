// Package session defines the persisted shard record and its file-backed
// store. Each shard is one JSON file in a flat sessions directory; the whole
// directory is loaded into memory for list, health, and cleanup.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shardflow/shardflow/internal/errors"
)

// Status is the user-intended state of a shard. It is set by lifecycle
// operations, never by observation: a crashed agent does not flip an Active
// shard to Stopped. The gap between intent and reality is reported by the
// health classifier at query time.
type Status string

const (
	StatusActive  Status = "Active"
	StatusStopped Status = "Stopped"
)

// TerminalType identifies which terminal backend spawned the agent window.
type TerminalType string

const (
	TerminalITerm       TerminalType = "ITerm"
	TerminalTerminalApp TerminalType = "TerminalApp"
	TerminalGhostty     TerminalType = "Ghostty"
	TerminalNative      TerminalType = "Native"
)

// ParseTerminalType maps the lowercase names used in config and flags to a
// TerminalType. Empty input stays empty, meaning "no preference".
func ParseTerminalType(s string) (TerminalType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "iterm", "iterm2":
		return TerminalITerm, nil
	case "terminal_app", "terminal":
		return TerminalTerminalApp, nil
	case "ghostty":
		return TerminalGhostty, nil
	case "native":
		return TerminalNative, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unknown terminal type %q", s)).WithField("terminal")
	}
}

// ProcessIdentity is a composite snapshot of an OS process. A bare pid is
// never stored: the pid can be reused by an unrelated process after the
// agent exits, so destructive actions require the full triple to match.
type ProcessIdentity struct {
	PID       int
	Name      string
	StartTime int64 // Unix seconds of process start
}

// String returns a compact human-readable form for logs.
func (p ProcessIdentity) String() string {
	return fmt.Sprintf("%s[%d]@%d", p.Name, p.PID, p.StartTime)
}

// PortRange is a contiguous block of ports reserved for one shard.
// Ranges never overlap across shards and are released only on destroy.
type PortRange struct {
	Start int
	End   int
	Count int
}

// Contains reports whether port falls inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// Overlaps reports whether two ranges share any port.
func (r PortRange) Overlaps(other PortRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Session is the persisted record for one shard. The JSON schema is flat and
// additive: fields absent in older files deserialize to an explicit default
// in Normalize, never requiring a migration.
type Session struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Branch       string     `json:"branch"`
	WorktreePath string     `json:"worktree_path"`
	Agent        string     `json:"agent"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity *time.Time `json:"last_activity"`

	PortRangeStart int `json:"port_range_start"`
	PortRangeEnd   int `json:"port_range_end"`
	PortCount      int `json:"port_count"`

	ProcessID        *int    `json:"process_id"`
	ProcessName      *string `json:"process_name"`
	ProcessStartTime *int64  `json:"process_start_time"`

	TerminalType *TerminalType `json:"terminal_type"`

	Command string  `json:"command"`
	Note    *string `json:"note"`
}

// branchSanitizer collapses characters that cannot appear in a session id
// (which doubles as a file name) into hyphens.
var branchSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SessionID derives the deterministic shard id from project and branch.
// The same project/branch pair always maps to the same id, which is what
// makes create collisions detectable.
func SessionID(projectID, branch string) string {
	b := branchSanitizer.ReplaceAllString(branch, "-")
	b = strings.Trim(b, "-")
	return projectID + "-" + b
}

// New builds a Session in its initial state. Identity, terminal type, and
// activity are filled in later by the orchestrator.
func New(projectID, branch, worktreePath, agent, command string, ports PortRange) *Session {
	return &Session{
		ID:             SessionID(projectID, branch),
		ProjectID:      projectID,
		Branch:         branch,
		WorktreePath:   worktreePath,
		Agent:          agent,
		Status:         StatusActive,
		CreatedAt:      time.Now().UTC(),
		PortRangeStart: ports.Start,
		PortRangeEnd:   ports.End,
		PortCount:      ports.Count,
		Command:        command,
	}
}

// Normalize fills defaults for fields that may be absent in records written
// by older versions. It is called after every deserialization.
func (s *Session) Normalize() {
	// Records written before the status field default to Stopped: the
	// conservative reading that triggers no process action.
	if s.Status == "" {
		s.Status = StatusStopped
	}
	// Derive the count when only the bounds were written.
	if s.PortCount == 0 && s.PortRangeEnd >= s.PortRangeStart && s.PortRangeStart > 0 {
		s.PortCount = s.PortRangeEnd - s.PortRangeStart + 1
	}
	// A partial identity triple is treated as no identity at all.
	if s.ProcessID == nil || s.ProcessName == nil || s.ProcessStartTime == nil {
		s.ProcessID = nil
		s.ProcessName = nil
		s.ProcessStartTime = nil
	}
}

// Validate checks the invariants a well-formed record must satisfy.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.NewValidationError("session id cannot be empty").WithField("id")
	}
	if s.Branch == "" {
		return errors.NewValidationError("branch cannot be empty").WithField("branch")
	}
	if s.Status != StatusActive && s.Status != StatusStopped {
		return errors.NewValidationError(fmt.Sprintf("unknown status %q", s.Status)).WithField("status")
	}
	if s.PortCount > 0 && s.PortRangeEnd-s.PortRangeStart+1 != s.PortCount {
		return errors.NewValidationError("port range bounds disagree with count").WithField("port_count")
	}
	return nil
}

// PortRange returns the shard's reserved range as a value.
func (s *Session) PortRange() PortRange {
	return PortRange{Start: s.PortRangeStart, End: s.PortRangeEnd, Count: s.PortCount}
}

// Identity returns the stored process identity, or nil when the agent was
// never resolved.
func (s *Session) Identity() *ProcessIdentity {
	if s.ProcessID == nil || s.ProcessName == nil || s.ProcessStartTime == nil {
		return nil
	}
	return &ProcessIdentity{
		PID:       *s.ProcessID,
		Name:      *s.ProcessName,
		StartTime: *s.ProcessStartTime,
	}
}

// SetIdentity stores the full identity triple. Passing nil clears it.
func (s *Session) SetIdentity(id *ProcessIdentity) {
	if id == nil {
		s.ProcessID = nil
		s.ProcessName = nil
		s.ProcessStartTime = nil
		return
	}
	pid, name, start := id.PID, id.Name, id.StartTime
	s.ProcessID = &pid
	s.ProcessName = &name
	s.ProcessStartTime = &start
}

// SetTerminal records which backend spawned the current window.
func (s *Session) SetTerminal(t TerminalType) {
	s.TerminalType = &t
}

// Touch updates the activity timestamp to now.
func (s *Session) Touch() {
	now := time.Now().UTC()
	s.LastActivity = &now
}
