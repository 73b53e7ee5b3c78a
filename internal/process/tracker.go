package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
)

// TableEntry is one row of the OS process table as the tracker sees it.
type TableEntry struct {
	PID  int
	Name string // executable name (ps comm)
	Args string // full command line
}

// Metrics is a best-effort resource snapshot for a live agent.
type Metrics struct {
	CPUPercent  float64
	MemoryBytes int64
}

// VerifyResult is the outcome of re-checking a stored identity against the
// live process table.
type VerifyResult int

const (
	// IdentityMatch means the full triple still describes the live process.
	IdentityMatch VerifyResult = iota
	// IdentityGone means no process has the stored pid.
	IdentityGone
	// IdentityMismatch means the pid is taken by a process whose name or
	// start time differs from the snapshot: a reused pid, never acted on.
	IdentityMismatch
)

func (v VerifyResult) String() string {
	switch v {
	case IdentityMatch:
		return "match"
	case IdentityGone:
		return "gone"
	case IdentityMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Tracker resolves, verifies, and signals agent processes. The process-table
// queries are function fields so tests can run against a synthetic table.
type Tracker struct {
	log          *logging.Logger
	pollInterval time.Duration

	table     func() ([]TableEntry, error)
	startTime func(pid int) (int64, error)
	alive     func(pid int) bool
	signal    func(pid int, sig syscall.Signal) error
}

// NewTracker creates a Tracker backed by the real process table.
func NewTracker(log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Tracker{
		log:          log,
		pollInterval: 100 * time.Millisecond,
		table:        queryProcessTable,
		startTime:    queryStartTime,
		alive:        IsAlive,
		signal:       syscall.Kill,
	}
}

// ResolveAgentIdentity polls the process table until a process matching the
// agent command appears, then snapshots its identity triple. It returns nil
// on timeout: a shard without tracking is a degraded mode, not a failure,
// so this never errors.
//
// Matching: the expected executable is the first whitespace-delimited token
// of the command; candidates are processes whose name contains it. With
// several candidates, a full command-line substring match disambiguates;
// remaining ambiguity takes the first match.
func (t *Tracker) ResolveAgentIdentity(command string, timeout time.Duration) *session.ProcessIdentity {
	exe := expectedExecutable(command)
	if exe == "" {
		t.log.Warn("cannot resolve identity of empty command")
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		if id := t.findAgent(exe, command); id != nil {
			t.log.Debug("resolved agent identity", "pid", id.PID, "name", id.Name)
			return id
		}
		if time.Now().After(deadline) {
			t.log.Warn("agent process not found within timeout",
				"command", command, "timeout", timeout.String())
			return nil
		}
		time.Sleep(t.pollInterval)
	}
}

// findAgent scans the table once for a process matching the agent command.
func (t *Tracker) findAgent(exe, command string) *session.ProcessIdentity {
	entries, err := t.table()
	if err != nil {
		return nil
	}

	var candidates []TableEntry
	for _, e := range entries {
		if strings.Contains(e.Name, exe) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	match := candidates[0]
	if len(candidates) > 1 {
		for _, c := range candidates {
			if strings.Contains(c.Args, command) {
				match = c
				break
			}
		}
	}

	start, err := t.startTime(match.PID)
	if err != nil {
		// Process exited between the table scan and the start-time
		// query; same degraded outcome as not finding it.
		return nil
	}
	return &session.ProcessIdentity{PID: match.PID, Name: match.Name, StartTime: start}
}

// VerifyIdentity re-resolves a stored identity against the live table.
func (t *Tracker) VerifyIdentity(stored session.ProcessIdentity) VerifyResult {
	if !t.alive(stored.PID) {
		return IdentityGone
	}

	entries, err := t.table()
	if err != nil {
		// Cannot read the table: the safe reading is mismatch, which
		// authorizes nothing.
		return IdentityMismatch
	}

	for _, e := range entries {
		if e.PID != stored.PID {
			continue
		}
		if e.Name != stored.Name {
			return IdentityMismatch
		}
		start, err := t.startTime(stored.PID)
		if err != nil {
			return IdentityGone
		}
		if start != stored.StartTime {
			return IdentityMismatch
		}
		return IdentityMatch
	}
	return IdentityGone
}

// KillIfVerified terminates the stored process and its descendants, but only
// when the full identity triple still matches. Gone and mismatch both return
// nil without acting: "already gone" is success, and a reused pid must never
// be signalled. A kill rejected with EPERM is the one fatal outcome.
func (t *Tracker) KillIfVerified(stored session.ProcessIdentity, grace time.Duration) error {
	switch t.VerifyIdentity(stored) {
	case IdentityGone:
		t.log.Debug("process already gone", "pid", stored.PID)
		return nil
	case IdentityMismatch:
		t.log.Warn("pid reused by another process, not killing",
			"pid", stored.PID, "stored_name", stored.Name)
		return nil
	}

	// Capture descendants before SIGTERM while the tree is intact.
	kids := Descendants(stored.PID)

	if err := t.signal(stored.PID, syscall.SIGTERM); err != nil {
		if err == syscall.EPERM {
			return fmt.Errorf("not permitted to signal pid %d: %w", stored.PID, err)
		}
		// ESRCH between verify and signal is the already-gone case.
		return nil
	}

	if WaitForExit(stored.PID, grace) {
		// Children of a cleanly exiting agent normally follow it; sweep
		// any that did not.
		for i := len(kids) - 1; i >= 0; i-- {
			if t.alive(kids[i]) {
				_ = t.signal(kids[i], syscall.SIGKILL)
			}
		}
		return nil
	}

	t.log.Warn("process survived SIGTERM, escalating", "pid", stored.PID)
	for i := len(kids) - 1; i >= 0; i-- {
		if t.alive(kids[i]) {
			_ = t.signal(kids[i], syscall.SIGKILL)
		}
	}
	if err := t.signal(stored.PID, syscall.SIGKILL); err == syscall.EPERM {
		return fmt.Errorf("not permitted to kill pid %d: %w", stored.PID, err)
	}
	return nil
}

// GetMetrics returns a best-effort CPU/memory snapshot. Any failure yields
// nil rather than an error; metrics are advisory.
func (t *Tracker) GetMetrics(pid int) *Metrics {
	if pid <= 0 {
		return nil
	}
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "%cpu=,rss=").Output()
	if err != nil {
		return nil
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return nil
	}
	cpu, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	rssKB, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil
	}
	return &Metrics{CPUPercent: cpu, MemoryBytes: rssKB * 1024}
}

// ResolveFromCapture reads the pid the bootstrap wrote from inside the new
// window. The bootstrap execs the agent over the window shell, so the
// captured pid is the agent's own. The capture file is polled because the
// window opens asynchronously; a confirmed pid is snapshotted into a full
// triple. Falls back to a plain table resolve when the capture never lands.
func (t *Tracker) ResolveFromCapture(capturePath, command string, timeout time.Duration) *session.ProcessIdentity {
	// The capture is one-shot; resolution consumes it either way.
	defer func() { _ = os.Remove(capturePath) }()

	deadline := time.Now().Add(timeout)
	for {
		if pid, err := readCapturedPID(capturePath); err == nil {
			if id := t.snapshotPID(pid); id != nil {
				t.log.Debug("resolved agent from capture", "pid", pid)
				return id
			}
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(t.pollInterval)
	}

	t.log.Debug("pid capture missed, falling back to table scan", "path", filepath.Base(capturePath))
	remaining := time.Until(deadline)
	if remaining < t.pollInterval {
		remaining = t.pollInterval
	}
	return t.ResolveAgentIdentity(command, remaining)
}

// snapshotPID builds the identity triple for a known-live pid.
func (t *Tracker) snapshotPID(pid int) *session.ProcessIdentity {
	if !t.alive(pid) {
		return nil
	}
	entries, err := t.table()
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.PID != pid {
			continue
		}
		start, err := t.startTime(pid)
		if err != nil {
			return nil
		}
		return &session.ProcessIdentity{PID: pid, Name: e.Name, StartTime: start}
	}
	return nil
}

// expectedExecutable extracts the process name an agent command should run
// under: the base name of its first token.
func expectedExecutable(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// readCapturedPID parses a pid-capture file written by the bootstrap.
func readCapturedPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("capture file %s holds no pid", path)
	}
	return pid, nil
}

// queryProcessTable lists every process via ps. One external tool for all
// supported platforms beats parsing /proc, which macOS does not have.
func queryProcessTable() ([]TableEntry, error) {
	out, err := exec.Command("ps", "-axo", "pid=,comm=,args=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps failed: %w", err)
	}

	var entries []TableEntry
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		entry := TableEntry{PID: pid, Name: filepath.Base(fields[1])}
		if len(fields) > 2 {
			entry.Args = strings.Join(fields[2:], " ")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// lstartLayout matches the fixed-width timestamp ps prints for lstart,
// e.g. "Mon Jan  2 15:04:05 2006".
const lstartLayout = "Mon Jan 2 15:04:05 2006"

// queryStartTime reads a process's start time in Unix seconds.
func queryStartTime(pid int) (int64, error) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "lstart=").Output()
	if err != nil {
		return 0, fmt.Errorf("ps lstart failed for pid %d: %w", pid, err)
	}
	raw := strings.Join(strings.Fields(string(out)), " ")
	if raw == "" {
		return 0, fmt.Errorf("no start time for pid %d", pid)
	}
	ts, err := time.ParseInLocation(lstartLayout, raw, time.Local)
	if err != nil {
		return 0, fmt.Errorf("unparseable start time %q for pid %d: %w", raw, pid, err)
	}
	return ts.Unix(), nil
}
