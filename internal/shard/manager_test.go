package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shardflow/shardflow/internal/config"
	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/health"
	"github.com/shardflow/shardflow/internal/process"
	"github.com/shardflow/shardflow/internal/session"
	"github.com/shardflow/shardflow/internal/terminal"
)

// fakeBackend pretends to open terminal windows.
type fakeBackend struct {
	typ      session.TerminalType
	spawned  int
	closed   int
	spawnErr error
}

func (f *fakeBackend) Type() session.TerminalType { return f.typ }
func (f *fakeBackend) Available() bool            { return true }
func (f *fakeBackend) Spawn(workdir, command, capturePath string) (*terminal.SpawnResult, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.spawned++
	return &terminal.SpawnResult{
		Terminal: f.typ, Command: command, WorkingDir: workdir, CapturePath: capturePath,
	}, nil
}
func (f *fakeBackend) Close() error { f.closed++; return nil }

type fakeTerminals struct {
	backend *fakeBackend
}

func (f *fakeTerminals) Select(preferred session.TerminalType) (terminal.Backend, error) {
	return f.backend, nil
}
func (f *fakeTerminals) Get(t session.TerminalType) (terminal.Backend, error) {
	return f.backend, nil
}

// fakeTracker hands out scripted identities.
type fakeTracker struct {
	next    *session.ProcessIdentity
	results map[int]process.VerifyResult
	killed  []int
	killErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{results: make(map[int]process.VerifyResult)}
}

func (f *fakeTracker) ResolveFromCapture(capturePath, command string, timeout time.Duration) *session.ProcessIdentity {
	return f.next
}
func (f *fakeTracker) VerifyIdentity(stored session.ProcessIdentity) process.VerifyResult {
	if r, ok := f.results[stored.PID]; ok {
		return r
	}
	return process.IdentityGone
}
func (f *fakeTracker) KillIfVerified(stored session.ProcessIdentity, grace time.Duration) error {
	if f.killErr != nil {
		return f.killErr
	}
	if f.VerifyIdentity(stored) == process.IdentityMatch {
		f.killed = append(f.killed, stored.PID)
	}
	return nil
}
func (f *fakeTracker) GetMetrics(pid int) *process.Metrics {
	return &process.Metrics{CPUPercent: 1.5, MemoryBytes: 64 << 20}
}

// fakeWorktrees simulates the git collaborator on the real filesystem so
// orphan checks behave.
type fakeWorktrees struct {
	repoDir       string
	branches      map[string]bool
	dirty         map[string]bool
	dirtyErr      map[string]error
	created       []string
	removed       []string
	basedOn       []string
	pushed        []string
	deletedRemote []string
	createErr     error
}

func newFakeWorktrees(repoDir string) *fakeWorktrees {
	return &fakeWorktrees{
		repoDir:  repoDir,
		branches: make(map[string]bool),
		dirty:    make(map[string]bool),
		dirtyErr: make(map[string]error),
	}
}

func (f *fakeWorktrees) RepoDir() string { return f.repoDir }
func (f *fakeWorktrees) Create(path, branch string) error {
	if f.createErr != nil {
		return f.createErr
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	f.branches[branch] = true
	f.created = append(f.created, path)
	return nil
}
func (f *fakeWorktrees) CreateFromBranch(path, newBranch, baseBranch string) error {
	f.basedOn = append(f.basedOn, baseBranch)
	return f.Create(path, newBranch)
}
func (f *fakeWorktrees) Remove(path string) error {
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}
func (f *fakeWorktrees) Prune() error                          { return nil }
func (f *fakeWorktrees) List() ([]string, error)               { return f.created, nil }
func (f *fakeWorktrees) GetBranch(path string) (string, error) { return "", nil }
func (f *fakeWorktrees) BranchExists(branch string) bool       { return f.branches[branch] }
func (f *fakeWorktrees) DeleteBranch(branch string) error {
	delete(f.branches, branch)
	return nil
}
func (f *fakeWorktrees) DeleteRemoteBranch(branch string) error {
	f.deletedRemote = append(f.deletedRemote, branch)
	return nil
}
func (f *fakeWorktrees) HasUncommittedChanges(p string) (bool, error) {
	if err := f.dirtyErr[p]; err != nil {
		return false, err
	}
	return f.dirty[p], nil
}
func (f *fakeWorktrees) Push(path string, force bool) error {
	f.pushed = append(f.pushed, fmt.Sprintf("%s force=%t", path, force))
	return nil
}
func (f *fakeWorktrees) FindMainBranch() string { return "main" }

type managerFixture struct {
	mgr     *Manager
	store   session.Store
	wt      *fakeWorktrees
	backend *fakeBackend
	tracker *fakeTracker
	cfg     *config.Config
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	base := t.TempDir()
	stateDir := filepath.Join(base, "state")
	repoDir := filepath.Join(base, "repo")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Paths.StateDir = stateDir
	cfg.Paths.WorktreeDir = filepath.Join(base, "worktrees")
	cfg.Process.ResolveTimeoutSeconds = 1

	store, err := session.NewFileStore(filepath.Join(stateDir, "sessions"))
	if err != nil {
		t.Fatal(err)
	}

	wt := newFakeWorktrees(repoDir)
	backend := &fakeBackend{typ: session.TerminalITerm}
	tracker := newFakeTracker()
	tracker.next = &session.ProcessIdentity{PID: 4321, Name: "claude", StartTime: 1700000000}
	tracker.results[4321] = process.IdentityMatch

	mgr := NewManager(cfg, store, wt, &fakeTerminals{backend: backend}, tracker, nil, "myapp")
	return &managerFixture{mgr: mgr, store: store, wt: wt, backend: backend, tracker: tracker, cfg: cfg}
}

func TestCreateLifecycleScenario(t *testing.T) {
	fix := newFixture(t)

	sess, err := fix.mgr.Create("feat-x", CreateOptions{Command: "claude --yolo"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("status = %v, want active", sess.Status)
	}
	if sess.Branch != "shard/feat-x" {
		t.Errorf("branch = %q, want shard/feat-x", sess.Branch)
	}
	if sess.PortRangeStart != fix.cfg.Ports.Base {
		t.Errorf("port start = %d, want %d", sess.PortRangeStart, fix.cfg.Ports.Base)
	}
	if sess.Identity() == nil {
		t.Fatal("identity should be resolved")
	}
	if fix.backend.spawned != 1 {
		t.Errorf("spawned %d windows, want 1", fix.backend.spawned)
	}

	stopped, err := fix.mgr.Stop("feat-x")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Status != session.StatusStopped {
		t.Errorf("status after stop = %v", stopped.Status)
	}
	if stopped.Identity() != nil {
		t.Error("identity should be cleared after stop")
	}
	if len(fix.tracker.killed) != 1 {
		t.Errorf("killed %v, want the tracked pid once", fix.tracker.killed)
	}
	if _, err := os.Stat(sess.WorktreePath); err != nil {
		t.Error("worktree must survive stop")
	}

	if err := fix.mgr.Destroy("feat-x", false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(sess.WorktreePath); !os.IsNotExist(err) {
		t.Error("worktree must be gone after destroy")
	}
	if fix.store.Exists(sess.ID) {
		t.Error("record must be gone after destroy")
	}

	err = fix.mgr.Destroy("feat-x", false)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second destroy = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := fix.mgr.Create("feat-x", CreateOptions{})
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("duplicate create = %v, want ErrAlreadyExists", err)
	}
}

func TestSequentialCreatesGetDisjointRanges(t *testing.T) {
	fix := newFixture(t)

	a, err := fix.mgr.Create("feat-a", CreateOptions{})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := fix.mgr.Create("feat-b", CreateOptions{})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	if a.PortRange().Overlaps(b.PortRange()) {
		t.Errorf("ranges overlap: %+v vs %+v", a.PortRange(), b.PortRange())
	}
	if b.PortRangeStart != a.PortRangeEnd+1 {
		t.Errorf("second range starts at %d, want %d", b.PortRangeStart, a.PortRangeEnd+1)
	}

	all, _ := fix.store.List()
	if err := session.ValidatePortRanges(all); err != nil {
		t.Errorf("overlap invariant violated: %v", err)
	}
}

func TestCreateSpawnFailureRollsBack(t *testing.T) {
	fix := newFixture(t)
	fix.backend.spawnErr = errors.NewSpawnError("iterm", "claude", fmt.Errorf("osascript exploded"))

	_, err := fix.mgr.Create("feat-x", CreateOptions{})
	if !errors.Is(err, errors.ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	if fix.store.Exists("myapp-shard-feat-x") {
		t.Error("record must not survive a failed spawn")
	}
	if len(fix.wt.removed) == 0 {
		t.Error("worktree should be rolled back")
	}
	if fix.wt.BranchExists("shard/feat-x") {
		t.Error("branch should be rolled back")
	}
}

func TestCreateWithoutIdentityStillSucceeds(t *testing.T) {
	fix := newFixture(t)
	fix.tracker.next = nil

	sess, err := fix.mgr.Create("feat-x", CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Identity() != nil {
		t.Error("identity should be absent")
	}
	if sess.Status != session.StatusActive {
		t.Error("shard should still be active")
	}
}

func TestOpenIsAdditive(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fix.mgr.Stop("feat-x"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	fix.tracker.next = &session.ProcessIdentity{PID: 5000, Name: "claude", StartTime: 1700000500}
	sess, err := fix.mgr.Open("feat-x", "", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("status = %v, want active after open", sess.Status)
	}
	if id := sess.Identity(); id == nil || id.PID != 5000 {
		t.Errorf("identity = %+v, want the new process", sess.Identity())
	}
	if fix.backend.spawned != 2 {
		t.Errorf("spawned %d windows, want 2", fix.backend.spawned)
	}
	if fix.backend.closed != 1 {
		// Only the explicit stop closes a window; open never does.
		t.Errorf("closed %d windows, want 1", fix.backend.closed)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fix.mgr.Stop("feat-x"); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	killsAfterFirst := len(fix.tracker.killed)

	sess, err := fix.mgr.Stop("feat-x")
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if sess.Status != session.StatusStopped {
		t.Errorf("status = %v", sess.Status)
	}
	if len(fix.tracker.killed) != killsAfterFirst {
		t.Error("second stop signalled again")
	}
}

func TestStopNeverKillsReusedPID(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Between create and stop the agent died and the pid was recycled.
	fix.tracker.results[4321] = process.IdentityMismatch

	sess, err := fix.mgr.Stop("feat-x")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(fix.tracker.killed) != 0 {
		t.Error("reused pid was signalled")
	}
	if sess.Status != session.StatusStopped {
		t.Error("stop should still transition the record")
	}
}

func TestDestroyGuardsDirtyWorktree(t *testing.T) {
	fix := newFixture(t)

	sess, err := fix.mgr.Create("feat-x", CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fix.wt.dirty[sess.WorktreePath] = true

	err = fix.mgr.Destroy("feat-x", false)
	if !errors.Is(err, errors.ErrDirtyWorktree) {
		t.Fatalf("err = %v, want ErrDirtyWorktree", err)
	}
	if !fix.store.Exists(sess.ID) {
		t.Error("record must survive a refused destroy")
	}

	if err := fix.mgr.Destroy("feat-x", true); err != nil {
		t.Fatalf("forced Destroy: %v", err)
	}
	if fix.store.Exists(sess.ID) {
		t.Error("forced destroy should remove the record")
	}
}

func TestRestartStopsAndReopens(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fix.tracker.next = &session.ProcessIdentity{PID: 6000, Name: "claude", StartTime: 1700000900}

	sess, err := fix.mgr.Restart("feat-x", "")
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("status = %v", sess.Status)
	}
	if id := sess.Identity(); id == nil || id.PID != 6000 {
		t.Errorf("identity = %+v, want fresh process", sess.Identity())
	}
	if fix.backend.spawned != 2 {
		t.Errorf("spawned %d windows, want 2", fix.backend.spawned)
	}
}

func TestStatusIncludesHealthAndMetrics(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	report, err := fix.mgr.Status("feat-x")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.Health != health.StateWorking {
		t.Errorf("health = %v, want working", report.Health)
	}
	if report.Metrics == nil {
		t.Error("metrics should be present for a live shard")
	}
}

func TestHealthReportsCrashedShard(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fix.tracker.results[4321] = process.IdentityGone

	reports, err := fix.mgr.Health("feat-x")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if len(reports) != 1 || reports[0].State != health.StateCrashed {
		t.Errorf("reports = %+v, want one crashed", reports)
	}
}

func TestHealthAllShards(t *testing.T) {
	fix := newFixture(t)

	if _, err := fix.mgr.Create("feat-a", CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	fix.tracker.next = &session.ProcessIdentity{PID: 7000, Name: "claude", StartTime: 1700001000}
	fix.tracker.results[7000] = process.IdentityGone
	if _, err := fix.mgr.Create("feat-b", CreateOptions{}); err != nil {
		t.Fatal(err)
	}

	reports, err := fix.mgr.Health("")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	summary := health.Aggregate(reports)
	if summary.Total() != 2 {
		t.Fatalf("total = %d, want 2", summary.Total())
	}
	if summary.Working != 1 || summary.Crashed != 1 {
		t.Errorf("summary = %+v, want one working and one crashed", summary)
	}
}

func TestCompleteDeletesRemoteBranchWhenMerged(t *testing.T) {
	fix := newFixture(t)
	fix.cfg.Cleanup.KeepRemoteBranches = false

	origRunGH := runGH
	runGH = func(args ...string) ([]byte, error) {
		return []byte(`{"state":"MERGED","mergedAt":"2026-08-30T10:00:00Z"}`), nil
	}
	t.Cleanup(func() { runGH = origRunGH })

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fix.mgr.Complete("feat-x"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if fix.store.Exists("myapp-shard-feat-x") {
		t.Error("record should be gone after complete")
	}
}

func TestCompleteSwallowsGHFailure(t *testing.T) {
	fix := newFixture(t)

	origRunGH := runGH
	runGH = func(args ...string) ([]byte, error) {
		return nil, fmt.Errorf("gh: command not found")
	}
	t.Cleanup(func() { runGH = origRunGH })

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fix.mgr.Complete("feat-x"); err != nil {
		t.Fatalf("Complete must not fail on gh errors: %v", err)
	}
}

func TestQualifyBranch(t *testing.T) {
	fix := newFixture(t)

	tests := []struct {
		in   string
		want string
	}{
		{"feat-x", "shard/feat-x"},
		{"shard/feat-x", "shard/feat-x"},
		{"team/feat-y", "team/feat-y"},
	}
	for _, tt := range tests {
		if got := fix.mgr.qualifyBranch(tt.in); got != tt.want {
			t.Errorf("qualifyBranch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDestroyFailsClosedWhenDirtyCheckErrors(t *testing.T) {
	fix := newFixture(t)

	sess, err := fix.mgr.Create("feat-x", CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fix.wt.dirtyErr[sess.WorktreePath] = fmt.Errorf("git status: exit status 128")

	if err := fix.mgr.Destroy("feat-x", false); err == nil {
		t.Fatal("Destroy must fail when the dirty check cannot run")
	}
	if _, err := os.Stat(sess.WorktreePath); err != nil {
		t.Error("worktree must survive a failed dirty check")
	}
	if !fix.store.Exists(sess.ID) {
		t.Error("record must survive a failed dirty check")
	}

	// Force still bypasses the check entirely.
	if err := fix.mgr.Destroy("feat-x", true); err != nil {
		t.Fatalf("forced destroy: %v", err)
	}
}

func TestCreateBranchesFromMainWhenPresent(t *testing.T) {
	fix := newFixture(t)
	fix.wt.branches["main"] = true

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(fix.wt.basedOn) != 1 || fix.wt.basedOn[0] != "main" {
		t.Errorf("basedOn = %v, want [main]", fix.wt.basedOn)
	}
}

func TestPushPublishesBranch(t *testing.T) {
	fix := newFixture(t)

	sess, err := fix.mgr.Create("feat-x", CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fix.mgr.Push("feat-x", true); err != nil {
		t.Fatalf("Push: %v", err)
	}
	want := fmt.Sprintf("%s force=true", sess.WorktreePath)
	if len(fix.wt.pushed) != 1 || fix.wt.pushed[0] != want {
		t.Errorf("pushed = %v, want [%s]", fix.wt.pushed, want)
	}

	if _, err := fix.mgr.Push("no-such-branch", false); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("push of unknown branch = %v, want ErrNotFound", err)
	}
}

func TestPRMergedParsesFormattedOutput(t *testing.T) {
	fix := newFixture(t)
	fix.cfg.Cleanup.KeepRemoteBranches = false

	origRunGH := runGH
	runGH = func(args ...string) ([]byte, error) {
		// gh pretty-prints its JSON output.
		return []byte("{\n  \"mergedAt\": \"2026-08-30T10:00:00Z\",\n  \"state\": \"MERGED\"\n}\n"), nil
	}
	t.Cleanup(func() { runGH = origRunGH })

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fix.mgr.Complete("feat-x"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(fix.wt.deletedRemote) != 1 || fix.wt.deletedRemote[0] != "shard/feat-x" {
		t.Errorf("deletedRemote = %v, want [shard/feat-x]", fix.wt.deletedRemote)
	}
}

func TestPRMergedRejectsOtherStates(t *testing.T) {
	fix := newFixture(t)
	fix.cfg.Cleanup.KeepRemoteBranches = false

	origRunGH := runGH
	runGH = func(args ...string) ([]byte, error) {
		// OPEN contains no merge state, and a MERGED mentioned only in
		// free text must not count.
		return []byte(`{"state":"OPEN","mergedAt":null,"title":"mark as MERGED"}`), nil
	}
	t.Cleanup(func() { runGH = origRunGH })

	if _, err := fix.mgr.Create("feat-x", CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fix.mgr.Complete("feat-x"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(fix.wt.deletedRemote) != 0 {
		t.Errorf("unmerged PR must keep its remote branch, got %v", fix.wt.deletedRemote)
	}
}
