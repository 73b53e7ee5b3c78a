// Package terminal abstracts the terminal emulators that host agent windows.
// Each backend knows how to open a window in a working directory, run a
// command in it, and make a best-effort attempt to close it again. Spawn
// failures are fatal to the caller; close failures never are.
package terminal

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
)

// SpawnResult describes what a backend actually did: which emulator ran,
// the command as finally executed (wrapping included), where, and the pid
// capture file the bootstrap writes into.
type SpawnResult struct {
	Terminal    session.TerminalType
	Command     string
	WorkingDir  string
	CapturePath string
	// LauncherPID is the pid of the process the backend itself started,
	// when it has one. It is the launcher, not the agent; identity
	// resolution never trusts it.
	LauncherPID int
}

// Backend is the per-emulator contract.
type Backend interface {
	// Type returns the tag recorded on the session.
	Type() session.TerminalType
	// Available reports whether the emulator is present on this system.
	Available() bool
	// Spawn opens a window in workdir and runs command in it. The command
	// is wrapped with the pid-capture bootstrap before any emulator
	// quoting is applied.
	Spawn(workdir, command, capturePath string) (*SpawnResult, error)
	// Close makes a best-effort attempt to close the window. Emulators
	// that can only address the frontmost window may close the wrong one
	// when several are open; that is accepted rather than tracked with
	// fragile window ids.
	Close() error
}

// runCommand executes an external command and returns its combined output.
// Swapped in tests so backend behavior is checkable without the emulators.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// lookPath probes for an executable. Also swapped in tests.
var lookPath = func(name string) (string, error) {
	return exec.LookPath(name)
}

// preferenceOrder lists backends richest-featured first. Auto-selection
// walks it and takes the first available backend; Native always matches.
var preferenceOrder = []session.TerminalType{
	session.TerminalITerm,
	session.TerminalGhostty,
	session.TerminalTerminalApp,
	session.TerminalNative,
}

// Registry holds one backend per emulator type. Adding an emulator is one
// implementation plus one entry here; call sites never switch on type.
type Registry struct {
	backends map[session.TerminalType]Backend
	log      *logging.Logger
}

// NewRegistry builds the registry with the standard backends.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NopLogger()
	}
	r := &Registry{
		backends: make(map[session.TerminalType]Backend),
		log:      log,
	}
	r.Register(NewITerm(log))
	r.Register(NewGhostty(log))
	r.Register(NewTerminalApp(log))
	r.Register(NewNative(log))
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(b Backend) {
	r.backends[b.Type()] = b
}

// Get returns the backend for an explicit type tag.
func (r *Registry) Get(t session.TerminalType) (Backend, error) {
	b, ok := r.backends[t]
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown terminal type %q", t)).WithField("terminal")
	}
	return b, nil
}

// Select picks a backend. A non-empty preferred type is honored only when
// that backend is actually available; otherwise selection falls through the
// preference order.
func (r *Registry) Select(preferred session.TerminalType) (Backend, error) {
	if preferred != "" {
		b, err := r.Get(preferred)
		if err != nil {
			return nil, err
		}
		if b.Available() {
			return b, nil
		}
		r.log.Warn("preferred terminal unavailable, falling back", "preferred", string(preferred))
	}

	for _, t := range preferenceOrder {
		if b, ok := r.backends[t]; ok && b.Available() {
			return b, nil
		}
	}
	return nil, errors.ErrNoBackend
}

// CapturePrefix names pid-capture files so stale ones can be swept.
const CapturePrefix = "pidcap-"

// NewCapturePath returns a unique pid-capture file path under dir. The name
// is random so concurrent spawns in the same state directory never collide.
func NewCapturePath(dir string) string {
	return filepath.Join(dir, CapturePrefix+uuid.NewString())
}
