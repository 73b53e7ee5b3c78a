package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
)

// Native is the fallback backend: no emulator window at all. The agent runs
// under a pty allocated in-process so interactive agents still see a real
// terminal. The pty's lifetime is tied to the spawning invocation; an agent
// that ignores SIGHUP survives it, one that does not ends with the launcher.
type Native struct {
	log *logging.Logger

	mu   sync.Mutex
	ptmx *os.File
}

// NewNative creates the native pty backend.
func NewNative(log *logging.Logger) *Native {
	return &Native{log: log.WithTerminal("native")}
}

func (t *Native) Type() session.TerminalType { return session.TerminalNative }

// Available is always true; a pty needs nothing installed.
func (t *Native) Available() bool { return true }

// Spawn starts the bootstrap under a fresh pty.
func (t *Native) Spawn(workdir, command, capturePath string) (*SpawnResult, error) {
	bootstrap := BootstrapCommand(workdir, command, capturePath)

	cmd := exec.Command("/bin/sh", "-c", bootstrap)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, errors.NewSpawnError("native", command, fmt.Errorf("pty start: %w", err))
	}

	t.mu.Lock()
	t.ptmx = ptmx
	t.mu.Unlock()

	t.log.Debug("spawned pty", "workdir", workdir, "pid", cmd.Process.Pid)
	return &SpawnResult{
		Terminal:    session.TerminalNative,
		Command:     bootstrap,
		WorkingDir:  workdir,
		CapturePath: capturePath,
		LauncherPID: cmd.Process.Pid,
	}, nil
}

// Close releases the pty master if this invocation opened one. There is no
// window to close.
func (t *Native) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ptmx == nil {
		return nil
	}
	err := t.ptmx.Close()
	t.ptmx = nil
	return err
}
