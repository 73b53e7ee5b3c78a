package terminal

import (
	"fmt"
	"os"

	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
)

// Ghostty launches windows with `open -na Ghostty`. The app's -e flag takes
// an argv to run, so the bootstrap goes through exactly one shell of our own
// choosing: argv elements are passed verbatim, and the sh -c layer we insert
// is the one that expands SelfPIDToken.
type Ghostty struct {
	log *logging.Logger
}

// NewGhostty creates the Ghostty backend.
func NewGhostty(log *logging.Logger) *Ghostty {
	return &Ghostty{log: log.WithTerminal("ghostty")}
}

func (t *Ghostty) Type() session.TerminalType { return session.TerminalGhostty }

// Available probes for the Ghostty app bundle or a CLI binary on PATH.
func (t *Ghostty) Available() bool {
	if _, err := os.Stat("/Applications/Ghostty.app"); err == nil {
		return true
	}
	if _, err := os.Stat(os.Getenv("HOME") + "/Applications/Ghostty.app"); err == nil {
		return true
	}
	_, err := lookPath("ghostty")
	return err == nil
}

// Spawn opens a new Ghostty window running the bootstrap under a login shell.
func (t *Ghostty) Spawn(workdir, command, capturePath string) (*SpawnResult, error) {
	bootstrap := BootstrapCommand(workdir, command, capturePath)

	out, err := runCommand("open", "-na", "Ghostty", "--args", "-e", "/bin/sh", "-lc", bootstrap)
	if err != nil {
		return nil, errors.NewSpawnError("ghostty", command,
			fmt.Errorf("open: %w: %s", err, string(out)))
	}

	t.log.Debug("spawned window", "workdir", workdir)
	return &SpawnResult{
		Terminal:    session.TerminalGhostty,
		Command:     bootstrap,
		WorkingDir:  workdir,
		CapturePath: capturePath,
	}, nil
}

// Close is a no-op for Ghostty: the app exposes no automation interface to
// address windows, so there is nothing safe to close. The window stays open
// and the process kill does the actual work.
func (t *Ghostty) Close() error {
	t.log.Debug("close skipped, ghostty windows are not addressable")
	return nil
}
