package terminal

import (
	"fmt"
	"os"

	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
)

// ITerm drives iTerm2 through osascript. It is the richest backend: new
// windows get their own profile session and `write text` types the bootstrap
// into the window's own shell, so SelfPIDToken expands exactly there.
type ITerm struct {
	log *logging.Logger
}

// NewITerm creates the iTerm2 backend.
func NewITerm(log *logging.Logger) *ITerm {
	return &ITerm{log: log.WithTerminal("iterm")}
}

func (t *ITerm) Type() session.TerminalType { return session.TerminalITerm }

// Available probes for the iTerm2 application bundle.
func (t *ITerm) Available() bool {
	if _, err := os.Stat("/Applications/iTerm.app"); err == nil {
		return true
	}
	_, err := os.Stat(os.Getenv("HOME") + "/Applications/iTerm.app")
	return err == nil
}

// Spawn opens a new iTerm2 window and types the bootstrap into it.
// The bootstrap is embedded in an AppleScript string literal, which is one
// quoting layer; the window shell that receives the typed text is the layer
// that expands SelfPIDToken.
func (t *ITerm) Spawn(workdir, command, capturePath string) (*SpawnResult, error) {
	bootstrap := BootstrapCommand(workdir, command, capturePath)
	script := fmt.Sprintf(`tell application "iTerm2"
	activate
	create window with default profile
	tell current session of current window
		write text "%s"
	end tell
end tell`, EscapeAppleScript(bootstrap))

	if out, err := runCommand("osascript", "-e", script); err != nil {
		return nil, errors.NewSpawnError("iterm", command,
			fmt.Errorf("osascript: %w: %s", err, string(out)))
	}

	t.log.Debug("spawned window", "workdir", workdir)
	return &SpawnResult{
		Terminal:    session.TerminalITerm,
		Command:     bootstrap,
		WorkingDir:  workdir,
		CapturePath: capturePath,
	}, nil
}

// Close closes the current iTerm2 window. iTerm2 automation can only address
// the current window here, so with several windows open this may close the
// wrong one.
func (t *ITerm) Close() error {
	if out, err := runCommand("osascript", "-e",
		`tell application "iTerm2" to close current window`); err != nil {
		return fmt.Errorf("osascript close: %w: %s", err, string(out))
	}
	return nil
}
