package terminal

import (
	"fmt"
	"os"

	"github.com/shardflow/shardflow/internal/errors"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/session"
)

// TerminalApp drives Apple's Terminal.app through osascript. Its `do script`
// runs the text in a new window's shell, which is where SelfPIDToken expands.
type TerminalApp struct {
	log *logging.Logger
}

// NewTerminalApp creates the Terminal.app backend.
func NewTerminalApp(log *logging.Logger) *TerminalApp {
	return &TerminalApp{log: log.WithTerminal("terminal_app")}
}

func (t *TerminalApp) Type() session.TerminalType { return session.TerminalTerminalApp }

// Available probes for the Terminal.app bundle.
func (t *TerminalApp) Available() bool {
	_, err := os.Stat("/System/Applications/Utilities/Terminal.app")
	if err == nil {
		return true
	}
	_, err = os.Stat("/Applications/Utilities/Terminal.app")
	return err == nil
}

// Spawn opens a new Terminal.app window running the bootstrap.
func (t *TerminalApp) Spawn(workdir, command, capturePath string) (*SpawnResult, error) {
	bootstrap := BootstrapCommand(workdir, command, capturePath)
	script := fmt.Sprintf(`tell application "Terminal"
	activate
	do script "%s"
end tell`, EscapeAppleScript(bootstrap))

	if out, err := runCommand("osascript", "-e", script); err != nil {
		return nil, errors.NewSpawnError("terminal_app", command,
			fmt.Errorf("osascript: %w: %s", err, string(out)))
	}

	t.log.Debug("spawned window", "workdir", workdir)
	return &SpawnResult{
		Terminal:    session.TerminalTerminalApp,
		Command:     bootstrap,
		WorkingDir:  workdir,
		CapturePath: capturePath,
	}, nil
}

// Close closes the frontmost Terminal.app window. Same frontmost-window
// limitation as the other osascript backends.
func (t *TerminalApp) Close() error {
	if out, err := runCommand("osascript", "-e",
		`tell application "Terminal" to close front window`); err != nil {
		return fmt.Errorf("osascript close: %w: %s", err, string(out))
	}
	return nil
}
