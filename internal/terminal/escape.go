package terminal

import (
	"fmt"
	"strings"
)

// SelfPIDToken is the shell variable that expands to the pid of the shell
// evaluating it. It is the basis of pid capture: the bootstrap command writes
// it to a file from inside the spawned window, and the tracker reads it back.
const SelfPIDToken = "$$"

// SingleQuote wraps s in POSIX single quotes. Embedded single quotes are
// emitted as '\'' so the result is one literal word to the consuming shell.
// Single quotes suppress all expansion, which is what keeps SelfPIDToken
// intact through outer shell layers.
func SingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WrapShell wraps command for execution by one additional shell layer.
// The command becomes a single-quoted argument to sh -c, so every
// shell-significant character in it survives to the inner shell untouched.
func WrapShell(command string) string {
	return "sh -c " + SingleQuote(command)
}

// WrapLayers applies WrapShell n times. Each layer of nesting requires one
// additional level of quoting; delegating to WrapShell per layer instead of
// hand-building the escapes is what makes the depth arbitrary.
func WrapLayers(command string, n int) string {
	for i := 0; i < n; i++ {
		command = WrapShell(command)
	}
	return command
}

// EscapeAppleScript escapes s for embedding inside an AppleScript string
// literal. AppleScript strings are double-quoted with backslash escapes, so
// backslashes and double quotes are the only characters that need care.
func EscapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// BootstrapCommand builds the command line executed inside a new terminal
// window: change to the worktree, record the window shell's pid for identity
// resolution, then replace the shell with the agent command. The capture path
// and directory are single-quoted; SelfPIDToken is deliberately left bare so
// it expands in this shell and no other.
//
// Backends that route this string through additional shells must single-quote
// it as a whole (WrapShell), or an outer layer consumes the pid token and the
// capture file comes out empty.
func BootstrapCommand(workdir, command, capturePath string) string {
	return fmt.Sprintf("cd %s && echo %s > %s && exec %s",
		SingleQuote(workdir), SelfPIDToken, SingleQuote(capturePath), command)
}
