// Package process tracks the OS processes behind shard agents. Terminal
// automation hands back a short-lived launcher, not the agent, so the agent
// is found by polling the process table and is remembered as a full identity
// triple to defend against pid reuse.
package process

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// IsAlive checks if a process with the given PID exists.
// Uses kill(pid, 0) which checks for process existence without sending a
// signal. EPERM means the process exists under another user.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// Descendants returns all descendant PIDs of the given PID (recursive).
// Uses pgrep -P to find child processes.
func Descendants(pid int) []int {
	if pid <= 0 {
		return nil
	}
	return descendants(pid)
}

func descendants(pid int) []int {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		child, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, child)
		// Recursively get grandchildren
		pids = append(pids, descendants(child)...)
	}
	return pids
}

// WaitForExit polls until the given PID exits or the timeout is reached.
// Returns true if the process exited within the timeout.
func WaitForExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsAlive(pid)
		case <-ticker.C:
			if !IsAlive(pid) {
				return true
			}
		}
	}
}

