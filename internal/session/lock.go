package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shardflow/shardflow/internal/errors"
)

// LockFileName is the name of the allocation lock file inside the sessions
// directory.
const LockFileName = ".alloc.lock"

// ErrDirLocked is returned when the sessions directory is locked by another
// live process.
var ErrDirLocked = errors.New("sessions directory is locked by another process")

// DirLock serializes create across concurrent invocations. Port allocation
// scans every existing range to pick the next free block, so two unlocked
// creates could race into the same range; holding this lock across
// allocate-and-persist closes that window.
type DirLock struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	path     string
	released bool
}

// AcquireDirLock takes the allocation lock for the sessions directory.
// A lock file whose owning process is dead is treated as stale and replaced.
func AcquireDirLock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)

	if existing, err := readDirLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s", ErrDirLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &DirLock{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
		path:       path,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL loses the race to whichever process created the file first.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := readDirLock(path); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", ErrDirLocked, existing.PID, existing.Hostname)
			}
			return nil, ErrDirLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return lock, nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *DirLock) Release() error {
	if l.released {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.released = true
	return nil
}

// readDirLock parses an existing lock file.
func readDirLock(path string) (*DirLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock DirLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("invalid lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// isProcessAlive checks liveness with signal 0. EPERM means the process
// exists but belongs to another user, which still counts as alive.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
