package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shardflow/shardflow/internal/errors"
)

// Store is the persistence boundary for shard records. It is injected into
// every operation rather than held as a process-wide singleton so tests can
// run against a temp-directory-backed store.
type Store interface {
	// Save persists a session, overwriting any existing record.
	Save(s *Session) error
	// Create persists a session only if no record with its id exists.
	Create(s *Session) error
	// Load retrieves a session by id.
	Load(id string) (*Session, error)
	// List returns all sessions sorted by id.
	List() ([]*Session, error)
	// Delete removes a session record.
	Delete(id string) error
	// Exists reports whether a record with the given id exists.
	Exists(id string) bool
	// Dir returns the sessions directory path.
	Dir() string
}

// FileStore stores one JSON file per shard in a flat directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the sessions directory path.
func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// Save persists a session atomically, overwriting any existing record.
func (fs *FileStore) Save(s *Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if s.ID == "" {
		return errors.NewValidationError("session id cannot be empty").WithField("id")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}
	return atomicWriteFile(fs.path(s.ID), data, 0644)
}

// Create persists a session only if no record with its id exists.
// O_EXCL makes the existence check and the write one step, so two concurrent
// creates for the same id cannot both succeed.
func (fs *FileStore) Create(s *Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if s.ID == "" {
		return errors.NewValidationError("session id cannot be empty").WithField("id")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}

	path := fs.path(s.ID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.NewAlreadyExistsError("session", s.ID)
		}
		return fmt.Errorf("failed to create session file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write session file %s: %w", path, err)
	}
	return nil
}

// Load retrieves a session by id. The record is normalized so files from
// older versions pick up defaults for fields they predate.
func (fs *FileStore) Load(id string) (*Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("session", id)
		}
		return nil, fmt.Errorf("failed to read session file for %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", errors.ErrSessionCorrupted, id, err)
	}
	s.Normalize()
	return &s, nil
}

// List returns all sessions sorted by id. Files that fail to parse are
// skipped rather than failing the whole listing; single-target operations
// still surface the corruption via Load.
func (fs *FileStore) List() ([]*Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.dir, entry.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		s.Normalize()
		sessions = append(sessions, &s)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// Delete removes a session record.
func (fs *FileStore) Delete(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("session", id)
		}
		return fmt.Errorf("failed to delete session file for %s: %w", id, err)
	}
	return nil
}

// Exists reports whether a record with the given id exists.
func (fs *FileStore) Exists(id string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(fs.path(id))
	return err == nil
}

// atomicWriteFile writes data to a temporary file in the target directory and
// renames it into place, so the record is never observable half-written.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
