// Package errors provides centralized error definitions and error handling
// utilities for the shardflow codebase. It defines sentinel errors for the
// lifecycle engine, semantic error types with context, and helpers for the
// best-effort paths where failures are deliberately swallowed.
//
// # Error Types
//
// Semantic errors represent the conditions the lifecycle engine distinguishes:
//   - NotFoundError: a session, worktree, or process could not be found
//   - AlreadyExistsError: create-time collision on a session id
//   - DirtyWorktreeError: destroy guard for uncommitted changes
//   - SpawnError: a terminal backend failed to open a window
//   - TimeoutError: a bounded wait expired
//   - ValidationError: invalid input or state
//
// # Usage
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
//	var dirty *errors.DirtyWorktreeError
//	if errors.As(err, &dirty) { ... }
//
// Best-effort steps (terminal close, kill-if-present) use BestEffort so the
// swallowed error is logged and the intent is visible at the call site.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// Callers import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors for the session lifecycle engine.
var (
	// ErrNotFound indicates a session, worktree, or process could not be found.
	ErrNotFound = New("not found")
	// ErrAlreadyExists indicates a session with the same id already exists.
	ErrAlreadyExists = New("already exists")
	// ErrDirtyWorktree indicates the worktree has uncommitted changes.
	ErrDirtyWorktree = New("worktree has uncommitted changes")
	// ErrIdentityMismatch indicates a live process no longer matches the
	// stored identity snapshot (pid reuse).
	ErrIdentityMismatch = New("process identity mismatch")
	// ErrSpawnFailed indicates a terminal backend failed to open a window.
	ErrSpawnFailed = New("terminal spawn failed")
	// ErrSessionCorrupted indicates a session file failed to parse.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNoBackend indicates no terminal backend is available on this system.
	ErrNoBackend = New("no terminal backend available")
)

// NotFoundError represents a resource that could not be found.
//
//	err := errors.NewNotFoundError("session", "myproj-feat-x")
//	fmt.Println(err) // "session 'myproj-feat-x' not found"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if errors.Is(target, ErrNotFound) {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

func (e *AlreadyExistsError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	if errors.Is(target, ErrAlreadyExists) {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// DirtyWorktreeError is the destroy guard: the worktree has uncommitted
// changes and force was not given.
type DirtyWorktreeError struct {
	Branch   string
	Worktree string
}

// NewDirtyWorktreeError creates a new DirtyWorktreeError.
func NewDirtyWorktreeError(branch, worktree string) *DirtyWorktreeError {
	return &DirtyWorktreeError{Branch: branch, Worktree: worktree}
}

func (e *DirtyWorktreeError) Error() string {
	return fmt.Sprintf("worktree for branch '%s' has uncommitted changes (%s); use --force to discard", e.Branch, e.Worktree)
}

// Is reports whether this error matches the target.
func (e *DirtyWorktreeError) Is(target error) bool {
	if _, ok := target.(*DirtyWorktreeError); ok {
		return true
	}
	return errors.Is(target, ErrDirtyWorktree)
}

// SpawnError represents a terminal backend failure to open a window.
// Spawn failures are fatal to create/open; close failures never produce one.
type SpawnError struct {
	Terminal string
	Command  string
	cause    error
}

// NewSpawnError creates a new SpawnError.
func NewSpawnError(terminal, command string, cause error) *SpawnError {
	return &SpawnError{Terminal: terminal, Command: command, cause: cause}
}

func (e *SpawnError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("terminal %s failed to spawn: %v", e.Terminal, e.cause)
	}
	return fmt.Sprintf("terminal %s failed to spawn", e.Terminal)
}

func (e *SpawnError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *SpawnError) Is(target error) bool {
	if _, ok := target.(*SpawnError); ok {
		return true
	}
	if errors.Is(target, ErrSpawnFailed) {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	cause     error
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

func (e *TimeoutError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return errors.Is(target, ErrTimeout)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	Field   string
	message string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{message: message}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is reports whether this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return errors.Is(target, ErrInvalidInput)
}

// Wrap wraps an error with an additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// warnLogger is the slice of the logging interface BestEffort needs.
type warnLogger interface {
	Warn(msg string, args ...any)
}

// BestEffort runs fn and, if it fails, logs the error at WARN and discards it.
// It exists so deliberately-swallowed errors are visible in review: terminal
// close and kill-if-present sit on the non-essential side of stop/destroy and
// must never fail the calling operation.
func BestEffort(log warnLogger, op string, fn func() error) {
	if err := fn(); err != nil && log != nil {
		log.Warn("best-effort step failed", "op", op, "error", err)
	}
}
