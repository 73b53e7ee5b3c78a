// Package worktree wraps the git CLI operations the shard lifecycle needs:
// creating and removing worktrees, branch management, and dirty-state checks.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandExecutor runs external commands in a directory. It exists so tests
// can substitute a fake instead of a real git repository.
type CommandExecutor interface {
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands via os/exec.
type CLICommandExecutor struct{}

func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir  string
	executor CommandExecutor
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git, which can be a
// directory (normal repo) or a file (worktree).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// New creates a Manager rooted at the repository containing repoDir.
func New(repoDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}
	return &Manager{repoDir: gitRoot, executor: &CLICommandExecutor{}}, nil
}

// NewWithExecutor creates a Manager with a custom executor. The repoDir is
// taken as-is, without .git discovery.
func NewWithExecutor(repoDir string, executor CommandExecutor) *Manager {
	return &Manager{repoDir: repoDir, executor: executor}
}

// RepoDir returns the repository root the manager operates on.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// Create creates a worktree at path with a new branch from current HEAD.
func (m *Manager) Create(path, branch string) error {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "add", "-b", branch, path)
	if err != nil {
		return fmt.Errorf("failed to create worktree: %w\n%s", err, string(output))
	}
	return nil
}

// CreateFromBranch creates a worktree at path with a new branch starting
// from baseBranch instead of HEAD.
func (m *Manager) CreateFromBranch(path, newBranch, baseBranch string) error {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "add", "-b", newBranch, path, baseBranch)
	if err != nil {
		return fmt.Errorf("failed to create worktree from branch %s: %w\n%s", baseBranch, err, string(output))
	}
	return nil
}

// Remove removes a worktree. When git refuses, the directory is removed
// directly and stale worktree references are pruned.
func (m *Manager) Remove(path string) error {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.executor.Run(m.repoDir, "git", "worktree", "prune")
		return fmt.Errorf("failed to remove worktree cleanly: %w\n%s", err, string(output))
	}
	return nil
}

// Prune drops worktree bookkeeping for directories that no longer exist.
func (m *Manager) Prune() error {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "prune")
	if err != nil {
		return fmt.Errorf("failed to prune worktrees: %w\n%s", err, string(output))
	}
	return nil
}

// List returns the paths of all worktrees attached to the repository.
func (m *Manager) List() ([]string, error) {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// GetBranch returns the branch checked out in a worktree.
func (m *Manager) GetBranch(path string) (string, error) {
	output, err := m.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(branch string) bool {
	_, err := m.executor.Run(m.repoDir, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// DeleteBranch deletes a local branch, discarding unmerged commits.
func (m *Manager) DeleteBranch(branch string) error {
	output, err := m.executor.Run(m.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		return fmt.Errorf("failed to delete branch: %w\n%s", err, string(output))
	}
	return nil
}

// DeleteRemoteBranch deletes a branch on origin.
func (m *Manager) DeleteRemoteBranch(branch string) error {
	output, err := m.executor.Run(m.repoDir, "git", "push", "origin", "--delete", branch)
	if err != nil {
		return fmt.Errorf("failed to delete remote branch %s: %w\n%s", branch, err, string(output))
	}
	return nil
}

// HasUncommittedChanges reports whether a worktree has staged, unstaged, or
// untracked changes.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	output, err := m.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Push pushes the worktree's branch to origin with upstream tracking.
func (m *Manager) Push(path string, force bool) error {
	args := []string{"push", "-u", "origin", "HEAD"}
	if force {
		args = append(args, "--force-with-lease")
	}
	output, err := m.executor.Run(path, "git", args...)
	if err != nil {
		return fmt.Errorf("failed to push: %w\n%s", err, string(output))
	}
	return nil
}

// FindMainBranch returns the name of the default branch, main or master.
func (m *Manager) FindMainBranch() string {
	if _, err := m.executor.Run(m.repoDir, "git", "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}
	return "master"
}
