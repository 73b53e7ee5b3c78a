// Package testutil provides git repository fixtures for shardflow tests.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// SetupTestRepo creates a temporary git repository with a single commit on
// main. The repository is removed when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()
	SkipIfNoGit(t)

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@shardflow.dev")
	runGit(t, dir, "config", "user.name", "Shardflow Test")

	// git worktree requires at least one commit.
	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test Repository\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial commit")

	// Some systems still default to master.
	runGit(t, dir, "branch", "-M", "main")

	return dir
}

// SetupTestRepoWithRemote creates a test repository tracking a bare remote
// named origin, for exercising push and remote-delete paths.
func SetupTestRepoWithRemote(t *testing.T) (repoDir, remoteDir string) {
	t.Helper()

	remoteDir = t.TempDir()
	runGit(t, remoteDir, "init", "--bare")

	repoDir = SetupTestRepo(t)
	runGit(t, repoDir, "remote", "add", "origin", remoteDir)
	runGit(t, repoDir, "push", "-u", "origin", "main")

	return repoDir, remoteDir
}

// CommitFile writes a file and commits it in the given repository.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	fullPath := filepath.Join(repoDir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	runGit(t, repoDir, "add", path)
	runGit(t, repoDir, "commit", "-m", message)
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Shardflow Test",
		"GIT_AUTHOR_EMAIL=test@shardflow.dev",
		"GIT_COMMITTER_NAME=Shardflow Test",
		"GIT_COMMITTER_EMAIL=test@shardflow.dev",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatal(fmt.Sprintf("git %v: %v\n%s", args, err, output))
	}
}
