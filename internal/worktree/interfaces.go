package worktree

// Worktrees defines the git operations the shard lifecycle depends on,
// abstracted so orchestration code can be tested without real repositories.
type Worktrees interface {
	RepoDir() string
	Create(path, branch string) error
	CreateFromBranch(path, newBranch, baseBranch string) error
	Remove(path string) error
	Prune() error
	List() ([]string, error)
	GetBranch(path string) (string, error)
	BranchExists(branch string) bool
	DeleteBranch(branch string) error
	DeleteRemoteBranch(branch string) error
	HasUncommittedChanges(path string) (bool, error)
	Push(path string, force bool) error
	FindMainBranch() string
}

var _ Worktrees = (*Manager)(nil)
