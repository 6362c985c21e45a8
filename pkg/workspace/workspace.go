// Package workspace materializes isolated execution directories for agent
// sessions: git worktrees on session branches, temporary directories, or the
// caller's working directory unchanged. All filesystem mutation happens under
// per-path locks so concurrent sessions never race on the same repository.
package workspace

import (
	"path/filepath"
	"regexp"
)

// IsolationType selects the isolation strategy for a session.
type IsolationType string

const (
	// IsolationNone executes directly in the configured working directory.
	IsolationNone IsolationType = "none"
	// IsolationGitWorktree creates a git worktree on a fresh session branch.
	IsolationGitWorktree IsolationType = "git_worktree"
	// IsolationTempDir creates a fresh directory under the system temp root.
	IsolationTempDir IsolationType = "temp_dir"
)

// Config declares how a session's workspace is materialized.
type Config struct {
	// WorkDir is the direct execution directory for IsolationNone.
	WorkDir string `json:"work_dir"`

	// Isolation selects the strategy.
	Isolation IsolationType `json:"isolation_type"`

	// RepoPath is the git repository to fork a worktree from.
	// Required for IsolationGitWorktree.
	RepoPath string `json:"repo_path,omitempty"`

	// BranchPrefix prefixes the session branch name:
	// {branch_prefix}-{session_id}.
	BranchPrefix string `json:"branch_prefix,omitempty"`

	// BaseBranch is the branch the session branch forks from.
	// Empty means the repository HEAD.
	BaseBranch string `json:"base_branch,omitempty"`
}

// Direct builds a no-isolation config for workDir.
func Direct(workDir string) Config {
	return Config{WorkDir: workDir, Isolation: IsolationNone}
}

// GitWorktree builds a worktree-isolation config.
func GitWorktree(repoPath, branchPrefix, baseBranch string) Config {
	return Config{
		Isolation:    IsolationGitWorktree,
		RepoPath:     repoPath,
		BranchPrefix: branchPrefix,
		BaseBranch:   baseBranch,
	}
}

// TempDir builds a temp-directory-isolation config.
func TempDir() Config {
	return Config{Isolation: IsolationTempDir}
}

// PathKind tags a materialized workspace path.
type PathKind string

const (
	PathDirect   PathKind = "direct"
	PathWorktree PathKind = "worktree"
	PathTemp     PathKind = "temp"
)

// Path is a materialized workspace: the absolute directory the agent
// executes in, plus the state needed to tear it down.
type Path struct {
	Kind PathKind `json:"kind"`
	Dir  string   `json:"dir"`

	// Branch and RepoPath are set for worktree paths only.
	Branch   string `json:"branch,omitempty"`
	RepoPath string `json:"repo_path,omitempty"`
}

// sanitize replaces characters not safe for branch or directory names.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// normalizePath returns the canonical absolute form used as a lock key.
func normalizePath(path string) (string, error) {
	if path == "" {
		return "", &Error{Kind: ErrInvalidPath, Detail: "empty path"}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &Error{Kind: ErrInvalidPath, Detail: path, Err: err}
	}
	return filepath.Clean(abs), nil
}
