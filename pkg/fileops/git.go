package fileops

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCloneTimeout = 10 * time.Minute
	defaultPullTimeout  = 5 * time.Minute
)

// Runner executes external commands. Injected so git behavior can be tested
// without a git binary or network access.
type Runner interface {
	// CombinedOutput runs name with args in dir and returns interleaved
	// stdout+stderr.
	CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// Output runs name with args in dir and returns stdout only.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func (ExecRunner) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Output()
}

// Git performs version-control operations on local working trees.
type Git struct {
	runner Runner
	logger *zap.Logger
}

// NewGit creates a Git operator. A nil runner defaults to os/exec.
func NewGit(runner Runner, logger *zap.Logger) *Git {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Git{runner: runner, logger: logger}
}

// CloneOptions contains options for cloning a repository.
type CloneOptions struct {
	URL        string
	Branch     string
	TargetPath string
	Depth      int // 0 means full clone
	Timeout    time.Duration
}

// CloneResult contains the result of a clone operation.
type CloneResult struct {
	Success   bool   `json:"success"`
	LocalPath string `json:"local_path,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Clone clones a repository to the target path. On failure the partially
// created target is removed so a retry does not hit the already-exists check.
func (g *Git) Clone(ctx context.Context, opts CloneOptions) *CloneResult {
	if opts.Timeout == 0 {
		opts.Timeout = defaultCloneTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := []string{"clone", "--progress"}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	args = append(args, opts.URL, opts.TargetPath)

	output, err := g.runner.CombinedOutput(ctx, "", "git", args...)
	if err != nil {
		if PathExists(opts.TargetPath) {
			if rmErr := RemoveAll(opts.TargetPath); rmErr != nil {
				g.logger.Warn("Failed to remove partial clone",
					zap.String("path", opts.TargetPath),
					zap.Error(rmErr),
				)
			}
		}
		return &CloneResult{
			Success: false,
			Error:   err.Error(),
			Message: string(output),
		}
	}

	return &CloneResult{
		Success:   true,
		LocalPath: opts.TargetPath,
		Message:   "Clone completed successfully",
	}
}

// PullOptions contains options for pulling a repository.
type PullOptions struct {
	RepoPath string
	Remote   string
	Branch   string
	Timeout  time.Duration
}

// PullResult contains the result of a pull operation.
type PullResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Pull fetches and merges the latest changes from a remote.
func (g *Git) Pull(ctx context.Context, opts PullOptions) *PullResult {
	if opts.Timeout == 0 {
		opts.Timeout = defaultPullTimeout
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := []string{"pull", opts.Remote}
	if opts.Branch != "" {
		args = append(args, opts.Branch)
	}

	output, err := g.runner.CombinedOutput(ctx, opts.RepoPath, "git", args...)
	if err != nil {
		return &PullResult{
			Success: false,
			Error:   err.Error(),
			Message: string(output),
		}
	}

	return &PullResult{
		Success: true,
		Message: strings.TrimSpace(string(output)),
	}
}

// Status represents the state of a working tree.
type Status struct {
	Branch        string   `json:"branch"`
	Clean         bool     `json:"clean"`
	Ahead         int      `json:"ahead"`
	Behind        int      `json:"behind"`
	Modified      []string `json:"modified,omitempty"`
	Untracked     []string `json:"untracked,omitempty"`
	LastCommit    string   `json:"last_commit,omitempty"`
	LastCommitMsg string   `json:"last_commit_msg,omitempty"`
}

// GetStatus reports the current branch, dirty files, upstream divergence and
// the latest commit of a repository.
func (g *Git) GetStatus(ctx context.Context, repoPath string) (*Status, error) {
	status := &Status{}

	branchOutput, err := g.runner.Output(ctx, repoPath, "git", "branch", "--show-current")
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	status.Branch = strings.TrimSpace(string(branchOutput))

	statusOutput, err := g.runner.Output(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	// Trim only trailing newlines: porcelain lines are column-positional and
	// a leading space in XY is meaningful (" M" = modified in worktree).
	lines := strings.Split(strings.TrimRight(string(statusOutput), "\n"), "\n")
	status.Clean = len(lines) == 1 && lines[0] == ""

	for _, line := range lines {
		if len(line) < 3 {
			continue
		}
		indicator := line[:2]
		file := strings.TrimSpace(line[3:])

		if strings.Contains(indicator, "?") {
			status.Untracked = append(status.Untracked, file)
		} else {
			status.Modified = append(status.Modified, file)
		}
	}

	// Upstream divergence. A branch without an upstream reports zero/zero.
	if countOutput, err := g.runner.Output(ctx, repoPath, "git", "rev-list", "--left-right", "--count", "@{upstream}...HEAD"); err == nil {
		fields := strings.Fields(strings.TrimSpace(string(countOutput)))
		if len(fields) == 2 {
			status.Behind, _ = strconv.Atoi(fields[0])
			status.Ahead, _ = strconv.Atoi(fields[1])
		}
	}

	logOutput, err := g.runner.Output(ctx, repoPath, "git", "log", "-1", "--format=%H|%s")
	if err == nil {
		parts := strings.SplitN(strings.TrimSpace(string(logOutput)), "|", 2)
		if len(parts) == 2 && len(parts[0]) >= 8 {
			status.LastCommit = parts[0][:8]
			status.LastCommitMsg = parts[1]
		}
	}

	return status, nil
}

// IsGitRepo reports whether a directory is inside a git working tree.
func (g *Git) IsGitRepo(ctx context.Context, path string) bool {
	_, err := g.runner.Output(ctx, path, "git", "rev-parse", "--git-dir")
	return err == nil
}
