// Package worktree manages per-agent git worktrees. Each agent gets an
// isolated checkout under .worktrees/ in the project root on a dedicated
// branch; all worktrees share the same object database.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"alchemistral/internal/logging"
)

var logger = logging.NewComponentLogger("Worktree")

// Info describes one entry of `git worktree list --porcelain`.
type Info struct {
	Path   string `json:"path"`
	Head   string `json:"head,omitempty"`
	Branch string `json:"branch,omitempty"`
	Bare   bool   `json:"bare,omitempty"`
}

// BranchName returns the branch an agent's worktree is checked out on.
func BranchName(agentID string) string {
	return "agent/" + agentID
}

// Dir returns the worktree directory for an agent under the project root.
func Dir(projectPath, agentID string) string {
	return filepath.Join(projectPath, ".worktrees", agentID)
}

func runGit(ctx context.Context, cwd string, args ...string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		} else {
			exitCode = -1
		}
	}
	return exitCode, stdout.String(), stderr.String(), err
}

// Create makes a worktree for agentID on branch agent/<agentID> and returns
// its absolute path. Idempotent: an existing directory is returned as is.
func Create(ctx context.Context, projectPath, agentID string) (string, error) {
	dir := Dir(projectPath, agentID)
	branch := BranchName(agentID)

	if _, err := os.Stat(dir); err == nil {
		logger.Info("worktree already exists: %s", dir)
		return dir, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("create .worktrees dir: %w", err)
	}

	rc, _, stderr, err := runGit(ctx, projectPath, "worktree", "add", dir, "-b", branch)
	if err != nil {
		return "", fmt.Errorf("git worktree add: %w", err)
	}
	if rc != 0 {
		return "", fmt.Errorf("git worktree add failed: %s", strings.TrimSpace(stderr))
	}

	logger.Info("created worktree %s on branch %s", dir, branch)
	return dir, nil
}

// List parses the porcelain worktree listing for a project.
func List(ctx context.Context, projectPath string) ([]Info, error) {
	rc, stdout, stderr, err := runGit(ctx, projectPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}
	if rc != 0 {
		logger.Warn("git worktree list failed: %s", strings.TrimSpace(stderr))
		return nil, nil
	}
	return parsePorcelain(stdout), nil
}

func parsePorcelain(out string) []Info {
	var worktrees []Info
	var current *Info
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Info{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if current != nil {
				current.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if current != nil {
				current.Branch = strings.TrimPrefix(line, "branch ")
			}
		case line == "bare":
			if current != nil {
				current.Bare = true
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}

// Remove force-removes an agent's worktree and deletes its branch. A failed
// branch delete is logged, not fatal; stale branches are tolerable.
func Remove(ctx context.Context, projectPath, agentID string) error {
	dir := Dir(projectPath, agentID)
	branch := BranchName(agentID)

	if _, err := os.Stat(dir); err == nil {
		rc, _, stderr, err := runGit(ctx, projectPath, "worktree", "remove", dir, "--force")
		if err != nil {
			return fmt.Errorf("git worktree remove: %w", err)
		}
		if rc != 0 {
			logger.Warn("git worktree remove failed: %s", strings.TrimSpace(stderr))
		}
	}

	rc, _, stderr, err := runGit(ctx, projectPath, "branch", "-D", branch)
	if err != nil {
		return fmt.Errorf("git branch -D: %w", err)
	}
	if rc != 0 {
		logger.Debug("branch cleanup %s: %s", branch, strings.TrimSpace(stderr))
	}

	logger.Info("removed worktree %s", dir)
	return nil
}
