// Package gittrack wraps the git CLI for change tracking. Only read-only
// plumbing commands are issued; the tracker never mutates a repository.
package gittrack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotAGitRepository marks a path without a .git directory. This failure is
// permanent for the path and must not be retried.
var ErrNotAGitRepository = errors.New("not a git repository")

// Tracker resolves commit state for scanned repositories.
type Tracker struct {
	gitBin string
}

func New() *Tracker {
	return &Tracker{gitBin: "git"}
}

// HeadCommit returns the full hash of HEAD.
func (t *Tracker) HeadCommit(ctx context.Context, repoPath string) (string, error) {
	out, err := t.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}

// HasChangedSince reports whether HEAD differs from oldHash.
func (t *Tracker) HasChangedSince(ctx context.Context, repoPath, oldHash string) (bool, error) {
	head, err := t.HeadCommit(ctx, repoPath)
	if err != nil {
		return false, err
	}
	return head != oldHash, nil
}

// HasUncommittedChanges reports whether the worktree is dirty, including
// untracked files.
func (t *Tracker) HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error) {
	out, err := t.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// BranchName returns the current branch, or "HEAD" when detached.
func (t *Tracker) BranchName(ctx context.Context, repoPath string) (string, error) {
	return t.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
}

// RemoteURL returns the origin URL, or "" when no origin remote exists.
func (t *Tracker) RemoteURL(ctx context.Context, repoPath string) (string, error) {
	out, err := t.run(ctx, repoPath, "config", "--get", "remote.origin.url")
	if err != nil {
		// git exits 1 when the key is absent; treat that as "no remote".
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// CommitCount returns the number of commits reachable from HEAD.
func (t *Tracker) CommitCount(ctx context.Context, repoPath string) (int, error) {
	out, err := t.run(ctx, repoPath, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", out, err)
	}
	return n, nil
}

func (t *Tracker) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotAGitRepository, repoPath)
	}

	cmd := exec.CommandContext(ctx, t.gitBin, args...)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s in %s: %w: %s", strings.Join(args, " "), repoPath, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), repoPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}
