package gittrack

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = {};\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("index.js"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now(),
		},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestHeadCommitAndChangeTracking(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	initGitRepo(t, dir)

	tr := New()
	ctx := context.Background()

	head, err := tr.HeadCommit(ctx, dir)
	if err != nil {
		t.Fatalf("head commit: %v", err)
	}
	if len(head) != 40 {
		t.Fatalf("head = %q, want a full 40-char hash", head)
	}

	changed, err := tr.HasChangedSince(ctx, dir, head)
	if err != nil {
		t.Fatalf("has changed: %v", err)
	}
	if changed {
		t.Fatalf("repo must be unchanged against its own head")
	}

	changed, err = tr.HasChangedSince(ctx, dir, "0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("has changed: %v", err)
	}
	if !changed {
		t.Fatalf("repo must differ from an unrelated hash")
	}
}

func TestHasUncommittedChanges(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	initGitRepo(t, dir)

	tr := New()
	ctx := context.Background()

	dirty, err := tr.HasUncommittedChanges(ctx, dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if dirty {
		t.Fatalf("fresh commit must leave a clean worktree")
	}

	if err := os.WriteFile(filepath.Join(dir, "new.js"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dirty, err = tr.HasUncommittedChanges(ctx, dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !dirty {
		t.Fatalf("untracked file must mark the worktree dirty")
	}
}

func TestRepositoryMetadata(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	initGitRepo(t, dir)

	tr := New()
	ctx := context.Background()

	branch, err := tr.BranchName(ctx, dir)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if branch == "" {
		t.Fatalf("branch name must not be empty")
	}

	url, err := tr.RemoteURL(ctx, dir)
	if err != nil {
		t.Fatalf("remote url: %v", err)
	}
	if url != "" {
		t.Fatalf("repo has no origin, got %q", url)
	}

	count, err := tr.CommitCount(ctx, dir)
	if err != nil {
		t.Fatalf("commit count: %v", err)
	}
	if count != 1 {
		t.Fatalf("commit count = %d, want 1", count)
	}
}

func TestNotAGitRepository(t *testing.T) {
	requireGit(t)
	tr := New()

	_, err := tr.HeadCommit(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNotAGitRepository) {
		t.Fatalf("err = %v, want ErrNotAGitRepository", err)
	}
}
