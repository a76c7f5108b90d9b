package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func ensureGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	ensureGit(t)

	dir := t.TempDir()
	if _, err := exec.Command("git", "-C", dir, "init", "-b", "main").CombinedOutput(); err != nil {
		runGit(t, dir, "init")
		runGit(t, dir, "checkout", "-b", "main")
	}
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")

	writeFile(t, filepath.Join(dir, "file.txt"), "base\n")
	runGit(t, dir, "add", "file.txt")
	runGit(t, dir, "commit", "-m", "base")

	return dir
}

func TestSanitizeBranchName(t *testing.T) {
	cases := map[string]string{
		"agent/task-1":    "agent-task-1",
		"feature.x_y":     "feature.x_y",
		"sprint:2026":     "sprint-2026",
		"already-safe123": "already-safe123",
	}
	for input, want := range cases {
		if got := sanitizeBranchName(input); got != want {
			t.Errorf("sanitizeBranchName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCreateSprintAndAgentWorktrees(t *testing.T) {
	dir := initTestRepo(t)
	mgr := New(dir, "myproj")
	ctx := context.Background()

	sprintPath, err := mgr.CreateSprintWorktree(ctx, "sprint/1", "main")
	if err != nil {
		t.Fatalf("CreateSprintWorktree() error = %v", err)
	}
	if _, err := os.Stat(sprintPath); err != nil {
		t.Fatalf("sprint worktree path does not exist: %v", err)
	}

	agentPath, err := mgr.CreateAgentWorktree(ctx, "agent/task-1", "sprint/1")
	if err != nil {
		t.Fatalf("CreateAgentWorktree() error = %v", err)
	}
	if _, err := os.Stat(agentPath); err != nil {
		t.Fatalf("agent worktree path does not exist: %v", err)
	}

	path, found, err := mgr.FindWorktreeForBranch(ctx, "agent/task-1")
	if err != nil {
		t.Fatalf("FindWorktreeForBranch() error = %v", err)
	}
	if !found {
		t.Fatal("FindWorktreeForBranch() found = false, want true")
	}
	if path != agentPath {
		t.Errorf("FindWorktreeForBranch() path = %q, want %q", path, agentPath)
	}

	if err := mgr.RemoveAgentWorktree(ctx, agentPath, "agent/task-1"); err != nil {
		t.Fatalf("RemoveAgentWorktree() error = %v", err)
	}
	if _, err := os.Stat(agentPath); !os.IsNotExist(err) {
		t.Error("agent worktree path still exists after removal")
	}

	if err := mgr.RemoveSprintWorktree(ctx, sprintPath, "sprint/1"); err != nil {
		t.Fatalf("RemoveSprintWorktree() error = %v", err)
	}
}

func TestTargetWorktree_CreatesFresh(t *testing.T) {
	dir := initTestRepo(t)
	// Move the primary working directory off main so main is free for the
	// target worktree to check out.
	runGit(t, dir, "checkout", "-b", "scratch")
	mgr := New(dir, "myproj")
	ctx := context.Background()

	path, err := mgr.TargetWorktree(ctx, "main")
	if err != nil {
		t.Fatalf("TargetWorktree() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("target worktree path does not exist: %v", err)
	}

	realRoot, err := canonical(mgr.sharedRoot)
	if err != nil {
		t.Fatalf("canonical(sharedRoot): %v", err)
	}
	realPath, err := canonical(path)
	if err != nil {
		t.Fatalf("canonical(path): %v", err)
	}
	if !isDescendant(realRoot, realPath) {
		t.Errorf("target worktree %q not under shared root %q", realPath, realRoot)
	}
}

func TestTargetWorktree_ReusesExisting(t *testing.T) {
	dir := initTestRepo(t)
	runGit(t, dir, "checkout", "-b", "scratch")
	mgr := New(dir, "myproj")
	ctx := context.Background()

	first, err := mgr.TargetWorktree(ctx, "main")
	if err != nil {
		t.Fatalf("TargetWorktree() first call error = %v", err)
	}

	second, err := mgr.TargetWorktree(ctx, "main")
	if err != nil {
		t.Fatalf("TargetWorktree() second call error = %v", err)
	}

	if first != second {
		t.Errorf("TargetWorktree() not idempotent: %q vs %q", first, second)
	}
}

func TestTargetWorktree_RejectsOutsideSharedRoot(t *testing.T) {
	dir := initTestRepo(t)
	runGit(t, dir, "checkout", "-b", "scratch")
	mgr := New(dir, "myproj")
	ctx := context.Background()

	outsidePath := filepath.Join(t.TempDir(), "outside-wt")
	if err := mgr.Repo().AddWorktreeAt(ctx, outsidePath, "main"); err != nil {
		t.Fatalf("AddWorktreeAt() error = %v", err)
	}

	_, err := mgr.TargetWorktree(ctx, "main")
	if err == nil {
		t.Fatal("TargetWorktree() error = nil, want error for worktree outside shared root")
	}
}

func TestIsDescendant(t *testing.T) {
	cases := []struct {
		root, child string
		want        bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/a/b/../../etc", false},
	}
	for _, c := range cases {
		if got := isDescendant(filepath.Clean(c.root), filepath.Clean(c.child)); got != c.want {
			t.Errorf("isDescendant(%q, %q) = %v, want %v", c.root, c.child, got, c.want)
		}
	}
}

func TestRecoverStale_RemovesGoneDirectory(t *testing.T) {
	dir := initTestRepo(t)
	mgr := New(dir, "myproj")
	ctx := context.Background()

	path := filepath.Join(mgr.sprintRoot, "sprint-stale")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := mgr.Repo().AddWorktree(ctx, path, "sprint/stale", "main"); err != nil {
		t.Fatalf("AddWorktree() error = %v", err)
	}

	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("RemoveAll(path): %v", err)
	}

	if err := mgr.recoverStale(ctx, path); err != nil {
		t.Fatalf("recoverStale() error = %v", err)
	}

	descriptors, err := mgr.Repo().ListWorktrees(ctx)
	if err != nil {
		t.Fatalf("ListWorktrees() error = %v", err)
	}
	for _, d := range descriptors {
		if d.Path == path {
			t.Errorf("stale registration for %q still present after recoverStale", path)
		}
	}

	newPath, err := mgr.CreateSprintWorktree(ctx, "sprint/stale", "main")
	if err != nil {
		t.Fatalf("CreateSprintWorktree() after recovery error = %v", err)
	}
	if newPath != path {
		t.Errorf("CreateSprintWorktree() path = %q, want %q", newPath, path)
	}
}
