package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seezatnap/swarm-hug/pkg/chatlog"
	"github.com/seezatnap/swarm-hug/pkg/config"
	"github.com/seezatnap/swarm-hug/pkg/engine"
	"github.com/seezatnap/swarm-hug/pkg/swarmlog"
	"github.com/seezatnap/swarm-hug/pkg/taskfile"
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

// initProjectRepo builds a primary repository with main holding tasksMD,
// then moves the primary working directory off main onto a scratch branch
// so main is free for the runner's target worktree to check out.
func initProjectRepo(t *testing.T, tasksMD string) string {
	t.Helper()
	ensureGit(t)

	dir := t.TempDir()
	if _, err := exec.Command("git", "-C", dir, "init", "-b", "main").CombinedOutput(); err != nil {
		runGit(t, dir, "init")
		runGit(t, dir, "checkout", "-b", "main")
	}
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")

	writeFile(t, filepath.Join(dir, "TASKS.md"), tasksMD)
	runGit(t, dir, "add", "TASKS.md")
	runGit(t, dir, "commit", "-m", "base")

	runGit(t, dir, "checkout", "-b", "scratch")

	return dir
}

// realMergeEngine performs an actual git merge --no-ff, standing in for the
// merge-engine CLI so SprintToTarget's verification runs against real repo
// state.
type realMergeEngine struct{}

func (realMergeEngine) Name() string { return "merge-stub" }

func (realMergeEngine) Execute(ctx context.Context, prompt, workingDir string, timeout time.Duration) (*engine.Result, error) {
	branch := extractMergeBranch(prompt)
	cmd := exec.Command("git", "merge", "--no-ff", "-m", "merge "+branch, branch)
	cmd.Dir = workingDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return &engine.Result{Success: false, ExitCode: 1, Stderr: string(out)}, nil
	}
	return &engine.Result{Success: true, ExitCode: 0}, nil
}

// extractMergeBranch pulls the branch name out of merge.Prompt's "git merge
// --no-ff <branch>" line.
func extractMergeBranch(prompt string) string {
	const marker = "git merge --no-ff "
	idx := strings.Index(prompt, marker)
	if idx == -1 {
		return ""
	}
	rest := prompt[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

func newTestRunner(t *testing.T, repoPath string, cfg *config.Config) *Runner {
	t.Helper()

	stub := engine.NewStub()
	pool, err := engine.NewPool(map[string]engine.Engine{"stub": stub}, []string{"stub"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	chat, err := chatlog.Reset(filepath.Join(t.TempDir(), "chat.md"))
	if err != nil {
		t.Fatalf("chatlog.Reset() error = %v", err)
	}
	t.Cleanup(func() { chat.Close() })

	logger, err := swarmlog.Open(filepath.Join(t.TempDir(), "loop"))
	if err != nil {
		t.Fatalf("swarmlog.Open() error = %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	return New(cfg, repoPath, pool, nil, realMergeEngine{}, chat, logger)
}

func TestRunSprint_HappyPath(t *testing.T) {
	tasksMD := "- [ ] (#1) write the readme\n- [ ] (#2) add tests\n- [ ] (#3) wire ci\n"
	dir := initProjectRepo(t, tasksMD)

	cfg := config.DefaultConfig()
	cfg.Project = "demo"
	cfg.SourceBranch = "main"
	cfg.TargetBranch = "main"
	cfg.MaxAgents = 3
	cfg.TasksPerAgent = 1
	cfg.StubMode = true
	cfg.SprintTimeout = 5 * time.Second
	cfg.TaskFilePath = "TASKS.md"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	r := newTestRunner(t, dir, cfg)

	summary, err := r.RunSprint(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSprint() error = %v", err)
	}

	if len(summary.Assignments) != 3 {
		t.Fatalf("len(Assignments) = %d, want 3", len(summary.Assignments))
	}
	if len(summary.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(summary.Results))
	}
	for _, res := range summary.Results {
		if res == nil || !res.Success {
			t.Errorf("worker result not successful: %+v", res)
		}
	}

	if summary.MergeResult == nil || !summary.MergeResult.Success {
		t.Fatalf("MergeResult not successful: %+v", summary.MergeResult)
	}

	targetData := runGit(t, dir, "show", "main:TASKS.md")
	tasks, err := taskfile.Parse([]byte(targetData + "\n"))
	if err != nil {
		t.Fatalf("parse merged task file: %v", err)
	}
	for _, task := range tasks.Tasks() {
		if task.State != taskfile.StateDone {
			t.Errorf("task #%d state = %d, want done", task.ID, task.State)
		}
	}

	parents := runGit(t, dir, "cat-file", "-p", "main")
	if strings.Count(parents, "parent") < 2 {
		t.Errorf("main tip does not look like a merge commit:\n%s", parents)
	}

	status := runGit(t, dir, "status", "--porcelain")
	if status != "" {
		t.Errorf("primary repo not clean after sprint:\n%s", status)
	}
}

func TestRunSprint_BlockerRespected(t *testing.T) {
	tasksMD := "- [ ] (#1) first task\n- [ ] (#2) second task (blocked by #1)\n- [ ] (#3) third task\n"
	dir := initProjectRepo(t, tasksMD)

	cfg := config.DefaultConfig()
	cfg.Project = "demo"
	cfg.SourceBranch = "main"
	cfg.TargetBranch = "main"
	cfg.MaxAgents = 3
	cfg.TasksPerAgent = 1
	cfg.StubMode = true
	cfg.SprintTimeout = 5 * time.Second
	cfg.TaskFilePath = "TASKS.md"

	r := newTestRunner(t, dir, cfg)

	summary1, err := r.RunSprint(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSprint(1) error = %v", err)
	}
	assignedIDs := map[int]bool{}
	for _, a := range summary1.Assignments {
		assignedIDs[a.Task.ID] = true
	}
	if assignedIDs[2] {
		t.Error("sprint 1 assigned blocked task #2")
	}
	if !assignedIDs[1] || !assignedIDs[3] {
		t.Errorf("sprint 1 assignments = %v, want #1 and #3", assignedIDs)
	}

	summary2, err := r.RunSprint(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunSprint(2) error = %v", err)
	}
	if len(summary2.Assignments) != 1 || summary2.Assignments[0].Task.ID != 2 {
		t.Errorf("sprint 2 assignments = %+v, want exactly #2", summary2.Assignments)
	}
}
