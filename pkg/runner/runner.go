// Package runner drives one sprint from assignment through integration:
// Prepare, Plan, Execute, Review, Integrate, per spec.md §2/§4.7. Grounded
// on the teacher's pkg/parallel.Coordinator (wave partitioning, worker
// pool, merge-on-completion wiring), generalized from Coordinator's
// scope-conflict wave model to the simpler single-wave, per-task-worker
// model spec.md §4.7 describes, with golang.org/x/sync/errgroup replacing
// the teacher's hand-rolled channel-based Orchestrator so that
// errgroup.Group.Wait() directly gives the "every worker terminated before
// the sprint-to-target merge" ordering guarantee spec.md §5 requires.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seezatnap/swarm-hug/pkg/chatlog"
	"github.com/seezatnap/swarm-hug/pkg/config"
	"github.com/seezatnap/swarm-hug/pkg/engine"
	"github.com/seezatnap/swarm-hug/pkg/gitutil"
	"github.com/seezatnap/swarm-hug/pkg/ids"
	"github.com/seezatnap/swarm-hug/pkg/merge"
	"github.com/seezatnap/swarm-hug/pkg/metrics"
	"github.com/seezatnap/swarm-hug/pkg/planner"
	"github.com/seezatnap/swarm-hug/pkg/shutdown"
	"github.com/seezatnap/swarm-hug/pkg/state"
	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
	"github.com/seezatnap/swarm-hug/pkg/swarmlog"
	"github.com/seezatnap/swarm-hug/pkg/taskfile"
	"github.com/seezatnap/swarm-hug/pkg/worktree"
)

const heartbeatPeriod = 5 * time.Minute

// Runner drives one run (a sequence of sprints) for a single project
// against one repository.
type Runner struct {
	cfg          *config.Config
	repoPath     string
	wt           *worktree.Manager
	pool         *engine.Pool
	reviewEngine engine.Engine
	mergeEngine  engine.Engine
	chat         *chatlog.Log
	logger       *swarmlog.Logger

	mergeMu sync.Mutex
}

// New constructs a Runner. The caller is responsible for wiring the
// shutdown flag and process registry into pool/reviewEngine/mergeEngine
// before passing them in, since those are engine-level concerns (§4.4).
func New(cfg *config.Config, repoPath string, pool *engine.Pool, reviewEngine, mergeEngine engine.Engine, chat *chatlog.Log, logger *swarmlog.Logger) *Runner {
	return &Runner{
		cfg:          cfg,
		repoPath:     repoPath,
		wt:           worktree.New(repoPath, cfg.Project),
		pool:         pool,
		reviewEngine: reviewEngine,
		mergeEngine:  mergeEngine,
		chat:         chat,
		logger:       logger,
	}
}

// WorkerResult is the outcome of one agent's attempt at one task.
type WorkerResult struct {
	Initial  byte
	TaskID   int
	Success  bool
	Engine   string
	Duration time.Duration
	Err      error
}

// Summary is the result of one full sprint.
type Summary struct {
	RunHash      string
	SprintNumber int
	SprintBranch string
	TargetBranch string
	Assignments  []planner.Assignment
	Results      []*WorkerResult
	MergeResult  *merge.Result
}

// resolveBranches implements spec.md §4.10's source/target resolution
// table.
func (r *Runner) resolveBranches(ctx context.Context) (source, target string, err error) {
	repo := r.wt.Repo()
	switch {
	case r.cfg.SourceBranch == "" && r.cfg.TargetBranch == "":
		detected, detectErr := repo.AutoDetectBranch(ctx)
		if detectErr != nil {
			return "", "", swarmerr.Wrap(detectErr, swarmerr.CodeConfig, "auto-detect source/target branch")
		}
		return detected, detected, nil
	case r.cfg.SourceBranch != "" && r.cfg.TargetBranch == "":
		return r.cfg.SourceBranch, r.cfg.SourceBranch, nil
	case r.cfg.SourceBranch == "" && r.cfg.TargetBranch != "":
		return "", "", swarmerr.New(swarmerr.CodeConfig, "target branch requires an explicit source branch")
	default:
		return r.cfg.SourceBranch, r.cfg.TargetBranch, nil
	}
}

// RunSprint executes Prepare, Plan, Execute, Review, Integrate for one
// sprint and returns a summary. A merge-protocol failure is returned as an
// error (exit code derives from swarmerr.Error.ExitCode) rather than
// aborting silently; per spec.md §7, worker failures never abort the
// sprint, only planning and merge failures do.
func (r *Runner) RunSprint(ctx context.Context, sprintNumber int) (*Summary, error) {
	metrics.SprintsStarted.Inc()

	source, target, err := r.resolveBranches(ctx)
	if err != nil {
		return nil, err
	}

	runHash, err := ids.NewRunHash()
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, "generate run hash")
	}
	rc, err := ids.New(r.cfg.Project, sprintNumber, runHash)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, "construct run context")
	}

	sprintPath, err := r.wt.CreateSprintWorktree(ctx, rc.SprintBranch(), source)
	if err != nil {
		return nil, err
	}
	sprintRepo := gitutil.New(sprintPath)

	taskFilePath := filepath.Join(sprintPath, r.cfg.TaskFilePath)
	data, err := os.ReadFile(taskFilePath)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, fmt.Sprintf("read task file %s", taskFilePath))
	}
	tasks, err := taskfile.Parse(data)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, "parse task file")
	}
	tasks.AssignMissingIDs()

	stateDir := filepath.Join(sprintPath, ".swarm-hug", r.cfg.Project)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "create state directory")
	}

	history, err := state.LoadSprintHistory(filepath.Join(stateDir, "sprint_history"))
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "load sprint history")
	}
	team, err := state.LoadTeamState(filepath.Join(stateDir, "team_state"))
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "load team state")
	}
	team.FeatureBranch = rc.SprintBranch()

	rosterSize := min(r.cfg.MaxAgents, len(ids.Roster))
	roster := make([]byte, rosterSize)
	for i := 0; i < rosterSize; i++ {
		roster[i] = ids.Roster[i].Initial
	}

	var planEngine engine.Engine
	if !r.cfg.StubMode {
		planEngine = r.pool.Pick()
	}
	assignments := planner.Plan(ctx, planner.Params{
		Tasks:         tasks,
		Roster:        roster,
		TasksPerAgent: r.cfg.TasksPerAgent,
		Timeout:       r.cfg.SprintTimeout,
	}, planEngine, sprintPath)

	for _, a := range assignments {
		if err := a.Task.Assign(a.Initial); err != nil {
			return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, "assign task")
		}
		metrics.TasksAssigned.Inc()
	}

	history.Increment()
	if err := history.Save(); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "save sprint history")
	}
	if err := team.Save(); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "save team state")
	}
	if err := os.WriteFile(taskFilePath, tasks.Serialize(), 0644); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "write task file")
	}
	if err := sprintRepo.Commit(ctx, fmt.Sprintf("Sprint %d: assign %d tasks", sprintNumber, len(assignments))); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, "commit sprint assignment")
	}

	_ = r.chat.Append(time.Now(), "runner", chatlog.CategorySprint, fmt.Sprintf("sprint %d started: %d tasks assigned", sprintNumber, len(assignments)))

	results := r.execute(ctx, rc, sprintRepo, sprintPath, assignments)

	if len(assignments) > 0 {
		if err := os.WriteFile(taskFilePath, tasks.Serialize(), 0644); err != nil {
			return nil, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "write task file outcomes")
		}
		if err := sprintRepo.Commit(ctx, fmt.Sprintf("Sprint %d: record task outcomes", sprintNumber)); err != nil {
			return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, "commit sprint task outcomes")
		}
	}

	if err := r.review(ctx, sprintRepo, sprintPath, tasks, rc, source); err != nil {
		_ = r.logger.Warn(swarmlog.CategorySprint, "review_failed", err.Error(), nil)
	}

	summary := &Summary{
		RunHash:      runHash,
		SprintNumber: sprintNumber,
		SprintBranch: rc.SprintBranch(),
		TargetBranch: target,
		Assignments:  assignments,
		Results:      results,
	}

	if err := r.writeManifest(sprintPath, summary); err != nil {
		_ = r.logger.Warn(swarmlog.CategorySprint, "manifest_write_failed", err.Error(), nil)
	} else if err := sprintRepo.Commit(ctx, fmt.Sprintf("Sprint %d: record manifest", sprintNumber)); err != nil {
		_ = r.logger.Warn(swarmlog.CategorySprint, "manifest_commit_failed", err.Error(), nil)
	}

	targetPath, err := r.wt.TargetWorktree(ctx, target)
	if err != nil {
		return summary, err
	}
	targetRepo := gitutil.New(targetPath)

	mergeResult, err := merge.SprintToTarget(ctx, targetRepo, r.mergeEngine, rc.SprintBranch(), target, r.cfg.SprintTimeout)
	if err != nil {
		return summary, err
	}
	summary.MergeResult = mergeResult

	if !mergeResult.Success {
		metrics.TargetMergesFailed.Inc()
		_ = r.chat.Append(time.Now(), "runner", chatlog.CategoryMerge, fmt.Sprintf("sprint-to-target merge failed: %s", mergeResult.Diagnostic))
		return summary, swarmerr.Newf(swarmerr.CodeMergeProtocol, "sprint-to-target merge verification failed for %s: %s", target, mergeResult.Diagnostic)
	}
	metrics.TargetMergesSucceeded.Inc()

	if r.cfg.PushOnSuccess && r.cfg.TargetBranch != "" {
		if err := targetRepo.Push(ctx, target); err != nil {
			_ = r.logger.Warn(swarmlog.CategorySprint, "push_failed", err.Error(), nil)
		}
	}

	if err := r.wt.RemoveSprintWorktree(ctx, sprintPath, rc.SprintBranch()); err != nil {
		_ = r.logger.Warn(swarmlog.CategorySprint, "sprint_worktree_cleanup_failed", err.Error(), nil)
	}

	_ = r.chat.Append(time.Now(), "runner", chatlog.CategorySprint, fmt.Sprintf("sprint %d complete", sprintNumber))

	return summary, nil
}

// execute runs every assignment as an independent worker, bounded by
// MaxAgents concurrency, per spec.md §4.7/§5. A heartbeat goroutine emits a
// chat entry every ~5 minutes while any worker is WORKING.
func (r *Runner) execute(ctx context.Context, rc *ids.RunContext, sprintRepo *gitutil.Repo, sprintPath string, assignments []planner.Assignment) []*WorkerResult {
	results := make([]*WorkerResult, len(assignments))

	var active atomic.Int32
	heartbeatDone := make(chan struct{})
	go r.heartbeat(&active, heartbeatDone)
	defer close(heartbeatDone)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxAgents)

	for i, a := range assignments {
		i, a := i, a
		g.Go(func() error {
			active.Add(1)
			defer active.Add(-1)
			results[i] = r.runWorker(gctx, rc, sprintRepo, sprintPath, a)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) heartbeat(active *atomic.Int32, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := active.Load(); n > 0 {
				_ = r.chat.Append(time.Now(), "runner", chatlog.CategoryHeartbeat, fmt.Sprintf("%d agent(s) still working", n))
			}
		}
	}
}

// runWorker drives one ASSIGNED → WORKING → DONE → TERMINATED cycle for a
// single task, per spec.md §4.7.
func (r *Runner) runWorker(ctx context.Context, rc *ids.RunContext, sprintRepo *gitutil.Repo, sprintPath string, a planner.Assignment) *WorkerResult {
	start := time.Now()
	name, _ := ids.NameForInitial(a.Initial)
	agentBranch := rc.AgentBranch(a.Initial)

	result := &WorkerResult{Initial: a.Initial, TaskID: a.Task.ID}

	agentPath, err := r.wt.CreateAgentWorktree(ctx, agentBranch, rc.SprintBranch())
	if err != nil {
		a.Task.MarkFailed()
		result.Err = err
		metrics.TasksFailed.Inc()
		return result
	}
	agentWorktree := gitutil.New(agentPath)

	_ = r.chat.Append(time.Now(), name, chatlog.CategoryAgent, fmt.Sprintf("starting task #%d: %s", a.Task.ID, a.Task.Description))

	var eng engine.Engine
	if r.cfg.StubMode {
		eng = engine.NewStub()
	} else {
		eng = r.pool.Pick()
	}
	result.Engine = eng.Name()

	prompt := renderTaskPrompt(a.Task, agentBranch)

	engineResult, execErr := eng.Execute(ctx, prompt, agentPath, r.cfg.SprintTimeout)
	if execErr == swarmerr.ShutdownRequested {
		result.Err = execErr
		return result
	}
	if execErr == nil && engineResult != nil && engineResult.ExitCode == 124 {
		// Original implementation retries a timed-out task once within the
		// same sprint before marking it failed.
		engineResult, execErr = eng.Execute(ctx, prompt, agentPath, r.cfg.SprintTimeout)
	}

	if execErr != nil || engineResult == nil || !engineResult.Success {
		a.Task.MarkFailed()
		_ = r.chat.Append(time.Now(), name, chatlog.CategoryAgent, fmt.Sprintf("task #%d failed: engine error", a.Task.ID))
		_ = r.wt.RemoveAgentWorktree(ctx, agentPath, agentBranch)
		metrics.TasksFailed.Inc()
		result.Duration = time.Since(start)
		return result
	}

	r.mergeMu.Lock()
	mergeErr := merge.AgentToSprint(ctx, sprintRepo, agentWorktree, agentBranch, rc.SprintBranch())
	r.mergeMu.Unlock()

	if mergeErr != nil {
		a.Task.MarkFailed()
		_ = r.chat.Append(time.Now(), name, chatlog.CategoryMerge, fmt.Sprintf("task #%d merge failed: %v", a.Task.ID, mergeErr))
		metrics.AgentMergesFailed.Inc()
		metrics.TasksFailed.Inc()
	} else {
		if err := a.Task.MarkDone(a.Initial); err != nil {
			a.Task.MarkFailed()
		} else {
			result.Success = true
			metrics.AgentMergesSucceeded.Inc()
			metrics.TasksCompleted.Inc()
		}
		_ = r.chat.Append(time.Now(), name, chatlog.CategoryAgent, fmt.Sprintf("task #%d done", a.Task.ID))
	}

	if err := r.wt.RemoveAgentWorktree(ctx, agentPath, agentBranch); err != nil {
		_ = r.logger.Warn(swarmlog.CategoryWorktreeState, "agent_worktree_cleanup_failed", err.Error(), map[string]any{"agent": name})
	}

	result.Duration = time.Since(start)
	return result
}

// review invokes the review engine with the sprint's commit log and task
// file, per spec.md §4.8, appending any follow-up tasks it surfaces.
func (r *Runner) review(ctx context.Context, sprintRepo *gitutil.Repo, sprintPath string, tasks *taskfile.TaskList, rc *ids.RunContext, sourceBranch string) error {
	if r.reviewEngine == nil {
		return nil
	}

	log, err := sprintRepo.Log(ctx, sourceBranch, rc.SprintBranch())
	if err != nil {
		log = ""
	}

	prompt := fmt.Sprintf("Review this sprint's commits and task file. If no follow-up work is needed, reply with exactly NO_FOLLOWUPS_NEEDED. Otherwise list new task descriptions, one per line.\n\nCommits:\n%s\n\nTask file:\n%s\n", log, string(tasks.Serialize()))

	result, err := r.reviewEngine.Execute(ctx, prompt, sprintPath, r.cfg.SprintTimeout)
	if err != nil || result == nil || !result.Success {
		return nil
	}

	followUps := parseFollowUps(result.Stdout)
	if len(followUps) == 0 {
		return nil
	}

	tasks.AppendFollowUps("Follow-up tasks (from sprint review)", followUps)

	taskFilePath := filepath.Join(sprintPath, r.cfg.TaskFilePath)
	if err := os.WriteFile(taskFilePath, tasks.Serialize(), 0644); err != nil {
		return swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "write follow-up tasks")
	}
	return sprintRepo.Commit(ctx, "Sprint review: record follow-up tasks")
}

func parseFollowUps(stdout string) []string {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "NO_FOLLOWUPS_NEEDED" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func renderTaskPrompt(t *taskfile.Task, agentBranch string) string {
	return fmt.Sprintf("You are working on branch %s. Complete the following task, then commit your changes:\n\n#%d: %s\n", agentBranch, t.ID, t.Description)
}

// manifestTask captures one assignment's outcome for forensic review.
type manifestTask struct {
	TaskID    int     `json:"task_id"`
	Agent     byte    `json:"agent"`
	Success   bool    `json:"success"`
	Engine    string  `json:"engine"`
	Durations float64 `json:"duration_seconds"`
}

type manifest struct {
	RunHash      string         `json:"run_hash"`
	SprintNumber int            `json:"sprint_number"`
	SprintBranch string         `json:"sprint_branch"`
	Tasks        []manifestTask `json:"tasks"`
}

// writeManifest records per-sprint forensic output (task assignments,
// engine choices, durations) the original implementation always produced
// alongside chat.md; spec.md's distillation dropped it, but it costs
// nothing once Summary exists.
func (r *Runner) writeManifest(sprintPath string, summary *Summary) error {
	m := manifest{
		RunHash:      summary.RunHash,
		SprintNumber: summary.SprintNumber,
		SprintBranch: summary.SprintBranch,
	}
	for _, res := range summary.Results {
		if res == nil {
			continue
		}
		m.Tasks = append(m.Tasks, manifestTask{
			TaskID:    res.TaskID,
			Agent:     res.Initial,
			Success:   res.Success,
			Engine:    res.Engine,
			Durations: res.Duration.Seconds(),
		})
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sprintPath, "manifest.json"), data, 0644)
}

// ShutdownRegistry wires the global shutdown flag into a killer capable of
// terminating this run's tracked children. Called once at process startup.
func ShutdownRegistry(killer shutdown.Killer) {
	shutdown.Install(killer)
}
