// Package merge implements the two merge protocols this module drives:
// agent branch into sprint branch (direct, no LLM involved) and sprint
// branch into target branch (delegated to a merge engine, then
// independently verified). Grounded on the teacher's
// pkg/parallel.MergeOrchestrator for the checkout/merge/verify/abort
// shape, generalized from MergeOrchestrator's single conflict-strategy
// model to the non-ff-only, ancestry-and-parent-count-verified protocol
// this module requires.
package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seezatnap/swarm-hug/pkg/engine"
	"github.com/seezatnap/swarm-hug/pkg/gitutil"
	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
)

// AgentToSprint merges agentBranch into sprintBranch inside the sprint
// worktree (repo). If the agent branch name has drifted from what the
// worktree's HEAD is actually on, it recreates the branch at the current
// HEAD and retries the merge once, per spec.md §4.7 step 4.
func AgentToSprint(ctx context.Context, sprintRepo *gitutil.Repo, agentWorktree *gitutil.Repo, agentBranch, sprintBranch string) error {
	if current, err := agentWorktree.CurrentBranch(ctx); err != nil || current != agentBranch {
		if recreateErr := recreateAgentBranch(ctx, agentWorktree, agentBranch); recreateErr != nil {
			return swarmerr.Wrap(recreateErr, swarmerr.CodeMergeProtocol, "recreate drifted agent branch")
		}
	}

	ahead, err := agentWorktree.HasCommitsAhead(ctx, sprintBranch, agentBranch)
	if err != nil {
		return swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, "check agent branch commits ahead")
	}
	if !ahead {
		return swarmerr.Newf(swarmerr.CodeMergeProtocol, "agent branch %s has no commits ahead of %s", agentBranch, sprintBranch)
	}

	msg := fmt.Sprintf("Merge %s into %s", agentBranch, sprintBranch)
	if err := sprintRepo.MergeNoFF(ctx, agentBranch, msg); err != nil {
		sprintRepo.AbortMerge(ctx)
		if recreateErr := recreateAgentBranch(ctx, agentWorktree, agentBranch); recreateErr != nil {
			return swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, fmt.Sprintf("merge %s into %s failed and recovery failed", agentBranch, sprintBranch))
		}
		if err := sprintRepo.MergeNoFF(ctx, agentBranch, msg); err != nil {
			sprintRepo.AbortMerge(ctx)
			return swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, fmt.Sprintf("merge %s into %s failed after retry", agentBranch, sprintBranch))
		}
	}
	return nil
}

func recreateAgentBranch(ctx context.Context, agentWorktree *gitutil.Repo, agentBranch string) error {
	return agentWorktree.ForceBranchAt(ctx, agentBranch, "HEAD")
}

// Prompt renders the merge-engine prompt for the sprint-to-target merge,
// spelling out the banned strategies and the sole permitted one, per
// spec.md §4.9 step 3.
func Prompt(sprintBranch, targetBranch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge branch %q into %q.\n\n", sprintBranch, targetBranch)
	b.WriteString("Banned strategies: squash, cherry-pick, rebase, diff-apply.\n")
	fmt.Fprintf(&b, "The only permitted operation is: git merge --no-ff %s\n\n", sprintBranch)
	b.WriteString("Resolve any conflicts inside this merge. Do not abort and retry with a different strategy.\n")
	b.WriteString("Before making any manual commit, confirm MERGE_HEAD exists.\n")
	b.WriteString("After committing, verify the resulting commit has exactly two parents.\n")
	return b.String()
}

// Result is the outcome of a sprint-to-target merge.
type Result struct {
	Success     bool
	Diagnostic  string
	TargetTip   string
}

// SprintToTarget runs the verified merge protocol: preflight abort of any
// stray pre-existing MERGE_HEAD, checkout + best-effort ff pull, invoke the
// merge engine, then independently verify ancestry and parent count. On
// failure, retries the engine once before giving up with a diagnostic.
func SprintToTarget(ctx context.Context, targetRepo *gitutil.Repo, mergeEngine engine.Engine, sprintBranch, targetBranch string, timeout time.Duration) (*Result, error) {
	if targetRepo.MergeHeadExists(ctx) {
		targetRepo.AbortMerge(ctx)
	}

	if err := targetRepo.Checkout(ctx, targetBranch); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, fmt.Sprintf("checkout target branch %s", targetBranch))
	}
	_ = targetRepo.PullFastForwardOnly(ctx) // best effort, per spec.md §4.9 step 2

	prompt := Prompt(sprintBranch, targetBranch)

	sprintTip, err := targetRepo.RevParse(ctx, sprintBranch)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, fmt.Sprintf("resolve sprint branch tip %s", sprintBranch))
	}

	attempt := func() (*Result, error) {
		if _, err := mergeEngine.Execute(ctx, prompt, targetRepo.Dir, timeout); err != nil {
			return nil, err
		}
		return verify(ctx, targetRepo, sprintTip, targetBranch, sprintBranch)
	}

	result, err := attempt()
	if err != nil {
		return nil, err
	}
	if result.Success {
		return result, nil
	}

	// Single automatic retry, per spec.md §4.9 step 5.
	result, err = attempt()
	if err != nil {
		return nil, err
	}
	return result, nil
}

func verify(ctx context.Context, targetRepo *gitutil.Repo, sprintTip, targetBranch, sprintBranch string) (*Result, error) {
	targetTip, err := targetRepo.RevParse(ctx, targetBranch)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, fmt.Sprintf("resolve target branch tip %s", targetBranch))
	}

	isAncestor, err := targetRepo.IsAncestor(ctx, sprintTip, targetTip)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, "verify ancestry")
	}
	if !isAncestor {
		return &Result{Success: false, Diagnostic: fmt.Sprintf("sprint branch tip %s is not an ancestor of target branch tip %s", sprintTip, targetTip), TargetTip: targetTip}, nil
	}

	if sprintBranch != targetBranch {
		parents, err := targetRepo.ParentCount(ctx, targetTip)
		if err != nil {
			return nil, swarmerr.Wrap(err, swarmerr.CodeMergeProtocol, "count merge commit parents")
		}
		if parents != 2 {
			return &Result{Success: false, Diagnostic: fmt.Sprintf("squash-merge detected: target branch %s has a %d-parent merge commit, want 2", targetBranch, parents), TargetTip: targetTip}, nil
		}
	}

	return &Result{Success: true, TargetTip: targetTip}, nil
}
