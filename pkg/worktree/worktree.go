// Package worktree manages the three kinds of git worktree this module
// drives — the long-lived target-branch worktree, the per-sprint worktree,
// and per-task agent worktrees — with the stale-state recovery and
// shared-root resolution policy spec.md §4.5 describes. Grounded on the
// teacher's pkg/worktree.Manager (path layout, list/create/remove) and
// pkg/parallel/agents.go's WorktreeManager interface seam, generalized from
// a single worktree-root-per-branch-name scheme to the three-tier
// target/sprint/agent hierarchy.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/seezatnap/swarm-hug/pkg/gitutil"
	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
)

// Manager creates and tears down worktrees against one primary repository.
type Manager struct {
	repo       *gitutil.Repo
	repoPath   string
	sharedRoot string // <repo>/swarm-hub/.shared/worktrees
	sprintRoot string // .swarm-hug/<project>/worktrees
}

// New constructs a Manager rooted at repoPath, with conventional shared and
// per-project worktree roots.
func New(repoPath, project string) *Manager {
	return &Manager{
		repo:       gitutil.New(repoPath),
		repoPath:   repoPath,
		sharedRoot: filepath.Join(repoPath, "swarm-hub", ".shared", "worktrees"),
		sprintRoot: filepath.Join(repoPath, ".swarm-hug", project, "worktrees"),
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeBranchName(branch string) string {
	return unsafePathChars.ReplaceAllString(branch, "-")
}

// recoverStale consults list_worktrees; if a registration exists for path
// but the directory is gone from disk, force-removes the stale
// registration so a fresh create can proceed. For a path under the sprint
// root (sprint and agent worktrees) the registration's branch is deleted
// too; a target worktree's branch is kept. Any other mismatch is reported
// rather than forced through, per spec.md §4.5.
func (m *Manager) recoverStale(ctx context.Context, path string) error {
	descriptors, err := m.repo.ListWorktrees(ctx)
	if err != nil {
		return swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "list worktrees")
	}
	for _, d := range descriptors {
		if d.Path != path {
			continue
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if err := m.repo.RemoveWorktree(ctx, path, true); err != nil {
				return swarmerr.Wrap(err, swarmerr.CodeWorktreeState, fmt.Sprintf("force-remove stale registration for %s", path))
			}
			if d.Branch != "" && strings.HasPrefix(path, m.sprintRoot+string(filepath.Separator)) {
				_ = m.repo.DeleteBranch(ctx, d.Branch)
			}
			return nil
		}
	}
	return nil
}

// TargetWorktree resolves (creating if necessary) the long-lived worktree
// for a target branch, under the shared root. Resolution policy per
// spec.md §4.5: reuse a worktree under the shared root; refuse one that
// exists outside it; otherwise create a fresh one.
func (m *Manager) TargetWorktree(ctx context.Context, targetBranch string) (string, error) {
	descriptors, err := m.repo.ListWorktrees(ctx)
	if err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "list worktrees")
	}

	sharedRootReal, err := canonical(m.sharedRoot)
	if err != nil {
		// Shared root may not exist yet; that's fine, nothing can be a
		// descendant of a directory that doesn't exist.
		sharedRootReal = filepath.Clean(m.sharedRoot)
	}

	for _, d := range descriptors {
		if d.Branch != targetBranch {
			continue
		}
		pathReal, err := canonical(d.Path)
		if err != nil {
			pathReal = filepath.Clean(d.Path)
		}
		if isDescendant(sharedRootReal, pathReal) {
			if _, statErr := os.Stat(d.Path); statErr == nil {
				return d.Path, nil
			}
			if err := m.recoverStale(ctx, d.Path); err != nil {
				return "", err
			}
			break
		}
		return "", swarmerr.Newf(swarmerr.CodeWorktreeState,
			"worktree for target branch %q exists outside the shared root: %s", targetBranch, d.Path)
	}

	path := filepath.Join(m.sharedRoot, sanitizeBranchName(targetBranch))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "create shared worktree root")
	}
	if err := m.repo.AddWorktreeAt(ctx, path, targetBranch); err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, fmt.Sprintf("create target worktree for %s", targetBranch))
	}
	return path, nil
}

// canonical resolves symlinks and makes path absolute, rejecting `..`
// escapes implicitly because EvalSymlinks returns a clean absolute path.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// isDescendant reports whether child is root or a descendant of root, both
// already canonicalized.
func isDescendant(root, child string) bool {
	if root == child {
		return true
	}
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CreateSprintWorktree creates a fresh sprint worktree at
// .swarm-hug/<project>/worktrees/<sprintBranch>, forked from the current
// tip of targetBranch (not a stored base commit, per spec.md §4.5, so
// concurrent runs targeting different branches see independent starts).
func (m *Manager) CreateSprintWorktree(ctx context.Context, sprintBranch, targetBranch string) (string, error) {
	path := filepath.Join(m.sprintRoot, sanitizeBranchName(sprintBranch))
	if err := m.recoverStale(ctx, path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "create sprint worktree root")
	}
	if err := m.repo.AddWorktree(ctx, path, sprintBranch, targetBranch); err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, fmt.Sprintf("create sprint worktree %s", sprintBranch))
	}
	return path, nil
}

// CreateAgentWorktree creates a per-task worktree forked from the current
// tip of the sprint branch.
func (m *Manager) CreateAgentWorktree(ctx context.Context, agentBranch, sprintBranch string) (string, error) {
	path := filepath.Join(m.sprintRoot, sanitizeBranchName(agentBranch))
	if err := m.recoverStale(ctx, path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "create agent worktree root")
	}
	if err := m.repo.AddWorktree(ctx, path, agentBranch, sprintBranch); err != nil {
		return "", swarmerr.Wrap(err, swarmerr.CodeWorktreeState, fmt.Sprintf("create agent worktree %s", agentBranch))
	}
	return path, nil
}

// RemoveAgentWorktree force-removes an agent worktree and its branch — the
// unmerged work is the failure signal, so force is correct here per
// spec.md §4.7 step 5.
func (m *Manager) RemoveAgentWorktree(ctx context.Context, path, branch string) error {
	if err := m.repo.RemoveWorktree(ctx, path, true); err != nil {
		return swarmerr.Wrap(err, swarmerr.CodeWorktreeState, fmt.Sprintf("remove agent worktree %s", path))
	}
	_ = m.repo.DeleteBranch(ctx, branch)
	return nil
}

// RemoveSprintWorktree force-removes the sprint worktree and its branch
// after the sprint has merged into the target branch.
func (m *Manager) RemoveSprintWorktree(ctx context.Context, path, branch string) error {
	if err := m.repo.RemoveWorktree(ctx, path, true); err != nil {
		return swarmerr.Wrap(err, swarmerr.CodeWorktreeState, fmt.Sprintf("remove sprint worktree %s", path))
	}
	_ = m.repo.DeleteBranch(ctx, branch)
	return nil
}

// FindWorktreeForBranch returns the path of the worktree checked out at
// branch, if any.
func (m *Manager) FindWorktreeForBranch(ctx context.Context, branch string) (string, bool, error) {
	descriptors, err := m.repo.ListWorktrees(ctx)
	if err != nil {
		return "", false, swarmerr.Wrap(err, swarmerr.CodeWorktreeState, "list worktrees")
	}
	for _, d := range descriptors {
		if d.Branch == branch {
			return d.Path, true, nil
		}
	}
	return "", false, nil
}

// Repo exposes the underlying gitutil.Repo for callers (merge protocol,
// runner) that need lower-level operations against the primary repository.
func (m *Manager) Repo() *gitutil.Repo {
	return m.repo
}
