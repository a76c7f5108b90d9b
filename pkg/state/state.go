// Package state persists the small plain-text scratch records spec.md §3
// describes: SprintHistory and TeamState. Both live inside the sprint
// worktree and are mutated only there, so the primary working directory
// stays clean (spec.md §8's clean-primary-directory invariant). Modeled on
// the teacher's pkg/checkpoint persistence style, simplified from JSON to
// plain key=value text since these records hold one or two scalars each.
package state

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func readKV(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		kv[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return kv, scanner.Err()
}

func writeKV(path string, kv map[string]string, order []string) error {
	var b strings.Builder
	for _, k := range order {
		fmt.Fprintf(&b, "%s=%s\n", k, kv[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// SprintHistory tracks how many sprints this project has completed.
type SprintHistory struct {
	path         string
	TotalSprints int
}

// LoadSprintHistory reads the sprint history file, treating a missing
// file as zero sprints completed.
func LoadSprintHistory(path string) (*SprintHistory, error) {
	kv, err := readKV(path)
	if err != nil {
		return nil, err
	}
	total := 0
	if v, ok := kv["total_sprints"]; ok {
		total, _ = strconv.Atoi(v)
	}
	return &SprintHistory{path: path, TotalSprints: total}, nil
}

// PeekNextSprint returns total_sprints+1 without mutating anything.
func (h *SprintHistory) PeekNextSprint() int {
	return h.TotalSprints + 1
}

// Increment advances the in-memory counter. Save persists it.
func (h *SprintHistory) Increment() {
	h.TotalSprints++
}

// Save writes the current counter to disk (the sprint worktree's copy
// only — callers are responsible for pointing path at the worktree).
func (h *SprintHistory) Save() error {
	return writeKV(h.path, map[string]string{"total_sprints": strconv.Itoa(h.TotalSprints)}, []string{"total_sprints"})
}

// TeamState holds per-project scratch: the current feature branch and
// similar small fields.
type TeamState struct {
	path          string
	FeatureBranch string
}

// LoadTeamState reads the team state file, treating a missing file as an
// empty feature branch.
func LoadTeamState(path string) (*TeamState, error) {
	kv, err := readKV(path)
	if err != nil {
		return nil, err
	}
	return &TeamState{path: path, FeatureBranch: kv["feature_branch"]}, nil
}

// Save persists the current state to disk.
func (s *TeamState) Save() error {
	return writeKV(s.path, map[string]string{"feature_branch": s.FeatureBranch}, []string{"feature_branch"})
}
