// Package ids derives the run-scoped identifiers spec.md §3/§6 defines:
// the six-character run hash and the branch names built from it. These are
// the bottom of the dependency order (L1) — everything else in this
// module eventually names a branch or a worktree path through RunContext.
package ids

import (
	"crypto/rand"
	"fmt"
)

const hashAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRunHash returns a fresh six-character run hash, each character drawn
// uniformly from [a-z0-9] via a cryptographically adequate RNG, per
// spec.md §6. Collision probability across two runs started more than 1ms
// apart is far below 10^-8 (36^6 ≈ 2.2 billion combinations).
func NewRunHash() (string, error) {
	// Bytes at or above the largest multiple of len(hashAlphabet) are
	// rejected so the modulo maps every character with equal probability.
	limit := 256 - 256%len(hashAlphabet)
	out := make([]byte, 0, 6)
	buf := make([]byte, 1)
	for len(out) < 6 {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate run hash: %w", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		out = append(out, hashAlphabet[int(buf[0])%len(hashAlphabet)])
	}
	return string(out), nil
}

// Roster maps an agent's canonical one-letter initial to its display name.
// Order matters only for round-robin fallback assignment (spec.md §4.6),
// which walks it in this fixed order.
var Roster = []struct {
	Initial byte
	Name    string
}{
	{'A', "Aaron"},
	{'B', "Betty"},
	{'C', "Carlos"},
	{'D', "Diana"},
	{'E', "Ethan"},
	{'F', "Fiona"},
	{'G', "George"},
	{'H', "Hannah"},
	{'I', "Ivan"},
	{'J', "Julia"},
	{'K', "Kevin"},
	{'L', "Laura"},
	{'M', "Marcus"},
	{'N', "Nora"},
	{'O', "Oscar"},
	{'P', "Priya"},
	{'Q', "Quinn"},
	{'R', "Rosa"},
	{'S', "Samuel"},
	{'T', "Tara"},
}

// NameForInitial returns the canonical first name for an agent initial, or
// ok=false if the initial is not in the roster.
func NameForInitial(initial byte) (string, bool) {
	for _, entry := range Roster {
		if entry.Initial == initial {
			return entry.Name, true
		}
	}
	return "", false
}

// RunContext is immutable for the duration of one run.
type RunContext struct {
	Project      string
	SprintNumber int
	RunHash      string
}

// New validates and constructs a RunContext.
func New(project string, sprintNumber int, runHash string) (*RunContext, error) {
	if project == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if sprintNumber < 1 {
		return nil, fmt.Errorf("sprint number must be positive, got %d", sprintNumber)
	}
	if len(runHash) != 6 {
		return nil, fmt.Errorf("run hash must be 6 characters, got %q", runHash)
	}
	return &RunContext{Project: project, SprintNumber: sprintNumber, RunHash: runHash}, nil
}

// SprintBranch derives "<project>-sprint-<n>-<hash>".
func (rc *RunContext) SprintBranch() string {
	return fmt.Sprintf("%s-sprint-%d-%s", rc.Project, rc.SprintNumber, rc.RunHash)
}

// AgentBranch derives "<project>-agent-<name>-<hash>" for the given
// initial, falling back to the bare initial if it isn't in
// the roster so a misconfigured task assignment never produces an invalid
// branch name outright.
func (rc *RunContext) AgentBranch(initial byte) string {
	name, ok := NameForInitial(initial)
	if !ok {
		name = string(initial)
	}
	return fmt.Sprintf("%s-agent-%s-%s", rc.Project, name, rc.RunHash)
}
