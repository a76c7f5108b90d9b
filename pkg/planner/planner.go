// Package planner assigns backlog tasks to agents for one sprint,
// optionally consulting a planning engine's JSON reply and otherwise
// falling back to a deterministic round-robin, per spec.md §4.6. Grounded
// on the teacher's pkg/orchestrator.CommitGenerator.extractJSON for the
// "find JSON amid prose" problem, upgraded from a naive first-`{`-to-last-
// `}` scan to a balanced-brace, string-aware scanner (the teacher's
// version would mis-extract when the LLM's JSON values themselves contain
// `{` or `}`, or prose after the object contains a stray brace), and on
// pkg/taskfile for assignability/order rules.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seezatnap/swarm-hug/pkg/engine"
	"github.com/seezatnap/swarm-hug/pkg/ids"
	"github.com/seezatnap/swarm-hug/pkg/taskfile"
)

// Assignment binds one task to one agent initial.
type Assignment struct {
	Initial byte
	Task    *taskfile.Task
}

// Params bundles the planner's inputs.
type Params struct {
	Tasks         *taskfile.TaskList
	Roster        []byte // agent initials available this sprint, in roster order
	TasksPerAgent int
	Timeout       time.Duration
}

// Plan produces assignments for one sprint. If planEngine is non-nil, it is
// consulted first; any parse failure, timeout, or invalid assignment falls
// back to deterministic round-robin, which obeys the same assignability,
// order, and fairness rules.
func Plan(ctx context.Context, params Params, planEngine engine.Engine, workingDir string) []Assignment {
	assignable := assignableInOrder(params.Tasks)
	maxTotal := len(params.Roster) * params.TasksPerAgent
	if maxTotal < len(assignable) {
		assignable = assignable[:maxTotal]
	}

	if planEngine != nil {
		if assignments, ok := tryEnginePlan(ctx, params, planEngine, workingDir, assignable); ok {
			return assignments
		}
	}

	return roundRobin(assignable, params.Roster, params.TasksPerAgent)
}

// assignableInOrder returns tasks eligible for assignment this sprint, in
// source order (spec.md §4.6 rules 1–2).
func assignableInOrder(tasks *taskfile.TaskList) []*taskfile.Task {
	done := tasks.DoneSet()
	var out []*taskfile.Task
	for _, t := range tasks.Tasks() {
		if t.Assignable(done) {
			out = append(out, t)
		}
	}
	return out
}

// roundRobin spreads tasks across distinct agents up to tasksPerAgent
// before giving any agent a second task (spec.md §4.6 rule 3), bounded by
// rule 4.
func roundRobin(assignable []*taskfile.Task, roster []byte, tasksPerAgent int) []Assignment {
	if len(roster) == 0 || tasksPerAgent <= 0 {
		return nil
	}
	var out []Assignment
	agentIdx := 0
	counts := make(map[byte]int)
	for _, t := range assignable {
		placed := false
		for attempts := 0; attempts < len(roster); attempts++ {
			candidate := roster[agentIdx%len(roster)]
			agentIdx++
			if counts[candidate] < tasksPerAgent {
				out = append(out, Assignment{Initial: candidate, Task: t})
				counts[candidate]++
				placed = true
				break
			}
		}
		if !placed {
			break // every agent is at cap; rule 4's bound is already satisfied
		}
	}
	return out
}

type engineReply struct {
	Assignments []struct {
		Agent  string `json:"agent"`
		Line   int    `json:"line"`
		Reason string `json:"reason"`
	} `json:"assignments"`
}

func tryEnginePlan(ctx context.Context, params Params, planEngine engine.Engine, workingDir string, assignable []*taskfile.Task) ([]Assignment, bool) {
	prompt := renderPlanningPrompt(params, assignable)
	result, err := planEngine.Execute(ctx, prompt, workingDir, params.Timeout)
	if err != nil || result == nil || !result.Success {
		return nil, false
	}

	jsonStr, ok := ExtractJSON(result.Stdout)
	if !ok {
		return nil, false
	}

	var reply engineReply
	if err := json.Unmarshal([]byte(jsonStr), &reply); err != nil {
		return nil, false
	}

	byLine := make(map[int]*taskfile.Task, len(assignable))
	for _, t := range assignable {
		byLine[t.Line] = t
	}

	rosterSet := make(map[byte]bool, len(params.Roster))
	for _, r := range params.Roster {
		rosterSet[r] = true
	}

	counts := make(map[byte]int)
	seen := make(map[int]bool)
	var out []Assignment
	for _, a := range reply.Assignments {
		if len(a.Agent) != 1 || !rosterSet[a.Agent[0]] {
			return nil, false
		}
		task, ok := byLine[a.Line]
		if !ok || seen[task.ID] {
			return nil, false
		}
		initial := a.Agent[0]
		if counts[initial] >= params.TasksPerAgent {
			return nil, false
		}
		seen[task.ID] = true
		counts[initial]++
		out = append(out, Assignment{Initial: initial, Task: task})
	}

	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func renderPlanningPrompt(params Params, assignable []*taskfile.Task) string {
	s := "Assign the following tasks to agents. Reply with JSON only:\n"
	s += `{"assignments": [{"agent": "A", "line": <n>, "reason": "..."}]}` + "\n\n"
	s += fmt.Sprintf("Agents available (%d, cap %d tasks each): ", len(params.Roster), params.TasksPerAgent)
	for i, r := range params.Roster {
		if i > 0 {
			s += ", "
		}
		name, _ := ids.NameForInitial(r)
		s += fmt.Sprintf("%c (%s)", r, name)
	}
	s += "\n\nTasks:\n"
	for _, t := range assignable {
		s += fmt.Sprintf("line %d: %s\n", t.Line, t.Description)
	}
	return s
}

// ExtractJSON locates the first top-level JSON object in text and returns
// its substring, honoring string and escape context so that braces inside
// string literals don't confuse the scan. Returns ok=false if no balanced
// object is found.
func ExtractJSON(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}

		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}
