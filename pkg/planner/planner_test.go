package planner

import (
	"context"
	"testing"

	"github.com/seezatnap/swarm-hug/pkg/taskfile"
)

func TestExtractJSON_Simple(t *testing.T) {
	got, ok := ExtractJSON(`{"assignments": []}`)
	if !ok || got != `{"assignments": []}` {
		t.Errorf("ExtractJSON() = %q, %v", got, ok)
	}
}

func TestExtractJSON_JunkBeforeAndAfter(t *testing.T) {
	input := "Sure, here's the plan:\n```json\n{\"assignments\": [{\"agent\": \"A\", \"line\": 1, \"reason\": \"ok\"}]}\n```\nLet me know if you need changes."
	got, ok := ExtractJSON(input)
	want := `{"assignments": [{"agent": "A", "line": 1, "reason": "ok"}]}`
	if !ok || got != want {
		t.Errorf("ExtractJSON() = %q, %v, want %q", got, ok, want)
	}
}

func TestExtractJSON_BraceInsideString(t *testing.T) {
	input := `{"assignments": [{"agent": "A", "line": 1, "reason": "use { and } carefully"}]}` + " trailing }"
	got, ok := ExtractJSON(input)
	want := `{"assignments": [{"agent": "A", "line": 1, "reason": "use { and } carefully"}]}`
	if !ok || got != want {
		t.Errorf("ExtractJSON() = %q, %v, want %q", got, ok, want)
	}
}

func TestExtractJSON_EscapedQuote(t *testing.T) {
	input := `{"reason": "she said \"hi\" to {friends}"}`
	got, ok := ExtractJSON(input)
	if !ok || got != input {
		t.Errorf("ExtractJSON() = %q, %v, want %q", got, ok, input)
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	_, ok := ExtractJSON("no json here")
	if ok {
		t.Error("ExtractJSON() ok = true, want false")
	}
}

func TestExtractJSON_Unbalanced(t *testing.T) {
	_, ok := ExtractJSON(`{"assignments": [`)
	if ok {
		t.Error("ExtractJSON() ok = true, want false for unbalanced input")
	}
}

func parseTasks(t *testing.T, text string) *taskfile.TaskList {
	t.Helper()
	tl, err := taskfile.Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return tl
}

func TestRoundRobin_Fairness(t *testing.T) {
	tl := parseTasks(t, "- [ ] (#1) one\n- [ ] (#2) two\n- [ ] (#3) three\n- [ ] (#4) four\n")
	assignable := assignableInOrder(tl)
	assignments := roundRobin(assignable, []byte{'A', 'B'}, 2)

	if len(assignments) != 4 {
		t.Fatalf("len(assignments) = %d, want 4", len(assignments))
	}
	// First pass across agents before any agent gets a second task.
	if assignments[0].Initial != 'A' || assignments[1].Initial != 'B' {
		t.Errorf("expected fan-out before doubling up, got %c then %c", assignments[0].Initial, assignments[1].Initial)
	}
}

func TestRoundRobin_RespectsBlockers(t *testing.T) {
	tl := parseTasks(t, "- [ ] (#1) one (blocked by #2)\n- [ ] (#2) two\n")
	assignable := assignableInOrder(tl)
	if len(assignable) != 1 || assignable[0].ID != 2 {
		t.Fatalf("assignableInOrder() = %v, want only task #2", assignable)
	}
}

func TestRoundRobin_BoundedByCap(t *testing.T) {
	tl := parseTasks(t, "- [ ] (#1) one\n- [ ] (#2) two\n- [ ] (#3) three\n")
	assignable := assignableInOrder(tl)
	assignments := roundRobin(assignable, []byte{'A'}, 1)
	if len(assignments) != 1 {
		t.Errorf("len(assignments) = %d, want 1 (bounded by max_agents * tasks_per_agent)", len(assignments))
	}
}

func TestPlan_FallsBackWithoutEngine(t *testing.T) {
	tl := parseTasks(t, "- [ ] (#1) one\n- [ ] (#2) two\n")
	assignments := Plan(context.Background(), Params{Tasks: tl, Roster: []byte{'A', 'B'}, TasksPerAgent: 1}, nil, "")
	if len(assignments) != 2 {
		t.Fatalf("len(assignments) = %d, want 2", len(assignments))
	}
}
