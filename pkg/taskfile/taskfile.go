// Package taskfile parses and serializes the markdown task backlog format
// spec.md §6 defines:
//
//	- [ ] (#12) description text
//	- [A] (#13) assigned to agent A
//	- [x] (#14) completed (A)
//	- [ ] (#15) description (blocked by #12, #14)
//
// Parsing and writing round-trip losslessly: any line this package doesn't
// need to touch is re-emitted byte-for-byte, and only tasks an explicit
// mutation touched are reformatted. This is deliberately a hand-rolled
// line scanner rather than a general markdown library (goldmark, also in
// this module's dependency pack) — the format is a flat, line-oriented
// checklist dialect with no nested structure a markdown AST would help
// with, and regenerating a goldmark AST back to source text risks losing
// exactly the byte-for-byte fidelity spec.md §8's round-trip invariant
// requires.
package taskfile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// State is a Task's position in the unassigned → assigned → done lifecycle.
type State int

const (
	StateUnassigned State = iota
	StateAssigned
	StateDone
)

// Task is a single backlog item.
type Task struct {
	ID          int
	Description string
	State       State
	Initial     byte // 0 if unassigned; the assigned/completing agent otherwise
	Blockers    []int
	Line        int // 1-indexed source line number

	dirty bool
}

// Assignable reports whether t may be assigned in the current sprint: it
// must be unassigned, and every blocker must be in the done set.
func (t *Task) Assignable(done map[int]bool) bool {
	if t.State != StateUnassigned {
		return false
	}
	for _, b := range t.Blockers {
		if !done[b] {
			return false
		}
	}
	return true
}

// Assign transitions an unassigned task to assigned, per spec.md §3's
// state-transition invariant (unassigned → assigned → done only).
func (t *Task) Assign(initial byte) error {
	if t.State != StateUnassigned {
		return fmt.Errorf("task #%d: cannot assign from state %d", t.ID, t.State)
	}
	t.State = StateAssigned
	t.Initial = initial
	t.dirty = true
	return nil
}

// MarkDone transitions an assigned task to done. The completing initial
// must match the agent the task was assigned to.
func (t *Task) MarkDone(initial byte) error {
	if t.State != StateAssigned {
		return fmt.Errorf("task #%d: cannot mark done from state %d", t.ID, t.State)
	}
	if t.Initial != initial {
		return fmt.Errorf("task #%d: assigned to %c, not %c", t.ID, t.Initial, initial)
	}
	t.State = StateDone
	t.dirty = true
	return nil
}

// MarkFailed reverts an assigned task back to unassigned so a later sprint
// may reassign it. Engine/merge failures use this (spec.md §7: worker
// failures are captured but don't abort the sprint, and the task remains
// in the backlog).
func (t *Task) MarkFailed() {
	if t.State == StateAssigned {
		t.State = StateUnassigned
		t.Initial = 0
		t.dirty = true
	}
}

type entry struct {
	raw  string
	task *Task // nil for non-task lines
}

// TaskList is the ordered, round-trippable parse of a task file.
type TaskList struct {
	entries        []entry
	trailingNewline bool
	maxID          int
}

var taskLineRe = regexp.MustCompile(`^- \[([ xA-Z])\] (?:\(#(\d+)\) )?(.*)$`)
var blockedByRe = regexp.MustCompile(`\s*\(blocked by ([^)]*)\)\s*$`)
var completedByRe = regexp.MustCompile(`\s*\(([A-Z])\)\s*$`)

// Parse reads a task file's contents into a TaskList.
func Parse(data []byte) (*TaskList, error) {
	text := string(data)
	trailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	if trailingNewline {
		lines = lines[:len(lines)-1]
	}

	tl := &TaskList{trailingNewline: trailingNewline}
	seen := make(map[int]bool)

	for i, line := range lines {
		m := taskLineRe.FindStringSubmatch(line)
		if m == nil {
			tl.entries = append(tl.entries, entry{raw: line})
			continue
		}

		marker := m[1]
		idStr := m[2]
		desc := m[3]

		t := &Task{Line: i + 1}

		if idStr != "" {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid task id %q", i+1, idStr)
			}
			if seen[id] {
				return nil, fmt.Errorf("line %d: duplicate task id #%d", i+1, id)
			}
			seen[id] = true
			t.ID = id
			if id > tl.maxID {
				tl.maxID = id
			}
		}

		if bm := blockedByRe.FindStringSubmatch(desc); bm != nil {
			desc = desc[:len(desc)-len(bm[0])]
			for _, part := range strings.Split(bm[1], ",") {
				part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "#"))
				if part == "" {
					continue
				}
				bid, err := strconv.Atoi(part)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid blocker id %q", i+1, part)
				}
				t.Blockers = append(t.Blockers, bid)
			}
		}

		switch {
		case marker == " ":
			t.State = StateUnassigned
		case marker == "x":
			t.State = StateDone
			if cm := completedByRe.FindStringSubmatch(desc); cm != nil {
				desc = strings.TrimSpace(desc[:len(desc)-len(cm[0])])
				t.Initial = cm[1][0]
			}
		default:
			t.State = StateAssigned
			t.Initial = marker[0]
		}

		t.Description = strings.TrimSpace(desc)
		tl.entries = append(tl.entries, entry{raw: line, task: t})
	}

	return tl, nil
}

// Tasks returns every task in source order.
func (tl *TaskList) Tasks() []*Task {
	var out []*Task
	for _, e := range tl.entries {
		if e.task != nil {
			out = append(out, e.task)
		}
	}
	return out
}

// FindByID returns the task with the given id, if any.
func (tl *TaskList) FindByID(id int) (*Task, bool) {
	for _, e := range tl.entries {
		if e.task != nil && e.task.ID == id {
			return e.task, true
		}
	}
	return nil, false
}

// DoneSet returns the set of task IDs currently marked done, for
// Task.Assignable blocker checks.
func (tl *TaskList) DoneSet() map[int]bool {
	done := make(map[int]bool)
	for _, t := range tl.Tasks() {
		if t.State == StateDone {
			done[t.ID] = true
		}
	}
	return done
}

// AssignMissingIDs synthesizes IDs for any task lacking one, in source
// order, continuing from the highest ID already present. Per spec.md §6:
// "identifiers are monotonically assigned by the planner".
func (tl *TaskList) AssignMissingIDs() {
	for _, t := range tl.Tasks() {
		if t.ID == 0 {
			tl.maxID++
			t.ID = tl.maxID
			t.dirty = true
		}
	}
}

// formatLine renders a task's canonical text form.
func formatLine(t *Task) string {
	marker := " "
	switch t.State {
	case StateAssigned:
		marker = string(t.Initial)
	case StateDone:
		marker = "x"
	}

	var b strings.Builder
	b.WriteString("- [")
	b.WriteString(marker)
	b.WriteString("] ")
	if t.ID != 0 {
		fmt.Fprintf(&b, "(#%d) ", t.ID)
	}
	b.WriteString(t.Description)
	if len(t.Blockers) > 0 {
		parts := make([]string, len(t.Blockers))
		for i, id := range t.Blockers {
			parts[i] = fmt.Sprintf("#%d", id)
		}
		fmt.Fprintf(&b, " (blocked by %s)", strings.Join(parts, ", "))
	}
	if t.State == StateDone && t.Initial != 0 {
		fmt.Fprintf(&b, " (%c)", t.Initial)
	}
	return b.String()
}

// Serialize renders the task list back to its file form. Any task that
// was never mutated is emitted byte-identical to its original source
// line; only explicit mutations (Assign, MarkDone, MarkFailed,
// AssignMissingIDs) change output for a given line, satisfying spec.md
// §8's round-trip invariant.
func (tl *TaskList) Serialize() []byte {
	lines := make([]string, 0, len(tl.entries))
	for _, e := range tl.entries {
		if e.task != nil && e.task.dirty {
			lines = append(lines, formatLine(e.task))
		} else {
			lines = append(lines, e.raw)
		}
	}
	out := strings.Join(lines, "\n")
	if tl.trailingNewline {
		out += "\n"
	}
	return []byte(out)
}

// AppendFollowUps appends checklist lines under the given "## " heading,
// creating the heading at end-of-file if it is not already present. Used
// by the post-sprint review step (spec.md §4.8) to record follow-up tasks
// the review engine surfaces. Descriptions are assigned fresh IDs.
func (tl *TaskList) AppendFollowUps(heading string, descriptions []string) {
	if len(descriptions) == 0 {
		return
	}

	headingLine := "## " + heading
	found := -1
	for i, e := range tl.entries {
		if e.task == nil && e.raw == headingLine {
			found = i
			break
		}
	}

	if found == -1 {
		if len(tl.entries) > 0 && tl.entries[len(tl.entries)-1].raw != "" {
			tl.entries = append(tl.entries, entry{raw: ""})
		}
		tl.entries = append(tl.entries, entry{raw: headingLine})
		found = len(tl.entries) - 1
	}

	insertAt := found + 1
	for insertAt < len(tl.entries) && tl.entries[insertAt].raw != "" && !strings.HasPrefix(tl.entries[insertAt].raw, "## ") {
		insertAt++
	}

	newEntries := make([]entry, 0, len(tl.entries)+len(descriptions))
	newEntries = append(newEntries, tl.entries[:insertAt]...)
	for _, desc := range descriptions {
		tl.maxID++
		t := &Task{ID: tl.maxID, Description: strings.TrimSpace(desc), State: StateUnassigned, dirty: true}
		newEntries = append(newEntries, entry{task: t})
	}
	newEntries = append(newEntries, tl.entries[insertAt:]...)
	tl.entries = newEntries
}
