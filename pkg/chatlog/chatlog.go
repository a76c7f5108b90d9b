// Package chatlog writes the operator-visible append-only chat log at
// .swarm-hug/<project>/chat.md, in the line format spec.md §6 specifies:
//
//	YYYY-MM-DD HH:MM:SS | <AgentName> | <CATEGORY>: <message>
//
// Writes are serialized through a single mutex (spec.md §5) and timestamps
// are monotonic non-decreasing per writer, modeled on the teacher's
// pkg/logging.Logger multi-destination append pattern but trimmed to the
// one plain-text file this module's data model calls for.
package chatlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Category labels the subsystem emitting a chat line.
type Category string

const (
	CategorySprint   Category = "SPRINT"
	CategoryAgent    Category = "AGENT"
	CategoryMerge    Category = "MERGE"
	CategoryReview   Category = "REVIEW"
	CategoryShutdown Category = "SHUTDOWN"
	CategoryHeartbeat Category = "HEARTBEAT"
)

// Log is a single append-only writer over one chat file.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	lastTime time.Time
}

// Open opens (creating if necessary) the chat log at path, appending to
// any existing content.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	return &Log{file: f}, nil
}

// Reset truncates the chat log. Called once at the start of `run`;
// preserved across sprints within that run, per spec.md §6.
func Reset(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("reset chat log: %w", err)
	}
	return &Log{file: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Append writes one line. now is accepted as a parameter so callers (and
// tests) control monotonicity explicitly rather than this package calling
// time.Now() internally on every write.
func (l *Log) Append(now time.Time, agent string, category Category, message string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastTime.IsZero() && now.Before(l.lastTime) {
		now = l.lastTime
	}
	l.lastTime = now

	line := fmt.Sprintf("%s | %s | %s: %s\n", now.Format("2006-01-02 15:04:05"), agent, category, message)
	_, err := l.file.WriteString(line)
	return err
}
