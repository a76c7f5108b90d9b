// Package swarmlog writes one JSON object per line to per-agent log files
// under .swarm-hug/<project>/loop/<agent>.jsonl plus a run-level
// events.jsonl, modeled directly on the teacher's pkg/logging.Logger
// multi-destination os.OpenFile(O_APPEND) pattern, trimmed from its
// session/error/cost fan-out down to the per-agent/run-level fan-out this
// module's filesystem layout calls for.
package swarmlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category labels the subsystem emitting an event, mirroring the error
// taxonomy plus a few cross-cutting lifecycle categories.
type Category string

const (
	CategoryConfig          Category = "config"
	CategoryExternalCommand Category = "external_command"
	CategoryEngine          Category = "engine"
	CategoryMergeProtocol   Category = "merge_protocol"
	CategoryWorktreeState   Category = "worktree_state"
	CategoryShutdown        Category = "shutdown"
	CategorySprint          Category = "sprint"
	CategoryWorker          Category = "worker"
	CategoryMerge           Category = "merge"
)

// Level is event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one structured log line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	SprintID  string         `json:"sprint_id,omitempty"`
	TaskID    int            `json:"task_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger fans events out to a run-level events.jsonl and, when Agent is
// set, to that agent's own log file. Files are only appended to; they are
// never rotated.
type Logger struct {
	mu        sync.Mutex
	loopDir   string
	runFile   *os.File
	agentFile map[string]*os.File
}

// Open creates the loop directory (.swarm-hug/<project>/loop) and opens the
// run-level events.jsonl, appending to any existing content.
func Open(loopDir string) (*Logger, error) {
	if err := os.MkdirAll(loopDir, 0755); err != nil {
		return nil, fmt.Errorf("create loop directory: %w", err)
	}
	runFile, err := os.OpenFile(filepath.Join(loopDir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open events log: %w", err)
	}
	return &Logger{loopDir: loopDir, runFile: runFile, agentFile: map[string]*os.File{}}, nil
}

func (l *Logger) agentWriter(agent string) (*os.File, error) {
	if f, ok := l.agentFile[agent]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(l.loopDir, agent+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open agent log for %s: %w", agent, err)
	}
	l.agentFile[agent] = f
	return f, nil
}

// Log appends event to the run-level log and, if event.Agent is set, to
// that agent's own log file.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.runFile.Write(data); err != nil {
		return fmt.Errorf("write events log: %w", err)
	}

	if event.Agent != "" {
		f, err := l.agentWriter(event.Agent)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("write agent log for %s: %w", event.Agent, err)
		}
	}

	return nil
}

// Info logs an informational event.
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, Message: message, Details: details})
}

// Warn logs a warning event.
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, Message: message, Details: details})
}

// Error logs an error event.
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelError, Category: category, EventType: eventType, Message: message, Details: details})
}

// Close closes every open file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if err := l.runFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, f := range l.agentFile {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
