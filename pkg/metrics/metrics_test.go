package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTo(t *testing.T) {
	SprintsStarted.Inc()

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := WriteTo(path); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	if !strings.Contains(string(data), "swarm_hug_sprints_started_total") {
		t.Errorf("metrics file missing expected series, got: %s", data)
	}
}

func TestWriteTo_BadPath(t *testing.T) {
	err := WriteTo(filepath.Join(t.TempDir(), "nonexistent-dir", "metrics.prom"))
	if err == nil {
		t.Fatal("WriteTo() error = nil, want error for unwritable path")
	}
}
