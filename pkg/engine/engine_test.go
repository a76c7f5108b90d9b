package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seezatnap/swarm-hug/pkg/procreg"
	"github.com/seezatnap/swarm-hug/pkg/shutdown"
)

func newTestRegistry() *procreg.Registry {
	return procreg.New(func(pid int) {})
}

func TestExternal_Name(t *testing.T) {
	e := NewExternal("echo-test", func(prompt, dir string) (string, []string) {
		return "echo", []string{prompt}
	}, newTestRegistry(), &shutdown.Flag{})

	if got := e.Name(); got != "echo-test" {
		t.Errorf("Name() = %q, want %q", got, "echo-test")
	}
}

func TestExternal_Execute_Success(t *testing.T) {
	e := NewExternal("echo-test", func(prompt, dir string) (string, []string) {
		return "echo", []string{"hello"}
	}, newTestRegistry(), &shutdown.Flag{})

	result, err := e.Execute(context.Background(), "prompt", t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false, want true")
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestExternal_Execute_NonZeroExit(t *testing.T) {
	e := NewExternal("false-test", func(prompt, dir string) (string, []string) {
		return "false", nil
	}, newTestRegistry(), &shutdown.Flag{})

	result, err := e.Execute(context.Background(), "prompt", t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false for nonzero exit")
	}
	if result.ExitCode == 0 {
		t.Error("ExitCode = 0, want nonzero")
	}
}

func TestExternal_Execute_Timeout(t *testing.T) {
	e := NewExternal("sleep-test", func(prompt, dir string) (string, []string) {
		return "sleep", []string{"10"}
	}, newTestRegistry(), &shutdown.Flag{})

	start := time.Now()
	result, err := e.Execute(context.Background(), "prompt", t.TempDir(), 150*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false on timeout")
	}
	if result.ExitCode != 124 {
		t.Errorf("ExitCode = %d, want 124", result.ExitCode)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Execute took %v, expected well under 10s due to timeout escalation", elapsed)
	}
}

func TestExternal_Execute_ShutdownFlag(t *testing.T) {
	flag := &shutdown.Flag{}
	e := NewExternal("sleep-test", func(prompt, dir string) (string, []string) {
		return "sleep", []string{"10"}
	}, newTestRegistry(), flag)

	go func() {
		time.Sleep(150 * time.Millisecond)
		flag.Request()
	}()

	_, err := e.Execute(context.Background(), "prompt", t.TempDir(), 10*time.Second)
	if err == nil {
		t.Fatal("Execute() error = nil, want shutdown error")
	}
}

func TestExternal_Execute_RegistryLifecycle(t *testing.T) {
	reg := newTestRegistry()
	e := NewExternal("echo-test", func(prompt, dir string) (string, []string) {
		return "echo", []string{"hi"}
	}, reg, &shutdown.Flag{})

	_, err := e.Execute(context.Background(), "prompt", t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len() = %d after exit, want 0 (must unregister on every path)", reg.Len())
	}
}

func TestStub_DeterministicOutput(t *testing.T) {
	stub := NewStub()
	dirA := t.TempDir()
	dirB := t.TempDir()

	_, errA := stub.Execute(context.Background(), "same prompt", dirA, time.Second)
	_, errB := stub.Execute(context.Background(), "same prompt", dirB, time.Second)
	if errA != nil || errB != nil {
		t.Fatalf("Execute() errors: %v, %v", errA, errB)
	}

	contentA, err := os.ReadFile(filepath.Join(dirA, ".swarm-hug-stub-output"))
	if err != nil {
		t.Fatalf("read output A: %v", err)
	}
	contentB, err := os.ReadFile(filepath.Join(dirB, ".swarm-hug-stub-output"))
	if err != nil {
		t.Fatalf("read output B: %v", err)
	}
	if string(contentA) != string(contentB) {
		t.Errorf("stub output differs for identical prompts: %q vs %q", contentA, contentB)
	}
}

func TestStub_Execute_Success(t *testing.T) {
	stub := NewStub()
	result, err := stub.Execute(context.Background(), "prompt", t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestPool_SingleEngine(t *testing.T) {
	stub := NewStub()
	pool, err := NewPool(map[string]Engine{"stub": stub}, []string{"stub"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if pool.Pick().Name() != "stub" {
		t.Errorf("Pick().Name() = %q, want %q", pool.Pick().Name(), "stub")
	}
}

func TestPool_UnknownEngine(t *testing.T) {
	_, err := NewPool(map[string]Engine{"stub": NewStub()}, []string{"bogus"})
	if err == nil {
		t.Fatal("NewPool() error = nil, want error for unknown engine name")
	}
}

func TestPool_EmptyList(t *testing.T) {
	_, err := NewPool(map[string]Engine{"stub": NewStub()}, nil)
	if err == nil {
		t.Fatal("NewPool() error = nil, want error for empty engine list")
	}
}

func TestPool_PicksFromRepeatedWeighting(t *testing.T) {
	stub := NewStub()
	catalog := map[string]Engine{"stub": stub}
	pool, err := NewPool(catalog, []string{"stub", "stub", "stub"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		if pool.Pick().Name() != "stub" {
			t.Fatalf("Pick() returned unexpected engine")
		}
	}
}
