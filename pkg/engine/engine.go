// Package engine supervises the external LLM CLI subprocesses this module
// drives: claude, codex, and a deterministic stub for offline testing.
// All three implement the same Engine interface and share one supervision
// discipline (spawn in a new process group, poll at ≤100ms, escalate-kill
// on shutdown or timeout, always wait and unregister). Grounded on the
// teacher's pkg/ralph.ExternalBackend and its backend_external_unix/windows
// split, generalized from Backend's single ctx-cancellation path to the
// explicit shutdown-flag-or-timeout polling loop this module's supervision
// contract calls for.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/seezatnap/swarm-hug/pkg/procexec"
	"github.com/seezatnap/swarm-hug/pkg/procreg"
	"github.com/seezatnap/swarm-hug/pkg/shutdown"
	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
)

const pollPeriod = 100 * time.Millisecond

// Result is the outcome of one engine execution.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// Engine runs a single prompt to completion against a working directory.
type Engine interface {
	Name() string
	Execute(ctx context.Context, prompt, workingDir string, timeout time.Duration) (*Result, error)
}

// CommandBuilder turns a prompt and working directory into the argument
// vector for an external CLI invocation. Each real engine supplies its own.
type CommandBuilder func(prompt, workingDir string) (command string, args []string)

// External is an Engine backed by an external CLI subprocess, supervised
// per spec: new process group, registry tracking, polling wait loop,
// escalate-kill on shutdown or timeout.
type External struct {
	name     string
	build    CommandBuilder
	registry *procreg.Registry
	flag     *shutdown.Flag
}

// NewExternal constructs a supervised external engine.
func NewExternal(name string, build CommandBuilder, registry *procreg.Registry, flag *shutdown.Flag) *External {
	return &External{name: name, build: build, registry: registry, flag: flag}
}

// Name returns the engine's identifier ("claude", "codex", ...).
func (e *External) Name() string {
	return e.name
}

// Execute spawns the external CLI, waits under a ≤100ms poll loop, and
// returns once the process exits, the shutdown flag is set, or timeout
// elapses — whichever comes first. Every return path reaps the process and
// unregisters it from the registry.
func (e *External) Execute(ctx context.Context, prompt, workingDir string, timeout time.Duration) (*Result, error) {
	command, args := e.build(prompt, workingDir)

	cmd := exec.Command(command, args...)
	cmd.Dir = workingDir
	procexec.SetNewProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, "create stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, "create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, fmt.Sprintf("start %s", e.name))
	}
	e.registry.Register(cmd.Process.Pid)

	var readerWG sync.WaitGroup
	readerWG.Add(2)
	go func() {
		defer readerWG.Done()
		_, _ = stdout.ReadFrom(stdoutPipe)
	}()
	go func() {
		defer readerWG.Done()
		_, _ = stderr.ReadFrom(stderrPipe)
	}()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	start := time.Now()
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-waitDone:
			readerWG.Wait()
			e.registry.Unregister(cmd.Process.Pid)
			return resultFromWait(waitErr, stdout.String(), stderr.String()), nil

		case <-ticker.C:
			if e.flag.Requested() {
				e.escalateKill(cmd)
				<-waitDone
				readerWG.Wait()
				e.registry.Unregister(cmd.Process.Pid)
				return nil, swarmerr.ShutdownRequested
			}
			if time.Since(start) >= timeout {
				e.escalateKill(cmd)
				<-waitDone
				readerWG.Wait()
				e.registry.Unregister(cmd.Process.Pid)
				return &Result{Success: false, ExitCode: 124, Stdout: stdout.String(), Stderr: stderr.String()}, nil
			}
		}
	}
}

// escalateKill sends SIGTERM to the process group, waits 100ms, and sends
// SIGKILL to the group regardless (procexec.Terminate already implements
// the full grace-then-force sequence of spec.md §4.3).
func (e *External) escalateKill(cmd *exec.Cmd) {
	_ = procexec.Terminate(cmd)
}

func resultFromWait(waitErr error, stdout, stderr string) *Result {
	if waitErr == nil {
		return &Result{Success: true, ExitCode: 0, Stdout: stdout, Stderr: stderr}
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return &Result{Success: false, ExitCode: exitErr.ExitCode(), Stdout: stdout, Stderr: stderr}
	}
	return &Result{Success: false, ExitCode: 1, Stdout: stdout, Stderr: stderr}
}

// ClaudeCommandBuilder builds the argument vector for the claude CLI.
func ClaudeCommandBuilder(prompt, workingDir string) (string, []string) {
	return "claude", []string{"-p", prompt, "--cwd", workingDir}
}

// CodexCommandBuilder builds the argument vector for the codex CLI.
func CodexCommandBuilder(prompt, workingDir string) (string, []string) {
	return "codex", []string{"exec", "--cd", workingDir, prompt}
}

// Pool selects among a configured list of engines uniformly at random per
// task execution (spec: "this permits weighted selection via repetition").
type Pool struct {
	engines []Engine
}

// NewPool constructs a selection pool. names lists engine identifiers in
// the order they should be matched against the available catalog,
// repetition included for weighting.
func NewPool(catalog map[string]Engine, names []string) (*Pool, error) {
	if len(names) == 0 {
		return nil, swarmerr.New(swarmerr.CodeConfig, "engine list must not be empty")
	}
	p := &Pool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		eng, ok := catalog[n]
		if !ok {
			return nil, swarmerr.Newf(swarmerr.CodeConfig, "unknown engine %q", n)
		}
		p.engines = append(p.engines, eng)
	}
	return p, nil
}

// Pick returns one engine chosen uniformly at random.
func (p *Pool) Pick() Engine {
	if len(p.engines) == 1 {
		return p.engines[0]
	}
	return p.engines[rand.Intn(len(p.engines))]
}
