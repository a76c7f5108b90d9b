// Command swarmhug drives a run: a sequence of sprints against one project
// repository, stopping when the backlog is drained, the shutdown flag is
// set, or a sprint returns an unrecoverable error. Flag parsing here is
// deliberately thin — a config path and a couple of overrides — since
// full CLI ergonomics are out of scope; everything else lives in the YAML
// config pkg/config loads. Grounded on the teacher's cmd/buckley/main.go
// startup sequence (parse flags, wire dependencies, install the signal
// handler, map the terminal error to a process exit code) and
// cmd/buckley/exit_codes.go's exitCoder pattern.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seezatnap/swarm-hug/pkg/chatlog"
	"github.com/seezatnap/swarm-hug/pkg/config"
	"github.com/seezatnap/swarm-hug/pkg/engine"
	"github.com/seezatnap/swarm-hug/pkg/gitutil"
	"github.com/seezatnap/swarm-hug/pkg/procexec"
	"github.com/seezatnap/swarm-hug/pkg/procreg"
	"github.com/seezatnap/swarm-hug/pkg/runner"
	"github.com/seezatnap/swarm-hug/pkg/shutdown"
	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
	"github.com/seezatnap/swarm-hug/pkg/swarmlog"
	"github.com/seezatnap/swarm-hug/pkg/taskfile"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("swarmhug", flag.ContinueOnError)
	configPath := fs.String("config", "swarm-hug.yaml", "path to run configuration")
	repoPath := fs.String("repo", ".", "path to the project repository")
	stub := fs.Bool("stub", false, "force the deterministic stub engine, ignoring engines: in config")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmhug: %v\n", err)
		return exitCodeForError(err)
	}
	if *stub {
		cfg.StubMode = true
	}

	repo, err := filepath.Abs(*repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmhug: resolve repo path: %v\n", err)
		return 1
	}

	registry := procreg.New(procexec.KillTree)
	runner.ShutdownRegistry(registry)
	shutdownFlag := shutdown.Global()

	pool, reviewEngine, mergeEngine, err := buildEngines(cfg, registry, shutdownFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmhug: %v\n", err)
		return exitCodeForError(err)
	}

	stateDir := filepath.Join(repo, ".swarm-hug", cfg.Project)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "swarmhug: create state dir: %v\n", err)
		return 1
	}

	chat, err := chatlog.Reset(filepath.Join(stateDir, "chat.md"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmhug: %v\n", err)
		return 1
	}
	defer chat.Close()

	logger, err := swarmlog.Open(filepath.Join(stateDir, "loop"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmhug: %v\n", err)
		return 1
	}
	defer logger.Close()

	r := runner.New(cfg, repo, pool, reviewEngine, mergeEngine, chat, logger)

	ctx := context.Background()
	exitCode := 0
	for sprintNumber := 1; ; sprintNumber++ {
		if shutdownFlag.Requested() {
			exitCode = 130
			break
		}
		if cfg.MaxSprints > 0 && sprintNumber > cfg.MaxSprints {
			break
		}

		summary, err := r.RunSprint(ctx, sprintNumber)
		if err != nil {
			if errors.Is(err, swarmerr.ShutdownRequested) {
				exitCode = 130
				break
			}
			fmt.Fprintf(os.Stderr, "swarmhug: sprint %d: %v\n", sprintNumber, err)
			return exitCodeForError(err)
		}

		done, err := backlogDrained(ctx, repo, summary.TargetBranch, cfg.TaskFilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "swarmhug: checking remaining backlog: %v\n", err)
			return 1
		}
		if done {
			break
		}
	}

	return exitCode
}

// buildEngines constructs the claude/codex/stub catalog, the engine pool
// used for task execution and planning, and the dedicated review and merge
// engines (always a single fixed engine each, per spec.md §4.4, rather
// than pool-selected).
func buildEngines(cfg *config.Config, registry *procreg.Registry, shutdownFlag *shutdown.Flag) (*engine.Pool, engine.Engine, engine.Engine, error) {
	if cfg.StubMode {
		stub := engine.NewStub()
		pool, err := engine.NewPool(map[string]engine.Engine{"stub": stub}, []string{"stub"})
		if err != nil {
			return nil, nil, nil, err
		}
		return pool, stub, stub, nil
	}

	catalog := map[string]engine.Engine{
		"claude": engine.NewExternal("claude", builderFor(cfg, "claude", engine.ClaudeCommandBuilder), registry, shutdownFlag),
		"codex":  engine.NewExternal("codex", builderFor(cfg, "codex", engine.CodexCommandBuilder), registry, shutdownFlag),
	}

	pool, err := engine.NewPool(catalog, cfg.Engines)
	if err != nil {
		return nil, nil, nil, err
	}

	reviewName := cfg.Engines[0]
	reviewEngine, ok := catalog[reviewName]
	if !ok {
		return nil, nil, nil, swarmerr.Newf(swarmerr.CodeConfig, "unknown review engine %q", reviewName)
	}
	mergeEngine := reviewEngine

	return pool, reviewEngine, mergeEngine, nil
}

// builderFor returns name's CommandBuilder, overridden by an engine_specs
// entry in cfg when one is present.
func builderFor(cfg *config.Config, name string, fallback engine.CommandBuilder) engine.CommandBuilder {
	spec, ok := cfg.EngineSpecs[name]
	if !ok || spec.Command == "" {
		return fallback
	}
	return func(prompt, workingDir string) (string, []string) {
		args := make([]string, 0, len(spec.Args)+1)
		for _, a := range spec.Args {
			if a == "{prompt}" {
				args = append(args, prompt)
				continue
			}
			args = append(args, a)
		}
		return spec.Command, args
	}
}

// backlogDrained reports whether every task recorded on target is either
// done or permanently unassignable, the run loop's stop condition
// alongside shutdown and a terminal sprint error (spec.md §2).
func backlogDrained(ctx context.Context, repoPath, target, taskFilePath string) (bool, error) {
	repo := gitutil.New(repoPath)
	data, err := repo.ShowFile(ctx, target, taskFilePath)
	if err != nil {
		return false, err
	}
	tasks, err := taskfile.Parse(data)
	if err != nil {
		return false, err
	}
	done := tasks.DoneSet()
	for _, t := range tasks.Tasks() {
		if t.State == taskfile.StateDone {
			continue
		}
		if t.Assignable(done) {
			return false, nil
		}
	}
	return true, nil
}

func exitCodeForError(err error) int {
	var se *swarmerr.Error
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return 1
}
