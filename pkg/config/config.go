// Package config loads the YAML file describing one run of this module:
// project identity, branch overrides, agent pool sizing, and per-engine
// command templates. Grounded on the teacher's pkg/config.Config —
// tagged-struct defaults plus a Load/LoadFromPath/Validate trio — trimmed
// from Buckley's many nested subsystems (providers, MCP, ACP, billing) down
// to the handful of fields this module's run loop actually consults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
)

const (
	DefaultMaxAgents     = 4
	DefaultTasksPerAgent = 2
	DefaultSprintTimeout = 3600 * time.Second
	DefaultEngineList    = "claude"
)

// EngineSpec configures one external engine's invocation template, modeled
// on ExternalBackend's command/args/options shape.
type EngineSpec struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Options map[string]string `yaml:"options"`
}

// Config is one run's complete configuration.
type Config struct {
	Project       string                 `yaml:"project"`
	SourceBranch  string                 `yaml:"source_branch"`
	TargetBranch  string                 `yaml:"target_branch"`
	MaxAgents     int                    `yaml:"max_agents"`
	TasksPerAgent int                    `yaml:"tasks_per_agent"`
	MaxSprints    int                    `yaml:"max_sprints"` // 0 means unlimited, per spec.md §2
	Engines       []string               `yaml:"engines"` // comma-expanded selection list, spec.md §4.4
	EngineSpecs   map[string]EngineSpec  `yaml:"engine_specs"`
	SprintTimeout time.Duration          `yaml:"sprint_timeout"`
	PushOnSuccess bool                   `yaml:"push_on_success"`
	WorktreeRoot  string                 `yaml:"worktree_root"`
	StubMode      bool                   `yaml:"stub_mode"`
	TaskFilePath  string                 `yaml:"task_file_path"`
}

// DefaultConfig returns a Config populated with this run loop's defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAgents:     DefaultMaxAgents,
		TasksPerAgent: DefaultTasksPerAgent,
		Engines:       []string{DefaultEngineList},
		EngineSpecs:   map[string]EngineSpec{},
		SprintTimeout: DefaultSprintTimeout,
		TaskFilePath:  "TASKS.md",
	}
}

// LoadFromPath reads and merges a YAML config file over the defaults, then
// validates the result.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, fmt.Sprintf("read config %s", path))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeConfig, fmt.Sprintf("parse config %s", path))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWARM_HUG_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("SWARM_HUG_TARGET_BRANCH"); v != "" {
		cfg.TargetBranch = v
	}
	if v := os.Getenv("SWARM_HUG_SOURCE_BRANCH"); v != "" {
		cfg.SourceBranch = v
	}
	if v := os.Getenv("SWARM_HUG_ENGINES"); v != "" {
		cfg.Engines = strings.Split(v, ",")
	}
	if v := os.Getenv("SWARM_HUG_STUB_MODE"); v == "1" || v == "true" {
		cfg.StubMode = true
	}
	if v := os.Getenv("SWARM_HUG_MAX_SPRINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSprints = n
		}
	}
}

// Validate checks invariants the run loop depends on: a project name,
// positive pool sizing, and (per spec.md §4.10) that an explicit target
// branch never appears without an explicit source branch.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project) == "" {
		return swarmerr.New(swarmerr.CodeConfig, "project name is required")
	}
	if c.MaxAgents <= 0 {
		return swarmerr.New(swarmerr.CodeConfig, "max_agents must be positive")
	}
	if c.TasksPerAgent <= 0 {
		return swarmerr.New(swarmerr.CodeConfig, "tasks_per_agent must be positive")
	}
	if len(c.Engines) == 0 {
		return swarmerr.New(swarmerr.CodeConfig, "engines list must not be empty")
	}
	if c.TargetBranch != "" && c.SourceBranch == "" {
		return swarmerr.New(swarmerr.CodeConfig, "target branch requires an explicit source branch")
	}
	if c.SprintTimeout <= 0 {
		return swarmerr.New(swarmerr.CodeConfig, "sprint_timeout must be positive")
	}
	if c.MaxSprints < 0 {
		return swarmerr.New(swarmerr.CodeConfig, "max_sprints must not be negative")
	}
	return nil
}
