// Package config loads the daemon's TOML configuration with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Workspace WorkspaceConfig `toml:"workspace"`
	Agent     AgentConfig     `toml:"agent"`
	Indexing  IndexingConfig  `toml:"indexing"`
	Selector  ModelConfig     `toml:"selector"`
	Synth     ModelConfig     `toml:"synthesizer"`
	Database  DatabaseConfig  `toml:"database"`
	Git       GitConfig       `toml:"git"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type WorkspaceConfig struct {
	Dir string `toml:"dir"`
}

type AgentConfig struct {
	MaxToolIterations int            `toml:"max_tool_iterations"`
	Executor          ExecutorConfig `toml:"executor"`
}

// ExecutorConfig sizes the background worker pool. The pool is bounded at
// MaxPool concurrent workers with Queue pending tasks; CorePool is accepted
// for configuration compatibility and documents the expected steady-state
// worker count.
type ExecutorConfig struct {
	CorePool int `toml:"core_pool"`
	MaxPool  int `toml:"max_pool"`
	Queue    int `toml:"queue"`
}

type IndexingConfig struct {
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	ParserImage        string `toml:"parser_image"`
}

type ModelConfig struct {
	Model       string   `toml:"model"`
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Temperature *float64 `toml:"temperature"`
}

type DatabaseConfig struct {
	// Path is the SQLite file used when DSN is empty.
	Path string `toml:"path"`
	// DSN selects PostgreSQL when set.
	DSN string `toml:"dsn"`
}

type GitConfig struct {
	DefaultBranch string `toml:"default_branch"`
	TimeoutSec    int    `toml:"timeout_sec"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	zero := 0.0
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		Workspace: WorkspaceConfig{Dir: "/tmp/ai-orchestrator-workspace"},
		Agent: AgentConfig{
			MaxToolIterations: 10,
			Executor:          ExecutorConfig{CorePool: 5, MaxPool: 10, Queue: 100},
		},
		Indexing: IndexingConfig{PollIntervalMillis: 500, ParserImage: "lattixhq/parser:latest"},
		Selector: ModelConfig{
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Temperature: &zero,
		},
		Synth: ModelConfig{
			Model:   "gpt-4o",
			BaseURL: "https://api.openai.com/v1",
		},
		Database: DatabaseConfig{Path: "lattix.db"},
		Git:      GitConfig{DefaultBranch: "main", TimeoutSec: 300},
	}
}

// Load reads the TOML file at path (optional) over Default(), then applies
// environment overrides. Env vars win so secrets stay out of files:
// LATTIX_SELECTOR_API_KEY, LATTIX_SYNTH_API_KEY, LATTIX_DB_DSN, LATTIX_ADDR.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("LATTIX_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LATTIX_WORKSPACE_DIR"); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := os.Getenv("LATTIX_SELECTOR_API_KEY"); v != "" {
		cfg.Selector.APIKey = v
	}
	if v := os.Getenv("LATTIX_SYNTH_API_KEY"); v != "" {
		cfg.Synth.APIKey = v
	}
	if v := os.Getenv("LATTIX_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LATTIX_MAX_TOOL_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("LATTIX_MAX_TOOL_ITERATIONS: %w", err)
		}
		cfg.Agent.MaxToolIterations = n
	}
	return cfg, nil
}

// PollInterval returns the indexing poll granularity as a duration.
func (c IndexingConfig) PollInterval() time.Duration {
	if c.PollIntervalMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// GitTimeout returns the per-operation git timeout.
func (c GitConfig) GitTimeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TimeoutSec) * time.Second
}
