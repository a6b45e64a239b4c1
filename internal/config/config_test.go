package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Agent.MaxToolIterations != 10 {
		t.Fatalf("max iterations = %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Agent.Executor.CorePool != 5 || cfg.Agent.Executor.MaxPool != 10 || cfg.Agent.Executor.Queue != 100 {
		t.Fatalf("executor defaults = %+v", cfg.Agent.Executor)
	}
	if cfg.Indexing.PollInterval() != 500*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Indexing.PollInterval())
	}
	if cfg.Workspace.Dir != "/tmp/ai-orchestrator-workspace" {
		t.Fatalf("workspace = %q", cfg.Workspace.Dir)
	}
	if cfg.Selector.Temperature == nil || *cfg.Selector.Temperature != 0.0 {
		t.Fatal("selector temperature must default to 0.0")
	}
	if cfg.Git.DefaultBranch != "main" {
		t.Fatalf("default branch = %q", cfg.Git.DefaultBranch)
	}
}

func TestLoadTOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lattix.toml")
	body := `
[server]
addr = ":9090"

[agent]
max_tool_iterations = 4

[indexing]
poll_interval_ms = 250

[selector]
model = "llama-3.1-8b"
base_url = "http://localhost:11434/v1"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LATTIX_SELECTOR_API_KEY", "sk-test")
	t.Setenv("LATTIX_MAX_TOOL_ITERATIONS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Selector.Model != "llama-3.1-8b" {
		t.Fatalf("selector model = %q", cfg.Selector.Model)
	}
	if cfg.Indexing.PollInterval() != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Indexing.PollInterval())
	}
	// Env wins over the file.
	if cfg.Selector.APIKey != "sk-test" {
		t.Fatalf("api key = %q", cfg.Selector.APIKey)
	}
	if cfg.Agent.MaxToolIterations != 7 {
		t.Fatalf("max iterations = %d", cfg.Agent.MaxToolIterations)
	}
	// Untouched sections keep defaults.
	if cfg.Database.Path != "lattix.db" {
		t.Fatalf("db path = %q", cfg.Database.Path)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}
