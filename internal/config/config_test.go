// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Backend.Type != "memory" {
		t.Errorf("expected default backend 'memory', got %q", cfg.Backend.Type)
	}
	if cfg.Executor.Runtime != "docker" {
		t.Errorf("expected default executor runtime 'docker', got %q", cfg.Executor.Runtime)
	}
	if cfg.Scheduler.MaxConcurrentNodesPerRun != 8 {
		t.Errorf("expected default max concurrent nodes per run 8, got %d", cfg.Scheduler.MaxConcurrentNodesPerRun)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
log:
  level: debug
  format: text
backend:
  type: postgres
  postgres:
    connection_string: "postgres://localhost/orchestrator"
executor:
  runtime: podman
scheduler:
  max_concurrent_nodes_per_run: 4
  max_concurrent_runs: 10
safety:
  rate_limit:
    requests_per_second: 2
    burst: 4
  circuit_breaker:
    failure_threshold: 3
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log.level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Backend.Type != "postgres" {
		t.Errorf("expected backend.type 'postgres', got %q", cfg.Backend.Type)
	}
	if cfg.Backend.Postgres.ConnectionString != "postgres://localhost/orchestrator" {
		t.Errorf("unexpected connection string: %q", cfg.Backend.Postgres.ConnectionString)
	}
	if cfg.Executor.Runtime != "podman" {
		t.Errorf("expected executor.runtime 'podman', got %q", cfg.Executor.Runtime)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n  format: json\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Setenv("ORCHESTRATOR_LOG_LEVEL", "warn")
	os.Setenv("ORCHESTRATOR_BACKEND", "memory")
	defer func() {
		os.Unsetenv("ORCHESTRATOR_LOG_LEVEL")
		os.Unsetenv("ORCHESTRATOR_BACKEND")
	}()

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("expected env override to win, got log.level %q", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error loading a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid backend type",
			mutate:  func(c *Config) { c.Backend.Type = "sqlite" },
			wantErr: true,
		},
		{
			name: "postgres backend without connection string",
			mutate: func(c *Config) {
				c.Backend.Type = "postgres"
				c.Backend.Postgres.ConnectionString = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid executor runtime",
			mutate:  func(c *Config) { c.Executor.Runtime = "containerd" },
			wantErr: true,
		},
		{
			name:    "zero max concurrent nodes",
			mutate:  func(c *Config) { c.Scheduler.MaxConcurrentNodesPerRun = 0 },
			wantErr: true,
		},
		{
			name: "webhook route missing workflow",
			mutate: func(c *Config) {
				c.Webhooks.Routes = []WebhookRoute{{Path: "/webhooks/alertmanager", Source: "alertmanager"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no validation error, got: %v", err)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", dir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath returned error: %v", err)
	}

	want := filepath.Join(dir, "orchestrator", "config.yaml")
	if path != want {
		t.Errorf("ConfigPath() = %q, want %q", path, want)
	}
}

func TestDefault_DrainTimeoutIsPositive(t *testing.T) {
	cfg := Default()
	if cfg.Scheduler.DrainTimeout <= 0 {
		t.Error("expected default drain timeout to be positive")
	}
	if cfg.Scheduler.DrainTimeout > time.Minute {
		t.Error("expected default drain timeout to be reasonably short")
	}
}
