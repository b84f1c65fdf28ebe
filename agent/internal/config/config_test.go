package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  server_endpoint: "localhost:50051"
  interval: 500ms
  buffer_size: 50
  seed: 42
  server_auth:
    mode: apikey
    key_env: FW_AGENT_KEY
  machines:
    - id: machine1
      base_speed: 12000
    - id: machine2
      parts_target: 120
`
	cfg := loadFromString(t, yaml)
	a := cfg.Agent

	if a.ServerEndpoint != "localhost:50051" {
		t.Errorf("server_endpoint: got %q", a.ServerEndpoint)
	}
	if a.Interval != 500*time.Millisecond || a.BufferSize != 50 || a.Seed != 42 {
		t.Errorf("agent = %+v", a)
	}
	if a.ServerAuth.Header != DefaultAuthHeader {
		t.Errorf("header: got %q, want default", a.ServerAuth.Header)
	}
	if len(a.Machines) != 2 {
		t.Fatalf("machines: got %d, want 2", len(a.Machines))
	}
	if a.Machines[0].BaseSpeed != 12000 || a.Machines[0].CycleTime != DefaultCycleTime {
		t.Errorf("machine1 = %+v", a.Machines[0])
	}
	if a.Machines[1].BaseSpeed != DefaultBaseSpeed || a.Machines[1].PartsTarget != 120 {
		t.Errorf("machine2 = %+v", a.Machines[1])
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "agent:\n  server_endpoint: \"localhost:50051\"\n")

	if cfg.Agent.Interval != DefaultInterval {
		t.Errorf("interval: got %v, want %v", cfg.Agent.Interval, DefaultInterval)
	}
	if cfg.Agent.BufferSize != DefaultBufferSize {
		t.Errorf("buffer_size: got %d, want %d", cfg.Agent.BufferSize, DefaultBufferSize)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing endpoint": "agent:\n  interval: 1s\n",
		"apikey no env":    "agent:\n  server_endpoint: x:1\n  server_auth:\n    mode: apikey\n",
		"mtls no cert":     "agent:\n  server_endpoint: x:1\n  server_auth:\n    mode: mtls\n",
		"unknown mode":     "agent:\n  server_endpoint: x:1\n  server_auth:\n    mode: bearer\n",
		"machine no id":    "agent:\n  server_endpoint: x:1\n  machines:\n    - base_speed: 1\n",
		"duplicate id":     "agent:\n  server_endpoint: x:1\n  machines:\n    - id: a\n    - id: a\n",
		"negative speed":   "agent:\n  server_endpoint: x:1\n  machines:\n    - id: a\n      base_speed: -1\n",
	}
	for name, content := range cases {
		if _, err := loadStringErr(t, content); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("FW_AGENT_KEY", "s3cret")
	if got := (AuthConfig{KeyEnv: "FW_AGENT_KEY"}).Key(); got != "s3cret" {
		t.Errorf("Key() = %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no env = %q", got)
	}
}

func TestWatch_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("agent:\n  server_endpoint: x:1\n  machines:\n    - id: a\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 16)
	go Watch(ctx, path, func(c *Config) { //nolint:errcheck
		select {
		case got <- c:
		default:
		}
	})
	time.Sleep(50 * time.Millisecond)

	write("agent:\n  server_endpoint: x:1\n  machines:\n    - id: a\n    - id: b\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if len(c.Agent.Machines) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("no reload with two machines")
		}
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
