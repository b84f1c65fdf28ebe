package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval    = 2 * time.Second
	DefaultBufferSize  = 1000
	DefaultBaseSpeed   = 8500.0
	DefaultPartsTarget = 300.0
	DefaultCycleTime   = 100.0
	DefaultAuthHeader  = "x-api-key"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of forgewatch-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// Interval is how often a reading is generated for every machine.
	Interval time.Duration `yaml:"interval"`

	// BufferSize is the number of batches held while the server is
	// unreachable. The oldest batch is dropped when it is full.
	BufferSize int `yaml:"buffer_size"`

	// Seed makes the simulator deterministic. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`

	ServerAuth AuthConfig `yaml:"server_auth"`

	Machines []Machine `yaml:"machines"`
}

// Machine is one simulated CNC machine.
type Machine struct {
	ID          string  `yaml:"id"`
	BaseSpeed   float64 `yaml:"base_speed"`
	PartsTarget float64 `yaml:"parts_target"`
	CycleTime   float64 `yaml:"cycle_time"`
}

// AuthConfig configures how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the gRPC metadata key carrying the API key.
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fillMachines(cfg.Agent.Machines)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:   DefaultInterval,
			BufferSize: DefaultBufferSize,
			ServerAuth: AuthConfig{Header: DefaultAuthHeader},
		},
	}
}

// fillMachines applies per-machine defaults; yaml.v3 cannot pre-populate
// list elements.
func fillMachines(ms []Machine) {
	for i := range ms {
		if ms[i].BaseSpeed == 0 {
			ms[i].BaseSpeed = DefaultBaseSpeed
		}
		if ms[i].PartsTarget == 0 {
			ms[i].PartsTarget = DefaultPartsTarget
		}
		if ms[i].CycleTime == 0 {
			ms[i].CycleTime = DefaultCycleTime
		}
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.ServerAuth.Mode {
	case "mtls":
		if a.ServerAuth.CertFile == "" || a.ServerAuth.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: mtls needs cert_file and key_file")
		}
	case "apikey":
		if a.ServerAuth.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth: apikey needs key_env")
		}
	case "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Machines))
	for i, m := range a.Machines {
		if m.ID == "" {
			return fmt.Errorf("machines[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("machines[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.BaseSpeed < 0 || m.PartsTarget < 0 || m.CycleTime < 0 {
			return fmt.Errorf("machines[%d] %q: base_speed, parts_target and cycle_time must not be negative", i, m.ID)
		}
	}
	return nil
}
