package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8080
	DefaultSnapshotTTL      = 5 * time.Minute
	DefaultHistorySize      = 60
	MaxHistorySize          = 120
	DefaultIdleSpeed        = 10
	DefaultIdleDwell        = 15 * time.Second
	DefaultParamChangeDelta = 500
	DefaultWSInterval       = 2 * time.Second
	DefaultMaxReadings      = 1000
	DefaultMQTTTopic        = "forgewatch/machines/+/data"
)

// DefaultOperators is the operator roster used when none is configured.
var DefaultOperators = []string{"Rajesh K.", "Sunil M.", "Priya S.", "Arun D."}

// DefaultThresholds are the alert limits used until overridden.
var DefaultThresholds = types.Thresholds{
	SpindleSpeed: 10000,
	SpindleLoad:  90,
	Temperature:  80,
	OEE:          50,
}

// AlertsConfig holds thresholds, rules and webhook delivery targets.
type AlertsConfig struct {
	Thresholds types.Thresholds `yaml:"thresholds"`
	Rules      []AlertRule      `yaml:"rules"`
	Webhooks   []WebhookConfig  `yaml:"webhooks"`
}

// AlertRule defines one alert condition.
type AlertRule struct {
	// Type names the rule; alert ids are "<machineId>:<type>".
	Type string `yaml:"type"`

	// Condition is a "field op value" expression, for example
	// "spindle_load > spindleLoad", "oee < 40", "idle == true" or
	// "status == ALARM". A value naming a threshold tracks the live threshold.
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info. Defaults to warning.
	Severity string `yaml:"severity"`

	// Message is the alert text; "{value}" is replaced by the observed value.
	Message string `yaml:"message"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	GRPCPort    int               `yaml:"grpc_port"`
	HTTPPort    int               `yaml:"http_port"`
	Auth        AuthConfig        `yaml:"auth"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Machines    []Machine         `yaml:"machines"`
	Engine      EngineConfig      `yaml:"engine"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Logbook     LogbookConfig     `yaml:"logbook"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	WS          WSConfig          `yaml:"ws"`
}

// MachineNames returns the configured display names keyed by machine id.
func (s ServerConfig) MachineNames() map[string]string {
	out := make(map[string]string, len(s.Machines))
	for _, m := range s.Machines {
		out[m.ID] = m.Name
	}
	return out
}

// Machine maps a machine id to its display name.
type Machine struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SnapshotConfig controls in-memory snapshot retention.
type SnapshotConfig struct {
	// TTL is how long a machine stays in the live set after its last reading.
	// Zero disables eviction.
	TTL time.Duration `yaml:"ttl"`
}

// EngineConfig tunes the telemetry engine.
type EngineConfig struct {
	HistorySize        int           `yaml:"history_size"`
	IdleSpeedThreshold float64       `yaml:"idle_speed_threshold"`
	IdleDwell          time.Duration `yaml:"idle_dwell"`
	ParamChangeDelta   float64       `yaml:"param_change_delta"`
}

// LogbookConfig controls how operators are attributed to events.
type LogbookConfig struct {
	Operators []string `yaml:"operators"`

	// OperatorPolicy is one of: random | round_robin. Defaults to random.
	OperatorPolicy string `yaml:"operator_policy"`
}

// PersistenceConfig configures the readings log.
type PersistenceConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis readings log. Empty Addr disables it.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`

	// MaxReadings caps the stored log per machine.
	MaxReadings int `yaml:"max_readings"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// KafkaConfig configures the Kafka batch consumer. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// MQTTConfig configures the MQTT subscriber. Empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Topic       string `yaml:"topic"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the MQTT password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// WSConfig controls the WebSocket hub.
type WSConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Snapshot: SnapshotConfig{
				TTL: DefaultSnapshotTTL,
			},
			Engine: EngineConfig{
				HistorySize:        DefaultHistorySize,
				IdleSpeedThreshold: DefaultIdleSpeed,
				IdleDwell:          DefaultIdleDwell,
				ParamChangeDelta:   DefaultParamChangeDelta,
			},
			Alerts: AlertsConfig{
				Thresholds: DefaultThresholds,
			},
			Logbook: LogbookConfig{
				Operators:      DefaultOperators,
				OperatorPolicy: "random",
			},
			Persistence: PersistenceConfig{
				Redis: RedisConfig{MaxReadings: DefaultMaxReadings},
			},
			MQTT: MQTTConfig{
				Topic:    DefaultMQTTTopic,
				ClientID: "forgewatch-server",
			},
			Kafka: KafkaConfig{
				GroupID: "forgewatch-server",
			},
			WS: WSConfig{
				Interval: DefaultWSInterval,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Snapshot.TTL < 0 {
		return fmt.Errorf("server.snapshot.ttl must not be negative")
	}

	seen := make(map[string]bool, len(s.Machines))
	for i, m := range s.Machines {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("server.machines[%d].id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("server.machines: duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}

	e := s.Engine
	if e.HistorySize < 1 || e.HistorySize > MaxHistorySize {
		return fmt.Errorf("server.engine.history_size %d is out of range [1, %d]", e.HistorySize, MaxHistorySize)
	}
	if e.IdleSpeedThreshold <= 0 {
		return fmt.Errorf("server.engine.idle_speed_threshold must be positive")
	}
	if e.IdleDwell <= 0 {
		return fmt.Errorf("server.engine.idle_dwell must be positive")
	}
	if e.ParamChangeDelta <= 0 {
		return fmt.Errorf("server.engine.param_change_delta must be positive")
	}

	for i, r := range s.Alerts.Rules {
		if r.Type == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: type and condition are required", i)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
	}

	if len(s.Logbook.Operators) == 0 {
		return fmt.Errorf("server.logbook.operators must not be empty")
	}
	switch s.Logbook.OperatorPolicy {
	case "random", "round_robin":
	default:
		return fmt.Errorf("server.logbook.operator_policy %q unknown: want random|round_robin", s.Logbook.OperatorPolicy)
	}

	if r := s.Persistence.Redis; r.Addr != "" && (r.MaxReadings < 1 || r.MaxReadings > DefaultMaxReadings) {
		return fmt.Errorf("server.persistence.redis.max_readings %d is out of range [1, %d]", r.MaxReadings, DefaultMaxReadings)
	}
	if len(s.Kafka.Brokers) > 0 && s.Kafka.Topic == "" {
		return fmt.Errorf("server.kafka.topic is required when brokers are set")
	}
	if s.WS.Interval <= 0 {
		return fmt.Errorf("server.ws.interval must be positive")
	}
	return nil
}
