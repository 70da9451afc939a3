// Package config loads banditd configuration from defaults, an optional
// config file and BANDIT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete daemon configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Bandit    BanditConfig    `mapstructure:"bandit"`
	Pending   PendingConfig   `mapstructure:"pending"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Port string `mapstructure:"port"`
	// TokenRate is the sustained request rate; bursts may reach twice this
	TokenRate      int `mapstructure:"token_rate"`
	ReadTimeoutSec int `mapstructure:"read_timeout_sec"`
	// WriteTimeoutSec also bounds action execution inside /v1/pull
	WriteTimeoutSec int `mapstructure:"write_timeout_sec"`
	// MetricsUser and MetricsPass enable basic auth on /metrics when set
	MetricsUser string `mapstructure:"metrics_user"`
	MetricsPass string `mapstructure:"metrics_pass"`
}

// StoreConfig selects where snapshots are persisted
type StoreConfig struct {
	// Backend is one of "file", "redis", "postgres"
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresConn  string `mapstructure:"postgres_conn"`
	// HMACKey signs saved snapshots and verifies loaded ones when set
	HMACKey string `mapstructure:"hmac_key"`
}

// BanditConfig names the hosted bandit and its schema
type BanditConfig struct {
	Name       string `mapstructure:"name"`
	SchemaFile string `mapstructure:"schema_file"`
	// DelayedReward issues a ticket per pull; updates may then reference the ticket
	DelayedReward bool `mapstructure:"delayed_reward"`
	// CheckpointIntervalSec is how often the daemon saves a snapshot (0 = only on shutdown)
	CheckpointIntervalSec int `mapstructure:"checkpoint_interval_sec"`
}

// PendingConfig bounds the delayed-reward ticket cache
type PendingConfig struct {
	Size   int `mapstructure:"size"`
	TTLSec int `mapstructure:"ttl_sec"`
}

// JournalConfig controls the append-only event journal
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// LogConfig controls structured logging
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// Format is "json" or "text"
	Format string `mapstructure:"format"`
}

// ValidationError reports a configuration field with an unusable value
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			TokenRate:       100,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
		},
		Store: StoreConfig{
			Backend:   "file",
			Dir:       "data/snapshots",
			RedisAddr: "localhost:6379",
		},
		Bandit: BanditConfig{
			Name:                  "default",
			SchemaFile:            "bandit.yaml",
			CheckpointIntervalSec: 60,
		},
		Pending: PendingConfig{
			Size:   10000,
			TTLSec: 86400,
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "data/journal",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "banditd",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers every default with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.token_rate", d.Server.TokenRate)
	v.SetDefault("server.read_timeout_sec", d.Server.ReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", d.Server.WriteTimeoutSec)
	v.SetDefault("server.metrics_user", d.Server.MetricsUser)
	v.SetDefault("server.metrics_pass", d.Server.MetricsPass)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.postgres_conn", d.Store.PostgresConn)
	v.SetDefault("store.hmac_key", d.Store.HMACKey)

	v.SetDefault("bandit.name", d.Bandit.Name)
	v.SetDefault("bandit.schema_file", d.Bandit.SchemaFile)
	v.SetDefault("bandit.delayed_reward", d.Bandit.DelayedReward)
	v.SetDefault("bandit.checkpoint_interval_sec", d.Bandit.CheckpointIntervalSec)

	v.SetDefault("pending.size", d.Pending.Size)
	v.SetDefault("pending.ttl_sec", d.Pending.TTLSec)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.dir", d.Journal.Dir)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.sampling_rate", d.Telemetry.SamplingRate)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. BANDIT_STORE_BACKEND overrides
// store.backend, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("BANDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and backend requirements
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return &ValidationError{Field: "server.port", Message: "port is required"}
	}
	if c.Server.TokenRate <= 0 {
		return &ValidationError{Field: "server.token_rate", Message: "must be positive"}
	}

	switch c.Store.Backend {
	case "file":
		if c.Store.Dir == "" {
			return &ValidationError{Field: "store.dir", Message: "required for file backend"}
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return &ValidationError{Field: "store.redis_addr", Message: "required for redis backend"}
		}
	case "postgres":
		if c.Store.PostgresConn == "" {
			return &ValidationError{Field: "store.postgres_conn", Message: "required for postgres backend"}
		}
	default:
		return &ValidationError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}

	if c.Bandit.Name == "" {
		return &ValidationError{Field: "bandit.name", Message: "name is required"}
	}
	if c.Bandit.CheckpointIntervalSec < 0 {
		return &ValidationError{Field: "bandit.checkpoint_interval_sec", Message: "must not be negative"}
	}
	if c.Pending.Size <= 0 {
		return &ValidationError{Field: "pending.size", Message: "must be positive"}
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return &ValidationError{Field: "telemetry.sampling_rate", Message: "must be in [0, 1]"}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// TTL returns the ticket time-to-live
func (c *PendingConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// CheckpointInterval returns the periodic checkpoint interval
func (c *BanditConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSec) * time.Second
}
