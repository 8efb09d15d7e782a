// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Source   SourceConfig   `mapstructure:"source"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	DB       DBConfig       `mapstructure:"db"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points at the analysis backend that runs the jobs.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SourceConfig selects and configures the stage event source.
type SourceConfig struct {
	// Provider is one of "memory", "websocket", or "pubsub".
	Provider  string          `mapstructure:"provider"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// WebSocketConfig configures the websocket event source.
type WebSocketConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// PubSubConfig configures the Cloud Pub/Sub event source.
type PubSubConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	SubscriptionPrefix string `mapstructure:"subscription_prefix"`
}

// SessionsConfig governs session queues and terminal-session retention.
type SessionsConfig struct {
	QueueSize            int `mapstructure:"queue_size"`
	RetentionMinutes     int `mapstructure:"retention_minutes"`
	PruneIntervalMinutes int `mapstructure:"prune_interval_minutes"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory snapshot store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// ArchiveConfig toggles terminal-snapshot archival to GCS.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARTSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout_seconds", 15)
	v.SetDefault("source.provider", "memory")
	v.SetDefault("source.pubsub.subscription_prefix", "partscope-jobs")
	v.SetDefault("sessions.queue_size", 256)
	v.SetDefault("sessions.retention_minutes", 60)
	v.SetDefault("sessions.prune_interval_minutes", 5)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	switch c.Source.Provider {
	case "memory":
	case "websocket":
		if c.Source.WebSocket.URL == "" {
			return fmt.Errorf("source.websocket.url must be set when provider is websocket")
		}
	case "pubsub":
		if c.Source.PubSub.ProjectID == "" {
			return fmt.Errorf("source.pubsub.project_id must be set when provider is pubsub")
		}
	default:
		return fmt.Errorf("source.provider must be one of memory, websocket, pubsub")
	}
	if c.Sessions.QueueSize <= 0 {
		return fmt.Errorf("sessions.queue_size must be > 0")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set when archive is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// BackendTimeout converts the backend timeout into a duration.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// SessionRetention converts the retention config into a duration.
func (c Config) SessionRetention() time.Duration {
	return time.Duration(c.Sessions.RetentionMinutes) * time.Minute
}

// PruneInterval converts the prune interval config into a duration.
func (c Config) PruneInterval() time.Duration {
	return time.Duration(c.Sessions.PruneIntervalMinutes) * time.Minute
}
