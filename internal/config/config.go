// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	X          XConfig          `mapstructure:"x"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	QueueDepth int              `mapstructure:"queue_depth"`
	Workers    int              `mapstructure:"workers"`
	Logging    LoggingConfig    `mapstructure:"logging"`
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

// HarvestConfig governs the account fetch scheduler.
type HarvestConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	RequestJitter  time.Duration `mapstructure:"request_jitter"`
	WindowHours    int           `mapstructure:"window_hours"`
	MaxPerAccount  int           `mapstructure:"max_per_account"`
	RosterFile     string        `mapstructure:"roster_file"`
}

// Window converts WindowHours into a duration.
func (h HarvestConfig) Window() time.Duration {
	return time.Duration(h.WindowHours) * time.Hour
}

// XConfig holds the session cookies and pacing for the X web API.
type XConfig struct {
	AuthToken         string  `mapstructure:"auth_token"`
	CT0               string  `mapstructure:"ct0"`
	SessionFile       string  `mapstructure:"session_file"`
	Proxy             string  `mapstructure:"proxy"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CacheConfig selects where the identity cache is persisted.
type CacheConfig struct {
	Backend  string              `mapstructure:"backend"`
	Path     string              `mapstructure:"path"`
	Redis    RedisCacheConfig    `mapstructure:"redis"`
	Postgres PostgresCacheConfig `mapstructure:"postgres"`
}

// RedisCacheConfig addresses the Redis hash holding identities.
type RedisCacheConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PostgresCacheConfig addresses the identity table.
type PostgresCacheConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// StorageConfig sets where reports are written.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
}

// LocalStorageConfig configures the filesystem report store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SummarizerConfig selects the summarization provider.
type SummarizerConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// ProgressConfig toggles progress emission and tunes batching.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig captures batching thresholds.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("harvest.concurrency", 5)
	v.SetDefault("harvest.request_timeout", 15*time.Second)
	v.SetDefault("harvest.max_attempts", 4)
	v.SetDefault("harvest.base_backoff", 2*time.Second)
	v.SetDefault("harvest.max_backoff", 60*time.Second)
	v.SetDefault("harvest.request_jitter", 100*time.Millisecond)
	v.SetDefault("harvest.window_hours", 24)
	v.SetDefault("harvest.max_per_account", 20)
	v.SetDefault("harvest.roster_file", "")
	v.SetDefault("x.auth_token", "")
	v.SetDefault("x.ct0", "")
	v.SetDefault("x.session_file", "x_session.json")
	v.SetDefault("x.proxy", "")
	v.SetDefault("x.requests_per_second", 1.0)
	v.SetDefault("x.burst", 2)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.path", "user_id_cache.json")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key", "harvester:identities")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.table", "account_identities")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "reports")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("summarizer.provider", "none")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.model", "claude-sonnet-4-5")
	v.SetDefault("summarizer.max_tokens", 4096)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("queue_depth", 8)
	v.SetDefault("workers", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Harvest.validate(); err != nil {
		return err
	}
	if c.X.RequestsPerSecond < 0 {
		return fmt.Errorf("x.requests_per_second must be >= 0")
	}
	switch c.Cache.Backend {
	case "file":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path must be set for the file backend")
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must be set for the redis backend")
		}
	case "postgres":
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn must be set for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	switch c.Summarizer.Provider {
	case "", "none":
	case "anthropic":
		if c.Summarizer.APIKey == "" {
			return fmt.Errorf("summarizer.api_key must be set for the anthropic provider")
		}
	default:
		return fmt.Errorf("summarizer.provider %q is not supported", c.Summarizer.Provider)
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be > 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	return nil
}

func (h HarvestConfig) validate() error {
	if h.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if h.RequestTimeout <= 0 {
		return fmt.Errorf("harvest.request_timeout must be > 0")
	}
	if h.MaxAttempts <= 0 {
		return fmt.Errorf("harvest.max_attempts must be > 0")
	}
	if h.BaseBackoff <= 0 || h.MaxBackoff < h.BaseBackoff {
		return fmt.Errorf("harvest.max_backoff must be >= harvest.base_backoff > 0")
	}
	if h.WindowHours <= 0 {
		return fmt.Errorf("harvest.window_hours must be > 0")
	}
	if h.MaxPerAccount <= 0 {
		return fmt.Errorf("harvest.max_per_account must be > 0")
	}
	return nil
}
