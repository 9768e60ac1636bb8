// Package config loads and validates edge service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Bots       BotsConfig       `mapstructure:"bots"`
	Canonical  CanonicalConfig  `mapstructure:"canonical"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Snapshots  SnapshotConfig   `mapstructure:"snapshots"`
	Events     EventsConfig     `mapstructure:"events"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RedisConfig selects the key-value store. An empty address list runs the
// in-memory store, which is only suitable for a single instance.
type RedisConfig struct {
	Mode       string   `mapstructure:"mode"`
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
}

// CacheConfig governs entry lifetimes and the lease wait loop.
type CacheConfig struct {
	EntryTTL      time.Duration `mapstructure:"entry_ttl"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollAttempts  int           `mapstructure:"poll_attempts"`
	SchemaVersion int           `mapstructure:"schema_version"`
}

// ExtractionConfig selects and tunes the extraction backend.
type ExtractionConfig struct {
	Backend             string        `mapstructure:"backend"`
	Endpoint            string        `mapstructure:"endpoint"`
	APIKey              string        `mapstructure:"api_key"`
	Timeout             time.Duration `mapstructure:"timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
	BreakerMinRequests  int           `mapstructure:"breaker_min_requests"`
	BreakerDelay        time.Duration `mapstructure:"breaker_delay"`
	FallbackTimeout     time.Duration `mapstructure:"fallback_timeout"`
	// OriginRPS paces fetches per origin host; <= 0 disables pacing.
	OriginRPS   float64 `mapstructure:"origin_rps"`
	OriginBurst int     `mapstructure:"origin_burst"`
}

// AuthConfig defines credential resolution for API mode.
type AuthConfig struct {
	CredentialHeader string `mapstructure:"credential_header"`
	WriteThrough     bool   `mapstructure:"write_through"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresTable    string `mapstructure:"postgres_table"`
}

// BotsConfig extends the built-in AI crawler list.
type BotsConfig struct {
	ExtraAgents []string `mapstructure:"extra_agents"`
}

// CanonicalConfig extends the tracking parameter denylist.
type CanonicalConfig struct {
	ExtraTrackingParams []string `mapstructure:"extra_tracking_params"`
}

// ProxyConfig lists the origins served in transparent proxy mode.
type ProxyConfig struct {
	Origins []ProxyOrigin `mapstructure:"origins"`
}

// ProxyOrigin maps an inbound host to an upstream origin.
type ProxyOrigin struct {
	Host     string   `mapstructure:"host"`
	Upstream string   `mapstructure:"upstream"`
	TenantID string   `mapstructure:"tenant_id"`
	Include  []string `mapstructure:"include"`
	Exclude  []string `mapstructure:"exclude"`
}

// UsageConfig controls approximate per-tenant extraction counters.
type UsageConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"`
	Bucket    time.Duration `mapstructure:"bucket"`
}

// SnapshotConfig controls side-by-side comparison archiving.
type SnapshotConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig sizes the render events hub and its Pub/Sub sink.
type EventsConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	MaxBatch      int           `mapstructure:"max_batch"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	Log           bool          `mapstructure:"log"`
	PubSubProject string        `mapstructure:"pubsub_project"`
	PubSubTopic   string        `mapstructure:"pubsub_topic"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EDGE")
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
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("redis.mode", "single")
	v.SetDefault("redis.key_prefix", "edge")
	v.SetDefault("cache.entry_ttl", 24*time.Hour)
	v.SetDefault("cache.lease_ttl", 30*time.Second)
	v.SetDefault("cache.poll_interval", 300*time.Millisecond)
	v.SetDefault("cache.poll_attempts", 10)
	v.SetDefault("cache.schema_version", 1)
	v.SetDefault("extraction.backend", "local")
	v.SetDefault("extraction.timeout", 8*time.Second)
	v.SetDefault("extraction.user_agent", "crawler-edge/1.0 (+render)")
	v.SetDefault("extraction.breaker_failure_ratio", 0.5)
	v.SetDefault("extraction.breaker_min_requests", 20)
	v.SetDefault("extraction.breaker_delay", 15*time.Second)
	v.SetDefault("extraction.fallback_timeout", 10*time.Second)
	v.SetDefault("extraction.origin_rps", 5.0)
	v.SetDefault("extraction.origin_burst", 10)
	v.SetDefault("auth.credential_header", "X-API-Key")
	v.SetDefault("auth.write_through", true)
	v.SetDefault("auth.postgres_table", "tenant_credentials")
	v.SetDefault("usage.enabled", true)
	v.SetDefault("usage.retention", 35*24*time.Hour)
	v.SetDefault("usage.bucket", time.Hour)
	v.SetDefault("snapshots.enabled", false)
	v.SetDefault("snapshots.backend", "memory")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch", 500)
	v.SetDefault("events.max_wait", 500*time.Millisecond)
	v.SetDefault("events.log", false)
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "crawler-edge")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Cache.EntryTTL <= 0 {
		return fmt.Errorf("cache.entry_ttl must be > 0")
	}
	if c.Cache.LeaseTTL <= 0 {
		return fmt.Errorf("cache.lease_ttl must be > 0")
	}
	if c.Cache.PollInterval <= 0 || c.Cache.PollAttempts <= 0 {
		return fmt.Errorf("cache.poll_interval and cache.poll_attempts must be > 0")
	}
	if wait := c.Cache.PollInterval * time.Duration(c.Cache.PollAttempts); wait > c.Cache.LeaseTTL {
		return fmt.Errorf("cache.lease_ttl (%s) must cover the poll window (%s)", c.Cache.LeaseTTL, wait)
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction.timeout must be > 0")
	}
	// A lease must outlive the fill it guards or a second fill can start.
	if c.Extraction.Timeout >= c.Cache.LeaseTTL {
		return fmt.Errorf("extraction.timeout (%s) must be shorter than cache.lease_ttl (%s)", c.Extraction.Timeout, c.Cache.LeaseTTL)
	}
	switch c.Extraction.Backend {
	case "local":
	case "http":
		if c.Extraction.Endpoint == "" {
			return fmt.Errorf("extraction.endpoint must be set for the http backend")
		}
	default:
		return fmt.Errorf("extraction.backend must be local or http, got %q", c.Extraction.Backend)
	}
	if c.Extraction.BreakerFailureRatio <= 0 || c.Extraction.BreakerFailureRatio > 1 {
		return fmt.Errorf("extraction.breaker_failure_ratio must be in (0,1]")
	}
	if strings.TrimSpace(c.Auth.CredentialHeader) == "" {
		return fmt.Errorf("auth.credential_header must be set")
	}
	for i, origin := range c.Proxy.Origins {
		if strings.TrimSpace(origin.Host) == "" {
			return fmt.Errorf("proxy.origins[%d].host is required", i)
		}
		u, err := url.Parse(origin.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.origins[%d].upstream must be an absolute URL", i)
		}
	}
	if c.Usage.Enabled && (c.Usage.Bucket <= 0 || c.Usage.Retention <= 0) {
		return fmt.Errorf("usage.bucket and usage.retention must be > 0 when usage is enabled")
	}
	if c.Snapshots.Enabled {
		switch c.Snapshots.Backend {
		case "memory":
		case "local":
			if c.Snapshots.BaseDir == "" {
				return fmt.Errorf("snapshots.base_dir must be set for the local backend")
			}
		case "gcs":
			if c.Snapshots.GCSBucket == "" {
				return fmt.Errorf("snapshots.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("snapshots.backend must be memory, local or gcs, got %q", c.Snapshots.Backend)
		}
	}
	if c.Events.PubSubTopic != "" && c.Events.PubSubProject == "" {
		return fmt.Errorf("events.pubsub_project must be set when events.pubsub_topic is set")
	}
	return nil
}

// MaxLeaseWait is the longest a caller waits on another holder's lease.
func (c Config) MaxLeaseWait() time.Duration {
	return c.Cache.PollInterval * time.Duration(c.Cache.PollAttempts)
}
