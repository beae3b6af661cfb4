package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the accesscore service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Access   AccessConfig   `mapstructure:"access"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	Metrics  bool   `mapstructure:"metrics"`
}

// AccessConfig tunes the per-session evaluation stack.
type AccessConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	Grace            time.Duration `mapstructure:"grace"`
	Fallback         string        `mapstructure:"fallback"` // open or closed
	PropagateErrors  bool          `mapstructure:"propagate_errors"`
	MissHeuristic    bool          `mapstructure:"miss_heuristic"`
	ThrottleLimit    int           `mapstructure:"throttle_limit"`
	ThrottleWait     time.Duration `mapstructure:"throttle_wait"`
	Preload          bool          `mapstructure:"preload"`
	PreloadBatchSize int           `mapstructure:"preload_batch_size"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the query cache backend.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PolicyConfig points at the remote policy service.
type PolicyConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RealtimeConfig configures the invalidation feed.
type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// AuditConfig controls the decision trail.
type AuditConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RetentionDays int    `mapstructure:"retention_days"`
	Schedule      string `mapstructure:"schedule"`
}

// AuthConfig captures JWT verification settings for inbound requests.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("ACCESSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Access.Fallback) {
	case "", "open", "closed":
	default:
		return fmt.Errorf("config: access.fallback must be open or closed, got %q", c.Access.Fallback)
	}
	if c.Access.ThrottleLimit < 0 {
		return fmt.Errorf("config: access.throttle_limit must not be negative")
	}
	if c.Policy.URL == "" {
		return fmt.Errorf("config: policy.url is required")
	}
	if c.Realtime.Enabled && c.Realtime.URL == "" {
		return fmt.Errorf("config: realtime.url is required when realtime is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.metrics", true)

	v.SetDefault("access.ttl", "5m")
	v.SetDefault("access.grace", "0s")
	v.SetDefault("access.fallback", "open")
	v.SetDefault("access.propagate_errors", false)
	v.SetDefault("access.miss_heuristic", false)
	v.SetDefault("access.throttle_limit", 3)
	v.SetDefault("access.throttle_wait", "10s")
	v.SetDefault("access.preload", true)
	v.SetDefault("access.preload_batch_size", 3)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/accesscore.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("policy.url", "http://127.0.0.1:9000")
	v.SetDefault("policy.timeout", "5s")

	v.SetDefault("realtime.enabled", false)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.schedule", "@daily")

	v.SetDefault("auth.jwt.issuer", "accesscore")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
