package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zep-us/httpjobs/pkg/logger"
)

// EnvPrefix prefixes environment overrides, e.g. HTTPJOBS_SERVER_PORT
const EnvPrefix = "HTTPJOBS"

// Config holds all configuration values for the application
type Config struct {
	ServerPort             int      `mapstructure:"server_port"`
	ShutdownDrainSeconds   int      `mapstructure:"shutdown_drain_seconds"`   // readiness off before stopping
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"` // hard limit for the whole shutdown
	AllowedOrigins         []string `mapstructure:"allowed_origins"`          // CORS allowed origins
	MaxRequestSizeMB       int      `mapstructure:"max_request_size_mb"`      // API request body limit

	AsyncCapacity        int  `mapstructure:"async_capacity"`
	AsyncBlockingTick    bool `mapstructure:"async_blocking_tick"` // run async jobs inside the poll call
	BgCapacity           int  `mapstructure:"bg_capacity"`
	BgPoolSize           int  `mapstructure:"bg_pool_size"`
	ShutdownGraceSeconds int  `mapstructure:"shutdown_grace_seconds"` // wait for outstanding jobs before cancelling

	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	UserAgent             string  `mapstructure:"user_agent"`
	CertsDir              string  `mapstructure:"certs_dir"` // relative CA file paths resolve here
	MaxResponseBodyMB     int     `mapstructure:"max_response_body_mb"`
	RateLimitPerSecond    float64 `mapstructure:"rate_limit_per_second"` // 0 disables
	RateLimitBurst        int     `mapstructure:"rate_limit_burst"`

	AllowFileFields bool `mapstructure:"allow_file_fields"` // let API clients upload local files
	Debug           bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", 8080)
	v.SetDefault("shutdown_drain_seconds", 2)
	v.SetDefault("shutdown_timeout_seconds", 15)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("max_request_size_mb", 1)

	v.SetDefault("async_capacity", 64)
	v.SetDefault("async_blocking_tick", false)
	v.SetDefault("bg_capacity", 256)
	v.SetDefault("bg_pool_size", 4)
	v.SetDefault("shutdown_grace_seconds", 5)

	v.SetDefault("connect_timeout_seconds", 10)
	v.SetDefault("request_timeout_seconds", 30)
	v.SetDefault("user_agent", "httpjobs/1.0")
	v.SetDefault("certs_dir", "")
	v.SetDefault("max_response_body_mb", 10)
	v.SetDefault("rate_limit_per_second", 0)
	v.SetDefault("rate_limit_burst", 1)

	v.SetDefault("allow_file_fields", false)
	v.SetDefault("debug", false)
}

// Load reads configuration from config.toml in . or ./config.
// A missing file is not an error: defaults and HTTPJOBS_* environment variables apply.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or searches for config.toml when path is empty
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Warn("No config.toml found, using defaults and %s_* environment variables", EnvPrefix)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("Configuration loaded successfully from %s", used)
	}
	config.logValues()
	return &config, nil
}

// normalize fixes out-of-range values with a warning and rejects values that cannot be fixed
func (c *Config) normalize() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.AsyncCapacity <= 0 {
		return fmt.Errorf("async_capacity must be positive, got %d", c.AsyncCapacity)
	}
	if c.BgCapacity <= 0 {
		return fmt.Errorf("bg_capacity must be positive, got %d", c.BgCapacity)
	}
	if c.BgPoolSize < 0 {
		logger.Warn("bg_pool_size < 0 (%d), defaulting to 4", c.BgPoolSize)
		c.BgPoolSize = 4
	}
	if c.BgPoolSize > c.BgCapacity {
		logger.Warn("bg_pool_size (%d) exceeds bg_capacity (%d): extra workers would idle", c.BgPoolSize, c.BgCapacity)
	}
	if c.ShutdownGraceSeconds < 0 {
		logger.Warn("shutdown_grace_seconds < 0 (%d), defaulting to 5", c.ShutdownGraceSeconds)
		c.ShutdownGraceSeconds = 5
	}
	if c.ShutdownTimeoutSeconds <= c.ShutdownGraceSeconds {
		logger.Warn("shutdown_timeout_seconds (%d) does not exceed shutdown_grace_seconds (%d): jobs may be cancelled early",
			c.ShutdownTimeoutSeconds, c.ShutdownGraceSeconds)
	}
	if c.MaxRequestSizeMB <= 0 {
		logger.Warn("max_request_size_mb <= 0 (%d), defaulting to 1", c.MaxRequestSizeMB)
		c.MaxRequestSizeMB = 1
	}
	if c.MaxResponseBodyMB <= 0 {
		logger.Warn("max_response_body_mb <= 0 (%d), defaulting to 10", c.MaxResponseBodyMB)
		c.MaxResponseBodyMB = 10
	}
	if c.RateLimitPerSecond < 0 {
		logger.Warn("rate_limit_per_second < 0 (%v), disabling rate limit", c.RateLimitPerSecond)
		c.RateLimitPerSecond = 0
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 1
	}
	return nil
}

func (c *Config) logValues() {
	logger.Info("  server_port: %d", c.ServerPort)
	logger.Info("  shutdown_drain_seconds: %d", c.ShutdownDrainSeconds)
	logger.Info("  shutdown_timeout_seconds: %d", c.ShutdownTimeoutSeconds)
	logger.Info("  allowed_origins: %v", c.AllowedOrigins)
	logger.Info("  max_request_size_mb: %d", c.MaxRequestSizeMB)
	logger.Info("  async_capacity: %d (blocking tick: %v)", c.AsyncCapacity, c.AsyncBlockingTick)
	logger.Info("  bg_capacity: %d, bg_pool_size: %d", c.BgCapacity, c.BgPoolSize)
	logger.Info("  shutdown_grace_seconds: %d", c.ShutdownGraceSeconds)
	logger.Info("  connect_timeout_seconds: %d, request_timeout_seconds: %d", c.ConnectTimeoutSeconds, c.RequestTimeoutSeconds)
	logger.Info("  user_agent: %s", c.UserAgent)
	if c.CertsDir != "" {
		logger.Info("  certs_dir: %s", c.CertsDir)
	}
	logger.Info("  max_response_body_mb: %d", c.MaxResponseBodyMB)
	if c.RateLimitPerSecond > 0 {
		logger.Info("  rate_limit: %.2f/s (burst %d)", c.RateLimitPerSecond, c.RateLimitBurst)
	}
	logger.Info("  allow_file_fields: %v", c.AllowFileFields)
	logger.Info("  debug: %v", c.Debug)
}

// ShutdownGrace is how long dispatchers wait for outstanding jobs on shutdown
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// ConnectTimeout is the default dial and TLS handshake timeout
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// RequestTimeout is the default whole-request timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MaxResponseBodyBytes caps stored response bodies
func (c *Config) MaxResponseBodyBytes() int64 {
	return int64(c.MaxResponseBodyMB) * 1024 * 1024
}
