package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values resolve in order: built-in defaults, the YAML config file,
// environment variables (prefixed, then legacy unprefixed), runtime overrides.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Upstream    UpstreamConfig    `mapstructure:"upstream" yaml:"upstream" json:"upstream"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials" json:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Health      HealthConfig      `mapstructure:"health" yaml:"health" json:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host" json:"host"`
	Port         int           `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	// WriteTimeout of zero disables the limit; a request may wait a full
	// quota window for a credential before the upstream call even starts.
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// UpstreamConfig describes the single API every request is forwarded to.
type UpstreamConfig struct {
	// BaseURL is joined with the path that follows /proxy/.
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// AuthHeader receives the acquired credential, formatted as "<AuthScheme> <credential>".
	// An empty AuthScheme sends the bare credential.
	AuthHeader string `mapstructure:"auth_header" yaml:"auth_header" json:"auth_header"`
	AuthScheme string `mapstructure:"auth_scheme" yaml:"auth_scheme" json:"auth_scheme"`
}

// CredentialsConfig holds the credential pool and its quota.
type CredentialsConfig struct {
	Keys      []string      `mapstructure:"keys" yaml:"keys" json:"keys"`
	RateLimit int           `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Window    time.Duration `mapstructure:"window" yaml:"window" json:"window"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile" yaml:"profile" json:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Port is the dedicated Prometheus exporter port; /metrics on the main
	// server proxies it.
	Port int `mapstructure:"port" yaml:"port" json:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}
