// Package config provides centralized configuration management for keygate.
// It layers built-in defaults, an optional YAML file, environment variables
// and runtime overrides, then decodes the result into typed structs.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/appid"
)

// KeySeparator splits credential lists supplied as a single string.
const KeySeparator = ";"

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// legacyEnv lists the unprefixed variable names used by older .env files.
// The prefixed form of each name takes precedence.
var legacyEnv = []struct {
	name string
	path []string
}{
	{name: "API_KEYS", path: []string{"credentials", "keys"}},
	{name: "RATE_LIMIT", path: []string{"credentials", "rate_limit"}},
	{name: "TARGET_API_URL", path: []string{"upstream", "base_url"}},
}

// Load resolves configuration from defaults, the config file, the environment
// and any runtime overrides (applied last, in order).
//
// configFile is optional; when empty the XDG user config and ./config/keygate.yaml
// are tried. This function is safe to call multiple times (e.g., for config reload).
func Load(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	path, err := resolveConfigFile(configFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := ValidateDocument(data); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	if err := applyLegacyEnvOverrides(envPrefix(), envOverrides); err != nil {
		return nil, err
	}

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge config overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(KeySeparator),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Credentials.Keys = NormalizeKeys(cfg.Credentials.Keys)
	cfg.Upstream.BaseURL = strings.TrimSpace(cfg.Upstream.BaseURL)

	setConfig(cfg)

	return cfg, nil
}

// setDefaults registers built-in defaults on v.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", "180s")
	v.SetDefault("upstream.auth_header", "Authorization")
	v.SetDefault("upstream.auth_scheme", "Bearer")

	// Credential pool defaults
	v.SetDefault("credentials.keys", []string{})
	v.SetDefault("credentials.rate_limit", 15)
	v.SetDefault("credentials.window", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// NormalizeKeys trims whitespace and drops empty entries, keeping order.
func NormalizeKeys(keys []string) []string {
	normalized := make([]string, 0, len(keys))
	for _, key := range keys {
		for _, part := range strings.Split(key, KeySeparator) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			normalized = append(normalized, part)
		}
	}
	return normalized
}

// Validate reports every startup misconfiguration at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []error

	if len(c.Credentials.Keys) == 0 {
		problems = append(problems, errors.New("credentials.keys: at least one credential is required"))
	}
	seen := make(map[string]int, len(c.Credentials.Keys))
	for i, key := range c.Credentials.Keys {
		if prev, ok := seen[key]; ok {
			problems = append(problems, fmt.Errorf("credentials.keys: credential %d duplicates credential %d", i, prev))
			continue
		}
		seen[key] = i
	}
	if c.Credentials.Window < 0 {
		problems = append(problems, fmt.Errorf("credentials.window: must not be negative, got %s", c.Credentials.Window))
	}

	if err := validateBaseURL(c.Upstream.BaseURL); err != nil {
		problems = append(problems, err)
	}
	header := strings.TrimSpace(c.Upstream.AuthHeader)
	if header == "" || strings.ContainsAny(header, " :\t\r\n") {
		problems = append(problems, fmt.Errorf("upstream.auth_header: invalid header name %q", c.Upstream.AuthHeader))
	}
	if c.Upstream.Timeout < 0 {
		problems = append(problems, fmt.Errorf("upstream.timeout: must not be negative, got %s", c.Upstream.Timeout))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("server.port: out of range: %d", c.Server.Port))
	}

	return errors.Join(problems...)
}

// Warnings returns configuration that is accepted but almost certainly wrong.
func (c *Config) Warnings() []string {
	if c == nil {
		return nil
	}

	var warnings []string
	if c.Credentials.RateLimit <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"credentials.rate_limit is %d: every credential is permanently exhausted and requests will wait indefinitely",
			c.Credentials.RateLimit))
	}
	return warnings
}

func validateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("upstream.base_url: required (set KEYGATE_TARGET_API_URL or TARGET_API_URL)")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("upstream.base_url: must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

// resolveConfigFile returns the config file to read, or "" when none exists.
// An explicitly requested file must exist.
func resolveConfigFile(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{DefaultConfigPath()}
	_, binaryName := appNamesForPaths()
	candidates = append(candidates, filepath.Join("config", binaryName+".yaml"))

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", nil
}

func envPrefix() string {
	prefix := "KEYGATE_"
	if appIdentity != nil && appIdentity.EnvPrefix != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Upstream config
		{Name: prefix + "TARGET_API_URL", Path: []string{"upstream", "base_url"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_TIMEOUT", Path: []string{"upstream", "timeout"}, Type: EnvString},
		{Name: prefix + "AUTH_HEADER", Path: []string{"upstream", "auth_header"}, Type: EnvString},
		{Name: prefix + "AUTH_SCHEME", Path: []string{"upstream", "auth_scheme"}, Type: EnvString},

		// Credential pool (keys are ';'-separated)
		{Name: prefix + "API_KEYS", Path: []string{"credentials", "keys"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT", Path: []string{"credentials", "rate_limit"}, Type: EnvInt},
		{Name: prefix + "WINDOW", Path: []string{"credentials", "window"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

// applyLegacyEnvOverrides honours API_KEYS, RATE_LIMIT and TARGET_API_URL
// when their prefixed counterparts are unset.
func applyLegacyEnvOverrides(prefix string, envOverrides map[string]any) error {
	for _, legacy := range legacyEnv {
		if strings.TrimSpace(os.Getenv(prefix+legacy.name)) != "" {
			continue
		}
		value := strings.TrimSpace(os.Getenv(legacy.name))
		if value == "" {
			continue
		}

		var typed any = value
		if legacy.name == "RATE_LIMIT" {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", legacy.name, err)
			}
			typed = parsed
		}

		parent := envOverrides
		for _, key := range legacy.path[:len(legacy.path)-1] {
			parent = ensureMap(parent, key)
		}
		parent[legacy.path[len(legacy.path)-1]] = typed
	}
	return nil
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "keygate" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "keygate"
	binaryName = "keygate"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}
