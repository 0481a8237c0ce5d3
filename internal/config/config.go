// ABOUTME: Configuration loading and parsing for the gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Provider   ProviderConfig   `yaml:"provider"`
	Auth       AuthConfig       `yaml:"auth"`
	Models     ModelsConfig     `yaml:"models"`
	Satellites SatellitesConfig `yaml:"satellites"`
	Files      FilesConfig      `yaml:"files"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig holds the upstream model provider configuration
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// StreamTimeout bounds a single completion stream end to end.
	StreamTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	StreamTimeoutRaw string `yaml:"stream_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// ProfileURL is the endpoint satellites are authenticated against.
	// Empty disables satellite authentication.
	ProfileURL string `yaml:"profile_url"`
}

// ModelsConfig points at the model catalog file
type ModelsConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

// SatellitesConfig holds satellite tool timing configuration
type SatellitesConfig struct {
	CallTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// FilesConfig holds attachment storage configuration
type FilesConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Satellites.CallTimeoutRaw != "" {
		cfg.Satellites.CallTimeout, err = time.ParseDuration(cfg.Satellites.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.Satellites.CallTimeoutRaw, err)
		}
	}
	if cfg.Satellites.CallTimeout == 0 {
		cfg.Satellites.CallTimeout = 2 * time.Minute
	}

	if cfg.Provider.StreamTimeoutRaw != "" {
		cfg.Provider.StreamTimeout, err = time.ParseDuration(cfg.Provider.StreamTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_timeout %q: %w", cfg.Provider.StreamTimeoutRaw, err)
		}
	}
	if cfg.Provider.StreamTimeout == 0 {
		cfg.Provider.StreamTimeout = 10 * time.Minute
	}

	return nil
}
