// ABOUTME: Configuration loading and parsing for the arena server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default battle timings, applied when the config omits them.
const (
	DefaultBattleTimeout     = 300 * time.Second
	DefaultReadyTimeout      = 120 * time.Second
	DefaultReadyPollInterval = 5 * time.Second
	DefaultMessageTimeout    = 60 * time.Second
)

// Config represents the complete arena server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Battle   BattleConfig   `yaml:"battle"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// PublicURL is the externally reachable base URL handed to green agents
	// as the result callback address. Defaults to http://<http_addr>.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BattleConfig holds battle lifecycle timing configuration
type BattleConfig struct {
	Timeout           time.Duration `yaml:"-"`
	ReadyTimeout      time.Duration `yaml:"-"`
	ReadyPollInterval time.Duration `yaml:"-"`
	MessageTimeout    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw           string `yaml:"timeout"`
	ReadyTimeoutRaw      string `yaml:"ready_timeout"`
	ReadyPollIntervalRaw string `yaml:"ready_poll_interval"`
	MessageTimeoutRaw    string `yaml:"message_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

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

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Battle.Timeout == 0 {
		c.Battle.Timeout = DefaultBattleTimeout
	}
	if c.Battle.ReadyTimeout == 0 {
		c.Battle.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Battle.ReadyPollInterval == 0 {
		c.Battle.ReadyPollInterval = DefaultReadyPollInterval
	}
	if c.Battle.MessageTimeout == 0 {
		c.Battle.MessageTimeout = DefaultMessageTimeout
	}
	if c.Server.PublicURL == "" && c.Server.HTTPAddr != "" {
		c.Server.PublicURL = "http://" + c.Server.HTTPAddr
	}
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
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Battle.TimeoutRaw, &cfg.Battle.Timeout, "battle.timeout"},
		{cfg.Battle.ReadyTimeoutRaw, &cfg.Battle.ReadyTimeout, "battle.ready_timeout"},
		{cfg.Battle.ReadyPollIntervalRaw, &cfg.Battle.ReadyPollInterval, "battle.ready_poll_interval"},
		{cfg.Battle.MessageTimeoutRaw, &cfg.Battle.MessageTimeout, "battle.message_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
