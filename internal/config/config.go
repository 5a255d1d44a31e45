// ABOUTME: Configuration loading and parsing for herald
// ABOUTME: TOML with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultGreeting is sent when the config does not override reply.greeting.
const DefaultGreeting = "Hello! This is an automated greeting. Thanks for reaching out, " +
	"I'll reply personally as soon as I can."

// Config is the complete herald configuration.
type Config struct {
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Reply    ReplyConfig    `toml:"reply"`
	Session  SessionConfig  `toml:"session"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
}

// WhatsAppConfig holds transport settings.
type WhatsAppConfig struct {
	// StorePath is the SQLite database holding whatsmeow device state.
	// Defaults to <data dir>/session.db when empty.
	StorePath string `toml:"store_path"`
}

// ReplyConfig holds the greeting settings.
type ReplyConfig struct {
	Greeting string `toml:"greeting"`
}

// SessionConfig holds reconnect policy settings.
type SessionConfig struct {
	BaseDelay   time.Duration `toml:"-"`
	MaxAttempts int           `toml:"max_attempts"`

	// Raw string value for TOML unmarshaling
	BaseDelayRaw string `toml:"base_delay"`
}

// ServerConfig holds the HTTP status server address.
type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
}

// AuthConfig holds the optional status-API token secret. When empty the
// JSON API is unauthenticated.
type AuthConfig struct {
	Secret string `toml:"secret"`
}

// StorageConfig holds paths for herald's own durable state.
type StorageConfig struct {
	// RepliedPath is the JSON file listing already-greeted correspondents.
	// Defaults to <data dir>/replied.json when empty.
	RepliedPath string `toml:"replied_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads a configuration file from the given path and returns a
// parsed Config. Environment variables in the format ${VAR_NAME} are
// expanded. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Reply.Greeting == "" {
		c.Reply.Greeting = DefaultGreeting
	}
	if c.Session.BaseDelayRaw == "" {
		c.Session.BaseDelayRaw = "5s"
	}
	if c.Session.MaxAttempts == 0 {
		c.Session.MaxAttempts = 5
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8420"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) parseDurations() error {
	d, err := time.ParseDuration(c.Session.BaseDelayRaw)
	if err != nil {
		return fmt.Errorf("parsing base_delay %q: %w", c.Session.BaseDelayRaw, err)
	}
	c.Session.BaseDelay = d
	return nil
}

// Validate checks that the configuration is usable. Returns an error
// describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Session.BaseDelay <= 0 {
		return fmt.Errorf("session.base_delay must be positive")
	}
	if c.Session.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1")
	}
	if !strings.Contains(c.Server.HTTPAddr, ":") {
		return fmt.Errorf("server.http_addr %q is not a valid listen address", c.Server.HTTPAddr)
	}
	return nil
}
