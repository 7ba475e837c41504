// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded when no other env file is named.
const DefaultEnvFile = ".env"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the server settings. Every field can be set from the
// environment; command line flags override it.
type Config struct {
	// LogLevel is one of debug, info, warn or error. ENV: COFFEE_LOG_LEVEL
	LogLevel string `env:"COFFEE_LOG_LEVEL,default=info"`
	// LogFormat is text or json. ENV: COFFEE_LOG_FORMAT
	LogFormat string `env:"COFFEE_LOG_FORMAT,default=text"`
	// MenuFile is a YAML menu; empty selects the built-in menu. ENV: COFFEE_MENU_FILE
	MenuFile string `env:"COFFEE_MENU_FILE"`
	// WatchMenu reloads MenuFile when it changes. ENV: COFFEE_WATCH_MENU
	WatchMenu bool `env:"COFFEE_WATCH_MENU,default=true"`
	// Sequential processes one message at a time. ENV: COFFEE_SEQUENTIAL
	Sequential bool `env:"COFFEE_SEQUENTIAL,default=false"`
	// MaxMessageBytes caps a single inbound frame. ENV: COFFEE_MAX_MESSAGE_BYTES
	MaxMessageBytes int `env:"COFFEE_MAX_MESSAGE_BYTES,default=4194304"`
	// ServerName is reported in serverInfo. ENV: COFFEE_SERVER_NAME
	ServerName string `env:"COFFEE_SERVER_NAME,default=mcp-coffee-shop"`
	// Instructions are returned from initialize when set. ENV: COFFEE_INSTRUCTIONS
	Instructions string `env:"COFFEE_INSTRUCTIONS"`
}

// Load reads envFile into the environment, without overriding variables that
// are already set, then decodes and validates a Config. A missing envFile is
// not an error; an empty envFile skips the file entirely.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values that the environment cannot constrain.
func (c Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q is not text or json", ErrInvalidConfig, c.LogFormat)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: max message bytes must be positive, got %d", ErrInvalidConfig, c.MaxMessageBytes)
	}
	if strings.TrimSpace(c.ServerName) == "" {
		return fmt.Errorf("%w: server name is empty", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q: %w", ErrInvalidConfig, c.LogLevel, err)
	}
	return lvl, nil
}

// JSONLogs reports whether logs should be written as JSON.
func (c Config) JSONLogs() bool { return strings.EqualFold(c.LogFormat, "json") }
