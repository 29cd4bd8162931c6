package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Library  LibraryConfig  `toml:"library"`
	Logging  LoggingConfig  `toml:"logging"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Server   ServerConfig   `toml:"server"`
}

// DatabaseConfig contains catalog database configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// LibraryConfig controls how directories are reconciled into the catalog
type LibraryConfig struct {
	ShowHidden       bool     `toml:"show_hidden"`
	KeepDeleted      bool     `toml:"keep_deleted"`
	SupportedFormats []string `toml:"supported_formats"`
	Locale           string   `toml:"locale"`
	NumericCollation bool     `toml:"numeric_collation"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// WatcherConfig contains filesystem watch and periodic refresh settings
type WatcherConfig struct {
	Enabled                bool `toml:"enabled"`
	DebounceMs             int  `toml:"debounce_ms"`
	RefreshIntervalMinutes int  `toml:"refresh_interval_minutes"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// Environment variables that override file values
const (
	EnvDBPath      = "AUDIOANCHOR_DB_PATH"
	EnvShowHidden  = "AUDIOANCHOR_SHOW_HIDDEN"
	EnvKeepDeleted = "AUDIOANCHOR_KEEP_DELETED"
	EnvLocale      = "AUDIOANCHOR_LOCALE"
	EnvLogLevel    = "AUDIOANCHOR_LOG_LEVEL"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           "./audioanchor.db",
			MaxConnections: 4,
		},
		Library: LibraryConfig{
			ShowHidden:  false,
			KeepDeleted: false,
			SupportedFormats: []string{
				"mp3", "wma", "ogg", "wav", "flac", "m4a", "m4b", "aac", "3gp", "gsm", "mid", "mkv", "opus",
			},
			Locale:           "en",
			NumericCollation: true,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Watcher: WatcherConfig{
			Enabled:                true,
			DebounceMs:             2000,
			RefreshIntervalMinutes: 0,
		},
		Server: ServerConfig{
			Port:        "8080",
			Host:        "127.0.0.1",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with defaults
// when it does not exist yet. A .env file next to the working directory is
// loaded first so its values can override the file.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides values from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup(EnvLocale); ok && v != "" {
		c.Library.Locale = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	for name, dst := range map[string]*bool{
		EnvShowHidden:  &c.Library.ShowHidden,
		EnvKeepDeleted: &c.Library.KeepDeleted,
	} {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		*dst = b
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# audioanchor configuration
# Registered directories are stored in the catalog database, not here.
# Environment variables prefixed with AUDIOANCHOR_ override these values.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if c.Library.Locale != "" {
		if _, err := language.Parse(c.Library.Locale); err != nil {
			return fmt.Errorf("invalid library locale %q: %w", c.Library.Locale, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Watcher.DebounceMs < 0 {
		return fmt.Errorf("watcher debounce must not be negative")
	}
	if c.Watcher.RefreshIntervalMinutes < 0 {
		return fmt.Errorf("watcher refresh interval must not be negative")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an extension (with or without dot) is in the allowlist
func (c *Config) IsFormatSupported(format string) bool {
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	for _, supported := range c.Library.SupportedFormats {
		if strings.TrimPrefix(strings.ToLower(supported), ".") == format {
			return true
		}
	}
	return false
}
