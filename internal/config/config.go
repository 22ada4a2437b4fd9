// Package config loads server configuration from PYPS_-prefixed environment
// variables, optionally overlaid with a YAML file for the ambient knobs the
// spec leaves unnamed (logging, metrics, messaging).
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved server configuration.
type Config struct {
	FilesDir string `yaml:"-"`
	CacheDir string `yaml:"-"`
	FilesURL string `yaml:"-"`

	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Messaging MessagingConfig `yaml:"messaging"`
}

// DatabaseConfig selects the index store's backing driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig controls the ambient stdlib logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MessagingConfig controls the optional reload-event publisher.
type MessagingConfig struct {
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds the connection details for the event publisher.
type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// defaults mirrors the values named in the spec's configuration table.
func defaults() Config {
	return Config{
		FilesDir: ".",
		FilesURL: "/files",
		Database: DatabaseConfig{Driver: "sqlite"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// Load resolves configuration from, in increasing precedence: built-in
// defaults, an optional YAML file at yamlPath (skipped entirely if empty or
// missing), then PYPS_-prefixed environment variables.
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("PYPS_FILES_DIR"); v != "" {
		cfg.FilesDir = v
	}
	if v := os.Getenv("PYPS_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.FilesDir, ".cache")
	}
	if v := os.Getenv("PYPS_FILES_URL"); v != "" {
		cfg.FilesURL = v
	}

	if v := os.Getenv("PYPS_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PYPS_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.CacheDir, "db.sqlite")
	}

	if v := os.Getenv("PYPS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PYPS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("PYPS_MESSAGING_RABBITMQ_URL"); v != "" {
		cfg.Messaging.RabbitMQ.Enabled = true
		cfg.Messaging.RabbitMQ.URL = v
		if cfg.Messaging.RabbitMQ.Exchange == "" {
			cfg.Messaging.RabbitMQ.Exchange = "pypiserve.events"
		}
	}

	return &cfg, nil
}

// ApplyLogging configures the standard-library logger's flags and prefix
// from the resolved Logging settings: "json" format drops the default
// timestamp prefix and prefixes every entry with {"level":"<level>"}, and
// "debug" level adds file:line to every entry.
func ApplyLogging(cfg LoggingConfig) {
	flags := log.LstdFlags
	if cfg.Format == "json" {
		flags = 0
	}
	if cfg.Level == "debug" {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)

	if cfg.Format == "json" {
		log.SetPrefix(fmt.Sprintf(`{"level":%q} `, cfg.Level))
	} else {
		log.SetPrefix("")
	}
}
