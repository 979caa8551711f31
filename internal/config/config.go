// Package config provides configuration loading for kbserve.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/kbserve/internal/embeddings"
	"github.com/fyrsmithlabs/kbserve/internal/splitter"
	"github.com/fyrsmithlabs/kbserve/internal/vectorstore"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// APIKey, when set, is required in the X-API-Key header of every
	// protected endpoint.
	APIKey string `koanf:"api_key"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// EmbeddingConfig points at the provider credentials. ConfigPath is the
// durable settings file written by the config store; the inline fields act
// as the bootstrap fallback when that file does not exist yet.
type EmbeddingConfig struct {
	ConfigPath string `koanf:"config_path"`

	Provider string `koanf:"provider"`
	APIKey   string `koanf:"api_key"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig       `koanf:"server"`
	Store     vectorstore.Config `koanf:"store"`
	Splitter  splitter.Config    `koanf:"splitter"`
	Embedding EmbeddingConfig    `koanf:"embedding"`
	Logging   LoggingConfig      `koanf:"logging"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Store.ApplyDefaults()
	if cfg.Splitter.Strategy == "" {
		cfg.Splitter = splitter.DefaultConfig()
	}
	if cfg.Embedding.ConfigPath == "" {
		cfg.Embedding.ConfigPath = "./data/embedding_config.json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Splitter.Validate(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	// The inline embedding fallback is optional, but when a provider is
	// named it must be a known one.
	if c.Embedding.Provider != "" {
		if _, err := embeddings.ParseKind(c.Embedding.Provider); err != nil {
			return err
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
