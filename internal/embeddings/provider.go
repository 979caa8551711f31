// Package embeddings generates text embeddings through an external
// OpenAI-compatible API.
//
// Three provider kinds are supported: tongyi (DashScope compatible mode),
// openai, and custom (any OpenAI-compatible endpoint). All three speak the
// same wire format; they differ only in defaults and batch limits.
package embeddings

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates an invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmbeddingFailed indicates a failed embedding request.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Kind identifies an embedding provider type.
type Kind string

const (
	// KindTongyi is Alibaba DashScope in OpenAI-compatible mode.
	KindTongyi Kind = "tongyi"
	// KindOpenAI is the OpenAI API.
	KindOpenAI Kind = "openai"
	// KindCustom is any other OpenAI-compatible endpoint.
	KindCustom Kind = "custom"
)

// ParseKind resolves a provider name. Unknown names are rejected up front
// rather than at first request time.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTongyi, KindOpenAI, KindCustom:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, s)
	}
}

const (
	tongyiBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	tongyiModel   = "text-embedding-v4"
	// DashScope rejects batches above 10 inputs.
	tongyiBatchLimit = 10

	openaiBaseURL = "https://api.openai.com/v1"
	openaiModel   = "text-embedding-3-small"
)

// Config holds the provider settings.
type Config struct {
	// Provider is tongyi, openai or custom.
	Provider string `koanf:"provider"`

	// APIKey authenticates requests. Required for tongyi and openai.
	APIKey string `koanf:"api_key"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL overrides the provider's API root. Required for custom.
	BaseURL string `koanf:"base_url"`

	// BatchSize caps inputs per request; 0 means the provider default.
	BatchSize int `koanf:"batch_size"`
}

// ApplyDefaults fills provider-specific defaults.
func (c *Config) ApplyDefaults() {
	switch Kind(c.Provider) {
	case KindTongyi:
		if c.BaseURL == "" {
			c.BaseURL = tongyiBaseURL
		}
		if c.Model == "" {
			c.Model = tongyiModel
		}
		if c.BatchSize == 0 || c.BatchSize > tongyiBatchLimit {
			c.BatchSize = tongyiBatchLimit
		}
	case KindOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = openaiBaseURL
		}
		if c.Model == "" {
			c.Model = openaiModel
		}
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	kind, err := ParseKind(c.Provider)
	if err != nil {
		return err
	}
	if (kind == KindTongyi || kind == KindOpenAI) && c.APIKey == "" {
		return fmt.Errorf("%w: api key required for provider %s", ErrInvalidConfig, kind)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base url required for provider %s", ErrInvalidConfig, kind)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", ErrInvalidConfig)
	}
	return nil
}
