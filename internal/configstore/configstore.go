// Package configstore persists the embedding provider credentials as a JSON
// file so the provider can be reconfigured without restarting.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/embeddings"
)

// EmbeddingSettings is the stored provider configuration.
type EmbeddingSettings struct {
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// MaskedAPIKey returns the key in display form: first four and last four
// characters with the middle replaced. Short keys mask entirely.
func (s EmbeddingSettings) MaskedAPIKey() string {
	if s.APIKey == "" {
		return ""
	}
	if len(s.APIKey) <= 8 {
		return strings.Repeat("*", len(s.APIKey))
	}
	return s.APIKey[:4] + "****" + s.APIKey[len(s.APIKey)-4:]
}

// Settings is the full stored configuration.
type Settings struct {
	Embedding *EmbeddingSettings `json:"embedding,omitempty"`
}

// Store reads and writes the settings file. The file holds credentials, so
// it is written with 0600 permissions, atomically via temp file and rename.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a Store for the settings file at path.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	return &Store{path: path, logger: logger}, nil
}

// Load reads the settings. A missing file yields empty settings; a corrupt
// file is logged and also yields empty settings so the service can start
// and be reconfigured.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Warn("settings file is corrupt, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return Settings{}, nil
	}
	return settings, nil
}

// SaveEmbedding validates and persists the embedding settings, stamping
// UpdatedAt.
func (s *Store) SaveEmbedding(settings EmbeddingSettings) error {
	cfg := embeddings.Config{
		Provider: settings.Provider,
		APIKey:   settings.APIKey,
		Model:    settings.Model,
		BaseURL:  settings.BaseURL,
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.persistLocked(Settings{Embedding: &settings})
}

// persistLocked writes the settings file atomically. Callers hold s.mu.
func (s *Store) persistLocked(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("restrict settings file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}
