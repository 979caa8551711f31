// Package namemap persists the mapping between storage identifiers and the
// display names users created collections under.
//
// The table lives in a single JSON file next to the vector data. Writes
// rewrite the whole file; the table is small (one entry per renamed
// collection) and the file stays human-diffable.
package namemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store maps storage identifiers to display names. All methods are safe for
// concurrent use; a single mutex covers both the in-memory table and the
// file rewrite, so writers serialize.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	table map[string]string // storage id -> display name
}

// New opens (or creates) the mapping file at path. A missing file starts an
// empty table; an unreadable or corrupt file is logged and also degrades to
// an empty table so collection listing keeps working.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create mapping directory: %w", err)
	}

	s := &Store{
		path:   path,
		logger: logger,
		table:  make(map[string]string),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		logger.Warn("failed to read name mapping file, starting empty",
			zap.String("path", path), zap.Error(err))
	default:
		if err := json.Unmarshal(data, &s.table); err != nil {
			logger.Warn("name mapping file is corrupt, starting empty",
				zap.String("path", path), zap.Error(err))
			s.table = make(map[string]string)
		}
	}
	return s, nil
}

// Add records displayName for storageID and persists the table. Identical
// id and name need no mapping and the call is a no-op.
func (s *Store) Add(storageID, displayName string) error {
	if storageID == displayName {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.table[storageID]; ok && existing == displayName {
		return nil
	}
	s.table[storageID] = displayName
	if err := s.persistLocked(); err != nil {
		delete(s.table, storageID)
		return err
	}
	return nil
}

// DisplayName returns the display name recorded for storageID, or
// storageID itself when no mapping exists.
func (s *Store) DisplayName(storageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.table[storageID]; ok {
		return name
	}
	return storageID
}

// StorageID resolves nameOrID to a storage identifier. It accepts either
// side of the mapping: a known storage id is returned as-is, a known display
// name resolves via reverse lookup, and an unknown value passes through
// unchanged (the caller may hold an already-legal identifier).
func (s *Store) StorageID(nameOrID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[nameOrID]; ok {
		return nameOrID
	}
	for id, name := range s.table {
		if name == nameOrID {
			return id
		}
	}
	return nameOrID
}

// Remove deletes the mapping for storageID, if any, and persists the table.
func (s *Store) Remove(storageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.table[storageID]
	if !ok {
		return nil
	}
	delete(s.table, storageID)
	if err := s.persistLocked(); err != nil {
		s.table[storageID] = prev
		return err
	}
	return nil
}

// All returns a copy of the full mapping table.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.table))
	for id, name := range s.table {
		out[id] = name
	}
	return out
}

// persistLocked rewrites the mapping file. Callers hold s.mu. The write
// goes through a temp file and rename so readers never see a torn file.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal name mapping: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".namemap-*.json")
	if err != nil {
		return fmt.Errorf("create temp mapping file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write name mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp mapping file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace name mapping file: %w", err)
	}
	return nil
}
