package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Config holds the embedded index settings.
type Config struct {
	// Path is the directory holding both the vector data and the document
	// registry.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted vector data.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "./data"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	return nil
}

// noEmbedding satisfies chromem's embedding hook. Documents always arrive
// with vectors attached, so being asked to embed is a programming error.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("index does not embed; supply vectors with the documents")
}

// ChromemIndex is an embedded Index: chromem-go persists the vectors and
// answers similarity queries, and a bbolt sidecar keeps a full document
// registry so contents can be enumerated (chromem only supports lookup by
// query). Writes touch chromem first and the registry second, under one
// mutex, so the registry never lists a document the vector side lacks.
type ChromemIndex struct {
	db       *chromem.DB
	registry *bolt.DB
	logger   *zap.Logger

	mu sync.Mutex
}

// registryRecord is the JSON value stored per document in the registry.
type registryRecord struct {
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// NewChromemIndex opens (or creates) the index under cfg.Path.
func NewChromemIndex(cfg Config, logger *zap.Logger) (*ChromemIndex, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrStorage, err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, "chromem"), cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: open vector database: %v", ErrStorage, err)
	}

	registry, err := bolt.Open(filepath.Join(cfg.Path, "registry.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open document registry: %v", ErrStorage, err)
	}

	logger.Info("vector index opened",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress))

	return &ChromemIndex{
		db:       db,
		registry: registry,
		logger:   logger,
	}, nil
}

func (x *ChromemIndex) EnsureCollection(ctx context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.db.GetOrCreateCollection(name, nil, noEmbedding); err != nil {
		return fmt.Errorf("%w: ensure collection %q: %v", ErrStorage, name, err)
	}
	return x.registry.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (x *ChromemIndex) Exists(ctx context.Context, name string) (bool, error) {
	return x.db.GetCollection(name, noEmbedding) != nil, nil
}

func (x *ChromemIndex) DeleteCollection(ctx context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.db.GetCollection(name, noEmbedding) == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := x.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("%w: delete collection %q: %v", ErrStorage, name, err)
	}
	return x.registry.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(name))
	})
}

func (x *ChromemIndex) ListCollections(ctx context.Context) ([]string, error) {
	cols := x.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names, nil
}

func (x *ChromemIndex) Add(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.db.GetOrCreateCollection(collection, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("%w: ensure collection %q: %v", ErrStorage, collection, err)
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Text,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		})
	}
	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: add documents to %q: %v", ErrStorage, collection, err)
	}

	err = x.registry.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		for _, doc := range docs {
			value, err := json.Marshal(registryRecord{
				Text:      doc.Text,
				Metadata:  doc.Metadata,
				Embedding: doc.Embedding,
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(doc.ID), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Vectors are already written; the registry is now behind. Surface
		// the failure so the caller does not trust the returned ids.
		return fmt.Errorf("%w: update document registry for %q: %v", ErrStorage, collection, err)
	}
	return nil
}

func (x *ChromemIndex) Get(ctx context.Context, collection string, ids []string, limit int) ([]Document, error) {
	var docs []Document
	err := x.registry.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}

		appendDoc := func(id, value []byte) error {
			var rec registryRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("decode registry record %s: %w", id, err)
			}
			docs = append(docs, Document{
				ID:        string(id),
				Text:      rec.Text,
				Metadata:  rec.Metadata,
				Embedding: rec.Embedding,
			})
			return nil
		}

		if len(ids) > 0 {
			for _, id := range ids {
				value := b.Get([]byte(id))
				if value == nil {
					continue
				}
				if err := appendDoc([]byte(id), value); err != nil {
					return err
				}
			}
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if limit > 0 && len(docs) >= limit {
				return nil
			}
			return appendDoc(k, v)
		})
	})
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			// The collection may exist with no writes yet; chromem is the
			// source of truth for existence.
			if x.db.GetCollection(collection, noEmbedding) != nil {
				return nil, nil
			}
		}
		return nil, err
	}
	return docs, nil
}

func (x *ChromemIndex) Query(ctx context.Context, collection string, embedding []float32, k int) ([]QueryResult, error) {
	col := x.db.GetCollection(collection, noEmbedding)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %v", ErrStorage, collection, err)
	}

	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		out = append(out, QueryResult{
			ID:        r.ID,
			Text:      r.Content,
			Metadata:  r.Metadata,
			Distance:  1 - r.Similarity,
			Embedding: r.Embedding,
		})
	}
	return out, nil
}

func (x *ChromemIndex) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col := x.db.GetCollection(collection, noEmbedding)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: delete documents from %q: %v", ErrStorage, collection, err)
	}

	return x.registry.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (x *ChromemIndex) Count(ctx context.Context, collection string) (int, error) {
	col := x.db.GetCollection(collection, noEmbedding)
	if col == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return col.Count(), nil
}

func (x *ChromemIndex) Close() error {
	return x.registry.Close()
}

var _ Index = (*ChromemIndex)(nil)
