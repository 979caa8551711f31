// Package collection manages the knowledge-base collection lifecycle on top
// of a vector index: name resolution, creation, document batches with
// content-addressed deduplication, querying and deletion.
package collection

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/namemap"
	"github.com/fyrsmithlabs/kbserve/internal/sanitize"
	"github.com/fyrsmithlabs/kbserve/internal/vectorstore"
)

// ErrInconsistentBatch indicates a document batch whose texts, metadatas and
// embeddings differ in length.
var ErrInconsistentBatch = errors.New("texts, metadatas and embeddings must have the same length")

// Info describes one collection for listing.
type Info struct {
	StorageID     string
	DisplayName   string
	OriginalName  string // display name when a mapping exists, else empty
	DocumentCount int
	Dimension     int // 0 when unknown (empty collection)
}

// Manager coordinates the index, the name sanitizer and the durable name
// mapping. It is safe for concurrent use; document deduplication across
// concurrent writers to the same collection is best effort (ids are
// content-addressed and the index upserts, so a lost race rewrites the same
// record).
type Manager struct {
	index  vectorstore.Index
	names  *namemap.Store
	logger *zap.Logger
}

// NewManager creates a Manager.
func NewManager(index vectorstore.Index, names *namemap.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{index: index, names: names, logger: logger}
}

// Create makes a collection for the given display name. Names that are
// already legal storage identifiers are used as-is; everything else is
// sanitized and the display name recorded in the mapping store. Returns the
// storage id and whether the name was converted.
func (m *Manager) Create(ctx context.Context, name string) (string, bool, error) {
	storageID := name
	converted := false

	if err := sanitize.Validate(name); err != nil {
		var sanitizeErr error
		storageID, converted, sanitizeErr = sanitize.Sanitize(name)
		if sanitizeErr != nil {
			return "", false, sanitizeErr
		}
	}

	if err := m.index.EnsureCollection(ctx, storageID); err != nil {
		return "", false, fmt.Errorf("create collection %q: %w", storageID, err)
	}

	if converted {
		// Record the mapping only once; the first display name a storage id
		// was created under wins.
		if existing := m.names.DisplayName(storageID); existing == storageID {
			if err := m.names.Add(storageID, name); err != nil {
				return "", false, fmt.Errorf("record name mapping: %w", err)
			}
		}
		m.logger.Info("collection name converted",
			zap.String("display_name", name),
			zap.String("storage_id", storageID))
	}

	return storageID, converted, nil
}

// Resolve maps a display name or storage id to the storage id actually used
// by the index. Unmapped names pass through unchanged: a display name whose
// mapping was removed stays dangling rather than resolving back to the old
// storage id, so lookups on it miss instead of reading whatever collection
// happens to live under the sanitized form.
func (m *Manager) Resolve(name string) string {
	return m.names.StorageID(name)
}

// DisplayName returns the display name for a storage id.
func (m *Manager) DisplayName(storageID string) string {
	return m.names.DisplayName(storageID)
}

// List returns all collections with their display names, document counts
// and embedding dimensions.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	storageIDs, err := m.index.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	infos := make([]Info, 0, len(storageIDs))
	for _, id := range storageIDs {
		info := Info{
			StorageID:   id,
			DisplayName: m.names.DisplayName(id),
		}
		if info.DisplayName != id {
			info.OriginalName = info.DisplayName
		}
		info.DocumentCount = m.Count(ctx, id)
		if dim, ok := m.Dimension(ctx, id); ok {
			info.Dimension = dim
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DocumentID derives the content-addressed id for a chunk. The recipe is
// part of the on-disk contract: re-uploading the same file with the same
// split settings yields the same ids, which is what makes dedup work.
func DocumentID(text string, metadata map[string]string) string {
	h := md5.New()
	h.Write([]byte(text))
	h.Write([]byte(metadata["filename"]))
	h.Write([]byte(metadata["chunk_index"]))
	h.Write([]byte(metadata["total_chunks"]))
	h.Write([]byte(metadata["split_strategy"]))
	return hex.EncodeToString(h.Sum(nil))
}

// AddDocuments stores a batch of embedded chunks in the named collection,
// creating it if needed. Chunks whose content-addressed id already exists
// in the collection (or earlier in the batch) are skipped. Returns the ids
// of the documents actually written; an entirely duplicate batch returns an
// empty, non-nil slice.
func (m *Manager) AddDocuments(ctx context.Context, name string, texts []string, metadatas []map[string]string, embeddings [][]float32) ([]string, error) {
	if len(metadatas) != len(texts) || len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: %d texts, %d metadatas, %d embeddings",
			ErrInconsistentBatch, len(texts), len(metadatas), len(embeddings))
	}

	storageID, err := m.ensureTarget(ctx, name)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{})
	if snapshot, err := m.index.Get(ctx, storageID, nil, 0); err == nil {
		for _, doc := range snapshot {
			existing[doc.ID] = struct{}{}
		}
	} else {
		m.logger.Warn("failed to snapshot existing document ids, dedup disabled for this batch",
			zap.String("collection", storageID), zap.Error(err))
	}

	// The whole batch comes from one embedder call, so the first vector's
	// size is the batch's dimension.
	batchDim := ""
	if len(embeddings) > 0 {
		batchDim = strconv.Itoa(len(embeddings[0]))
	}

	docs := make([]vectorstore.Document, 0, len(texts))
	ids := make([]string, 0, len(texts))
	skipped := 0
	for i, text := range texts {
		md := make(map[string]string, len(metadatas[i])+1)
		for k, v := range metadatas[i] {
			md[k] = v
		}

		id := DocumentID(text, md)
		if _, dup := existing[id]; dup {
			skipped++
			continue
		}
		existing[id] = struct{}{}

		md["embedding_dimension"] = batchDim
		docs = append(docs, vectorstore.Document{
			ID:        id,
			Text:      text,
			Metadata:  md,
			Embedding: embeddings[i],
		})
		ids = append(ids, id)
	}

	if skipped > 0 {
		m.logger.Info("skipped duplicate chunks",
			zap.String("collection", storageID),
			zap.Int("skipped", skipped),
			zap.Int("stored", len(docs)))
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	if err := m.index.Add(ctx, storageID, docs); err != nil {
		return nil, fmt.Errorf("add documents to %q: %w", storageID, err)
	}
	return ids, nil
}

// Query returns the k nearest documents in the named collection.
func (m *Manager) Query(ctx context.Context, name string, embedding []float32, k int) ([]vectorstore.QueryResult, error) {
	return m.index.Query(ctx, m.Resolve(name), embedding, k)
}

// Documents returns up to limit stored documents of the named collection
// (limit <= 0 means all).
func (m *Manager) Documents(ctx context.Context, name string, limit int) ([]vectorstore.Document, error) {
	return m.index.Get(ctx, m.Resolve(name), nil, limit)
}

// DeleteCollection removes the collection and its name mapping. It reports
// success as a bool; failures are logged.
func (m *Manager) DeleteCollection(ctx context.Context, name string) bool {
	storageID := m.Resolve(name)
	if err := m.index.DeleteCollection(ctx, storageID); err != nil {
		m.logger.Error("failed to delete collection",
			zap.String("collection", storageID), zap.Error(err))
		return false
	}
	// A stale mapping is harmless; deletion already succeeded.
	if err := m.names.Remove(storageID); err != nil {
		m.logger.Warn("failed to remove name mapping",
			zap.String("collection", storageID), zap.Error(err))
	}
	return true
}

// DeleteDocuments removes documents by id. It reports success as a bool;
// failures are logged.
func (m *Manager) DeleteDocuments(ctx context.Context, name string, ids []string) bool {
	storageID := m.Resolve(name)
	if err := m.index.Delete(ctx, storageID, ids); err != nil {
		m.logger.Error("failed to delete documents",
			zap.String("collection", storageID),
			zap.Int("ids", len(ids)),
			zap.Error(err))
		return false
	}
	return true
}

// Dimension returns the embedding dimension of the named collection. The
// stored vector is authoritative; the embedding_dimension metadata field is
// the fallback for records written without vectors in the registry. Empty
// collections have no dimension.
func (m *Manager) Dimension(ctx context.Context, name string) (int, bool) {
	docs, err := m.index.Get(ctx, m.Resolve(name), nil, 1)
	if err != nil || len(docs) == 0 {
		return 0, false
	}
	if n := len(docs[0].Embedding); n > 0 {
		return n, true
	}
	if v, ok := docs[0].Metadata["embedding_dimension"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// Count returns the document count of the named collection, 0 when the
// collection is missing or unreadable.
func (m *Manager) Count(ctx context.Context, name string) int {
	n, err := m.index.Count(ctx, m.Resolve(name))
	if err != nil {
		return 0
	}
	return n
}

// Exists reports whether the named collection exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	return m.index.Exists(ctx, m.Resolve(name))
}

// ensureTarget resolves name and creates the collection if absent. Creation
// sanitizes the name, so the id Create hands back is the one to write to.
func (m *Manager) ensureTarget(ctx context.Context, name string) (string, error) {
	storageID := m.Resolve(name)
	exists, err := m.index.Exists(ctx, storageID)
	if err != nil {
		return "", fmt.Errorf("check collection %q: %w", storageID, err)
	}
	if exists {
		return storageID, nil
	}
	created, _, err := m.Create(ctx, name)
	if err != nil {
		return "", err
	}
	return created, nil
}
