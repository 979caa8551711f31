// Package knowledge orchestrates the document pipeline: load a file, split
// it into chunks, embed the chunks and hand them to the collection layer.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/collection"
	"github.com/fyrsmithlabs/kbserve/internal/embeddings"
	"github.com/fyrsmithlabs/kbserve/internal/loader"
	"github.com/fyrsmithlabs/kbserve/internal/splitter"
)

var (
	// ErrEmbedderNotConfigured indicates the embedding provider has not
	// been set up yet.
	ErrEmbedderNotConfigured = errors.New("embedding provider not configured")

	// ErrEmptyDocument indicates a file that produced no chunks.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

// defaultPreviewChunks caps per-file previews in document listings.
const defaultPreviewChunks = 3

// previewRunes is the preview length per chunk.
const previewRunes = 100

// Service wires the loader, splitter, embedder and collection manager into
// the upload and query flows.
type Service struct {
	loader      *loader.Loader
	splitCfg    splitter.Config
	collections *collection.Manager
	logger      *zap.Logger

	mu       sync.RWMutex
	embedder embeddings.Provider
}

// NewService creates a Service. The embedder may be nil when no provider is
// configured yet; upload and query then fail with
// ErrEmbedderNotConfigured until SetEmbedder is called.
func NewService(ld *loader.Loader, splitCfg splitter.Config, embedder embeddings.Provider, collections *collection.Manager, logger *zap.Logger) (*Service, error) {
	if _, err := splitter.New(splitCfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		loader:      ld,
		splitCfg:    splitCfg,
		collections: collections,
		logger:      logger,
		embedder:    embedder,
	}, nil
}

// SetEmbedder swaps the embedding provider.
func (s *Service) SetEmbedder(e embeddings.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = e
}

func (s *Service) getEmbedder() (embeddings.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}
	return s.embedder, nil
}

// UploadOptions overrides the split policy for one upload. Nil fields keep
// the configured defaults. Strategy is recorded in chunk metadata only when
// explicitly set, which keeps ids stable for default-strategy uploads.
type UploadOptions struct {
	Strategy     string
	ChunkSize    *int
	ChunkOverlap *int
}

// UploadResult summarizes one stored upload.
type UploadResult struct {
	Filename    string
	ChunksCount int
	DocIDs      []string
}

// UploadFile runs the full pipeline for the file at path and stores the
// chunks in the named knowledge base.
func (s *Service) UploadFile(ctx context.Context, kbName, path string, opts UploadOptions) (*UploadResult, error) {
	embedder, err := s.getEmbedder()
	if err != nil {
		return nil, err
	}

	text, fileMeta, err := s.loader.Load(path)
	if err != nil {
		return nil, err
	}

	cfg := s.splitCfg
	if opts.Strategy != "" {
		cfg.Strategy = splitter.Strategy(opts.Strategy)
	}
	if opts.ChunkSize != nil {
		cfg.ChunkSize = *opts.ChunkSize
	}
	if opts.ChunkOverlap != nil {
		cfg.ChunkOverlap = *opts.ChunkOverlap
	}
	split, err := splitter.New(cfg)
	if err != nil {
		return nil, err
	}

	chunks := split.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, fileMeta["filename"])
	}

	vectors, err := embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	metadatas := make([]map[string]string, len(chunks))
	for i := range chunks {
		md := map[string]string{
			"filename":     fileMeta["filename"],
			"file_type":    fileMeta["file_type"],
			"chunk_index":  strconv.Itoa(i),
			"total_chunks": strconv.Itoa(len(chunks)),
		}
		if opts.Strategy != "" {
			md["split_strategy"] = opts.Strategy
		}
		metadatas[i] = md
	}

	ids, err := s.collections.AddDocuments(ctx, kbName, chunks, metadatas, vectors)
	if err != nil {
		return nil, err
	}

	documentsIngested.Inc()
	chunksStored.Add(float64(len(ids)))
	s.logger.Info("document uploaded",
		zap.String("kb", kbName),
		zap.String("filename", fileMeta["filename"]),
		zap.Int("chunks", len(chunks)),
		zap.Int("stored", len(ids)))

	return &UploadResult{
		Filename:    fileMeta["filename"],
		ChunksCount: len(chunks),
		DocIDs:      ids,
	}, nil
}

// Match is one query hit. Score is 1 - distance, so higher is better.
type Match struct {
	ID       string
	Text     string
	Score    float32
	Distance float32
	Metadata map[string]string
}

// Query embeds the query string and returns the topK nearest chunks.
func (s *Service) Query(ctx context.Context, kbName, query string, topK int) ([]Match, error) {
	embedder, err := s.getEmbedder()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	embedding, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.collections.Query(ctx, kbName, embedding, topK)
	if err != nil {
		return nil, err
	}
	queriesTotal.Inc()

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:       r.ID,
			Text:     r.Text,
			Score:    1 - r.Distance,
			Distance: r.Distance,
			Metadata: r.Metadata,
		})
	}
	return matches, nil
}

// FileInfo summarizes the stored chunks of one uploaded file.
type FileInfo struct {
	Filename   string
	FileType   string
	ChunkCount int
	Previews   []string
}

// Documents lists the collection's contents grouped by source file, in
// first-appearance order. Previews are the leading runes of up to
// maxPreviewChunks chunks per file.
func (s *Service) Documents(ctx context.Context, kbName string, limit int, includePreview bool, maxPreviewChunks int) ([]FileInfo, error) {
	docs, err := s.collections.Documents(ctx, kbName, limit)
	if err != nil {
		return nil, err
	}
	if maxPreviewChunks <= 0 {
		maxPreviewChunks = defaultPreviewChunks
	}

	var order []string
	groups := make(map[string]*FileInfo)
	for _, doc := range docs {
		filename := doc.Metadata["filename"]
		if filename == "" {
			filename = "unknown"
		}
		info, ok := groups[filename]
		if !ok {
			info = &FileInfo{Filename: filename, FileType: doc.Metadata["file_type"]}
			groups[filename] = info
			order = append(order, filename)
		}
		info.ChunkCount++
		if includePreview && len(info.Previews) < maxPreviewChunks {
			info.Previews = append(info.Previews, preview(doc.Text))
		}
	}

	out := make([]FileInfo, 0, len(order))
	for _, filename := range order {
		out = append(out, *groups[filename])
	}
	return out, nil
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}

// Create makes a knowledge base and returns its storage id and whether the
// name was converted.
func (s *Service) Create(ctx context.Context, name string) (string, bool, error) {
	return s.collections.Create(ctx, name)
}

// List returns all knowledge bases.
func (s *Service) List(ctx context.Context) ([]collection.Info, error) {
	return s.collections.List(ctx)
}

// Delete removes a knowledge base. Reports success as a bool.
func (s *Service) Delete(ctx context.Context, name string) bool {
	return s.collections.DeleteCollection(ctx, name)
}

// DeleteDocuments removes documents by id. Reports success as a bool.
func (s *Service) DeleteDocuments(ctx context.Context, name string, ids []string) bool {
	return s.collections.DeleteDocuments(ctx, name, ids)
}

// StrategyInfo describes one split strategy for the public listing.
type StrategyInfo struct {
	Name        string
	Description string
}

// SplitStrategies lists the supported strategies and the configured
// defaults.
func (s *Service) SplitStrategies() ([]StrategyInfo, splitter.Config) {
	descriptions := splitter.Descriptions()
	ordered := []splitter.Strategy{
		splitter.StrategyFixed,
		splitter.StrategyNewline,
		splitter.StrategyParagraph,
		splitter.StrategySentence,
		splitter.StrategySmart,
	}
	infos := make([]StrategyInfo, 0, len(ordered))
	for _, strategy := range ordered {
		infos = append(infos, StrategyInfo{
			Name:        string(strategy),
			Description: descriptions[strategy],
		})
	}
	return infos, s.splitCfg
}
