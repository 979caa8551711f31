package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/collection"
	"github.com/fyrsmithlabs/kbserve/internal/configstore"
	"github.com/fyrsmithlabs/kbserve/internal/embeddings"
	"github.com/fyrsmithlabs/kbserve/internal/knowledge"
	"github.com/fyrsmithlabs/kbserve/internal/loader"
	"github.com/fyrsmithlabs/kbserve/internal/sanitize"
	"github.com/fyrsmithlabs/kbserve/internal/splitter"
	"github.com/fyrsmithlabs/kbserve/internal/vectorstore"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StrategyEntry describes one split strategy.
type StrategyEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SplitStrategiesResponse is the body of GET /kb/split-strategies.
type SplitStrategiesResponse struct {
	Strategies []StrategyEntry `json:"strategies"`
	Defaults   SplitDefaults   `json:"defaults"`
}

// SplitDefaults reports the configured split policy.
type SplitDefaults struct {
	Strategy     string `json:"strategy"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

func (s *Server) handleSplitStrategies(c echo.Context) error {
	infos, defaults := s.service.SplitStrategies()
	entries := make([]StrategyEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, StrategyEntry{Name: info.Name, Description: info.Description})
	}
	return c.JSON(http.StatusOK, SplitStrategiesResponse{
		Strategies: entries,
		Defaults: SplitDefaults{
			Strategy:     string(defaults.Strategy),
			ChunkSize:    defaults.ChunkSize,
			ChunkOverlap: defaults.ChunkOverlap,
		},
	})
}

// CreateRequest is the body of POST /kb/create.
type CreateRequest struct {
	Name string `json:"name"`
}

// CreateResponse is the body of a successful create.
type CreateResponse struct {
	KBName        string `json:"kb_name"`
	ActualName    string `json:"actual_name"`
	NameConverted bool   `json:"name_converted"`
}

func (s *Server) handleCreate(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	storageID, converted, err := s.service.Create(c.Request().Context(), req.Name)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, CreateResponse{
		KBName:        req.Name,
		ActualName:    storageID,
		NameConverted: converted,
	})
}

// KBEntry describes one knowledge base in GET /kb/list.
type KBEntry struct {
	Name          string `json:"name"`
	ActualName    string `json:"actual_name"`
	OriginalName  string `json:"original_name,omitempty"`
	DocumentCount int    `json:"document_count"`
	Dimension     int    `json:"embedding_dimension,omitempty"`
}

// ListResponse is the body of GET /kb/list.
type ListResponse struct {
	KnowledgeBases []KBEntry `json:"knowledge_bases"`
	Count          int       `json:"count"`
}

func (s *Server) handleList(c echo.Context) error {
	infos, err := s.service.List(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	entries := make([]KBEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, KBEntry{
			Name:          info.DisplayName,
			ActualName:    info.StorageID,
			OriginalName:  info.OriginalName,
			DocumentCount: info.DocumentCount,
			Dimension:     info.Dimension,
		})
	}
	return c.JSON(http.StatusOK, ListResponse{KnowledgeBases: entries, Count: len(entries)})
}

// UploadResponse is the body of POST /kb/:name/upload.
type UploadResponse struct {
	Filename    string   `json:"filename"`
	ChunksCount int      `json:"chunks_count"`
	DocIDs      []string `json:"doc_ids"`
}

func (s *Server) handleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	opts := knowledge.UploadOptions{Strategy: c.FormValue("split_strategy")}
	if v := c.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk_size must be an integer")
		}
		opts.ChunkSize = &n
	}
	if v := c.FormValue("chunk_overlap"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk_overlap must be an integer")
		}
		opts.ChunkOverlap = &n
	}

	if !loader.IsSupported(fileHeader.Filename) {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported file type")
	}

	// Spool the upload to disk; the loader and extractors work on paths.
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	tmpDir, err := os.MkdirTemp("", "kbserve-upload-*")
	if err != nil {
		return s.mapError(err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, filepath.Base(fileHeader.Filename))
	dst, err := os.Create(tmpPath)
	if err != nil {
		return s.mapError(err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return s.mapError(err)
	}
	if err := dst.Close(); err != nil {
		return s.mapError(err)
	}

	result, err := s.service.UploadFile(c.Request().Context(), c.Param("name"), tmpPath, opts)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, UploadResponse{
		Filename:    result.Filename,
		ChunksCount: result.ChunksCount,
		DocIDs:      result.DocIDs,
	})
}

// QueryRequest is the body of POST /kb/:name/query.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// QueryMatch is one result entry.
type QueryMatch struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float32           `json:"score"`
	Distance float32           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Query   string       `json:"query"`
	Results []QueryMatch `json:"results"`
	Count   int          `json:"count"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	matches, err := s.service.Query(c.Request().Context(), c.Param("name"), req.Query, req.TopK)
	if err != nil {
		return s.mapError(err)
	}

	results := make([]QueryMatch, 0, len(matches))
	for _, m := range matches {
		results = append(results, QueryMatch{
			ID:       m.ID,
			Text:     m.Text,
			Score:    m.Score,
			Distance: m.Distance,
			Metadata: m.Metadata,
		})
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Query:   req.Query,
		Results: results,
		Count:   len(results),
	})
}

// FileEntry describes one uploaded file in GET /kb/:name/docs.
type FileEntry struct {
	Filename   string   `json:"filename"`
	FileType   string   `json:"file_type,omitempty"`
	ChunkCount int      `json:"chunk_count"`
	Previews   []string `json:"previews,omitempty"`
}

// DocsResponse is the body of GET /kb/:name/docs.
type DocsResponse struct {
	Files []FileEntry `json:"files"`
	Count int         `json:"count"`
}

func (s *Server) handleDocs(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	includePreview := c.QueryParam("include_preview") == "true"
	maxPreview := 0
	if v := c.QueryParam("max_preview_chunks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "max_preview_chunks must be a non-negative integer")
		}
		maxPreview = n
	}

	files, err := s.service.Documents(c.Request().Context(), c.Param("name"), limit, includePreview, maxPreview)
	if err != nil {
		return s.mapError(err)
	}

	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, FileEntry{
			Filename:   f.Filename,
			FileType:   f.FileType,
			ChunkCount: f.ChunkCount,
			Previews:   f.Previews,
		})
	}
	return c.JSON(http.StatusOK, DocsResponse{Files: entries, Count: len(entries)})
}

// DeleteResponse is the body of the delete endpoints.
type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	Name    string `json:"name,omitempty"`
}

func (s *Server) handleDeleteKB(c echo.Context) error {
	name := c.Param("name")
	if !s.service.Delete(c.Request().Context(), name) {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete knowledge base")
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: true, Name: name})
}

// DeleteDocsRequest is the body of DELETE /kb/:name/docs.
type DeleteDocsRequest struct {
	DocIDs []string `json:"doc_ids"`
}

func (s *Server) handleDeleteDocs(c echo.Context) error {
	var req DeleteDocsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.DocIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "doc_ids field is required")
	}

	if !s.service.DeleteDocuments(c.Request().Context(), c.Param("name"), req.DocIDs) {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete documents")
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: true})
}

// EmbeddingConfigRequest is the body of POST /config/embedding.
type EmbeddingConfigRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// EmbeddingConfigResponse describes the active embedding provider. The API
// key is always masked.
type EmbeddingConfigResponse struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func (s *Server) handleGetEmbeddingConfig(c echo.Context) error {
	settings, err := s.settings.Load()
	if err != nil {
		return s.mapError(err)
	}
	if settings.Embedding == nil {
		return c.JSON(http.StatusOK, EmbeddingConfigResponse{Configured: false})
	}
	e := settings.Embedding
	return c.JSON(http.StatusOK, EmbeddingConfigResponse{
		Configured: true,
		Provider:   e.Provider,
		Model:      e.Model,
		BaseURL:    e.BaseURL,
		APIKey:     e.MaskedAPIKey(),
		UpdatedAt:  e.UpdatedAt,
	})
}

// handleSetEmbeddingConfig persists the provider credentials and swaps the
// live embedder, so uploads and queries pick up the new provider without a
// restart.
func (s *Server) handleSetEmbeddingConfig(c echo.Context) error {
	var req EmbeddingConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	saved := configstore.EmbeddingSettings{
		Provider: req.Provider,
		APIKey:   req.APIKey,
		Model:    req.Model,
		BaseURL:  req.BaseURL,
	}
	if err := s.settings.SaveEmbedding(saved); err != nil {
		return s.mapError(err)
	}

	client, err := embeddings.New(embeddings.Config{
		Provider: req.Provider,
		APIKey:   req.APIKey,
		Model:    req.Model,
		BaseURL:  req.BaseURL,
	}, s.logger)
	if err != nil {
		return s.mapError(err)
	}
	s.service.SetEmbedder(client)

	s.logger.Info("embedding provider reconfigured",
		zap.String("provider", req.Provider),
		zap.String("model", client.Model()))
	return c.JSON(http.StatusOK, EmbeddingConfigResponse{
		Configured: true,
		Provider:   req.Provider,
		Model:      client.Model(),
		BaseURL:    req.BaseURL,
		APIKey:     saved.MaskedAPIKey(),
	})
}

// mapError converts domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "knowledge base not found")
	case errors.Is(err, sanitize.ErrEmptyName),
		errors.Is(err, sanitize.ErrInvalidName),
		errors.Is(err, splitter.ErrInvalidConfig),
		errors.Is(err, collection.ErrInconsistentBatch),
		errors.Is(err, loader.ErrUnsupportedType),
		errors.Is(err, embeddings.ErrInvalidConfig),
		errors.Is(err, knowledge.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, knowledge.ErrEmbedderNotConfigured),
		errors.Is(err, loader.ErrNoExtractor):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
