package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/collection"
	"github.com/fyrsmithlabs/kbserve/internal/configstore"
	"github.com/fyrsmithlabs/kbserve/internal/embeddings"
	"github.com/fyrsmithlabs/kbserve/internal/knowledge"
	"github.com/fyrsmithlabs/kbserve/internal/loader"
	"github.com/fyrsmithlabs/kbserve/internal/namemap"
	"github.com/fyrsmithlabs/kbserve/internal/splitter"
	"github.com/fyrsmithlabs/kbserve/internal/vectorstore"
)

// constEmbedder embeds every text to the same unit vector, which is all the
// HTTP flow tests need.
type constEmbedder struct{}

func (constEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (constEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (constEmbedder) Dimension() int { return 3 }
func (constEmbedder) Close() error   { return nil }

var _ embeddings.Provider = constEmbedder{}

func newTestServer(t *testing.T, embedder embeddings.Provider, apiKey string) *Server {
	t.Helper()
	dir := t.TempDir()

	idx, err := vectorstore.NewChromemIndex(vectorstore.Config{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	names, err := namemap.New(filepath.Join(dir, "name_mapping.json"), zap.NewNop())
	require.NoError(t, err)

	manager := collection.NewManager(idx, names, zap.NewNop())
	svc, err := knowledge.NewService(loader.New(), splitter.DefaultConfig(), embedder, manager, zap.NewNop())
	require.NoError(t, err)

	settings, err := configstore.New(filepath.Join(dir, "embedding_config.json"), zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(svc, settings, zap.NewNop(), &Config{Host: "localhost", Port: 0, APIKey: apiKey})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echoHeaderContentType, "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func uploadFile(t *testing.T, srv *Server, kb, filename, content string, fields map[string]string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.Copy(fw, strings.NewReader(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/kb/"+kb+"/upload", &buf)
	req.Header.Set(echoHeaderContentType, w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSplitStrategies_Public(t *testing.T) {
	// No API key needed even when one is configured.
	srv := newTestServer(t, constEmbedder{}, "secret")

	rec := doJSON(t, srv, http.MethodGet, "/kb/split-strategies", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SplitStrategiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Strategies, 5)
	assert.Equal(t, "fixed", resp.Defaults.Strategy)
}

func TestAPIKey(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "secret")

	rec := doJSON(t, srv, http.MethodGet, "/kb/list", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/kb/list", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/kb/list", nil, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKey_NotConfigured(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := doJSON(t, srv, http.MethodGet, "/kb/list", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndList(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := doJSON(t, srv, http.MethodPost, "/kb/create", CreateRequest{Name: "我的文档"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var created CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "我的文档", created.KBName)
	assert.True(t, created.NameConverted)
	assert.NotEqual(t, "我的文档", created.ActualName)

	rec = doJSON(t, srv, http.MethodGet, "/kb/list", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "我的文档", list.KnowledgeBases[0].Name)
	assert.Equal(t, created.ActualName, list.KnowledgeBases[0].ActualName)
}

func TestCreate_EmptyName(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := doJSON(t, srv, http.MethodPost, "/kb/create", CreateRequest{Name: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadQueryDocsDelete(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := uploadFile(t, srv, "docs", "notes.txt", "interesting note content", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, "notes.txt", uploaded.Filename)
	assert.Equal(t, 1, uploaded.ChunksCount)
	require.Len(t, uploaded.DocIDs, 1)

	// Query
	rec = doJSON(t, srv, http.MethodPost, "/kb/docs/query", QueryRequest{Query: "note", TopK: 3}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var queried QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queried))
	require.Equal(t, 1, queried.Count)
	assert.Equal(t, "interesting note content", queried.Results[0].Text)
	assert.InDelta(t, 1.0, queried.Results[0].Score, 1e-5)

	// Docs listing with previews
	rec = doJSON(t, srv, http.MethodGet, "/kb/docs/docs?include_preview=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var docs DocsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Equal(t, 1, docs.Count)
	assert.Equal(t, "notes.txt", docs.Files[0].Filename)
	assert.Equal(t, 1, docs.Files[0].ChunkCount)
	require.Len(t, docs.Files[0].Previews, 1)

	// Delete documents
	rec = doJSON(t, srv, http.MethodDelete, "/kb/docs/docs", DeleteDocsRequest{DocIDs: uploaded.DocIDs}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Delete knowledge base
	rec = doJSON(t, srv, http.MethodDelete, "/kb/docs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/kb/docs", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpload_UnsupportedType(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := uploadFile(t, srv, "docs", "image.png", "bytes", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_SplitOverrides(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := uploadFile(t, srv, "docs", "lines.txt", "one\ntwo\nthree",
		map[string]string{"split_strategy": "newline"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, 3, uploaded.ChunksCount)

	rec = uploadFile(t, srv, "docs", "more.txt", "content",
		map[string]string{"split_strategy": "chapter"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = uploadFile(t, srv, "docs", "more.txt", "content",
		map[string]string{"chunk_size": "not-a-number"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_MissingFile(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/kb/docs/upload", &buf)
	req.Header.Set(echoHeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_Errors(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := doJSON(t, srv, http.MethodPost, "/kb/absent/query", QueryRequest{Query: "q"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/kb/absent/query", QueryRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbedderNotConfigured(t *testing.T) {
	srv := newTestServer(t, nil, "")

	rec := uploadFile(t, srv, "docs", "notes.txt", "content", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/kb/docs/query", QueryRequest{Query: "q"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// fakeProviderServer is a minimal OpenAI-compatible embeddings endpoint.
func fakeProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type entry struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]entry, len(req.Input))
		for i := range req.Input {
			data[i] = entry{Embedding: []float32{1, 0, 0}, Index: i}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
}

func TestEmbeddingConfig_Lifecycle(t *testing.T) {
	provider := fakeProviderServer(t)
	defer provider.Close()

	// Start with no embedder at all.
	srv := newTestServer(t, nil, "")

	rec := doJSON(t, srv, http.MethodGet, "/config/embedding", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var before EmbeddingConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	assert.False(t, before.Configured)

	rec = uploadFile(t, srv, "docs", "notes.txt", "content", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/config/embedding", EmbeddingConfigRequest{
		Provider: "custom",
		APIKey:   "sk-0123456789abcdef",
		Model:    "test-model",
		BaseURL:  provider.URL,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var set EmbeddingConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.True(t, set.Configured)
	assert.Equal(t, "sk-0****cdef", set.APIKey)

	// The swapped-in provider serves uploads without a restart.
	rec = uploadFile(t, srv, "docs", "notes.txt", "content", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodGet, "/config/embedding", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after EmbeddingConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.True(t, after.Configured)
	assert.Equal(t, "custom", after.Provider)
	assert.Equal(t, "sk-0****cdef", after.APIKey)
	assert.NotEmpty(t, after.UpdatedAt)
}

func TestEmbeddingConfig_InvalidProvider(t *testing.T) {
	srv := newTestServer(t, nil, "")

	rec := doJSON(t, srv, http.MethodPost, "/config/embedding", EmbeddingConfigRequest{
		Provider: "hf",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbeddingConfig_RequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "secret")

	rec := doJSON(t, srv, http.MethodGet, "/config/embedding", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/config/embedding", nil, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteDocs_EmptyIDs(t *testing.T) {
	srv := newTestServer(t, constEmbedder{}, "")

	rec := doJSON(t, srv, http.MethodDelete, "/kb/docs/docs", DeleteDocsRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
