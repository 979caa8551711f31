package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Provider generates embeddings. Implementations must be safe for
// concurrent use.
type Provider interface {
	// EmbedDocuments embeds a batch of texts, preserving order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector size observed on the last successful
	// request, 0 before the first one.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// Client is an OpenAI-compatible embedding client. Tongyi, OpenAI and
// custom endpoints all go through it.
type Client struct {
	cfg    Config
	kind   Kind
	http   *http.Client
	logger *zap.Logger

	dimension atomic.Int64
}

// New creates a Client for the configured provider.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		kind:   kind,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}, nil
}

// Kind returns the resolved provider kind.
func (c *Client) Kind() Kind { return c.kind }

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedDocuments embeds texts, splitting into batches of at most
// cfg.BatchSize when set. Results keep the input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		observeRequest(c.cfg.Model, "embed_documents", time.Since(start), genErr)
	}()

	if len(texts) == 0 {
		genErr = ErrEmptyInput
		return nil, genErr
	}

	batch := c.cfg.BatchSize
	if batch <= 0 {
		batch = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for begin := 0; begin < len(texts); begin += batch {
		end := begin + batch
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := c.embed(ctx, texts[begin:end])
		if err != nil {
			genErr = err
			return nil, err
		}
		out = append(out, embeddings...)
	}

	if len(out) > 0 {
		c.dimension.Store(int64(len(out[0])))
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		observeRequest(c.cfg.Model, "embed_query", time.Since(start), genErr)
	}()

	if text == "" {
		genErr = ErrEmptyInput
		return nil, genErr
	}

	embeddings, err := c.embed(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, err
	}
	c.dimension.Store(int64(len(embeddings[0])))
	return embeddings[0], nil
}

// Dimension returns the last observed embedding dimension.
func (c *Client) Dimension() int {
	return int(c.dimension.Load())
}

// Close releases client resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// embed issues one POST {base}/embeddings request.
func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrEmbeddingFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("embedding request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", c.cfg.Model),
			zap.Int("inputs", len(texts)))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, truncate(respBody, 200))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingFailed, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingFailed, len(parsed.Data), len(texts))
	}

	// The API may return entries out of order; index is authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Provider = (*Client)(nil)
