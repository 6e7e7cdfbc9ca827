package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	kberrors "github.com/pieceproject/kbd/internal/errors"
)

// Client is the process-singleton embedding client for one remote
// OpenAI-compatible endpoint. Constructed once at startup and held by the
// service wiring — not a package-level global, per §9's redesign.
//
// Grounded on intelligencedev-manifold's sefii.go FetchEmbeddings (request
// shape, raw net/http call) generalized into a reusable client with a
// rate limiter and retry wrapped around the transport.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int

	httpClient *http.Client
	limiter    *RateLimiter
	logger     *slog.Logger
}

// Config constructs a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	RPM        int
	Timeout    time.Duration
}

// NewClient builds the process-singleton embedding client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewRateLimiter(cfg.RPM, logger),
		logger:     logger,
	}
}

// Dimensions returns the configured vector length every response is
// validated against.
func (c *Client) Dimensions() int { return c.dimensions }

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// EmbedDocuments embeds a batch of chunk texts, in order, subject to the
// rate limiter and rate-limit-only retry.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	err := withRetry(ctx, func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
		vecs, err := c.fetchEmbeddings(ctx, texts)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		if IsRateLimited(err) {
			return nil, kberrors.Transient("embedding request rate-limited after retries", err)
		}
		return nil, kberrors.Transient("embedding request failed", err)
	}

	for _, v := range out {
		if len(v) != c.dimensions {
			return nil, kberrors.Fatal(fmt.Sprintf("embedding response dimension %d != expected %d", len(v), c.dimensions), nil)
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, kberrors.Fatal("embedding endpoint returned no vector for query", nil)
	}
	return vecs[0], nil
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) fetchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if rle := classifyHTTPError(resp, nil); rle != nil {
		return nil, rle
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned status %d", resp.StatusCode)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	out := make([][]float32, len(decoded.Data))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
