// Package embedhttp is the production ports.EmbedderPort adapter: a plain
// HTTP client over the query-side embedding endpoint, mirroring llmhttp's
// request/response shape (this corpus's inference backends expose both the
// generation and embedding surfaces as sibling HTTP endpoints on the same
// host).
package embedhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/edge-tutor/node/pkg/edgeerr"
)

// Client wraps an *http.Client pointed at the embedding backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	dim        int
	log        *slog.Logger
}

// NewClient builds a Client. dim is the backend's known embedding
// dimension, declared up front so Dimension() never needs a network call.
func NewClient(baseURL string, dim int, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, dim: dim, log: logger}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements ports.EmbedderPort.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, edgeerr.New(edgeerr.DependencyUnavailable, "embedding backend returned an unexpected vector count")
	}
	return vecs[0], nil
}

// EmbedBatch implements ports.EmbedderPort.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed endpoint returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embeddings, nil
}

// Dimension implements ports.EmbedderPort.
func (c *Client) Dimension() int { return c.dim }

// Healthy implements ports.EmbedderPort.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call health endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
