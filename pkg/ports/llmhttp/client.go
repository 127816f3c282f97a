// Package llmhttp is the production ports.LlmPort adapter. It speaks to the
// inference backend over a plain HTTP streaming endpoint: one newline-
// delimited JSON object per token/thinking-delta, with a final object
// carrying usage — the same chunk-then-usage shape as a gRPC streaming
// client, minus the generated protobuf stub.
package llmhttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/edge-tutor/node/pkg/ports"
)

// Client wraps an *http.Client pointed at the inference backend's streaming
// completion endpoint.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature *float32
	log         *slog.Logger
}

// NewClient builds a Client, reading model/temperature overrides from the
// environment the same way a gRPC LLM client reads GEMINI_MODEL /
// GEMINI_TEMPERATURE.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0} // streaming: caller's ctx governs deadline
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := os.Getenv("EDGE_LLM_MODEL")
	if model == "" {
		model = "on-device-default"
	}

	var temperature *float32
	if tempStr := os.Getenv("EDGE_LLM_TEMPERATURE"); tempStr != "" {
		if temp, err := strconv.ParseFloat(tempStr, 32); err == nil {
			t := float32(temp)
			temperature = &t
		}
	}

	logger.Info("llm client configured", "model", model, "base_url", baseURL)

	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		log:         logger,
	}
}

// wireChunk is one line of the newline-delimited response stream.
type wireChunk struct {
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	PromptTok int    `json:"prompt_tokens,omitempty"`
	CompTok   int    `json:"completion_tokens,omitempty"`
	Error     string `json:"error,omitempty"`
}

type wireRequest struct {
	Model         string   `json:"model"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Temperature   *float32 `json:"temperature,omitempty"`
	Stream        bool     `json:"stream"`
}

// Stream implements ports.LlmPort.
func (c *Client) Stream(ctx context.Context, prompt string, maxTokens int, stopSequences []string) (<-chan ports.TokenChunk, <-chan error) {
	chunks := make(chan ports.TokenChunk, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(wireRequest{
			Model:         c.model,
			Prompt:        prompt,
			MaxTokens:     maxTokens,
			StopSequences: stopSequences,
			Temperature:   c.temperature,
			Stream:        true,
		})
		if err != nil {
			errs <- fmt.Errorf("encode request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("build request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/x-ndjson")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- fmt.Errorf("call generate endpoint: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- fmt.Errorf("generate endpoint returned status %d", resp.StatusCode)
			return
		}

		c.log.Debug("llm stream started", "model", c.model)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var prompted, completed int
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var wc wireChunk
			if err := json.Unmarshal(line, &wc); err != nil {
				errs <- fmt.Errorf("decode stream chunk: %w", err)
				return
			}
			if wc.Error != "" {
				errs <- fmt.Errorf("inference backend error: %s", wc.Error)
				return
			}
			if wc.Done {
				prompted, completed = wc.PromptTok, wc.CompTok
				select {
				case chunks <- ports.TokenChunk{Done: true, Usage: ports.Usage{PromptTokens: prompted, CompletionTokens: completed}}:
				case <-ctx.Done():
					errs <- ctx.Err()
				}
				return
			}
			select {
			case chunks <- ports.TokenChunk{Text: wc.Text}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read stream: %w", err)
			return
		}
		c.log.Debug("llm stream complete", "elapsed_ms", time.Since(start).Milliseconds())
	}()

	return chunks, errs
}

// Healthy pings the inference backend's health endpoint, used by the health
// monitor (C9) to check LLM reachability without consuming the streaming
// admission path.
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
