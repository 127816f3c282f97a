package llmhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_ReceivesTextThenDoneWithUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"text":"hel"}`)
		fmt.Fprintln(w, `{"text":"lo"}`)
		fmt.Fprintln(w, `{"done":true,"prompt_tokens":3,"completion_tokens":2}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	chunks, errs := c.Stream(context.Background(), "hi", 16, nil)

	var text string
	var done bool
	var promptTok, compTok int
	for ch := range chunks {
		if ch.Done {
			done = true
			promptTok = ch.Usage.PromptTokens
			compTok = ch.Usage.CompletionTokens
			continue
		}
		text += ch.Text
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "hello", text)
	assert.True(t, done)
	assert.Equal(t, 3, promptTok)
	assert.Equal(t, 2, compTok)
}

func TestStream_BackendErrorChunkSurfacesAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"backend exploded"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	chunks, errs := c.Stream(context.Background(), "hi", 16, nil)
	for range chunks {
	}
	err := <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend exploded")
}

func TestStream_NonOKStatusSurfacesAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	chunks, errs := c.Stream(context.Background(), "hi", 16, nil)
	for range chunks {
	}
	require.Error(t, <-errs)
}

func TestStream_CancelledContextStopsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"text":"a"}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(server.URL, nil, nil)
	chunks, errs := c.Stream(ctx, "hi", 16, nil)
	for range chunks {
	}
	<-errs
}

func TestHealthy_ReportsBackendStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	assert.NoError(t, c.Healthy(context.Background()))
}

func TestHealthy_NonOKStatusIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	assert.Error(t, c.Healthy(context.Background()))
}
