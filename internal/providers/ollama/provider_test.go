// internal/providers/ollama/provider_test.go
package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/providers"
)

// TestProviderStreamDisableStreaming verifies that when streaming is disabled, the provider
// makes a single request and correctly processes the non-streaming response.
func TestProviderStreamDisableStreaming(t *testing.T) {
	t.Parallel()

	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		capturedBody = body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":"final"},"done":true,"total_duration":123}`))
	}))
	defer server.Close()

	cfg := &appconfig.Config{TimeoutSeconds: 5}
	provider := New(cfg)

	temp := 0.2
	req := providers.StreamRequest{
		Host:             appconfig.Host{Name: "test", URL: server.URL},
		Model:            "test-model",
		History:          []providers.ChatMessage{{Role: "user", Content: "hi"}},
		SystemPrompt:     "be brief",
		Parameters:       appconfig.Parameters{Temperature: &temp},
		MaxTokens:        1500,
		DisableStreaming: true,
	}

	var chunks []providers.ChatMessage
	var meta providers.StreamMetadata
	err := provider.Stream(context.Background(), req, providers.StreamCallbacks{
		OnChunk: func(msg providers.ChatMessage) error {
			chunks = append(chunks, msg)
			return nil
		},
		OnComplete: func(m providers.StreamMetadata) error {
			meta = m
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	if len(chunks) != 1 || chunks[0].Content != "final" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	if meta.Model != "test-model" || !meta.Done || meta.TotalDuration != 123 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	var payload struct {
		Stream   bool                    `json:"stream"`
		Messages []providers.ChatMessage `json:"messages"`
		Options  map[string]any          `json:"options"`
	}
	if err := json.Unmarshal(capturedBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Stream {
		t.Fatalf("expected stream=false")
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" || payload.Messages[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", payload.Messages)
	}
	if payload.Options["num_predict"] != float64(1500) || payload.Options["temperature"] != 0.2 {
		t.Fatalf("unexpected options: %+v", payload.Options)
	}
}

// TestProviderStreamChunks checks that newline-delimited chunks are forwarded in order.
func TestProviderStreamChunks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":""},"done":true,"eval_count":2}`+"\n")
	}))
	defer server.Close()

	provider := New(&appconfig.Config{TimeoutSeconds: 5})
	reply, meta, err := providers.Collect(context.Background(), provider, providers.StreamRequest{
		Host:  appconfig.Host{URL: server.URL + "/"},
		Model: "m",
	})
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if reply != "Hello" {
		t.Fatalf("expected Hello, got %q", reply)
	}
	if !meta.Done || meta.EvalCount != 2 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestProviderStreamHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	provider := New(&appconfig.Config{TimeoutSeconds: 5})
	_, _, err := providers.Collect(context.Background(), provider, providers.StreamRequest{
		Host:  appconfig.Host{URL: server.URL},
		Model: "missing",
	})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestProviderStreamInlineError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"out of memory"}`+"\n")
	}))
	defer server.Close()

	provider := New(&appconfig.Config{TimeoutSeconds: 5})
	_, _, err := providers.Collect(context.Background(), provider, providers.StreamRequest{
		Host:  appconfig.Host{URL: server.URL},
		Model: "m",
	})
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected inline error, got %v", err)
	}
}

func TestHostIdentifier(t *testing.T) {
	if got := hostIdentifier(appconfig.Host{Name: " gpu "}); got != "gpu" {
		t.Fatalf("expected name, got %q", got)
	}
	if got := hostIdentifier(appconfig.Host{URL: "http://x"}); got != "http://x" {
		t.Fatalf("expected url, got %q", got)
	}
	if got := hostIdentifier(appconfig.Host{}); got != "ollama-host" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
