// internal/providers/ollama/provider.go
// Package ollama provides a ChatProvider backed by Ollama-compatible HTTP endpoints.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/providers"
)

// Provider implements the providers.ChatProvider interface using the Ollama /api/chat endpoint.
type Provider struct {
	client  *http.Client
	timeout time.Duration
}

// New constructs a Provider configured with the application's request timeout.
func New(cfg *appconfig.Config) *Provider {
	timeout := cfg.RequestTimeout()
	return &Provider{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		timeout: timeout,
	}
}

// streamChunk defines the structure of a single chunk in a streaming response.
type streamChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	TotalDuration   int64  `json:"total_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *Provider) Name() string { return appconfig.ProviderOllama }

// Stream issues a chat request and forwards output to the provided callbacks.
func (p *Provider) Stream(ctx context.Context, req providers.StreamRequest, callbacks providers.StreamCallbacks) error {
	messages := req.History
	if req.SystemPrompt != "" {
		messages = append([]providers.ChatMessage{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}
	if len(messages) == 0 {
		messages = []providers.ChatMessage{}
	}
	hostID := hostIdentifier(req.Host)

	streamEnabled := !req.DisableStreaming
	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"options":  buildOptions(req.Parameters, req.MaxTokens),
		"stream":   streamEnabled,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	logging.LogRequest("RELAY->LLM", hostID, req.Model, body)

	streamCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, strings.TrimRight(req.Host.URL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		logging.LogRequest("LLM->RELAY", hostID, req.Model, body)
		return fmt.Errorf("ollama: /api/chat returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if !streamEnabled {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		logging.LogRequest("LLM->RELAY", hostID, req.Model, body)
		var result streamChunk
		if err := json.Unmarshal(body, &result); err != nil {
			return err
		}
		if result.Error != "" {
			return fmt.Errorf("ollama: %s", result.Error)
		}
		if callbacks.OnChunk != nil && strings.TrimSpace(result.Message.Content) != "" {
			role := result.Message.Role
			if role == "" {
				role = "assistant"
			}
			if err := callbacks.OnChunk(providers.ChatMessage{Role: role, Content: result.Message.Content}); err != nil {
				return err
			}
		}
		return complete(callbacks, req.Model, result)
	}

	decoder := json.NewDecoder(resp.Body)
	var final streamChunk
	for {
		var chunk streamChunk
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		logging.LogDebug("ollama chunk model=%s done=%v bytes=%d", chunk.Model, chunk.Done, len(chunk.Message.Content))

		if callbacks.OnChunk != nil && chunk.Message.Content != "" {
			if err := callbacks.OnChunk(providers.ChatMessage{Role: chunk.Message.Role, Content: chunk.Message.Content}); err != nil {
				return err
			}
		}

		if chunk.Done {
			final = chunk
			break
		}
	}

	return complete(callbacks, req.Model, final)
}

func complete(callbacks providers.StreamCallbacks, model string, final streamChunk) error {
	if callbacks.OnComplete == nil {
		return nil
	}
	modelName := final.Model
	if modelName == "" {
		modelName = model
	}
	return callbacks.OnComplete(providers.StreamMetadata{
		Model:           modelName,
		CreatedAt:       time.Now(),
		Done:            final.Done,
		TotalDuration:   final.TotalDuration,
		PromptEvalCount: final.PromptEvalCount,
		EvalCount:       final.EvalCount,
	})
}

func buildOptions(params appconfig.Parameters, maxTokens int) map[string]any {
	options := map[string]any{}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MinP != nil {
		options["min_p"] = *params.MinP
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.RepeatPenalty != nil {
		options["repeat_penalty"] = *params.RepeatPenalty
	}
	if params.PresencePenalty != nil {
		options["presence_penalty"] = *params.PresencePenalty
	}
	if params.FrequencyPenalty != nil {
		options["frequency_penalty"] = *params.FrequencyPenalty
	}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	return options
}

// hostIdentifier names a host for log lines.
func hostIdentifier(host appconfig.Host) string {
	name := strings.TrimSpace(host.Name)
	if name != "" {
		return name
	}
	if url := strings.TrimSpace(host.URL); url != "" {
		return url
	}
	return "ollama-host"
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error {
	return nil
}
