// Package openaicompat provides a ChatProvider for OpenAI-compatible chat
// completion endpoints, such as the Hugging Face inference router.
package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/providers"
)

// DefaultBaseURL is the Hugging Face OpenAI-compatible router.
const DefaultBaseURL = "https://router.huggingface.co/v1/"

// Provider implements providers.ChatProvider with the official OpenAI Go client.
type Provider struct {
	client  openai.Client
	baseURL string
}

// New builds a Provider from the configured host URL and API key.
func New(cfg *appconfig.Config) *Provider {
	baseURL := strings.TrimSpace(cfg.Host.URL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		option.WithMaxRetries(1),
	)
	return &Provider{client: client, baseURL: baseURL}
}

func (p *Provider) Name() string { return appconfig.ProviderOpenAI }

// Stream sends the conversation as a chat completion request.
func (p *Provider) Stream(ctx context.Context, req providers.StreamRequest, callbacks providers.StreamCallbacks) error {
	params := buildParams(req)
	logging.LogRequest("RELAY->LLM", p.baseURL, req.Model, fmt.Sprintf("messages=%d max_tokens=%d", len(params.Messages), req.MaxTokens))

	if req.DisableStreaming {
		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("openai: chat completion: %w", err)
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("openai: chat completion returned no choices")
		}
		content := completion.Choices[0].Message.Content
		logging.LogRequest("LLM->RELAY", p.baseURL, completion.Model, content)
		if callbacks.OnChunk != nil && strings.TrimSpace(content) != "" {
			if err := callbacks.OnChunk(providers.ChatMessage{Role: "assistant", Content: content}); err != nil {
				return err
			}
		}
		return complete(callbacks, firstNonEmpty(completion.Model, req.Model), int(completion.Usage.PromptTokens), int(completion.Usage.CompletionTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	model := req.Model
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" || callbacks.OnChunk == nil {
			continue
		}
		if err := callbacks.OnChunk(providers.ChatMessage{Role: "assistant", Content: delta}); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai: chat completion stream: %w", err)
	}
	return complete(callbacks, model, 0, 0)
}

func buildParams(req providers.StreamRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if v := req.Parameters.Temperature; v != nil {
		params.Temperature = openai.Float(*v)
	}
	if v := req.Parameters.TopP; v != nil {
		params.TopP = openai.Float(*v)
	}
	if v := req.Parameters.PresencePenalty; v != nil {
		params.PresencePenalty = openai.Float(*v)
	}
	if v := req.Parameters.FrequencyPenalty; v != nil {
		params.FrequencyPenalty = openai.Float(*v)
	}
	return params
}

func complete(callbacks providers.StreamCallbacks, model string, promptTokens, evalTokens int) error {
	if callbacks.OnComplete == nil {
		return nil
	}
	return callbacks.OnComplete(providers.StreamMetadata{
		Model:           model,
		CreatedAt:       time.Now(),
		Done:            true,
		PromptEvalCount: promptTokens,
		EvalCount:       evalTokens,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error { return nil }
