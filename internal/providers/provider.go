// internal/providers/provider.go

// Package providers defines the interface the relay uses to generate replies.
// It provides a common abstraction over model backends (Ollama, OpenAI-compatible
// endpoints) for sending a conversation and receiving the reply as a stream.
package providers

import (
	"context"
	"strings"
	"time"

	"github.com/mwiater/relay/internal/appconfig"
)

// ChatMessage represents a single message in a chat conversation.
// It contains the role of the message sender (e.g., "user", "assistant") and the message content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamMetadata contains metadata about a completed chat stream,
// including performance metrics like timing and token counts.
type StreamMetadata struct {
	Model           string
	CreatedAt       time.Time
	Done            bool
	TotalDuration   int64
	PromptEvalCount int
	EvalCount       int
}

// StreamRequest encapsulates all the information needed to initiate a chat stream.
type StreamRequest struct {
	Host             appconfig.Host
	Model            string
	History          []ChatMessage
	SystemPrompt     string
	Parameters       appconfig.Parameters
	MaxTokens        int
	DisableStreaming bool
}

// StreamCallbacks defines the callback functions that are invoked during a chat stream.
// OnChunk is called for each message chunk received, and OnComplete is called when the stream is finished.
type StreamCallbacks struct {
	OnChunk    func(ChatMessage) error
	OnComplete func(StreamMetadata) error
}

// ChatProvider is the interface that all model providers must implement.
type ChatProvider interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Stream sends the conversation and delivers the reply through callbacks.
	Stream(ctx context.Context, req StreamRequest, callbacks StreamCallbacks) error
	// Close cleans up any resources used by the provider.
	Close() error
}

// Collect drains a stream and returns the concatenated reply.
func Collect(ctx context.Context, provider ChatProvider, req StreamRequest) (string, StreamMetadata, error) {
	var (
		buf  strings.Builder
		meta StreamMetadata
	)
	err := provider.Stream(ctx, req, StreamCallbacks{
		OnChunk: func(msg ChatMessage) error {
			buf.WriteString(msg.Content)
			return nil
		},
		OnComplete: func(m StreamMetadata) error {
			meta = m
			return nil
		},
	})
	if err != nil {
		return "", StreamMetadata{}, err
	}
	return buf.String(), meta, nil
}
