// internal/metrics/provider.go
package metrics

import (
	"context"
	"time"

	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/providers"
)

// Provider is a decorator that wraps a ChatProvider to record generation latency.
type Provider struct {
	wrapped  providers.ChatProvider
	recorder *Recorder
}

// NewProvider creates a new metrics-enabled provider that wraps an existing ChatProvider.
func NewProvider(wrapped providers.ChatProvider, recorder *Recorder) *Provider {
	logging.LogDebug("[METRICS] wrapping %s provider", wrapped.Name())
	return &Provider{wrapped: wrapped, recorder: recorder}
}

// Name passes the call through to the wrapped provider.
func (p *Provider) Name() string { return p.wrapped.Name() }

// Stream times the wrapped provider's Stream call.
func (p *Provider) Stream(ctx context.Context, req providers.StreamRequest, callbacks providers.StreamCallbacks) error {
	start := time.Now()
	err := p.wrapped.Stream(ctx, req, callbacks)
	p.recorder.ObserveGeneration(p.wrapped.Name(), time.Since(start))
	return err
}

// Close passes the call through to the wrapped provider.
func (p *Provider) Close() error {
	return p.wrapped.Close()
}
