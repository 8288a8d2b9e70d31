// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"
	"strings"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/metrics"
	"github.com/mwiater/relay/internal/providers"
	"github.com/mwiater/relay/internal/providers/ollama"
	"github.com/mwiater/relay/internal/providers/openaicompat"
)

// NewChatProvider selects and configures the provider named in the configuration
// and wraps it with latency metrics when a recorder is supplied.
func NewChatProvider(cfg *appconfig.Config, recorder *metrics.Recorder) (providers.ChatProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}

	var provider providers.ChatProvider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", appconfig.ProviderOllama:
		provider = ollama.New(cfg)
	case appconfig.ProviderOpenAI:
		if strings.TrimSpace(cfg.APIKey) == "" {
			logging.LogEvent("openai provider configured without an API key")
		}
		provider = openaicompat.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	logging.LogEvent("provider ready: %s model=%s", provider.Name(), cfg.Host.Model)

	if cfg.Metrics && recorder != nil {
		provider = metrics.NewProvider(provider, recorder)
	}
	return provider, nil
}
