// internal/commands/runtime.go
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/history"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/providerfactory"
	"github.com/mwiater/relay/internal/relay"
)

// runtime bundles what chat and serve need to answer messages.
type runtime struct {
	responder *relay.Responder
	closers   []func() error
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logging.LogEvent("shutdown: %v", err)
		}
	}
}

// newRuntime wires the history store, the model provider and the responder.
func newRuntime(ctx context.Context, cfg *appconfig.Config) (*runtime, error) {
	rt := &runtime{}

	store, err := newStore(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}

	provider, err := providerfactory.NewChatProvider(cfg, recorder)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, provider.Close)

	responder, err := relay.New(cfg, provider, store, recorder)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.responder = responder
	logging.LogEvent("relay ready provider=%s model=%s history=%s maxLength=%d",
		provider.Name(), cfg.Host.Model, cfg.History.Backend, cfg.MaxLength)
	return rt, nil
}

func newStore(ctx context.Context, cfg *appconfig.Config, rt *runtime) (history.Store, error) {
	policy := history.Policy{Keep: cfg.History.Keep, TrimAt: cfg.History.TrimAt}
	if cfg.History.Backend != "redis" {
		return history.NewMemoryStore(policy)
	}

	store, err := history.NewRedisStore(history.RedisOptions{
		Addr:   cfg.History.RedisAddr,
		DB:     cfg.History.RedisDB,
		Prefix: cfg.History.RedisKey,
		TTL:    cfg.HistoryTTL(),
	}, policy)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.History.RedisAddr, err)
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}
