package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/chunker"
	"github.com/mwiater/relay/internal/history"
	"github.com/mwiater/relay/internal/metrics"
	"github.com/mwiater/relay/internal/providers"
)

type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []providers.StreamRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req providers.StreamRequest, cb providers.StreamCallbacks) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply, err := f.reply, f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if cb.OnChunk != nil && reply != "" {
		if err := cb.OnChunk(providers.ChatMessage{Role: "assistant", Content: reply}); err != nil {
			return err
		}
	}
	if cb.OnComplete != nil {
		return cb.OnComplete(providers.StreamMetadata{Model: req.Model, Done: true})
	}
	return nil
}

func (f *fakeProvider) Close() error { return nil }

type typingSender struct {
	Collector
	typed []string
}

func (s *typingSender) Typing(_ context.Context, channel string) error {
	s.typed = append(s.typed, channel)
	return nil
}

type failingSender struct{ after int }

func (s *failingSender) Send(_ context.Context, msg Outbound) error {
	if msg.Index > s.after {
		return errors.New("rate limited")
	}
	return nil
}

func newResponder(t *testing.T, provider providers.ChatProvider, mutate func(*appconfig.Config)) (*Responder, *history.MemoryStore) {
	t.Helper()
	cfg := appconfig.Defaults()
	cfg.Host.Model = "qwen"
	cfg.SystemPrompt = "be helpful"
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := history.NewMemoryStore(history.Policy{Keep: cfg.History.Keep, TrimAt: cfg.History.TrimAt})
	require.NoError(t, err)
	r, err := New(&cfg, provider, store, metrics.NewRecorder())
	require.NoError(t, err)
	return r, store
}

func TestHandleSendsFragmentsInOrder(t *testing.T) {
	line := strings.Repeat("w", 99)
	reply := strings.TrimSuffix(strings.Repeat(line+"\n", 45), "\n")
	provider := &fakeProvider{reply: reply}
	r, store := newResponder(t, provider, nil)

	sender := &typingSender{}
	res, err := r.Handle(context.Background(), Inbound{UserID: "u1", Channel: "general", Content: "write a lot"}, sender)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Fallback)
	require.Len(t, res.Fragments, 3)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, []string{"general"}, sender.typed)

	sent := sender.Messages()
	require.Len(t, sent, 3)
	for i, msg := range sent {
		assert.Equal(t, i+1, msg.Index)
		assert.Equal(t, 3, msg.Total)
		assert.Equal(t, res.ID, msg.InboundID)
		assert.LessOrEqual(t, utf8.RuneCountInString(msg.Content), 2000)
	}

	msgs, err := store.Messages(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, history.Message{Role: history.RoleUser, Content: "write a lot"}, msgs[0])
	assert.Equal(t, history.RoleAssistant, msgs[1].Role)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "qwen", req.Model)
	assert.Equal(t, "be helpful", req.SystemPrompt)
	assert.Equal(t, 1500, req.MaxTokens)
	assert.True(t, req.DisableStreaming)
}

func TestHandleIncludesHistory(t *testing.T) {
	provider := &fakeProvider{reply: "ok"}
	r, _ := newResponder(t, provider, nil)
	ctx := context.Background()

	_, err := r.Handle(ctx, Inbound{UserID: "u", Content: "first"}, &Collector{})
	require.NoError(t, err)
	_, err = r.Handle(ctx, Inbound{UserID: "u", Content: "second"}, &Collector{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 2)
	hist := provider.requests[1].History
	require.Len(t, hist, 3)
	assert.Equal(t, "first", hist[0].Content)
	assert.Equal(t, "ok", hist[1].Content)
	assert.Equal(t, "second", hist[2].Content)
}

func TestHandleProviderFailureSendsApology(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream 503")}
	r, store := newResponder(t, provider, func(c *appconfig.Config) { c.ErrorReply = "sorry!" })

	sender := &Collector{}
	res, err := r.Handle(context.Background(), Inbound{UserID: "u", Content: "hello"}, sender)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"sorry!"}, res.Fragments)
	require.Len(t, sender.Messages(), 1)

	msgs, err := store.Messages(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the apology is not recorded as an assistant turn")
	assert.Equal(t, history.RoleUser, msgs[0].Role)
}

func TestHandleEmptyReplyFallsBack(t *testing.T) {
	r, _ := newResponder(t, &fakeProvider{reply: "  "}, nil)
	res, err := r.Handle(context.Background(), Inbound{UserID: "u", Content: "hello"}, &Collector{})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{appconfig.DefaultErrorReply}, res.Fragments)
}

func TestHandleCancelledContextReturnsError(t *testing.T) {
	r, _ := newResponder(t, &fakeProvider{err: context.Canceled}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Handle(ctx, Inbound{UserID: "u", Content: "hello"}, &Collector{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleSkipsEmptyAndSelf(t *testing.T) {
	provider := &fakeProvider{reply: "x"}
	r, _ := newResponder(t, provider, func(c *appconfig.Config) { c.BotID = "bot" })

	res, err := r.Handle(context.Background(), Inbound{UserID: "u", Content: "   "}, &Collector{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	res, err = r.Handle(context.Background(), Inbound{UserID: "bot", Content: "echo"}, &Collector{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, provider.requests)
}

func TestHandleStopsAtFirstSendError(t *testing.T) {
	reply := strings.TrimSuffix(strings.Repeat(strings.Repeat("z", 99)+"\n", 45), "\n")
	r, _ := newResponder(t, &fakeProvider{reply: reply}, nil)

	res, err := r.Handle(context.Background(), Inbound{UserID: "u", Content: "go"}, &failingSender{after: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send fragment 2/3")
	assert.Equal(t, 1, res.Sent)
}

func TestHandleUsesFencePolicyAndMaxLength(t *testing.T) {
	reply := "intro\n```go\nfmt.Println(1)\n```"
	r, _ := newResponder(t, &fakeProvider{reply: reply}, func(c *appconfig.Config) {
		c.FencePolicy = "separate"
		c.MaxLength = 500
	})
	assert.Equal(t, chunker.SeparateBlocks, r.Chunker().Policy())
	assert.Equal(t, 500, r.Chunker().MaxLength())

	res, err := r.Handle(context.Background(), Inbound{UserID: "u", Content: "code"}, &Collector{})
	require.NoError(t, err)
	assert.Equal(t, []string{"intro\n\n```go\nfmt.Println(1)\n```"}, res.Fragments)
}

func TestNewValidatesInputs(t *testing.T) {
	cfg := appconfig.Defaults()
	store, err := history.NewMemoryStore(history.DefaultPolicy())
	require.NoError(t, err)

	_, err = New(nil, &fakeProvider{}, store, nil)
	assert.Error(t, err)
	_, err = New(&cfg, nil, store, nil)
	assert.Error(t, err)

	cfg.MaxLength = -1
	_, err = New(&cfg, &fakeProvider{}, store, nil)
	assert.ErrorIs(t, err, chunker.ErrInvalidArgument)
}

func TestResetClearsHistory(t *testing.T) {
	r, store := newResponder(t, &fakeProvider{reply: "ok"}, nil)
	ctx := context.Background()
	_, err := r.Handle(ctx, Inbound{UserID: "u", Content: "hi"}, &Collector{})
	require.NoError(t, err)
	require.NoError(t, r.Reset(ctx, "u"))
	msgs, err := store.Messages(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMultiSender(t *testing.T) {
	a, b := &typingSender{}, &Collector{}
	multi := MultiSender{a, b}
	require.NoError(t, multi.Typing(context.Background(), "c"))
	require.NoError(t, multi.Send(context.Background(), Outbound{Content: "x"}))
	assert.Len(t, a.Messages(), 1)
	assert.Len(t, b.Messages(), 1)
	assert.Equal(t, []string{"c"}, a.typed)

	failing := MultiSender{&failingSender{after: 0}, b}
	assert.Error(t, failing.Send(context.Background(), Outbound{Index: 1}))
	assert.Len(t, b.Messages(), 1)
}
