// Package relay answers inbound chat messages: it records the conversation,
// asks the model for a reply, and delivers the reply as ordered fragments that
// fit the destination's message-size limit.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/chunker"
	"github.com/mwiater/relay/internal/history"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/metrics"
	"github.com/mwiater/relay/internal/providers"
)

// Inbound is a message addressed to the relay.
type Inbound struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Channel string `json:"channel,omitempty"`
	Content string `json:"content"`
}

// Outbound is one fragment of a reply.
type Outbound struct {
	InboundID string `json:"inboundId"`
	Channel   string `json:"channel,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Content   string `json:"content"`
}

// Sender delivers fragments to a destination.
type Sender interface {
	Send(ctx context.Context, msg Outbound) error
}

// Typer is implemented by senders that can show a typing indicator while a reply is generated.
type Typer interface {
	Typing(ctx context.Context, channel string) error
}

// Result describes how an inbound message was handled.
type Result struct {
	ID        string   `json:"id"`
	Reply     string   `json:"-"`
	Fragments []string `json:"fragments"`
	Fallback  bool     `json:"fallback"`
	Skipped   bool     `json:"skipped,omitempty"`
	Sent      int      `json:"sent"`
}

// Responder handles inbound messages. It is safe for concurrent use; messages
// from the same user are handled one at a time so their history stays ordered.
type Responder struct {
	provider     providers.ChatProvider
	store        history.Store
	chunker      *chunker.Chunker
	recorder     *metrics.Recorder
	host         appconfig.Host
	systemPrompt string
	parameters   appconfig.Parameters
	maxTokens    int
	errorReply   string
	selfID       string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Responder from the application configuration.
func New(cfg *appconfig.Config, provider providers.ChatProvider, store history.Store, recorder *metrics.Recorder) (*Responder, error) {
	if cfg == nil {
		return nil, errors.New("relay: nil config")
	}
	if provider == nil || store == nil {
		return nil, errors.New("relay: provider and history store are required")
	}
	policy, err := chunker.ParseFencePolicy(cfg.FencePolicy)
	if err != nil {
		return nil, err
	}
	c, err := chunker.New(cfg.MaxLength, chunker.WithFencePolicy(policy))
	if err != nil {
		return nil, err
	}
	errorReply := cfg.ErrorReply
	if strings.TrimSpace(errorReply) == "" {
		errorReply = appconfig.DefaultErrorReply
	}
	return &Responder{
		provider:     provider,
		store:        store,
		chunker:      c,
		recorder:     recorder,
		host:         cfg.Host,
		systemPrompt: cfg.SystemPrompt,
		parameters:   cfg.Parameters,
		maxTokens:    cfg.MaxTokens,
		errorReply:   errorReply,
		selfID:       cfg.BotID,
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// Chunker exposes the splitter used for replies.
func (r *Responder) Chunker() *chunker.Chunker { return r.chunker }

// Handle generates a reply to in and sends it through out, fragment by fragment, in order.
func (r *Responder) Handle(ctx context.Context, in Inbound, out Sender) (Result, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	res := Result{ID: in.ID}
	if strings.TrimSpace(in.Content) == "" || (r.selfID != "" && in.UserID == r.selfID) {
		res.Skipped = true
		return res, nil
	}
	logging.LogEvent("message received id=%s user=%s chars=%d", in.ID, in.UserID, utf8.RuneCountInString(in.Content))

	unlock := r.lock(in.UserID)
	defer unlock()

	if typer, ok := out.(Typer); ok {
		if err := typer.Typing(ctx, in.Channel); err != nil {
			logging.LogDebug("typing indicator failed: %v", err)
		}
	}

	reply, fallback, err := r.generate(ctx, in)
	if err != nil {
		r.recorder.ObserveReply(metrics.StatusFailed)
		return res, err
	}
	res.Reply = reply
	res.Fallback = fallback

	res.Fragments = r.split(reply)
	for i, fragment := range res.Fragments {
		msg := Outbound{
			InboundID: in.ID,
			Channel:   in.Channel,
			Index:     i + 1,
			Total:     len(res.Fragments),
			Content:   fragment,
		}
		if err := out.Send(ctx, msg); err != nil {
			r.recorder.ObserveSendError()
			r.recorder.ObserveReply(metrics.StatusFailed)
			return res, fmt.Errorf("send fragment %d/%d: %w", msg.Index, msg.Total, err)
		}
		res.Sent++
	}

	if fallback {
		r.recorder.ObserveReply(metrics.StatusFallback)
	} else {
		r.recorder.ObserveReply(metrics.StatusOK)
	}
	return res, nil
}

// Reset forgets the conversation of userID.
func (r *Responder) Reset(ctx context.Context, userID string) error {
	unlock := r.lock(userID)
	defer unlock()
	return r.store.Reset(ctx, userID)
}

// generate records the user turn and asks the model for a reply. Model failures
// yield the configured apology instead of an error; the apology is not stored.
func (r *Responder) generate(ctx context.Context, in Inbound) (string, bool, error) {
	if err := r.store.Append(ctx, in.UserID, history.Message{Role: history.RoleUser, Content: in.Content}); err != nil {
		return "", false, fmt.Errorf("record message: %w", err)
	}
	past, err := r.store.Messages(ctx, in.UserID)
	if err != nil {
		return "", false, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]providers.ChatMessage, len(past))
	for i, m := range past {
		msgs[i] = providers.ChatMessage{Role: m.Role, Content: m.Content}
	}
	reply, _, err := providers.Collect(ctx, r.provider, providers.StreamRequest{
		Host:             r.host,
		Model:            r.host.Model,
		History:          msgs,
		SystemPrompt:     r.systemPrompt,
		Parameters:       r.parameters,
		MaxTokens:        r.maxTokens,
		DisableStreaming: true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		logging.LogEvent("error calling %s provider: %v", r.provider.Name(), err)
		return r.errorReply, true, nil
	}
	if strings.TrimSpace(reply) == "" {
		logging.LogEvent("empty reply from %s provider for message %s", r.provider.Name(), in.ID)
		return r.errorReply, true, nil
	}

	if err := r.store.Append(ctx, in.UserID, history.Message{Role: history.RoleAssistant, Content: reply}); err != nil {
		return "", false, fmt.Errorf("record reply: %w", err)
	}
	return reply, false, nil
}

func (r *Responder) split(reply string) []string {
	fragments := r.chunker.Chunk(reply)
	oversize := 0
	for _, f := range fragments {
		if utf8.RuneCountInString(f) > r.chunker.MaxLength() {
			oversize++
		}
	}
	r.recorder.ObserveChunk(len(fragments), oversize)
	logging.LogDebug("reply split into %d fragments (%d oversize)", len(fragments), oversize)
	return fragments
}

func (r *Responder) lock(userID string) func() {
	r.mu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Collector is a Sender that keeps every fragment in memory.
type Collector struct {
	mu   sync.Mutex
	msgs []Outbound
}

// Send records msg.
func (c *Collector) Send(_ context.Context, msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

// Messages returns the recorded fragments in delivery order.
func (c *Collector) Messages() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outbound, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// MultiSender fans each fragment out to several senders in order, stopping at the first error.
type MultiSender []Sender

// Send delivers msg to every sender.
func (m MultiSender) Send(ctx context.Context, msg Outbound) error {
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Typing forwards the indicator to senders that support it.
func (m MultiSender) Typing(ctx context.Context, channel string) error {
	for _, s := range m {
		if t, ok := s.(Typer); ok {
			if err := t.Typing(ctx, channel); err != nil {
				return err
			}
		}
	}
	return nil
}
