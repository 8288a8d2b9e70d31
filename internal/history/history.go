// Package history keeps a bounded conversation per user. Stores are explicit
// values owned by whoever generates replies; there is no package-level state.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Roles used in stored messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidPolicy is returned for retention policies that cannot be applied.
var ErrInvalidPolicy = errors.New("invalid history policy")

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Policy bounds a conversation: once it holds more than TrimAt messages, only
// the most recent Keep survive.
type Policy struct {
	Keep   int
	TrimAt int
}

// DefaultPolicy keeps the last 20 messages once a conversation passes 25.
func DefaultPolicy() Policy { return Policy{Keep: 20, TrimAt: 25} }

// Validate checks that the policy can be applied.
func (p Policy) Validate() error {
	if p.Keep <= 0 {
		return fmt.Errorf("%w: keep must be positive, got %d", ErrInvalidPolicy, p.Keep)
	}
	if p.TrimAt < p.Keep {
		return fmt.Errorf("%w: trimAt %d is below keep %d", ErrInvalidPolicy, p.TrimAt, p.Keep)
	}
	return nil
}

// apply returns msgs trimmed according to the policy.
func (p Policy) apply(msgs []Message) []Message {
	if len(msgs) <= p.TrimAt {
		return msgs
	}
	kept := make([]Message, p.Keep)
	copy(kept, msgs[len(msgs)-p.Keep:])
	return kept
}

// Store persists conversations keyed by user.
type Store interface {
	// Append adds messages to the end of a conversation and applies the policy.
	Append(ctx context.Context, key string, msgs ...Message) error
	// Messages returns the conversation in order. Unknown keys yield an empty slice.
	Messages(ctx context.Context, key string) ([]Message, error)
	// Reset forgets a conversation.
	Reset(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	policy Policy
	convs  map[string][]Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(policy Policy) (*MemoryStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &MemoryStore{policy: policy, convs: make(map[string][]Message)}, nil
}

func (s *MemoryStore) Append(_ context.Context, key string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[key] = s.policy.apply(append(s.convs[key], msgs...))
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, key string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.convs[key]))
	copy(out, s.convs[key])
	return out, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, key)
	return nil
}

// Len reports how many conversations are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
