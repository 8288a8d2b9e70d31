// Package discord delivers reply fragments to a Discord channel through an
// incoming webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/relay"
)

// MaxMessageLength is the largest message Discord accepts, in code points.
const MaxMessageLength = 2000

// ErrMessageTooLong is returned for fragments Discord would reject.
var ErrMessageTooLong = errors.New("discord: message exceeds 2000 characters")

const maxRetryWait = 10 * time.Second

// Sender posts fragments to a webhook URL.
type Sender struct {
	webhookURL string
	username   string
	client     *http.Client
	sleep      func(context.Context, time.Duration) error
}

// New returns a Sender for webhookURL. A nil client selects one with a 30 second timeout.
func New(webhookURL, username string, client *http.Client) (*Sender, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("discord: webhook URL is required")
	}
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("discord: invalid webhook URL")
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{
		webhookURL: u.String(),
		username:   username,
		client:     client,
		sleep:      sleepContext,
	}, nil
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type webhookPayload struct {
	Content         string          `json:"content"`
	Username        string          `json:"username,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// Send posts one fragment. A 429 response is retried once after the advertised delay.
func (s *Sender) Send(ctx context.Context, msg relay.Outbound) error {
	if n := utf8.RuneCountInString(msg.Content); n > MaxMessageLength {
		return fmt.Errorf("%w: fragment %d/%d has %d", ErrMessageTooLong, msg.Index, msg.Total, n)
	}
	body, err := json.Marshal(webhookPayload{
		Content:         msg.Content,
		Username:        s.username,
		AllowedMentions: allowedMentions{Parse: []string{}},
	})
	if err != nil {
		return err
	}

	wait, err := s.post(ctx, body)
	if err == nil || wait <= 0 {
		return err
	}
	logging.LogEvent("discord rate limited, retrying fragment %d/%d in %s", msg.Index, msg.Total, wait)
	if err := s.sleep(ctx, wait); err != nil {
		return err
	}
	_, err = s.post(ctx, body)
	return err
}

// post returns a positive wait when the request was rate limited.
func (s *Sender) post(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("discord: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0, nil
	}
	err = fmt.Errorf("discord: webhook returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	if resp.StatusCode == http.StatusTooManyRequests {
		return retryAfter(resp.Header, data), err
	}
	return 0, err
}

func retryAfter(h http.Header, body []byte) time.Duration {
	var rl rateLimitBody
	wait := time.Duration(0)
	if json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		wait = time.Duration(rl.RetryAfter * float64(time.Second))
	} else if v := h.Get("Retry-After"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			wait = secs
		}
	}
	if wait <= 0 {
		wait = time.Second
	}
	if wait > maxRetryWait {
		wait = maxRetryWait
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
