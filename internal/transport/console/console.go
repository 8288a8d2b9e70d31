// Package console prints reply fragments to a terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/mwiater/relay/internal/relay"
)

var (
	headerLabel   = color.New(color.FgCyan, color.Bold).SprintFunc()
	lengthLabel   = color.New(color.Faint).SprintFunc()
	typingLabel   = color.New(color.FgYellow).SprintFunc()
	fragmentStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// Sender writes each fragment to an io.Writer under a "[index/total]" header.
type Sender struct {
	mu    sync.Mutex
	out   io.Writer
	plain bool
}

// New returns a Sender writing to out, or stdout when out is nil. Plain output
// drops the border around fragments so they can be copied verbatim.
func New(out io.Writer, plain bool) *Sender {
	if out == nil {
		out = os.Stdout
	}
	return &Sender{out: out, plain: plain}
}

// Send prints one fragment.
func (s *Sender) Send(_ context.Context, msg relay.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := fmt.Sprintf("%s %s", headerLabel(fmt.Sprintf("[%d/%d]", msg.Index, msg.Total)),
		lengthLabel(fmt.Sprintf("(%d chars)", utf8.RuneCountInString(msg.Content))))
	body := msg.Content
	if !s.plain {
		body = fragmentStyle.Render(body)
	}
	_, err := fmt.Fprintf(s.out, "%s\n%s\n", header, body)
	return err
}

// Typing prints a short waiting indicator.
func (s *Sender) Typing(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, typingLabel("relay is typing..."))
	return err
}
