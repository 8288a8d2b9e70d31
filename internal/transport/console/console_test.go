package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/relay/internal/relay"
)

func TestSendPlainWritesHeaderAndContent(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	s := New(&buf, true)

	require.NoError(t, s.Send(context.Background(), relay.Outbound{Index: 2, Total: 3, Content: "```go\nx := 1\n```"}))
	assert.Equal(t, "[2/3] (16 chars)\n```go\nx := 1\n```\n", buf.String())
}

func TestSendStyledKeepsContent(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	s := New(&buf, false)

	require.NoError(t, s.Send(context.Background(), relay.Outbound{Index: 1, Total: 1, Content: "hello"}))
	assert.Contains(t, buf.String(), "[1/1]")
	assert.Contains(t, buf.String(), "hello")
}

func TestTyping(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	var _ relay.Typer = New(&buf, true)
	require.NoError(t, New(&buf, true).Typing(context.Background(), "general"))
	assert.Equal(t, "relay is typing...\n", buf.String())
}
