// internal/chunker/chunker.go

// Package chunker splits long formatted messages into ordered fragments that each
// fit a transport's message-size ceiling. Fenced code blocks are closed and
// reopened across fragment boundaries so every fragment is well-formed on its
// own, and header or bold-led lines always start a new fragment.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	fenceMarker    = "```"
	headerMarker   = "###"
	emphasisMarker = "**"
)

// ErrInvalidArgument is returned when the maximum fragment length is not positive.
var ErrInvalidArgument = errors.New("invalid argument")

// FencePolicy selects how fence lines interact with the surrounding prose.
type FencePolicy int

const (
	// ReopenOnOverflow closes and reopens a fenced block only when a fragment
	// boundary falls inside it.
	ReopenOnOverflow FencePolicy = iota
	// SeparateBlocks behaves like ReopenOnOverflow and also inserts a blank line
	// before an opening fence that follows other lines in the same fragment.
	SeparateBlocks
)

// String returns the policy name used in configuration files.
func (p FencePolicy) String() string {
	switch p {
	case SeparateBlocks:
		return "separate"
	default:
		return "reopen"
	}
}

// ParseFencePolicy maps a configuration value to a FencePolicy. Empty selects the default.
func ParseFencePolicy(name string) (FencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "reopen":
		return ReopenOnOverflow, nil
	case "separate":
		return SeparateBlocks, nil
	default:
		return ReopenOnOverflow, fmt.Errorf("%w: unknown fence policy %q", ErrInvalidArgument, name)
	}
}

// Option customises a Chunker.
type Option func(*Chunker)

// WithFencePolicy sets the fence policy.
func WithFencePolicy(p FencePolicy) Option {
	return func(c *Chunker) { c.policy = p }
}

// Chunker holds the immutable settings of a split. It is safe for concurrent use.
type Chunker struct {
	maxLength int
	policy    FencePolicy
}

// New returns a Chunker producing fragments of at most maxLength code points.
func New(maxLength int, opts ...Option) (*Chunker, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: maxLength must be positive, got %d", ErrInvalidArgument, maxLength)
	}
	c := &Chunker{maxLength: maxLength}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxLength reports the configured fragment ceiling.
func (c *Chunker) MaxLength() int { return c.maxLength }

// Policy reports the configured fence policy.
func (c *Chunker) Policy() FencePolicy { return c.policy }

// Chunk splits text with the default fence policy.
func Chunk(text string, maxLength int) ([]string, error) {
	c, err := New(maxLength)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}

// Chunk splits text into fragments. The result is never nil.
func (c *Chunker) Chunk(text string) []string {
	s := &splitter{max: c.maxLength, policy: c.policy}
	for _, line := range splitLines(text) {
		s.line(line)
	}
	s.flush()

	out := make([]string, 0, len(s.parts))
	for _, part := range s.parts {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitter carries the state of a single pass.
type splitter struct {
	max    int
	policy FencePolicy

	acc      []string
	accLen   int
	seeded   bool
	inFence  bool
	openLine string
	parts    []string
}

func (s *splitter) line(line string) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, fenceMarker):
		if s.inFence {
			// The fragment is balanced once the closer is in, so nothing is reserved.
			s.push(line, 0)
			s.inFence = false
			s.openLine = ""
			return
		}
		reserve := closerCost()
		if s.policy == SeparateBlocks && len(s.acc) > 0 &&
			s.accLen+1+1+runeLen(line)+reserve <= s.max {
			s.acc = append(s.acc, "")
			s.accLen++
		}
		s.push(line, reserve)
		s.inFence = true
		s.openLine = trimmed
	case !s.inFence && (strings.HasPrefix(trimmed, headerMarker) || strings.HasPrefix(trimmed, emphasisMarker)):
		s.flush()
		s.push(line, 0)
	case s.inFence:
		s.push(line, closerCost())
	default:
		s.push(line, 0)
	}
}

// push appends line, keeping reserve code points free for a synthetic closer.
func (s *splitter) push(line string, reserve int) {
	if !s.fresh() && !s.fits(line, reserve) {
		s.flush()
	}
	s.seed()
	if s.fits(line, reserve) {
		s.add(line)
		return
	}
	// Too long for any fragment: emit it on its own, unsplit and unfenced.
	s.reset()
	s.parts = append(s.parts, line)
}

// fresh reports whether the accumulator holds no input lines yet.
func (s *splitter) fresh() bool {
	return len(s.acc) == 0 || (s.seeded && len(s.acc) == 1)
}

// seed opens an empty accumulator with the current fence opener when inside a block.
func (s *splitter) seed() {
	if s.inFence && len(s.acc) == 0 {
		s.add(s.openLine)
		s.seeded = true
	}
}

func (s *splitter) fits(line string, reserve int) bool {
	n := s.accLen + runeLen(line) + reserve
	if len(s.acc) > 0 {
		n++
	}
	return n <= s.max
}

func (s *splitter) add(line string) {
	if len(s.acc) > 0 {
		s.accLen++
	}
	s.acc = append(s.acc, line)
	s.accLen += runeLen(line)
}

// flush emits the accumulator, closing an open fence first.
func (s *splitter) flush() {
	if len(s.acc) == 0 {
		return
	}
	if s.inFence {
		s.add(fenceMarker)
	}
	s.parts = append(s.parts, strings.Join(s.acc, "\n"))
	s.reset()
}

func (s *splitter) reset() {
	s.acc = nil
	s.accLen = 0
	s.seeded = false
}

// closerCost is the room a synthetic closing fence needs: a line break plus the marker.
func closerCost() int { return 1 + len(fenceMarker) }

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// splitLines breaks text on line endings. A final line break does not yield an empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Balanced reports whether fragment contains an even number of fence lines.
func Balanced(fragment string) bool {
	count := 0
	for _, line := range splitLines(fragment) {
		if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
			count++
		}
	}
	return count%2 == 0
}
