// Package thinking extracts the reasoning span a model emits between
// <think> and </think> from a token stream.
package thinking

import (
	"iter"
	"strings"
	"unicode/utf8"
)

const (
	DefaultOpen  = "<think>"
	DefaultClose = "</think>"
)

// State is the parser position relative to the reasoning span.
type State int

const (
	BeforeSpan State = iota
	InsideSpan
	Finished
)

func (s State) String() string {
	switch s {
	case BeforeSpan:
		return "BEFORE_SPAN"
	case InsideSpan:
		return "INSIDE_SPAN"
	case Finished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// Option configures a Parser.
type Option func(*Parser)

// WithDelimiters overrides the span delimiters.
func WithDelimiters(open, close string) Option {
	return func(p *Parser) {
		if open != "" && close != "" {
			p.open, p.close = open, close
		}
	}
}

// Parser is an incremental state machine over streamed text. It is not safe
// for concurrent use, and once Finished it must be replaced to parse again.
type Parser struct {
	open    string
	close   string
	state   State
	pending string
	content strings.Builder
}

// NewParser creates a parser in BeforeSpan.
func NewParser(opts ...Option) *Parser {
	p := &Parser{open: DefaultOpen, close: DefaultClose}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state.
func (p *Parser) State() State { return p.state }

// Content returns everything emitted from inside the span so far.
func (p *Parser) Content() string { return p.content.String() }

// Feed consumes one chunk and returns the span text now known to be safe.
// The last len(close)-1 bytes are held back until the next chunk or Flush
// when they contain a slash or the closer's first byte ('<' by default).
func (p *Parser) Feed(chunk string) string {
	if p.state == Finished || chunk == "" {
		return ""
	}
	p.pending += chunk

	if p.state == BeforeSpan {
		idx := strings.Index(p.pending, p.open)
		if idx < 0 {
			// Only a possible partial opener is worth keeping.
			p.pending = p.pending[holdFrom(p.pending, len(p.open)-1):]
			return ""
		}
		p.pending = p.pending[idx+len(p.open):]
		p.state = InsideSpan
	}

	if idx := strings.Index(p.pending, p.close); idx >= 0 {
		out := p.pending[:idx]
		p.pending = ""
		p.state = Finished
		p.content.WriteString(out)
		return out
	}

	cut := holdFrom(p.pending, len(p.close)-1)
	if !strings.ContainsAny(p.pending[cut:], p.close[:1]+"/") {
		cut = len(p.pending)
	}
	out := p.pending[:cut]
	p.pending = p.pending[cut:]
	p.content.WriteString(out)
	return out
}

// Flush releases held-back span text at end of stream. Text held before the
// span opened is dropped.
func (p *Parser) Flush() string {
	out := ""
	if p.state == InsideSpan {
		out = p.pending
		p.content.WriteString(out)
	}
	p.pending = ""
	return out
}

// Parse lazily yields span text from a stream of chunks, flushing at the end.
func (p *Parser) Parse(chunks iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for chunk := range chunks {
			if out := p.Feed(chunk); out != "" && !yield(out) {
				return
			}
			if p.state == Finished {
				return
			}
		}
		if out := p.Flush(); out != "" {
			yield(out)
		}
	}
}

// holdFrom returns the start of the last k bytes of s, moved back to a rune
// boundary.
func holdFrom(s string, k int) int {
	cut := max(len(s)-k, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

// ExtractThinking returns the text of the first reasoning span, or "" when
// there is none. An unclosed span runs to the end of text.
func ExtractThinking(text string) string {
	start := strings.Index(text, DefaultOpen)
	if start < 0 {
		return ""
	}
	rest := text[start+len(DefaultOpen):]
	if end := strings.Index(rest, DefaultClose); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// StripThinking removes every reasoning span and returns the remainder.
func StripThinking(text string) string {
	var sb strings.Builder
	for {
		start := strings.Index(text, DefaultOpen)
		if start < 0 {
			sb.WriteString(text)
			break
		}
		sb.WriteString(text[:start])
		rest := text[start+len(DefaultOpen):]
		end := strings.Index(rest, DefaultClose)
		if end < 0 {
			break
		}
		text = rest[end+len(DefaultClose):]
	}
	return strings.TrimSpace(sb.String())
}
