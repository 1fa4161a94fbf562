package llm

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/config"
)

// TokenCounter counts prompt tokens with the model's tiktoken encoding,
// falling back to cl100k_base and then to a runes/4 estimate when no
// encoding can be loaded.
type TokenCounter struct {
	model string

	once    sync.Once
	encoder *tiktoken.Tiktoken
	approx  bool
}

// NewTokenCounter returns a counter for model. The encoding loads on first use.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

// NewApproxCounter returns a counter that never loads an encoding.
func NewApproxCounter() *TokenCounter {
	c := &TokenCounter{approx: true}
	c.once.Do(func() {})
	return c
}

// CounterFor picks the counter for a backend. Only OpenAI models have a
// published tiktoken encoding; every other backend is estimated.
func CounterFor(cfg config.LLMConfig, model string) *TokenCounter {
	if strings.EqualFold(strings.TrimSpace(cfg.Provider), "openai") && model != "" {
		return NewTokenCounter(model)
	}
	return NewApproxCounter()
}

func (c *TokenCounter) load() {
	c.once.Do(func() {
		if enc, err := tiktoken.EncodingForModel(c.model); err == nil {
			c.encoder = enc
			return
		}
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.encoder = enc
		}
		c.approx = true
	})
}

// Approximate reports whether counts are estimates rather than exact.
func (c *TokenCounter) Approximate() bool {
	c.load()
	return c.approx
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.load()
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	runes := utf8.RuneCountInString(text)
	return (runes + 3) / 4
}
