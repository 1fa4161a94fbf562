// Package llm adapts language-model backends to one Client interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/config"
)

// ErrUnknownProvider is returned by NewClient for unsupported providers.
var ErrUnknownProvider = errors.New("unknown llm provider")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat request.
type CompletionRequest struct {
	Messages     []*Message `json:"messages"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	// JSON asks the backend for a JSON object when it supports that mode.
	JSON bool `json:"json,omitempty"`
}

// CompletionResponse is the text a backend returned.
type CompletionResponse struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Client is the interface for LLM clients.
type Client interface {
	// CompleteWithRequest sends a full request and returns the response
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for a single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream delivers the response in chunks as they arrive
	Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error
	// GetModelName returns the model name
	GetModelName() string
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewClient builds the client named by cfg.Provider.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model)
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model)
	case "google", "gemini":
		return NewGoogleAIClient(cfg.APIKey, cfg.Model)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
}

// NewEmbedder builds an embedder when the provider serves embeddings. Only
// Ollama does here; other providers return nil, nil and callers fall back
// to keyword matching.
func NewEmbedder(cfg config.LLMConfig) (Embedder, error) {
	p := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if (p != "" && p != "ollama") || strings.TrimSpace(cfg.EmbedModel) == "" {
		return nil, nil
	}
	return NewOllamaEmbedder(cfg.BaseURL, cfg.EmbedModel)
}

func userPrompt(prompt string, req *CompletionRequest) *CompletionRequest {
	out := &CompletionRequest{Messages: []*Message{{Role: "user", Content: prompt}}}
	if req != nil {
		out.Temperature = req.Temperature
		out.MaxTokens = req.MaxTokens
	}
	return out
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "system":
		return "system"
	case "assistant", "model":
		return "assistant"
	}
	return "user"
}

// splitSystem folds system messages into one system prompt and returns the
// remaining chat turns.
func splitSystem(req *CompletionRequest) (string, []*Message) {
	var system []string
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		system = append(system, s)
	}
	chat := make([]*Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		if normalizeRole(m.Role) == "system" {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		chat = append(chat, &Message{Role: normalizeRole(m.Role), Content: m.Content})
	}
	return strings.Join(system, "\n\n"), chat
}
