package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient implements Client for the Ollama REST API.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message    *ollamaMessage `json:"message"`
	Done       bool           `json:"done"`
	DoneReason string         `json:"done_reason"`
	Error      string         `json:"error,omitempty"`
}

func normalizeOllamaBaseURL(baseURL string) string {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if u == "" {
		return defaultOllamaURL
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return strings.TrimSuffix(u, "/api")
}

// NewOllamaClient creates a client for model on the Ollama server at baseURL.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("ollama client requires a model identifier")
	}
	return &OllamaClient{
		baseURL: normalizeOllamaBaseURL(baseURL),
		model:   model,
		client:  &http.Client{Timeout: consts.DefaultHTTPTimeout},
	}, nil
}

func (c *OllamaClient) GetModelName() string {
	return c.model
}

func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, userPrompt(prompt, nil))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *OllamaClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, fmt.Errorf("ollama completion failed: %w", err)
	}
	defer resp.Body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("ollama completion failed: %w", err)
	}
	if chatResp.Error != "" {
		return nil, fmt.Errorf("ollama completion failed: %s", chatResp.Error)
	}

	out := &CompletionResponse{StopReason: strings.TrimSpace(chatResp.DoneReason)}
	if chatResp.Message != nil {
		out.Content = chatResp.Message.Content
	}
	if out.StopReason == "" && chatResp.Done {
		out.StopReason = "stop"
	}
	return out, nil
}

func (c *OllamaClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return fmt.Errorf("ollama stream failed: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, consts.BufferSize4KB), consts.BufferSize1MB)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return fmt.Errorf("ollama stream failed to decode chunk: %w", err)
		}
		if event.Error != "" {
			return fmt.Errorf("ollama stream failed: %s", event.Error)
		}
		if event.Message != nil && event.Message.Content != "" {
			if err := callback(event.Message.Content); err != nil {
				return err
			}
		}
		if event.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama stream failed: %w", err)
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, req *CompletionRequest, stream bool) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	system, chat := splitSystem(req)
	messages := make([]ollamaMessage, 0, len(chat)+1)
	if system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	for _, m := range chat {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	if len(chat) == 0 {
		return nil, fmt.Errorf("completion requires at least one message")
	}

	payload := ollamaChatRequest{Model: c.model, Messages: messages, Stream: stream}
	if req.JSON {
		payload.Format = "json"
	}
	options := make(map[string]interface{})
	if req.Temperature != 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		payload.Options = options
	}

	return postJSON(ctx, c.client, c.baseURL+"/api/chat", payload)
}

// OllamaEmbedder calls /api/embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaEmbedder creates an embedder for model.
func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("ollama embedder requires a model identifier")
	}
	return &OllamaEmbedder{
		baseURL: normalizeOllamaBaseURL(baseURL),
		model:   model,
		client:  &http.Client{Timeout: consts.DefaultHTTPTimeout},
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	if len(body.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embedding failed: empty embedding")
	}
	return body.Embedding, nil
}

// postJSON sends payload and returns the response when the status is 200.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, consts.BufferSize4KB))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
