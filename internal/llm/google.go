package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleAIClient implements Client for the Gemini API.
type GoogleAIClient struct {
	client    *genai.Client
	modelName string
}

func NewGoogleAIClient(apiKey, modelName string) (*GoogleAIClient, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("google client requires an API key")
	}
	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultGoogleModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google genai client: %w", err)
	}
	return &GoogleAIClient{client: client, modelName: model}, nil
}

func (c *GoogleAIClient) GetModelName() string {
	return c.modelName
}

func (c *GoogleAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, userPrompt(prompt, nil))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *GoogleAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	contents, cfg, err := buildGenAIRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("google genai completion failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		stop := ""
		if resp != nil && resp.PromptFeedback != nil {
			stop = string(resp.PromptFeedback.BlockReason)
		}
		return &CompletionResponse{StopReason: stop}, nil
	}

	candidate := resp.Candidates[0]
	return &CompletionResponse{
		Content:    genAIText(candidate.Content),
		StopReason: string(candidate.FinishReason),
	}, nil
}

func (c *GoogleAIClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	contents, cfg, err := buildGenAIRequest(req)
	if err != nil {
		return err
	}

	for result, err := range c.client.Models.GenerateContentStream(ctx, c.modelName, contents, cfg) {
		if err != nil {
			return fmt.Errorf("google genai stream failed: %w", err)
		}
		if len(result.Candidates) == 0 {
			continue
		}
		chunk := genAIText(result.Candidates[0].Content)
		if chunk == "" {
			continue
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return nil
}

func buildGenAIRequest(req *CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("google completion request cannot be nil")
	}
	system, chat := splitSystem(req)
	if len(chat) == 0 {
		return nil, nil, fmt.Errorf("google completion requires at least one message")
	}

	contents := make([]*genai.Content, 0, len(chat))
	for _, m := range chat {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return contents, cfg, nil
}

func genAIText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Text == "" || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
