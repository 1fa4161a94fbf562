package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOllamaBaseURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "http://localhost:11434"},
		{"localhost:11434", "http://localhost:11434"},
		{"http://localhost:11434/", "http://localhost:11434"},
		{"http://gpu-box:11434/api", "http://gpu-box:11434"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, normalizeOllamaBaseURL(tc.input), "input %q", tc.input)
	}
}

func newOllamaServer(t *testing.T, handler func(t *testing.T, req ollamaChatRequest, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		handler(t, req, w)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOllamaCompleteWithRequest(t *testing.T) {
	server := newOllamaServer(t, func(t *testing.T, req ollamaChatRequest, w http.ResponseWriter) {
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief\n\nanswer in json", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.EqualValues(t, 256, req.Options["num_predict"])

		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"ok\":true}"},"done":true,"done_reason":"stop"}`))
	})

	client, err := NewOllamaClient(server.URL, "llama3.1")
	require.NoError(t, err)

	resp, err := client.CompleteWithRequest(context.Background(), &CompletionRequest{
		SystemPrompt: "be brief",
		Messages: []*Message{
			{Role: "system", Content: "answer in json"},
			{Role: "user", Content: "status?"},
		},
		MaxTokens: 256,
		JSON:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestOllamaStream(t *testing.T) {
	server := newOllamaServer(t, func(t *testing.T, req ollamaChatRequest, w http.ResponseWriter) {
		assert.True(t, req.Stream)
		lines := []string{
			`{"message":{"role":"assistant","content":"<think>hm"},"done":false}`,
			`{"message":{"role":"assistant","content":"</think>hel"},"done":false}`,
			``,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	})

	client, err := NewOllamaClient(server.URL, "m")
	require.NoError(t, err)

	var chunks []string
	err = client.Stream(context.Background(), &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"<think>hm", "</think>hel", "lo"}, chunks)
}

func TestOllamaStreamCallbackErrorStops(t *testing.T) {
	server := newOllamaServer(t, func(t *testing.T, _ ollamaChatRequest, w http.ResponseWriter) {
		_, _ = w.Write([]byte("{\"message\":{\"content\":\"a\"}}\n{\"message\":{\"content\":\"b\"}}\n"))
	})
	client, err := NewOllamaClient(server.URL, "m")
	require.NoError(t, err)

	stop := assert.AnError
	calls := 0
	err = client.Stream(context.Background(), &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: "hi"}},
	}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOllamaErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		client, err := NewOllamaClient(server.URL, "missing")
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ollama completion failed: status 404: model not found")
	})

	t.Run("body error", func(t *testing.T) {
		server := newOllamaServer(t, func(t *testing.T, _ ollamaChatRequest, w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"error":"out of memory"}`))
		})
		client, err := NewOllamaClient(server.URL, "m")
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), "hi")
		assert.EqualError(t, err, "ollama completion failed: out of memory")
	})

	t.Run("no messages", func(t *testing.T) {
		client, err := NewOllamaClient("http://127.0.0.1:1", "m")
		require.NoError(t, err)
		_, err = client.CompleteWithRequest(context.Background(), &CompletionRequest{SystemPrompt: "only system"})
		assert.Error(t, err)
	})

	t.Run("no model", func(t *testing.T) {
		_, err := NewOllamaClient("", " ")
		assert.Error(t, err)
	})
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		if body["prompt"] == "" {
			_, _ = w.Write([]byte(`{"embedding":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,-1,2]}`))
	}))
	defer server.Close()

	emb, err := NewOllamaEmbedder(server.URL, "nomic-embed-text")
	require.NoError(t, err)

	vec, err := emb.Embed(context.Background(), "disk usage on web01")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, vec)

	_, err = emb.Embed(context.Background(), "")
	assert.ErrorContains(t, err, "empty embedding")
}
