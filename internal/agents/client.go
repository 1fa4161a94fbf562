// Package agents talks to the remote-agent backend: one agent per managed
// machine, each able to run commands in its platform's shell dialect.
package agents

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
	"sync"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
)

var (
	// ErrAgentNotFound is returned when a command targets an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrNotConfigured is returned when no agent backend URL is set.
	ErrNotConfigured = errors.New("remote agent backend not configured")
)

const (
	DialectPowerShell = "powershell"
	DialectShell      = "shell"
)

// Agent describes one managed machine.
type Agent struct {
	AgentID      string   `json:"agent_id"`
	Hostname     string   `json:"hostname"`
	Platform     string   `json:"platform"`
	IP           string   `json:"ip"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Dialect selects the command language for the agent's platform.
func (a Agent) Dialect() string {
	if strings.EqualFold(a.Platform, "windows") {
		return DialectPowerShell
	}
	return DialectShell
}

// ExecResult is the outcome of a remote command.
type ExecResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Client is the RPC surface of the agent backend.
type Client interface {
	Execute(ctx context.Context, agentID, command, taskType string, timeout time.Duration) (*ExecResult, error)
	Discover(ctx context.Context, force bool) ([]Agent, error)
}

// HTTPClient implements Client over the backend's JSON API.
type HTTPClient struct {
	baseURL  string
	token    string
	client   *http.Client
	cacheTTL time.Duration

	mu       sync.Mutex
	agents   []Agent
	cachedAt time.Time
}

// NewHTTPClient creates a client for the backend at baseURL.
func NewHTTPClient(baseURL, token string) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid agent backend url %q: %w", baseURL, err)
	}

	return &HTTPClient{
		baseURL:  baseURL,
		token:    token,
		client:   &http.Client{Timeout: consts.DefaultHTTPTimeout},
		cacheTTL: 5 * time.Minute,
	}, nil
}

type discoverResponse struct {
	Agents []Agent `json:"agents"`
}

// Discover lists agents. Results are cached; force bypasses the cache.
func (c *HTTPClient) Discover(ctx context.Context, force bool) ([]Agent, error) {
	c.mu.Lock()
	if !force && c.agents != nil && time.Since(c.cachedAt) < c.cacheTTL {
		agents := append([]Agent(nil), c.agents...)
		c.mu.Unlock()
		return agents, nil
	}
	c.mu.Unlock()

	endpoint := c.baseURL + "/api/agents"
	if force {
		endpoint += "?force=true"
	}

	var resp discoverResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("agent discovery failed: %w", err)
	}

	c.mu.Lock()
	c.agents = append([]Agent(nil), resp.Agents...)
	c.cachedAt = time.Now()
	c.mu.Unlock()

	logger.Info("agents: discovered %d agents", len(resp.Agents))
	return resp.Agents, nil
}

// Lookup returns a cached or freshly discovered agent by id or hostname.
func (c *HTTPClient) Lookup(ctx context.Context, agentID string) (Agent, error) {
	for attempt := 0; attempt < 2; attempt++ {
		list, err := c.Discover(ctx, attempt > 0)
		if err != nil {
			return Agent{}, err
		}
		for _, a := range list {
			if a.AgentID == agentID || strings.EqualFold(a.Hostname, agentID) {
				return a, nil
			}
		}
	}
	return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
}

type executeRequest struct {
	Command        string `json:"command"`
	TaskType       string `json:"task_type"`
	Dialect        string `json:"dialect"`
	TimeoutSeconds int    `json:"timeout"`
}

// Execute runs command on the agent. The agent's platform picks the dialect.
func (c *HTTPClient) Execute(ctx context.Context, agentID, command, taskType string, timeout time.Duration) (*ExecResult, error) {
	agent, err := c.Lookup(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = consts.DefaultAgentTimeout
	}
	if taskType == "" {
		taskType = "shell"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+consts.Timeout5Seconds)
	defer cancel()

	body := executeRequest{
		Command:        command,
		TaskType:       taskType,
		Dialect:        agent.Dialect(),
		TimeoutSeconds: int(timeout / time.Second),
	}
	endpoint := fmt.Sprintf("%s/api/agents/%s/execute", c.baseURL, url.PathEscape(agent.AgentID))

	var result ExecResult
	if err := c.do(ctx, http.MethodPost, endpoint, body, &result); err != nil {
		return nil, fmt.Errorf("execute on %s: %w", agent.AgentID, err)
	}
	logger.Debug("agents: %s exit=%d stdout=%d bytes", agent.AgentID, result.ExitCode, len(result.Stdout))
	return &result, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrAgentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
