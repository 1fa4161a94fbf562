package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	discoverCalls int32
	lastExec      executeRequest
	lastAuth      string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.discoverCalls, 1)
		f.lastAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(discoverResponse{Agents: []Agent{
			{AgentID: "web-1", Hostname: "web01", Platform: "linux", IP: "10.0.0.5", Port: 8080},
			{AgentID: "win-1", Hostname: "DESKTOP", Platform: "Windows", IP: "10.0.0.6", Port: 8080},
		}})
	})
	mux.HandleFunc("/api/agents/win-1/execute", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastExec))
		_ = json.NewEncoder(w).Encode(ExecResult{Success: true, Stdout: "Name  Id\nsvchost 4", ExitCode: 0})
	})
	mux.HandleFunc("/api/agents/web-1/execute", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastExec))
		http.Error(w, "agent offline", http.StatusBadGateway)
	})
	return mux
}

func newTestClient(t *testing.T) (*HTTPClient, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL+"/", "secret")
	require.NoError(t, err)
	return client, backend
}

func TestDiscoverCachesUnlessForced(t *testing.T) {
	client, backend := newTestClient(t)
	ctx := context.Background()

	agents, err := client.Discover(ctx, false)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "Bearer secret", backend.lastAuth)

	_, err = client.Discover(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.discoverCalls))

	_, err = client.Discover(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.discoverCalls))
}

func TestExecuteSelectsDialectByPlatform(t *testing.T) {
	client, backend := newTestClient(t)

	res, err := client.Execute(context.Background(), "DESKTOP", "Get-Process", "", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Stdout, "svchost")
	assert.Equal(t, DialectPowerShell, backend.lastExec.Dialect)
	assert.Equal(t, "shell", backend.lastExec.TaskType)
	assert.Equal(t, 10, backend.lastExec.TimeoutSeconds)
}

func TestExecuteReportsBackendErrors(t *testing.T) {
	client, backend := newTestClient(t)

	_, err := client.Execute(context.Background(), "web-1", "uptime", "shell", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent offline")
	assert.Equal(t, DialectShell, backend.lastExec.Dialect)
	assert.Equal(t, 60, backend.lastExec.TimeoutSeconds)
}

func TestExecuteUnknownAgent(t *testing.T) {
	client, backend := newTestClient(t)

	_, err := client.Execute(context.Background(), "db-9", "uptime", "shell", time.Second)
	assert.True(t, errors.Is(err, ErrAgentNotFound))
	// One cached lookup plus one forced refresh
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.discoverCalls))
}

func TestNewHTTPClientRequiresURL(t *testing.T) {
	_, err := NewHTTPClient("  ", "")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestAgentDialect(t *testing.T) {
	assert.Equal(t, DialectPowerShell, Agent{Platform: "windows"}.Dialect())
	assert.Equal(t, DialectShell, Agent{Platform: "darwin"}.Dialect())
	assert.Equal(t, DialectShell, Agent{}.Dialect())
}
