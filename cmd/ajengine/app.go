package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/config"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/fs"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/llm"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/memory"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/syntax"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/tools"
)

// app holds the components one CLI invocation builds from config.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg        *config.Config
	ws         *task.WorkspaceContext
	fs         *fs.CachedFS
	sessions   *session.Manager
	state      *session.State
	agents     *agents.HTTPClient
	dispatcher *tools.Dispatcher
	store      *memory.SQLiteStore
}

// wire builds the dispatcher and everything it depends on. A nil counter
// estimates tokens.
func (a *app) wire(counter *llm.TokenCounter) error {
	if a.dispatcher != nil {
		return nil
	}
	a.ws = a.cfg.Workspace()

	cfs, err := fs.NewCachedFS(a.ws.WorkspaceRoot, a.cfg.CacheDuration(), a.cfg.MaxCacheEntries)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	a.fs = cfs

	if counter == nil {
		counter = llm.NewApproxCounter()
	}
	a.sessions = session.NewManager(
		session.WithTokenCounter(counter),
		session.WithTokenBudget(a.cfg.PromptTokenBudget),
	)
	a.state = a.sessions.Get(session.GenerateID())

	var agentClient agents.Client
	if a.cfg.Agents.URL != "" {
		c, err := agents.NewHTTPClient(a.cfg.Agents.URL, a.cfg.Agents.Token)
		if err != nil {
			return err
		}
		a.agents = c
		agentClient = c
	}

	a.dispatcher = tools.NewDispatcher(tools.Deps{
		FS:           cfs,
		State:        a.state,
		Agents:       agentClient,
		Checker:      syntax.NewValidator(),
		ShellTimeout: a.cfg.ShellTimeout(),
		CodeTimeout:  consts.DefaultCodeTimeout,
	})
	return nil
}

// openMemory opens the trace store. Failures are logged and the run
// continues without memory.
func (a *app) openMemory(embedder llm.Embedder) memory.Store {
	var emb memory.Embedder
	if embedder != nil {
		emb = embedder
	}
	store, err := memory.NewSQLiteStore(a.cfg.MemoryPath, emb)
	if err != nil {
		logger.Warn("memory disabled: %v", err)
		return nil
	}
	a.store = store
	return store
}

func (a *app) agentTimeout() time.Duration {
	return time.Duration(a.cfg.Agents.TimeoutSeconds) * time.Second
}

// Close releases what wire and openMemory opened.
func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.fs != nil {
		_ = a.fs.Close()
		a.fs = nil
	}
	if a.sessions != nil && a.state != nil {
		a.sessions.Delete(a.state.ID())
	}
	a.dispatcher = nil
}
