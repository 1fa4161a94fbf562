// Package tools routes (tool, params) pairs to the capability handlers that
// perform side effects: shell and code execution, workspace files, session
// introspection and remote agents.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/executor"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/fs"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/syntax"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrShellDisabled    = errors.New("shell commands are disabled for this workspace")
	ErrBlockedCommand   = errors.New("command is blocked")
	ErrSyntax           = errors.New("syntax error")
	ErrCommandTimeout   = errors.New("command timeout")
	ErrOutsideWorkspace = fs.ErrOutsideWorkspace
)

// Result is the outcome of one dispatch.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`

	// Cause is the sentinel behind a failure, if any.
	Cause error `json:"-"`
}

func okResult(output string) Result {
	return Result{Success: true, Output: output}
}

func failResult(cause error, format string, args ...interface{}) Result {
	return Result{Error: fmt.Sprintf(format, args...), Cause: cause}
}

func errResult(err error) Result {
	return Result{Error: err.Error(), Cause: err}
}

// Handler implements one tool kind.
type Handler interface {
	Handle(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result

func (f HandlerFunc) Handle(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	return f(ctx, params, ws)
}

// Deps are the collaborators the built-in handlers need. Nil members disable
// the tools that depend on them.
type Deps struct {
	FS           fs.FileSystem
	State        *session.State
	Agents       agents.Client
	Checker      syntax.Checker
	ShellTimeout time.Duration
	CodeTimeout  time.Duration
}

// Dispatcher routes tool calls to handlers. Handlers are registered once and
// hold no per-call state, so Dispatch is safe for concurrent use.
type Dispatcher struct {
	handlers map[Kind]Handler
	state    *session.State
}

// NewDispatcher creates a dispatcher with every built-in handler registered.
func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[Kind]Handler),
		state:    deps.State,
	}

	d.Register(KindNone, HandlerFunc(handleNone))
	d.Register(KindComplete, HandlerFunc(handleComplete))
	d.Register(KindDumpState, &dumpStateHandler{state: deps.State})

	shell := NewShellHandler(deps.Checker, deps.ShellTimeout)
	d.Register(KindExecuteShell, shell)
	d.Register(KindExecuteCode, NewCodeHandler(deps.Checker, deps.CodeTimeout, shell))

	files := &fileHandlers{fs: deps.FS, state: deps.State}
	d.Register(KindReadFile, HandlerFunc(files.read))
	d.Register(KindWriteFile, HandlerFunc(files.write))
	d.Register(KindAppendToFile, HandlerFunc(files.appendTo))
	d.Register(KindInsertInFile, HandlerFunc(files.insert))
	d.Register(KindDeleteFile, HandlerFunc(files.delete))
	d.Register(KindListDir, HandlerFunc(files.listDir))
	d.Register(KindScanWorkspace, HandlerFunc(files.scan))
	d.Register(KindReplaceInFile, HandlerFunc(files.replace))

	remote := &remoteHandlers{client: deps.Agents, state: deps.State}
	d.Register(KindRemoteExecute, HandlerFunc(remote.execute))
	d.Register(KindListAgents, HandlerFunc(remote.list))

	return d
}

// Register installs h for kind, replacing any previous handler.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	if kind == KindUnknown || h == nil {
		return
	}
	d.handlers[kind] = h
}

// Dispatch runs one tool call. It never panics and never returns an error:
// every failure is reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, tool string, params map[string]interface{}, ws *task.WorkspaceContext) (res Result) {
	kind := ParseKind(tool)
	h, ok := d.handlers[kind]
	if !ok {
		logger.Warn("tools: unknown tool %q", tool)
		return failResult(ErrUnknownTool, "Unknown tool: %s", tool)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tools: %s panicked: %v", tool, r)
			res = failResult(nil, "%s failed: %v", tool, r)
		}
	}()

	start := time.Now()
	res = h.Handle(ctx, params, ws)
	res.Output = executor.Truncate(res.Output, consts.MaxToolOutputChars)
	logger.Debug("tools: %s success=%t in %s", tool, res.Success, time.Since(start))
	return res
}

// Runner adapts the dispatcher to the executor. Denials (disabled shell,
// blocked commands, workspace escapes) and timeouts are raised so the
// executor classifies them; other failures come back as failed results.
func (d *Dispatcher) Runner(ws *task.WorkspaceContext) executor.StepRunner {
	return executor.RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		start := time.Now()
		res := d.Dispatch(ctx, step.Tool, step.Params, ws)
		out := task.StepResult{
			StepID:        step.StepID,
			Status:        task.StatusSuccess,
			Output:        res.Output,
			ExecutionTime: time.Since(start),
		}
		if res.Success {
			return out, nil
		}
		out.Status = task.StatusFailed
		out.Error = res.Error

		switch {
		case errors.Is(res.Cause, ErrShellDisabled),
			errors.Is(res.Cause, ErrBlockedCommand),
			errors.Is(res.Cause, ErrOutsideWorkspace):
			return out, fmt.Errorf("permission denied: %s", res.Error)
		case errors.Is(res.Cause, ErrCommandTimeout):
			return out, errors.New(res.Error)
		}
		return out, nil
	})
}

// RunStep dispatches one step outside a batch and records it in the session.
func (d *Dispatcher) RunStep(ctx context.Context, step task.Step, ws *task.WorkspaceContext) (task.StepResult, *task.ErrorMetadata) {
	res, err := d.Runner(ws).RunStep(ctx, step)
	if d.state != nil {
		d.state.RecordStep(step, res)
	}
	if err != nil {
		meta := executor.ClassifyError(step.StepID, err.Error())
		return res, &meta
	}
	return res, nil
}

func handleNone(_ context.Context, params map[string]interface{}, _ *task.WorkspaceContext) Result {
	reason := GetStringParam(params, "reason", "no action needed")
	return okResult("No action: " + reason)
}

func handleComplete(_ context.Context, params map[string]interface{}, _ *task.WorkspaceContext) Result {
	if msg := GetStringParam(params, "error", ""); msg != "" {
		return Result{Error: msg}
	}
	return okResult(GetStringParam(params, "summary", "Task complete"))
}

type dumpStateHandler struct {
	state *session.State
}

func (h *dumpStateHandler) Handle(_ context.Context, _ map[string]interface{}, _ *task.WorkspaceContext) Result {
	if h.state == nil {
		return Result{Error: "no session state available"}
	}
	data, err := json.MarshalIndent(h.state.Snapshot(), "", "  ")
	if err != nil {
		return errResult(err)
	}
	return okResult(string(data))
}

// GetStringParam returns params[key] as a string or defaultVal.
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetIntParam accepts ints, JSON numbers and floats.
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

func GetBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if val, ok := params[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
