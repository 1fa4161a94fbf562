package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

var errNoAgents = errors.New("remote agents not configured")

type remoteHandlers struct {
	client agents.Client
	state  *session.State
}

// execute runs a command on one agent. The remote side picks the dialect
// from the agent's platform, so the local deny-list is not applied.
func (h *remoteHandlers) execute(ctx context.Context, params map[string]interface{}, _ *task.WorkspaceContext) Result {
	if h.client == nil {
		return errResult(errNoAgents)
	}
	agentID := GetStringParam(params, "agent_id", GetStringParam(params, "agent", ""))
	command := GetStringParam(params, "command", "")
	if agentID == "" || strings.TrimSpace(command) == "" {
		return Result{Error: "agent_id and command are required"}
	}
	taskType := GetStringParam(params, "task_type", "shell")
	timeout := time.Duration(GetIntParam(params, "timeout", 0)) * time.Second

	res, err := h.client.Execute(ctx, agentID, command, taskType, timeout)
	if err != nil {
		return errResult(err)
	}

	output := res.Stdout
	if strings.TrimSpace(res.Stderr) != "" {
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += "[stderr]\n" + res.Stderr
	}
	if !res.Success || res.ExitCode != 0 {
		return Result{Output: output, Error: fmt.Sprintf("remote command failed on %s (exit code %d)", agentID, res.ExitCode)}
	}
	return okResult(output)
}

// list discovers agents and records them in the session.
func (h *remoteHandlers) list(ctx context.Context, params map[string]interface{}, _ *task.WorkspaceContext) Result {
	if h.client == nil {
		return errResult(errNoAgents)
	}
	found, err := h.client.Discover(ctx, GetBoolParam(params, "force", false))
	if err != nil {
		return errResult(err)
	}
	if h.state != nil {
		h.state.SetAgents(found)
	}
	if len(found) == 0 {
		return okResult("No agents available")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d agents:\n", len(found))
	for _, a := range found {
		fmt.Fprintf(&sb, "- %s host=%s platform=%s dialect=%s addr=%s:%d", a.AgentID, a.Hostname, a.Platform, a.Dialect(), a.IP, a.Port)
		if len(a.Capabilities) > 0 {
			fmt.Fprintf(&sb, " capabilities=%s", strings.Join(a.Capabilities, ","))
		}
		sb.WriteByte('\n')
	}
	return okResult(strings.TrimSuffix(sb.String(), "\n"))
}
