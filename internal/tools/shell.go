package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/syntax"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

// blockedCommands are refused as the command word of any pipeline segment.
var blockedCommands = map[string]bool{
	// destructive
	"rm": true, "rmdir": true, "del": true, "erase": true, "format": true, "mkfs": true, "dd": true,
	// privilege escalation
	"sudo": true, "su": true, "runas": true,
	// service and power control
	"systemctl": true, "service": true, "shutdown": true, "reboot": true, "halt": true,
	// raw networking
	"nc": true, "netcat": true, "ncat": true,
	// container escape
	"docker": true, "podman": true,
	// package managers
	"pip": true, "npm": true, "gem": true, "cargo": true,
}

// IsBlockedCommand reports whether word names a denied command. Paths and
// Windows extensions are stripped and case is ignored; "mkfs.ext4" counts as
// mkfs.
func IsBlockedCommand(word string) bool {
	name := strings.ToLower(filepath.Base(strings.ReplaceAll(word, `\`, "/")))
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".exe"), ".cmd")
	if blockedCommands[name] {
		return true
	}
	if dot := strings.IndexByte(name, '.'); dot > 0 && blockedCommands[name[:dot]] {
		return true
	}
	return false
}

// spawnFunc builds the process for a command; tests replace it to observe
// whether anything would be spawned.
type spawnFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// ShellHandler runs execute_shell. It is stateless between calls.
type ShellHandler struct {
	checker        syntax.Checker
	defaultTimeout time.Duration
	spawn          spawnFunc
}

// NewShellHandler creates the handler. A nil checker skips the tree-sitter
// pass; quoting is always checked by the tokenizer.
func NewShellHandler(checker syntax.Checker, defaultTimeout time.Duration) *ShellHandler {
	if defaultTimeout <= 0 {
		defaultTimeout = consts.DefaultShellTimeout
	}
	return &ShellHandler{
		checker:        checker,
		defaultTimeout: defaultTimeout,
		spawn:          exec.CommandContext,
	}
}

// shellPlan is a vetted command ready to spawn.
type shellPlan struct {
	name string
	args []string
}

// prepare tokenizes and vets command. Commands with operators or
// substitutions go through the system shell; anything else is exec'd
// directly from its words.
func (h *ShellHandler) prepare(command string) (*shellPlan, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("command is required")
	}

	tokens, err := tokenizeShell(command)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("command is required")
	}
	if err := checkDenied(command, tokens, 0); err != nil {
		return nil, err
	}

	needsShell := hasOperator(tokens) || len(substitutions(command)) > 0
	if !needsShell {
		args := make([]string, 0, len(tokens)-1)
		for _, tok := range tokens[1:] {
			args = append(args, tok.text)
		}
		return &shellPlan{name: tokens[0].text, args: args}, nil
	}

	if h.checker != nil && h.checker.SupportsLanguage("bash") {
		res, err := h.checker.Validate(command, "bash")
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, fmt.Errorf("%w: %s", ErrSyntax, res.Summary())
		}
	}
	if err := checkParsedCommands(h.checker, command); err != nil {
		return nil, err
	}
	if runtime.GOOS == "windows" {
		return &shellPlan{name: "cmd", args: []string{"/C", command}}, nil
	}
	return &shellPlan{name: "sh", args: []string{"-c", command}}, nil
}

// checkDenied vets every segment's command word, recursing into command
// substitutions.
func checkDenied(command string, tokens []shellToken, depth int) error {
	if tokens[0].op {
		return fmt.Errorf("%w: command starts with operator %q", ErrSyntax, tokens[0].text)
	}
	for _, word := range commandWords(tokens) {
		if IsBlockedCommand(word) {
			return blockedError(word)
		}
	}
	if depth > 4 {
		return nil
	}
	for _, sub := range substitutions(command) {
		inner, err := tokenizeShell(sub)
		if err != nil {
			return err
		}
		if len(inner) == 0 {
			continue
		}
		if err := checkDenied(sub, inner, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkParsedCommands applies the deny-list to every command name in the
// bash parse tree when the checker can list them.
func checkParsedCommands(checker syntax.Checker, script string) error {
	lister, ok := checker.(syntax.CommandLister)
	if !ok || !checker.SupportsLanguage("bash") {
		return nil
	}
	names, err := lister.CommandNames(script)
	if err != nil {
		return err
	}
	for _, name := range names {
		if IsBlockedCommand(name) {
			return blockedError(name)
		}
	}
	return nil
}

func blockedError(word string) error {
	return fmt.Errorf("%w: Command '%s' is blocked for security reasons", ErrBlockedCommand, strings.ToLower(word))
}

func (h *ShellHandler) Handle(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	if ws == nil || !ws.AllowShellCommands {
		return failResult(ErrShellDisabled, "Shell commands are not allowed in this workspace")
	}

	command := GetStringParam(params, "command", "")
	plan, err := h.prepare(command)
	if err != nil {
		if errors.Is(err, ErrBlockedCommand) {
			msg := strings.TrimPrefix(err.Error(), ErrBlockedCommand.Error()+": ")
			logger.Warn("shell: %s", msg)
			return failResult(ErrBlockedCommand, "%s", msg)
		}
		return errResult(err)
	}

	timeout := h.timeout(params)
	cmd := h.spawn(ctx, plan.name, plan.args...)
	cmd.Dir = workDir(ws)

	logger.Info("shell: running %q in %s (timeout %s)", command, cmd.Dir, timeout)
	return runCommand(ctx, cmd, timeout)
}

func (h *ShellHandler) timeout(params map[string]interface{}) time.Duration {
	secs := GetIntParam(params, "timeout", 0)
	if secs <= 0 {
		return h.defaultTimeout
	}
	return min(time.Duration(secs)*time.Second, consts.MaxShellTimeout)
}

func workDir(ws *task.WorkspaceContext) string {
	if ws == nil {
		return ""
	}
	if ws.Cwd != "" {
		return ws.Cwd
	}
	return ws.WorkspaceRoot
}
