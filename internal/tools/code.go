package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/syntax"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

type interpreter struct {
	ext     string
	command []string // the script path is appended
}

var interpreters = map[string]interpreter{
	"python":     {ext: ".py", command: []string{"python3"}},
	"javascript": {ext: ".js", command: []string{"node"}},
	"bash":       {ext: ".sh", command: []string{"bash"}},
	"go":         {ext: ".go", command: []string{"go", "run"}},
}

// CodeHandler runs execute_code: the snippet is syntax-checked, written to a
// temporary file and run with the language's interpreter.
type CodeHandler struct {
	checker        syntax.Checker
	defaultTimeout time.Duration
	shell          *ShellHandler
}

// NewCodeHandler creates the handler. shell supplies the spawn hook and the
// command deny-list applied to bash snippets.
func NewCodeHandler(checker syntax.Checker, defaultTimeout time.Duration, shell *ShellHandler) *CodeHandler {
	if defaultTimeout <= 0 {
		defaultTimeout = consts.DefaultCodeTimeout
	}
	return &CodeHandler{checker: checker, defaultTimeout: defaultTimeout, shell: shell}
}

func (h *CodeHandler) Handle(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	if ws == nil || !ws.AllowShellCommands {
		return failResult(ErrShellDisabled, "Code execution is not allowed in this workspace")
	}

	code := GetStringParam(params, "code", "")
	if strings.TrimSpace(code) == "" {
		return Result{Error: "code is required"}
	}
	lang := syntax.NormalizeLanguage(GetStringParam(params, "language", "python"))
	interp, ok := interpreters[lang]
	if !ok {
		return Result{Error: fmt.Sprintf("Unsupported language: %s", lang)}
	}

	if h.checker != nil && h.checker.SupportsLanguage(lang) {
		res, err := h.checker.Validate(code, lang)
		if err != nil {
			return errResult(err)
		}
		if !res.Valid {
			return failResult(ErrSyntax, "syntax error: %s", res.Summary())
		}
	}
	if lang == "bash" {
		err := checkScript(code)
		if err == nil {
			err = checkParsedCommands(h.checker, code)
		}
		if err != nil {
			logger.Warn("code: %v", err)
			return errResult(err)
		}
	}

	dir, err := os.MkdirTemp("", "ajengine-code-*")
	if err != nil {
		return failResult(nil, "failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "main"+interp.ext)
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return failResult(nil, "failed to write script: %v", err)
	}

	timeout := h.defaultTimeout
	if secs := GetIntParam(params, "timeout", 0); secs > 0 {
		timeout = min(time.Duration(secs)*time.Second, consts.MaxShellTimeout)
	}

	args := append(append([]string(nil), interp.command[1:]...), script)
	cmd := h.shell.spawn(ctx, interp.command[0], args...)
	cmd.Dir = workDir(ws)

	logger.Info("code: running %s snippet (%d bytes, timeout %s)", lang, len(code), timeout)
	return runCommand(ctx, cmd, timeout)
}

// checkScript applies the shell deny-list to a whole bash script. A script
// the tokenizer cannot split is refused.
func checkScript(code string) error {
	tokens, err := tokenizeShell(code)
	if err != nil {
		return err
	}
	// blank lines and comments leave leading newline operators
	for len(tokens) > 0 && tokens[0].text == "\n" && tokens[0].op {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return nil
	}
	return checkDenied(code, tokens, 0)
}
