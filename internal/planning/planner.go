// Package planning decomposes tasks into steps: batch expansion over file
// patterns, complexity estimation and the TaskPlan checklist.
package planning

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

// BatchTool is the pseudo-tool name of a step that expands into many.
const BatchTool = "batch"

// ErrInvalidPattern is returned when a batch step has a missing or malformed pattern.
var ErrInvalidPattern = errors.New("invalid batch pattern")

// skippedDirs are never descended into during batch expansion.
var skippedDirs = map[string]bool{
	".git": true,
}

// NewBatchID returns "batch_" followed by 8 hex characters.
func NewBatchID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "batch_" + id[:8]
}

// BatchCap returns how many steps one expansion may emit.
func BatchCap(ws *task.WorkspaceContext) int {
	if ws == nil || ws.MaxParallelTasks <= 0 {
		return consts.DefaultBatchCap
	}
	return min(ws.MaxParallelTasks*consts.BatchFanoutFactor, consts.MaxBatchSteps)
}

// ExpandBatch turns a batch step into one step per file matching
// params.pattern under the workspace cwd, each addressed to params.operation
// with params {path: match}. A non-batch step is returned unchanged. Extra
// arguments in params.args are copied into every emitted step.
func ExpandBatch(step task.Step, ws *task.WorkspaceContext) ([]task.Step, error) {
	if step.Tool != BatchTool {
		return []task.Step{step}, nil
	}

	pattern := strings.TrimSpace(paramString(step.Params, "pattern"))
	operation := strings.TrimSpace(paramString(step.Params, "operation"))
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", ErrInvalidPattern)
	}
	if operation == "" || operation == BatchTool {
		return nil, fmt.Errorf("%w: operation must name a tool", ErrInvalidPattern)
	}

	root := "."
	if ws != nil && ws.Cwd != "" {
		root = ws.Cwd
	}

	matcher, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	matches, err := findMatches(root, matcher)
	if err != nil {
		return nil, fmt.Errorf("expand batch %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		logger.Info("planner: pattern %q matched no files under %s", pattern, root)
		return nil, nil
	}

	limit := BatchCap(ws)
	if len(matches) > limit {
		logger.Warn("planner: batch %q truncated to %d steps, %d matches dropped", pattern, limit, len(matches)-limit)
		matches = matches[:limit]
	}

	batchID := step.BatchID
	if batchID == "" {
		batchID = NewBatchID()
	}
	extra, _ := step.Params["args"].(map[string]interface{})

	steps := make([]task.Step, 0, len(matches))
	for i, match := range matches {
		params := make(map[string]interface{}, len(extra)+1)
		for k, v := range extra {
			params[k] = v
		}
		params["path"] = match
		steps = append(steps, task.Step{
			StepID:    batchID + "_" + strconv.Itoa(i),
			Tool:      operation,
			Params:    params,
			BatchID:   batchID,
			Reasoning: step.Reasoning,
		})
	}

	logger.Debug("planner: expanded %s into %d %s steps", batchID, len(steps), operation)
	return steps, nil
}

// DetectParallelization always returns false: whether to fan out is decided
// by the reasoning backend, not by local heuristics.
func DetectParallelization(taskText string, ws *task.WorkspaceContext) bool {
	return false
}

// EstimateTaskComplexity is a coarse length-based fallback in [1,10]:
// under 50 chars is 1, under 200 is 2, under 500 is 3, and from 500 on it is
// 4 plus one per further 500 chars.
func EstimateTaskComplexity(taskText string) int {
	n := len(taskText)
	switch {
	case n < 50:
		return 1
	case n < 200:
		return 2
	case n < 500:
		return 3
	}
	return min(4+(n-500)/500, 10)
}

type patternMatcher func(rel string) bool

// compilePattern matches bare patterns ("*.go") against base names at any
// depth, and patterns with a separator or "**" against the path relative to
// the root.
func compilePattern(pattern string) (patternMatcher, error) {
	pattern = filepath.ToSlash(pattern)
	if !strings.Contains(pattern, "/") && !strings.Contains(pattern, "**") {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		return func(rel string) bool {
			ok, _ := filepath.Match(pattern, filepath.Base(rel))
			return ok
		}, nil
	}

	expr := regexp.QuoteMeta(strings.TrimPrefix(pattern, "./"))
	expr = strings.ReplaceAll(expr, `\*\*/`, "(.*/)?")
	expr = strings.ReplaceAll(expr, `\*\*`, ".*")
	expr = strings.ReplaceAll(expr, `\*`, "[^/]*")
	expr = strings.ReplaceAll(expr, `\?`, "[^/]")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return func(rel string) bool {
		return re.MatchString(filepath.ToSlash(rel))
	}, nil
}

// findMatches walks root in lexical order and returns matching regular files.
func findMatches(root string, match patternMatcher) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Debug("planner: skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if match(rel) {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

func paramString(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
