package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/fs"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

const (
	defaultScanDepth = 3
	defaultScanLimit = 500
)

// Directories scan_workspace never descends into.
var ignoredDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, "__pycache__": true,
	".venv": true, "venv": true, ".idea": true, ".vscode": true,
	"dist": true, "build": true, "target": true,
}

var errNoFS = errors.New("file system not configured")

// fileHandlers implements the workspace file tools. All paths resolve
// through fs, which rejects anything outside the workspace root.
type fileHandlers struct {
	fs    fs.FileSystem
	state *session.State
}

// path resolves p against the workspace cwd when it is relative.
func (h *fileHandlers) path(params map[string]interface{}, ws *task.WorkspaceContext, fallback string) (string, error) {
	if h.fs == nil {
		return "", errNoFS
	}
	p := strings.TrimSpace(GetStringParam(params, "path", fallback))
	if p == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(p) && ws != nil && ws.Cwd != "" {
		cwd := ws.Cwd
		if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
			cwd = resolved
		}
		p = filepath.Join(cwd, p)
	}
	abs, err := h.fs.Resolve(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func (h *fileHandlers) rel(abs string) string {
	rel, err := filepath.Rel(h.fs.Root(), abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (h *fileHandlers) recordFile(abs string) {
	if h.state != nil {
		h.state.AddFile(h.rel(abs))
	}
}

func (h *fileHandlers) recordDir(abs string) {
	if h.state != nil {
		h.state.AddDir(h.rel(abs))
	}
}

func (h *fileHandlers) read(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, "")
	if err != nil {
		return errResult(err)
	}

	from := GetIntParam(params, "start_line", 0)
	to := GetIntParam(params, "end_line", 0)
	if from > 0 || to > 0 {
		if to <= 0 {
			to = int(^uint(0) >> 1)
		}
		if to < max(from, 1) {
			return Result{Error: fmt.Sprintf("invalid line range %d-%d", from, to)}
		}
		lines, err := h.fs.ReadFileLines(ctx, abs, from, to)
		if err != nil {
			return errResult(err)
		}
		h.recordFile(abs)
		return okResult(strings.Join(lines, "\n"))
	}

	data, err := h.fs.ReadFile(ctx, abs)
	if err != nil {
		return errResult(err)
	}
	h.recordFile(abs)
	return okResult(string(data))
}

func (h *fileHandlers) write(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, "")
	if err != nil {
		return errResult(err)
	}
	content := GetStringParam(params, "content", "")
	if err := h.fs.WriteFile(ctx, abs, []byte(content)); err != nil {
		return errResult(err)
	}
	h.recordFile(abs)
	return okResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), h.rel(abs)))
}

func (h *fileHandlers) appendTo(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, "")
	if err != nil {
		return errResult(err)
	}
	content := GetStringParam(params, "content", "")
	if err := h.fs.AppendFile(ctx, abs, []byte(content)); err != nil {
		return errResult(err)
	}
	h.recordFile(abs)
	return okResult(fmt.Sprintf("Appended %d bytes to %s", len(content), h.rel(abs)))
}

// insert places content before the 1-based line; one past the last line
// appends.
func (h *fileHandlers) insert(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, "")
	if err != nil {
		return errResult(err)
	}
	line := GetIntParam(params, "line", 0)
	if line < 1 {
		return Result{Error: "line must be a positive 1-based line number"}
	}
	content := GetStringParam(params, "content", "")

	data, err := h.fs.ReadFile(ctx, abs)
	if err != nil {
		return errResult(err)
	}

	text := string(data)
	trailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}
	if line > len(lines)+1 {
		return Result{Error: fmt.Sprintf("line %d is past the end of %s (%d lines)", line, h.rel(abs), len(lines))}
	}

	inserted := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:line-1]...)
	out = append(out, inserted...)
	out = append(out, lines[line-1:]...)

	result := strings.Join(out, "\n")
	if trailingNewline || text == "" {
		result += "\n"
	}
	if err := h.fs.WriteFile(ctx, abs, []byte(result)); err != nil {
		return errResult(err)
	}
	h.recordFile(abs)
	return okResult(fmt.Sprintf("Inserted %d lines at line %d of %s", len(inserted), line, h.rel(abs)))
}

func (h *fileHandlers) delete(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, "")
	if err != nil {
		return errResult(err)
	}
	if err := h.fs.Delete(ctx, abs); err != nil {
		return errResult(err)
	}
	return okResult("Deleted " + h.rel(abs))
}

func (h *fileHandlers) listDir(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, ".")
	if err != nil {
		return errResult(err)
	}
	entries, err := h.fs.ListDir(ctx, abs)
	if err != nil {
		return errResult(err)
	}
	h.recordDir(abs)

	var sb strings.Builder
	for _, e := range sortedEntries(entries) {
		name := filepath.Base(e.Path)
		if e.IsDir {
			fmt.Fprintf(&sb, "%s/\n", name)
			h.recordDir(filepath.Join(h.fs.Root(), e.Path))
			continue
		}
		fmt.Fprintf(&sb, "%s (%d bytes)\n", name, e.Size)
		h.recordFile(filepath.Join(h.fs.Root(), e.Path))
	}
	if sb.Len() == 0 {
		return okResult("(empty directory)")
	}
	return okResult(strings.TrimSuffix(sb.String(), "\n"))
}

// scan walks the workspace breadth-first down to depth, listing at most
// limit paths and skipping ignored directories.
func (h *fileHandlers) scan(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, ".")
	if err != nil {
		return errResult(err)
	}
	depth := GetIntParam(params, "depth", defaultScanDepth)
	limit := GetIntParam(params, "limit", defaultScanLimit)
	if depth < 1 {
		depth = 1
	}
	if limit < 1 {
		limit = defaultScanLimit
	}

	type level struct {
		dir   string
		depth int
	}
	queue := []level{{dir: abs, depth: 1}}
	var listed []string
	files, dirs := 0, 0
	truncated := false

	h.recordDir(abs)
	for len(queue) > 0 && !truncated {
		if err := ctx.Err(); err != nil {
			return errResult(err)
		}
		cur := queue[0]
		queue = queue[1:]

		entries, err := h.fs.ListDir(ctx, cur.dir)
		if err != nil {
			continue
		}
		for _, e := range sortedEntries(entries) {
			if len(listed) >= limit {
				truncated = true
				break
			}
			full := filepath.Join(h.fs.Root(), e.Path)
			if e.IsDir {
				if ignoredDirs[filepath.Base(e.Path)] {
					continue
				}
				dirs++
				listed = append(listed, filepath.ToSlash(e.Path)+"/")
				h.recordDir(full)
				if cur.depth < depth {
					queue = append(queue, level{dir: full, depth: cur.depth + 1})
				}
				continue
			}
			files++
			listed = append(listed, filepath.ToSlash(e.Path))
			h.recordFile(full)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scanned %s: %d files, %d dirs (depth %d)\n", h.rel(abs), files, dirs, depth)
	sb.WriteString(strings.Join(listed, "\n"))
	if truncated {
		fmt.Fprintf(&sb, "\n... stopped at %d entries", limit)
	}
	return okResult(sb.String())
}

// replace substitutes old with new, count times when count > 0, else
// everywhere.
func (h *fileHandlers) replace(ctx context.Context, params map[string]interface{}, ws *task.WorkspaceContext) Result {
	abs, err := h.path(params, ws, "")
	if err != nil {
		return errResult(err)
	}
	old := GetStringParam(params, "old", "")
	if old == "" {
		return Result{Error: "old text is required"}
	}
	replacement := GetStringParam(params, "new", "")
	count := GetIntParam(params, "count", 0)

	data, err := h.fs.ReadFile(ctx, abs)
	if err != nil {
		return errResult(err)
	}
	text := string(data)
	found := strings.Count(text, old)
	if found == 0 {
		return Result{Error: fmt.Sprintf("text not found in %s", h.rel(abs))}
	}

	n := -1
	replaced := found
	if count > 0 {
		n = count
		replaced = min(count, found)
	}
	if err := h.fs.WriteFile(ctx, abs, []byte(strings.Replace(text, old, replacement, n))); err != nil {
		return errResult(err)
	}
	h.recordFile(abs)
	return okResult(fmt.Sprintf("Replaced %d of %d occurrences in %s", replaced, found, h.rel(abs)))
}

func sortedEntries(entries []*fs.FileInfo) []*fs.FileInfo {
	out := append([]*fs.FileInfo(nil), entries...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Path < out[j].Path
	})
	return out
}
