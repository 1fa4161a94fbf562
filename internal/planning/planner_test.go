package planning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
	}
}

func batchStep(pattern, operation string) task.Step {
	return task.Step{
		StepID: "s1",
		Tool:   BatchTool,
		Params: map[string]interface{}{"pattern": pattern, "operation": operation},
	}
}

func TestExpandBatchTruncatesToParallelCap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 150; i++ {
		writeFiles(t, root, fmt.Sprintf("f%03d.txt", i))
	}
	ws := &task.WorkspaceContext{Cwd: root, MaxParallelTasks: 2}

	steps, err := ExpandBatch(batchStep("*.txt", "read_file"), ws)
	require.NoError(t, err)
	require.Len(t, steps, 20)

	batchID := steps[0].BatchID
	assert.Regexp(t, regexp.MustCompile(`^batch_[0-9a-f]{8}$`), batchID)
	for i, step := range steps {
		assert.Equal(t, batchID, step.BatchID)
		assert.Equal(t, fmt.Sprintf("%s_%d", batchID, i), step.StepID)
		assert.Equal(t, "read_file", step.Tool)
		assert.Equal(t, filepath.Join(root, fmt.Sprintf("f%03d.txt", i)), step.Params["path"])
	}
}

func TestExpandBatchKeepsSuppliedBatchID(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.go", "b.go")
	step := batchStep("*.go", "read_file")
	step.BatchID = "batch_deadbeef"

	steps, err := ExpandBatch(step, &task.WorkspaceContext{Cwd: root, MaxParallelTasks: 4})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "batch_deadbeef_0", steps[0].StepID)
	assert.Equal(t, "batch_deadbeef_1", steps[1].StepID)
}

func TestExpandBatchMatchesRecursively(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"main.go",
		"internal/a/a.go",
		"internal/a/a_test.go",
		"internal/b/README.md",
		".git/hooks/pre.go",
	)
	ws := &task.WorkspaceContext{Cwd: root, MaxParallelTasks: 4}

	rel := func(steps []task.Step) []string {
		var out []string
		for _, s := range steps {
			r, _ := filepath.Rel(root, s.Params["path"].(string))
			out = append(out, filepath.ToSlash(r))
		}
		return out
	}

	steps, err := ExpandBatch(batchStep("*.go", "read_file"), ws)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"internal/a/a.go", "internal/a/a_test.go", "main.go"}, rel(steps)); diff != "" {
		t.Errorf("bare pattern mismatch (-want +got):\n%s", diff)
	}

	steps, err = ExpandBatch(batchStep("internal/**/*_test.go", "read_file"), ws)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"internal/a/a_test.go"}, rel(steps)); diff != "" {
		t.Errorf("recursive pattern mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandBatchCopiesArgs(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "x.txt")
	step := batchStep("*.txt", "replace_in_file")
	step.Params["args"] = map[string]interface{}{"old": "x", "new": "y"}

	steps, err := ExpandBatch(step, &task.WorkspaceContext{Cwd: root, MaxParallelTasks: 1})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "x", steps[0].Params["old"])
	assert.Equal(t, "y", steps[0].Params["new"])
}

func TestExpandBatchNoMatchesAndErrors(t *testing.T) {
	root := t.TempDir()
	ws := &task.WorkspaceContext{Cwd: root, MaxParallelTasks: 4}

	steps, err := ExpandBatch(batchStep("*.none", "read_file"), ws)
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = ExpandBatch(batchStep("", "read_file"), ws)
	assert.True(t, errors.Is(err, ErrInvalidPattern))

	_, err = ExpandBatch(batchStep("[", "read_file"), ws)
	assert.True(t, errors.Is(err, ErrInvalidPattern))

	_, err = ExpandBatch(batchStep("*.go", ""), ws)
	assert.True(t, errors.Is(err, ErrInvalidPattern))
}

func TestExpandBatchPassesThroughOrdinarySteps(t *testing.T) {
	step := task.Step{StepID: "s9", Tool: "read_file", Params: map[string]interface{}{"path": "a"}}
	steps, err := ExpandBatch(step, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "s9", steps[0].StepID)
}

func TestBatchCap(t *testing.T) {
	assert.Equal(t, 100, BatchCap(nil))
	assert.Equal(t, 20, BatchCap(&task.WorkspaceContext{MaxParallelTasks: 2}))
	assert.Equal(t, 500, BatchCap(&task.WorkspaceContext{MaxParallelTasks: 64}))
}

func TestDetectParallelizationAlwaysFalse(t *testing.T) {
	assert.False(t, DetectParallelization("read every file in parallel", &task.WorkspaceContext{ParallelEnabled: true}))
	assert.False(t, DetectParallelization("anything", &task.WorkspaceContext{ParallelEnabled: false}))
	assert.False(t, DetectParallelization("anything", nil))
}

func TestEstimateTaskComplexity(t *testing.T) {
	tests := []struct {
		length int
		want   int
	}{
		{0, 1},
		{49, 1},
		{50, 2},
		{199, 2},
		{200, 3},
		{499, 3},
		{500, 4},
		{999, 4},
		{1000, 5},
		{3600, 10},
		{100000, 10},
	}
	for _, tt := range tests {
		got := EstimateTaskComplexity(strings.Repeat("a", tt.length))
		assert.Equal(t, tt.want, got, "length %d", tt.length)
	}
}
