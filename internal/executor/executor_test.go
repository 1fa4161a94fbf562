package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

func makeSteps(n int) []task.Step {
	steps := make([]task.Step, n)
	for i := range steps {
		steps[i] = task.Step{StepID: fmt.Sprintf("s%d", i), Tool: "none"}
	}
	return steps
}

func succeed(step task.Step) task.StepResult {
	return task.StepResult{StepID: step.StepID, Status: task.StatusSuccess, Output: "ok " + step.StepID}
}

func TestExecuteBatchRespectsConcurrencyBound(t *testing.T) {
	for _, k := range []int{1, 2, 3, 8} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var inFlight, peak int32
			runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return succeed(step), nil
			})

			exec := New(runner)
			result := exec.ExecuteBatch(context.Background(), makeSteps(20), "b1", &task.WorkspaceContext{MaxParallelTasks: k})

			assert.LessOrEqual(t, int(atomic.LoadInt32(&peak)), k)
			assert.Len(t, result.Successful, 20)
			assert.Empty(t, result.Failed)
			assert.Equal(t, "b1", result.BatchID)
			assert.Greater(t, result.Duration, time.Duration(0))
		})
	}
}

func TestExecuteBatchDefaultsToFourWithoutContext(t *testing.T) {
	var inFlight, peak int32
	var once sync.Once
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		if cur == 4 {
			once.Do(func() { close(release) })
		}
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		return succeed(step), nil
	})

	result := New(runner).ExecuteBatch(context.Background(), makeSteps(8), "b", nil)
	assert.Equal(t, int32(4), atomic.LoadInt32(&peak))
	assert.Len(t, result.Successful, 8)
}

func TestExecuteBatchAdmitsInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		mu.Lock()
		order = append(order, step.StepID)
		mu.Unlock()
		return succeed(step), nil
	})

	steps := makeSteps(10)
	result := New(runner).ExecuteBatch(context.Background(), steps, "fifo", &task.WorkspaceContext{MaxParallelTasks: 1})

	want := make([]string, len(steps))
	for i, s := range steps {
		want[i] = s.StepID
	}
	assert.Equal(t, want, order)
	for i, r := range result.Successful {
		assert.Equal(t, steps[i].StepID, r.StepID)
	}
}

func TestExecuteBatchIsolatesFailures(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		switch step.StepID {
		case "panics":
			panic("boom")
		case "perm":
			return task.StepResult{}, errors.New("Permission denied for path /root")
		case "sandbox":
			return task.StepResult{}, errors.New("sandbox refused write")
		case "oom":
			return task.StepResult{}, errors.New("out of memory")
		case "soft":
			return task.StepResult{StepID: step.StepID, Status: task.StatusFailed, Error: "permission denied"}, nil
		}
		return succeed(step), nil
	})

	steps := []task.Step{
		{StepID: "ok1", Tool: "none"},
		{StepID: "panics", Tool: "none"},
		{StepID: "perm", Tool: "none"},
		{StepID: "sandbox", Tool: "none"},
		{StepID: "oom", Tool: "none"},
		{StepID: "soft", Tool: "none"},
		{StepID: "ok2", Tool: "none"},
	}
	result := New(runner).ExecuteBatch(context.Background(), steps, "mixed", &task.WorkspaceContext{MaxParallelTasks: 3})

	require.Equal(t, len(steps), result.Total())
	require.Len(t, result.Successful, 2)
	assert.Equal(t, "ok1", result.Successful[0].StepID)
	assert.Equal(t, "ok2", result.Successful[1].StepID)

	byID := map[string]task.ErrorMetadata{}
	for _, f := range result.Failed {
		byID[f.StepID] = f
	}
	assert.Equal(t, task.ErrorExecution, byID["panics"].ErrorType)
	assert.Contains(t, byID["panics"].Error, "boom")
	assert.Equal(t, task.ErrorPermissionDenied, byID["perm"].ErrorType)
	assert.False(t, byID["perm"].Recoverable)
	assert.Equal(t, task.ErrorSandboxViolation, byID["sandbox"].ErrorType)
	assert.Equal(t, task.ErrorResourceLimit, byID["oom"].ErrorType)
	assert.True(t, byID["oom"].Recoverable)
	// A failed result returned normally is an execution error regardless of its text.
	assert.Equal(t, task.ErrorExecution, byID["soft"].ErrorType)
	assert.True(t, byID["soft"].Recoverable)

	assert.True(t, result.ShouldHalt())
}

func TestExecuteBatchTimesOutSlowSteps(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		if step.StepID == "slow" {
			<-ctx.Done()
			return task.StepResult{}, ctx.Err()
		}
		return succeed(step), nil
	})

	exec := New(runner, WithStepTimeout(30*time.Millisecond))
	steps := []task.Step{{StepID: "slow", Tool: "none"}, {StepID: "fast", Tool: "none"}}
	result := exec.ExecuteBatch(context.Background(), steps, "t", &task.WorkspaceContext{MaxParallelTasks: 2})

	require.Len(t, result.Successful, 1)
	assert.Equal(t, "fast", result.Successful[0].StepID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "slow", result.Failed[0].StepID)
	assert.Equal(t, TimeoutMessage, result.Failed[0].Error)
	assert.Equal(t, task.ErrorExecution, result.Failed[0].ErrorType)
	assert.True(t, result.Failed[0].Recoverable)

	// Let the abandoned runner goroutine observe cancellation before goleak runs.
	time.Sleep(10 * time.Millisecond)
}

func TestExecuteBatchCancelledContextAccountsForEveryStep(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		if err := ctx.Err(); err != nil {
			return task.StepResult{}, err
		}
		return succeed(step), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	steps := makeSteps(5)
	result := New(runner).ExecuteBatch(ctx, steps, "c", &task.WorkspaceContext{MaxParallelTasks: 2})
	assert.Equal(t, len(steps), result.Total())
	assert.Empty(t, result.Successful)
	assert.True(t, result.AllFailed())
}

func TestExecuteBatchInvokesCallbackPerStep(t *testing.T) {
	var calls int32
	exec := New(
		RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) { return succeed(step), nil }),
		WithStepCallback(func(step task.Step, r task.StepResult) {
			assert.Equal(t, step.StepID, r.StepID)
			atomic.AddInt32(&calls, 1)
		}),
	)
	exec.ExecuteBatch(context.Background(), makeSteps(7), "cb", nil)
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
}

func TestExecuteBatchForcesStepIdentity(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		return task.StepResult{StepID: "wrong", Output: "x"}, nil
	})
	result := New(runner).ExecuteBatch(context.Background(), makeSteps(2), "id", nil)
	require.Len(t, result.Successful, 2)
	assert.Equal(t, "s0", result.Successful[0].StepID)
	assert.Equal(t, "s1", result.Successful[1].StepID)
}

func TestExecuteBatchEmpty(t *testing.T) {
	result := New(RunnerFunc(func(ctx context.Context, step task.Step) (task.StepResult, error) {
		t.Fatal("runner should not be called")
		return task.StepResult{}, nil
	})).ExecuteBatch(context.Background(), nil, "empty", nil)
	assert.Equal(t, 0, result.Total())
	assert.False(t, result.AllFailed())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg         string
		want        task.ErrorType
		recoverable bool
	}{
		{"Connection timeout occurred", task.ErrorTimeout, true},
		{"Permission denied for path /root", task.ErrorPermissionDenied, false},
		{"SANDBOX violation", task.ErrorSandboxViolation, false},
		{"resource exhausted", task.ErrorResourceLimit, true},
		{"cannot allocate memory", task.ErrorResourceLimit, true},
		{"exit status 2", task.ErrorExecution, true},
		// Priority order: timeout is checked before permission.
		{"permission check timeout", task.ErrorTimeout, true},
	}
	for _, tt := range tests {
		meta := ClassifyError("s", tt.msg)
		assert.Equal(t, tt.want, meta.ErrorType, tt.msg)
		assert.Equal(t, tt.recoverable, meta.Recoverable, tt.msg)
		assert.Equal(t, "s", meta.StepID)
	}
}

func TestClassifyErrorTruncates(t *testing.T) {
	meta := ClassifyError("s", strings.Repeat("x", 500))
	assert.LessOrEqual(t, len(meta.Error), 200)

	multi := strings.Repeat("é", 150) // 300 bytes
	assert.LessOrEqual(t, len(Truncate(multi, 199)), 199)
	assert.True(t, strings.HasPrefix(multi, Truncate(multi, 199)))
}
