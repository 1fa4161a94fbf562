// Package executor runs batches of steps under a concurrency bound. Every
// step is fault-isolated: panics, errors and timeouts are captured as data and
// never abort sibling steps or the batch.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

// TimeoutMessage is the error text of a step that exceeded its timeout.
const TimeoutMessage = "Execution timeout"

// StepRunner executes a single step. A returned error means the step raised
// rather than completing with a failed result, and is classified by keyword.
type StepRunner interface {
	RunStep(ctx context.Context, step task.Step) (task.StepResult, error)
}

// RunnerFunc adapts a function to StepRunner.
type RunnerFunc func(ctx context.Context, step task.Step) (task.StepResult, error)

func (f RunnerFunc) RunStep(ctx context.Context, step task.Step) (task.StepResult, error) {
	return f(ctx, step)
}

// Option configures an Executor.
type Option func(*Executor)

// WithStepTimeout bounds each step. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stepTimeout = d }
}

// WithStepCallback registers fn to be called once per settled step. It may be
// called concurrently from several steps.
func WithStepCallback(fn func(task.Step, task.StepResult)) Option {
	return func(e *Executor) { e.onStep = fn }
}

// Executor fans a batch out to a StepRunner.
type Executor struct {
	runner      StepRunner
	stepTimeout time.Duration
	onStep      func(task.Step, task.StepResult)
}

// New creates an executor dispatching steps to runner.
func New(runner StepRunner, opts ...Option) *Executor {
	e := &Executor{
		runner:      runner,
		stepTimeout: consts.DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outcome is the settled state of one submitted step.
type outcome struct {
	result task.StepResult
	// raised is set when the step failed by raising rather than by
	// returning a failed result; its text drives classification.
	raised error
}

// ExecuteBatch runs steps with at most ws.MaxParallelTasks (default 4) in
// flight. Waiting steps are admitted in submission order. It returns once
// every step has settled; the result always accounts for every step.
func (e *Executor) ExecuteBatch(ctx context.Context, steps []task.Step, batchID string, ws *task.WorkspaceContext) *task.BatchResult {
	start := time.Now()

	limit := consts.DefaultMaxParallel
	if ws != nil && ws.MaxParallelTasks > 0 {
		limit = ws.MaxParallelTasks
	}

	ctx, span := startBatchSpan(ctx, batchID, len(steps), limit)

	outcomes := make([]outcome, len(steps))
	sem := semaphore.NewWeighted(int64(limit))
	var g errgroup.Group

	for i, step := range steps {
		// Acquire in the submitting goroutine so admission follows
		// submission order.
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(steps); j++ {
				outcomes[j] = e.abandoned(steps[j], err)
			}
			logger.Warn("executor: batch %s cancelled with %d steps not started: %v", batchID, len(steps)-i, err)
			break
		}

		g.Go(func() (err error) {
			defer sem.Release(1)
			defer func() {
				// Last line of defence: anything escaping runIsolated is
				// recorded for this step instead of unwinding the join.
				if r := recover(); r != nil {
					err = fmt.Errorf("step %s escaped isolation: %v", step.StepID, r)
					outcomes[i] = outcome{
						result: failedResult(step.StepID, err.Error(), 0),
						raised: err,
					}
				}
			}()
			outcomes[i] = e.runIsolated(ctx, step)
			if e.onStep != nil {
				e.onStep(step, outcomes[i].result)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("executor: batch %s fan-in error: %v", batchID, err)
	}

	result := aggregate(batchID, outcomes)
	result.Duration = time.Since(start)

	endBatchSpan(span, result)
	logger.Info("executor: batch %s finished: %d succeeded, %d failed in %s",
		batchID, len(result.Successful), len(result.Failed), result.Duration)

	return result
}

// runIsolated executes one step under its timeout, converting panics and
// raised errors into a failed result.
func (e *Executor) runIsolated(ctx context.Context, step task.Step) outcome {
	ctx, span := startStepSpan(ctx, step)
	start := time.Now()

	stepCtx := ctx
	cancel := func() {}
	if e.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in step %s: %v", step.StepID, r)
				done <- outcome{result: failedResult(step.StepID, err.Error(), time.Since(start)), raised: err}
			}
		}()

		res, err := e.runner.RunStep(stepCtx, step)
		if err != nil {
			done <- outcome{result: failedResult(step.StepID, err.Error(), time.Since(start)), raised: err}
			return
		}
		res.StepID = step.StepID
		if res.Status == "" {
			res.Status = task.StatusSuccess
		}
		if res.ExecutionTime == 0 {
			res.ExecutionTime = time.Since(start)
		}
		done <- outcome{result: res}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-stepCtx.Done():
		if ctx.Err() == nil {
			logger.Warn("executor: step %s (%s) timed out after %s", step.StepID, step.Tool, e.stepTimeout)
			// a timeout is a returned failure, not a raised one
			out = outcome{result: failedResult(step.StepID, TimeoutMessage, time.Since(start))}
		} else {
			out = outcome{result: failedResult(step.StepID, ctx.Err().Error(), time.Since(start)), raised: ctx.Err()}
		}
	}

	if out.raised != nil {
		logger.Warn("executor: step %s (%s) failed: %v", step.StepID, step.Tool, out.raised)
	}
	endStepSpan(span, out.result)
	return out
}

func (e *Executor) abandoned(step task.Step, err error) outcome {
	res := failedResult(step.StepID, err.Error(), 0)
	if e.onStep != nil {
		e.onStep(step, res)
	}
	return outcome{result: res, raised: err}
}

func failedResult(stepID, message string, elapsed time.Duration) task.StepResult {
	return task.StepResult{
		StepID:        stepID,
		Status:        task.StatusFailed,
		Error:         message,
		ExecutionTime: elapsed,
	}
}

// aggregate sorts outcomes into successes and failures, keeping submission
// order. Raised failures are classified by keyword; failed results that were
// returned normally are reported as recoverable execution errors.
func aggregate(batchID string, outcomes []outcome) *task.BatchResult {
	result := &task.BatchResult{
		BatchID:    batchID,
		Successful: make([]task.StepResult, 0, len(outcomes)),
		Failed:     make([]task.ErrorMetadata, 0),
	}
	for _, o := range outcomes {
		if o.result.Succeeded() {
			result.Successful = append(result.Successful, o.result)
			continue
		}
		if o.raised != nil {
			result.Failed = append(result.Failed, ClassifyError(o.result.StepID, o.result.Error))
			continue
		}
		result.Failed = append(result.Failed, task.ErrorMetadata{
			StepID:      o.result.StepID,
			Error:       Truncate(o.result.Error, consts.MaxErrorChars),
			ErrorType:   task.ErrorExecution,
			Recoverable: true,
		})
	}
	return result
}
