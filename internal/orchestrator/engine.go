// Package orchestrator drives one task end to end: it classifies the
// request, asks the model for steps round by round, runs them through the
// executor or the dispatcher, and streams a final answer that the guard
// checks against captured output before it is stored in memory.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/executor"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/guard"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/llm"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/memory"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/planning"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/thinking"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/tools"
)

// ErrEmptyTask is returned by Run for blank input.
var ErrEmptyTask = errors.New("task is empty")

const recallLimit = 3

// Deps wires an Engine. Memory, OnStep and OnThinking are optional.
type Deps struct {
	LLM         llm.Client
	Dispatcher  *tools.Dispatcher
	State       *session.State
	Memory      memory.Store
	Workspace   *task.WorkspaceContext
	MaxSteps    int
	StepTimeout time.Duration
	// OnStep is called once per settled step, possibly concurrently.
	OnStep func(task.Step, task.StepResult)
	// OnThinking receives reasoning text as the answer streams.
	OnThinking func(string)
}

// Engine runs tasks against one session. Run calls must not overlap.
type Engine struct {
	llm        llm.Client
	dispatcher *tools.Dispatcher
	state      *session.State
	memory     memory.Store
	ws         *task.WorkspaceContext
	exec       *executor.Executor
	maxSteps   int
	onStep     func(task.Step, task.StepResult)
	onThinking func(string)

	seq int
}

// New creates an engine. LLM, Dispatcher, State and Workspace are required.
func New(d Deps) (*Engine, error) {
	switch {
	case d.LLM == nil:
		return nil, errors.New("orchestrator: llm client is required")
	case d.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	case d.State == nil:
		return nil, errors.New("orchestrator: session state is required")
	case d.Workspace == nil:
		return nil, errors.New("orchestrator: workspace is required")
	}

	e := &Engine{
		llm:        d.LLM,
		dispatcher: d.Dispatcher,
		state:      d.State,
		memory:     d.Memory,
		ws:         d.Workspace,
		maxSteps:   d.MaxSteps,
		onStep:     d.OnStep,
		onThinking: d.OnThinking,
	}
	if e.maxSteps <= 0 {
		e.maxSteps = consts.DefaultMaxSteps
	}

	timeout := d.StepTimeout
	if timeout <= 0 {
		timeout = consts.DefaultStepTimeout
	}
	e.exec = executor.New(d.Dispatcher.Runner(d.Workspace),
		executor.WithStepTimeout(timeout),
		executor.WithStepCallback(func(step task.Step, res task.StepResult) {
			e.state.RecordStep(step, res)
			e.notify(step, res)
		}),
	)
	return e, nil
}

// Run carries out taskText. The returned Result is never nil; err is set
// only when the answer could not be produced.
func (e *Engine) Run(ctx context.Context, taskText string) (*Result, error) {
	taskText = strings.TrimSpace(taskText)
	res := &Result{Task: taskText}
	if taskText == "" {
		res.Termination, res.Err = Failed, ErrEmptyTask
		return res, ErrEmptyTask
	}

	e.state.ClearForNewTask()
	e.state.SetPlan(planning.NewTaskPlan(taskText))

	res.Intent = e.classify(ctx, taskText)
	logger.Info("orchestrator: intent=%s confidence=%.2f complexity=%d",
		res.Intent.Label, res.Intent.Confidence, planning.EstimateTaskComplexity(taskText))

	if res.Intent.Label == IntentConversation {
		res.Termination = Skipped
	} else {
		var recalled []memory.Match
		if e.memory != nil {
			recalled = e.memory.Search(ctx, taskText, recallLimit)
		}
		e.runRounds(ctx, taskText, recalled, res)
	}

	if err := ctx.Err(); err != nil {
		res.Termination, res.Err = Failed, err
		return res, err
	}

	if err := e.answer(ctx, res); err != nil {
		res.Err = err
		return res, err
	}

	res.Warning = guard.Validate(res.Answer, e.state, nil)
	e.remember(ctx, res)
	return res, nil
}

// classify falls back to a plain task when the model reply is unusable.
func (e *Engine) classify(ctx context.Context, taskText string) Intent {
	resp, err := e.llm.CompleteWithRequest(ctx, &llm.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		Messages:     []*llm.Message{{Role: "user", Content: taskText}},
		MaxTokens:    64,
		JSON:         true,
	})
	if err != nil {
		logger.Warn("orchestrator: intent classification failed: %v", err)
		return Intent{Label: IntentTask}
	}
	in, err := parseIntent(resp.Content)
	if err != nil {
		logger.Warn("orchestrator: unreadable intent %q: %v", executor.Truncate(resp.Content, consts.MaxErrorChars), err)
		return Intent{Label: IntentTask}
	}
	return in
}

func (e *Engine) runRounds(ctx context.Context, taskText string, recalled []memory.Match, res *Result) {
	system := planSystemPrompt()
	for {
		if res.StepsRun >= e.maxSteps {
			res.Termination = BudgetExhausted
			res.Reason = fmt.Sprintf("step budget of %d used", e.maxSteps)
			return
		}
		if err := ctx.Err(); err != nil {
			res.Termination, res.Reason = Failed, err.Error()
			return
		}

		resp, err := e.llm.CompleteWithRequest(ctx, &llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     []*llm.Message{{Role: "user", Content: planPrompt(taskText, e.state.FormatForPrompt(), recalled)}},
			JSON:         true,
		})
		res.Rounds++
		if err != nil {
			res.Termination, res.Reason = Failed, "planning failed: "+err.Error()
			logger.Warn("orchestrator: %s", res.Reason)
			return
		}
		steps, done, err := parsePlan(resp.Content)
		if err != nil {
			res.Termination, res.Reason = Failed, "unreadable plan: "+err.Error()
			logger.Warn("orchestrator: %s", res.Reason)
			return
		}
		if len(steps) == 0 {
			res.Termination = Done
			return
		}

		if remaining := e.maxSteps - res.StepsRun; len(steps) > remaining {
			logger.Info("orchestrator: trimming %d planned steps to remaining budget %d", len(steps), remaining)
			steps = steps[:remaining]
		}
		outcome := e.executeRound(ctx, steps, res)
		res.StepsRun += len(steps)

		if outcome != Continue {
			res.Termination = outcome
			return
		}
		if done {
			res.Termination = Done
			return
		}
	}
}

// executeRound runs one planned round. Batch steps are expanded first;
// more than one resulting step goes through the executor when parallel
// execution is enabled. A complete step is run last and ends the loop.
func (e *Engine) executeRound(ctx context.Context, planned []task.Step, res *Result) Termination {
	plan := e.state.Plan()
	describe := make(map[string]string)

	var queue []task.Step
	var finish *task.Step
	for _, step := range planned {
		e.seq++
		step.StepID = fmt.Sprintf("step_%d", e.seq)
		desc := describeStep(step)
		if plan != nil {
			plan.AddItem(desc, step.Tool)
		}

		if tools.ParseKind(step.Tool) == tools.KindComplete {
			s := step
			finish = &s
			describe[s.StepID] = desc
			continue
		}

		expanded, err := planning.ExpandBatch(step, e.ws)
		if err != nil {
			failed := task.StepResult{StepID: step.StepID, Status: task.StatusFailed, Error: err.Error()}
			e.state.RecordStep(step, failed)
			e.notify(step, failed)
			res.Failures = append(res.Failures, executor.ClassifyError(step.StepID, err.Error()))
			e.mark(desc, false)
			continue
		}
		if len(expanded) == 0 {
			e.state.AddFact("batch_empty", fmt.Sprintf("%v matched no files", step.Params["pattern"]))
			e.mark(desc, true)
			continue
		}
		for _, s := range expanded {
			describe[s.StepID] = desc
		}
		queue = append(queue, expanded...)
	}

	failedDesc := make(map[string]bool)
	halted := false

	if e.ws.ParallelEnabled && len(queue) > 1 {
		batch := e.exec.ExecuteBatch(ctx, queue, batchIDOf(queue), e.ws)
		res.Batches = append(res.Batches, batch)
		for _, f := range batch.Failed {
			res.Failures = append(res.Failures, f)
			failedDesc[describe[f.StepID]] = true
			if f.ErrorType.Halts() && !halted {
				halted = true
				res.Reason = fmt.Sprintf("%s: %s", f.ErrorType, f.Error)
			}
		}
	} else {
		for _, step := range queue {
			out, meta := e.dispatcher.RunStep(ctx, step, e.ws)
			e.notify(step, out)
			if out.Succeeded() {
				continue
			}
			failedDesc[describe[step.StepID]] = true
			if meta == nil {
				meta = &task.ErrorMetadata{
					StepID:      step.StepID,
					Error:       executor.Truncate(out.Error, consts.MaxErrorChars),
					ErrorType:   task.ErrorExecution,
					Recoverable: true,
				}
			}
			res.Failures = append(res.Failures, *meta)
			if meta.ErrorType.Halts() {
				halted = true
				res.Reason = fmt.Sprintf("%s: %s", meta.ErrorType, meta.Error)
				break
			}
		}
	}

	for _, step := range queue {
		desc := describe[step.StepID]
		e.mark(desc, !failedDesc[desc])
	}

	if halted {
		logger.Warn("orchestrator: halting plan: %s", res.Reason)
		return Halted
	}
	if finish != nil {
		out, _ := e.dispatcher.RunStep(ctx, *finish, e.ws)
		e.notify(*finish, out)
		e.mark(describe[finish.StepID], out.Succeeded())
		if !out.Succeeded() {
			res.Reason = out.Error
		}
		return Done
	}
	return Continue
}

func (e *Engine) answer(ctx context.Context, res *Result) error {
	var outputs []string
	for _, o := range e.state.CommandOutputs() {
		outputs = append(outputs, fmt.Sprintf("[%s %s]\n%s", o.Tool, o.Target, o.Output))
	}

	parser := thinking.NewParser()
	var raw strings.Builder
	err := e.llm.Stream(ctx, &llm.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		Messages:     []*llm.Message{{Role: "user", Content: answerPrompt(res, e.state.FormatForPrompt(), outputs)}},
	}, func(chunk string) error {
		raw.WriteString(chunk)
		if s := parser.Feed(chunk); s != "" && e.onThinking != nil {
			e.onThinking(s)
		}
		return nil
	})
	if s := parser.Flush(); s != "" && e.onThinking != nil {
		e.onThinking(s)
	}
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}

	res.Thinking = strings.TrimSpace(parser.Content())
	res.Answer = strings.TrimSpace(thinking.StripThinking(raw.String()))
	return nil
}

func (e *Engine) remember(ctx context.Context, res *Result) {
	if e.memory == nil {
		return
	}
	trace := memory.Trace{
		Task:    res.Task,
		Intent:  res.Intent.Label,
		Answer:  res.Answer,
		Success: res.Success() && res.Warning == nil,
	}
	for _, st := range e.state.Steps() {
		trace.Steps = append(trace.Steps, memory.TraceStep{
			Tool:    st.Tool,
			Target:  session.StepTarget(st.Params),
			Success: st.Success,
			Summary: st.OutputSummary,
		})
	}
	if !e.memory.Store(ctx, trace) {
		logger.Warn("orchestrator: trace for %q not stored", executor.Truncate(res.Task, 80))
	}
}

func (e *Engine) mark(desc string, ok bool) {
	plan := e.state.Plan()
	if plan == nil || desc == "" {
		return
	}
	status := planning.ItemDone
	if !ok {
		status = planning.ItemFailed
	}
	plan.Mark(desc, status)
}

func (e *Engine) notify(step task.Step, res task.StepResult) {
	if e.onStep != nil {
		e.onStep(step, res)
	}
}

func describeStep(step task.Step) string {
	if step.Reasoning != "" {
		return step.Reasoning
	}
	if t := session.StepTarget(step.Params); t != "" {
		return step.Tool + " " + t
	}
	return step.Tool
}

// batchIDOf reuses the expansion's batch id when every step shares one.
func batchIDOf(steps []task.Step) string {
	id := steps[0].BatchID
	for _, s := range steps[1:] {
		if s.BatchID != id {
			id = ""
			break
		}
	}
	if id == "" {
		return planning.NewBatchID()
	}
	return id
}
