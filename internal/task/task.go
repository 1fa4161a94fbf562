// Package task holds the data model shared by the planner, the executor and
// the dispatcher: steps, their results and the workspace they run in.
package task

import (
	"fmt"
	"time"
)

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
)

// ErrorType classifies a step failure.
type ErrorType string

const (
	ErrorTimeout          ErrorType = "TIMEOUT"
	ErrorPermissionDenied ErrorType = "PERMISSION_DENIED"
	ErrorSandboxViolation ErrorType = "SANDBOX_VIOLATION"
	ErrorResourceLimit    ErrorType = "RESOURCE_LIMIT"
	ErrorExecution        ErrorType = "EXECUTION_ERROR"
)

// Halts reports whether a failure of this type should stop a multi-step plan.
func (t ErrorType) Halts() bool {
	return t == ErrorPermissionDenied || t == ErrorSandboxViolation
}

// Step is one atomic unit of work addressed to a named tool. Steps are
// treated as immutable once handed to the executor.
type Step struct {
	StepID    string                 `json:"step_id"`
	Tool      string                 `json:"tool"`
	Params    map[string]interface{} `json:"params,omitempty"`
	BatchID   string                 `json:"batch_id,omitempty"`
	Reasoning string                 `json:"reasoning,omitempty"`
}

func (s Step) String() string {
	return fmt.Sprintf("%s(%s)", s.Tool, s.StepID)
}

// StepResult is produced by executing exactly one Step.
type StepResult struct {
	StepID        string        `json:"step_id"`
	Status        StepStatus    `json:"status"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Succeeded reports whether the step completed successfully.
func (r StepResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrorMetadata describes a failed step for the batch caller.
type ErrorMetadata struct {
	StepID      string    `json:"step_id"`
	Error       string    `json:"error"`
	ErrorType   ErrorType `json:"error_type"`
	Recoverable bool      `json:"recoverable"`
}

// BatchResult aggregates one executor invocation.
type BatchResult struct {
	BatchID    string          `json:"batch_id"`
	Successful []StepResult    `json:"successful"`
	Failed     []ErrorMetadata `json:"failed"`
	Duration   time.Duration   `json:"duration"`
}

// Total returns the number of steps accounted for in the result.
func (b *BatchResult) Total() int {
	return len(b.Successful) + len(b.Failed)
}

// AllFailed reports whether the batch produced no successful step.
func (b *BatchResult) AllFailed() bool {
	return len(b.Successful) == 0 && len(b.Failed) > 0
}

// ShouldHalt reports whether any failure in the batch is non-recoverable.
func (b *BatchResult) ShouldHalt() bool {
	for _, f := range b.Failed {
		if f.ErrorType.Halts() {
			return true
		}
	}
	return false
}

// WorkspaceContext is the configuration one batch runs under.
type WorkspaceContext struct {
	Cwd                string `json:"cwd"`
	WorkspaceRoot      string `json:"workspace_root"`
	AllowShellCommands bool   `json:"allow_shell_commands"`
	MaxParallelTasks   int    `json:"max_parallel_tasks"`
	ParallelEnabled    bool   `json:"parallel_enabled"`
}
