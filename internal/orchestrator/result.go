package orchestrator

import (
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/guard"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

// Termination is why the step loop stopped.
type Termination int

const (
	// Continue is only seen between rounds.
	Continue Termination = iota
	// Done means the model declared the task complete or planned nothing more.
	Done
	// Halted means a step failed with a non-recoverable error type.
	Halted
	// BudgetExhausted means max_steps steps were run.
	BudgetExhausted
	// Skipped means the intent needed no tools.
	Skipped
	// Failed means planning failed or the context was cancelled.
	Failed
)

func (t Termination) String() string {
	switch t {
	case Continue:
		return "continue"
	case Done:
		return "done"
	case Halted:
		return "halted"
	case BudgetExhausted:
		return "budget_exhausted"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (t Termination) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Intent is the classifier's reading of a task.
type Intent struct {
	Label      string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

const (
	IntentTask         = "task"
	IntentQuestion     = "question"
	IntentConversation = "conversation"
)

// Result describes one Engine.Run.
type Result struct {
	Task        string               `json:"task"`
	Intent      Intent               `json:"intent"`
	Termination Termination          `json:"termination"`
	Reason      string               `json:"reason,omitempty"`
	Rounds      int                  `json:"rounds"`
	StepsRun    int                  `json:"steps_run"`
	Batches     []*task.BatchResult  `json:"batches,omitempty"`
	Failures    []task.ErrorMetadata `json:"failures,omitempty"`
	Answer      string               `json:"answer"`
	Thinking    string               `json:"thinking,omitempty"`
	Warning     *guard.Warning       `json:"warning,omitempty"`
	Err         error                `json:"-"`
}

// Success reports whether the run finished without halting or failing.
func (r *Result) Success() bool {
	switch r.Termination {
	case Done, BudgetExhausted, Skipped:
		return r.Err == nil
	}
	return false
}
