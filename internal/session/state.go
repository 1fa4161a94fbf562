// Package session holds the turn-scoped state of one conversation: the
// append-only ledger of completed steps, discovered environment facts and the
// captured command output the answer guard checks against.
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/muesli/reflow/truncate"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/planning"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

// Tools whose output is captured into the command-flow log.
var commandTools = map[string]bool{
	"execute_shell":  true,
	"execute_code":   true,
	"remote_execute": true,
}

// CompletedStep is one entry of the step ledger. Entries are never mutated.
type CompletedStep struct {
	StepID        string                 `json:"step_id"`
	Tool          string                 `json:"tool"`
	Params        map[string]interface{} `json:"params,omitempty"`
	OutputSummary string                 `json:"output_summary"`
	Success       bool                   `json:"success"`
	At            time.Time              `json:"at"`
}

// Fact is a key/value observation extracted during the session.
type Fact struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// CommandOutput is raw output captured from a command-running tool.
type CommandOutput struct {
	StepID string    `json:"step_id"`
	Tool   string    `json:"tool"`
	Target string    `json:"target,omitempty"`
	Output string    `json:"output"`
	At     time.Time `json:"at"`
}

// TokenCounter measures prompt size.
type TokenCounter interface {
	Count(text string) int
}

// approxCounter estimates four characters per token.
type approxCounter struct{}

func (approxCounter) Count(text string) int { return (len(text) + 3) / 4 }

// Option configures a State.
type Option func(*State)

// WithTokenCounter replaces the default four-chars-per-token estimate.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *State) {
		if c != nil {
			s.counter = c
		}
	}
}

// WithTokenBudget bounds FormatForPrompt output.
func WithTokenBudget(tokens int) Option {
	return func(s *State) {
		if tokens > 0 {
			s.tokenBudget = tokens
		}
	}
}

// WithLoopDetection sets the recent window and the repeat threshold.
func WithLoopDetection(window, threshold int) Option {
	return func(s *State) {
		if window > 0 {
			s.loopWindow = window
		}
		if threshold > 1 {
			s.loopThreshold = threshold
		}
	}
}

// State is the mutable state of one conversation. All methods are safe for
// concurrent use; steps of one batch record into it in parallel.
type State struct {
	id string

	mu       sync.RWMutex
	steps    []CompletedStep
	files    map[string]struct{}
	dirs     map[string]struct{}
	agents   map[string]agents.Agent
	plan     *planning.TaskPlan
	ledger   []Fact
	verified map[string]bool
	outputs  []CommandOutput

	counter       TokenCounter
	tokenBudget   int
	loopWindow    int
	loopThreshold int
}

// NewState creates empty state for conversation id.
func NewState(id string, opts ...Option) *State {
	s := &State{
		id:            id,
		counter:       approxCounter{},
		tokenBudget:   consts.DefaultPromptTokenBudget,
		loopWindow:    consts.LoopWindow,
		loopThreshold: consts.LoopThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s
}

// ID returns the conversation id.
func (s *State) ID() string { return s.id }

func (s *State) resetLocked() {
	s.steps = nil
	s.files = make(map[string]struct{})
	s.dirs = make(map[string]struct{})
	s.agents = make(map[string]agents.Agent)
	s.plan = nil
	s.ledger = nil
	s.verified = make(map[string]bool)
	s.outputs = nil
}

// RecordStep appends the ledger entry for a settled step. Output of command
// tools is also captured into the command-flow log.
func (s *State) RecordStep(step task.Step, res task.StepResult) CompletedStep {
	summary := res.Output
	if !res.Succeeded() && res.Error != "" {
		summary = "error: " + res.Error
	}
	summary = strings.Join(strings.Fields(summary), " ")

	entry := CompletedStep{
		StepID:        step.StepID,
		Tool:          step.Tool,
		Params:        copyParams(step.Params),
		OutputSummary: truncate.StringWithTail(summary, uint(consts.MaxSummaryChars), "..."),
		Success:       res.Succeeded(),
		At:            time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, entry)
	if commandTools[step.Tool] && res.Output != "" {
		s.outputs = append(s.outputs, CommandOutput{
			StepID: step.StepID,
			Tool:   step.Tool,
			Target: StepTarget(step.Params),
			Output: res.Output,
			At:     entry.At,
		})
	}
	return entry
}

// RecordCommandOutput captures output produced outside the step ledger.
func (s *State) RecordCommandOutput(out CommandOutput) {
	if out.At.IsZero() {
		out.At = time.Now()
	}
	s.mu.Lock()
	s.outputs = append(s.outputs, out)
	s.mu.Unlock()
}

// Steps returns a copy of the step ledger, oldest first.
func (s *State) Steps() []CompletedStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CompletedStep(nil), s.steps...)
}

// CommandOutputs returns a copy of the command-flow log.
func (s *State) CommandOutputs() []CommandOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CommandOutput(nil), s.outputs...)
}

// AddFile records a file path seen this session.
func (s *State) AddFile(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.files[path] = struct{}{}
	s.mu.Unlock()
}

// AddDir records a directory path seen this session.
func (s *State) AddDir(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.dirs[path] = struct{}{}
	s.mu.Unlock()
}

// Files returns the recorded file paths, sorted.
func (s *State) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.files)
}

// Dirs returns the recorded directory paths, sorted.
func (s *State) Dirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.dirs)
}

// SetAgents merges discovered agents, keyed by agent id.
func (s *State) SetAgents(list []agents.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range list {
		s.agents[a.AgentID] = a
	}
}

// Agents returns the discovered agents sorted by id.
func (s *State) Agents() []agents.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agents.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// SetPlan replaces the current task plan.
func (s *State) SetPlan(p *planning.TaskPlan) {
	s.mu.Lock()
	s.plan = p
	s.mu.Unlock()
}

// Plan returns the current task plan, or nil.
func (s *State) Plan() *planning.TaskPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// AddFact appends a fact to the ledger.
func (s *State) AddFact(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	s.ledger = append(s.ledger, Fact{Key: key, Value: value, At: time.Now()})
	s.mu.Unlock()
}

// Facts returns the fact ledger, oldest first.
func (s *State) Facts() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Fact(nil), s.ledger...)
}

// SetVerified sets a verification flag.
func (s *State) SetVerified(key string, ok bool) {
	s.mu.Lock()
	s.verified[key] = ok
	s.mu.Unlock()
}

// Verified reports a verification flag.
func (s *State) Verified(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified[key]
}

// ClearForNewTask starts a new task. Steps, captured command output and the
// plan are cleared; files, dirs, agents, facts and verification flags are
// environment facts and survive.
func (s *State) ClearForNewTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.outputs = nil
	s.plan = nil
}

// Reset discards everything.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyParams(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
