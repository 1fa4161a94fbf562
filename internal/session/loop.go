package session

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
)

const (
	MarkerLoop      = "LOOP DETECTED"
	MarkerRepeating = "REPEATING"
)

// Tools that return the same answer no matter how often they run.
var idempotentTools = map[string]bool{
	"list_agents":    true,
	"scan_workspace": true,
	"dump_state":     true,
}

// Params naming the remote machine a step targets, most specific first.
var targetParams = []string{"agent_id", "agent", "target", "host"}

// Fallback for local tools: the param that identifies what they act on.
var primaryParams = []string{"command", "path", "code", "pattern"}

// LoopWarning flags repeated tool use in the recent step window. Warnings are
// advisory; they are rendered into the next prompt and nothing is blocked.
type LoopWarning struct {
	Marker string
	Tool   string
	Target string
	Count  int
}

func (w LoopWarning) String() string {
	if w.Marker == MarkerRepeating {
		return fmt.Sprintf("%s: %s already ran %d times recently; its result will not change", w.Marker, w.Tool, w.Count)
	}
	target := w.Target
	if target == "" {
		target = "(no target)"
	}
	return fmt.Sprintf("%s: %s on %s was the last %d steps; try a different approach", w.Marker, w.Tool, target, w.Count)
}

// StepTarget names what a step acts on: the agent or host when given,
// otherwise its command, path, code or pattern.
func StepTarget(params map[string]interface{}) string {
	for _, keys := range [][]string{targetParams, primaryParams} {
		for _, k := range keys {
			if v, ok := params[k]; ok && v != nil {
				if s := fmt.Sprint(v); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func fingerprint(tool, target string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(tool)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(target)
	return d.Sum64()
}

// DetectLoops inspects the most recent steps. A loop is the same
// (tool, target) pair filling the last threshold entries; repetition is an
// idempotent tool appearing more than once within the window.
func (s *State) DetectLoops() []LoopWarning {
	s.mu.RLock()
	steps := s.steps
	window, threshold := s.loopWindow, s.loopThreshold
	s.mu.RUnlock()

	var warnings []LoopWarning

	if len(steps) >= threshold {
		last := steps[len(steps)-1]
		target := StepTarget(last.Params)
		fp := fingerprint(last.Tool, target)
		run := 0
		for i := len(steps) - 1; i >= 0; i-- {
			if fingerprint(steps[i].Tool, StepTarget(steps[i].Params)) != fp {
				break
			}
			run++
		}
		if run >= threshold {
			warnings = append(warnings, LoopWarning{Marker: MarkerLoop, Tool: last.Tool, Target: target, Count: run})
		}
	}

	start := max(len(steps)-window, 0)
	counts := make(map[string]int)
	var order []string
	for _, st := range steps[start:] {
		if !idempotentTools[st.Tool] {
			continue
		}
		if counts[st.Tool] == 0 {
			order = append(order, st.Tool)
		}
		counts[st.Tool]++
	}
	for _, tool := range order {
		if counts[tool] > 1 {
			warnings = append(warnings, LoopWarning{Marker: MarkerRepeating, Tool: tool, Count: counts[tool]})
		}
	}

	for _, w := range warnings {
		logger.Warn("session %s: %s", s.id, w)
	}
	return warnings
}
