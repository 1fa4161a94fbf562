package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
)

// FormatForPrompt renders a recency-biased summary of the session for the
// reasoning backend. Loop warnings and environment facts come first so they
// survive the token budget; the oldest steps are dropped first.
func (s *State) FormatForPrompt() string {
	warnings := s.DetectLoops()

	s.mu.RLock()
	steps := s.steps
	nFiles, nDirs := len(s.files), len(s.dirs)
	plan := s.plan
	facts := s.ledger
	verified := make([]string, 0, len(s.verified))
	for k, ok := range s.verified {
		if ok {
			verified = append(verified, k)
		}
	}
	s.mu.RUnlock()
	agentList := s.Agents()

	var head strings.Builder
	head.WriteString("## Session state\n")
	for _, w := range warnings {
		fmt.Fprintf(&head, "WARNING %s\n", w)
	}
	if len(agentList) > 0 {
		names := make([]string, 0, len(agentList))
		for _, a := range agentList {
			names = append(names, fmt.Sprintf("%s (%s, %s)", a.AgentID, a.Platform, a.Dialect()))
		}
		fmt.Fprintf(&head, "Known agents: %s\n", strings.Join(names, ", "))
	}
	if nFiles > 0 || nDirs > 0 {
		fmt.Fprintf(&head, "Workspace seen: %d files, %d dirs\n", nFiles, nDirs)
	}
	if len(verified) > 0 {
		sort.Strings(verified)
		fmt.Fprintf(&head, "Verified: %s\n", strings.Join(verified, ", "))
	}
	if n := len(facts); n > 0 {
		head.WriteString("Facts:\n")
		for _, f := range facts[max(n-consts.SnapshotLedgerEntries, 0):] {
			fmt.Fprintf(&head, "- %s: %s\n", f.Key, f.Value)
		}
	}
	if plan != nil && len(plan.Items) > 0 {
		head.WriteString(plan.String())
	}

	if len(steps) == 0 {
		head.WriteString("No steps completed yet.\n")
		return head.String()
	}

	recent := steps[max(len(steps)-consts.PromptRecentSteps, 0):]
	budget := s.tokenBudget - s.counter.Count(head.String())

	// Walk newest to oldest, keeping what fits.
	lines := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		line := formatStep(len(steps)-len(recent)+i+1, recent[i])
		cost := s.counter.Count(line)
		if cost > budget && len(lines) > 0 {
			break
		}
		budget -= cost
		lines = append(lines, line)
	}

	var out strings.Builder
	out.WriteString(head.String())
	fmt.Fprintf(&out, "Recent steps (%d of %d):\n", len(lines), len(steps))
	for i := len(lines) - 1; i >= 0; i-- {
		out.WriteString(lines[i])
	}
	return out.String()
}

func formatStep(n int, st CompletedStep) string {
	mark := "ok"
	if !st.Success {
		mark = "FAILED"
	}
	target := StepTarget(st.Params)
	if target != "" {
		target = " " + target
	}
	if st.OutputSummary == "" {
		return fmt.Sprintf("%d. [%s] %s%s\n", n, mark, st.Tool, target)
	}
	return fmt.Sprintf("%d. [%s] %s%s -> %s\n", n, mark, st.Tool, target, st.OutputSummary)
}
