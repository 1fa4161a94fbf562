package session

import (
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
)

// Snapshot is a bounded, serializable view of State.
type Snapshot struct {
	ID             string          `json:"id"`
	FileCount      int             `json:"file_count"`
	Files          []string        `json:"files"`
	DirCount       int             `json:"dir_count"`
	Dirs           []string        `json:"dirs"`
	Agents         []agents.Agent  `json:"agents"`
	StepCount      int             `json:"step_count"`
	RecentSteps    []CompletedStep `json:"recent_steps,omitempty"`
	RecentFacts    []Fact          `json:"recent_facts,omitempty"`
	Verified       map[string]bool `json:"verified,omitempty"`
	CommandOutputs int             `json:"command_outputs"`
	Plan           string          `json:"plan,omitempty"`
}

// Snapshot returns at most 50 files, 30 dirs and the 10 most recent facts
// and steps, plus the full counts.
func (s *State) Snapshot() Snapshot {
	files := s.Files()
	dirs := s.Dirs()
	agentList := s.Agents()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:             s.id,
		FileCount:      len(files),
		Files:          files[:min(len(files), consts.SnapshotMaxFiles)],
		DirCount:       len(dirs),
		Dirs:           dirs[:min(len(dirs), consts.SnapshotMaxDirs)],
		Agents:         agentList,
		StepCount:      len(s.steps),
		CommandOutputs: len(s.outputs),
	}
	if n := len(s.steps); n > 0 {
		snap.RecentSteps = append([]CompletedStep(nil), s.steps[max(n-consts.SnapshotLedgerEntries, 0):]...)
	}
	if n := len(s.ledger); n > 0 {
		snap.RecentFacts = append([]Fact(nil), s.ledger[max(n-consts.SnapshotLedgerEntries, 0):]...)
	}
	if len(s.verified) > 0 {
		snap.Verified = make(map[string]bool, len(s.verified))
		for k, v := range s.verified {
			snap.Verified[k] = v
		}
	}
	if s.plan != nil {
		snap.Plan = s.plan.String()
	}
	return snap
}
