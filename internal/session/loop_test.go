package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/agents"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

func TestDetectLoopsSameTargetRun(t *testing.T) {
	s := NewState("s1")
	s.RecordStep(shellStep("1", "web-1", "uptime"), ok("a"))
	s.RecordStep(shellStep("2", "web-1", "df -h"), ok("b"))
	assert.Empty(t, s.DetectLoops())

	s.RecordStep(shellStep("3", "web-1", "free -m"), ok("c"))
	warnings := s.DetectLoops()
	require.Len(t, warnings, 1)
	assert.Equal(t, MarkerLoop, warnings[0].Marker)
	assert.Equal(t, "remote_execute", warnings[0].Tool)
	assert.Equal(t, "web-1", warnings[0].Target)
	assert.Equal(t, 3, warnings[0].Count)
}

func TestDetectLoopsBrokenRun(t *testing.T) {
	s := NewState("s1")
	s.RecordStep(shellStep("1", "web-1", "uptime"), ok("a"))
	s.RecordStep(shellStep("2", "web-1", "uptime"), ok("a"))
	s.RecordStep(shellStep("3", "db-1", "uptime"), ok("a"))
	s.RecordStep(shellStep("4", "web-1", "uptime"), ok("a"))

	assert.Empty(t, s.DetectLoops())
}

func TestDetectLoopsIdempotentRepeat(t *testing.T) {
	s := NewState("s1")
	s.RecordStep(task.Step{StepID: "1", Tool: "list_agents"}, ok("web-1"))
	s.RecordStep(shellStep("2", "web-1", "uptime"), ok("a"))
	s.RecordStep(task.Step{StepID: "3", Tool: "list_agents"}, ok("web-1"))

	warnings := s.DetectLoops()
	require.Len(t, warnings, 1)
	assert.Equal(t, MarkerRepeating, warnings[0].Marker)
	assert.Equal(t, "list_agents", warnings[0].Tool)
	assert.Equal(t, 2, warnings[0].Count)
}

func TestDetectLoopsIdempotentOutsideWindow(t *testing.T) {
	s := NewState("s1", WithLoopDetection(3, 3))
	s.RecordStep(task.Step{StepID: "1", Tool: "scan_workspace"}, ok(""))
	s.RecordStep(shellStep("2", "", "ls"), ok("a"))
	s.RecordStep(shellStep("3", "", "pwd"), ok("a"))
	s.RecordStep(task.Step{StepID: "4", Tool: "scan_workspace"}, ok(""))

	assert.Empty(t, s.DetectLoops())
}

func TestFormatForPromptCarriesMarkers(t *testing.T) {
	s := NewState("s1")
	s.SetAgents([]agents.Agent{{AgentID: "win-1", Platform: "windows"}})
	for i := 0; i < 3; i++ {
		s.RecordStep(shellStep(string(rune('a'+i)), "win-1", "Get-Service"), ok("Running"))
	}
	s.RecordStep(task.Step{StepID: "d", Tool: "list_agents"}, ok(""))
	s.RecordStep(task.Step{StepID: "e", Tool: "list_agents"}, ok(""))

	out := s.FormatForPrompt()
	assert.Contains(t, out, MarkerRepeating)
	assert.Contains(t, out, "win-1 (windows, powershell)")
	assert.Contains(t, out, "Recent steps (5 of 5)")
	assert.Contains(t, out, "[ok] remote_execute win-1 -> Running")

	s.RecordStep(shellStep("f", "win-1", "Get-Service"), ok("Running"))
	s.RecordStep(shellStep("g", "win-1", "Get-Service"), ok("Running"))
	s.RecordStep(shellStep("h", "win-1", "Get-Service"), ok("Running"))
	assert.Contains(t, s.FormatForPrompt(), MarkerLoop)
}

type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

func TestFormatForPromptDropsOldestFirst(t *testing.T) {
	s := NewState("s1", WithTokenCounter(charCounter{}), WithTokenBudget(150))
	for i := 0; i < 10; i++ {
		s.RecordStep(task.Step{StepID: string(rune('0' + i)), Tool: "read_file",
			Params: map[string]interface{}{"path": "file" + string(rune('0'+i))}}, ok("content"))
	}

	out := s.FormatForPrompt()
	assert.Contains(t, out, "file9")
	assert.NotContains(t, out, "file0")
	assert.LessOrEqual(t, strings.Count(out, "read_file"), 9)
}

func TestFormatForPromptEmpty(t *testing.T) {
	out := NewState("s1").FormatForPrompt()
	assert.Contains(t, out, "No steps completed yet.")
}
