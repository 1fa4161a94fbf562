package orchestrator

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
		err   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around", `Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, false},
		{"reasoning braces ignored", `<think>maybe {"x":0}</think>{"a":1}`, `{"a":1}`, false},
		{"none", "no json here", "", true},
		{"reversed", "} {", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSON(tc.reply)
			if tc.err {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseIntent(t *testing.T) {
	in, err := parseIntent(`{"intent": " Question ", "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, Intent{Label: IntentQuestion, Confidence: 1}, in)

	in, err = parseIntent(`{"intent": "task", "confidence": -2}`)
	require.NoError(t, err)
	assert.Zero(t, in.Confidence)

	_, err = parseIntent(`{"intent": "poetry", "confidence": 0.5}`)
	assert.Error(t, err)

	_, err = parseIntent(`{"intent": 3}`)
	assert.Error(t, err)
}

func TestParsePlan(t *testing.T) {
	steps, done, err := parsePlan(`{"steps": [
		{"tool": "execute_shell", "params": {"command": "uptime"}, "reasoning": " check load "},
		{"tool": "  "},
		{"tool": "list_agents"}
	], "done": true}`)
	require.NoError(t, err)
	assert.True(t, done)

	want := []task.Step{
		{Tool: "execute_shell", Params: map[string]interface{}{"command": "uptime"}, Reasoning: "check load"},
		{Tool: "list_agents", Params: map[string]interface{}{}},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}

	_, _, err = parsePlan(`{"steps": "nope"}`)
	assert.Error(t, err)
}

func TestTerminationString(t *testing.T) {
	assert.Equal(t, "budget_exhausted", BudgetExhausted.String())
	assert.Equal(t, "unknown", Termination(42).String())
}
