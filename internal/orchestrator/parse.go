package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/thinking"
)

// ErrNoJSON is returned when a model reply holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in model reply")

// extractJSON returns the outermost {...} of a reply, ignoring reasoning
// spans and markdown fences around it.
func extractJSON(reply string) (string, error) {
	text := thinking.StripThinking(reply)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

func parseIntent(reply string) (Intent, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return Intent{}, err
	}
	var in Intent
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	in.Label = strings.ToLower(strings.TrimSpace(in.Label))
	switch in.Label {
	case IntentTask, IntentQuestion, IntentConversation:
	default:
		return Intent{}, fmt.Errorf("unknown intent %q", in.Label)
	}
	if in.Confidence < 0 {
		in.Confidence = 0
	} else if in.Confidence > 1 {
		in.Confidence = 1
	}
	return in, nil
}

type plannedStep struct {
	Tool      string                 `json:"tool"`
	Params    map[string]interface{} `json:"params"`
	Reasoning string                 `json:"reasoning"`
}

type planReply struct {
	Steps []plannedStep `json:"steps"`
	Done  bool          `json:"done"`
}

// parsePlan decodes {"steps":[...],"done":bool}. Steps without a tool are
// dropped.
func parsePlan(reply string) ([]task.Step, bool, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, false, err
	}
	var p planReply
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false, fmt.Errorf("decode plan: %w", err)
	}

	steps := make([]task.Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		tool := strings.TrimSpace(s.Tool)
		if tool == "" {
			continue
		}
		params := s.Params
		if params == nil {
			params = map[string]interface{}{}
		}
		steps = append(steps, task.Step{Tool: tool, Params: params, Reasoning: strings.TrimSpace(s.Reasoning)})
	}
	return steps, p.Done, nil
}
