package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/memory"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/tools"
)

const classifySystemPrompt = `You classify user requests for an operations assistant.
Reply with one JSON object: {"intent": "task" | "question" | "conversation", "confidence": 0.0-1.0}.
"task" needs commands or file changes, "question" may need to look something up,
"conversation" is small talk that needs no tools.`

const answerSystemPrompt = `You are an operations assistant reporting results to the user.
Answer from the session state and command output you are given. Never invent
IP addresses, timings, process ids or command output that is not shown.
If nothing was captured, say so.`

func planSystemPrompt() string {
	names := make([]string, 0, len(tools.Kinds()))
	for _, k := range tools.Kinds() {
		names = append(names, k.String())
	}

	var sb strings.Builder
	sb.WriteString("You plan the next steps of a task on managed machines and a local workspace.\n")
	sb.WriteString("Reply with one JSON object: {\"steps\": [{\"tool\": \"...\", \"params\": {...}, \"reasoning\": \"...\"}], \"done\": false}.\n")
	fmt.Fprintf(&sb, "Tools: %s, batch.\n", strings.Join(names, ", "))
	sb.WriteString("A batch step {\"tool\":\"batch\",\"params\":{\"pattern\":\"**/*.go\",\"operation\":\"read_file\"}} runs one operation per matching file.\n")
	sb.WriteString("Steps in one reply may run in parallel, so only group independent steps.\n")
	sb.WriteString("Use remote_execute with the agent's dialect (powershell on windows).\n")
	sb.WriteString("When the task is finished, reply with {\"steps\": [{\"tool\": \"complete\", \"params\": {\"summary\": \"...\"}}], \"done\": true}.\n")
	sb.WriteString("Do not repeat a step flagged LOOP DETECTED or REPEATING.")
	return sb.String()
}

func planPrompt(taskText, state string, recalled []memory.Match) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", taskText)
	if len(recalled) > 0 {
		sb.WriteString("Similar past tasks:\n")
		for _, m := range recalled {
			t := m.Trace
			status := "ok"
			if !t.Success {
				status = "failed"
			}
			used := make([]string, 0, len(t.Steps))
			for _, st := range t.Steps {
				used = append(used, st.Tool)
			}
			fmt.Fprintf(&sb, "- [%s] %s (tools: %s)\n", status, t.Task, strings.Join(used, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(state)
	return sb.String()
}

func answerPrompt(res *Result, state string, outputs []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", res.Task)
	fmt.Fprintf(&sb, "Run ended: %s", res.Termination)
	if res.Reason != "" {
		fmt.Fprintf(&sb, " (%s)", res.Reason)
	}
	sb.WriteString("\n\n")
	sb.WriteString(state)
	if len(outputs) > 0 {
		sb.WriteString("\nCaptured output:\n")
		for _, o := range outputs {
			sb.WriteString(o)
			if !strings.HasSuffix(o, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
