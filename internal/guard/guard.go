// Package guard flags answers that quote command output the session never
// captured.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/session"
)

// MinAnswerLength is the shortest answer worth checking.
const MinAnswerLength = 20

// ReasonNoOutput is the warning reason when nothing was captured.
const ReasonNoOutput = "no output"

// CommandLog is the source of captured command output.
type CommandLog interface {
	CommandOutputs() []session.CommandOutput
}

// Warning describes a likely fabricated answer.
type Warning struct {
	Reason  string
	Pattern string
	Match   string
}

func (w *Warning) String() string {
	return fmt.Sprintf("answer contains %s (%q) but %s was captured from any command", w.Pattern, w.Match, w.Reason)
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Shapes of output that only a real command could have produced.
var fabricationPatterns = []pattern{
	{"an IP address", regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1?\d?\d)(?:\.(?:25[0-5]|2[0-4]\d|1?\d?\d)){3}\b`)},
	{"a round-trip time", regexp.MustCompile(`(?i)\btime\s*[=<]\s*\d+(?:\.\d+)?\s*ms\b|round[- ]trip|\brtt\b|min/avg/max`)},
	{"a process id", regexp.MustCompile(`(?i)\bpid\s*[:=#]?\s*\d+\b|\bprocess id\s*[:=]?\s*\d+`)},
	{"ping output", regexp.MustCompile(`(?i)reply from\s|\bbytes=\d+|\bttl=\d+|\d+ bytes from\s|icmp_seq=|packets transmitted`)},
	{"a process table", regexp.MustCompile(`(?im)^\s*(?:PID\s+TTY|USER\s+PID\s+%CPU|UID\s+PID\s+PPID|Handles\s+NPM\(K\)|Image Name\s+PID|NAME\s+PID)`)},
}

// Validate returns a warning when answer quotes command-like output but no
// output was captured, or nil when the answer passes. Any non-empty captured
// output in log or aux is enough grounding.
func Validate(answer string, log CommandLog, aux []string) *Warning {
	trimmed := strings.TrimSpace(answer)
	if len(trimmed) < MinAnswerLength {
		return nil
	}
	if hasRealOutput(log, aux) {
		return nil
	}

	for _, p := range fabricationPatterns {
		if m := p.re.FindString(trimmed); m != "" {
			w := &Warning{Reason: ReasonNoOutput, Pattern: p.name, Match: strings.TrimSpace(m)}
			logger.Warn("guard: %s", w)
			return w
		}
	}
	return nil
}

func hasRealOutput(log CommandLog, aux []string) bool {
	for _, s := range aux {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	if log == nil {
		return false
	}
	for _, out := range log.CommandOutputs() {
		if strings.TrimSpace(out.Output) != "" {
			return true
		}
	}
	return false
}
