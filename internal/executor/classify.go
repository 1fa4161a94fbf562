package executor

import (
	"strings"
	"unicode/utf8"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

type classifyRule struct {
	substrings  []string
	errorType   task.ErrorType
	recoverable bool
}

// Evaluated top to bottom; the first rule with a matching substring wins.
var classifyRules = []classifyRule{
	{[]string{"timeout"}, task.ErrorTimeout, true},
	{[]string{"permission"}, task.ErrorPermissionDenied, false},
	{[]string{"sandbox"}, task.ErrorSandboxViolation, false},
	{[]string{"resource", "memory"}, task.ErrorResourceLimit, true},
}

// ClassifyError maps a failure message onto an error type by scanning the
// lower-cased text for keywords. The stored message is truncated.
func ClassifyError(stepID, message string) task.ErrorMetadata {
	lower := strings.ToLower(message)

	meta := task.ErrorMetadata{
		StepID:      stepID,
		Error:       Truncate(message, consts.MaxErrorChars),
		ErrorType:   task.ErrorExecution,
		Recoverable: true,
	}
	for _, rule := range classifyRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				meta.ErrorType = rule.errorType
				meta.Recoverable = rule.recoverable
				return meta
			}
		}
	}
	return meta
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
