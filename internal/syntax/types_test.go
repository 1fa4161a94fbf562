package syntax

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"Python3": "python",
		" node ":  "javascript",
		"sh":      "bash",
		"golang":  "go",
		"ts":      "typescript",
		"ruby":    "ruby",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummaryLimitsErrors(t *testing.T) {
	res := &ValidationResult{
		Valid: false,
		Errors: []SyntaxError{
			{Line: 1, Column: 1, Message: "a"},
			{Line: 2, Column: 1, Message: "b"},
			{Line: 3, Column: 1, Message: "c"},
			{Line: 4, Column: 1, Message: "d"},
		},
	}
	want := "line 1, column 1: a; line 2, column 1: b; line 3, column 1: c; and 1 more"
	if got := res.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	if (&ValidationResult{Valid: true}).Summary() != "" {
		t.Error("valid result should have empty summary")
	}
}
