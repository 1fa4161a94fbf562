package syntax

import (
	"fmt"
	"strings"
)

// SyntaxError represents a single syntax error found during validation.
type SyntaxError struct {
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Message   string `json:"message"`
	ErrorNode string `json:"error_node"` // ERROR or MISSING
}

func (e SyntaxError) String() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// ValidationResult contains the results of syntax validation.
type ValidationResult struct {
	Valid       bool          `json:"valid"`
	Errors      []SyntaxError `json:"errors,omitempty"`
	Language    string        `json:"language"`
	ParsedBytes int           `json:"parsed_bytes"`
}

// Summary renders the first few errors on one line.
func (r *ValidationResult) Summary() string {
	if r == nil || r.Valid {
		return ""
	}
	const maxShown = 3
	parts := make([]string, 0, maxShown)
	for i, e := range r.Errors {
		if i == maxShown {
			parts = append(parts, fmt.Sprintf("and %d more", len(r.Errors)-maxShown))
			break
		}
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}

// Checker validates source text for one of the supported languages.
type Checker interface {
	Validate(code string, language string) (*ValidationResult, error)
	SupportsLanguage(language string) bool
}

// CommandLister reports the command names a shell script would invoke,
// including those inside subshells, groups and substitutions.
type CommandLister interface {
	CommandNames(script string) ([]string, error)
}

// NormalizeLanguage maps interpreter and extension aliases onto the grammar
// names the validator knows. Unknown names are returned lower-cased.
func NormalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	switch language {
	case "py", "python3", "python":
		return "python"
	case "js", "node", "nodejs", "javascript":
		return "javascript"
	case "ts", "typescript":
		return "typescript"
	case "sh", "shell", "bash", "zsh":
		return "bash"
	case "golang", "go":
		return "go"
	default:
		return language
	}
}
