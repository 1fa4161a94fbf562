// Package redact masks credentials in text before it leaves the process or
// is written to disk.
package redact

import (
	"regexp"
	"sort"
	"strings"
)

// Placeholder replaces every detected secret.
const Placeholder = "[REDACTED]"

// Pattern is one kind of secret. When Group is non-zero only that submatch is
// masked, which keeps the key in assignments like "password=...".
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Group int
}

// Match is a detected secret as a byte range of the scanned text.
type Match struct {
	Pattern string
	Start   int
	End     int
}

var defaultPatterns = []Pattern{
	{Name: "aws_access_key", Regex: regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{Name: "anthropic_key", Regex: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_\-]{20,}`)},
	{Name: "openai_key", Regex: regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_\-]{32,}`)},
	{Name: "google_key", Regex: regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`)},
	{Name: "github_token", Regex: regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36}`)},
	{Name: "slack_token", Regex: regexp.MustCompile(`xox[bpas]-[0-9A-Za-z\-]{20,}`)},
	{Name: "bearer", Regex: regexp.MustCompile(`(?i)\bbearer\s+([a-zA-Z0-9_\-\.=+/]{16,})`), Group: 1},
	{Name: "assignment", Regex: regexp.MustCompile(`(?i)\b(?:password|passwd|secret|api[_-]?key|token)\s*[:=]\s*["']?([^\s"']{6,})`), Group: 1},
	{Name: "private_key", Regex: regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY( BLOCK)?-----.*?(?:-----END [A-Z ]*PRIVATE KEY( BLOCK)?-----|\z)`)},
}

// Scanner finds secrets with a fixed pattern set.
type Scanner struct {
	patterns []Pattern
}

// NewScanner returns a scanner with the built-in patterns plus extra.
func NewScanner(extra ...Pattern) *Scanner {
	patterns := make([]Pattern, 0, len(defaultPatterns)+len(extra))
	patterns = append(patterns, defaultPatterns...)
	patterns = append(patterns, extra...)
	return &Scanner{patterns: patterns}
}

// Scan returns matches ordered by position. Overlapping matches are merged
// into the earliest one.
func (s *Scanner) Scan(text string) []Match {
	var found []Match
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if p.Group > 0 && len(loc) > 2*p.Group+1 && loc[2*p.Group] >= 0 {
				start, end = loc[2*p.Group], loc[2*p.Group+1]
			}
			if end > start {
				found = append(found, Match{Pattern: p.Name, Start: start, End: end})
			}
		}
	}
	if len(found) < 2 {
		return found
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})
	merged := found[:1]
	for _, m := range found[1:] {
		last := &merged[len(merged)-1]
		if m.Start < last.End {
			if m.End > last.End {
				last.End = m.End
			}
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// Redact replaces every match with Placeholder.
func (s *Scanner) Redact(text string) string {
	matches := s.Scan(text)
	if len(matches) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	prev := 0
	for _, m := range matches {
		sb.WriteString(text[prev:m.Start])
		sb.WriteString(Placeholder)
		prev = m.End
	}
	sb.WriteString(text[prev:])
	return sb.String()
}

var std = NewScanner()

// String masks secrets with the built-in patterns.
func String(text string) string {
	return std.Redact(text)
}
