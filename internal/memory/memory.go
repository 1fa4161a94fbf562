// Package memory keeps execution traces of finished tasks and recalls the
// ones most similar to a new query.
package memory

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
)

// TraceStep is one executed step of a stored trace.
type TraceStep struct {
	Tool    string `json:"tool"`
	Target  string `json:"target,omitempty"`
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
}

// Trace records how one task was carried out.
type Trace struct {
	ID        string      `json:"id"`
	Task      string      `json:"task"`
	Intent    string      `json:"intent,omitempty"`
	Steps     []TraceStep `json:"steps,omitempty"`
	Answer    string      `json:"answer,omitempty"`
	Success   bool        `json:"success"`
	CreatedAt time.Time   `json:"created_at"`
}

// Match is a recalled trace with its relevance score in [0,1].
type Match struct {
	Trace Trace   `json:"trace"`
	Score float64 `json:"score"`
}

// Store persists traces and ranks them against a query.
type Store interface {
	Store(ctx context.Context, t Trace) bool
	Search(ctx context.Context, query string, limit int) []Match
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func keywords(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// overlap is the share of query keywords found in text.
func overlap(query map[string]struct{}, text string) float64 {
	if len(query) == 0 {
		return 0
	}
	doc := keywords(text)
	hits := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
