package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/redact"
)

const defaultSearchLimit = 5

// SQLiteStore implements Store on a SQLite database. With an embedder,
// traces are ranked by cosine similarity of their task embeddings;
// without one, by keyword overlap.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteStore opens or creates the database at path. embedder may be nil.
func NewSQLiteStore(path string, embedder Embedder) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, embedder: embedder}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		intent TEXT,
		steps TEXT,
		answer TEXT,
		success INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trace_vectors (
		id TEXT PRIMARY KEY REFERENCES traces(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Store saves t and reports whether it was persisted. Embedding failures
// are logged and the trace is kept for keyword search.
func (s *SQLiteStore) Store(ctx context.Context, t Trace) bool {
	t = scrub(t)
	if err := s.insert(ctx, &t); err != nil {
		logger.Warn("memory: store trace failed: %v", err)
		return false
	}
	logger.Debug("memory: stored trace %s (%d steps)", t.ID, len(t.Steps))
	return true
}

// scrub masks credentials in everything a trace persists.
func scrub(t Trace) Trace {
	t.Task = redact.String(t.Task)
	t.Answer = redact.String(t.Answer)
	steps := make([]TraceStep, len(t.Steps))
	for i, st := range t.Steps {
		st.Target = redact.String(st.Target)
		st.Summary = redact.String(st.Summary)
		steps[i] = st
	}
	t.Steps = steps
	return t
}

func (s *SQLiteStore) insert(ctx context.Context, t *Trace) error {
	if strings.TrimSpace(t.Task) == "" {
		return fmt.Errorf("trace has no task")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	var vec []float32
	if s.embedder != nil {
		vec, err = s.embedder.Embed(ctx, t.Task)
		if err != nil {
			logger.Warn("memory: embedding failed, storing without vector: %v", err)
			vec = nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO traces (id, task, intent, steps, answer, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Task, t.Intent, string(steps), t.Answer, t.Success, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}

	if len(vec) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO trace_vectors (id, embedding) VALUES (?, ?)
		`, t.ID, encodeVector(vec))
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// Search returns up to limit traces ranked by relevance to query. Traces
// with zero relevance are omitted.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) []Match {
	matches, err := s.search(ctx, query, limit)
	if err != nil {
		logger.Warn("memory: search failed: %v", err)
		return nil
	}
	return matches
}

func (s *SQLiteStore) search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var queryVec []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, query)
		if err != nil {
			logger.Warn("memory: query embedding failed, using keywords: %v", err)
		} else {
			queryVec = v
		}
	}
	terms := keywords(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.task, t.intent, t.steps, t.answer, t.success, t.created_at, v.embedding
		FROM traces t
		LEFT JOIN trace_vectors v ON v.id = t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			t              Trace
			intent, answer sql.NullString
			steps          sql.NullString
			blob           []byte
		)
		if err := rows.Scan(&t.ID, &t.Task, &intent, &steps, &answer, &t.Success, &t.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		t.Intent = intent.String
		t.Answer = answer.String
		if steps.Valid && steps.String != "" {
			if err := json.Unmarshal([]byte(steps.String), &t.Steps); err != nil {
				logger.Debug("memory: trace %s has unreadable steps: %v", t.ID, err)
			}
		}

		var score float64
		if queryVec != nil && len(blob) > 0 {
			score = cosine(queryVec, decodeVector(blob))
		} else {
			score = overlap(terms, t.Task+" "+t.Answer)
		}
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Trace: t, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Trace.CreatedAt.After(matches[j].Trace.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Count returns the number of stored traces.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n)
	return n, err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
