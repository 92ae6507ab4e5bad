package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Run events recorded against the history store.
const (
	EventRunStarted   = "run_started"
	EventStepOK       = "step_completed"
	EventStepFailed   = "step_failed"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Record is one history row: something that happened during a pipeline run.
type Record struct {
	RunID     string
	Pipeline  string
	Step      string
	Event     string
	Error     string
	Timestamp time.Time
}

// HistoryStore persists run records. Append never blocks a run on business
// logic; Tail returns records oldest first.
type HistoryStore interface {
	Append(ctx context.Context, rec Record) error
	Tail(ctx context.Context, pipeline string, limit int) ([]Record, error)
}

// InMemoryHistoryStore is a thread-safe in-memory history log.
type InMemoryHistoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewInMemoryHistoryStore constructs an empty store.
func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{}
}

// Append stores a record, stamping it when the timestamp is zero.
func (s *InMemoryHistoryStore) Append(_ context.Context, rec Record) error {
	if s == nil {
		return errors.New("in-memory history not configured")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Tail returns the last limit records for a pipeline, oldest first. An empty
// pipeline matches every record; limit <= 0 returns them all.
func (s *InMemoryHistoryStore) Tail(_ context.Context, pipeline string, limit int) ([]Record, error) {
	if s == nil {
		return nil, errors.New("in-memory history not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records {
		if pipeline != "" && rec.Pipeline != pipeline {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]Record(nil), out...), nil
}

// Records returns a cloned record slice for assertions and debugging.
func (s *InMemoryHistoryStore) Records() []Record {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// SQLiteHistoryStore persists run records in SQLite. The driver comes from
// the application; this package only speaks database/sql.
type SQLiteHistoryStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteHistoryStore builds a store using the given DB and table name.
func NewSQLiteHistoryStore(db *sql.DB, table string) *SQLiteHistoryStore {
	if table == "" {
		table = "pipeline_history"
	}
	return &SQLiteHistoryStore{db: db, table: table}
}

// Append inserts a record, stamping it when the timestamp is zero.
func (s *SQLiteHistoryStore) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s (run_id, pipeline, step, event, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	_, err := s.db.ExecContext(ctx, q,
		rec.RunID,
		rec.Pipeline,
		rec.Step,
		rec.Event,
		rec.Error,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Tail returns the last limit records for a pipeline, oldest first.
func (s *SQLiteHistoryStore) Tail(ctx context.Context, pipeline string, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite history not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var clauses []string
	var args []any
	if pipeline = strings.TrimSpace(pipeline); pipeline != "" {
		clauses = append(clauses, "WHERE pipeline = ?")
		args = append(args, pipeline)
	}
	q := fmt.Sprintf(`SELECT run_id, pipeline, step, event, error, created_at FROM %s %s ORDER BY id DESC`, s.table, strings.Join(clauses, " "))
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var createdAt string
		if err := rows.Scan(&rec.RunID, &rec.Pipeline, &rec.Step, &rec.Event, &rec.Error, &createdAt); err != nil {
			return nil, err
		}
		if createdAt != "" {
			if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
				rec.Timestamp = ts
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// rows arrive newest first; flip to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteHistoryStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		step TEXT,
		event TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}
