// Package history persists executed queries in a local SQLite database so
// users can revisit what they ran.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Status values recorded for a query.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// Entry is one executed query.
type Entry struct {
	ID           string        `json:"id"`
	SessionToken string        `json:"session"`
	SQL          string        `json:"sql"`
	Datasets     []string      `json:"datasets"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"duration_ms"`
	Rows         int           `json:"rows"`
	Status       string        `json:"status"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Store is the SQLite-backed history.
type Store struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to migrate schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return err
		}
	}
	return nil
}

// Record stores e, assigning a time-ordered ID when e.ID is empty.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("history: failed to generate id: %w", err)
		}
		e.ID = id.String()
	}
	if e.Datasets == nil {
		e.Datasets = []string{}
	}
	datasets, err := json.Marshal(e.Datasets)
	if err != nil {
		return fmt.Errorf("history: failed to encode datasets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queries (
			id, session_token, sql_text, datasets,
			started_at, duration_ms, row_count,
			status, error_code, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionToken, e.SQL, string(datasets),
		e.StartedAt.UnixMilli(), e.Duration.Milliseconds(), e.Rows,
		e.Status, nullString(e.ErrorCode), nullString(e.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("history: failed to record query: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-empty session
// restricts the result to that session.
func (s *Store) Recent(ctx context.Context, limit int, session string) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_token, sql_text, datasets, started_at, duration_ms,
		row_count, status, error_code, error_message FROM queries`
	args := []interface{}{}
	if session != "" {
		query += " WHERE session_token = ?"
		args = append(args, session)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: failed to list queries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                Entry
			datasets         string
			startedMs, durMs int64
			errCode, errMsg  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionToken, &e.SQL, &datasets, &startedMs, &durMs,
			&e.Rows, &e.Status, &errCode, &errMsg); err != nil {
			return nil, fmt.Errorf("history: failed to scan query: %w", err)
		}
		if err := json.Unmarshal([]byte(datasets), &e.Datasets); err != nil {
			return nil, fmt.Errorf("history: corrupt datasets for %s: %w", e.ID, err)
		}
		e.StartedAt = time.UnixMilli(startedMs)
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.DurationMs = durMs
		e.ErrorCode = errCode.String
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM queries WHERE started_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: failed to prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
