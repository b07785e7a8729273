// Package engine owns the embedded DuckDB instance and the bounded worker
// pool that every engine call runs on.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"

	"github.com/smoosense/smoosense/internal/config"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("engine: closed")

// Engine wraps a single in-memory DuckDB database. All pooled connections
// share the database; connection-local state such as TEMP views requires a
// dedicated *sql.Conn.
type Engine struct {
	db        *sql.DB
	pool      *ants.Pool
	slots     *semaphore.Weighted
	csvSample int
	workers   int
	closed    atomic.Bool
	inFlight  atomic.Int64
	openedAt  time.Time
}

type setting struct{ key, value string }

// Open creates the engine and applies thread, memory and spill settings.
// Settings the engine rejects are logged and skipped.
func Open(cfg config.EngineConfig) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("engine: open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("engine: ping duckdb: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	// One pooled connection per worker, plus headroom for dedicated
	// binding connections held across a worker call.
	db.SetMaxOpenConns(workers * 2)
	db.SetMaxIdleConns(workers)

	settings := []setting{{"preserve_insertion_order", "true"}}
	if cfg.Threads > 0 {
		settings = append(settings, setting{"threads", fmt.Sprintf("%d", cfg.Threads)})
	}
	if cfg.MemoryLimit != "" {
		settings = append(settings, setting{"memory_limit", QuoteLiteral(cfg.MemoryLimit)})
	}
	if cfg.TempDir != "" {
		settings = append(settings, setting{"temp_directory", QuoteLiteral(cfg.TempDir)})
	}
	for _, s := range settings {
		if _, err := db.Exec(fmt.Sprintf("SET %s = %s", s.key, s.value)); err != nil {
			slog.Warn("Failed to apply engine setting.", "setting", s.key, "value", s.value, "error", err)
		} else {
			slog.Debug("Applied engine setting.", "setting", s.key, "value", s.value)
		}
	}

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		slog.Error("Engine worker panic.", "panic", v)
	}))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("engine: create worker pool: %w", err)
	}

	csvSample := cfg.CSVSampleSize
	if csvSample <= 0 {
		csvSample = 20480
	}

	slog.Info("Engine opened.", "workers", workers, "threads", cfg.Threads, "memory_limit", cfg.MemoryLimit)
	return &Engine{
		db:        db,
		pool:      pool,
		slots:     semaphore.NewWeighted(int64(workers)),
		csvSample: csvSample,
		workers:   workers,
		openedAt:  time.Now(),
	}, nil
}

// DB returns the shared database handle.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// CSVSampleSize is the row bound used when sniffing CSV types.
func (e *Engine) CSVSampleSize() int {
	return e.csvSample
}

// Conn reserves a dedicated connection. The caller must Close it.
func (e *Engine) Conn(ctx context.Context) (*sql.Conn, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.db.Conn(ctx)
}

// Do runs fn on the worker pool. Waiting for a free worker is bounded by
// ctx as well. When ctx is done before fn returns, Do returns ctx.Err()
// immediately and whatever fn produces is discarded; fn receives the same
// ctx so the driver can interrupt the running statement.
func (e *Engine) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// A slot is held for the life of each task, so Submit never waits on a
	// full pool.
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	task := func() {
		defer e.slots.Release(1)
		e.inFlight.Add(1)
		defer e.inFlight.Add(-1)
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- fn(ctx)
	}
	if err := e.pool.Submit(task); err != nil {
		e.slots.Release(1)
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrClosed
		}
		return fmt.Errorf("engine: submit: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats describes the worker pool.
type Stats struct {
	Workers  int           `json:"workers"`
	Running  int           `json:"running"`
	Waiting  int           `json:"waiting"`
	InFlight int64         `json:"in_flight"`
	Uptime   time.Duration `json:"uptime"`
}

// Stats returns a snapshot of pool usage.
func (e *Engine) Stats() Stats {
	return Stats{
		Workers:  e.workers,
		Running:  e.pool.Running(),
		Waiting:  e.pool.Waiting(),
		InFlight: e.inFlight.Load(),
		Uptime:   time.Since(e.openedAt),
	}
}

// Ping checks that the engine answers.
func (e *Engine) Ping(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.PingContext(ctx)
}

// Close drains the worker pool and closes the database.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.pool.ReleaseTimeout(5 * time.Second); err != nil {
		slog.Warn("Engine workers did not drain before close.", "error", err)
	}
	return e.db.Close()
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
