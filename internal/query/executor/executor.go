// Package executor runs paginated read-only queries against bound
// datasets on the shared engine.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/smoosense/smoosense/internal/classify"
	"github.com/smoosense/smoosense/internal/dataset"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/observability"
	"github.com/smoosense/smoosense/internal/query/parser"
	"github.com/smoosense/smoosense/internal/session"
	"github.com/smoosense/smoosense/pkg/types"
)

// cancelCheckRows is how many rows are scanned between cancellation polls.
const cancelCheckRows = 256

// maxSampleValues bounds the page values used to classify result columns.
const maxSampleValues = 20

// Engine is the engine surface the executor needs.
type Engine interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	Conn(ctx context.Context) (*sql.Conn, error)
	BindViews(ctx context.Context, conn *sql.Conn, bindings map[string]*dataset.Dataset) (func(), error)
}

// RowCounter supplies exact row counts for datasets whose format records
// them, such as Parquet footers.
type RowCounter interface {
	RowCount(ctx context.Context, ds *dataset.Dataset) (int64, bool)
}

// Request is one page request.
type Request struct {
	// SQL is the user's query text
	SQL string

	// Bindings maps the names used in SQL to datasets
	Bindings map[string]*dataset.Dataset

	// PageSize is clamped to [1, MaxPageSize]; 0 uses the default
	PageSize int

	// Cursor continues a previous page of the same query
	Cursor string

	// Count requests an exact total row count
	Count bool

	// KnownColumns carries dataset columns so result columns
	// that pass through unchanged keep them
	KnownColumns map[string]types.Column
}

// Config holds executor settings.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	QueryTimeout    time.Duration
}

// Executor executes paginated queries.
type Executor struct {
	engine     Engine
	rowCounter RowCounter
	classifier *classify.Classifier
	cfg        Config
}

// New creates an executor. rowCounter may be nil.
func New(engine Engine, rowCounter RowCounter, cfg Config) *Executor {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 10000
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	return &Executor{engine: engine, rowCounter: rowCounter, classifier: classify.New(), cfg: cfg}
}

// PageSize clamps a requested page size.
func (e *Executor) PageSize(requested int) int {
	switch {
	case requested <= 0:
		return e.cfg.DefaultPageSize
	case requested > e.cfg.MaxPageSize:
		return e.cfg.MaxPageSize
	}
	return requested
}

type page struct {
	schema types.Schema
	rows   []types.Row
	total  *int64
}

// Execute runs one page of req. When run is non-nil its context and
// cancellation flag govern the execution; run.Finish is left to the caller.
func (e *Executor) Execute(ctx context.Context, run *session.Run, req Request) (*types.QueryResult, error) {
	start := time.Now()

	stmt, err := parser.Analyze(req.SQL)
	if err != nil {
		return nil, err
	}

	hash := QueryHash(stmt.SQL, req.Bindings)
	pageSize := e.PageSize(req.PageSize)
	var offset int64
	if req.Cursor != "" {
		c, err := DecodeCursor(req.Cursor, hash)
		if err != nil {
			return nil, err
		}
		offset, pageSize = c.Offset, e.PageSize(c.PageSize)
	}

	base := ctx
	if run != nil {
		base = run.Context()
	}
	qctx, cancel := context.WithTimeout(base, e.cfg.QueryTimeout)
	defer cancel()

	pageSQL, wrapped := PageSQL(stmt, pageSize+1, offset)
	var result *page
	err = e.engine.Do(qctx, func(ctx context.Context) error {
		p, err := e.fetch(ctx, run, stmt, req, pageSQL)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err == nil && run != nil && run.Cancelled() {
		err = apperrors.NewCancelledError()
	}
	if err != nil {
		err = e.classifyError(qctx, run, req, err)
		observability.ObserveQuery(outcome(err), time.Since(start))
		return nil, err
	}

	more := len(result.rows) > pageSize
	if more {
		result.rows = result.rows[:pageSize]
	}

	qr := &types.QueryResult{
		Schema:        e.tagSchema(result.schema, result.rows, req.KnownColumns),
		Rows:          result.rows,
		TotalEstimate: result.total,
		Done:          !more,
		Offset:        offset,
	}
	if more {
		qr.NextCursor = EncodeCursor(Cursor{Offset: offset + int64(pageSize), PageSize: pageSize, Hash: hash})
	} else {
		total := offset + int64(len(result.rows))
		qr.TotalEstimate = &total
	}
	if qr.TotalEstimate == nil {
		qr.TotalEstimate = e.estimate(ctx, stmt, req.Bindings)
	}

	elapsed := time.Since(start)
	qr.Stats = types.ExecutionStats{
		ExecutionTime: elapsed,
		ExecutionMs:   elapsed.Milliseconds(),
		RowsReturned:  len(qr.Rows),
		Wrapped:       wrapped,
	}
	observability.ObserveQuery(observability.StatusOK, elapsed)
	slog.Debug("Query page executed.",
		"rows", len(qr.Rows), "offset", offset, "done", qr.Done, "wrapped", wrapped, "duration", elapsed)
	return qr, nil
}

// fetch binds the datasets on a dedicated connection and reads up to one
// page plus one row.
func (e *Executor) fetch(ctx context.Context, run *session.Run, stmt *parser.Statement, req Request, pageSQL string) (*page, error) {
	conn, err := e.engine.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	release, err := e.engine.BindViews(ctx, conn, req.Bindings)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx, pageSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	p := &page{schema: types.Schema{Columns: make([]types.Column, len(colTypes))}}
	for i, ct := range colTypes {
		nullable, ok := ct.Nullable()
		p.schema.Columns[i] = types.Column{
			Name:         ct.Name(),
			PhysicalType: ct.DatabaseTypeName(),
			Nullable:     nullable || !ok,
		}
	}
	uniqueNames(p.schema.Columns)

	values := make([]interface{}, len(colTypes))
	ptrs := make([]interface{}, len(colTypes))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for n := 0; rows.Next(); n++ {
		if n%cancelCheckRows == 0 && run != nil && run.Cancelled() {
			return nil, apperrors.NewCancelledError()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(types.Row, len(values))
		copy(row, values)
		p.rows = append(p.rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if req.Count {
		var total int64
		if err := conn.QueryRowContext(ctx, CountSQL(stmt)).Scan(&total); err != nil {
			return nil, err
		}
		p.total = &total
	}
	return p, nil
}

// uniqueNames suffixes repeated column names with _1, _2 and so on, the
// way the engine names them when a query is wrapped.
func uniqueNames(cols []types.Column) {
	used := make(map[string]bool, len(cols))
	for i := range cols {
		name := cols[i].Name
		for k := 1; used[name]; k++ {
			name = fmt.Sprintf("%s_%d", cols[i].Name, k)
		}
		used[name] = true
		cols[i].Name = name
	}
}

// classifyError maps a failed execution onto the error taxonomy. The
// context is consulted first since the engine reports interrupts in its
// own words.
func (e *Executor) classifyError(qctx context.Context, run *session.Run, req Request, err error) error {
	var ee *apperrors.EngineError
	switch {
	case run != nil && run.Cancelled():
		return apperrors.NewCancelledError()
	case errors.Is(qctx.Err(), context.DeadlineExceeded):
		return apperrors.NewTimeoutError(e.cfg.QueryTimeout)
	case errors.Is(qctx.Err(), context.Canceled):
		return apperrors.NewCancelledError()
	case errors.As(err, &ee):
		return err
	}
	return apperrors.NewQueryError(datasetIDs(req.Bindings), err)
}

// estimate returns the Parquet row count of a bare single-table scan.
func (e *Executor) estimate(ctx context.Context, stmt *parser.Statement, bindings map[string]*dataset.Dataset) *int64 {
	if e.rowCounter == nil || stmt.BareTable == "" {
		return nil
	}
	ds, ok := bindings[stmt.BareTable]
	if !ok {
		return nil
	}
	n, ok := e.rowCounter.RowCount(ctx, ds)
	if !ok {
		return nil
	}
	return &n
}

// tagSchema assigns semantic tags to result columns. A column that keeps
// a dataset column's name and type keeps its tag; others are classified
// from the page values.
func (e *Executor) tagSchema(schema types.Schema, rows []types.Row, known map[string]types.Column) types.Schema {
	samples := make(map[string][]string)
	for i := range schema.Columns {
		col := &schema.Columns[i]
		if k, ok := known[col.Name]; ok && k.PhysicalType == col.PhysicalType && k.Semantic != "" {
			col.Semantic = k.Semantic
			continue
		}
		if !classify.NeedsSamples(*col) {
			continue
		}
		for _, r := range rows {
			if len(samples[col.Name]) >= maxSampleValues {
				break
			}
			if s, ok := r[i].(string); ok && s != "" {
				samples[col.Name] = append(samples[col.Name], s)
			}
		}
	}

	classified := e.classifier.Classify(schema, samples)
	for i := range schema.Columns {
		if schema.Columns[i].Semantic == "" {
			schema.Columns[i].Semantic = classified.Columns[i].Semantic
		}
	}
	return schema
}

func datasetIDs(bindings map[string]*dataset.Dataset) []string {
	ids := make([]string, 0, len(bindings))
	for _, ds := range bindings {
		ids = append(ids, ds.ID)
	}
	sort.Strings(ids)
	return ids
}

func outcome(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.CodeExecutionTimeout:
		return observability.StatusTimeout
	case apperrors.CodeCancelled:
		return observability.StatusCancelled
	}
	return observability.StatusError
}

// String renders a request for logs without its bindings.
func (r Request) String() string {
	return fmt.Sprintf("query(%q page=%d cursor=%t)", r.SQL, r.PageSize, r.Cursor != "")
}
