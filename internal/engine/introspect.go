package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/smoosense/smoosense/internal/dataset"
)

// ColumnInfo is one row of DESCRIBE output.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// Describe reports the column names and types of ds without reading its
// rows beyond what type inference needs.
func (e *Engine) Describe(ctx context.Context, ds *dataset.Dataset) ([]ColumnInfo, error) {
	return e.DescribeFiles(ctx, ds.Format, ds.FilePaths())
}

// DescribeFiles is Describe over an explicit file list.
func (e *Engine) DescribeFiles(ctx context.Context, format dataset.Format, files []string) ([]ColumnInfo, error) {
	query := "DESCRIBE SELECT * FROM " + ScanExpr(format, files, e.csvSample)

	var cols []ColumnInfo
	err := e.Do(ctx, func(ctx context.Context) error {
		rows, err := e.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		names, err := rows.Columns()
		if err != nil {
			return err
		}
		values := make([]sql.NullString, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}

		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			// column_name, column_type, null, key, default, extra
			col := ColumnInfo{Name: values[0].String, Type: values[1].String, Nullable: true}
			if len(values) > 2 && strings.EqualFold(values[2].String, "NO") {
				col.Nullable = false
			}
			cols = append(cols, col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// SampleValues returns up to limit non-null values of each column, cast to
// text, in scan order.
func (e *Engine) SampleValues(ctx context.Context, ds *dataset.Dataset, columns []string, limit int) (map[string][]string, error) {
	samples := make(map[string][]string, len(columns))
	if len(columns) == 0 || limit <= 0 {
		return samples, nil
	}

	scan := e.ScanExpr(ds)
	err := e.Do(ctx, func(ctx context.Context) error {
		for _, col := range columns {
			ident := QuoteIdent(col)
			query := fmt.Sprintf("SELECT CAST(%s AS VARCHAR) FROM %s WHERE %s IS NOT NULL LIMIT %d", ident, scan, ident, limit)
			vals, err := e.queryStrings(ctx, query)
			if err != nil {
				return fmt.Errorf("sample %s: %w", col, err)
			}
			samples[col] = vals
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

func (e *Engine) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

// BindViews creates one connection-local TEMP view per binding on conn.
// The returned release drops them; it uses a fresh context so it still
// runs after the query context was cancelled.
func (e *Engine) BindViews(ctx context.Context, conn *sql.Conn, bindings map[string]*dataset.Dataset) (func(), error) {
	created := make([]string, 0, len(bindings))
	release := func() {
		for _, name := range created {
			_, _ = conn.ExecContext(context.Background(), "DROP VIEW IF EXISTS "+QuoteIdent(name))
		}
	}

	for name, ds := range bindings {
		stmt := fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM %s", QuoteIdent(name), e.ScanExpr(ds))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			release()
			return func() {}, fmt.Errorf("bind %s: %w", name, err)
		}
		created = append(created, name)
	}
	return release, nil
}
