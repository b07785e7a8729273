package executor

import (
	"fmt"

	"github.com/smoosense/smoosense/internal/query/parser"
)

// ordinalColumn is the synthetic column that fixes row order of queries
// without their own top-level ORDER BY.
const ordinalColumn = "__smoo_ord"

// PageSQL rewrites stmt to fetch limit rows starting at offset. A query
// with a top-level ORDER BY and no LIMIT is paged in place; any other query
// is wrapped with a stable ordinal over its insertion-ordered output so
// consecutive pages neither repeat nor skip rows.
func PageSQL(stmt *parser.Statement, limit int, offset int64) (query string, wrapped bool) {
	if stmt.HasOrderBy && !stmt.HasLimit {
		return fmt.Sprintf("%s\nLIMIT %d OFFSET %d", stmt.SQL, limit, offset), false
	}
	return fmt.Sprintf(
		"SELECT * EXCLUDE (%[1]s) FROM (SELECT *, row_number() OVER () AS %[1]s FROM (\n%[2]s\n) __smoo_src) ORDER BY %[1]s LIMIT %[3]d OFFSET %[4]d",
		ordinalColumn, stmt.SQL, limit, offset,
	), true
}

// CountSQL counts the rows stmt produces.
func CountSQL(stmt *parser.Statement) string {
	return fmt.Sprintf("SELECT count(*) FROM (\n%s\n) __smoo_count", stmt.SQL)
}
