package types

import "time"

// Row is an ordered sequence of cell values aligned with a Schema.
type Row []interface{}

// QueryResult is the transient output of one paginated execution.
// Schema is a snapshot frozen at execution time.
type QueryResult struct {
	// Schema describes the returned columns, derived from the query itself
	Schema Schema `json:"schema"`

	// Rows holds at most one page of rows
	Rows []Row `json:"rows"`

	// TotalEstimate is the total row count when known
	TotalEstimate *int64 `json:"total_estimate,omitempty"`

	// NextCursor resumes at the following page; empty when Done
	NextCursor string `json:"next_cursor,omitempty"`

	// Done is true when no rows remain after this page
	Done bool `json:"done"`

	// Offset is the row offset of the first returned row
	Offset int64 `json:"offset"`

	// Stats contains execution statistics
	Stats ExecutionStats `json:"stats"`
}

// ExecutionStats records how a page was produced.
type ExecutionStats struct {
	ExecutionTime time.Duration `json:"-"`
	ExecutionMs   int64         `json:"execution_ms"`
	RowsReturned  int           `json:"rows_returned"`
	Wrapped       bool          `json:"ordinal_wrapped"`
}
