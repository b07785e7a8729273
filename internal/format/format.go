// Package format turns query results into the transport shape: every cell
// paired with its column's semantic tag and made JSON-safe.
package format

import (
	"context"

	"github.com/smoosense/smoosense/pkg/types"
)

// Linker turns a media reference into a URL a browser can fetch.
// Implementations must not touch the filesystem or the engine.
type Linker interface {
	Link(ctx context.Context, ref string, tag types.SemanticTag) (href string, ok bool)
}

// Column is the transport form of a result column.
type Column struct {
	Name         string            `json:"name"`
	PhysicalType string            `json:"physical_type"`
	Semantic     types.SemanticTag `json:"semantic"`
	Nullable     bool              `json:"nullable"`
}

// Cell is one value with its rendering hint.
type Cell struct {
	Value interface{}       `json:"value"`
	Tag   types.SemanticTag `json:"tag"`
	Href  string            `json:"href,omitempty"`
}

// Result is the transport form of a QueryResult.
type Result struct {
	Schema        []Column             `json:"schema"`
	Rows          [][]Cell             `json:"rows"`
	SemanticTags  []types.SemanticTag  `json:"semantic_tags"`
	NextCursor    string               `json:"next_cursor,omitempty"`
	TotalEstimate *int64               `json:"total_estimate"`
	Done          bool                 `json:"done"`
	Offset        int64                `json:"offset"`
	Stats         types.ExecutionStats `json:"stats"`
}

// Format converts a result without resolving links.
func Format(result *types.QueryResult) Result {
	return (&Formatter{}).Format(context.Background(), result)
}

// Formatter formats results, attaching hrefs to reference cells when a
// Linker is set.
type Formatter struct {
	Linker Linker
}

// Format converts result. It never mutates result.
func (f *Formatter) Format(ctx context.Context, result *types.QueryResult) Result {
	cols := result.Schema.Columns
	out := Result{
		Schema:        make([]Column, len(cols)),
		Rows:          make([][]Cell, len(result.Rows)),
		SemanticTags:  result.Schema.Tags(),
		NextCursor:    result.NextCursor,
		TotalEstimate: result.TotalEstimate,
		Done:          result.Done,
		Offset:        result.Offset,
		Stats:         result.Stats,
	}
	for i, c := range cols {
		out.Schema[i] = Column{Name: c.Name, PhysicalType: c.PhysicalType, Semantic: c.Semantic, Nullable: c.Nullable}
	}

	for r, row := range result.Rows {
		cells := make([]Cell, len(cols))
		for i, c := range cols {
			var raw interface{}
			if i < len(row) {
				raw = row[i]
			}
			cell := Cell{Value: Value(raw, c.PhysicalType), Tag: c.Semantic}
			if f.Linker != nil && c.Semantic.IsReference() {
				if ref, ok := isText(raw); ok {
					if href, ok := f.Linker.Link(ctx, ref, c.Semantic); ok {
						cell.Href = href
					}
				}
			}
			cells[i] = cell
		}
		out.Rows[r] = cells
	}
	return out
}
