// Package types provides the core data types shared across the smoosense engine.
package types

import "strings"

// SemanticTag is a rendering hint describing what a column holds beyond its
// physical storage type.
type SemanticTag string

const (
	TagText      SemanticTag = "text"
	TagNumber    SemanticTag = "number"
	TagBoolean   SemanticTag = "boolean"
	TagTimestamp SemanticTag = "timestamp"
	TagDate      SemanticTag = "date"
	TagImage     SemanticTag = "image"
	TagAudio     SemanticTag = "audio"
	TagVideo     SemanticTag = "video"
	TagURL       SemanticTag = "url"
	TagNested    SemanticTag = "nested"
	TagBinary    SemanticTag = "binary"
)

// IsReference reports whether the tag names content stored elsewhere.
func (t SemanticTag) IsReference() bool {
	switch t {
	case TagImage, TagAudio, TagVideo, TagURL:
		return true
	}
	return false
}

// Schema is the ordered column metadata of a dataset or query result.
// Column order matches the underlying file or result order.
type Schema struct {
	// Columns lists columns in source order
	Columns []Column `json:"columns"`
}

// Column describes a single column.
type Column struct {
	// Name is the column name, unique within a Schema
	Name string `json:"name"`

	// PhysicalType is the engine type name, e.g. VARCHAR, BIGINT, STRUCT(a INTEGER)
	PhysicalType string `json:"physical_type"`

	// Semantic is the classifier's rendering hint
	Semantic SemanticTag `json:"semantic"`

	// Nullable is false only when the engine reports NOT NULL
	Nullable bool `json:"nullable"`
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Tags returns the semantic tags in column order.
func (s Schema) Tags() []SemanticTag {
	tags := make([]SemanticTag, len(s.Columns))
	for i, c := range s.Columns {
		tags[i] = c.Semantic
	}
	return tags
}

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can replace the schema wholesale
// without aliasing a cached value.
func (s Schema) Clone() Schema {
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	return Schema{Columns: cols}
}

// Equal reports structural equality.
func (s Schema) Equal(other Schema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// BaseType returns the upper-cased type name without parameters,
// e.g. "DECIMAL(18,3)" gives "DECIMAL" and "INTEGER[]" gives "INTEGER[]".
func (c Column) BaseType() string {
	t := strings.ToUpper(strings.TrimSpace(c.PhysicalType))
	if i := strings.IndexByte(t, '('); i > 0 && !strings.HasSuffix(t, "]") {
		return t[:i]
	}
	return t
}
