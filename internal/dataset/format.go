package dataset

import (
	"path/filepath"
	"strings"
)

// Format is the physical file format of a dataset.
type Format string

const (
	FormatUnknown Format = ""
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// compressionSuffixes are stripped before looking at the format extension.
var compressionSuffixes = []string{".gz", ".zst", ".bz2"}

var extensions = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatTSV,
	".parquet": FormatParquet,
	".pq":      FormatParquet,
	".json":    FormatJSON,
	".jsonl":   FormatJSON,
	".ndjson":  FormatJSON,
}

// DetectFormat returns the tabular format implied by a file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	for _, suffix := range compressionSuffixes {
		if strings.HasSuffix(lower, suffix) {
			lower = strings.TrimSuffix(lower, suffix)
			break
		}
	}
	return extensions[filepath.Ext(lower)]
}

// ParseFormat parses a user-supplied format name.
func ParseFormat(s string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatTSV, FormatParquet, FormatJSON:
		return f
	}
	return FormatUnknown
}

// SelfDescribing reports whether the format embeds its schema, so no row
// sampling is needed to infer types.
func (f Format) SelfDescribing() bool {
	return f == FormatParquet
}
