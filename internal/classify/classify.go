// Package classify assigns semantic tags to columns from their names,
// physical types and a handful of sampled values.
package classify

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/smoosense/smoosense/pkg/types"
)

// Input is what a rule sees for one column.
type Input struct {
	Column  types.Column
	Samples []string
}

// Rule proposes a tag for a column. ok is false when the rule does not
// apply and the next rule should be consulted.
type Rule struct {
	Name  string
	Apply func(in Input) (tag types.SemanticTag, ok bool)
}

// Classifier evaluates rules in order; the first rule that applies wins.
type Classifier struct {
	rules []Rule
}

// New creates a classifier. With no rules it uses DefaultRules.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// DefaultRules returns the built-in rule order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "name-convention", Apply: nameConvention},
		{Name: "value-sniffing", Apply: valueSniffing},
		{Name: "nested", Apply: nested},
		{Name: "binary", Apply: binary},
		{Name: "scalar", Apply: scalar},
	}
}

var defaultClassifier = New()

// Classify tags every column of schema with the default rules.
func Classify(schema types.Schema, samples map[string][]string) types.Schema {
	return defaultClassifier.Classify(schema, samples)
}

// Classify returns a copy of schema with Semantic set on every column. It
// never fails: a rule that panics is skipped.
func (c *Classifier) Classify(schema types.Schema, samples map[string][]string) types.Schema {
	out := schema.Clone()
	for i := range out.Columns {
		out.Columns[i].Semantic = c.Tag(Input{Column: out.Columns[i], Samples: samples[out.Columns[i].Name]})
	}
	return out
}

// Tag classifies one column.
func (c *Classifier) Tag(in Input) types.SemanticTag {
	for _, r := range c.rules {
		if tag, ok := safeApply(r, in); ok {
			return tag
		}
	}
	return types.TagText
}

func safeApply(r Rule, in Input) (tag types.SemanticTag, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("Classifier rule panicked.", "rule", r.Name, "column", in.Column.Name, "panic", p)
			tag, ok = "", false
		}
	}()
	return r.Apply(in)
}

// NeedsSamples reports whether classifying col benefits from sampled
// values. Only textual columns can hold references.
func NeedsSamples(col types.Column) bool {
	return isTextual(col.BaseType())
}

var referenceWords = []string{"path", "url", "uri", "src", "link", "file"}

func nameConvention(in Input) (types.SemanticTag, bool) {
	if !isTextual(in.Column.BaseType()) || !hasReferenceName(in.Column.Name) {
		return "", false
	}
	if kind, _ := sniff(in.Samples); kind != "" {
		return kind, true
	}
	return types.TagURL, true
}

func valueSniffing(in Input) (types.SemanticTag, bool) {
	if !isTextual(in.Column.BaseType()) {
		return "", false
	}
	kind, allURLs := sniff(in.Samples)
	switch {
	case kind != "":
		return kind, true
	case allURLs:
		return types.TagURL, true
	}
	return "", false
}

func nested(in Input) (types.SemanticTag, bool) {
	t := in.Column.BaseType()
	if strings.HasSuffix(t, "]") {
		return types.TagNested, true
	}
	switch t {
	case "STRUCT", "LIST", "MAP", "UNION", "JSON":
		return types.TagNested, true
	}
	return "", false
}

func binary(in Input) (types.SemanticTag, bool) {
	switch in.Column.BaseType() {
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		return types.TagBinary, true
	}
	return "", false
}

func scalar(in Input) (types.SemanticTag, bool) {
	t := in.Column.BaseType()
	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
		"FLOAT", "REAL", "DOUBLE", "DECIMAL", "NUMERIC":
		return types.TagNumber, true
	case "BOOLEAN", "BOOL":
		return types.TagBoolean, true
	case "DATE":
		return types.TagDate, true
	}
	if strings.HasPrefix(t, "TIMESTAMP") || strings.HasPrefix(t, "TIME") {
		return types.TagTimestamp, true
	}
	return "", false
}

func isTextual(baseType string) bool {
	switch baseType {
	case "VARCHAR", "TEXT", "STRING", "CHAR", "BPCHAR":
		return true
	}
	return false
}

// hasReferenceName matches whole name tokens, so "profile" is not a file
// but "image_path", "imageURL" and "thumbnail-src" are references.
func hasReferenceName(name string) bool {
	for _, tok := range tokens(name) {
		for _, w := range referenceWords {
			if tok == w || (w != "file" && strings.HasSuffix(tok, w)) {
				return true
			}
		}
	}
	return false
}

// tokens splits on non-alphanumerics and lower-to-upper case changes.
func tokens(name string) []string {
	var out []string
	var cur strings.Builder
	var prev rune
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	flush()
	return out
}
