package format

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/duckdb/duckdb-go/v2"
)

// MapEntry is one key/value pair of an engine MAP value. Maps keyed by
// non-strings have no JSON object form, so they travel as entry lists.
type MapEntry struct {
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
}

// Interval is the JSON form of an engine INTERVAL.
type Interval struct {
	Months int32 `json:"months"`
	Days   int32 `json:"days"`
	Micros int64 `json:"micros"`
}

// Value converts a scanned engine value to a JSON-safe value without
// losing precision. physicalType disambiguates raw bytes.
func Value(v interface{}, physicalType string) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case duckdb.Decimal:
		return formatDecimal(x.Value, int(x.Scale))
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case float64:
		return safeFloat(x)
	case float32:
		return safeFloat(float64(x))
	case duckdb.UUID:
		return x.String()
	case duckdb.Interval:
		return Interval{Months: x.Months, Days: x.Days, Micros: x.Micros}
	case duckdb.Map:
		return mapEntries(x, elementType(physicalType, "MAP"))
	case []byte:
		if strings.EqualFold(physicalType, "UUID") && len(x) == 16 {
			return uuidString(x)
		}
		return x
	case []interface{}:
		elem := elementType(physicalType, "LIST")
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = Value(e, elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = Value(e, "")
		}
		return out
	case time.Time:
		return x
	}
	return v
}

// formatDecimal renders unscaled * 10^-scale exactly.
func formatDecimal(unscaled *big.Int, scale int) string {
	if unscaled == nil {
		return "0"
	}
	if scale <= 0 {
		return unscaled.String()
	}
	digits := new(big.Int).Abs(unscaled).String()
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	s := digits[:point] + "." + digits[point:]
	if unscaled.Sign() < 0 {
		return "-" + s
	}
	return s
}

func safeFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func uuidString(b []byte) string {
	s := hex.EncodeToString(b)
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

// mapEntries orders entries by their printed key so output is stable.
func mapEntries(m duckdb.Map, valueType string) []MapEntry {
	out := make([]MapEntry, 0, len(m))
	for k, v := range m {
		out = append(out, MapEntry{Key: Value(k, ""), Value: Value(v, valueType)})
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i].Key) < fmt.Sprint(out[j].Key)
	})
	return out
}

// elementType returns the element type of "T[]" list types and the value
// type of "MAP(K, V)" types, or "" when unknown.
func elementType(physicalType, kind string) string {
	t := strings.TrimSpace(physicalType)
	switch kind {
	case "LIST":
		if strings.HasSuffix(t, "[]") {
			return strings.TrimSuffix(t, "[]")
		}
	case "MAP":
		upper := strings.ToUpper(t)
		if strings.HasPrefix(upper, "MAP(") && strings.HasSuffix(t, ")") {
			inner := t[4 : len(t)-1]
			if i := topLevelComma(inner); i >= 0 {
				return strings.TrimSpace(inner[i+1:])
			}
		}
	}
	return ""
}

func topLevelComma(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// isText reports whether a raw value should be offered to the linker.
func isText(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != "" && utf8.ValidString(s)
}
