package format

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/duckdb/duckdb-go/v2"

	"github.com/smoosense/smoosense/pkg/types"
)

func TestValue_Conversions(t *testing.T) {
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)

	tests := []struct {
		name string
		in   interface{}
		typ  string
		want interface{}
	}{
		{"decimal", duckdb.Decimal{Width: 10, Scale: 2, Value: big.NewInt(-5025)}, "DECIMAL(10,2)", "-50.25"},
		{"small decimal", duckdb.Decimal{Width: 8, Scale: 4, Value: big.NewInt(1)}, "DECIMAL(8,4)", "0.0001"},
		{"integral decimal", duckdb.Decimal{Width: 20, Scale: 0, Value: big.NewInt(42)}, "UBIGINT", "42"},
		{"hugeint", huge, "HUGEINT", "170141183460469231731687303715884105727"},
		{"nan", math.NaN(), "DOUBLE", "NaN"},
		{"inf", math.Inf(1), "DOUBLE", "Infinity"},
		{"neg inf", float32(math.Inf(-1)), "FLOAT", "-Infinity"},
		{"finite", 1.5, "DOUBLE", 1.5},
		{"int", int64(7), "BIGINT", int64(7)},
		{"uuid bytes", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}, "UUID",
			"01020304-0506-0708-090a-0b0c0d0e0f10"},
		{"interval", duckdb.Interval{Months: 1, Days: 2, Micros: 3}, "INTERVAL", Interval{Months: 1, Days: 2, Micros: 3}},
		{"nil", nil, "VARCHAR", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Value(tt.in, tt.typ)
			if got != tt.want {
				t.Errorf("Value(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValue_BlobPassesThrough(t *testing.T) {
	blob := []byte{0xff, 0x00, 0x10}
	got, ok := Value(blob, "BLOB").([]byte)
	if !ok || len(got) != 3 {
		t.Fatalf("blob should stay bytes, got %#v", got)
	}
	out, _ := json.Marshal(got)
	if string(out) != `"/wAQ"` {
		t.Errorf("blobs encode as base64, got %s", out)
	}
}

func TestValue_Nested(t *testing.T) {
	in := []interface{}{
		duckdb.Decimal{Width: 5, Scale: 1, Value: big.NewInt(15)},
		math.NaN(),
	}
	got := Value(in, "DECIMAL(5,1)[]").([]interface{})
	if got[0] != "1.5" || got[1] != "NaN" {
		t.Errorf("list elements should be converted, got %v", got)
	}

	m := duckdb.Map{int32(2): "b", int32(1): "a"}
	entries := Value(m, "MAP(INTEGER, VARCHAR)").([]MapEntry)
	if len(entries) != 2 || entries[0].Key != int32(1) || entries[1].Value != "b" {
		t.Errorf("map entries should be ordered by key, got %v", entries)
	}

	st := map[string]interface{}{"score": math.Inf(1)}
	if Value(st, "STRUCT(score DOUBLE)").(map[string]interface{})["score"] != "Infinity" {
		t.Error("struct fields should be converted")
	}
}

func TestElementType(t *testing.T) {
	if got := elementType("MAP(VARCHAR, DECIMAL(10,2))", "MAP"); got != "DECIMAL(10,2)" {
		t.Errorf("map value type = %q", got)
	}
	if got := elementType("INTEGER[]", "LIST"); got != "INTEGER" {
		t.Errorf("list element type = %q", got)
	}
}

type prefixLinker struct{ calls int }

func (l *prefixLinker) Link(_ context.Context, ref string, tag types.SemanticTag) (string, bool) {
	l.calls++
	if strings.HasPrefix(ref, "http") {
		return ref, true
	}
	return "/api/file?path=" + ref, true
}

func testResult() *types.QueryResult {
	total := int64(2)
	return &types.QueryResult{
		Schema: types.Schema{Columns: []types.Column{
			{Name: "id", PhysicalType: "BIGINT", Semantic: types.TagNumber},
			{Name: "image_path", PhysicalType: "VARCHAR", Semantic: types.TagImage},
			{Name: "price", PhysicalType: "DECIMAL(6,2)", Semantic: types.TagNumber},
		}},
		Rows: []types.Row{
			{int64(1), "img/a.jpg", duckdb.Decimal{Width: 6, Scale: 2, Value: big.NewInt(1999)}},
			{int64(2), nil, nil},
		},
		TotalEstimate: &total,
		Done:          true,
	}
}

func TestFormat_ZipsTags(t *testing.T) {
	res := testResult()
	out := Format(res)

	if len(out.Rows) != 2 || len(out.Rows[0]) != 3 {
		t.Fatalf("unexpected shape %v", out.Rows)
	}
	for i, cell := range out.Rows[0] {
		if cell.Tag != res.Schema.Columns[i].Semantic {
			t.Errorf("cell %d tagged %s", i, cell.Tag)
		}
		if cell.Href != "" {
			t.Error("no hrefs without a linker")
		}
	}
	if out.Rows[0][2].Value != "19.99" {
		t.Errorf("decimal should be exact, got %v", out.Rows[0][2].Value)
	}
	if len(out.SemanticTags) != 3 || out.SemanticTags[1] != types.TagImage {
		t.Errorf("semantic tags %v", out.SemanticTags)
	}
	if _, ok := res.Rows[0][2].(duckdb.Decimal); !ok {
		t.Error("Format must not mutate its input")
	}
}

func TestFormatter_LinksReferences(t *testing.T) {
	linker := &prefixLinker{}
	out := (&Formatter{Linker: linker}).Format(context.Background(), testResult())

	if href := out.Rows[0][1].Href; href != "/api/file?path=img/a.jpg" {
		t.Errorf("href = %q", href)
	}
	if out.Rows[1][1].Href != "" {
		t.Error("null references get no href")
	}
	if linker.calls != 1 {
		t.Errorf("only reference cells are linked, got %d calls", linker.calls)
	}
}

func TestFormat_JSONShape(t *testing.T) {
	raw, err := json.Marshal(Format(testResult()))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"schema", "rows", "semantic_tags", "total_estimate", "done"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing %q in %s", key, raw)
		}
	}
	if _, ok := decoded["next_cursor"]; ok {
		t.Error("a finished result omits next_cursor")
	}
}
