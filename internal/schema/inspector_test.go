package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/internal/engine"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/pkg/types"
)

// fakeIntrospector counts engine calls and can fail for chosen files.
type fakeIntrospector struct {
	describes atomic.Int64
	samples   atomic.Int64
	delay     time.Duration
	block     atomic.Bool
	badFile   string
	cols      []engine.ColumnInfo
	values    map[string][]string
}

func (f *fakeIntrospector) Describe(ctx context.Context, ds *dataset.Dataset) ([]engine.ColumnInfo, error) {
	f.describes.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.DescribeFiles(ctx, ds.Format, ds.FilePaths())
}

func (f *fakeIntrospector) DescribeFiles(_ context.Context, _ dataset.Format, files []string) ([]engine.ColumnInfo, error) {
	for _, p := range files {
		if p == f.badFile {
			return nil, fmt.Errorf("Invalid Input Error: could not parse %s", p)
		}
	}
	return f.cols, nil
}

func (f *fakeIntrospector) SampleValues(_ context.Context, _ *dataset.Dataset, columns []string, _ int) (map[string][]string, error) {
	f.samples.Add(1)
	out := make(map[string][]string)
	for _, c := range columns {
		out[c] = f.values[c]
	}
	return out, nil
}

func newFake() *fakeIntrospector {
	return &fakeIntrospector{
		cols: []engine.ColumnInfo{
			{Name: "id", Type: "BIGINT", Nullable: true},
			{Name: "image_path", Type: "VARCHAR", Nullable: true},
			{Name: "meta", Type: "STRUCT(a INTEGER)", Nullable: true},
		},
		values: map[string][]string{"image_path": {"a.jpg", "b.png"}},
	}
}

func testDataset(files ...string) *dataset.Dataset {
	ds := &dataset.Dataset{ID: "data", RelPath: "data", Format: dataset.FormatParquet}
	for i, f := range files {
		ds.Files = append(ds.Files, dataset.File{Path: "/root/" + f, RelPath: f, Size: int64(i + 1), ModTime: time.Unix(1700000000, 0)})
	}
	ds.Fingerprint = dataset.ComputeFingerprint(ds.Files)
	return ds
}

func touch(ds *dataset.Dataset) *dataset.Dataset {
	next := *ds
	next.Files = append([]dataset.File(nil), ds.Files...)
	next.Files[0].ModTime = next.Files[0].ModTime.Add(time.Second)
	next.Fingerprint = dataset.ComputeFingerprint(next.Files)
	return &next
}

func TestGetSchema_ClassifiesColumns(t *testing.T) {
	insp := NewInspector(newFake(), nil, Config{})
	schema, err := insp.GetSchema(context.Background(), testDataset("a.parquet"))
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	want := []types.SemanticTag{types.TagNumber, types.TagImage, types.TagNested}
	for i, tag := range schema.Tags() {
		if tag != want[i] {
			t.Errorf("column %s: got %s, want %s", schema.Columns[i].Name, tag, want[i])
		}
	}
}

func TestGetSchema_CacheHitSkipsInspection(t *testing.T) {
	fake := newFake()
	insp := NewInspector(fake, nil, Config{})
	ds := testDataset("a.parquet")
	ctx := context.Background()

	first, err := insp.GetSchema(ctx, ds)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	second, err := insp.GetSchema(ctx, ds)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if !first.Equal(second) {
		t.Error("cached schema should equal the inspected one")
	}
	if fake.describes.Load() != 1 {
		t.Errorf("expected 1 inspection, got %d", fake.describes.Load())
	}

	stats := insp.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Inspections != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	// Callers get copies; mutating one must not leak into the cache.
	second.Columns[0].Semantic = types.TagText
	third, _ := insp.GetSchema(ctx, ds)
	if third.Columns[0].Semantic != types.TagNumber {
		t.Error("cached schema was aliased")
	}
}

func TestGetSchema_TouchInvalidates(t *testing.T) {
	fake := newFake()
	insp := NewInspector(fake, nil, Config{})
	ds := testDataset("a.parquet")
	ctx := context.Background()

	if _, err := insp.GetSchema(ctx, ds); err != nil {
		t.Fatal(err)
	}
	if _, err := insp.GetSchema(ctx, touch(ds)); err != nil {
		t.Fatal(err)
	}
	if fake.describes.Load() != 2 {
		t.Errorf("a changed fingerprint must re-inspect, got %d inspections", fake.describes.Load())
	}
}

func TestGetSchema_FailureIsCachedUntilChange(t *testing.T) {
	fake := newFake()
	ds := testDataset("a.parquet", "b.parquet", "c.parquet")
	fake.badFile = ds.Files[1].Path
	insp := NewInspector(fake, nil, Config{})
	ctx := context.Background()

	_, err := insp.GetSchema(ctx, ds)
	if !errors.Is(err, apperrors.ErrSchemaInference) {
		t.Fatalf("expected SchemaInferenceError, got %v", err)
	}
	if file := apperrors.GetDetails(err)["file"]; file != "b.parquet" {
		t.Errorf("error should name the offending file, got %v", file)
	}

	_, err = insp.GetSchema(ctx, ds)
	if !errors.Is(err, apperrors.ErrSchemaInference) {
		t.Fatalf("cached failure expected, got %v", err)
	}
	if fake.describes.Load() != 1 {
		t.Errorf("a cached failure must not re-inspect, got %d", fake.describes.Load())
	}

	fake.badFile = ""
	if _, err := insp.GetSchema(ctx, touch(ds)); err != nil {
		t.Errorf("after the files change the dataset should recover, got %v", err)
	}
}

func TestGetSchema_CancellationIsNotCached(t *testing.T) {
	fake := newFake()
	insp := NewInspector(&cancellingIntrospector{fakeIntrospector: fake}, nil, Config{})
	ds := testDataset("a.parquet")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := insp.GetSchema(ctx, ds); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if insp.Stats().Entries != 0 {
		t.Error("cancellation must not be cached")
	}
}

type cancellingIntrospector struct {
	*fakeIntrospector
}

func (c *cancellingIntrospector) Describe(ctx context.Context, ds *dataset.Dataset) ([]engine.ColumnInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeIntrospector.Describe(ctx, ds)
}

func TestGetSchema_InspectionTimesOut(t *testing.T) {
	fake := newFake()
	fake.block.Store(true)
	insp := NewInspector(fake, nil, Config{InspectTimeout: 50 * time.Millisecond})
	ds := testDataset("a.parquet")

	start := time.Now()
	_, err := insp.GetSchema(context.Background(), ds)
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("GetSchema blocked for %v past the inspection deadline", d)
	}

	fake.block.Store(false)
	schema, err := insp.GetSchema(context.Background(), ds)
	if err != nil {
		t.Fatalf("timeout must not be cached, got %v", err)
	}
	if len(schema.Columns) != 3 || fake.describes.Load() != 2 {
		t.Errorf("expected a fresh inspection, columns=%d describes=%d", len(schema.Columns), fake.describes.Load())
	}
}

func TestGetSchema_ConcurrentMissesShareInspection(t *testing.T) {
	fake := newFake()
	fake.delay = 50 * time.Millisecond
	insp := NewInspector(fake, nil, Config{})
	ds := testDataset("a.parquet")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := insp.GetSchema(context.Background(), ds); err != nil {
				t.Errorf("GetSchema: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := fake.describes.Load(); n != 1 {
		t.Errorf("expected a single shared inspection, got %d", n)
	}
}

func TestWarm(t *testing.T) {
	fake := newFake()
	insp := NewInspector(fake, nil, Config{WarmConcurrency: 2})

	good := testDataset("a.parquet")
	bad := testDataset("x.parquet")
	bad.ID = "bad"
	fake.badFile = bad.Files[0].Path

	failed := insp.Warm(context.Background(), []*dataset.Dataset{good, bad})
	if len(failed) != 1 || failed["bad"] == nil {
		t.Errorf("unexpected failures %v", failed)
	}
	if insp.Stats().Entries != 2 {
		t.Errorf("both outcomes should be cached, got %d entries", insp.Stats().Entries)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	s := types.Schema{Columns: []types.Column{{Name: "id"}}}
	c.Put("a", 1, s, nil)
	c.Put("b", 1, s, nil)
	if _, ok := c.Get("a", 1); !ok {
		t.Fatal("a should be cached")
	}
	c.Put("c", 1, s, nil)

	if _, ok := c.Get("b", 1); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a", 2); ok {
		t.Error("a different fingerprint must miss")
	}
	c.Invalidate("a")
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}
