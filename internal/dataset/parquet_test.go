package dataset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/smoosense/smoosense/internal/resolver"
)

// missingParquet is a dataset whose only file does not exist, so a cache
// miss cannot be filled from disk.
func missingParquet(res *resolver.Resolver, id string, fp Fingerprint) *Dataset {
	return &Dataset{
		ID:          id,
		Format:      FormatParquet,
		Fingerprint: fp,
		Files:       []File{{Path: filepath.Join(res.Root(), id+".parquet"), RelPath: id + ".parquet"}},
	}
}

func TestRowCountCache_EvictsLeastRecentlyUsed(t *testing.T) {
	res, err := resolver.New(t.TempDir())
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	c := NewRowCountCache(res, 2)
	ctx := context.Background()

	ds := func(id string) *Dataset { return missingParquet(res, id, 7) }
	for i, id := range []string{"a", "b"} {
		c.put(&rowCountEntry{id: id, fingerprint: 7, rows: int64(i + 10)})
	}

	// Touch "a" so "b" is the eviction candidate.
	if n, ok := c.RowCount(ctx, ds("a")); !ok || n != 10 {
		t.Fatalf("RowCount(a) = %d, %v; want cached 10", n, ok)
	}
	c.put(&rowCountEntry{id: "c", fingerprint: 7, rows: 12})

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.RowCount(ctx, ds("b")); ok {
		t.Error("b should have been evicted")
	}
	for _, id := range []string{"a", "c"} {
		if _, ok := c.RowCount(ctx, ds(id)); !ok {
			t.Errorf("%s should still be cached", id)
		}
	}
}

func TestRowCountCache_FingerprintMismatchMisses(t *testing.T) {
	res, err := resolver.New(t.TempDir())
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	c := NewRowCountCache(res, 0)
	c.put(&rowCountEntry{id: "a", fingerprint: 1, rows: 5})

	if n, ok := c.RowCount(context.Background(), missingParquet(res, "a", 2)); ok {
		t.Errorf("stale entry served: %d", n)
	}
	if c.maxEntries != defaultRowCountEntries {
		t.Errorf("maxEntries = %d, want %d", c.maxEntries, defaultRowCountEntries)
	}
}
