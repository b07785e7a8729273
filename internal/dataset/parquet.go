package dataset

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/parquet/file"
	"golang.org/x/sync/errgroup"

	"github.com/smoosense/smoosense/internal/resolver"
)

// skipMetadataKey reports writer-internal keys that are large and not
// meaningful to a reader of the dataset.
func skipMetadataKey(key string) bool {
	switch key {
	case "ARROW:schema", "pandas", "org.apache.spark.sql.parquet.row.metadata":
		return true
	}
	return false
}

// Metadata summarizes a dataset without running a query.
type Metadata struct {
	DatasetID string `json:"dataset_id"`
	Format    Format `json:"format"`
	Files     int    `json:"files"`
	SizeBytes int64  `json:"size_bytes"`

	// RowCount is exact for Parquet datasets and nil otherwise
	RowCount *int64 `json:"row_count,omitempty"`

	// RowGroups is the total Parquet row group count
	RowGroups int `json:"row_groups,omitempty"`

	// KeyValues holds file-level key/value metadata from the first file
	// that carries any, e.g. description, source, license
	KeyValues map[string]string `json:"key_values,omitempty"`
}

// footer is what one Parquet file contributes to Metadata.
type footer struct {
	rows      int64
	rowGroups int
	kv        map[string]string
}

// ReadMetadata reads Parquet footers of ds concurrently. Non-Parquet
// datasets only report file counts and sizes.
func ReadMetadata(ctx context.Context, res *resolver.Resolver, ds *Dataset) (*Metadata, error) {
	md := &Metadata{
		DatasetID: ds.ID,
		Format:    ds.Format,
		Files:     len(ds.Files),
		SizeBytes: ds.TotalSize(),
	}
	if ds.Format != FormatParquet {
		return md, nil
	}

	footers := make([]footer, len(ds.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range ds.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ft, err := readFooter(res, f.Path)
			if err != nil {
				return fmt.Errorf("parquet footer %s: %w", f.RelPath, err)
			}
			footers[i] = ft
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows int64
	for _, ft := range footers {
		rows += ft.rows
		md.RowGroups += ft.rowGroups
		if md.KeyValues == nil && len(ft.kv) > 0 {
			md.KeyValues = ft.kv
		}
	}
	md.RowCount = &rows
	return md, nil
}

func readFooter(res *resolver.Resolver, path string) (footer, error) {
	f, err := res.Open(path)
	if err != nil {
		return footer{}, err
	}
	defer f.Close()

	rdr, err := file.NewParquetReader(f)
	if err != nil {
		return footer{}, err
	}
	defer rdr.Close()

	ft := footer{
		rows:      rdr.NumRows(),
		rowGroups: rdr.NumRowGroups(),
	}
	for _, kv := range rdr.MetaData().KeyValueMetadata() {
		if kv == nil || kv.Value == nil || skipMetadataKey(kv.Key) {
			continue
		}
		if ft.kv == nil {
			ft.kv = make(map[string]string)
		}
		ft.kv[kv.Key] = *kv.Value
	}
	return ft, nil
}

// defaultRowCountEntries bounds a RowCountCache created without a limit.
const defaultRowCountEntries = 4096

// RowCountCache memoizes Parquet row counts by dataset fingerprint so the
// executor can report a total estimate for bare table scans cheaply. The
// least recently used entries are evicted beyond maxEntries.
type RowCountCache struct {
	res        *resolver.Resolver
	maxEntries int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type rowCountEntry struct {
	id          string
	fingerprint Fingerprint
	rows        int64
}

// NewRowCountCache creates an empty cache reading files through res and
// holding at most maxEntries datasets (default 4096).
func NewRowCountCache(res *resolver.Resolver, maxEntries int) *RowCountCache {
	if maxEntries <= 0 {
		maxEntries = defaultRowCountEntries
	}
	return &RowCountCache{
		res:        res,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Len returns the number of cached row counts.
func (c *RowCountCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RowCount returns the exact row count of a Parquet dataset, reading
// footers only when the fingerprint changed.
func (c *RowCountCache) RowCount(ctx context.Context, ds *Dataset) (int64, bool) {
	if ds.Format != FormatParquet {
		return 0, false
	}
	c.mu.Lock()
	if elem, ok := c.entries[ds.ID]; ok {
		if e := elem.Value.(*rowCountEntry); e.fingerprint == ds.Fingerprint {
			c.order.MoveToFront(elem)
			c.mu.Unlock()
			return e.rows, true
		}
	}
	c.mu.Unlock()

	md, err := ReadMetadata(ctx, c.res, ds)
	if err != nil || md.RowCount == nil {
		return 0, false
	}

	c.put(&rowCountEntry{id: ds.ID, fingerprint: ds.Fingerprint, rows: *md.RowCount})
	return *md.RowCount, true
}

func (c *RowCountCache) put(e *rowCountEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[e.id]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}
	c.entries[e.id] = c.order.PushFront(e)
	for len(c.entries) > c.maxEntries {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(*rowCountEntry).id)
	}
}
