// Package schema infers, classifies and caches dataset schemas.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/smoosense/smoosense/internal/classify"
	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/internal/engine"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/observability"
	"github.com/smoosense/smoosense/pkg/types"
)

// Introspector is the engine surface the inspector needs.
type Introspector interface {
	Describe(ctx context.Context, ds *dataset.Dataset) ([]engine.ColumnInfo, error)
	DescribeFiles(ctx context.Context, format dataset.Format, files []string) ([]engine.ColumnInfo, error)
	SampleValues(ctx context.Context, ds *dataset.Dataset, columns []string, limit int) (map[string][]string, error)
}

// Config holds inspector settings.
type Config struct {
	// CacheEntries bounds the schema cache (default: 512)
	CacheEntries int

	// SampleValues is how many values per textual column feed the
	// classifier (default: 20)
	SampleValues int

	// WarmConcurrency bounds Warm (default: 4)
	WarmConcurrency int

	// InspectTimeout bounds a single inspection (default: 30s)
	InspectTimeout time.Duration
}

// Stats reports inspector activity.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Inspections int64 `json:"inspections"`
	Failures    int64 `json:"failures"`
	Entries     int   `json:"entries"`
}

// Inspector derives a classified Schema per dataset and caches it against
// the dataset fingerprint.
type Inspector struct {
	introspector Introspector
	classifier   *classify.Classifier
	cache        *Cache
	group        singleflight.Group
	sampleValues int
	warmLimit    int
	timeout      time.Duration

	hits        atomic.Int64
	misses      atomic.Int64
	inspections atomic.Int64
	failures    atomic.Int64
}

// NewInspector creates an inspector. A nil classifier uses the default rules.
func NewInspector(in Introspector, classifier *classify.Classifier, cfg Config) *Inspector {
	if classifier == nil {
		classifier = classify.New()
	}
	if cfg.SampleValues <= 0 {
		cfg.SampleValues = 20
	}
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 4
	}
	if cfg.InspectTimeout <= 0 {
		cfg.InspectTimeout = 30 * time.Second
	}
	return &Inspector{
		introspector: in,
		classifier:   classifier,
		cache:        NewCache(cfg.CacheEntries),
		sampleValues: cfg.SampleValues,
		warmLimit:    cfg.WarmConcurrency,
		timeout:      cfg.InspectTimeout,
	}
}

// GetSchema returns the schema of ds at its current fingerprint. A cached
// entry for the same fingerprint is returned without touching the engine,
// including a cached failure. Concurrent misses for the same dataset and
// fingerprint share one inspection.
func (i *Inspector) GetSchema(ctx context.Context, ds *dataset.Dataset) (types.Schema, error) {
	if entry, ok := i.cache.Get(ds.ID, ds.Fingerprint); ok {
		i.hits.Add(1)
		observability.ObserveSchemaLookup(true)
		return entry.Schema, entry.Err
	}
	i.misses.Add(1)
	observability.ObserveSchemaLookup(false)

	key := fmt.Sprintf("%s@%016x", ds.ID, uint64(ds.Fingerprint))
	v, err, _ := i.group.Do(key, func() (interface{}, error) {
		if entry, ok := i.cache.Get(ds.ID, ds.Fingerprint); ok {
			return entry.Schema, entry.Err
		}
		schema, err := i.inspect(ctx, ds)
		if err != nil {
			// Only inference failures are a property of the files;
			// cancellation and timeouts are retried on the next call.
			if errors.Is(err, apperrors.ErrSchemaInference) {
				i.cache.Put(ds.ID, ds.Fingerprint, types.Schema{}, err)
			}
			return types.Schema{}, err
		}
		i.cache.Put(ds.ID, ds.Fingerprint, schema, nil)
		return schema, nil
	})
	if err != nil {
		return types.Schema{}, err
	}
	return v.(types.Schema).Clone(), nil
}

// inspect runs under the inspection deadline. Running out of it yields a
// TimeoutError, which GetSchema does not cache.
func (i *Inspector) inspect(parent context.Context, ds *dataset.Dataset) (types.Schema, error) {
	start := time.Now()
	i.inspections.Add(1)

	ctx, cancel := context.WithTimeout(parent, i.timeout)
	defer cancel()
	schema, err := i.describe(ctx, ds)
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		slog.Warn("Schema inspection timed out.", "dataset", ds.ID, "timeout", i.timeout)
		return types.Schema{}, apperrors.NewInspectTimeoutError(ds.ID, i.timeout)
	}
	if err == nil {
		slog.Debug("Schema inspected.", "dataset", ds.ID, "columns", len(schema.Columns), "duration", time.Since(start))
	}
	return schema, err
}

func (i *Inspector) describe(ctx context.Context, ds *dataset.Dataset) (types.Schema, error) {
	cols, err := i.introspector.Describe(ctx, ds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Schema{}, ctxErr
		}
		i.failures.Add(1)
		observability.ObserveInspection(err)
		file := i.offendingFile(ctx, ds)
		slog.Warn("Schema inference failed.", "dataset", ds.ID, "file", file, "error", err)
		return types.Schema{}, apperrors.NewSchemaInferenceError(ds.ID, file, err)
	}

	schema := types.Schema{Columns: make([]types.Column, len(cols))}
	var sampled []string
	for idx, c := range cols {
		schema.Columns[idx] = types.Column{Name: c.Name, PhysicalType: c.Type, Nullable: c.Nullable}
		if classify.NeedsSamples(schema.Columns[idx]) {
			sampled = append(sampled, c.Name)
		}
	}

	samples, err := i.introspector.SampleValues(ctx, ds, sampled, i.sampleValues)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Schema{}, ctxErr
		}
		// Classification still works from names and types alone.
		slog.Warn("Value sampling failed.", "dataset", ds.ID, "error", err)
		samples = nil
	}

	schema = i.classifier.Classify(schema, samples)
	observability.ObserveInspection(nil)
	return schema, nil
}

// offendingFile narrows a failure to the first file that cannot be
// described on its own. With a single file, that file is named.
func (i *Inspector) offendingFile(ctx context.Context, ds *dataset.Dataset) string {
	if len(ds.Files) == 0 {
		return ds.RelPath
	}
	if len(ds.Files) == 1 {
		return ds.Files[0].RelPath
	}
	for _, f := range ds.Files {
		if _, err := i.introspector.DescribeFiles(ctx, ds.Format, []string{f.Path}); err != nil {
			return f.RelPath
		}
	}
	return ds.RelPath
}

// Warm inspects datasets concurrently and returns the failures by
// dataset ID. Already cached datasets cost nothing.
func (i *Inspector) Warm(ctx context.Context, datasets []*dataset.Dataset) map[string]error {
	errs := make([]error, len(datasets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.warmLimit)
	for idx, ds := range datasets {
		g.Go(func() error {
			_, errs[idx] = i.GetSchema(gctx, ds)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]error)
	for idx, err := range errs {
		if err != nil {
			failed[datasets[idx].ID] = err
		}
	}
	return failed
}

// Invalidate forgets the cached schema of a dataset.
func (i *Inspector) Invalidate(id string) {
	i.cache.Invalidate(id)
}

// Stats returns a snapshot of inspector counters.
func (i *Inspector) Stats() Stats {
	return Stats{
		Hits:        i.hits.Load(),
		Misses:      i.misses.Load(),
		Inspections: i.inspections.Load(),
		Failures:    i.failures.Load(),
		Entries:     i.cache.Len(),
	}
}
