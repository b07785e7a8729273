package dataset

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/resolver"
)

// Registry maps user paths to Datasets. Every access re-lists the files and
// recomputes the fingerprint; only the derived Dataset snapshot is kept,
// bounded by LRU on last access.
type Registry struct {
	resolver    *resolver.Resolver
	strategy    GroupingStrategy
	maxDatasets int
	now         func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element // id -> element holding *Dataset
	order *list.List               // front = most recently accessed
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrategy replaces the default grouping strategy.
func WithStrategy(s GroupingStrategy) Option {
	return func(r *Registry) { r.strategy = s }
}

// WithMaxDatasets bounds the number of tracked datasets.
func WithMaxDatasets(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxDatasets = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry over the resolver's root.
func NewRegistry(res *resolver.Resolver, opts ...Option) *Registry {
	r := &Registry{
		resolver:    res,
		strategy:    GroupByFormat(),
		maxDatasets: 4096,
		now:         time.Now,
		items:       make(map[string]*list.Element),
		order:       list.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolver exposes the registry's path resolver.
func (r *Registry) Resolver() *resolver.Resolver {
	return r.resolver
}

// RegisterOrGet returns the dataset at path. A file is its own dataset; a
// directory must contain exactly one candidate group, otherwise
// AmbiguousDatasetError lists the candidates for the caller to choose from.
func (r *Registry) RegisterOrGet(ctx context.Context, path string) (*Dataset, error) {
	candidates, err := r.Candidates(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 1 {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return nil, apperrors.NewAmbiguousDatasetError(path, ids)
	}
	return r.record(candidates[0]), nil
}

// RegisterOrGetFormat picks the candidate of the given format at path.
func (r *Registry) RegisterOrGetFormat(ctx context.Context, path string, format Format) (*Dataset, error) {
	if format == FormatUnknown {
		return r.RegisterOrGet(ctx, path)
	}
	candidates, err := r.Candidates(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Format == format {
			return r.record(c), nil
		}
	}
	return nil, apperrors.NewNotFoundError(path, fmt.Errorf("no %s dataset at this path", format))
}

// Candidates lists every dataset the grouping strategy finds at path
// without registering any of them.
func (r *Registry) Candidates(ctx context.Context, path string) ([]*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := r.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	entry, err := r.resolver.Stat(abs)
	if err != nil {
		return nil, err
	}

	if !entry.IsDir {
		format := DetectFormat(entry.Name)
		if format == FormatUnknown {
			return nil, apperrors.NewUnsupportedFormatError(entry.RelPath)
		}
		return []*Dataset{r.build(entry.RelPath, entry, format, []resolver.Entry{entry})}, nil
	}

	var entries []resolver.Entry
	if r.strategy.Recursive {
		entries, err = r.resolver.Walk(abs)
	} else {
		entries, err = r.resolver.List(abs, false)
	}
	if err != nil {
		return nil, err
	}

	groups := r.strategy.Group(abs, entries)
	if len(groups) == 0 {
		return nil, apperrors.NewNotFoundError(entry.RelPath, fmt.Errorf("no tabular files in directory"))
	}

	datasets := make([]*Dataset, 0, len(groups))
	for _, g := range groups {
		id := entry.RelPath
		if len(groups) > 1 {
			id = fmt.Sprintf("%s#%s", entry.RelPath, g.Format)
		}
		datasets = append(datasets, r.build(id, entry, g.Format, g.Files))
	}
	return datasets, nil
}

// Get returns the last snapshot recorded for id, without touching disk.
func (r *Registry) Get(id string) (*Dataset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elem, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Dataset), true
}

// Len returns the number of tracked datasets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) build(id string, root resolver.Entry, format Format, entries []resolver.Entry) *Dataset {
	files := filesFromEntries(entries)
	return &Dataset{
		ID:          id,
		Path:        root.Path,
		RelPath:     root.RelPath,
		Format:      format,
		Files:       files,
		Fingerprint: ComputeFingerprint(files),
		IsDir:       root.IsDir,
	}
}

// record stores a fresh snapshot, replacing any previous one wholesale.
func (r *Registry) record(ds *Dataset) *Dataset {
	ds.LastAccess = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.items[ds.ID]; ok {
		prev := elem.Value.(*Dataset)
		if prev.Fingerprint != ds.Fingerprint {
			slog.Debug("Dataset files changed.", "dataset", ds.ID, "files", len(ds.Files))
		}
		elem.Value = ds
		r.order.MoveToFront(elem)
	} else {
		r.items[ds.ID] = r.order.PushFront(ds)
		slog.Debug("Dataset registered.", "dataset", ds.ID, "format", ds.Format, "files", len(ds.Files))
	}

	for r.order.Len() > r.maxDatasets {
		back := r.order.Back()
		evicted := back.Value.(*Dataset)
		r.order.Remove(back)
		delete(r.items, evicted.ID)
	}
	return ds
}
