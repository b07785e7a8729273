package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/smoosense/smoosense/internal/dataset"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/resolver"
	"github.com/smoosense/smoosense/pkg/types"
)

// BrowseEntry is one folder listing entry. Format is set for files the
// engine can query.
type BrowseEntry struct {
	resolver.Entry
	Format dataset.Format `json:"format,omitempty"`
}

// Listing is the content of one directory.
type Listing struct {
	Path    string        `json:"path"`
	Entries []BrowseEntry `json:"entries"`
}

// Browse lists the directory at path.
func (s *Service) Browse(ctx context.Context, path string) (*Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := s.registry.Resolver()
	abs, err := res.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := res.List(abs, s.cfg.ShowHidden)
	if err != nil {
		return nil, err
	}

	out := &Listing{Path: res.Rel(abs), Entries: make([]BrowseEntry, len(entries))}
	for i, e := range entries {
		out.Entries[i] = BrowseEntry{Entry: e}
		if !e.IsDir {
			out.Entries[i].Format = dataset.DetectFormat(e.Name)
		}
	}
	return out, nil
}

// Candidates lists the datasets found at path, one per format for mixed
// directories.
func (s *Service) Candidates(ctx context.Context, path string) ([]*dataset.Dataset, error) {
	return s.registry.Candidates(ctx, path)
}

// SchemaResponse is a dataset with its classified schema.
type SchemaResponse struct {
	Dataset   *dataset.Dataset `json:"dataset"`
	TableName string           `json:"table_name"`
	Schema    types.Schema     `json:"schema"`
}

// Schema returns the classified schema of the dataset at ref.
func (s *Service) Schema(ctx context.Context, ref DatasetRef) (*SchemaResponse, error) {
	ds, err := s.dataset(ctx, ref)
	if err != nil {
		return nil, err
	}
	sch, err := s.inspector.GetSchema(ctx, ds)
	if err != nil {
		return nil, err
	}
	s.access.Record(ds.ID, "schema")
	return &SchemaResponse{Dataset: ds, TableName: ds.TableName(), Schema: sch}, nil
}

// Info returns file-level metadata of the dataset at ref, including exact
// Parquet row counts.
func (s *Service) Info(ctx context.Context, ref DatasetRef) (*dataset.Metadata, error) {
	ds, err := s.dataset(ctx, ref)
	if err != nil {
		return nil, err
	}
	md, err := dataset.ReadMetadata(ctx, s.registry.Resolver(), ds)
	if err != nil {
		return nil, apperrors.NewSchemaInferenceError(ds.ID, ds.RelPath, err)
	}
	s.access.Record(ds.ID, "info")
	return md, nil
}

// OpenFile opens a file for download. A non-empty base resolves relative
// paths against that dataset's location. Files above the configured size
// bound are refused.
func (s *Service) OpenFile(path, base string) (*os.File, resolver.Entry, error) {
	res := s.registry.Resolver()

	var abs string
	var err error
	if base != "" {
		baseAbs, berr := res.Resolve(base)
		if berr != nil {
			return nil, resolver.Entry{}, berr
		}
		abs, err = res.ResolveFrom(baseAbs, path)
	} else {
		abs, err = res.Resolve(path)
	}
	if err != nil {
		return nil, resolver.Entry{}, err
	}

	entry, err := res.Stat(abs)
	if err != nil {
		return nil, resolver.Entry{}, err
	}
	if entry.IsDir {
		return nil, resolver.Entry{}, apperrors.NewValidationError(fmt.Sprintf("%q is a directory", entry.RelPath))
	}
	if s.cfg.MaxFileBytes > 0 && entry.Size > s.cfg.MaxFileBytes {
		return nil, resolver.Entry{}, apperrors.NewValidationError(
			fmt.Sprintf("%q is %d bytes, above the %d byte limit", entry.RelPath, entry.Size, s.cfg.MaxFileBytes))
	}

	f, err := res.Open(abs)
	if err != nil {
		return nil, resolver.Entry{}, err
	}
	return f, entry, nil
}

// Warm pre-inspects the queryable files directly under path and returns
// how many schemas are cached. Failures are logged and skipped.
func (s *Service) Warm(ctx context.Context, path string) (int, error) {
	listing, err := s.Browse(ctx, path)
	if err != nil {
		return 0, err
	}
	var datasets []*dataset.Dataset
	for _, e := range listing.Entries {
		if e.IsDir || e.Format == dataset.FormatUnknown {
			continue
		}
		ds, err := s.registry.RegisterOrGet(ctx, e.RelPath)
		if err != nil {
			slog.Debug("Skipping dataset during warmup.", "path", e.RelPath, "error", err)
			continue
		}
		datasets = append(datasets, ds)
	}
	failed := s.inspector.Warm(ctx, datasets)
	for id, err := range failed {
		slog.Warn("Schema warmup failed.", "dataset", id, "error", err)
	}
	return len(datasets) - len(failed), nil
}
