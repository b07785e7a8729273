package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/internal/engine"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/format"
	"github.com/smoosense/smoosense/internal/history"
	"github.com/smoosense/smoosense/internal/query/executor"
	"github.com/smoosense/smoosense/pkg/types"
)

// DatasetRef names a dataset to bind into a query.
type DatasetRef struct {
	// Path is root-relative or absolute
	Path string `json:"path"`

	// Format picks one candidate of a mixed-format directory
	Format string `json:"format,omitempty"`

	// As is the table name used in SQL; defaults to the dataset's table name
	As string `json:"as,omitempty"`
}

// QueryRequest is one page request from a client.
type QueryRequest struct {
	// Session is the caller's token; empty creates a new session
	Session  string       `json:"session,omitempty"`
	SQL      string       `json:"sql"`
	Datasets []DatasetRef `json:"datasets"`
	PageSize int          `json:"page_size,omitempty"`
	Cursor   string       `json:"cursor,omitempty"`
	Count    bool         `json:"count,omitempty"`
}

// QueryResponse is a formatted page plus the session it ran on.
type QueryResponse struct {
	Session string `json:"session"`
	format.Result
}

// Query runs one page of req on its session. Without a session token a
// new session is created once the datasets are bound; it is destroyed
// again when the query fails, since the caller never learns its token.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	token := req.Session
	if token != "" {
		if _, err := s.sessions.Get(token); err != nil {
			return nil, err
		}
	}

	bindings, datasets, err := s.bind(ctx, req.Datasets)
	if err != nil {
		return nil, err
	}
	known, err := s.knownColumns(ctx, datasets)
	if err != nil {
		return nil, err
	}

	created := false
	if token == "" {
		if token, err = s.sessions.Create(); err != nil {
			return nil, err
		}
		created = true
	}
	discard := func() {
		if created {
			_ = s.sessions.Destroy(token)
		}
	}

	run, err := s.sessions.Begin(ctx, token, req.SQL)
	if err != nil {
		discard()
		return nil, err
	}
	started := time.Now()
	ids := datasetIDs(datasets)

	result, execErr := s.executor.Execute(ctx, run, executor.Request{
		SQL:          req.SQL,
		Bindings:     bindings,
		PageSize:     req.PageSize,
		Cursor:       req.Cursor,
		Count:        req.Count,
		KnownColumns: known,
	})

	cursor := ""
	if result != nil {
		cursor = result.NextCursor
	}
	run.Finish(ids, cursor)
	s.recordHistory(token, req.SQL, ids, started, result, execErr)

	if execErr != nil {
		slog.Debug("Query failed.", "session", token, "datasets", ids, "error", execErr)
		discard()
		return nil, execErr
	}
	for _, id := range ids {
		s.access.Record(id, "query")
	}

	return &QueryResponse{
		Session: token,
		Result:  s.formatter(datasets).Format(ctx, result),
	}, nil
}

// Preview returns the first page of every row of the dataset at path.
func (s *Service) Preview(ctx context.Context, token string, ref DatasetRef, pageSize int) (*QueryResponse, error) {
	ds, err := s.dataset(ctx, ref)
	if err != nil {
		return nil, err
	}
	name := ref.As
	if name == "" {
		name = ds.TableName()
	}
	ref.As = name
	resp, err := s.Query(ctx, QueryRequest{
		Session:  token,
		SQL:      "SELECT * FROM " + engine.QuoteIdent(name),
		Datasets: []DatasetRef{ref},
		PageSize: pageSize,
	})
	if err != nil {
		return nil, err
	}
	s.access.Record(ds.ID, "preview")
	return resp, nil
}

// bind resolves every reference to a dataset and a unique table name.
func (s *Service) bind(ctx context.Context, refs []DatasetRef) (map[string]*dataset.Dataset, []*dataset.Dataset, error) {
	bindings := make(map[string]*dataset.Dataset, len(refs))
	datasets := make([]*dataset.Dataset, 0, len(refs))
	for _, ref := range refs {
		ds, err := s.dataset(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		name := ref.As
		if name == "" {
			name = ds.TableName()
		}
		if _, dup := bindings[name]; dup {
			return nil, nil, apperrors.NewValidationError(fmt.Sprintf("table name %q is bound twice", name))
		}
		bindings[name] = ds
		datasets = append(datasets, ds)
	}
	return bindings, datasets, nil
}

func (s *Service) dataset(ctx context.Context, ref DatasetRef) (*dataset.Dataset, error) {
	if ref.Path == "" {
		return nil, apperrors.NewValidationError("dataset path is required")
	}
	f := dataset.ParseFormat(ref.Format)
	if ref.Format != "" && f == dataset.FormatUnknown {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown format %q", ref.Format))
	}
	return s.registry.RegisterOrGetFormat(ctx, ref.Path, f)
}

// knownColumns collects the classified columns of the bound datasets so
// result columns passing through keep their tags. Names that occur in more
// than one dataset are dropped.
func (s *Service) knownColumns(ctx context.Context, datasets []*dataset.Dataset) (map[string]types.Column, error) {
	known := make(map[string]types.Column)
	seen := make(map[string]int)
	for _, ds := range datasets {
		sch, err := s.inspector.GetSchema(ctx, ds)
		if err != nil {
			return nil, err
		}
		for _, c := range sch.Columns {
			seen[c.Name]++
			known[c.Name] = c
		}
	}
	for name, n := range seen {
		if n > 1 {
			delete(known, name)
		}
	}
	return known, nil
}

func (s *Service) recordHistory(token, sql string, ids []string, started time.Time, result *types.QueryResult, err error) {
	if s.history == nil {
		return
	}
	e := &history.Entry{
		SessionToken: token,
		SQL:          sql,
		Datasets:     ids,
		StartedAt:    started,
		Duration:     time.Since(started),
		Status:       history.StatusOK,
	}
	if result != nil {
		e.Rows = len(result.Rows)
	}
	if err != nil {
		e.Status = historyStatus(err)
		e.ErrorCode = apperrors.GetCode(err)
		e.ErrorMessage = err.Error()
	}

	// The request context may already be cancelled; history is best effort.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, e); err != nil {
		slog.Warn("Failed to record query history.", "session", token, "error", err)
	}
}

func historyStatus(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.CodeCancelled:
		return history.StatusCancelled
	case apperrors.CodeExecutionTimeout:
		return history.StatusTimeout
	}
	return history.StatusError
}

func datasetIDs(datasets []*dataset.Dataset) []string {
	ids := make([]string, len(datasets))
	for i, ds := range datasets {
		ids[i] = ds.ID
	}
	return ids
}
