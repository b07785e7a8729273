// Package service wires path resolution, dataset registration, schema
// inspection, sessions, execution and formatting into the operations the
// transports expose.
package service

import (
	"context"
	"time"

	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/internal/engine"
	"github.com/smoosense/smoosense/internal/format"
	"github.com/smoosense/smoosense/internal/history"
	"github.com/smoosense/smoosense/internal/observability"
	"github.com/smoosense/smoosense/internal/query/executor"
	"github.com/smoosense/smoosense/internal/schema"
	"github.com/smoosense/smoosense/internal/session"
	"github.com/smoosense/smoosense/internal/storage"
)

// HistoryStore persists executed queries.
type HistoryStore interface {
	Record(ctx context.Context, e *history.Entry) error
	Recent(ctx context.Context, limit int, session string) ([]history.Entry, error)
}

// Config holds service settings.
type Config struct {
	ShowHidden   bool
	MaxFileBytes int64
}

// Deps are the components a Service orchestrates. Linker and History may
// be nil.
type Deps struct {
	Engine    *engine.Engine
	Registry  *dataset.Registry
	Inspector *schema.Inspector
	Sessions  *session.Manager
	Executor  *executor.Executor
	RowCounts *dataset.RowCountCache
	Linker    *storage.MediaLinker
	History   HistoryStore
	Access    *observability.AccessStats
}

// Service implements the engine's user-facing operations.
type Service struct {
	engine    *engine.Engine
	registry  *dataset.Registry
	inspector *schema.Inspector
	sessions  *session.Manager
	executor  *executor.Executor
	rowCounts *dataset.RowCountCache
	linker    *storage.MediaLinker
	history   HistoryStore
	access    *observability.AccessStats
	cfg       Config
}

// New creates a Service.
func New(deps Deps, cfg Config) *Service {
	if deps.Access == nil {
		deps.Access = observability.NewAccessStats(24 * time.Hour)
	}
	return &Service{
		engine:    deps.Engine,
		registry:  deps.Registry,
		inspector: deps.Inspector,
		sessions:  deps.Sessions,
		executor:  deps.Executor,
		rowCounts: deps.RowCounts,
		linker:    deps.Linker,
		history:   deps.History,
		access:    deps.Access,
		cfg:       cfg,
	}
}

// CreateSession opens a session.
func (s *Service) CreateSession() (session.Info, error) {
	token, err := s.sessions.Create()
	if err != nil {
		return session.Info{}, err
	}
	return s.sessions.Get(token)
}

// Session returns a session snapshot.
func (s *Service) Session(token string) (session.Info, error) {
	return s.sessions.Get(token)
}

// DestroySession ends a session, cancelling its running query.
func (s *Service) DestroySession(token string) error {
	return s.sessions.Destroy(token)
}

// CancelQuery requests cancellation of the session's running query.
func (s *Service) CancelQuery(token string) (bool, error) {
	return s.sessions.Cancel(token)
}

// History returns recent queries, newest first. It is empty when history
// is disabled.
func (s *Service) History(ctx context.Context, limit int, token string) ([]history.Entry, error) {
	if s.history == nil {
		return []history.Entry{}, nil
	}
	entries, err := s.history.Recent(ctx, limit, token)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

// Stats is a snapshot of service activity.
type Stats struct {
	TopDatasets []observability.DatasetStats `json:"top_datasets"`
	Schema      schema.Stats                 `json:"schema_cache"`
	Engine      engine.Stats                 `json:"engine"`
	Sessions    int                          `json:"sessions"`
	Datasets    int                          `json:"datasets"`
}

// Stats reports the n most accessed datasets together with cache, engine
// and session counters.
func (s *Service) Stats(n int) Stats {
	return Stats{
		TopDatasets: s.access.Top(n),
		Schema:      s.inspector.Stats(),
		Engine:      s.engine.Stats(),
		Sessions:    s.sessions.Len(),
		Datasets:    s.registry.Len(),
	}
}

// Ping checks the engine.
func (s *Service) Ping(ctx context.Context) error {
	return s.engine.Ping(ctx)
}

func (s *Service) formatter(datasets []*dataset.Dataset) *format.Formatter {
	if s.linker == nil {
		return &format.Formatter{}
	}
	if len(datasets) == 1 {
		return &format.Formatter{Linker: s.linker.ForDataset(datasets[0].RelPath)}
	}
	return &format.Formatter{Linker: s.linker}
}
