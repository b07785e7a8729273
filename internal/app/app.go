// Package app wires the smoosense components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/smoosense/smoosense/internal/api/grpc"
	httpapi "github.com/smoosense/smoosense/internal/api/http"
	"github.com/smoosense/smoosense/internal/config"
	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/internal/engine"
	"github.com/smoosense/smoosense/internal/history"
	"github.com/smoosense/smoosense/internal/observability"
	"github.com/smoosense/smoosense/internal/query/executor"
	"github.com/smoosense/smoosense/internal/resolver"
	"github.com/smoosense/smoosense/internal/schema"
	"github.com/smoosense/smoosense/internal/server"
	"github.com/smoosense/smoosense/internal/service"
	"github.com/smoosense/smoosense/internal/session"
	"github.com/smoosense/smoosense/internal/storage"
)

// maintenanceInterval is how often access stats and history are pruned.
const maintenanceInterval = time.Hour

// App owns every long-lived component.
type App struct {
	cfg     *config.Config
	version string

	engine   *engine.Engine
	sessions *session.Manager
	history  *history.Store
	access   *observability.AccessStats
	service  *service.Service
	health   *grpcapi.HealthServer
	shutdown *server.ShutdownManager

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config, version string) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{
		cfg:      cfg,
		version:  version,
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
	}, nil
}

// Start opens the components and starts serving. On failure every
// component opened so far is closed again.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.shutdown.OnShutdownStart(cancel)
	a.shutdown.OnShutdownEnd(a.wg.Wait)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"components", a.initComponents},
		{"http server", a.startHTTP},
		{"grpc server", a.startGRPC},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = a.shutdown.Shutdown(context.Background(), "startup failed")
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("failed to start %s: %w", step.name, err)
		}
	}

	a.goBackground(func() { a.maintain(ctx) })
	a.goBackground(func() {
		n, err := a.service.Warm(ctx, ".")
		if err != nil {
			slog.Warn("Schema warmup failed.", "error", err)
			return
		}
		slog.Info("Schema warmup finished.", "datasets", n)
	})

	slog.Info("Smoosense started.", "root", a.cfg.RootDir, "http", a.HTTPAddr(),
		"prefix", a.cfg.HTTP.URLPrefix, "version", a.version)
	return nil
}

// initComponents opens the engine, registry, inspector, sessions, history
// and media linker, and builds the service on top of them.
func (a *App) initComponents(ctx context.Context) error {
	res, err := resolver.New(a.cfg.RootDir)
	if err != nil {
		return err
	}

	a.engine, err = engine.Open(a.cfg.Engine)
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser("engine", a.engine)

	a.sessions = session.NewManager(a.cfg.Session)
	a.sessions.Start(ctx)
	a.shutdown.RegisterCloser("sessions", server.CloserFunc(func() error {
		a.sessions.Close()
		return nil
	}))

	inspector := schema.NewInspector(a.engine, nil, schema.Config{
		CacheEntries:   a.cfg.Schema.CacheEntries,
		SampleValues:   a.cfg.Schema.SampleValues,
		InspectTimeout: a.cfg.Schema.InspectTimeout,
	})
	deps := service.Deps{
		Engine:    a.engine,
		Registry:  dataset.NewRegistry(res, dataset.WithMaxDatasets(a.cfg.Schema.MaxDatasets)),
		Inspector: inspector,
		Sessions:  a.sessions,
		RowCounts: dataset.NewRowCountCache(res, a.cfg.Schema.MaxDatasets),
	}
	deps.Executor = executor.New(a.engine, deps.RowCounts, executor.Config{
		DefaultPageSize: a.cfg.Pagination.DefaultPageSize,
		MaxPageSize:     a.cfg.Pagination.MaxPageSize,
		QueryTimeout:    a.cfg.Engine.QueryTimeout,
	})

	if a.cfg.History.Enabled {
		a.history, err = history.Open(a.cfg.History.Path)
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser("history", a.history)
		deps.History = a.history
		slog.Info("Query history enabled.", "path", a.cfg.History.Path)
	}

	var presigner storage.Presigner
	if a.cfg.Storage.S3.Enabled {
		p, err := storage.NewS3Presigner(ctx, a.cfg.Storage.S3)
		if err != nil {
			return err
		}
		presigner = p
		slog.Info("S3 presigning enabled.", "region", a.cfg.Storage.S3.Region, "endpoint", a.cfg.Storage.S3.Endpoint)
	}
	deps.Linker = storage.NewMediaLinker(httpapi.NormalizePrefix(a.cfg.HTTP.URLPrefix)+"/api/file", presigner)

	a.access = observability.NewAccessStats(24 * time.Hour)
	deps.Access = a.access

	a.service = service.New(deps, service.Config{
		ShowHidden:   a.cfg.Browse.ShowHidden,
		MaxFileBytes: a.cfg.Browse.MaxFileBytes,
	})
	return nil
}

func (a *App) startHTTP(ctx context.Context) error {
	handler := httpapi.NewRouter(ctx, a.service, httpapi.RouterConfig{
		Prefix:      a.cfg.HTTP.URLPrefix,
		CORSOrigins: a.cfg.HTTP.CORSOrigins,
		RateLimit:   a.cfg.HTTP.RateLimit,
		RateBurst:   a.cfg.HTTP.RateBurst,
		Version:     a.version,
		Middleware:  []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
	})

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpListener = lis
	a.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	a.shutdown.RegisterCloser("http server", server.HTTPServerCloser(a.httpServer, 10*time.Second))

	a.goBackground(func() {
		slog.Info("HTTP server listening.", "addr", lis.Addr().String())
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed.", "error", err)
		}
	})
	return nil
}

func (a *App) startGRPC(ctx context.Context) error {
	if !a.cfg.GRPC.Enabled {
		return nil
	}
	a.health = grpcapi.NewHealthServer(a.engine, 10*time.Second)
	a.grpcServer = grpcapi.NewServer(a.health)

	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}
	a.grpcListener = lis
	a.shutdown.OnShutdownStart(a.health.Shutdown)
	a.shutdown.RegisterCloser("grpc server", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.goBackground(func() { a.health.Run(ctx) })
	a.goBackground(func() {
		slog.Info("gRPC health server listening.", "addr", lis.Addr().String())
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC server failed.", "error", err)
		}
	})
	return nil
}

// maintain prunes access stats and history until ctx is done.
func (a *App) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runMaintenance(ctx)
		}
	}
}

func (a *App) runMaintenance(ctx context.Context) {
	if n := a.access.Prune(); n > 0 {
		slog.Debug("Pruned dataset access stats.", "removed", n)
	}
	if a.history == nil || a.cfg.History.Retention <= 0 {
		return
	}
	n, err := a.history.Prune(ctx, time.Now().Add(-a.cfg.History.Retention))
	if err != nil {
		slog.Warn("Failed to prune query history.", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned query history.", "removed", n)
	}
}

func (a *App) goBackground(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop shuts everything down: new requests are refused, in-flight ones
// drain, then servers and components close in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	slog.Info("Smoosense stopped.")
	return err
}

// WaitForShutdown blocks until a signal or ctx ends the app.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return err
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Service returns the service, or nil before Start.
func (a *App) Service() *service.Service {
	return a.service
}
