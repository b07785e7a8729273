// Package grpc serves the standard gRPC health protocol for smoosense so
// orchestrators can probe the engine without going through HTTP.
package grpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service name reported next to the server-wide "".
const ServiceName = "smoosense.Engine"

// Pinger reports whether the engine can serve queries.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer reports SERVING while pings succeed and NOT_SERVING once
// shut down.
type HealthServer struct {
	*health.Server
	pinger   Pinger
	interval time.Duration

	mu      sync.Mutex
	serving bool
	stopped bool
}

// NewHealthServer creates a HealthServer probing p every interval.
func NewHealthServer(p Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &HealthServer{Server: health.NewServer(), pinger: p, interval: interval}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Run probes the engine until ctx is done.
func (h *HealthServer) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

// Probe pings the engine once and updates the reported status.
func (h *HealthServer) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	err := h.pinger.Ping(pctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	serving := err == nil
	if serving != h.serving {
		if serving {
			slog.Info("Engine is serving.")
		} else {
			slog.Warn("Engine health check failed.", "error", err)
		}
	}
	h.serving = serving
	if serving {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Shutdown reports NOT_SERVING from now on.
func (h *HealthServer) Shutdown() {
	h.mu.Lock()
	h.stopped = true
	h.serving = false
	h.mu.Unlock()
	h.Server.Shutdown()
}

func (h *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", st)
	h.SetServingStatus(ServiceName, st)
}

// NewServer creates a gRPC server with health and reflection registered.
func NewServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(LoggingInterceptor)}, opts...)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)
	return s
}

// LoggingInterceptor logs each unary call at debug level with the caller's
// x-request-id.
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	requestID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			requestID = ids[0]
		}
	}
	slog.Debug("RPC served.",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)
	return resp, err
}
