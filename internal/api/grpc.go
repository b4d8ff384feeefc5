package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CacheService is the service name reported by the health server.
const CacheService = "stocktest.Cache"

// GRPCServer hosts the standard health service and reflection. It reports
// NOT_SERVING until SetServing(true) is called.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// NewGRPCServer creates a GRPCServer.
func NewGRPCServer(opts ...grpc.ServerOption) *GRPCServer {
	g := &GRPCServer{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    slog.Default().With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(g.srv, g.health)
	reflection.Register(g.srv)
	g.SetServing(false)
	return g
}

// Health returns the health server, for in-process checks.
func (g *GRPCServer) Health() healthpb.HealthServer {
	return g.health
}

// SetServing flips both the overall and the cache service status.
func (g *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(CacheService, st)
}

// Serve listens on addr until ctx is cancelled, then stops gracefully.
func (g *GRPCServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.log.Info("grpc listening", "addr", lis.Addr().String())
		errCh <- g.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc server: %w", err)
	case <-ctx.Done():
	}

	g.health.Shutdown()
	g.srv.GracefulStop()
	<-errCh
	return nil
}
