// Package grpc exposes the daemon's health over the standard gRPC health
// protocol. Each backing store is a named service; the empty service name
// reports SERVING only when every store answers its ping.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Eklps/Dianping/internal/logging"
)

// Pinger is a dependency whose reachability decides health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 and refreshes statuses by pinging its
// checks on an interval.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	checks     map[string]Pinger
	interval   time.Duration
	timeout    time.Duration

	listener net.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewHealthServer creates a server for the named checks. Statuses start as
// NOT_SERVING until the first probe.
func NewHealthServer(checks map[string]Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		hs.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &HealthServer{
		grpcServer: grpcServer,
		health:     hs,
		checks:     checks,
		interval:   interval,
		timeout:    2 * time.Second,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start listens on address, runs one probe and starts the probe loop.
func (s *HealthServer) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis

	s.probe(context.Background())
	go s.probeLoop()
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			logging.Op().Error("gRPC server error", "error", err)
		}
	}()

	logging.Op().Info("gRPC health server started", "address", lis.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *HealthServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *HealthServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			<-s.doneCh
		}
		s.health.Shutdown()
		logging.Op().Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
	})
}

// Check returns the current status of service ("" for overall).
func (s *HealthServer) Check(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

func (s *HealthServer) probeLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probe(context.Background())
		}
	}
}

// probe pings every check and publishes the results.
func (s *HealthServer) probe(ctx context.Context) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := grpc_health_v1.HealthCheckResponse_SERVING
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name].Ping(pctx)
		cancel()

		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			logging.Op().Warn("health check failed", "component", name, "error", err)
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}
