package grpc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct {
	down atomic.Bool
}

func (p *fakePinger) Ping(ctx context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestHealthServer_ProbeReflectsDependencies(t *testing.T) {
	redis, postgres := &fakePinger{}, &fakePinger{}
	s := NewHealthServer(map[string]Pinger{"redis": redis, "postgres": postgres}, time.Hour)
	ctx := context.Background()

	if st, _ := s.Check(ctx, ""); st != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before the first probe, got %v", st)
	}

	s.probe(ctx)
	if st, _ := s.Check(ctx, ""); st != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", st)
	}

	postgres.down.Store(true)
	s.probe(ctx)
	if st, _ := s.Check(ctx, ""); st != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected overall NOT_SERVING, got %v", st)
	}
	if st, _ := s.Check(ctx, "redis"); st != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected redis SERVING, got %v", st)
	}
	if st, _ := s.Check(ctx, "postgres"); st != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected postgres NOT_SERVING, got %v", st)
	}
}

func TestHealthServer_ServesOverGRPC(t *testing.T) {
	s := NewHealthServer(map[string]Pinger{"redis": &fakePinger{}}, time.Hour)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "redis"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}
}
