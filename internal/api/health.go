package api

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/smallsmt/internal/driver"
)

// HealthService is the gRPC health service name reporting the machine link.
// The empty service name reports the process itself.
const HealthService = "smallsmt.Driver"

type stateSource interface {
	State() driver.ConnectionState
}

// Health publishes the driver state through the standard gRPC health
// protocol: SERVING only while connected and enabled.
type Health struct {
	srv      *health.Server
	drv      stateSource
	interval time.Duration
}

func NewHealth(d stateSource, interval time.Duration) *Health {
	if interval <= 0 {
		interval = time.Second
	}
	h := &Health{srv: health.NewServer(), drv: d, interval: interval}
	h.Update()
	return h
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Update publishes the current driver state.
func (h *Health) Update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.drv.State() == driver.StateConnectedEnabled {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(HealthService, status)
}

// Run polls the driver until ctx is cancelled, then marks every service as
// not serving.
func (h *Health) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Update()
		}
	}
}
