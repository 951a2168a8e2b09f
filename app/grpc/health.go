package grpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const pingTimeout = 2 * time.Second

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthReporter serves grpc.health.v1.Health and keeps it in step with the
// database: SERVING while pings succeed, NOT_SERVING otherwise.
type HealthReporter struct {
	server   *health.Server
	db       Pinger
	services []string
	logger   logrus.FieldLogger
}

func NewHealthReporter(db Pinger, serviceName string) *HealthReporter {
	return &HealthReporter{
		server:   health.NewServer(),
		db:       db,
		services: []string{"", serviceName},
		logger:   logrus.WithField("module", "grpc-health"),
	}
}

func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Check pings the database once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.PingContext(pingCtx); err != nil {
		h.logger.WithError(err).Warn("database_ping_failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, name := range h.services {
		h.server.SetServingStatus(name, status)
	}
	return status
}

// Run re-checks on every tick until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	h.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
