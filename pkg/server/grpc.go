package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// HealthServer exposes grpc.health.v1 for orchestrator readiness probes.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *logrus.Logger
}

// NewHealthServer creates a gRPC server with the health service registered.
// It reports NOT_SERVING until SetServing(true).
func NewHealthServer(logger *logrus.Logger) *HealthServer {
	if logger == nil {
		logger = logrus.New()
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
	}

	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	reflection.Register(s)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		server: s,
		health: hs,
		logger: logger,
	}
}

// SetServing flips the overall serving status.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.logger.WithField("status", status.String()).Debug("gRPC health status changed")
}

// Watch runs checker immediately and then every interval, mirroring the
// result into the serving status until ctx is done.
func (h *HealthServer) Watch(ctx context.Context, checker HealthChecker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err != nil && healthy {
			h.logger.WithError(err).Warn("Translation engine unhealthy")
		} else if err == nil && !healthy {
			h.logger.Info("Translation engine healthy again")
		}
		healthy = err == nil
		h.SetServing(healthy)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Serve blocks serving on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.WithFields(logrus.Fields{
		"addr": lis.Addr().String(),
	}).Info("gRPC health server listening")

	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the service NOT_SERVING and stops gracefully, forcing a stop
// when ctx expires first.
func (h *HealthServer) Stop(ctx context.Context) {
	h.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		h.logger.Warn("gRPC graceful stop timed out, forcing stop")
		h.server.Stop()
	}
}
