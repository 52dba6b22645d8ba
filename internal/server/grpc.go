package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service name reported alongside "".
const HealthServiceName = "kubilitics.investigator"

// healthServer exposes the standard gRPC health protocol.
type healthServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func newHealthServer(logger *zap.Logger) *healthServer {
	s := grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)
	hs := &healthServer{server: s, health: h, logger: logger}
	hs.setServing(false)
	return hs
}

func (h *healthServer) setServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}

func (h *healthServer) start(port int, wg *sync.WaitGroup) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.logger.Info("gRPC health server starting", zap.String("address", addr))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.server.Serve(ln); err != nil {
			h.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// stop drains the gRPC server, forcing it down after five seconds.
func (h *healthServer) stop() {
	h.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		h.logger.Warn("gRPC server forced to stop after timeout")
		h.server.Stop()
	}
}
