package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/usat-ai-lab/taklif/internal/api"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/instance"
	"github.com/usat-ai-lab/taklif/internal/status"
)

// Server manages the gRPC server lifecycle for an instance daemon. Besides the
// control service it serves the standard health service: the empty service
// name is the daemon itself, api.BackendHealthService follows the status
// machine.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the instance's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, control *api.Control, machine *status.Machine, b *bus.Bus) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = instance.SocketPath(p.Instance)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	api.Register(srv, control)

	s := &Server{
		grpcServer: srv,
		health:     healthSrv,
		listener:   listener,
		socketPath: socketPath,
		machine:    machine,
		bus:        b,
		logger:     logger,
	}
	s.setBackendHealth(machine.Current())
	return s, nil
}

// Start begins serving gRPC requests and keeps the backend health status in
// step with the status machine. Blocks until stopped.
func (s *Server) Start(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe(bus.KindDaemonStatus, 16)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					s.setBackendHealth(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	// Catch transitions that happened before the subscription.
	s.setBackendHealth(s.machine.Current())

	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// BackendServingStatus maps a daemon state to the backend health status.
// Syncing counts as serving: a pass only starts after a successful probe.
func BackendServingStatus(st status.State) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case status.Online, status.Syncing:
		return healthpb.HealthCheckResponse_SERVING
	case status.Booting:
		return healthpb.HealthCheckResponse_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

func (s *Server) setBackendHealth(st status.State) {
	s.health.SetServingStatus(api.BackendHealthService, BackendServingStatus(st))
}

// Stop performs a graceful shutdown and removes the socket file. Open event
// streams keep a graceful stop waiting, so it is cut short when ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}
