package api

import (
	"fmt"
	"net"

	"github.com/cuemby/corral/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SchedulerService is the gRPC health service name of the scheduler
const SchedulerService = "corral.scheduler"

// HealthGRPCServer serves the standard gRPC health protocol so load
// balancers and orchestrators can check the scheduler
type HealthGRPCServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewHealthGRPCServer creates a gRPC server carrying only the health service.
// Both the overall and the scheduler service start NOT_SERVING.
func NewHealthGRPCServer() *HealthGRPCServer {
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(SchedulerService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthGRPCServer{
		grpc:   srv,
		health: hs,
		logger: log.WithComponent("grpc"),
	}
}

// SetServing flips the overall and scheduler status together
func (s *HealthGRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(SchedulerService, st)
}

// Serve serves gRPC on lis until Stop
func (s *HealthGRPCServer) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health listening")
	return s.grpc.Serve(lis)
}

// Start listens on addr and serves gRPC
func (s *HealthGRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (s *HealthGRPCServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
