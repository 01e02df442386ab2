// Package grpcserver publishes the rig's liveness over the standard gRPC
// health protocol so fleet tooling can probe it without the HTTP console.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"astrorig/internal/rig"
)

// Health service names.
const (
	ServiceCapture = "astrorig.capture"
	ServiceMount   = "astrorig.mount"
)

const defaultPoll = time.Second

// Server serves grpc.health.v1 with one entry per rig subsystem. The empty
// service name tracks capture.
type Server struct {
	addr   string
	status func() rig.Status
	poll   time.Duration
	health *health.Server
	grpc   *grpc.Server
	log    *slog.Logger
}

// NewServer registers health and reflection services. status is polled to
// refresh the serving state.
func NewServer(addr string, status func() rig.Status, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:   addr,
		status: status,
		poll:   defaultPoll,
		health: health.NewServer(),
		log:    log,
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(1024*1024),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.Update()
	return s
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Update refreshes every service's serving state from the rig.
func (s *Server) Update() {
	st := s.status()
	capture := servingStatus(st.Running && st.Healthy)
	s.health.SetServingStatus("", capture)
	s.health.SetServingStatus(ServiceCapture, capture)
	s.health.SetServingStatus(ServiceMount, servingStatus(st.Running && st.Mount != nil && st.Mount.Running))
}

// Serve accepts on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Shutting down gRPC server...")
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Update()
			}
		}
	}()

	s.log.Info("gRPC server starting", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}
