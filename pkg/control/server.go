package control

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

type ServerOptions struct {
	HostName string
	// 0 picks a free port
	Port int
	TLS  transport.ServerTLS
}

// Server is a gRPC server that always carries the standard health service
type Server struct {
	options ServerOptions
	grpc    *grpc.Server
	health  *health.Server
	logger  logging.Logger

	listener net.Listener
	done     chan struct{}
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	creds, err := transport.ServerCredentials(options.TLS)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer(grpc.Creds(creds))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		options: options,
		grpc:    grpcServer,
		health:  healthServer,
		logger:  logger,
	}, nil
}

func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

func (s *Server) Health() *health.Server {
	return s.health
}

// Port is the bound port once Start succeeded
func (s *Server) Port() int {
	if s.listener == nil {
		return s.options.Port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	address := transport.Address(s.options.HostName, s.options.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewNetworkError("failed to listen", err).WithContext("address", address)
	}
	s.listener = listener
	s.done = make(chan struct{})

	protocol := "http"
	if s.options.TLS.Certificate != "" {
		protocol = "https"
	}
	s.logger.Infof("gRPC server is serving at %s://%s", protocol, listener.Addr())

	go func() {
		defer close(s.done)
		if err := s.grpc.Serve(listener); err != nil {
			s.logger.Errorf("gRPC server stopped with error: %v", err)
		}
	}()
	return nil
}

// Stop drains ongoing calls until ctx ends, then closes the remaining ones
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Infof("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warnf("gRPC server graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}

	if s.done != nil {
		<-s.done
	}
}
