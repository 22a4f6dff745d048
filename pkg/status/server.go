package status

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// Server exposes a Handler on a TCP address
type Server struct {
	address string
	server  *http.Server
	logger  logging.Logger
}

func NewServer(address string, source MemberSource, logger logging.Logger) *Server {
	return &Server{
		address: address,
		server: &http.Server{
			Handler:           NewHandler(source),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens synchronously and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.NewNetworkError("failed to listen", err).WithContext("address", s.address)
	}

	s.logger.Infof("Status server listening, address: %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Status server failed, error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warnf("Status server shutdown failed, error: %v", err)
	}
	s.logger.Infof("Status server stopped")
}
