package admin

import (
	"context"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// Server exposes a RequestAdmin to operators over gRPC
type Server struct {
	admin  *RequestAdmin
	logger logging.Logger
}

func NewServer(admin *RequestAdmin, logger logging.Logger) *Server {
	return &Server{
		admin:  admin,
		logger: logger,
	}
}

func (s *Server) Cancel(ctx context.Context, req *api.CancelRequest) (*api.CancelResponse, error) {
	s.logger.Infof("Cancel requested, user: '%s', environment: '%s'", req.UserName, req.Environment)
	return &api.CancelResponse{Success: s.admin.Cancel(req.UserName, req.Environment)}, nil
}

func (s *Server) CancelAll(ctx context.Context, req *api.CancelAllRequest) (*api.CancelResponse, error) {
	s.logger.Infof("Cancel of all requests requested")
	return &api.CancelResponse{Success: s.admin.CancelAll()}, nil
}
