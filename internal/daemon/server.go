package daemon

import (
	"context"
	"fmt"
	"net"

	"github.com/matheus3301/jot/internal/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server owns the gRPC listener for jot.v1.RemoteStore and the optional
// admin HTTP listener.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	admin      *api.Admin
	adminLis   net.Listener
	logger     *zap.Logger
}

// NewServer binds the configured addresses. The admin listener is skipped
// when no admin address is configured.
func NewServer(p Params, logger *zap.Logger, svc *api.RemoteStoreService, admin *api.Admin) (*Server, error) {
	listener, err := net.Listen("tcp", p.listen())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", p.listen(), err)
	}

	s := &Server{listener: listener, admin: admin, logger: logger}
	if addr := p.adminListen(); addr != "" {
		s.adminLis, err = net.Listen("tcp", addr)
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listen admin %s: %w", addr, err)
		}
	}

	s.grpcServer = grpc.NewServer()
	api.RegisterRemoteStoreServer(s.grpcServer, svc)
	return s, nil
}

// Addr returns the gRPC listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// AdminAddr returns the admin listen address, or nil when disabled.
func (s *Server) AdminAddr() net.Addr {
	if s.adminLis == nil {
		return nil
	}
	return s.adminLis.Addr()
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("addr", s.listener.Addr().String()))
	return s.grpcServer.Serve(s.listener)
}

// StartAdmin serves the admin routes. Blocks until stopped. Returns
// immediately when the admin listener is disabled.
func (s *Server) StartAdmin() error {
	if s.adminLis == nil {
		return nil
	}
	return s.admin.Serve(s.adminLis)
}

// Stop performs a graceful shutdown of both listeners.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	if s.adminLis != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			s.logger.Warn("admin shutdown", zap.Error(err))
		}
		_ = s.adminLis.Close()
	}
}
