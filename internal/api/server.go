package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server is the local status HTTP server.
type Server struct {
	server   *http.Server
	logger   *zap.Logger
	listener net.Listener // Optional pre-created listener (systemd socket activation)
}

// NewServer creates a server bound to addr once started.
func NewServer(addr string, src Sources, logger *zap.Logger) *Server {
	logger = logger.With(zap.String("component", "api"))
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// SetListener sets a pre-created listener, used instead of binding Addr.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listener and serves in the background. Bind errors are
// returned; serve errors are logged.
func (s *Server) Start() error {
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
		}
		s.listener = ln
	} else {
		s.logger.Debug("using socket-activated listener")
	}

	s.logger.Info("starting api server", zap.String("addr", s.Addr()))
	ln := s.listener
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")
	return s.server.Shutdown(ctx)
}
