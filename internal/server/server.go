package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// Server owns the listening socket and the http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	addr       string
	errCh      chan error
}

// New prepares a server for handler on cfg.Port. Nothing listens until
// Start.
func New(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		logger: logger,
		addr:   fmt.Sprintf(":%d", cfg.Port),
		errCh:  make(chan error, 1),
	}
}

// Start binds the port and serves in the background. Bind failures are
// returned directly; later serve failures are reported on Errors.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "server: failed to listen on %s", s.addr)
	}
	s.addr = ln.Addr().String()
	s.logger.InfoContext(ctx, "server: listening", "addr", s.addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Errors yields a serve failure, if any, and is closed when serving stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "server: graceful shutdown did not complete")
	}
	return nil
}
