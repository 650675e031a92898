// Package server provides HTTP server lifecycle wiring: construction with
// a caller-supplied handler, and graceful shutdown. TLS certificate
// resolution for the proxied surface is bespoke to the data plane's
// listener manager (internal/dataplane/listener) and does not flow through
// this type; the control plane's admin API is plain HTTP on
// CONTROL_PLANE_ADDR per the wire contract.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaymesh/gatewayd/internal/platform/logutil"
)

// Server wraps an http.Server with graceful shutdown.
type Server struct {
	addr       string
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server bound to addr, serving handler.
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	logger = logutil.NoopIfNil(logger)

	return &Server{
		addr:   addr,
		logger: logger,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server. It blocks until the server is shut down,
// returning nil on a graceful Shutdown and a non-nil error otherwise.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to drain up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server", "addr", s.addr)
	return s.httpServer.Shutdown(ctx)
}
