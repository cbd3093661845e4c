// Package transport serves the component API over a local unix socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Server is the HTTP server bound to the unix socket.
type Server struct {
	socketPath string
	http       *http.Server
	logger     *zap.Logger
}

// NewServer creates a server for handler on socketPath.
func NewServer(socketPath string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ConnContext:       ConnContext(logger),
		},
		logger: logger,
	}
}

// Listen binds the socket, replacing a stale one. Any local user may
// connect; identity comes from peer credentials.
func (s *Server) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to chmod socket: %w", err)
	}
	return ln, nil
}

// Serve accepts on ln until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", zap.String("socket", s.socketPath))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("API shutdown incomplete", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
	return nil
}
