package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Start serves on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout. Open sockets are not waited for; stop the hub to
// close them.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.E.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
