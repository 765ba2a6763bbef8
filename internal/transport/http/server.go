package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Config struct {
	Addr         string        // ":8080"
	ReadTimeout  time.Duration // 10s
	WriteTimeout time.Duration // 0 for websocket traffic
	IdleTimeout  time.Duration // 60s
}

type Server struct {
	cfg Config
	srv *http.Server
}

func NewServer(cfg Config, handler http.Handler) *Server {
	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return &Server{cfg: cfg, srv: s}
}

// Run serves on ln until ctx is done, then shuts down gracefully.
// Hijacked websocket connections are not tracked by Shutdown; callers close
// them through the registry.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("http listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}
