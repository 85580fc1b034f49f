package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/WessleyAI/wessley-listings/pkg/mid"
)

// Server exposes /metrics and /healthz, plus any extra routes.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds the HTTP server for addr (":9090"). extra maps paths to
// handlers mounted beside /metrics.
func NewServer(addr string, reg *Registry, log *slog.Logger, extra map[string]http.Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	for path, h := range extra {
		mux.Handle(path, h)
	}
	h := mid.Chain(mux, mid.Recover(log), mid.OTel("listings-metrics"), mid.Logger(log))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Handler returns the wrapped mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("metrics server listening", "addr", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
