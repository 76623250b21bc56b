package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logsock/util"
)

// Server exposes a Collector over HTTP: /metrics in the Prometheus
// text format, /stats as the JSON snapshot and /health for probes.
type Server struct {
	httpServer *http.Server
	logger     *util.Logger
	ln         net.Listener
	done       chan struct{}
}

// NewServer builds a metrics HTTP server for c bound to addr.
func NewServer(addr string, c *Collector, logger *util.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(c.JSON())) //nolint:errcheck
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.  A bind
// failure is returned; later serve errors are only logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Verbose("metrics server listening on %s", ln.Addr())

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the HTTP server down, waiting up to five seconds for
// in-flight scrapes.
func (s *Server) Stop() {
	if s.ln == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("metrics server shutdown: %v", err)
	}
	<-s.done
	s.logger.Verbose("metrics server stopped")
}
