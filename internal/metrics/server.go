package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusServer exposes a PrometheusCollector's registry over HTTP.
// Spec §10 restricts it to loopback addresses; callers are expected to
// validate that before constructing one.
type PrometheusServer struct {
	address string
	path    string
	reg     *prometheus.Registry
	srv     *http.Server
}

// NewPrometheusServer creates a PrometheusServer serving its own fresh
// registry (see Registry) at path on address (e.g. "127.0.0.1:9123").
func NewPrometheusServer(address, path string) *PrometheusServer {
	reg := prometheus.NewRegistry()
	return &PrometheusServer{address: address, path: path, reg: reg}
}

// Registry returns the registry metrics should be registered against, so
// the caller's PrometheusCollector and this server share one registry.
func (s *PrometheusServer) Registry() *prometheus.Registry { return s.reg }

// Start begins serving metrics. It blocks until the context is canceled or
// the listener fails.
func (s *PrometheusServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	s.srv = &http.Server{Addr: s.address, Handler: mux}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
