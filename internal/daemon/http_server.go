package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/logfields"
	"git.home.luguber.info/inful/cifuzz/internal/metrics"
)

// HTTPServer exposes /metrics, /healthz and /status on metricsAddr.
type HTTPServer struct {
	addr   string
	server *http.Server
}

// NewHTTPServer creates the observability endpoint for o.
func NewHTTPServer(addr string, o *Orchestrator) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(o.Registry()))
	mux.HandleFunc("/healthz", o.handleHealth)
	mux.HandleFunc("/status", o.handleStatus)
	return &HTTPServer{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks until Shutdown is called.
func (s *HTTPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *HTTPServer) Serve(ln net.Listener) error {
	slog.Info("Metrics endpoint listening", logfields.URL("http://"+ln.Addr().String()+"/metrics"))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, o.Status())
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := o.Health()
	code := http.StatusOK
	if h.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", logfields.Error(err))
	}
}
