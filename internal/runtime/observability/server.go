package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/replyflow/internal/runtime/jsoncodec"
	"github.com/drblury/replyflow/internal/runtime/logging"
)

const defaultPingTimeout = 2 * time.Second

// Liveness reports whether the consumer loop is running.
type Liveness interface {
	IsAlive() bool
}

// Pinger checks the durable store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerConfig struct {
	Port     int
	Gatherer prometheus.Gatherer
	Liveness Liveness
	// Store is optional; when set /healthz pings it.
	Store       Pinger
	PingTimeout time.Duration
	Logger      logging.ServiceLogger
}

// Server serves /metrics and /healthz. It never touches the stream handles.
type Server struct {
	cfg    ServerConfig
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens in the background. A listen error is returned immediately;
// serve errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	s.cfg.Logger.Info("Starting HTTP server", logging.LogFields{"address": ln.Addr().String()})
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("HTTP server failed", err, logging.LogFields{"address": s.server.Addr})
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status   string `json:"status"`
	Consumer string `json:"consumer"`
	Store    string `json:"store,omitempty"`
	Time     string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Consumer: "alive",
		Time:     time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if s.cfg.Liveness == nil || !s.cfg.Liveness.IsAlive() {
		resp.Status = "unavailable"
		resp.Consumer = "stopped"
		code = http.StatusServiceUnavailable
	}

	if s.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PingTimeout)
		defer cancel()
		if err := s.cfg.Store.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Store = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = jsoncodec.Encode(w, resp)
}
