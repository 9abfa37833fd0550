package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealbot/pkg/logx"
)

type ServerConfig struct {
	Enabled bool
	// Addr should stay on loopback unless the host firewall handles exposure.
	Addr string
}

// Server exposes /metrics for Prometheus scrapes.
// Start is idempotent; Stop shuts the listener down with the given context.
type Server struct {
	cfg ServerConfig
	log logx.Logger

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(cfg ServerConfig, gatherer prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:9180"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		cfg: cfg,
		log: log,
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Start() {
	if s == nil || !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return
	}
	go func() {
		s.log.Info("metrics server listening", logx.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("metrics server stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
}
