// Package api exposes the feedsim control surface over HTTP: producer
// start/stop/list, manual alerts, recent and live event views, stats, and the
// embedded dashboard.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/feedsim/feedsim/internal/config"
	"github.com/feedsim/feedsim/internal/logging"
	"github.com/feedsim/feedsim/internal/metrics"
	"github.com/feedsim/feedsim/internal/producer"
	"github.com/feedsim/feedsim/internal/stream"
)

// maxBodyBytes caps JSON request bodies. Start requests carry a payload
// template, so the limit is roomier than a bare control endpoint needs.
const maxBodyBytes = 64 * 1024

// Server is the feedsim control API server.
type Server struct {
	cfgPtr  atomic.Pointer[config.Config]
	reg     *producer.Registry
	hub     *stream.Hub
	metrics *metrics.Metrics
	log     *logging.Logger

	// alertLimiter guards POST /api/alert. Swapped wholesale on config
	// reload so a raised limit takes effect immediately.
	alertLimiter atomic.Pointer[rate.Limiter]

	server *http.Server
}

// New creates the API server. The registry, hub, and metrics are shared with
// the rest of the process; the server never owns their lifecycle.
func New(cfg *config.Config, reg *producer.Registry, hub *stream.Hub, m *metrics.Metrics, log *logging.Logger) *Server {
	s := &Server{
		reg:     reg,
		hub:     hub,
		metrics: m,
		log:     log,
	}
	s.cfgPtr.Store(cfg)
	s.alertLimiter.Store(newAlertLimiter(cfg))
	return s
}

// ApplyConfig swaps in a reloaded config. Only hot-applicable settings take
// effect: the alert rate limit and the values echoed by health/dashboard.
// Listen address changes require a restart and are warned about upstream.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.cfgPtr.Store(cfg)
	s.alertLimiter.Store(newAlertLimiter(cfg))
}

func newAlertLimiter(cfg *config.Config) *rate.Limiter {
	n := cfg.Alerts.MaxPerMinute
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
}

// Handler builds the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/", s.handleDashboard)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/producers", s.handleList)
	r.Post("/api/producers", s.handleStart)
	r.Delete("/api/producers/{id}", s.handleStop)
	r.Post("/api/alert", s.handleAlert)
	r.Get("/api/events/recent", s.handleRecent)
	r.Get("/api/events/stream", s.handleStream)
	r.Get("/api/stats", s.metrics.StatsHandler())
	r.Handle("/metrics", s.metrics.PrometheusHandler())

	return r
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
// A clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgPtr.Load()

	// WriteTimeout stays unlimited because the event stream endpoint holds
	// its connection open; http.Server enforces the timeout per connection,
	// not per handler. The JSON endpoints are all bounded by handler work.
	s.server = &http.Server{
		Addr:    cfg.Listen,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 5 * time.Second, // slowloris protection
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on context cancellation. The done channel lets this
	// goroutine exit when ListenAndServe fails immediately (port in use).
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
