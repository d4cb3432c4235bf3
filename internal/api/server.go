// Package api exposes the tracker operations over HTTP/JSON.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/satpass/internal/auth"
	"github.com/star/satpass/internal/health"
	"github.com/star/satpass/internal/metrics"
	"github.com/star/satpass/internal/provider"
	"github.com/star/satpass/internal/stream"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/tracker"
	"github.com/star/satpass/internal/visibility"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr       string
	TrustProxy bool
	// Per-client request rate; zero or less disables the limit.
	RequestsPerSecond float64
	Burst             int
	Auth              auth.Config
}

// Service is the operation surface the API serves. *tracker.Service
// implements it.
type Service interface {
	GetName(ctx context.Context, noradID int) (string, error)
	GetIDs(ctx context.Context, name string) ([]int, error)
	GetElements(ctx context.Context, noradID int) (tle.ElementSet, error)
	GetTransits(ctx context.Context, req tracker.TransitRequest) (tracker.TransitReport, error)
	LookAngles(ctx context.Context, noradID int, loc visibility.GroundLocation, at time.Time) (tracker.Look, error)
	Refresh(ctx context.Context, noradID int) (tle.ElementSet, error)
}

// Deps are the collaborators of a Server. Geocoder, Stream and Ready may
// be nil: geocoding then answers 501, the stream route is not registered
// and readiness has no checks.
type Deps struct {
	Service  Service
	Geocoder provider.Geocoder
	Stream   *stream.Handler
	Ready    *health.Readiness
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	handlers   *handlers
	limiter    *ipLimiter
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	if deps.Ready == nil {
		deps.Ready = health.NewReadiness()
	}
	h := &handlers{svc: deps.Service, geocoder: deps.Geocoder, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", deps.Ready.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/satellites/search", h.search)
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/name", h.name)
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/elements", h.elements)
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/transits", h.transits)
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/look", h.look)
	mux.HandleFunc("POST /api/v1/satellites/{norad_id}/refresh", h.refresh)
	mux.HandleFunc("GET /api/v1/geocode", h.geocode)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/look/{norad_id}", deps.Stream.HandleLook)
	}

	limiter := newIPLimiter(cfg.RequestsPerSecond, cfg.Burst)

	// Build middleware chain: metrics -> request id -> logging -> rate limit -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = rateLimitMiddleware(limiter, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = requestIDMiddleware(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Streams clear this per connection.
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		handlers: h,
		limiter:  limiter,
		logger:   logger,
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Start prunes idle per-client limiters until ctx is cancelled.
func (s *Server) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.limiter.prune(time.Now()); n > 0 {
				s.logger.Debug("pruned idle rate limiters", "removed", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
