// Package provider talks to the upstream services satpass depends on:
// CelesTrak for element sets and the satellite catalog, and maps.co for
// geocoding.
//
// Every failure is classified with apperr: a provider that answers "no such
// satellite" yields NotFound, while transport errors, timeouts and unexpected
// statuses yield ProviderUnavailable. The two never collapse into each other.
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/metrics"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 50 * 1024 * 1024

// DefaultTimeout bounds every upstream request.
const DefaultTimeout = 30 * time.Second

// Elements fetches raw two-line element text for one satellite.
type Elements interface {
	FetchTLE(ctx context.Context, noradID int) (string, error)
}

// Directory maps between satellite names and NORAD catalog ids.
type Directory interface {
	LookupName(ctx context.Context, noradID int) (string, error)
	LookupIDs(ctx context.Context, name string) ([]int, error)
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, place string) (lat, lon float64, err error)
}

// Options configures an upstream client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // Zero or negative disables rate limiting.
	Burst             int
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// getter performs rate-limited, size-bounded GET requests and records
// provider metrics.
type getter struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newGetter(name string, opts Options, logger *slog.Logger) *getter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &getter{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "provider", "provider", name),
	}
}

// response is a fully read upstream reply.
type response struct {
	status int
	body   []byte
}

// get waits for the rate limiter, performs the request and reads at most
// maxBodyBytes of the body. Only transport-level failures are returned as
// errors; status handling is left to the caller.
func (g *getter) get(ctx context.Context, op, url string) (response, error) {
	start := time.Now()

	if err := g.limiter.Wait(ctx); err != nil {
		return response{}, apperr.Unavailable(op, err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "satpass")

	resp, err := g.client.Do(req)
	if err != nil {
		return response{}, apperr.Unavailable(op, err, "request to %s failed", g.name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return response{}, apperr.Unavailable(op, err, "reading %s response", g.name)
	}
	if len(body) > maxBodyBytes {
		return response{}, apperr.Unavailable(op, nil, "%s response exceeds %d byte limit", g.name, maxBodyBytes)
	}

	g.logger.Debug("upstream request",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return response{status: resp.StatusCode, body: body}, nil
}

// track records the outcome of one provider call started at start. It is
// deferred with a pointer to the call's named error result.
func (g *getter) track(start time.Time, errp *error) {
	outcome := "ok"
	switch apperr.CodeOf(*errp) {
	case "":
	case apperr.CodeNotFound:
		outcome = "not_found"
	default:
		outcome = "error"
	}
	metrics.ObserveProvider(g.name, outcome, time.Since(start))
}
