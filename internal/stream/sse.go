// Package stream serves live look angles over Server-Sent Events (SSE).
// Clients connect via GET /api/v1/stream/look/{norad_id}?lat=&lon=&alt=&interval=
// and receive the satellite's position relative to their location once per
// interval until they disconnect.
//
// SSE message format:
//
//	data: {"type":"look","norad_id":25544,"time":"...","elevation_deg":12.3,...}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","norad_id":25544,"name":"ISS (ZARYA)","element_epoch":"...","element_age_seconds":27780,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval without data.
// A failure after the stream has started is reported as a final
// {"type":"error"} message.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/httputil"
	"github.com/star/satpass/internal/metrics"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/tracker"
	"github.com/star/satpass/internal/visibility"
)

// Config holds streaming limits and intervals.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP.
	KeepaliveInterval  time.Duration // Keep-alive comment interval.
	Interval           time.Duration // Look interval when the client sends none.
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
		Interval:           time.Second,
	}
}

// Allowed range for the interval query parameter, in seconds.
const (
	minIntervalSeconds = 1
	maxIntervalSeconds = 60
)

// LookSource supplies element sets and look angles. *tracker.Service
// implements it.
type LookSource interface {
	GetElements(ctx context.Context, noradID int) (tle.ElementSet, error)
	LookAngles(ctx context.Context, noradID int, loc visibility.GroundLocation, at time.Time) (tracker.Look, error)
}

// Handler manages SSE streaming connections.
type Handler struct {
	source     LookSource
	config     Config
	trustProxy bool
	limiter    *streamLimiter
	logger     *slog.Logger
}

// NewHandler creates a streaming handler. trustProxy selects whether
// forwarding headers identify the client for the per-IP limit.
func NewHandler(source LookSource, config Config, trustProxy bool, logger *slog.Logger) *Handler {
	d := DefaultConfig()
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = d.MaxConcurrentPerIP
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = d.KeepaliveInterval
	}
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	return &Handler{
		source:     source,
		config:     config,
		trustProxy: trustProxy,
		limiter:    newStreamLimiter(config.MaxConcurrentPerIP),
		logger:     logger.With("component", "stream"),
	}
}

// parseInterval reads the interval query parameter in whole seconds.
func (h *Handler) parseInterval(r *http.Request) (time.Duration, error) {
	v := r.URL.Query().Get("interval")
	if v == "" {
		return h.config.Interval, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minIntervalSeconds || n > maxIntervalSeconds {
		return 0, apperr.InvalidArgument("stream.look", "invalid interval %q, must be %d-%d seconds",
			v, minIntervalSeconds, maxIntervalSeconds)
	}
	return time.Duration(n) * time.Second, nil
}

// HandleLook serves the SSE look-angle stream.
// GET /api/v1/stream/look/{norad_id}?lat=&lon=&alt=&interval=
func (h *Handler) HandleLook(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	loc, err := httputil.Location(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	interval, err := h.parseInterval(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.trustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", httputil.RetryAfterSeconds)
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorBody{
			Error: "too many concurrent streams",
			Code:  apperr.CodeRateLimited,
		})
		return
	}
	defer h.limiter.release(ip)

	// Resolve the satellite before committing to a stream so unknown ids
	// and provider outages get a normal error response.
	ctx := r.Context()
	es, err := h.source.GetElements(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorBody{
			Error: "streaming not supported",
			Code:  apperr.CodeInternal,
		})
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"norad_id", id,
		"user_agent", r.Header.Get("User-Agent"),
		"interval_seconds", interval.Seconds(),
	)
	defer func() {
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"norad_id", id,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout; each send sets its own deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry (3-7s) spreads reconnects after a restart.
	retryMs := 3000 + rand.IntN(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	if err := c.sendJSON(newMetadataMessage(es, loc, interval)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	// The first look goes out immediately; later ones follow the ticker.
	if !h.sendLook(ctx, c, id, loc) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !h.sendLook(ctx, c, id, loc) {
				return
			}
			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// sendLook computes and sends one look message. It returns false when the
// stream should end.
func (h *Handler) sendLook(ctx context.Context, c *client, id int, loc visibility.GroundLocation) bool {
	look, err := h.source.LookAngles(ctx, id, loc, time.Time{})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		metrics.IncStreamErrors("look_error")
		h.logger.Warn("stream look error", "remote_ip", c.ip, "norad_id", id, "error", err)
		// Best effort: the client may already be gone.
		_ = c.sendJSON(errorMessage{
			Type:  "error",
			Code:  apperr.CodeOf(err),
			Error: err.Error(),
		})
		return false
	}
	if err := c.sendJSON(lookMessage{Type: "look", Look: look}); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error", "remote_ip", c.ip, "error", err)
		return false
	}
	return true
}

func newMetadataMessage(es tle.ElementSet, loc visibility.GroundLocation, interval time.Duration) metadataMessage {
	return metadataMessage{
		Type:            "metadata",
		NORADID:         es.NORADID,
		Name:            es.Name,
		ElementEpoch:    es.Epoch.UTC().Format(time.RFC3339),
		ElementAge:      int(time.Since(es.Epoch).Seconds()),
		Location:        loc,
		IntervalSeconds: int(interval.Seconds()),
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type            string                    `json:"type"`
	NORADID         int                       `json:"norad_id"`
	Name            string                    `json:"name,omitempty"`
	ElementEpoch    string                    `json:"element_epoch"`
	ElementAge      int                       `json:"element_age_seconds"`
	Location        visibility.GroundLocation `json:"location"`
	IntervalSeconds int                       `json:"interval_seconds"`
}

type lookMessage struct {
	Type string `json:"type"`
	tracker.Look
}

type errorMessage struct {
	Type  string      `json:"type"`
	Code  apperr.Code `json:"code"`
	Error string      `json:"error"`
}
