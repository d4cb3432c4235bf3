// Package metrics exposes satpass Prometheus collectors.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satpass_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	searchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "satpass_search_duration_seconds",
			Help:    "Duration of one transit search.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	searchSamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_search_samples_total",
			Help: "Grid samples evaluated by transit searches.",
		},
	)

	transitsFoundTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_transits_found_total",
			Help: "Transits returned by searches.",
		},
	)

	modelCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_model_cache_total",
			Help: "SGP4 model cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_cache_requests_total",
			Help: "Cache lookups by cache and result (hit, miss, join).",
		},
		[]string{"cache", "result"},
	)

	cacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_cache_evictions_total",
			Help: "Entries removed by expiry or invalidation.",
		},
		[]string{"cache"},
	)

	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "satpass_cache_entries",
			Help: "Entries currently held.",
		},
		[]string{"cache"},
	)

	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_provider_requests_total",
			Help: "Upstream provider requests by outcome (ok, not_found, unavailable).",
		},
		[]string{"provider", "outcome"},
	)

	providerDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satpass_provider_duration_seconds",
			Help:    "Upstream provider request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	archiveFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_archive_fallback_total",
			Help: "Element sets served from the archive because the provider was unavailable.",
		},
	)

	staleElementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_stale_elements_total",
			Help: "Results computed from elements older than the freshness threshold.",
		},
	)

	elementAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "satpass_element_age_max_seconds",
			Help: "Largest epoch age among recently served element sets (-1 when none).",
		},
	)

	elementCutoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_element_cutovers_total",
			Help: "Times a newer epoch replaced a served element set.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_stream_connections_total",
			Help: "SSE stream connection events (connect, disconnect).",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "satpass_streams_active",
			Help: "Currently open SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_stream_messages_total",
			Help: "SSE messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "satpass_stream_bytes_total",
			Help: "SSE bytes written.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		searchDurationSeconds,
		searchSamplesTotal,
		transitsFoundTotal,
		modelCacheTotal,
		cacheRequestsTotal,
		cacheEvictionsTotal,
		cacheEntries,
		providerRequestsTotal,
		providerDurationSeconds,
		archiveFallbackTotal,
		staleElementsTotal,
		elementAgeSeconds,
		elementCutoversTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSearch records one completed transit search.
func ObserveSearch(d time.Duration, samples, transits int) {
	searchDurationSeconds.Observe(d.Seconds())
	searchSamplesTotal.Add(float64(samples))
	transitsFoundTotal.Add(float64(transits))
}

// IncModelCache counts an SGP4 model cache lookup.
func IncModelCache(result string) { modelCacheTotal.WithLabelValues(result).Inc() }

// IncCache counts a cache lookup for the named cache.
func IncCache(cache, result string) { cacheRequestsTotal.WithLabelValues(cache, result).Inc() }

// AddCacheEvictions counts removed entries for the named cache.
func AddCacheEvictions(cache string, n int) {
	if n > 0 {
		cacheEvictionsTotal.WithLabelValues(cache).Add(float64(n))
	}
}

// SetCacheEntries reports the entry count of the named cache.
func SetCacheEntries(cache string, n int) { cacheEntries.WithLabelValues(cache).Set(float64(n)) }

// ObserveProvider records one upstream request.
func ObserveProvider(provider, outcome string, d time.Duration) {
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
	providerDurationSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// IncArchiveFallback counts an archive fallback.
func IncArchiveFallback() { archiveFallbackTotal.Inc() }

// IncStaleElements counts a stale-elements warning.
func IncStaleElements() { staleElementsTotal.Inc() }

// SetElementAge reports the oldest served epoch age in seconds.
func SetElementAge(seconds float64) { elementAgeSeconds.Set(seconds) }

// IncElementCutover counts an epoch replacement.
func IncElementCutover() { elementCutoversTotal.Inc() }

// IncStreamConnections counts a stream connect or disconnect.
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts a sent SSE message.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes counts SSE bytes written.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// Exact routes reported under their own label.
var knownRoutes = map[string]bool{
	"/healthz":                  true,
	"/readyz":                   true,
	"/metrics":                  true,
	"/api/v1/satellites/search": true,
	"/api/v1/geocode":           true,
}

var (
	satelliteRoute = regexp.MustCompile(`^/api/v1/satellites/\d+/(name|elements|transits|look|refresh)$`)
	streamRoute    = regexp.MustCompile(`^/api/v1/stream/look/\d+$`)
)

// normalizeRoute maps a request path to a bounded label set: NORAD ids
// collapse to {norad_id} and unknown paths to "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if m := satelliteRoute.FindStringSubmatch(path); m != nil {
		return "/api/v1/satellites/{norad_id}/" + m[1]
	}
	if streamRoute.MatchString(path) {
		return "/api/v1/stream/look/{norad_id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers behind the middleware can stream.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
