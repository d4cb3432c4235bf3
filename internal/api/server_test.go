package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/auth"
	"github.com/star/satpass/internal/catalog"
	"github.com/star/satpass/internal/passes"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/provider"
	"github.com/star/satpass/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const issTLE = "ISS (ZARYA)\n" +
	"1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993\n" +
	"2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeUpstream serves the ISS and nothing else.
type fakeUpstream struct {
	mu  sync.Mutex
	err error
}

func (f *fakeUpstream) FetchTLE(_ context.Context, id int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if id != 25544 {
		return "", apperr.NotFound("fake.fetch_tle", "no element set for %d", id)
	}
	return issTLE, nil
}

func (f *fakeUpstream) LookupName(_ context.Context, id int) (string, error) {
	if id != 25544 {
		return "", apperr.NotFound("fake.lookup_name", "no satellite %d", id)
	}
	return "ISS (ZARYA)", nil
}

func (f *fakeUpstream) LookupIDs(_ context.Context, name string) ([]int, error) {
	if name == "" {
		return nil, apperr.InvalidArgument("fake.lookup_ids", "empty name")
	}
	if !strings.Contains("ISS (ZARYA)", strings.ToUpper(name)) {
		return nil, apperr.NotFound("fake.lookup_ids", "no satellite named %q", name)
	}
	return []int{25544}, nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Geocode(_ context.Context, place string) (float64, float64, error) {
	if place == "" {
		return 0, 0, apperr.InvalidArgument("fake.geocode", "empty place")
	}
	return 51.5074, -0.1278, nil
}

// newTestServer wires a real tracker over the fake upstream.
func newTestServer(t *testing.T, cfg Config, geocoder provider.Geocoder) (*Server, *fakeUpstream) {
	t.Helper()
	logger := testLogger()
	up := &fakeUpstream{}
	clock := fixedClock{t: time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)}

	catCfg := catalog.DefaultConfig()
	catCfg.Retry = provider.RetryPolicy{Attempts: 1}
	cat := catalog.New(up, up, nil, clock, catCfg, logger)

	models := propagation.NewModelCache(propagation.NewSGP4(propagation.Config{}), logger)
	engine := passes.NewEngine(models, propagation.NewWorkerPool(2, logger), passes.DefaultConfig(), logger)
	svc := tracker.New(cat, engine, models, clock, tracker.DefaultConfig(), logger)

	return NewServer(cfg, Deps{Service: svc, Geocoder: geocoder}, logger), up
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// TestTransitBudget verifies that searches exceeding the sample budget are
// rejected with 400 instead of consuming unbounded CPU.
func TestTransitBudget(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"max budget exceeded: 7 days at 1 s", "&hours=168&step=1", http.StatusBadRequest},
		{"horizon beyond maximum", "&hours=200", http.StatusBadRequest},
		{"within budget: default params", "", http.StatusOK},
		{"within budget: 12 h at 30 s", "&hours=12&step=30", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/transits?lat=0&lon=0"+tt.query)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestTransits(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/transits?lat=0&lon=0&hours=24&track_step=60")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var report tracker.TransitReport
	decode(t, w, &report)

	if report.Satellite.NORADID != 25544 || report.Satellite.Name != "ISS (ZARYA)" {
		t.Errorf("satellite = %+v", report.Satellite)
	}
	if len(report.Transits) == 0 {
		t.Fatal("no transits in 24 h over the equator")
	}
	for _, tr := range report.Transits {
		if tr.MaxElevationDeg < 10 {
			t.Errorf("transit below default threshold: %v", tr.MaxElevationDeg)
		}
		if len(tr.GroundTrack) == 0 {
			t.Error("track_step set but no ground track")
		}
	}
}

// TestEmptyTransitsAreNotAnError verifies "no passes" and "no satellite"
// stay distinguishable.
func TestEmptyTransitsAreNotAnError(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/transits?lat=0&lon=0&min_elevation=90&hours=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"transits":[]`) {
		t.Errorf("body = %s, want empty transits array", w.Body.String())
	}

	w = do(t, s, http.MethodGet, "/api/v1/satellites/99999/transits?lat=0&lon=0")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown satellite: status = %d, want 404", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	s, up := newTestServer(t, Config{}, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantCode   apperr.Code
	}{
		{"bad id", http.MethodGet, "/api/v1/satellites/iss/name", http.StatusBadRequest, apperr.CodeInvalidArgument},
		{"unknown name", http.MethodGet, "/api/v1/satellites/424242/name", http.StatusNotFound, apperr.CodeNotFound},
		{"missing lat", http.MethodGet, "/api/v1/satellites/25544/transits?lon=0", http.StatusBadRequest, apperr.CodeInvalidArgument},
		{"negative hours", http.MethodGet, "/api/v1/satellites/25544/transits?lat=0&lon=0&hours=-1", http.StatusBadRequest, apperr.CodeInvalidArgument},
		{"bad start", http.MethodGet, "/api/v1/satellites/25544/transits?lat=0&lon=0&start=tomorrow", http.StatusBadRequest, apperr.CodeInvalidArgument},
		{"min elevation out of range", http.MethodGet, "/api/v1/satellites/25544/transits?lat=0&lon=0&min_elevation=95", http.StatusBadRequest, apperr.CodeInvalidArgument},
		{"empty search", http.MethodGet, "/api/v1/satellites/search?name=", http.StatusBadRequest, apperr.CodeInvalidArgument},
		{"geocode not configured", http.MethodGet, "/api/v1/geocode?q=London", http.StatusNotImplemented, apperr.CodeNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.target)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var body struct {
				Error string      `json:"error"`
				Code  apperr.Code `json:"code"`
			}
			decode(t, w, &body)
			if body.Code != tt.wantCode || body.Error == "" {
				t.Errorf("body = %+v, want code %s", body, tt.wantCode)
			}
		})
	}

	t.Run("provider unavailable", func(t *testing.T) {
		up.mu.Lock()
		up.err = apperr.Unavailable("fake", errors.New("connection refused"), "celestrak down")
		up.mu.Unlock()

		w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/elements")
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != "30" {
			t.Errorf("Retry-After = %q, want 30", got)
		}
	})
}

func TestElementsAndRefresh(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/elements")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	decode(t, w, &body)
	for _, key := range []string{"norad_id", "epoch", "line1", "line2", "age_hours", "source"} {
		if _, ok := body[key]; !ok {
			t.Errorf("elements response missing %q", key)
		}
	}

	if w := do(t, s, http.MethodPost, "/api/v1/satellites/25544/refresh"); w.Code != http.StatusOK {
		t.Errorf("refresh: status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/refresh"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET refresh: status = %d, want 405", w.Code)
	}
}

func TestNameSearchLook(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/name")
	var name nameResponse
	decode(t, w, &name)
	if name.Name != "ISS (ZARYA)" {
		t.Errorf("name = %q", name.Name)
	}

	w = do(t, s, http.MethodGet, "/api/v1/satellites/search?name=iss")
	var search searchResponse
	decode(t, w, &search)
	if len(search.NORADIDs) != 1 || search.NORADIDs[0] != 25544 {
		t.Errorf("search = %+v", search)
	}

	w = do(t, s, http.MethodGet, "/api/v1/satellites/25544/look?lat=0&lon=0&at=2025-02-14T12:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("look: status = %d: %s", w.Code, w.Body.String())
	}
	var look tracker.Look
	decode(t, w, &look)
	if !look.Time.Equal(time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("look time = %v", look.Time)
	}
	if look.AltitudeKm < 380 || look.AltitudeKm > 460 {
		t.Errorf("altitude = %v km", look.AltitudeKm)
	}
}

func TestGeocode(t *testing.T) {
	s, _ := newTestServer(t, Config{}, fakeGeocoder{})

	w := do(t, s, http.MethodGet, "/api/v1/geocode?q=London")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body geocodeResponse
	decode(t, w, &body)
	if body.Latitude != 51.5074 || body.Longitude != -0.1278 {
		t.Errorf("body = %+v", body)
	}

	if w := do(t, s, http.MethodGet, "/api/v1/geocode?q="); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: status = %d, want 400", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodGet, "/healthz")
	id := w.Header().Get("X-Request-ID")
	if len(id) != 36 {
		t.Errorf("generated request id = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("request id = %q, want caller's abc-123", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "bad id\twith spaces")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "bad id\twith spaces" {
		t.Error("unprintable request id echoed back")
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, Config{Auth: auth.Config{Enabled: true, Token: "s3cret"}}, nil)

	if w := do(t, s, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/name"); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/satellites/25544/name", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RequestsPerSecond: 0.01, Burst: 2}, nil)

	for i := 0; i < 2; i++ {
		if w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/name"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	w := do(t, s, http.MethodGet, "/api/v1/satellites/25544/name")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Probes and other clients are unaffected.
	if w := do(t, s, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/satellites/25544/name", nil)
	req.RemoteAddr = "198.51.100.9:1234"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: status = %d", rec.Code)
	}
}

func TestIPLimiterPrune(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Now()
	l.allow("a", now)
	l.allow("b", now.Add(idleLimiterTTL))

	if n := l.prune(now.Add(idleLimiterTTL + time.Second)); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, ok := l.clients["b"]; !ok {
		t.Error("recently seen client pruned")
	}

	var disabled *ipLimiter
	if !disabled.allow("a", now) || disabled.prune(now) != 0 {
		t.Error("nil limiter must allow everything")
	}
}

func TestStreamRouteOptional(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)
	if w := do(t, s, http.MethodGet, "/api/v1/stream/look/25544?lat=0&lon=0"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a stream handler", w.Code)
	}
}
