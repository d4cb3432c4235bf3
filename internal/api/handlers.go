package api

import (
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/httputil"
	"github.com/star/satpass/internal/provider"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/tracker"
)

type handlers struct {
	svc      Service
	geocoder provider.Geocoder
	logger   *slog.Logger
}

// fail writes err and logs failures that are not the caller's fault.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := httputil.StatusOf(err); status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			"path", r.URL.Path,
			"code", apperr.CodeOf(err),
			"request_id", RequestID(r.Context()),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

type nameResponse struct {
	NORADID int    `json:"norad_id"`
	Name    string `json:"name"`
}

// GET /api/v1/satellites/{norad_id}/name
func (h *handlers) name(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name, err := h.svc.GetName(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nameResponse{NORADID: id, Name: name})
}

type searchResponse struct {
	Query    string `json:"query"`
	NORADIDs []int  `json:"norad_ids"`
}

// GET /api/v1/satellites/search?name=
func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("name"))
	ids, err := h.svc.GetIDs(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, searchResponse{Query: q, NORADIDs: ids})
}

type elementsResponse struct {
	tle.ElementSet
	AgeHours float64 `json:"age_hours"`
}

// GET /api/v1/satellites/{norad_id}/elements
func (h *handlers) elements(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	es, err := h.svc.GetElements(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, elementsResponse{ElementSet: es, AgeHours: es.Age(time.Now()).Hours()})
}

// POST /api/v1/satellites/{norad_id}/refresh
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	es, err := h.svc.Refresh(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("elements refreshed", "norad_id", id, "epoch", es.Epoch, "request_id", RequestID(r.Context()))
	httputil.WriteJSON(w, http.StatusOK, elementsResponse{ElementSet: es, AgeHours: es.Age(time.Now()).Hours()})
}

// duration parses an optional positive query parameter counted in unit.
// Fractions are allowed.
func duration(r *http.Request, name string, unit time.Duration) (time.Duration, error) {
	v, ok, err := httputil.Float(r.URL.Query(), name)
	if err != nil || !ok {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, apperr.InvalidArgument("api.query", "%s must be positive, got %v", name, v)
	}
	d := v * float64(unit)
	if d > math.MaxInt64 {
		return 0, apperr.InvalidArgument("api.query", "%s too large", name)
	}
	return time.Duration(d), nil
}

// instant parses an optional RFC 3339 query parameter.
func instant(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.InvalidArgument("api.query", "invalid %s %q, want RFC 3339", name, raw)
	}
	return t, nil
}

// GET /api/v1/satellites/{norad_id}/transits?lat=&lon=&alt=&min_elevation=&hours=&step=&track_step=&start=
func (h *handlers) transits(w http.ResponseWriter, r *http.Request) {
	req, err := transitRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.GetTransits(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func transitRequest(r *http.Request) (tracker.TransitRequest, error) {
	var req tracker.TransitRequest
	var err error

	if req.NORADID, err = httputil.PathID(r); err != nil {
		return req, err
	}
	if req.Location, err = httputil.Location(r.URL.Query()); err != nil {
		return req, err
	}
	minEl, ok, err := httputil.Float(r.URL.Query(), "min_elevation")
	if err != nil {
		return req, err
	}
	if ok {
		req.MinElevationDeg = &minEl
	}
	if req.Horizon, err = duration(r, "hours", time.Hour); err != nil {
		return req, err
	}
	if req.Step, err = duration(r, "step", time.Second); err != nil {
		return req, err
	}
	if req.TrackStep, err = duration(r, "track_step", time.Second); err != nil {
		return req, err
	}
	if req.Start, err = instant(r, "start"); err != nil {
		return req, err
	}
	return req, nil
}

// GET /api/v1/satellites/{norad_id}/look?lat=&lon=&alt=&at=
func (h *handlers) look(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	loc, err := httputil.Location(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := instant(r, "at")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	look, err := h.svc.LookAngles(r.Context(), id, loc, at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, look)
}

type geocodeResponse struct {
	Query     string  `json:"query"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GET /api/v1/geocode?q=
func (h *handlers) geocode(w http.ResponseWriter, r *http.Request) {
	if h.geocoder == nil {
		h.fail(w, r, apperr.NotConfigured("api.geocode", "geocoding is not configured"))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	lat, lon, err := h.geocoder.Geocode(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, geocodeResponse{Query: q, Latitude: lat, Longitude: lon})
}
