package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/visibility"
)

// RetryAfterSeconds is sent with 503 and 429 responses.
const RetryAfterSeconds = "30"

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusOf maps an error to its HTTP status code.
func StatusOf(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodePropagation, apperr.CodeGeometry:
		return http.StatusUnprocessableEntity
	case apperr.CodeNotConfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as {"error","code"} with the mapped status.
// Internal errors are not described to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	code := apperr.CodeOf(err)
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	WriteJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// PathID parses the {norad_id} path value.
func PathID(r *http.Request) (int, error) {
	raw := r.PathValue("norad_id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArgument("http.path", "invalid NORAD id %q", raw)
	}
	return id, nil
}

// Float parses an optional float query parameter. ok is false when the
// parameter is absent.
func Float(q url.Values, name string) (v float64, ok bool, err error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperr.InvalidArgument("http.query", "invalid %s %q", name, raw)
	}
	return v, true, nil
}

// Location parses lat, lon and alt (metres, optional) into a validated
// ground location. lat and lon are required.
func Location(q url.Values) (visibility.GroundLocation, error) {
	var loc visibility.GroundLocation
	for _, p := range []struct {
		name     string
		dst      *float64
		required bool
	}{
		{"lat", &loc.LatitudeDeg, true},
		{"lon", &loc.LongitudeDeg, true},
		{"alt", &loc.AltitudeM, false},
	} {
		v, ok, err := Float(q, p.name)
		if err != nil {
			return visibility.GroundLocation{}, err
		}
		if !ok && p.required {
			return visibility.GroundLocation{}, apperr.InvalidArgument("http.query", "missing %s", p.name)
		}
		*p.dst = v
	}
	if err := loc.Validate(); err != nil {
		return visibility.GroundLocation{}, err
	}
	return loc, nil
}
