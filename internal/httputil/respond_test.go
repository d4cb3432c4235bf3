package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/star/satpass/internal/apperr"
)

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperr.Code
		wantMsg    string
	}{
		{"invalid", apperr.InvalidArgument("op", "bad lat"), http.StatusBadRequest, apperr.CodeInvalidArgument, "bad lat"},
		{"not found", apperr.NotFound("op", "no such satellite"), http.StatusNotFound, apperr.CodeNotFound, "no such satellite"},
		{"unavailable", apperr.Unavailable("op", errors.New("dial"), "down"), http.StatusServiceUnavailable, apperr.CodeProviderUnavailable, "down"},
		{"propagation", apperr.Propagation("op", "decayed"), http.StatusUnprocessableEntity, apperr.CodePropagation, "decayed"},
		{"geometry", apperr.Geometry("op", "nan"), http.StatusUnprocessableEntity, apperr.CodeGeometry, "nan"},
		{"not configured", apperr.NotConfigured("op", "no key"), http.StatusNotImplemented, apperr.CodeNotConfigured, "no key"},
		{"wrapped", fmt.Errorf("outer: %w", apperr.NotFound("op", "gone")), http.StatusNotFound, apperr.CodeNotFound, "gone"},
		{"internal", errors.New("boom: secret detail"), http.StatusInternalServerError, apperr.CodeInternal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body ErrorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", body.Error, tt.wantMsg)
			}
			retry := rec.Header().Get("Retry-After")
			if tt.wantStatus == http.StatusServiceUnavailable && retry != RetryAfterSeconds {
				t.Errorf("Retry-After = %q, want %q", retry, RetryAfterSeconds)
			}
			if tt.wantStatus != http.StatusServiceUnavailable && retry != "" {
				t.Errorf("unexpected Retry-After %q", retry)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"valid", "lat=51.5&lon=-0.1&alt=35", false},
		{"altitude optional", "lat=0&lon=0", false},
		{"missing lat", "lon=0", true},
		{"missing lon", "lat=0", true},
		{"not a number", "lat=north&lon=0", true},
		{"NaN", "lat=NaN&lon=0", true},
		{"latitude out of range", "lat=91&lon=0", true},
		{"longitude out of range", "lat=0&lon=181", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			loc, err := Location(q)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrInvalidArgument) {
					t.Fatalf("err = %v, want InvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.name == "valid" && (loc.LatitudeDeg != 51.5 || loc.LongitudeDeg != -0.1 || loc.AltitudeM != 35) {
				t.Errorf("loc = %+v", loc)
			}
		})
	}
}

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"25544", 25544, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"iss", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetPathValue("norad_id", tt.raw)
		got, err := PathID(r)
		if tt.wantErr {
			if !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Errorf("PathID(%q) err = %v, want InvalidArgument", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("PathID(%q) = %d, %v, want %d", tt.raw, got, err, tt.want)
		}
	}
}
