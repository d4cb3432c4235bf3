package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/star/satpass/internal/apperr"
)

// DefaultGeocodeURL is the maps.co forward geocoding endpoint.
const DefaultGeocodeURL = "https://geocode.maps.co/search"

// MapsCo is a Geocoder backed by geocode.maps.co. It needs an API key.
type MapsCo struct {
	searchURL string
	apiKey    string
	get       *getter
}

// NewMapsCo creates a maps.co client. An empty opts.BaseURL selects
// DefaultGeocodeURL. A client without an API key is valid but every lookup
// fails with NotConfigured.
func NewMapsCo(opts Options, apiKey string, logger *slog.Logger) *MapsCo {
	search := opts.BaseURL
	if search == "" {
		search = DefaultGeocodeURL
	}
	return &MapsCo{
		searchURL: search,
		apiKey:    apiKey,
		get:       newGetter("mapsco", opts, logger),
	}
}

// Configured reports whether an API key is set.
func (m *MapsCo) Configured() bool {
	return m.apiKey != ""
}

type mapsCoPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the coordinates of the highest-ranked match for place.
func (m *MapsCo) Geocode(ctx context.Context, place string) (lat, lon float64, err error) {
	const op = "mapsco.geocode"

	if m.apiKey == "" {
		return 0, 0, apperr.NotConfigured(op, "geocoding API key is not set")
	}
	place = strings.TrimSpace(place)
	if place == "" {
		return 0, 0, apperr.InvalidArgument(op, "place must not be empty")
	}

	defer m.get.track(time.Now(), &err)

	q := url.Values{}
	q.Set("q", place)
	q.Set("api_key", m.apiKey)
	resp, err := m.get.get(ctx, op, m.searchURL+"?"+q.Encode())
	if err != nil {
		return 0, 0, err
	}
	if err := checkStatus(op, resp); err != nil {
		return 0, 0, err
	}

	var places []mapsCoPlace
	if err := json.Unmarshal(resp.body, &places); err != nil {
		return 0, 0, apperr.Unavailable(op, err, "malformed geocoding response")
	}
	if len(places) == 0 {
		return 0, 0, apperr.NotFound(op, "no location found for %q", place)
	}

	// Results are ordered by importance.
	best := places[0]
	lat, err = strconv.ParseFloat(best.Lat, 64)
	if err != nil {
		return 0, 0, apperr.Unavailable(op, err, "malformed latitude %q", best.Lat)
	}
	lon, err = strconv.ParseFloat(best.Lon, 64)
	if err != nil {
		return 0, 0, apperr.Unavailable(op, err, "malformed longitude %q", best.Lon)
	}
	return lat, lon, nil
}
