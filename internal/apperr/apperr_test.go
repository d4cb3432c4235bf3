package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable("celestrak.fetch_tle", cause, "fetching elements for %d", 25544)

	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, Retryable(err))
}

func TestCodeOf(t *testing.T) {
	at := time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC)

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"invalid", InvalidArgument("find_transits", "min elevation %v out of range", 95.0), CodeInvalidArgument},
		{"wrapped not found", fmt.Errorf("catalog: %w", NotFound("lookup_name", "no satellite 99999")), CodeNotFound},
		{"bare sentinel", fmt.Errorf("x: %w", ErrGeometry), CodeGeometry},
		{"propagation", Propagation("propagate", "too far from epoch").WithSatellite(25544, at), CodePropagation},
		{"not configured", NotConfigured("geocode", "missing api key"), CodeNotConfigured},
		{"plain", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestErrorStringCarriesContext(t *testing.T) {
	at := time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC)
	err := Propagation("propagate", "elements too old").WithSatellite(25544, at)

	msg := err.Error()
	assert.Contains(t, msg, "PROPAGATION_ERROR")
	assert.Contains(t, msg, "norad_id=25544")
	assert.Contains(t, msg, "2025-02-14T04:19:40Z")
	assert.False(t, Retryable(err))
}

func TestCheckFreshness(t *testing.T) {
	epoch := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)

	_, stale := CheckFreshness(25544, epoch, epoch.Add(24*time.Hour), 72*time.Hour)
	assert.False(t, stale)

	w, stale := CheckFreshness(25544, epoch, epoch.Add(96*time.Hour), 72*time.Hour)
	require.True(t, stale)
	assert.Equal(t, 96*time.Hour, w.Age)
	assert.Equal(t, 25544, w.NORADID)

	_, stale = CheckFreshness(25544, epoch, epoch.Add(1000*time.Hour), 0)
	assert.False(t, stale, "zero threshold disables the check")
}

func TestStaleDataWarningJSON(t *testing.T) {
	w := StaleDataWarning{
		NORADID:   25544,
		Epoch:     time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		Age:       96 * time.Hour,
		Threshold: 72 * time.Hour,
	}
	data, err := json.Marshal(w)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "stale_elements", got["type"])
	assert.Equal(t, float64(25544), got["norad_id"])
	assert.Equal(t, "2025-02-14T00:00:00Z", got["epoch"])
	assert.Equal(t, float64(96*3600), got["age_seconds"])
}
