package visibility

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/transform"
)

var at = time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)

// stateAboveECEF builds a TEME state that lands on the ECEF point p at at.
func stateAboveECEF(p transform.Vector, at time.Time) propagation.State {
	g := transform.GMST(at)
	c, s := math.Cos(g), math.Sin(g)
	return propagation.State{
		Time: at,
		StateTEME: transform.StateTEME{
			Position: transform.Vector{X: c*p.X - s*p.Y, Y: s*p.X + c*p.Y, Z: p.Z},
		},
	}
}

func TestGroundLocationValidate(t *testing.T) {
	tests := []struct {
		name string
		loc  GroundLocation
		ok   bool
	}{
		{"equator", GroundLocation{}, true},
		{"poles", GroundLocation{LatitudeDeg: -90, LongitudeDeg: 180}, true},
		{"everest", GroundLocation{LatitudeDeg: 27.99, LongitudeDeg: 86.93, AltitudeM: 8849}, true},
		{"dead sea", GroundLocation{LatitudeDeg: 31.5, LongitudeDeg: 35.5, AltitudeM: -430}, true},
		{"latitude high", GroundLocation{LatitudeDeg: 91}, false},
		{"longitude low", GroundLocation{LongitudeDeg: -180.5}, false},
		{"latitude NaN", GroundLocation{LatitudeDeg: math.NaN()}, false},
		{"longitude Inf", GroundLocation{LongitudeDeg: math.Inf(1)}, false},
		{"altitude orbital", GroundLocation{AltitudeM: 400000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestEvaluateOverhead(t *testing.T) {
	loc := GroundLocation{}
	sat := transform.Vector{X: 7000}

	f, err := Evaluate(stateAboveECEF(sat, at), loc, at)
	require.NoError(t, err)
	assert.InDelta(t, 90, f.ElevationDeg, 1e-6)
	assert.InDelta(t, 7000-6378.137, f.RangeKm, 1e-6)
	assert.True(t, f.Time.Equal(at))

	p, err := SubSatellitePoint(stateAboveECEF(sat, at), at)
	require.NoError(t, err)
	assert.InDelta(t, 0, p.LatDeg, 1e-9)
	assert.InDelta(t, 0, p.LonDeg, 1e-9)
	assert.InDelta(t, 7000-6378.137, p.AltKm, 1e-6)
}

func TestEvaluateEarthRotation(t *testing.T) {
	// The same inertial state seen six hours later has rotated away under
	// the observer, so it can no longer be at the zenith.
	loc := GroundLocation{}
	st := stateAboveECEF(transform.Vector{X: 7000}, at)

	later := at.Add(6 * time.Hour)
	f, err := Evaluate(st, loc, later)
	require.NoError(t, err)
	assert.Less(t, f.ElevationDeg, 0.0)
}

func TestEvaluateDegenerate(t *testing.T) {
	loc := GroundLocation{}
	o, err := NewObserver(loc)
	require.NoError(t, err)

	// Satellite exactly at the observer.
	_, err = o.Evaluate(stateAboveECEF(transform.GeodeticToECEF(loc.Geodetic()), at), at)
	assert.ErrorIs(t, err, apperr.ErrGeometry)

	nan := propagation.State{Time: at}
	nan.Position.X = math.NaN()
	_, err = o.Evaluate(nan, at)
	assert.ErrorIs(t, err, apperr.ErrGeometry)

	_, err = SubSatellitePoint(nan, at)
	assert.ErrorIs(t, err, apperr.ErrGeometry)
}

func TestNewObserverRejectsInvalid(t *testing.T) {
	_, err := NewObserver(GroundLocation{LatitudeDeg: 95})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = Evaluate(propagation.State{}, GroundLocation{LatitudeDeg: 95}, at)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestEvaluateDeterministic(t *testing.T) {
	es, err := tle.ParseLines("ISS (ZARYA)",
		"1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993",
		"2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058")
	require.NoError(t, err)

	st, err := propagation.NewSGP4(propagation.Config{}).Propagate(es, at)
	require.NoError(t, err)

	loc := GroundLocation{LatitudeDeg: 40.7128, LongitudeDeg: -74.006, AltitudeM: 10}
	a, err := Evaluate(st, loc, at)
	require.NoError(t, err)
	b, err := Evaluate(st, loc, at)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a.AzimuthDeg, 0.0)
	assert.Less(t, a.AzimuthDeg, 360.0)
	assert.GreaterOrEqual(t, a.ElevationDeg, -90.0)
	assert.LessOrEqual(t, a.ElevationDeg, 90.0)
	// Range from the surface to an LEO satellite lies between its altitude
	// and the far side of the Earth.
	assert.Greater(t, a.RangeKm, 350.0)
	assert.Less(t, a.RangeKm, 14000.0)
}
