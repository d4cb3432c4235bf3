// Package visibility evaluates where a propagated satellite appears in an
// observer's sky.
package visibility

import (
	"math"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/transform"
)

// Altitude bounds for a ground observer, meters above the WGS-84 ellipsoid.
const (
	MinAltitudeM = -500.0
	MaxAltitudeM = 10000.0
)

// Below this range (km) the direction to the satellite is numerical noise.
const minRangeKm = 1e-6

// GroundLocation is an observer position on the WGS-84 ellipsoid.
type GroundLocation struct {
	LatitudeDeg  float64 `json:"latitude"`
	LongitudeDeg float64 `json:"longitude"`
	AltitudeM    float64 `json:"altitude_m"`
}

// Validate rejects coordinates that do not describe a point on Earth.
func (g GroundLocation) Validate() error {
	const op = "visibility.location"
	for _, v := range []float64{g.LatitudeDeg, g.LongitudeDeg, g.AltitudeM} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.InvalidArgument(op, "coordinates must be finite, got (%v, %v, %v)",
				g.LatitudeDeg, g.LongitudeDeg, g.AltitudeM)
		}
	}
	if g.LatitudeDeg < -90 || g.LatitudeDeg > 90 {
		return apperr.InvalidArgument(op, "latitude %v outside [-90, 90]", g.LatitudeDeg)
	}
	if g.LongitudeDeg < -180 || g.LongitudeDeg > 180 {
		return apperr.InvalidArgument(op, "longitude %v outside [-180, 180]", g.LongitudeDeg)
	}
	if g.AltitudeM < MinAltitudeM || g.AltitudeM > MaxAltitudeM {
		return apperr.InvalidArgument(op, "altitude %v m outside [%v, %v]", g.AltitudeM, MinAltitudeM, MaxAltitudeM)
	}
	return nil
}

// Geodetic converts the location to the transform package's form.
func (g GroundLocation) Geodetic() transform.Geodetic {
	return transform.Geodetic{LatDeg: g.LatitudeDeg, LonDeg: g.LongitudeDeg, AltKm: g.AltitudeM / 1000}
}

// Frame is a satellite's topocentric position at one instant.
type Frame struct {
	Time         time.Time `json:"time"`
	ElevationDeg float64   `json:"elevation_deg"`
	AzimuthDeg   float64   `json:"azimuth_deg"`
	RangeKm      float64   `json:"range_km"`
}

// Observer is a validated GroundLocation with its horizon frame precomputed,
// for evaluating many states from one place.
type Observer struct {
	loc  GroundLocation
	topo transform.Topocentric
}

// NewObserver validates loc and builds its horizon frame.
func NewObserver(loc GroundLocation) (*Observer, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return &Observer{loc: loc, topo: transform.NewTopocentric(loc.Geodetic())}, nil
}

// Location returns the observer's position.
func (o *Observer) Location() GroundLocation { return o.loc }

// Evaluate returns the look angles to state, rotating the Earth to at.
// Degenerate geometry is an error, never a zero elevation.
func (o *Observer) Evaluate(state propagation.State, at time.Time) (Frame, error) {
	ecef, err := toECEF(state, at)
	if err != nil {
		return Frame{}, err
	}

	la := o.topo.LookAngles(ecef.Position)
	if math.IsNaN(la.ElevationDeg) || math.IsNaN(la.AzimuthDeg) || la.RangeKm < minRangeKm {
		return Frame{}, apperr.Geometry("visibility.evaluate", "degenerate look angles at range %.3f km", la.RangeKm).
			WithSatellite(0, at)
	}

	return Frame{
		Time:         at,
		ElevationDeg: la.ElevationDeg,
		AzimuthDeg:   la.AzimuthDeg,
		RangeKm:      la.RangeKm,
	}, nil
}

// SubSatellitePoint returns the geodetic point directly beneath state at at.
func SubSatellitePoint(state propagation.State, at time.Time) (transform.Geodetic, error) {
	ecef, err := toECEF(state, at)
	if err != nil {
		return transform.Geodetic{}, err
	}
	return transform.ECEFToGeodetic(ecef.Position), nil
}

// Evaluate is the one-shot form of NewObserver followed by Observer.Evaluate.
func Evaluate(state propagation.State, loc GroundLocation, at time.Time) (Frame, error) {
	o, err := NewObserver(loc)
	if err != nil {
		return Frame{}, err
	}
	return o.Evaluate(state, at)
}

func toECEF(state propagation.State, at time.Time) (transform.StateECEF, error) {
	if !state.Position.IsFinite() || !state.Velocity.IsFinite() {
		return transform.StateECEF{}, apperr.Geometry("visibility.evaluate", "non-finite satellite state").
			WithSatellite(0, at)
	}
	return transform.TEMEToECEF(state.StateTEME, at), nil
}
