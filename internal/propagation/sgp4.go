package propagation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/transform"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go, explicit TEME output, WGS-84 constants. Two quirks shape this file:
// Propagate() takes Satellite by value so SGP4 error codes are not visible to
// the caller, and TLEToSat calls log.Fatal on any field it cannot parse. We
// pre-parse every field the library reads, and detect propagation failures by
// checking output for NaN/Inf and unreasonable position magnitudes.

// Plausible geocentric radius bounds for anything SGP4 models.
const (
	minRadiusKm = 6200.0
	maxRadiusKm = 50000.0
)

// SGP4 prepares element sets with the SGP4/SDP4 model.
type SGP4 struct {
	maxAge time.Duration
}

// NewSGP4 creates an SGP4 propagator. A zero MaxAge selects DefaultMaxAge.
func NewSGP4(cfg Config) *SGP4 {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &SGP4{maxAge: maxAge}
}

// Prepare validates es and initializes the SGP4 model for it.
func (p *SGP4) Prepare(es tle.ElementSet) (Model, error) {
	const op = "propagation.prepare"

	if err := validateElements(es); err != nil {
		return nil, apperr.Propagation(op, "%v", err).WithSatellite(es.NORADID, es.Epoch)
	}
	if err := validateTLELines(es.Line1, es.Line2); err != nil {
		return nil, apperr.Propagation(op, "%v", err).WithSatellite(es.NORADID, es.Epoch)
	}

	sat := satellite.TLEToSat(es.Line1, es.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, apperr.Propagation(op, "sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr).
			WithSatellite(es.NORADID, es.Epoch)
	}
	return &sgp4Model{es: es, sat: sat, maxAge: p.maxAge}, nil
}

// Propagate prepares es and evaluates it at at.
func (p *SGP4) Propagate(es tle.ElementSet, at time.Time) (State, error) {
	m, err := p.Prepare(es)
	if err != nil {
		return State{}, err
	}
	return m.At(at)
}

// validateElements rejects elements the model has no meaningful solution for.
func validateElements(es tle.ElementSet) error {
	switch {
	case math.IsNaN(es.Eccentricity) || es.Eccentricity < 0 || es.Eccentricity >= 1:
		return fmt.Errorf("eccentricity %v outside [0,1)", es.Eccentricity)
	case math.IsNaN(es.MeanMotion) || es.MeanMotion <= 0:
		return fmt.Errorf("mean motion %v rev/day must be positive", es.MeanMotion)
	case math.IsNaN(es.InclinationDeg) || es.InclinationDeg < 0 || es.InclinationDeg > 180:
		return fmt.Errorf("inclination %v outside [0,180]", es.InclinationDeg)
	case es.Epoch.IsZero():
		return fmt.Errorf("missing epoch")
	}
	return nil
}

// validateTLELines performs format validation on TLE lines.
// This prevents passing garbage to go-satellite which calls log.Fatal on parse errors.
func validateTLELines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}

	// The same slices, in the same shape, that TLEToSat hands to strconv.
	noSpace := func(s string) string { return strings.Replace(s, " ", "", 2) }
	fields := []struct {
		name    string
		s       string
		integer bool
	}{
		{"catalog number", strings.TrimSpace(line1[2:7]), true},
		{"epoch year", line1[18:20], true},
		{"epoch day", line1[20:32], false},
		{"mean motion dot", noSpace(line1[33:43]), false},
		{"mean motion ddot", noSpace(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52]), false},
		{"bstar", noSpace(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61]), false},
		{"inclination", noSpace(line2[8:16]), false},
		{"raan", noSpace(line2[17:25]), false},
		{"eccentricity", "." + line2[26:33], false},
		{"arg of perigee", noSpace(line2[34:42]), false},
		{"mean anomaly", noSpace(line2[43:51]), false},
		{"mean motion", noSpace(line2[52:63]), false},
	}
	for _, f := range fields {
		var err error
		if f.integer {
			_, err = strconv.Atoi(f.s)
		} else {
			_, err = strconv.ParseFloat(f.s, 64)
		}
		if err != nil {
			return fmt.Errorf("unparseable %s %q", f.name, f.s)
		}
	}
	return nil
}

// sgp4Model is an initialized SGP4 satellite. The library's Propagate copies
// the Satellite, so concurrent At calls never share mutable state.
type sgp4Model struct {
	es     tle.ElementSet
	sat    satellite.Satellite
	maxAge time.Duration
}

func (m *sgp4Model) Elements() tle.ElementSet { return m.es }

// At returns the state at t. The library resolves whole seconds only; between
// them the state is a cubic Hermite blend of the two bracketing solutions with
// their velocities as tangents, which keeps position and velocity continuous.
func (m *sgp4Model) At(t time.Time) (State, error) {
	const op = "propagation.at"
	t = t.UTC()

	if age := m.es.Age(t); age > m.maxAge {
		return State{}, apperr.Propagation(op, "elements are %s from epoch %s, limit %s",
			age.Round(time.Minute), m.es.Epoch.UTC().Format(time.RFC3339), m.maxAge).
			WithSatellite(m.es.NORADID, t)
	}

	t0 := t.Truncate(time.Second)
	s0, err := m.whole(t0)
	if err != nil {
		return State{}, err
	}
	frac := t.Sub(t0).Seconds()
	if frac == 0 {
		return State{Time: t, StateTEME: s0}, nil
	}
	s1, err := m.whole(t0.Add(time.Second))
	if err != nil {
		return State{}, err
	}

	return State{Time: t, StateTEME: hermite(s0, s1, frac)}, nil
}

// whole runs the library at a whole-second UTC instant.
func (m *sgp4Model) whole(t time.Time) (transform.StateTEME, error) {
	const op = "propagation.at"

	pos, vel := satellite.Propagate(m.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	s := transform.StateTEME{
		Position: transform.Vector{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity: transform.Vector{X: vel.X, Y: vel.Y, Z: vel.Z},
	}

	// Detect propagation failures via NaN/Inf check.
	if !s.Position.IsFinite() || !s.Velocity.IsFinite() {
		return transform.StateTEME{}, apperr.Propagation(op, "sgp4 output is NaN/Inf").
			WithSatellite(m.es.NORADID, t)
	}

	// Sanity check: a decayed or diverged solution leaves these bounds.
	if r := s.Position.Norm(); r < minRadiusKm || r > maxRadiusKm {
		return transform.StateTEME{}, apperr.Propagation(op, "unreasonable position magnitude %.1f km", r).
			WithSatellite(m.es.NORADID, t)
	}
	return s, nil
}

// hermite interpolates between states one second apart at fraction u in (0,1).
func hermite(s0, s1 transform.StateTEME, u float64) transform.StateTEME {
	u2, u3 := u*u, u*u*u
	h00 := 2*u3 - 3*u2 + 1
	h10 := u3 - 2*u2 + u
	h01 := -2*u3 + 3*u2
	h11 := u3 - u2

	d00 := 6*u2 - 6*u
	d10 := 3*u2 - 4*u + 1
	d01 := -6*u2 + 6*u
	d11 := 3*u2 - 2*u

	blend := func(p0, v0, p1, v1 float64) (float64, float64) {
		return h00*p0 + h10*v0 + h01*p1 + h11*v1,
			d00*p0 + d10*v0 + d01*p1 + d11*v1
	}

	var out transform.StateTEME
	out.Position.X, out.Velocity.X = blend(s0.Position.X, s0.Velocity.X, s1.Position.X, s1.Velocity.X)
	out.Position.Y, out.Velocity.Y = blend(s0.Position.Y, s0.Velocity.Y, s1.Position.Y, s1.Velocity.Y)
	out.Position.Z, out.Velocity.Z = blend(s0.Position.Z, s0.Velocity.Z, s1.Position.Z, s1.Velocity.Z)
	return out
}
