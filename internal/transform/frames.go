// Package transform provides the coordinate frame math behind look-angle
// evaluation.
//
// SGP4 outputs positions in TEME (True Equator Mean Equinox). Ground observers
// live in ECEF (Earth-Centered Earth-Fixed). The rotation between them is
// R3(GMST). This ignores polar motion and the equation of the equinoxes, which
// introduces tens of meters of error at most: far below what moves an
// elevation crossing by more than a few milliseconds.
//
// All distances in this package are kilometers, velocities km/s, angles in
// degrees at the API surface and radians internally.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3-4.
package transform

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// Vector is a Cartesian 3-vector.
type Vector struct {
	X, Y, Z float64
}

// Sub returns v - w.
func (v Vector) Sub(w Vector) Vector {
	return Vector{v.X - w.X, v.Y - w.Y, v.Z - w.Z}
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsFinite reports whether every component is neither NaN nor ±Inf.
func (v Vector) IsFinite() bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// StateTEME is a position (km) and velocity (km/s) in the TEME frame.
type StateTEME struct {
	Position Vector
	Velocity Vector
}

// StateECEF is a position (km) and velocity (km/s) in the ECEF frame.
type StateECEF struct {
	Position Vector
	Velocity Vector
}

// JulianDate converts a time.Time to a Julian Date (UTC).
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// GMST calculates Greenwich Mean Sidereal Time in radians for a given UTC time.
// Uses the IAU-82 model as described in Vallado "Fundamentals of Astrodynamics".
//
// Formula (Vallado Eq 3-47):
//
//	θ_GMST = 67310.54841 + (876600h + 8640184.812866)*T + 0.093104*T² - 6.2e-6*T³
//
// where T is Julian centuries of UT1 from J2000.0, result is in seconds of time.
func GMST(t time.Time) float64 {
	t = t.UTC()

	// Split the date into midnight JD and day fraction: the midnight value is
	// exact in float64, which keeps sub-millisecond resolution in T.
	y, m, d := t.Date()
	jd0 := julian.CalendarGregorianToJD(y, int(m), float64(d))
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	frac := t.Sub(midnight).Seconds() / 86400.0
	tUT1 := ((jd0 - j2000) + frac) / 36525.0

	// 876600h = 876600 * 3600 = 3155760000 seconds.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	// Normalize to [0, 86400) seconds, then convert to radians.
	gmstSec = math.Mod(gmstSec, 86400.0)
	if gmstSec < 0 {
		gmstSec += 86400.0
	}
	return gmstSec / 86400.0 * 2.0 * math.Pi
}

// TEMEToECEF rotates a TEME state into ECEF at the given UTC time.
func TEMEToECEF(s StateTEME, t time.Time) StateECEF {
	return TEMEToECEFWithGMST(s, GMST(t))
}

// TEMEToECEFWithGMST transforms TEME to ECEF using a precomputed GMST angle (radians).
//
// Position transform: r_ECEF = R3(θ) * r_TEME
// Velocity transform: v_ECEF = R3(θ) * v_TEME - ω × r_ECEF
func TEMEToECEFWithGMST(s StateTEME, gmst float64) StateECEF {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	r := Vector{
		X: s.Position.X*cosG + s.Position.Y*sinG,
		Y: -s.Position.X*sinG + s.Position.Y*cosG,
		Z: s.Position.Z,
	}

	// ω × r_ECEF = [-ω*y, ω*x, 0]
	v := Vector{
		X: s.Velocity.X*cosG + s.Velocity.Y*sinG + OmegaEarth*r.Y,
		Y: -s.Velocity.X*sinG + s.Velocity.Y*cosG - OmegaEarth*r.X,
		Z: s.Velocity.Z,
	}

	return StateECEF{Position: r, Velocity: v}
}
