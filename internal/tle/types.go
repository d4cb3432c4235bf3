package tle

import (
	"math"
	"time"
)

// ElementSet is one satellite's mean orbital elements at a reference epoch,
// decoded from a two-line element set. It is never mutated after parsing; a
// newer fetch produces a new ElementSet that supersedes this one.
type ElementSet struct {
	NORADID        int       `json:"norad_id"`
	Name           string    `json:"name,omitempty"`
	Classification string    `json:"classification"`
	IntlDesignator string    `json:"intl_designator"`
	Epoch          time.Time `json:"epoch"`

	MeanMotionDot  float64 `json:"mean_motion_dot"`  // rev/day², first derivative / 2
	MeanMotionDDot float64 `json:"mean_motion_ddot"` // rev/day³, second derivative / 6
	BStar          float64 `json:"bstar"`            // 1/earth radii
	ElementSetNo   int     `json:"element_set_no"`

	InclinationDeg float64 `json:"inclination_deg"`
	RAANDeg        float64 `json:"raan_deg"`
	Eccentricity   float64 `json:"eccentricity"`
	ArgPerigeeDeg  float64 `json:"arg_perigee_deg"`
	MeanAnomalyDeg float64 `json:"mean_anomaly_deg"`
	MeanMotion     float64 `json:"mean_motion"` // rev/day
	RevNumber      int     `json:"rev_number"`

	Line1 string `json:"line1"`
	Line2 string `json:"line2"`

	// Source and FetchedAt describe where this copy came from ("celestrak",
	// "archive", "file") and when it was obtained.
	Source    string    `json:"source,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns the absolute distance between at and the element epoch.
// Propagation error grows with this value in both directions.
func (e ElementSet) Age(at time.Time) time.Duration {
	d := at.Sub(e.Epoch)
	if d < 0 {
		return -d
	}
	return d
}

// Period returns the nominal orbital period implied by the mean motion.
func (e ElementSet) Period() time.Duration {
	if e.MeanMotion <= 0 {
		return 0
	}
	return time.Duration(float64(24*time.Hour) / e.MeanMotion)
}

// SemiMajorAxisKm returns the Kepler semi-major axis for the mean motion,
// using the WGS-84 gravitational parameter.
func (e ElementSet) SemiMajorAxisKm() float64 {
	const mu = 398600.4418 // km³/s²
	if e.MeanMotion <= 0 {
		return 0
	}
	n := e.MeanMotion * 2 * math.Pi / 86400.0 // rad/s
	return math.Cbrt(mu / (n * n))
}

// Text renders the element set in 3-line form (name, line 1, line 2).
func (e ElementSet) Text() string {
	name := e.Name
	if name == "" {
		return e.Line1 + "\n" + e.Line2 + "\n"
	}
	return name + "\n" + e.Line1 + "\n" + e.Line2 + "\n"
}
