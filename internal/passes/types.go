package passes

import (
	"fmt"
	"time"

	"github.com/star/satpass/internal/visibility"
)

// LeadingPolicy decides what happens to a pass already in progress at the
// start of the search horizon.
type LeadingPolicy string

const (
	// LeadingBackExtend searches backwards (up to Config.MaxLookback) for the
	// true rise time and reports the whole pass, which then starts before the
	// horizon.
	LeadingBackExtend LeadingPolicy = "back_extend"
	// LeadingDiscard drops the partial pass.
	LeadingDiscard LeadingPolicy = "discard"
)

// ParseLeadingPolicy converts a config string into a LeadingPolicy.
func ParseLeadingPolicy(s string) (LeadingPolicy, error) {
	switch p := LeadingPolicy(s); p {
	case LeadingBackExtend, LeadingDiscard:
		return p, nil
	default:
		return "", fmt.Errorf("unknown leading pass policy %q (want %q or %q)", s, LeadingBackExtend, LeadingDiscard)
	}
}

// Config holds search engine settings.
type Config struct {
	Step           time.Duration // Default sampling step when a query leaves it zero.
	Tolerance      time.Duration // Bisection stops once a crossing bracket is this narrow.
	GrazeMarginDeg float64       // Sub-threshold local maxima within this margin are probed for grazing passes.
	MaxSamples     int           // Upper bound on grid samples per search.
	MaxHorizon     time.Duration // Upper bound on End - Start.
	MaxLookback    time.Duration // How far before Start a leading pass may be traced.
	Leading        LeadingPolicy
	// Grids with at least this many samples are evaluated on the worker pool.
	ParallelThreshold int
}

// DefaultConfig returns the engine defaults. A 20 s step resolves any pass
// longer than about a minute on the grid; shorter ones are caught by the
// grazing probe.
func DefaultConfig() Config {
	return Config{
		Step:              20 * time.Second,
		Tolerance:         100 * time.Millisecond,
		GrazeMarginDeg:    5,
		MaxSamples:        200000,
		MaxHorizon:        7 * 24 * time.Hour,
		MaxLookback:       time.Hour,
		Leading:           LeadingBackExtend,
		ParallelThreshold: 2048,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Step <= 0 {
		c.Step = d.Step
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.GrazeMarginDeg <= 0 {
		c.GrazeMarginDeg = d.GrazeMarginDeg
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = d.MaxSamples
	}
	if c.MaxHorizon <= 0 {
		c.MaxHorizon = d.MaxHorizon
	}
	if c.MaxLookback <= 0 {
		c.MaxLookback = d.MaxLookback
	}
	if c.Leading == "" {
		c.Leading = d.Leading
	}
	if c.ParallelThreshold <= 0 {
		c.ParallelThreshold = d.ParallelThreshold
	}
	return c
}

// Query describes one pass search.
type Query struct {
	Location        visibility.GroundLocation
	MinElevationDeg float64
	Start           time.Time
	End             time.Time
	Step            time.Duration // Zero selects Config.Step.
	TrackStep       time.Duration // Ground track spacing; zero omits the track.
}

// TrackPoint is a sub-satellite position at a specific time during a pass.
type TrackPoint struct {
	Time         time.Time `json:"time"`
	LatitudeDeg  float64   `json:"latitude"`
	LongitudeDeg float64   `json:"longitude"`
	AltitudeKm   float64   `json:"altitude_km"`
	ElevationDeg float64   `json:"elevation_deg"` // above the observer's horizon
}

// Transit is one contiguous interval with the satellite above the minimum
// elevation. Times are UTC, millisecond precision.
type Transit struct {
	SatelliteID      int                       `json:"norad_id"`
	Start            time.Time                 `json:"start"`
	End              time.Time                 `json:"end"`
	DurationSeconds  float64                   `json:"duration_seconds"`
	Location         visibility.GroundLocation `json:"location"`
	MaxElevationDeg  float64                   `json:"max_elevation_deg"`
	MaxElevationTime time.Time                 `json:"max_elevation_time"`
	StartAzimuthDeg  float64                   `json:"start_azimuth_deg"`
	EndAzimuthDeg    float64                   `json:"end_azimuth_deg"`
	GroundTrack      []TrackPoint              `json:"ground_track,omitempty"`
}
