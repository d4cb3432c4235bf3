// Package propagation turns orbital element sets into satellite states.
//
// A Propagator validates an element set once and returns a Model; the Model
// is then evaluated at as many instants as the caller needs. Both are pure:
// the same element set and instant always produce the same State, and a
// Model is safe for concurrent use.
package propagation

import (
	"time"

	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/transform"
)

// DefaultMaxAge is how far from epoch (in either direction) a model will
// propagate before refusing. SGP4 position error for LEO grows to tens of
// kilometers within a few weeks of epoch.
const DefaultMaxAge = 30 * 24 * time.Hour

// State is a satellite's TEME position (km) and velocity (km/s) at Time.
type State struct {
	Time time.Time
	transform.StateTEME
}

// Propagator prepares element sets for evaluation.
type Propagator interface {
	// Prepare validates es once and returns a reusable Model.
	Prepare(es tle.ElementSet) (Model, error)
	// Propagate is Prepare followed by Model.At.
	Propagate(es tle.ElementSet, at time.Time) (State, error)
}

// Model evaluates one prepared element set. Implementations are safe for
// concurrent use.
type Model interface {
	At(t time.Time) (State, error)
	Elements() tle.ElementSet
}

// Config holds propagation settings.
type Config struct {
	MaxAge  time.Duration // Refuse to propagate further than this from epoch (default: 30 days).
	Workers int           // Worker pool size for parallel sampling (default: runtime.NumCPU()).
}
