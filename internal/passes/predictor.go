// Package passes finds the intervals during which a satellite is above a
// minimum elevation for a ground observer.
//
// The search samples elevation on a fixed grid, brackets every threshold
// crossing between neighbouring samples, and bisects each bracket down to the
// configured tolerance. Passes too brief to straddle a grid point are
// recovered by probing near-threshold local maxima.
package passes

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/metrics"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/visibility"
)

// Engine runs pass searches. It holds no per-search state and is safe for
// concurrent use.
type Engine struct {
	prop   propagation.Propagator
	pool   *propagation.WorkerPool
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a search engine. Zero Config fields take their defaults.
func NewEngine(prop propagation.Propagator, pool *propagation.WorkerPool, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		prop:   prop,
		pool:   pool,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// FindTransits returns every complete pass of es over q.Location between
// q.Start and q.End, ordered by start time. No passes is an empty slice, not
// an error. Invalid queries fail with an InvalidArgument error before any
// propagation happens.
func (e *Engine) FindTransits(ctx context.Context, es tle.ElementSet, q Query) ([]Transit, error) {
	q.Start, q.End = q.Start.UTC(), q.End.UTC()

	step, n, err := e.validate(q)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []Transit{}, nil
	}

	model, err := e.prop.Prepare(es)
	if err != nil {
		return nil, err
	}
	obs, err := visibility.NewObserver(q.Location)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s := &search{
		engine: e,
		model:  model,
		obs:    obs,
		q:      q,
		step:   step,
		n:      n,
		id:     es.NORADID,
	}

	transits, err := s.run(ctx)
	if err != nil {
		return nil, err
	}

	metrics.ObserveSearch(time.Since(start), n, len(transits))
	e.logger.Debug("transit search complete",
		"norad_id", es.NORADID,
		"samples", n,
		"transits", len(transits),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return transits, nil
}

// validate checks q and returns the effective step and the grid size. A zero
// grid size means an empty horizon.
func (e *Engine) validate(q Query) (time.Duration, int, error) {
	const op = "passes.find"

	if math.IsNaN(q.MinElevationDeg) || q.MinElevationDeg < -90 || q.MinElevationDeg > 90 {
		return 0, 0, apperr.InvalidArgument(op, "min elevation %v outside [-90, 90]", q.MinElevationDeg)
	}
	if err := q.Location.Validate(); err != nil {
		return 0, 0, err
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return 0, 0, apperr.InvalidArgument(op, "horizon start and end are required")
	}
	if q.End.Before(q.Start) {
		return 0, 0, apperr.InvalidArgument(op, "horizon end %s is before start %s",
			q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}
	if q.Step < 0 || q.TrackStep < 0 {
		return 0, 0, apperr.InvalidArgument(op, "step must not be negative")
	}

	span := q.End.Sub(q.Start)
	if span > e.cfg.MaxHorizon {
		return 0, 0, apperr.InvalidArgument(op, "horizon %s exceeds maximum %s", span, e.cfg.MaxHorizon)
	}

	step := q.Step
	if step == 0 {
		step = e.cfg.Step
	}
	if step < e.cfg.Tolerance {
		return 0, 0, apperr.InvalidArgument(op, "step %s is finer than the %s refinement tolerance", step, e.cfg.Tolerance)
	}
	if span == 0 {
		return step, 0, nil
	}

	// Samples at Start, Start+step, ... and a final one exactly at End.
	n := int(span/step) + 1
	if time.Duration(n-1)*step < span {
		n++
	}
	if n > e.cfg.MaxSamples {
		return 0, 0, apperr.InvalidArgument(op, "horizon %s at step %s needs %d samples, maximum %d",
			span, step, n, e.cfg.MaxSamples)
	}
	return step, n, nil
}

// search is the state of one FindTransits call.
type search struct {
	engine *Engine
	model  propagation.Model
	obs    *visibility.Observer
	q      Query
	step   time.Duration
	n      int
	id     int

	elev []float64 // elevation at grid(i)
}

// grid returns the i-th sample time; the last one is clamped to End.
func (s *search) grid(i int) time.Time {
	t := s.q.Start.Add(time.Duration(i) * s.step)
	if t.After(s.q.End) {
		return s.q.End
	}
	return t
}

// frame evaluates the satellite's look angles at t.
func (s *search) frame(t time.Time) (visibility.Frame, propagation.State, error) {
	st, err := s.model.At(t)
	if err != nil {
		return visibility.Frame{}, propagation.State{}, err
	}
	f, err := s.obs.Evaluate(st, t)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.NORADID == 0 {
			ae.NORADID = s.id
		}
		return visibility.Frame{}, propagation.State{}, err
	}
	return f, st, nil
}

func (s *search) elevation(t time.Time) (float64, error) {
	f, _, err := s.frame(t)
	return f.ElevationDeg, err
}

func (s *search) above(el float64) bool {
	return el > s.q.MinElevationDeg
}

func (s *search) run(ctx context.Context) ([]Transit, error) {
	if err := s.sample(ctx); err != nil {
		return nil, err
	}

	windows, err := s.crossings()
	if err != nil {
		return nil, err
	}
	grazing, err := s.grazing()
	if err != nil {
		return nil, err
	}
	windows = append(windows, grazing...)
	slices.SortFunc(windows, func(a, b window) int { return a.rise.Compare(b.rise) })

	transits := make([]Transit, 0, len(windows))
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tr, ok, err := s.describe(w)
		if err != nil {
			return nil, err
		}
		if ok {
			transits = append(transits, tr)
		}
	}
	return transits, nil
}

// sampleBatch is how many sequential samples run between context checks.
const sampleBatch = 256

// sample fills s.elev. Large grids go to the worker pool; both paths
// compute the same values in the same slots.
func (s *search) sample(ctx context.Context) error {
	s.elev = make([]float64, s.n)
	fn := func(i int) error {
		el, err := s.elevation(s.grid(i))
		s.elev[i] = el
		return err
	}

	if s.engine.pool != nil && s.n >= s.engine.cfg.ParallelThreshold {
		return s.engine.pool.Sample(ctx, s.n, fn)
	}
	for i := 0; i < s.n; i++ {
		if i%sampleBatch == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}
