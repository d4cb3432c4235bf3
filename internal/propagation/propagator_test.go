package propagation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/tle"
)

// ISS TLE (epoch 2024-04-09 12:00 UTC).
const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

// Starlink TLE (typical LEO constellation satellite).
const (
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

var issEpoch = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func mustElements(t *testing.T, line1, line2 string) tle.ElementSet {
	t.Helper()
	es, err := tle.ParseLines("", line1, line2)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	return es
}

// TestPropagateISS verifies that the ISS propagates to a plausible LEO state.
func TestPropagateISS(t *testing.T) {
	es := mustElements(t, issLine1, issLine2)
	p := NewSGP4(Config{})

	at := issEpoch.Add(24 * time.Hour)
	st, err := p.Propagate(es, at)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if !st.Time.Equal(at) {
		t.Errorf("Time = %v, want %v", st.Time, at)
	}

	// Expected: ~6371 + 420 km.
	if r := st.Position.Norm(); r < 6500 || r > 7000 {
		t.Errorf("radius = %.1f km, expected ~6791 km (ISS orbit)", r)
	}
	// Circular LEO speed is ~7.66 km/s.
	if v := st.Velocity.Norm(); v < 7.4 || v > 7.9 {
		t.Errorf("speed = %.3f km/s, expected ~7.66 km/s", v)
	}
}

// TestPropagateMatchesLibraryAtWholeSeconds checks that whole-second instants
// return the library's solution untouched.
func TestPropagateMatchesLibraryAtWholeSeconds(t *testing.T) {
	es := mustElements(t, issLine1, issLine2)
	m, err := NewSGP4(Config{}).Prepare(es)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	at := time.Date(2024, 4, 10, 3, 17, 42, 0, time.UTC)
	st, err := m.At(at)
	if err != nil {
		t.Fatalf("At: %v", err)
	}

	sat := satellite.TLEToSat(issLine1, issLine2, satellite.GravityWGS84)
	pos, vel := satellite.Propagate(sat, 2024, 4, 10, 3, 17, 42)
	if st.Position.X != pos.X || st.Position.Y != pos.Y || st.Position.Z != pos.Z {
		t.Errorf("position = %+v, library %+v", st.Position, pos)
	}
	if st.Velocity.X != vel.X || st.Velocity.Y != vel.Y || st.Velocity.Z != vel.Z {
		t.Errorf("velocity = %+v, library %+v", st.Velocity, vel)
	}
}

// TestPropagateSubSecond verifies the interpolated state between whole seconds
// is continuous and consistent with the velocity.
func TestPropagateSubSecond(t *testing.T) {
	es := mustElements(t, issLine1, issLine2)
	m, err := NewSGP4(Config{}).Prepare(es)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	t0 := time.Date(2024, 4, 10, 6, 0, 0, 0, time.UTC)
	s0, err := m.At(t0)
	if err != nil {
		t.Fatalf("At(t0): %v", err)
	}

	for _, ms := range []int{1, 250, 500, 750, 999} {
		dt := time.Duration(ms) * time.Millisecond
		st, err := m.At(t0.Add(dt))
		if err != nil {
			t.Fatalf("At(+%dms): %v", ms, err)
		}

		// Gravity bends a LEO track by ~4 m over half a second; linear
		// extrapolation from t0 must land within that.
		sec := dt.Seconds()
		want := s0.Position
		want.X += s0.Velocity.X * sec
		want.Y += s0.Velocity.Y * sec
		want.Z += s0.Velocity.Z * sec
		if d := st.Position.Sub(want).Norm(); d > 0.01 {
			t.Errorf("+%dms: %.4f km from linear extrapolation", ms, d)
		}
		if d := st.Velocity.Sub(s0.Velocity).Norm(); d > 0.02 {
			t.Errorf("+%dms: velocity jumped %.5f km/s", ms, d)
		}
	}

	// Approaching the next whole second from below converges on it.
	s1, err := m.At(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("At(t0+1s): %v", err)
	}
	near, err := m.At(t0.Add(time.Second - time.Microsecond))
	if err != nil {
		t.Fatalf("At(t0+1s-1us): %v", err)
	}
	if d := near.Position.Sub(s1.Position).Norm(); d > 1e-4 {
		t.Errorf("discontinuity at whole second: %.6f km", d)
	}
}

// TestPropagateDeterministic verifies identical inputs produce identical states.
func TestPropagateDeterministic(t *testing.T) {
	es := mustElements(t, starlinkLine1, starlinkLine2)
	p := NewSGP4(Config{})
	at := issEpoch.Add(90*time.Minute + 123456789*time.Nanosecond)

	a, err := p.Propagate(es, at)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	b, err := p.Propagate(es, at)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if a != b {
		t.Errorf("non-deterministic: %+v vs %+v", a, b)
	}
}

// TestPropagateMaxAge verifies propagation refuses instants too far from epoch,
// in both directions, and reports the satellite and instant.
func TestPropagateMaxAge(t *testing.T) {
	es := mustElements(t, issLine1, issLine2)
	p := NewSGP4(Config{MaxAge: 10 * 24 * time.Hour})

	for _, at := range []time.Time{
		issEpoch.Add(11 * 24 * time.Hour),
		issEpoch.Add(-11 * 24 * time.Hour),
	} {
		_, err := p.Propagate(es, at)
		if !errors.Is(err, apperr.ErrPropagation) {
			t.Fatalf("Propagate(%v) error = %v, want propagation error", at, err)
		}
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			t.Fatalf("error %T is not *apperr.Error", err)
		}
		if ae.NORADID != 25544 || !ae.At.Equal(at) {
			t.Errorf("error context = (%d, %v), want (25544, %v)", ae.NORADID, ae.At, at)
		}
	}

	if _, err := p.Propagate(es, issEpoch.Add(9*24*time.Hour)); err != nil {
		t.Errorf("within max age: %v", err)
	}
}

// TestPrepareRejectsDegenerate verifies degenerate elements fail before the
// library sees them.
func TestPrepareRejectsDegenerate(t *testing.T) {
	base := mustElements(t, issLine1, issLine2)

	tests := []struct {
		name   string
		mutate func(*tle.ElementSet)
	}{
		{"eccentricity one", func(es *tle.ElementSet) { es.Eccentricity = 1 }},
		{"negative eccentricity", func(es *tle.ElementSet) { es.Eccentricity = -0.1 }},
		{"zero mean motion", func(es *tle.ElementSet) { es.MeanMotion = 0 }},
		{"negative mean motion", func(es *tle.ElementSet) { es.MeanMotion = -15 }},
		{"inclination", func(es *tle.ElementSet) { es.InclinationDeg = 181 }},
		{"short line", func(es *tle.ElementSet) { es.Line1 = es.Line1[:60] }},
		{"swapped lines", func(es *tle.ElementSet) { es.Line1, es.Line2 = es.Line2, es.Line1 }},
		{"garbage mean motion", func(es *tle.ElementSet) {
			es.Line2 = strings.Replace(es.Line2, "15.50000000", "15.5x000000", 1)
		}},
		{"garbage bstar", func(es *tle.ElementSet) {
			es.Line1 = strings.Replace(es.Line1, "10270-3", "1O270-3", 1)
		}},
	}

	p := NewSGP4(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := base
			tt.mutate(&es)
			_, err := p.Prepare(es)
			if !errors.Is(err, apperr.ErrPropagation) {
				t.Fatalf("Prepare error = %v, want propagation error", err)
			}
		})
	}
}

// TestModelCache verifies models are reused per epoch and replaced when a
// newer epoch arrives.
func TestModelCache(t *testing.T) {
	c := NewModelCache(NewSGP4(Config{}), testLogger())
	es := mustElements(t, issLine1, issLine2)

	m1, err := c.Prepare(es)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	m2, err := c.Prepare(es)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if m1 != m2 {
		t.Error("same element set should reuse the cached model")
	}

	newer := mustElements(t,
		strings.Replace(issLine1, "24100.50000000", "24101.50000000", 1), issLine2)
	m3, err := c.Prepare(newer)
	if err != nil {
		t.Fatalf("Prepare(newer): %v", err)
	}
	if m3 == m1 {
		t.Error("newer epoch should prepare a new model")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 (one model per satellite)", c.Len())
	}

	bad := es
	bad.NORADID = 1
	bad.Eccentricity = 2
	if _, err := c.Prepare(bad); err == nil {
		t.Error("expected error for degenerate elements")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d after failed prepare, want 1", c.Len())
	}

	c.Forget(25544)
	if c.Len() != 0 {
		t.Errorf("Len = %d after Forget, want 0", c.Len())
	}
}

// TestModelCacheConcurrent exercises lock-free reads against rebuilds.
func TestModelCacheConcurrent(t *testing.T) {
	c := NewModelCache(NewSGP4(Config{}), testLogger())
	sets := []tle.ElementSet{
		mustElements(t, issLine1, issLine2),
		mustElements(t, starlinkLine1, starlinkLine2),
	}
	at := issEpoch.Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Propagate(sets[i%2], at); err != nil {
				t.Errorf("Propagate: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

// TestWorkerPoolSample verifies every index runs and results land in order.
func TestWorkerPoolSample(t *testing.T) {
	pool := NewWorkerPool(4, testLogger())
	es := mustElements(t, issLine1, issLine2)
	m, err := NewSGP4(Config{}).Prepare(es)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	const n = 200
	got := make([]State, n)
	err = pool.Sample(context.Background(), n, func(i int) error {
		st, err := m.At(issEpoch.Add(time.Duration(i) * 7 * time.Second))
		got[i] = st
		return err
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	for i := 0; i < n; i++ {
		want, err := m.At(issEpoch.Add(time.Duration(i) * 7 * time.Second))
		if err != nil {
			t.Fatalf("At: %v", err)
		}
		if got[i] != want {
			t.Fatalf("index %d: parallel result differs from sequential", i)
		}
	}
}

// TestWorkerPoolLowestIndexError verifies the reported error does not depend
// on scheduling.
func TestWorkerPoolLowestIndexError(t *testing.T) {
	pool := NewWorkerPool(8, testLogger())

	for run := 0; run < 20; run++ {
		err := pool.Sample(context.Background(), 1000, func(i int) error {
			if i%100 == 37 {
				return errors.New(strings.Repeat("x", i))
			}
			return nil
		})
		if err == nil {
			t.Fatalf("run %d: expected error", run)
		}
		if len(err.Error()) != 37 {
			t.Fatalf("run %d: got error of index %d, want 37", run, len(err.Error()))
		}
	}
}

func TestWorkerPoolCancelled(t *testing.T) {
	pool := NewWorkerPool(2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var mu sync.Mutex
	ran := 0
	err := pool.Sample(ctx, 10000, func(int) error {
		mu.Lock()
		ran++
		mu.Unlock()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ran == 10000 {
		t.Error("cancelled sample should stop feeding work")
	}
}
