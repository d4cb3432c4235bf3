package passes

import (
	"errors"
	"math"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/visibility"
)

// window is a refined rise/set pair. Grazing windows already know their peak.
type window struct {
	rise, set time.Time
	peak      time.Time
	peakEl    float64
	hasPeak   bool
}

// crossings walks the sampled grid and pairs rises with sets. A rise with no
// set before End is dropped.
func (s *search) crossings() ([]window, error) {
	var (
		out  []window
		open bool
		rise time.Time
	)

	if s.above(s.elev[0]) {
		switch s.engine.cfg.Leading {
		case LeadingBackExtend:
			t, ok, err := s.backExtend()
			if err != nil {
				return nil, err
			}
			if ok {
				open, rise = true, t
			} else {
				s.engine.logger.Debug("no rise within lookback, dropping leading pass",
					"norad_id", s.id, "lookback", s.engine.cfg.MaxLookback)
			}
		case LeadingDiscard:
			s.engine.logger.Debug("dropping pass in progress at horizon start", "norad_id", s.id)
		}
	}

	for i := 1; i < s.n; i++ {
		was, is := s.above(s.elev[i-1]), s.above(s.elev[i])
		switch {
		case !was && is:
			t, err := s.refine(s.grid(i-1), s.grid(i), true)
			if err != nil {
				return nil, err
			}
			open, rise = true, t
		case was && !is:
			t, err := s.refine(s.grid(i-1), s.grid(i), false)
			if err != nil {
				return nil, err
			}
			if open {
				out = append(out, window{rise: rise, set: t})
			}
			open = false
		}
	}

	if open {
		s.engine.logger.Debug("dropping pass still in progress at horizon end",
			"norad_id", s.id, "rise", rise)
	}
	return out, nil
}

// backExtend steps backwards from Start until the satellite is below the
// threshold, then refines that bracket to the true rise. Elements that cannot
// be propagated that far back end the lookback without an error.
func (s *search) backExtend() (time.Time, bool, error) {
	hi := s.q.Start
	for back := s.step; back <= s.engine.cfg.MaxLookback; back += s.step {
		lo := s.q.Start.Add(-back)
		el, err := s.elevation(lo)
		if errors.Is(err, apperr.ErrPropagation) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, err
		}
		if !s.above(el) {
			t, err := s.refine(lo, hi, true)
			if err != nil {
				return time.Time{}, false, err
			}
			return t, true, nil
		}
		hi = lo
	}
	return time.Time{}, false, nil
}

// refine bisects a bracket holding one threshold crossing. For a rise lo is
// below and hi above; for a set the other way round. The endpoint on the
// above side is returned, so a rise never moves past the samples that are
// above and a set never moves before them.
func (s *search) refine(lo, hi time.Time, rising bool) (time.Time, error) {
	for hi.Sub(lo) > s.engine.cfg.Tolerance {
		mid := lo.Add(hi.Sub(lo) / 2)
		el, err := s.elevation(mid)
		if err != nil {
			return time.Time{}, err
		}
		if s.above(el) == rising {
			hi = mid
		} else {
			lo = mid
		}
	}
	if rising {
		return hi, nil
	}
	return lo, nil
}

// grazing probes sample triples that stay below the threshold but peak within
// GrazeMarginDeg of it. The grid can step straight over a pass shorter than
// two steps; the true maximum between the outer samples decides. The first
// and last brackets have no outer neighbour, so a hump there is probed when
// elevation falls away from the edge sample.
func (s *search) grazing() ([]window, error) {
	var out []window
	margin := s.engine.cfg.GrazeMarginDeg
	near := func(el float64) bool {
		return !s.above(el) && s.q.MinElevationDeg-el <= margin
	}
	probe := func(a, b time.Time) error {
		w, ok, err := s.graze(a, b)
		if ok {
			out = append(out, w)
		}
		return err
	}

	if s.n >= 2 && near(s.elev[0]) && !s.above(s.elev[1]) && s.elev[0] > s.elev[1] {
		if err := probe(s.grid(0), s.grid(1)); err != nil {
			return nil, err
		}
	}
	for j := 1; j+1 < s.n; j++ {
		prev, cur, next := s.elev[j-1], s.elev[j], s.elev[j+1]
		if s.above(prev) || s.above(next) || !near(cur) {
			continue
		}
		if cur <= prev || cur < next {
			continue
		}
		if err := probe(s.grid(j-1), s.grid(j+1)); err != nil {
			return nil, err
		}
	}
	if last := s.n - 1; last >= 1 && near(s.elev[last]) && !s.above(s.elev[last-1]) && s.elev[last] > s.elev[last-1] {
		if err := probe(s.grid(last-1), s.grid(last)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// graze looks for a pass hidden inside [a, b] and, when the peak clears the
// threshold, refines both of its crossings.
func (s *search) graze(a, b time.Time) (window, bool, error) {
	peak, peakEl, err := s.peak(a, b)
	if err != nil || !s.above(peakEl) {
		return window{}, false, err
	}
	rise, err := s.refine(a, peak, true)
	if err != nil {
		return window{}, false, err
	}
	set, err := s.refine(peak, b, false)
	if err != nil {
		return window{}, false, err
	}
	s.engine.logger.Debug("recovered grazing pass",
		"norad_id", s.id, "peak", peak, "peak_elevation", peakEl)
	return window{rise: rise, set: set, peak: peak, peakEl: peakEl, hasPeak: true}, true, nil
}

const invPhi = 0.6180339887498949 // 1/φ

// peak maximizes elevation over [a, b] by golden-section search, assuming a
// single hump inside the bracket.
func (s *search) peak(a, b time.Time) (time.Time, float64, error) {
	span := func() time.Duration { return time.Duration(float64(b.Sub(a)) * invPhi) }

	c, d := b.Add(-span()), a.Add(span())
	fc, err := s.elevation(c)
	if err != nil {
		return time.Time{}, 0, err
	}
	fd, err := s.elevation(d)
	if err != nil {
		return time.Time{}, 0, err
	}

	for b.Sub(a) > s.engine.cfg.Tolerance {
		if fc > fd {
			b, d, fd = d, c, fc
			c = b.Add(-span())
			if fc, err = s.elevation(c); err != nil {
				return time.Time{}, 0, err
			}
		} else {
			a, c, fc = c, d, fd
			d = a.Add(span())
			if fd, err = s.elevation(d); err != nil {
				return time.Time{}, 0, err
			}
		}
	}

	if fc > fd {
		return c, fc, nil
	}
	return d, fd, nil
}

// describe turns a window into a Transit with peak and azimuth metadata.
// Windows that collapse to zero length at millisecond precision are dropped.
func (s *search) describe(w window) (Transit, bool, error) {
	start := w.rise.Round(time.Millisecond)
	end := w.set.Round(time.Millisecond)
	if !end.After(start) {
		return Transit{}, false, nil
	}

	if !w.hasPeak {
		lo, hi := s.peakBracket(w)
		t, el, err := s.peak(lo, hi)
		if err != nil {
			return Transit{}, false, err
		}
		w.peak, w.peakEl = t, el
	}

	startFrame, _, err := s.frame(start)
	if err != nil {
		return Transit{}, false, err
	}
	endFrame, _, err := s.frame(end)
	if err != nil {
		return Transit{}, false, err
	}

	tr := Transit{
		SatelliteID:      s.id,
		Start:            start,
		End:              end,
		DurationSeconds:  end.Sub(start).Seconds(),
		Location:         s.q.Location,
		MaxElevationDeg:  w.peakEl,
		MaxElevationTime: w.peak.Round(time.Millisecond),
		StartAzimuthDeg:  startFrame.AzimuthDeg,
		EndAzimuthDeg:    endFrame.AzimuthDeg,
	}

	if s.q.TrackStep > 0 {
		if tr.GroundTrack, err = s.track(start, end); err != nil {
			return Transit{}, false, err
		}
	}
	return tr, true, nil
}

// peakBracket narrows the peak search to the neighbours of the highest grid
// sample inside the window.
func (s *search) peakBracket(w window) (time.Time, time.Time) {
	first := 0
	if w.rise.After(s.q.Start) {
		first = int(math.Ceil(float64(w.rise.Sub(s.q.Start)) / float64(s.step)))
	}

	best := -1
	for i := first; i < s.n && !s.grid(i).After(w.set); i++ {
		if s.grid(i).Before(w.rise) {
			continue
		}
		if best < 0 || s.elev[i] > s.elev[best] {
			best = i
		}
	}
	if best < 0 {
		return w.rise, w.set
	}

	lo, hi := w.rise, w.set
	if best > 0 && s.grid(best-1).After(lo) {
		lo = s.grid(best - 1)
	}
	if best+1 < s.n && s.grid(best+1).Before(hi) {
		hi = s.grid(best + 1)
	}
	return lo, hi
}

// track samples the sub-satellite point across [start, end].
func (s *search) track(start, end time.Time) ([]TrackPoint, error) {
	var pts []TrackPoint
	for t := start; ; t = t.Add(s.q.TrackStep) {
		if t.After(end) {
			t = end
		}
		f, st, err := s.frame(t)
		if err != nil {
			return nil, err
		}
		geo, err := visibility.SubSatellitePoint(st, t)
		if err != nil {
			return nil, err
		}
		pts = append(pts, TrackPoint{
			Time:         t,
			LatitudeDeg:  geo.LatDeg,
			LongitudeDeg: geo.LonDeg,
			AltitudeKm:   geo.AltKm,
			ElevationDeg: f.ElevationDeg,
		})
		if !t.Before(end) {
			return pts, nil
		}
	}
}
