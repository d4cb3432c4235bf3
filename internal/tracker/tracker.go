// Package tracker is satpass's operation surface: satellite lookups, element
// sets, transit predictions and live look angles. Transport layers (HTTP,
// SSE, CLI) call into a Service and never touch providers or the search
// engine directly.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/cache"
	"github.com/star/satpass/internal/catalog"
	"github.com/star/satpass/internal/metrics"
	"github.com/star/satpass/internal/passes"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/visibility"
)

// Config holds request defaults and result caching settings.
type Config struct {
	DefaultMinElevationDeg float64
	DefaultHorizon         time.Duration
	// Element sets older than this produce a StaleDataWarning.
	FreshnessThreshold time.Duration
	TransitTTL         time.Duration
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMinElevationDeg: 10,
		DefaultHorizon:         24 * time.Hour,
		FreshnessThreshold:     72 * time.Hour,
		TransitTTL:             time.Minute,
	}
}

// ElementSource resolves satellites and serves their element sets.
// *catalog.Catalog implements it.
type ElementSource interface {
	Elements(ctx context.Context, noradID int) (tle.ElementSet, error)
	Refresh(ctx context.Context, noradID int) (tle.ElementSet, error)
	Name(ctx context.Context, noradID int) (string, error)
	IDs(ctx context.Context, name string) ([]int, error)
	OnCutover(fn catalog.CutoverFunc)
	Store() *tle.Store
}

// Service implements the tracker operations.
type Service struct {
	elements ElementSource
	engine   *passes.Engine
	models   *propagation.ModelCache
	transits *cache.Cache[[]passes.Transit]
	clock    cache.Clock
	cfg      Config
	logger   *slog.Logger
}

// New creates a Service. models must be the propagator the engine was built
// with, so element cutovers drop the models built from superseded elements.
func New(elements ElementSource, engine *passes.Engine, models *propagation.ModelCache, clock cache.Clock, cfg Config, logger *slog.Logger) *Service {
	d := DefaultConfig()
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = d.DefaultHorizon
	}
	if cfg.TransitTTL <= 0 {
		cfg.TransitTTL = d.TransitTTL
	}
	if clock == nil {
		clock = cache.SystemClock{}
	}
	logger = logger.With("component", "tracker")

	s := &Service{
		elements: elements,
		engine:   engine,
		models:   models,
		transits: cache.New[[]passes.Transit]("transits", clock, logger),
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	elements.OnCutover(func(es tle.ElementSet) {
		s.forget(es.NORADID)
	})
	return s
}

// forget drops everything derived from noradID's element set.
func (s *Service) forget(noradID int) {
	s.models.Forget(noradID)
	n := s.transits.InvalidatePrefix(transitPrefix(noradID))
	s.logger.Debug("dropped results for superseded elements", "norad_id", noradID, "transits_removed", n)
}

func transitPrefix(noradID int) string {
	return cache.Key("transits", noradID) + ":"
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// GetName returns the catalog name of noradID.
func (s *Service) GetName(ctx context.Context, noradID int) (string, error) {
	return s.elements.Name(ctx, noradID)
}

// GetIDs returns the NORAD ids whose names contain name.
func (s *Service) GetIDs(ctx context.Context, name string) ([]int, error) {
	return s.elements.IDs(ctx, name)
}

// GetElements returns the current element set for noradID.
func (s *Service) GetElements(ctx context.Context, noradID int) (tle.ElementSet, error) {
	return s.elements.Elements(ctx, noradID)
}

// Refresh fetches noradID's element set again, bypassing the cache, and
// drops cached transits for it.
func (s *Service) Refresh(ctx context.Context, noradID int) (tle.ElementSet, error) {
	es, err := s.elements.Refresh(ctx, noradID)
	if err != nil {
		return tle.ElementSet{}, err
	}
	s.transits.InvalidatePrefix(transitPrefix(noradID))
	return es, nil
}

// TransitRequest describes a transit prediction.
type TransitRequest struct {
	NORADID  int
	Location visibility.GroundLocation
	// MinElevationDeg nil selects Config.DefaultMinElevationDeg.
	MinElevationDeg *float64
	Horizon         time.Duration // Zero selects Config.DefaultHorizon.
	Step            time.Duration // Zero selects the engine default.
	TrackStep       time.Duration // Ground track spacing; zero omits it.
	// Start zero means now, truncated to the minute.
	Start time.Time
}

// SatelliteInfo identifies the satellite a report is about.
type SatelliteInfo struct {
	NORADID int    `json:"norad_id"`
	Name    string `json:"name,omitempty"`
}

// ElementInfo summarizes the element set a report was computed from.
type ElementInfo struct {
	Epoch     time.Time `json:"epoch"`
	Source    string    `json:"source,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// QueryInfo echoes the effective query parameters.
type QueryInfo struct {
	Location        visibility.GroundLocation `json:"location"`
	MinElevationDeg float64                   `json:"min_elevation_deg"`
	Start           time.Time                 `json:"start"`
	End             time.Time                 `json:"end"`
	StepSeconds     float64                   `json:"step_seconds"`
}

// TransitReport is the result of GetTransits. Transits is never nil; an
// empty slice means the satellite exists but has no qualifying pass.
type TransitReport struct {
	Satellite SatelliteInfo             `json:"satellite"`
	Elements  ElementInfo               `json:"elements"`
	Query     QueryInfo                 `json:"query"`
	Transits  []passes.Transit          `json:"transits"`
	Warnings  []apperr.StaleDataWarning `json:"warnings"`
}

// GetTransits predicts the visible passes of a satellite over a location.
func (s *Service) GetTransits(ctx context.Context, req TransitRequest) (TransitReport, error) {
	const op = "tracker.transits"

	minEl := s.cfg.DefaultMinElevationDeg
	if req.MinElevationDeg != nil {
		minEl = *req.MinElevationDeg
	}
	horizon := req.Horizon
	if horizon == 0 {
		horizon = s.cfg.DefaultHorizon
	}
	// Reject what the engine would reject before going to the provider.
	if horizon < 0 || horizon > s.engine.Config().MaxHorizon {
		return TransitReport{}, apperr.InvalidArgument(op, "horizon %s outside [0, %s]", horizon, s.engine.Config().MaxHorizon)
	}
	if math.IsNaN(minEl) || minEl < -90 || minEl > 90 {
		return TransitReport{}, apperr.InvalidArgument(op, "min elevation %v outside [-90, 90]", minEl)
	}
	if err := req.Location.Validate(); err != nil {
		return TransitReport{}, err
	}

	now := s.clock.Now().UTC()
	start := req.Start.UTC()
	if req.Start.IsZero() {
		start = now.Truncate(time.Minute)
	}
	q := passes.Query{
		Location:        req.Location,
		MinElevationDeg: minEl,
		Start:           start,
		End:             start.Add(horizon),
		Step:            req.Step,
		TrackStep:       req.TrackStep,
	}

	es, err := s.elements.Elements(ctx, req.NORADID)
	if err != nil {
		return TransitReport{}, err
	}

	key := transitKey(req.NORADID, es.Epoch, q)
	transits, err := s.transits.GetOrCompute(ctx, key, s.cfg.TransitTTL, func(ctx context.Context) ([]passes.Transit, error) {
		return s.engine.FindTransits(ctx, es, q)
	})
	if err != nil {
		return TransitReport{}, err
	}

	step := q.Step
	if step == 0 {
		step = s.engine.Config().Step
	}
	report := TransitReport{
		Satellite: SatelliteInfo{NORADID: es.NORADID, Name: es.Name},
		Elements:  ElementInfo{Epoch: es.Epoch, Source: es.Source, FetchedAt: es.FetchedAt},
		Query: QueryInfo{
			Location:        q.Location,
			MinElevationDeg: q.MinElevationDeg,
			Start:           q.Start,
			End:             q.End,
			StepSeconds:     step.Seconds(),
		},
		Transits: transits,
		Warnings: []apperr.StaleDataWarning{},
	}

	if w, stale := apperr.CheckFreshness(es.NORADID, es.Epoch, now, s.cfg.FreshnessThreshold); stale {
		metrics.IncStaleElements()
		s.logger.Warn("serving transits from stale elements",
			"norad_id", es.NORADID,
			"epoch", es.Epoch,
			"age_hours", math.Round(w.Age.Hours()),
		)
		report.Warnings = append(report.Warnings, w)
	}

	return report, nil
}

// transitKey identifies a search result. The epoch is part of the key so a
// result computed from superseded elements can never be served.
func transitKey(noradID int, epoch time.Time, q passes.Query) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return cache.Key("transits", noradID,
		epoch.UnixMilli(),
		f(q.Location.LatitudeDeg), f(q.Location.LongitudeDeg), f(q.Location.AltitudeM),
		f(q.MinElevationDeg),
		q.Start.UnixMilli(), q.End.UnixMilli(),
		int64(q.Step), int64(q.TrackStep),
	)
}

// Look is a satellite's position relative to an observer at one instant.
type Look struct {
	NORADID int `json:"norad_id"`

	visibility.Frame

	Visible     bool    `json:"visible"` // above the horizon
	SubLatDeg   float64 `json:"sub_latitude"`
	SubLonDeg   float64 `json:"sub_longitude"`
	AltitudeKm  float64 `json:"altitude_km"`
	ElementAgeH float64 `json:"element_age_hours"`
}

// LookAngles returns where noradID appears from loc at the given instant.
// A zero at means now.
func (s *Service) LookAngles(ctx context.Context, noradID int, loc visibility.GroundLocation, at time.Time) (Look, error) {
	obs, err := visibility.NewObserver(loc)
	if err != nil {
		return Look{}, err
	}
	es, err := s.elements.Elements(ctx, noradID)
	if err != nil {
		return Look{}, err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	return s.look(obs, es, at.UTC())
}

func (s *Service) look(obs *visibility.Observer, es tle.ElementSet, at time.Time) (Look, error) {
	state, err := s.models.Propagate(es, at)
	if err != nil {
		return Look{}, err
	}

	frame, err := obs.Evaluate(state, at)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.NORADID == 0 {
			ae.NORADID = es.NORADID
		}
		return Look{}, err
	}
	sub, err := visibility.SubSatellitePoint(state, at)
	if err != nil {
		return Look{}, err
	}

	return Look{
		NORADID:     es.NORADID,
		Frame:       frame,
		Visible:     frame.ElevationDeg > 0,
		SubLatDeg:   sub.LatDeg,
		SubLonDeg:   sub.LonDeg,
		AltitudeKm:  sub.AltKm,
		ElementAgeH: es.Age(at).Hours(),
	}, nil
}

// Start runs the transit cache janitor and the element age gauge until ctx
// is cancelled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.transits.Start(ctx, interval)
	}()
	go func() {
		defer wg.Done()
		s.runAgeGauge(ctx, 10*time.Second)
	}()
	wg.Wait()
}

// runAgeGauge publishes the age of the oldest element set served.
func (s *Service) runAgeGauge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.updateAgeGauge()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) updateAgeGauge() {
	if age := s.elements.Store().MaxEpochAgeSeconds(s.clock.Now()); age >= 0 {
		metrics.SetElementAge(age)
	}
}

// TransitCacheStats returns statistics for the transit cache.
func (s *Service) TransitCacheStats() cache.Stats {
	return s.transits.Stats()
}
