// Package catalog is the cached front over the element and directory
// providers: the orbital element store and the name/id resolver.
//
// Element sets are cached for a bounded time so repeated queries stay cheap,
// archived after every successful fetch, and served from the archive for a
// short while when the provider is down. Every time a satellite's epoch
// changes, registered cutover hooks run so dependent caches can drop results
// computed from the superseded elements.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/cache"
	"github.com/star/satpass/internal/metrics"
	"github.com/star/satpass/internal/provider"
	"github.com/star/satpass/internal/tle"
)

// Config holds catalog cache lifetimes and the provider retry policy.
type Config struct {
	ElementsTTL time.Duration // CelesTrak refreshes GP data about every 2 h.
	NamesTTL    time.Duration // Names and id lookups.
	FallbackTTL time.Duration // Archived sets served during an outage.
	Retry       provider.RetryPolicy
}

// DefaultConfig returns the catalog defaults.
func DefaultConfig() Config {
	return Config{
		ElementsTTL: 2 * time.Hour,
		NamesTTL:    24 * time.Hour,
		FallbackTTL: 5 * time.Minute,
		Retry:       provider.DefaultRetry(),
	}
}

// CutoverFunc is called with the new element set when a satellite's epoch
// changes.
type CutoverFunc func(es tle.ElementSet)

// Catalog resolves satellites and serves their element sets.
type Catalog struct {
	elements  provider.Elements
	directory provider.Directory
	archive   tle.Archive
	store     *tle.Store
	clock     cache.Clock
	cfg       Config
	logger    *slog.Logger

	elementCache *cache.Cache[tle.ElementSet]
	nameCache    *cache.Cache[string]
	idsCache     *cache.Cache[[]int]

	mu        sync.Mutex
	onCutover []CutoverFunc
}

// New creates a Catalog. archive may be nil to disable the outage fallback.
func New(elements provider.Elements, directory provider.Directory, archive tle.Archive, clock cache.Clock, cfg Config, logger *slog.Logger) *Catalog {
	d := DefaultConfig()
	if cfg.ElementsTTL <= 0 {
		cfg.ElementsTTL = d.ElementsTTL
	}
	if cfg.NamesTTL <= 0 {
		cfg.NamesTTL = d.NamesTTL
	}
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = d.FallbackTTL
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = d.Retry
	}
	if clock == nil {
		clock = cache.SystemClock{}
	}
	logger = logger.With("component", "catalog")

	return &Catalog{
		elements:     elements,
		directory:    directory,
		archive:      archive,
		store:        tle.NewStore(),
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
		elementCache: cache.New[tle.ElementSet]("elements", clock, logger),
		nameCache:    cache.New[string]("names", clock, logger),
		idsCache:     cache.New[[]int]("ids", clock, logger),
	}
}

// OnCutover registers fn to run after a satellite's element epoch changes.
func (c *Catalog) OnCutover(fn CutoverFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCutover = append(c.onCutover, fn)
}

// Store returns the set of element sets most recently served.
func (c *Catalog) Store() *tle.Store {
	return c.store
}

// Start runs the cache janitors until ctx is cancelled.
func (c *Catalog) Start(ctx context.Context, interval time.Duration) {
	var wg sync.WaitGroup
	for _, start := range []func(context.Context, time.Duration){
		c.elementCache.Start,
		c.nameCache.Start,
		c.idsCache.Start,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start(ctx, interval)
		}()
	}
	wg.Wait()
}

// CacheStats returns statistics for the catalog's caches.
func (c *Catalog) CacheStats() []cache.Stats {
	return []cache.Stats{c.elementCache.Stats(), c.nameCache.Stats(), c.idsCache.Stats()}
}

func validID(op string, noradID int) error {
	if noradID <= 0 {
		return apperr.InvalidArgument(op, "NORAD id must be positive, got %d", noradID)
	}
	return nil
}

// Elements returns the element set for noradID, from cache when fresh.
//
// When the provider is unavailable and the archive holds a copy, the archived
// set is returned and cached for FallbackTTL only, so the provider is tried
// again soon.
func (c *Catalog) Elements(ctx context.Context, noradID int) (tle.ElementSet, error) {
	const op = "catalog.elements"
	if err := validID(op, noradID); err != nil {
		return tle.ElementSet{}, err
	}

	key := cache.Key("elements", noradID)
	es, err := c.elementCache.GetOrCompute(ctx, key, c.cfg.ElementsTTL, func(ctx context.Context) (tle.ElementSet, error) {
		return c.fetchElements(ctx, noradID)
	})
	if err == nil {
		return es, nil
	}
	if !errors.Is(err, apperr.ErrProviderUnavailable) || c.archive == nil {
		return tle.ElementSet{}, err
	}

	archived, aerr := c.archive.Latest(ctx, noradID)
	if aerr != nil {
		c.logger.Warn("provider unavailable and no archived elements",
			"norad_id", noradID, "error", err, "archive_error", aerr)
		return tle.ElementSet{}, err
	}

	metrics.IncArchiveFallback()
	c.logger.Warn("provider unavailable, serving archived elements",
		"norad_id", noradID,
		"epoch", archived.Epoch,
		"error", err,
	)
	c.elementCache.Set(key, archived, c.cfg.FallbackTTL)
	c.record(archived)
	return archived, nil
}

// Refresh discards the cached element set for noradID and fetches it again.
func (c *Catalog) Refresh(ctx context.Context, noradID int) (tle.ElementSet, error) {
	if err := validID("catalog.refresh", noradID); err != nil {
		return tle.ElementSet{}, err
	}
	c.elementCache.Invalidate(cache.Key("elements", noradID))
	return c.Elements(ctx, noradID)
}

func (c *Catalog) fetchElements(ctx context.Context, noradID int) (tle.ElementSet, error) {
	const op = "catalog.fetch_elements"

	text, err := provider.Retry(ctx, c.cfg.Retry, c.logger, op, func(ctx context.Context) (string, error) {
		return c.elements.FetchTLE(ctx, noradID)
	})
	if err != nil {
		return tle.ElementSet{}, err
	}

	sets, err := tle.Parse(strings.NewReader(text), c.logger)
	if err != nil {
		return tle.ElementSet{}, apperr.Unavailable(op, err, "reading element set")
	}
	if len(sets) == 0 {
		return tle.ElementSet{}, apperr.Unavailable(op, nil, "provider returned no parseable element set for %d", noradID)
	}
	i := slices.IndexFunc(sets, func(es tle.ElementSet) bool { return es.NORADID == noradID })
	if i < 0 {
		return tle.ElementSet{}, apperr.NotFound(op, "provider returned elements for %d, not %d", sets[0].NORADID, noradID)
	}

	es := sets[i]
	es.Source = "celestrak"
	es.FetchedAt = c.clock.Now().UTC()

	if c.archive != nil {
		if err := c.archive.Save(ctx, es); err != nil {
			c.logger.Warn("failed to archive element set", "norad_id", noradID, "error", err)
		}
	}
	c.record(es)

	c.logger.Debug("element set fetched",
		"norad_id", noradID,
		"name", es.Name,
		"epoch", es.Epoch,
	)
	return es, nil
}

// record tracks es as current and runs the cutover hooks when it replaces a
// set with a different epoch.
func (c *Catalog) record(es tle.ElementSet) {
	if !c.store.Set(es) {
		return
	}

	metrics.IncElementCutover()
	c.logger.Info("element cutover", "norad_id", es.NORADID, "epoch", es.Epoch, "source", es.Source)

	c.mu.Lock()
	hooks := slices.Clone(c.onCutover)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(es)
	}
}

// Name returns the catalog name for noradID.
func (c *Catalog) Name(ctx context.Context, noradID int) (string, error) {
	const op = "catalog.name"
	if err := validID(op, noradID); err != nil {
		return "", err
	}

	return c.nameCache.GetOrCompute(ctx, cache.Key("name", noradID), c.cfg.NamesTTL, func(ctx context.Context) (string, error) {
		return provider.Retry(ctx, c.cfg.Retry, c.logger, op, func(ctx context.Context) (string, error) {
			return c.directory.LookupName(ctx, noradID)
		})
	})
}

// IDs returns the NORAD ids of satellites whose name contains name,
// case-insensitively.
func (c *Catalog) IDs(ctx context.Context, name string) ([]int, error) {
	const op = "catalog.ids"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArgument(op, "name must not be empty")
	}

	ids, err := c.idsCache.GetOrCompute(ctx, cache.Key("ids", strings.ToLower(name)), c.cfg.NamesTTL, func(ctx context.Context) ([]int, error) {
		return provider.Retry(ctx, c.cfg.Retry, c.logger, op, func(ctx context.Context) ([]int, error) {
			return c.directory.LookupIDs(ctx, name)
		})
	})
	if err != nil {
		return nil, err
	}
	// Cached slices are shared.
	return slices.Clone(ids), nil
}

// Resolve turns a NORAD id or a name fragment into catalog ids. An all-digit
// argument is treated as an id and verified to exist.
func (c *Catalog) Resolve(ctx context.Context, nameOrID string) ([]int, error) {
	s := strings.TrimSpace(nameOrID)
	if s == "" {
		return nil, apperr.InvalidArgument("catalog.resolve", "name or NORAD id must not be empty")
	}
	if isDigits(s) {
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, apperr.InvalidArgument("catalog.resolve", "invalid NORAD id %q", s)
		}
		if _, err := c.Name(ctx, id); err != nil {
			return nil, err
		}
		return []int{id}, nil
	}
	return c.IDs(ctx, s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
