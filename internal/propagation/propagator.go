package propagation

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/satpass/internal/metrics"
	"github.com/star/satpass/internal/tle"
)

// cachedModel is a prepared model and the epoch it was prepared from.
type cachedModel struct {
	epoch time.Time
	model Model
}

// ModelCache holds prepared models, one per satellite, for the newest epoch
// seen. Lookups are lock-free; a miss prepares under a mutex and publishes a
// fresh copy of the map (double-checked locking), so a newer epoch replaces
// the old model instead of accumulating beside it.
type ModelCache struct {
	next   Propagator
	logger *slog.Logger
	models atomic.Pointer[map[int]cachedModel]
	mu     sync.Mutex // serializes rebuilds
}

// NewModelCache wraps next with a per-satellite model cache.
func NewModelCache(next Propagator, logger *slog.Logger) *ModelCache {
	c := &ModelCache{next: next, logger: logger}
	empty := make(map[int]cachedModel)
	c.models.Store(&empty)
	return c
}

func (c *ModelCache) lookup(es tle.ElementSet) (Model, bool) {
	cm, ok := (*c.models.Load())[es.NORADID]
	if ok && cm.epoch.Equal(es.Epoch) && cm.model.Elements().Line1 == es.Line1 {
		return cm.model, true
	}
	return nil, false
}

// Prepare returns the cached model for es, preparing it on first use.
// Preparation failures are not cached.
func (c *ModelCache) Prepare(es tle.ElementSet) (Model, error) {
	if m, ok := c.lookup(es); ok {
		metrics.IncModelCache("hit")
		return m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.lookup(es); ok {
		metrics.IncModelCache("hit")
		return m, nil
	}

	m, err := c.next.Prepare(es)
	if err != nil {
		metrics.IncModelCache("error")
		return nil, err
	}
	metrics.IncModelCache("miss")

	old := *c.models.Load()
	models := make(map[int]cachedModel, len(old)+1)
	for id, cm := range old {
		models[id] = cm
	}
	if prev, ok := old[es.NORADID]; ok {
		c.logger.Debug("sgp4 model replaced",
			"norad_id", es.NORADID,
			"old_epoch", prev.epoch.UTC().Format(time.RFC3339),
			"new_epoch", es.Epoch.UTC().Format(time.RFC3339),
		)
	}
	models[es.NORADID] = cachedModel{epoch: es.Epoch, model: m}
	c.models.Store(&models)
	return m, nil
}

// Propagate evaluates es at at through the cache.
func (c *ModelCache) Propagate(es tle.ElementSet, at time.Time) (State, error) {
	m, err := c.Prepare(es)
	if err != nil {
		return State{}, err
	}
	return m.At(at)
}

// Forget drops the model for noradID.
func (c *ModelCache) Forget(noradID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.models.Load()
	if _, ok := old[noradID]; !ok {
		return
	}
	models := make(map[int]cachedModel, len(old))
	for id, cm := range old {
		if id != noradID {
			models[id] = cm
		}
	}
	c.models.Store(&models)
}

// Len returns the number of cached models.
func (c *ModelCache) Len() int {
	return len(*c.models.Load())
}
