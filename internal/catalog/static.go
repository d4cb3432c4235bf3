package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/tle"
)

// Static serves a fixed list of element sets, such as a local TLE file,
// without any provider. It satisfies the same surface as Catalog, so the
// tracker runs unchanged offline.
type Static struct {
	store *tle.Store
}

// NewStatic builds a Static from sets. When an id appears more than once,
// the newest epoch wins.
func NewStatic(sets []tle.ElementSet) *Static {
	store := tle.NewStore()
	for _, es := range sets {
		if cur, ok := store.Get(es.NORADID); ok && !es.Epoch.After(cur.Epoch) {
			continue
		}
		if es.Source == "" {
			es.Source = "file"
		}
		store.Set(es)
	}
	return &Static{store: store}
}

// Elements returns the set for noradID.
func (s *Static) Elements(_ context.Context, noradID int) (tle.ElementSet, error) {
	const op = "static.elements"
	if err := validID(op, noradID); err != nil {
		return tle.ElementSet{}, err
	}
	es, ok := s.store.Get(noradID)
	if !ok {
		return tle.ElementSet{}, apperr.NotFound(op, "no element set for %d in the file", noradID)
	}
	return es, nil
}

// Refresh is Elements; a fixed list has nothing newer to fetch.
func (s *Static) Refresh(ctx context.Context, noradID int) (tle.ElementSet, error) {
	return s.Elements(ctx, noradID)
}

// Name returns the name line of noradID's set.
func (s *Static) Name(ctx context.Context, noradID int) (string, error) {
	es, err := s.Elements(ctx, noradID)
	if err != nil {
		return "", err
	}
	if es.Name == "" {
		return "", apperr.NotFound("static.name", "element set for %d has no name line", noradID)
	}
	return es.Name, nil
}

// IDs returns the ids whose name contains name, case-insensitively, in
// ascending order.
func (s *Static) IDs(_ context.Context, name string) ([]int, error) {
	const op = "static.ids"
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, apperr.InvalidArgument(op, "name must not be empty")
	}
	var ids []int
	for _, es := range s.store.All() {
		if strings.Contains(strings.ToLower(es.Name), needle) {
			ids = append(ids, es.NORADID)
		}
	}
	if len(ids) == 0 {
		return nil, apperr.NotFound(op, "no satellite named %q in the file", name)
	}
	slices.Sort(ids)
	return ids, nil
}

// OnCutover does nothing: a fixed list never changes.
func (s *Static) OnCutover(CutoverFunc) {}

// Store returns the underlying element store.
func (s *Static) Store() *tle.Store {
	return s.store
}
