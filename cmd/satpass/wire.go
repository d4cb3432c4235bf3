package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/star/satpass/internal/cache"
	"github.com/star/satpass/internal/catalog"
	"github.com/star/satpass/internal/config"
	"github.com/star/satpass/internal/passes"
	"github.com/star/satpass/internal/propagation"
	"github.com/star/satpass/internal/provider"
	"github.com/star/satpass/internal/tle"
	"github.com/star/satpass/internal/tracker"
)

// stack is the assembled service graph.
type stack struct {
	tracker  *tracker.Service
	geocoder *provider.MapsCo
	// catalog is nil when serving from --tle-file.
	catalog *catalog.Catalog
	archive tle.Archive
}

func (s *stack) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

// build assembles providers, archive, catalog, engine and tracker from the
// loaded configuration.
func (a *app) build(ctx context.Context) (*stack, error) {
	cfg := a.cfg
	st := &stack{
		geocoder: provider.NewMapsCo(cfg.ProviderOptions(cfg.Provider.GeocodeURL), cfg.Provider.GeocodeAPIKey, a.logger),
	}

	var source tracker.ElementSource
	if a.tleFile != "" {
		sets, err := readTLEFile(a.tleFile, a.logger)
		if err != nil {
			return nil, err
		}
		source = catalog.NewStatic(sets)
		a.logger.Info("serving element sets from file", "path", a.tleFile, "count", len(sets))
	} else {
		archive, err := openArchive(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		st.archive = archive
		celestrak := provider.NewCelesTrak(cfg.ProviderOptions(cfg.Provider.CelesTrakURL), a.logger)
		st.catalog = catalog.New(celestrak, celestrak, archive, cache.SystemClock{}, cfg.CatalogConfig(), a.logger)
		source = st.catalog
	}

	models := propagation.NewModelCache(propagation.NewSGP4(cfg.PropagationConfig()), a.logger)
	pool := propagation.NewWorkerPool(cfg.Search.Workers, a.logger)
	engine := passes.NewEngine(models, pool, cfg.PassesConfig(), a.logger)
	st.tracker = tracker.New(source, engine, models, cache.SystemClock{}, cfg.TrackerConfig(), a.logger)
	return st, nil
}

// openArchive returns the configured archive, or nil for the "none" driver.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (tle.Archive, error) {
	switch cfg.Driver {
	case config.ArchiveSQLite:
		archive, err := tle.OpenSQLiteArchive(ctx, cfg.DSN, cfg.MaxFiles)
		if err != nil {
			return nil, err
		}
		return archive, nil
	case config.ArchiveNone:
		return nil, nil
	default:
		return tle.NewFileArchive(cfg.Dir, cfg.MaxFiles), nil
	}
}

func readTLEFile(path string, logger *slog.Logger) ([]tle.ElementSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening TLE file: %w", err)
	}
	defer f.Close()

	sets, err := tle.Parse(f, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s contains no element sets", path)
	}
	return sets, nil
}
