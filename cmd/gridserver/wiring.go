package main

import (
	"context"
	"fmt"

	"github.com/gridcore/server/internal/catalog"
	"github.com/gridcore/server/internal/config"
	"github.com/gridcore/server/internal/drivers"
	"github.com/gridcore/server/internal/ioengine"
	"github.com/gridcore/server/internal/registry"
	"github.com/gridcore/server/pkg/model"
)

// components bundles the collaborators every subcommand needs, built
// the same way regardless of whether it ends up serving requests or
// just performing one administrative operation and exiting.
type components struct {
	cfg      *config.Configuration
	catalog  *catalog.BoltCatalog
	registry *registry.Registry
	drivers  map[string]model.Driver
	io       *ioengine.Engine
}

// loadConfig reads configPath if set, falling back to NewDefault,
// then overlays GRIDSERVER_* environment variables and validates the
// result (mirrors the teacher's config.NewDefault/LoadFromFile/
// LoadFromEnv/Validate sequencing).
func loadConfig(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildDrivers constructs one model.Driver per configured resource,
// building COMPOUND_CACHE/COMPOUND_ARCHIVE resources in a second pass
// since drivers.Build requires their delegate resources' drivers to
// already exist.
func buildDrivers(ctx context.Context, cfg *config.Configuration) (map[string]model.Driver, error) {
	built := make(map[string]model.Driver, len(cfg.Resources))

	var compound []config.ResourceConfig
	for _, rc := range cfg.Resources {
		switch model.DriverKind(rc.Kind) {
		case model.KindCompoundCache, model.KindCompoundArch:
			compound = append(compound, rc)
			continue
		}
		drv, err := drivers.Build(ctx, rc, built)
		if err != nil {
			return nil, fmt.Errorf("building driver for resource %q: %w", rc.Name, err)
		}
		built[rc.Name] = drv
	}

	for _, rc := range compound {
		drv, err := drivers.Build(ctx, rc, built)
		if err != nil {
			return nil, fmt.Errorf("building compound driver for resource %q: %w", rc.Name, err)
		}
		built[rc.Name] = drv
	}

	return built, nil
}

// setup opens the catalog, builds the registry and driver set, and
// wires the I/O engine — the common prefix every subcommand runs
// before doing its own thing.
func setup(ctx context.Context, configPath string) (*components, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg)

	driverMap, err := buildDrivers(ctx, cfg)
	if err != nil {
		cat.Close()
		return nil, err
	}

	io := ioengine.NewEngine(reg, cat, driverMap, nil)

	return &components{cfg: cfg, catalog: cat, registry: reg, drivers: driverMap, io: io}, nil
}

func (c *components) Close() error {
	return c.catalog.Close()
}
