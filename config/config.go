// Package config defines the cube-builder configuration file and how it turns into the running
// workspace, cache and generator.
package config

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/meshcache"
	"github.com/mikerobots/cube-builder/surface"
	"github.com/mikerobots/cube-builder/workspace"
)

// A Config describes the configuration of the voxel core.
type Config struct {
	Workspace workspace.Constraints `json:"workspace"`
	Surface   surface.Settings      `json:"surface"`
	LOD       surface.LODConfig     `json:"lod"`
	Cache     Cache                 `json:"cache"`
	Generator Generator             `json:"generator"`
	Logging   Logging               `json:"logging"`

	// ConfigFilePath is the path this config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// Cache configures the mesh cache and the memory pressure monitor.
type Cache struct {
	// Budget is a human readable size such as "256MB".
	Budget     string `json:"budget"`
	MaxEntries int    `json:"max_entries,omitempty"`
	// IdleExpiry drops entries unused for this long. Empty disables expiry.
	IdleExpiry string `json:"idle_expiry,omitempty"`
	// PollInterval is how often system memory is sampled. Empty disables the monitor.
	PollInterval string               `json:"poll_interval,omitempty"`
	Thresholds   meshcache.Thresholds `json:"thresholds"`
}

// Generator configures mesh generation.
type Generator struct {
	MaxConcurrent int `json:"max_concurrent"`
	// MemoryBudget bounds the estimated working set of one generation. Empty means unbounded.
	MemoryBudget string `json:"memory_budget,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	SlabDepth    int    `json:"slab_depth,omitempty"`
}

// Logging configures the process logger.
type Logging struct {
	Level logging.Level               `json:"level"`
	File  *logging.FileAppenderConfig `json:"file,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Workspace: workspace.DefaultConstraints(),
		Surface:   surface.DefaultSettings(),
		LOD:       surface.DefaultLODConfig(),
		Cache: Cache{
			Budget:     humanize.IBytes(meshcache.DefaultBudget),
			Thresholds: meshcache.DefaultThresholds(),
		},
		Generator: Generator{MaxConcurrent: 2},
		Logging:   Logging{Level: logging.INFO},
	}
}

// Ensure validates every section, reporting all problems at once.
func (c *Config) Ensure() error {
	return multierr.Combine(
		c.Workspace.Validate("workspace"),
		errors.Wrap(c.Surface.Validate(), "surface"),
		c.LOD.Validate("lod"),
		c.Cache.Validate("cache"),
		c.Generator.Validate("generator"),
		c.Logging.Validate("logging"),
	)
}

// Validate checks the cache section.
func (c Cache) Validate(path string) error {
	var errs error
	if _, err := c.BudgetBytes(); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "%s.budget", path))
	}
	if c.MaxEntries < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.max_entries: %d is negative", path, c.MaxEntries))
	}
	if _, err := parseDuration(c.IdleExpiry); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "%s.idle_expiry", path))
	}
	if _, err := parseDuration(c.PollInterval); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "%s.poll_interval", path))
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "%s.thresholds", path))
	}
	return errs
}

// BudgetBytes parses Budget. An empty budget means meshcache.DefaultBudget.
func (c Cache) BudgetBytes() (int64, error) {
	if c.Budget == "" {
		return meshcache.DefaultBudget, nil
	}
	n, err := humanize.ParseBytes(c.Budget)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("budget must be positive")
	}
	return int64(n), nil
}

// Validate checks the generator section.
func (g Generator) Validate(path string) error {
	var errs error
	if g.MaxConcurrent < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.max_concurrent: %d is negative", path, g.MaxConcurrent))
	}
	if g.Workers < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.workers: %d is negative", path, g.Workers))
	}
	if g.SlabDepth < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.slab_depth: %d is negative", path, g.SlabDepth))
	}
	if _, err := g.MemoryBudgetBytes(); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "%s.memory_budget", path))
	}
	return errs
}

// MemoryBudgetBytes parses MemoryBudget. Zero means unbounded.
func (g Generator) MemoryBudgetBytes() (int64, error) {
	if g.MemoryBudget == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(g.MemoryBudget)
	return int64(n), err
}

// Validate checks the logging section.
func (l Logging) Validate(path string) error {
	if l.File != nil && l.File.Path == "" {
		return errors.Errorf("%s.file.path is required", path)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("duration %v is negative", d)
	}
	return d, nil
}

// Services is everything a configured process runs on.
type Services struct {
	Bus       *events.Bus
	Cache     *meshcache.Cache
	Generator *surface.Generator
	Data      *workspace.DataManager
	// Monitor is nil unless Cache.PollInterval is set.
	Monitor *meshcache.PressureMonitor
}

// Close stops the monitor and releases the generator's grids.
func (s *Services) Close() {
	if s.Monitor != nil {
		s.Monitor.Close()
	}
	s.Data.Close()
	s.Generator.Close()
}

// Build creates the services described by an ensured config.
func (c *Config) Build(logger logging.Logger, opts ...meshcache.MonitorOption) (*Services, error) {
	budget, err := c.Cache.BudgetBytes()
	if err != nil {
		return nil, err
	}
	memBudget, err := c.Generator.MemoryBudgetBytes()
	if err != nil {
		return nil, err
	}
	lod, err := surface.NewLODManager(c.LOD)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	cache := meshcache.New(logger, meshcache.WithBudget(budget), meshcache.WithMaxEntries(c.Cache.MaxEntries))
	dc := surface.NewDualContouring(logger,
		surface.WithWorkers(c.Generator.Workers),
		surface.WithSlabDepth(c.Generator.SlabDepth),
		surface.WithLODManager(lod),
		surface.WithChunkCache(cache),
	)
	genOpts := []surface.GeneratorOption{
		surface.WithBus(bus),
		surface.WithCache(cache),
		surface.WithDualContouring(dc),
		surface.WithMemoryBudget(memBudget),
		surface.WithMaxConcurrent(c.Generator.MaxConcurrent),
	}
	gen := surface.NewGenerator(logger, genOpts...)

	data, err := workspace.NewDataManager(logger,
		workspace.WithConstraints(c.Workspace),
		workspace.WithBus(bus),
		workspace.WithGenerator(gen),
	)
	if err != nil {
		gen.Close()
		return nil, err
	}

	s := &Services{Bus: bus, Cache: cache, Generator: gen, Data: data}
	interval, err := parseDuration(c.Cache.PollInterval)
	if err != nil {
		s.Close()
		return nil, err
	}
	if interval > 0 {
		idle, err := parseDuration(c.Cache.IdleExpiry)
		if err != nil {
			s.Close()
			return nil, err
		}
		mopts := []meshcache.MonitorOption{
			meshcache.WithInterval(interval),
			meshcache.WithThresholds(c.Cache.Thresholds),
		}
		if idle > 0 {
			mopts = append(mopts, meshcache.WithIdleExpiry(cache, idle))
		}
		s.Monitor = meshcache.NewPressureMonitor(logger, bus, append(mopts, opts...)...)
	}
	return s, nil
}
