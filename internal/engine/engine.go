// Package engine wires missions, target environments and effect dispatch
// into session lifecycles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/metis/internal/clock"
	"github.com/louisbranch/metis/internal/dispatch"
	"github.com/louisbranch/metis/internal/effect"
	"github.com/louisbranch/metis/internal/mission"
	"github.com/louisbranch/metis/internal/sessionstore"
	"github.com/louisbranch/metis/internal/target"
	"github.com/louisbranch/metis/internal/target/luaenv"
)

// Options configure an Engine. Zero values fall back to a new registry,
// slog.Default, the real clock and random ids.
type Options struct {
	Config   Config
	Registry *target.Registry
	Logger   *slog.Logger
	Clock    clock.Clock
	Tracer   trace.Tracer
	NewID    func() (string, error)
}

// Engine owns the target registry and the session stores shared by every
// session it sets up.
type Engine struct {
	config     Config
	registry   *target.Registry
	stores     *sessionstore.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	clock      clock.Clock
	newID      func() (string, error)
}

// New builds an engine and loads the scripted environments found under
// Config.EnvironmentsDir.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Registry == nil {
		opts.Registry = target.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	if dir := opts.Config.EnvironmentsDir; dir != "" {
		n, err := luaenv.RegisterAll(ctx, opts.Registry, dir, luaenv.Options{Logger: opts.Logger})
		if err != nil {
			return nil, fmt.Errorf("load environments: %w", err)
		}
		opts.Logger.Info("environments registered", "count", n, "dir", dir)
	}

	stores := sessionstore.NewRegistry()
	return &Engine{
		config:   opts.Config,
		registry: opts.Registry,
		stores:   stores,
		dispatcher: &dispatch.Dispatcher{
			Targets:      opts.Registry,
			Stores:       stores,
			Logger:       opts.Logger,
			Tracer:       opts.Tracer,
			InferTargets: opts.Config.InferTargets,
		},
		logger: opts.Logger,
		clock:  opts.Clock,
		newID:  opts.NewID,
	}, nil
}

// Registry returns the target registry.
func (e *Engine) Registry() *target.Registry { return e.registry }

// Stores returns the session store registry.
func (e *Engine) Stores() *sessionstore.Registry { return e.stores }

// MissionOptions returns the options missions hydrated by this engine use.
func (e *Engine) MissionOptions() mission.Options {
	return mission.Options{
		Clock:   e.clock,
		Logger:  e.logger,
		NewID:   e.newID,
		Effects: target.Binder{Registry: e.registry, Infer: e.config.InferTargets},
	}
}

// Hydrate decodes a mission snapshot, binding effects against the
// registry. InfiniteResources from the config overrides the snapshot.
func (e *Engine) Hydrate(data []byte) (*mission.Mission, error) {
	m, err := mission.Hydrate(data, e.MissionOptions())
	if err != nil {
		return nil, err
	}
	if e.config.InfiniteResources {
		m.SetInfiniteResources(true)
	}
	return m, nil
}

// MigrateEffect implements the effect migration endpoint.
func (e *Engine) MigrateEffect(req target.MigrationRequest) (target.MigrationResult, error) {
	return e.registry.Migrate(req)
}

// MigrateMission brings every effect of m up to its target's latest
// migration. It returns how many effects changed; effects that fail to
// migrate are left as they were and their errors joined.
func (e *Engine) MigrateMission(m *mission.Mission) (int, error) {
	effects := m.Effects.List()
	for _, f := range m.Forces() {
		for _, n := range f.Nodes() {
			for _, a := range n.Actions() {
				effects = append(effects, a.Effects.List()...)
			}
		}
	}

	changed := 0
	var errs []error
	for _, fx := range effects {
		ok, err := e.migrateEffect(fx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		e.logger.Info("mission effects migrated", "mission_id", m.ID, "changed", changed)
	}
	return changed, errors.Join(errs...)
}

func (e *Engine) migrateEffect(fx *effect.Effect) (bool, error) {
	if fx.EnvironmentID == "" && e.config.InferTargets {
		if err := (target.Binder{Registry: e.registry, Infer: true}).BindEffect(fx); err != nil {
			return false, fmt.Errorf("migrate effect %s: %w", fx.ID, err)
		}
	}
	return e.registry.MigrateEffect(fx)
}
