// Package registry maps unit names to their control actors. It is the only
// way to reach a mocked unit, and it resolves backends for generated code.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/metrics"
	"github.com/zjrosen/mimic/internal/mock/actor"
	"github.com/zjrosen/mimic/internal/mock/codegen"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/mock/unit"
)

var _ codegen.Resolver = (*Registry)(nil)

// Option configures the Registry.
type Option func(*Registry)

// WithActorOptions applies opts to every actor the registry starts.
func WithActorOptions(opts ...actor.Option) Option {
	return func(r *Registry) {
		r.actorOpts = append(r.actorOpts, opts...)
	}
}

// WithCompilerOptions configures the code generator shared by all units.
func WithCompilerOptions(opts ...codegen.Option) Option {
	return func(r *Registry) {
		r.compilerOpts = append(r.compilerOpts, opts...)
	}
}

// WithGenerator replaces the shared compiler, mostly for tests.
func WithGenerator(gen codegen.Generator) Option {
	return func(r *Registry) {
		r.gen = gen
	}
}

// Registry holds the live actors of one engine instance.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*actor.Actor

	loader       *unit.Loader
	gen          codegen.Generator
	compiler     *codegen.Compiler
	actorOpts    []actor.Option
	compilerOpts []codegen.Option
}

// New creates a registry whose units live in loader.
func New(loader *unit.Loader, opts ...Option) *Registry {
	r := &Registry{
		actors: make(map[string]*actor.Actor),
		loader: loader,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gen == nil {
		r.compiler = codegen.NewCompiler(r, loader, r.compilerOpts...)
		r.gen = r.compiler
	}
	return r
}

// Loader returns the code table units are installed in.
func (r *Registry) Loader() *unit.Loader {
	return r.loader
}

// Compiler returns the shared compiler, or nil when a custom generator is set.
func (r *Registry) Compiler() *codegen.Compiler {
	return r.compiler
}

// Start mocks a unit. The module is loaded into the loader on first use.
// Starting a unit that already has a live actor fails with ErrAlreadyMocked.
func (r *Registry) Start(ctx context.Context, name string, module *unit.Module, cfg actor.Config) (*actor.Actor, error) {
	a, _, err := r.start(ctx, name, module, cfg, false)
	return a, err
}

// Acquire returns the live actor of a unit, or starts one. reused reports
// whether an existing actor was returned; its configuration is left as is.
func (r *Registry) Acquire(ctx context.Context, name string, module *unit.Module, cfg actor.Config) (a *actor.Actor, reused bool, err error) {
	return r.start(ctx, name, module, cfg, true)
}

func (r *Registry) start(ctx context.Context, name string, module *unit.Module, cfg actor.Config, reuse bool) (*actor.Actor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.actors[name]; ok {
		if existing.IsRunning() {
			if reuse {
				return existing, true, nil
			}
			return nil, false, fmt.Errorf("%w: %s", types.ErrAlreadyMocked, name)
		}
		delete(r.actors, name)
	}

	a, err := actor.New(name, module, r.gen, r.loader, cfg, r.actorOpts...)
	if err != nil {
		return nil, false, err
	}

	if module != nil {
		if _, loaded := r.loader.Current(name); !loaded {
			if err := r.loader.Load(module); err != nil {
				return nil, false, fmt.Errorf("%w: load %s: %w", types.ErrBadArg, name, err)
			}
		}
	}

	// Registered before Start so code installed by Start resolves this actor;
	// interceptors block on the lock until Start returns.
	r.actors[name] = a
	if err := a.Start(ctx); err != nil {
		delete(r.actors, name)
		return nil, false, err
	}

	log.Debug(log.CatRegistry, "unit registered", "unit", name, "units", len(r.actors))
	return a, false, nil
}

// Lookup returns the live actor of a unit.
func (r *Registry) Lookup(name string) (*actor.Actor, error) {
	r.mu.RLock()
	a, ok := r.actors[name]
	r.mu.RUnlock()
	if !ok || !a.IsRunning() {
		return nil, fmt.Errorf("%w: %s", types.ErrNotMocked, name)
	}
	return a, nil
}

// Resolve implements codegen.Resolver.
func (r *Registry) Resolve(name string) (codegen.Backend, error) {
	return r.Lookup(name)
}

// Stop tears down one unit and restores its original.
func (r *Registry) Stop(ctx context.Context, name string) error {
	a, err := r.Lookup(name)
	if err != nil {
		return err
	}
	err = a.Stop(ctx)

	r.mu.Lock()
	if r.actors[name] == a {
		delete(r.actors, name)
	}
	r.mu.Unlock()

	log.Debug(log.CatRegistry, "unit unregistered", "unit", name)
	return err
}

// StopAll stops every live unit. Errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Stop(ctx, name); err != nil && !errors.Is(err, types.ErrNotMocked) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names returns the mocked units in name order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actors))
	for name, a := range r.actors {
		if a.IsRunning() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats returns the counters of every live unit in name order, including
// the shared compiler's build and cache counts.
func (r *Registry) Stats() []metrics.UnitStats {
	names := r.Names()
	stats := make([]metrics.UnitStats, 0, len(names))
	for _, name := range names {
		if s, err := r.UnitStats(name); err == nil {
			stats = append(stats, s)
		}
	}
	return stats
}

// UnitStats returns the counters of one live unit.
func (r *Registry) UnitStats(name string) (metrics.UnitStats, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return metrics.UnitStats{}, err
	}
	s := a.Stats()
	if r.compiler != nil {
		s.CodeBuilds, s.CodeCacheHits = r.compiler.Counts(name)
	}
	return s, nil
}
