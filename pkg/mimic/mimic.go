// Package mimic is the public entry point of the mocking engine. An Engine
// owns a code table and a registry of mocked units; a Mock is the handle test
// code uses to program one unit and inspect its calls.
//
//	eng := mimic.NewEngine()
//	m, _ := eng.New(ctx, mimic.NewModule("billing").Def("charge", 1, charge))
//	_ = m.Expect(ctx, "charge", 1, mimic.Val("ok"))
//	out, _ := m.Call(ctx, "charge", 42)
package mimic

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mimic/internal/metrics"
	"github.com/zjrosen/mimic/internal/mock/actor"
	"github.com/zjrosen/mimic/internal/mock/codegen"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/registry"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/mock/unit"
	"github.com/zjrosen/mimic/internal/pubsub"
)

type (
	Module      = unit.Module
	Func        = expect.Func
	Key         = expect.Key
	Result      = expect.Result
	Clause      = expect.Clause
	ArgsMatcher = expect.ArgsMatcher
	MatchFunc   = expect.MatchFunc
	Filter      = history.Filter
	Record      = history.Record
	Exception   = history.Exception
	Occurrence  = history.Occurrence
	UnitStats   = metrics.UnitStats
)

var (
	NewModule   = unit.NewModule
	K           = expect.K
	Val         = expect.Val
	Raise       = expect.Raise
	Passthrough = expect.Passthrough
	Exec        = expect.Exec
	Seq         = expect.Seq
	Loop        = expect.Loop
	Any         = expect.Any
	Eq          = expect.Eq
	When        = expect.When
	Always      = expect.Always
	WithCaller  = history.WithCaller

	// Wildcard matches any value at its position inside Eq.
	Wildcard = expect.Wildcard
)

const (
	First = history.First
	Last  = history.Last
)

var (
	ErrNotMocked               = types.ErrNotMocked
	ErrAlreadyMocked           = types.ErrAlreadyMocked
	ErrConcurrentReload        = types.ErrConcurrentReload
	ErrReloadFailed            = types.ErrReloadFailed
	ErrCannotMockAutogenerated = types.ErrCannotMockAutogenerated
	ErrCannotMockBuiltin       = types.ErrCannotMockBuiltin
	ErrUndefinedFunction       = types.ErrUndefinedFunction
	ErrNoMatchingClause        = types.ErrNoMatchingClause
	ErrTimeout                 = types.ErrTimeout
	ErrBadArg                  = types.ErrBadArg
	ErrNotFound                = history.ErrNotFound
)

// ===========================================================================
// Engine
// ===========================================================================

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	actorOpts    []actor.Option
	compilerOpts []codegen.Option
}

// WithTracer traces every command handled by every unit.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(o *engineOptions) {
		o.actorOpts = append(o.actorOpts, actor.WithTracer(tracer))
	}
}

// WithEventBus publishes unit events on bus.
func WithEventBus(bus *pubsub.Broker[any]) EngineOption {
	return func(o *engineOptions) {
		o.actorOpts = append(o.actorOpts, actor.WithEventBus(bus))
	}
}

// WithQueueCapacity sets the mailbox size of every unit.
func WithQueueCapacity(n int) EngineOption {
	return func(o *engineOptions) {
		o.actorOpts = append(o.actorOpts, actor.WithQueueCapacity(n))
	}
}

// WithSlowHandlerThreshold logs commands whose handlers take longer than d.
func WithSlowHandlerThreshold(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.actorOpts = append(o.actorOpts, actor.WithSlowHandlerThreshold(d))
	}
}

// WithCodeCacheTTL sets how long generated code stays memoized. Zero disables it.
func WithCodeCacheTTL(ttl time.Duration) EngineOption {
	return func(o *engineOptions) {
		if ttl <= 0 {
			o.compilerOpts = append(o.compilerOpts, codegen.WithoutCache())
			return
		}
		o.compilerOpts = append(o.compilerOpts, codegen.WithCacheTTL(ttl))
	}
}

// Engine is one independent mocking world. Engines share nothing.
type Engine struct {
	loader *unit.Loader
	reg    *registry.Registry
}

// NewEngine creates an empty engine.
func NewEngine(opts ...EngineOption) *Engine {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	loader := unit.NewLoader()
	return &Engine{
		loader: loader,
		reg: registry.New(loader,
			registry.WithActorOptions(o.actorOpts...),
			registry.WithCompilerOptions(o.compilerOpts...),
		),
	}
}

// Load installs the original implementation of m without mocking it.
func (e *Engine) Load(m *Module) error {
	return e.loader.Load(m)
}

// Call invokes op on whatever code is installed for unitName, mocked or not.
func (e *Engine) Call(ctx context.Context, unitName, op string, args ...any) (any, error) {
	return e.loader.Call(ctx, unitName, op, args...)
}

// New mocks m. The original stays reachable through passthrough rules.
func (e *Engine) New(ctx context.Context, m *Module, opts ...Option) (*Mock, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil module", ErrBadArg)
	}
	return e.start(ctx, m.Name, m, opts)
}

// NewVirtual mocks a unit that has no implementation. Any operation may be
// given an expectation.
func (e *Engine) NewVirtual(ctx context.Context, name string, opts ...Option) (*Mock, error) {
	return e.start(ctx, name, nil, append([]Option{WithUnrestricted()}, opts...))
}

func (e *Engine) start(ctx context.Context, name string, m *Module, opts []Option) (*Mock, error) {
	var cfg actor.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := e.reg.Start(ctx, name, m, cfg)
	if err != nil {
		return nil, err
	}
	return &Mock{engine: e, name: name, actor: a}, nil
}

// Lookup returns the mock of a unit started earlier.
func (e *Engine) Lookup(name string) (*Mock, error) {
	a, err := e.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Mock{engine: e, name: name, actor: a}, nil
}

// Mocked returns the names of the mocked units.
func (e *Engine) Mocked() []string {
	return e.reg.Names()
}

// Unload stops mocking a unit and restores its original.
func (e *Engine) Unload(ctx context.Context, name string) error {
	return e.reg.Stop(ctx, name)
}

// UnloadAll stops mocking every unit.
func (e *Engine) UnloadAll(ctx context.Context) error {
	return e.reg.StopAll(ctx)
}

// Stats returns the counters of every mocked unit.
func (e *Engine) Stats() []UnitStats {
	return e.reg.Stats()
}

// ===========================================================================
// Mock options
// ===========================================================================

// Option configures a mocked unit. Options are fixed for the unit's lifetime.
type Option func(*actor.Config)

// WithPassthrough makes every operation without an expectation call the original.
func WithPassthrough() Option {
	return func(c *actor.Config) { c.PassthroughDefault = true }
}

// WithUnrestricted allows expectations for operations the original does not export.
func WithUnrestricted() Option {
	return func(c *actor.Config) { c.UnrestrictedSurface = true }
}

// WithMerge appends the clauses of repeated expectations instead of replacing them.
func WithMerge() Option {
	return func(c *actor.Config) { c.MergeOnSet = true }
}

// WithoutHistory stops recording calls. Wait still sees them.
func WithoutHistory() Option {
	return func(c *actor.Config) { c.DisableHistory = true }
}

// WithStubAll makes every export answer with r until given its own expectation.
func WithStubAll(r Result) Option {
	return func(c *actor.Config) { c.StubAll = &r }
}

// ===========================================================================
// Mock
// ===========================================================================

// Mock is the handle of one mocked unit.
type Mock struct {
	engine *Engine
	name   string
	actor  *actor.Actor
}

// Name returns the unit name.
func (m *Mock) Name() string { return m.name }

// Expect makes every call of op/arity answer with r.
func (m *Mock) Expect(ctx context.Context, op string, arity int, r Result) error {
	return m.ExpectClauses(ctx, op, arity, expect.Always(r))
}

// ExpectClauses programs op/arity with clauses tried in order.
func (m *Mock) ExpectClauses(ctx context.Context, op string, arity int, clauses ...Clause) error {
	return m.actor.SetExpect(ctx, expect.New(expect.K(op, arity), clauses...))
}

// Delete removes the expectation of op/arity. A passthrough unit keeps the
// operation calling the original.
func (m *Mock) Delete(ctx context.Context, op string, arity int) error {
	return m.actor.DeleteExpect(ctx, expect.K(op, arity), false)
}

// ForceDelete removes op/arity entirely, even from a passthrough unit.
func (m *Mock) ForceDelete(ctx context.Context, op string, arity int) error {
	return m.actor.DeleteExpect(ctx, expect.K(op, arity), true)
}

// Expects lists the programmed operations. Pure passthrough entries are
// left out when excludePassthrough is set.
func (m *Mock) Expects(ctx context.Context, excludePassthrough bool) ([]Key, error) {
	return m.actor.ListExpects(ctx, excludePassthrough)
}

// Call invokes op through the installed code.
func (m *Mock) Call(ctx context.Context, op string, args ...any) (any, error) {
	return m.engine.loader.Call(ctx, m.name, op, args...)
}

// History returns every recorded call, oldest first.
func (m *Mock) History(ctx context.Context) ([]Record, error) {
	return m.actor.History(ctx)
}

// NumCalls counts recorded calls passing f.
func (m *Mock) NumCalls(ctx context.Context, f Filter) (int, error) {
	records, err := m.actor.History(ctx)
	if err != nil {
		return 0, err
	}
	return history.NumCalls(records, f), nil
}

// Called reports whether any recorded call passes f.
func (m *Mock) Called(ctx context.Context, f Filter) (bool, error) {
	records, err := m.actor.History(ctx)
	if err != nil {
		return false, err
	}
	return history.Called(records, f), nil
}

// Capture returns argument argIndex of the occ-th call passing f.
func (m *Mock) Capture(ctx context.Context, occ Occurrence, f Filter, argIndex int) (any, error) {
	records, err := m.actor.History(ctx)
	if err != nil {
		return nil, err
	}
	return history.Capture(records, occ, f, argIndex)
}

// Wait blocks until times calls pass f, or fails with ErrTimeout. A zero
// timeout checks the calls already recorded and returns at once.
func (m *Mock) Wait(ctx context.Context, times int, f Filter, timeout time.Duration) error {
	return m.actor.Wait(ctx, times, f, timeout)
}

// Reset forgets every recorded call.
func (m *Mock) Reset(ctx context.Context) error {
	return m.actor.Reset(ctx)
}

// Validate reports whether every call matched an expectation and every
// regeneration succeeded.
func (m *Mock) Validate(ctx context.Context) (bool, error) {
	return m.actor.Validate(ctx)
}

// Stats returns the unit's counters. Once the unit is unloaded the compiler
// counts are no longer filled in.
func (m *Mock) Stats() UnitStats {
	if s, err := m.engine.reg.UnitStats(m.name); err == nil {
		return s
	}
	return m.actor.Stats()
}

// Unload stops mocking the unit.
func (m *Mock) Unload(ctx context.Context) error {
	return m.engine.Unload(ctx, m.name)
}
