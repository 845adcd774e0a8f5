// Package codegen builds the code installed for a mocked unit: one
// interceptor per expectation key that routes every call through the unit's
// control actor.
package codegen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/mimic/internal/cachemanager"
	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/unit"
)

// Generator produces and installs fresh code for a unit from a snapshot of its
// expectation table. Implementations must be safe to call again with the same
// input.
type Generator interface {
	Generate(ctx context.Context, unitName string, snap expect.Snapshot) (*unit.Code, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, unitName string, snap expect.Snapshot) (*unit.Code, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, unitName string, snap expect.Snapshot) (*unit.Code, error) {
	return f(ctx, unitName, snap)
}

// Backend is the control actor side an interceptor talks to.
type Backend interface {
	GetResultSpec(ctx context.Context, op string, args []any) (expect.Result, error)
	AddHistory(rec history.Record)
	Invalidate(reason string)
}

// Resolver finds the live backend of a unit.
type Resolver interface {
	Resolve(unitName string) (Backend, error)
}

// Target is where generated code is installed and where originals are read
// for passthrough. *unit.Loader implements it.
type Target interface {
	Install(unitName string, code *unit.Code)
	Original(unitName string, key expect.Key) (expect.Func, bool)
}

// DefaultCacheTTL bounds how long compiled code stays memoized.
const DefaultCacheTTL = cachemanager.DefaultExpiration

type buildInput struct {
	unit string
	keys []expect.Key
}

// Compiler is the reference Generator. Compiled code depends only on the unit
// name and key set, so it is memoized by snapshot fingerprint.
type Compiler struct {
	resolver Resolver
	target   Target
	memo     *cachemanager.ReadThroughCache[string, *unit.Code, buildInput]
	ttl      time.Duration

	mu     sync.Mutex
	counts map[string]*unitCounts
}

type unitCounts struct {
	compiled int64
	reused   int64
}

// Option configures the Compiler.
type Option func(*compilerOptions)

type compilerOptions struct {
	cache     cachemanager.CacheManager[string, *unit.Code]
	ttl       time.Duration
	skipCache bool
}

// WithCache sets the cache used to memoize compiled code.
func WithCache(cache cachemanager.CacheManager[string, *unit.Code]) Option {
	return func(o *compilerOptions) {
		o.cache = cache
	}
}

// WithCacheTTL sets how long compiled code stays memoized.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *compilerOptions) {
		o.ttl = ttl
	}
}

// WithoutCache compiles on every Generate.
func WithoutCache() Option {
	return func(o *compilerOptions) {
		o.skipCache = true
	}
}

// NewCompiler creates a Compiler that resolves backends through resolver and
// installs into target.
func NewCompiler(resolver Resolver, target Target, opts ...Option) *Compiler {
	o := compilerOptions{ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = cachemanager.NewInMemoryCacheManager[string, *unit.Code]("codegen", o.ttl, cachemanager.DefaultCleanupInterval)
	}

	c := &Compiler{resolver: resolver, target: target, ttl: o.ttl, counts: make(map[string]*unitCounts)}
	c.memo = cachemanager.NewReadThroughCache(o.cache, c.build, o.skipCache)
	return c
}

// Generate compiles interceptors for every key of snap and installs them.
func (c *Compiler) Generate(ctx context.Context, unitName string, snap expect.Snapshot) (*unit.Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generate %s: %w", unitName, err)
	}

	fp := snap.Fingerprint(unitName)
	code, hit, err := c.memo.Get(ctx, fp, buildInput{unit: unitName, keys: snap.Keys()}, c.ttl)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", unitName, err)
	}
	if hit {
		c.count(unitName, func(n *unitCounts) { n.reused++ })
	}

	c.target.Install(unitName, code)
	log.Debug(log.CatCodegen, "generated code installed",
		"unit", unitName,
		"ops", snap.Len(),
		"fingerprint", fp[:12],
		"cached", hit,
	)
	return code, nil
}

// Counts returns how many dispatch tables were built for unitName and how
// many Generate calls for it were served from the cache.
func (c *Compiler) Counts(unitName string) (compiled, reused int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.counts[unitName]; ok {
		return n.compiled, n.reused
	}
	return 0, 0
}

func (c *Compiler) count(unitName string, fn func(*unitCounts)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[unitName]
	if !ok {
		n = &unitCounts{}
		c.counts[unitName] = n
	}
	fn(n)
}

func (c *Compiler) build(_ context.Context, in buildInput) (*unit.Code, error) {
	funcs := make(map[expect.Key]expect.Func, len(in.keys))
	for _, key := range in.keys {
		funcs[key] = c.interceptor(in.unit, key)
	}
	c.count(in.unit, func(n *unitCounts) { n.compiled++ })
	return unit.NewCode(in.unit, funcs), nil
}
