package codegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/mock/unit"
)

// fakeBackend serves fixed rules and records what interceptors report.
type fakeBackend struct {
	mu          sync.Mutex
	rules       map[string]expect.Result
	records     []history.Record
	invalidated []string
}

func (b *fakeBackend) GetResultSpec(_ context.Context, op string, _ []any) (expect.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rules[op]
	if !ok {
		return expect.Result{}, types.ErrNoMatchingClause
	}
	return r, nil
}

func (b *fakeBackend) AddHistory(rec history.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

func (b *fakeBackend) Invalidate(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidated = append(b.invalidated, reason)
}

type fakeResolver map[string]*fakeBackend

func (r fakeResolver) Resolve(name string) (Backend, error) {
	b, ok := r[name]
	if !ok {
		return nil, types.ErrNotMocked
	}
	return b, nil
}

func snapshotOf(keys ...expect.Key) expect.Snapshot {
	t := expect.NewTable()
	for _, k := range keys {
		t.Store(expect.New(k, expect.Always(expect.Val(nil))), false)
	}
	return t.Snapshot()
}

func setup(t *testing.T, rules map[string]expect.Result, opts ...Option) (*Compiler, *unit.Loader, *fakeBackend) {
	t.Helper()
	loader := unit.NewLoader()
	require.NoError(t, loader.Load(unit.NewModule("billing").
		Def("charge", 1, func(_ context.Context, args []any) (any, error) {
			return fmt.Sprintf("real charge %v", args[0]), nil
		}).
		Def("refund", 1, func(context.Context, []any) (any, error) {
			return nil, errors.New("refund unavailable")
		})))
	_, err := loader.Backup("billing")
	require.NoError(t, err)

	backend := &fakeBackend{rules: rules}
	c := NewCompiler(fakeResolver{"billing": backend}, loader, opts...)

	_, err = c.Generate(context.Background(), "billing", snapshotOf(expect.K("charge", 1), expect.K("refund", 1), expect.K("void", 0)))
	require.NoError(t, err)
	return c, loader, backend
}

func TestInterceptor_Value(t *testing.T) {
	_, loader, backend := setup(t, map[string]expect.Result{"charge": expect.Val("stubbed")})

	v, err := loader.Call(history.WithCaller(context.Background(), "test"), "billing", "charge", "alice")
	require.NoError(t, err)
	require.Equal(t, "stubbed", v)

	require.Len(t, backend.records, 1)
	rec := backend.records[0]
	require.Equal(t, "test", rec.Caller)
	require.Equal(t, history.Call{Unit: "billing", Op: "charge", Args: []any{"alice"}}, rec.Call)
	require.Equal(t, "stubbed", rec.Outcome.Value)
}

func TestInterceptor_RaiseIsExpected(t *testing.T) {
	_, loader, backend := setup(t, map[string]expect.Result{"charge": expect.Raise("throw", "declined")})

	_, err := loader.Call(context.Background(), "billing", "charge", "alice")
	var exc *history.Exception
	require.ErrorAs(t, err, &exc)
	require.Equal(t, "throw:declined", exc.Error())

	require.True(t, backend.records[0].Outcome.IsException())
	require.Empty(t, backend.invalidated)
}

func TestInterceptor_Passthrough(t *testing.T) {
	_, loader, backend := setup(t, map[string]expect.Result{
		"charge": expect.Passthrough(),
		"refund": expect.Passthrough(),
		"void":   expect.Passthrough(),
	})

	v, err := loader.Call(context.Background(), "billing", "charge", 7)
	require.NoError(t, err)
	require.Equal(t, "real charge 7", v)

	_, err = loader.Call(context.Background(), "billing", "refund", 7)
	require.EqualError(t, err, "refund unavailable")
	require.Equal(t, "refund unavailable", backend.records[1].Outcome.Exception.Reason)

	_, err = loader.Call(context.Background(), "billing", "void")
	require.ErrorIs(t, err, types.ErrUndefinedFunction)
	require.Empty(t, backend.invalidated)
}

func TestInterceptor_FuncPanicInvalidates(t *testing.T) {
	_, loader, backend := setup(t, map[string]expect.Result{
		"charge": expect.Exec(func(context.Context, []any) (any, error) { panic("kaboom") }),
	})

	_, err := loader.Call(context.Background(), "billing", "charge", 1)
	var exc *history.Exception
	require.ErrorAs(t, err, &exc)
	require.Equal(t, "panic", exc.Kind)
	require.Equal(t, "kaboom", exc.Reason)
	require.NotEmpty(t, exc.Trace)

	require.Len(t, backend.invalidated, 1)
	require.True(t, backend.records[0].Outcome.IsException())
}

func TestInterceptor_FuncReturnsArgs(t *testing.T) {
	_, loader, _ := setup(t, map[string]expect.Result{
		"charge": expect.Exec(func(_ context.Context, args []any) (any, error) { return args[0].(int) * 2, nil }),
	})

	v, err := loader.Call(context.Background(), "billing", "charge", 21)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestInterceptor_NoMatchingClauseInvalidates(t *testing.T) {
	_, loader, backend := setup(t, map[string]expect.Result{})

	_, err := loader.Call(context.Background(), "billing", "charge", 1)
	require.ErrorIs(t, err, types.ErrNoMatchingClause)

	require.Len(t, backend.invalidated, 1)
	require.Len(t, backend.records, 1)
	require.Equal(t, "error:function_clause", backend.records[0].Outcome.Exception.Error())
}

func TestInterceptor_UnresolvedUnit(t *testing.T) {
	loader := unit.NewLoader()
	c := NewCompiler(fakeResolver{}, loader)
	_, err := c.Generate(context.Background(), "ghost", snapshotOf(expect.K("boo", 0)))
	require.NoError(t, err)

	_, err = loader.Call(context.Background(), "ghost", "boo")
	require.ErrorIs(t, err, types.ErrNotMocked)
}

func TestGenerate_MemoizesByKeySet(t *testing.T) {
	c, loader, _ := setup(t, map[string]expect.Result{})
	first, _ := loader.Current("billing")

	code, err := c.Generate(context.Background(), "billing", snapshotOf(expect.K("charge", 1), expect.K("refund", 1), expect.K("void", 0)))
	require.NoError(t, err)
	require.Same(t, first, code)
	compiled, reused := c.Counts("billing")
	require.Equal(t, int64(1), compiled)
	require.Equal(t, int64(1), reused)

	_, err = c.Generate(context.Background(), "billing", snapshotOf(expect.K("charge", 1)))
	require.NoError(t, err)
	compiled, _ = c.Counts("billing")
	require.Equal(t, int64(2), compiled)

	compiled, reused = c.Counts("mailer")
	require.Zero(t, compiled)
	require.Zero(t, reused)
}

func TestGenerate_WithoutCacheAlwaysCompiles(t *testing.T) {
	c, _, _ := setup(t, map[string]expect.Result{}, WithoutCache())

	_, err := c.Generate(context.Background(), "billing", snapshotOf(expect.K("charge", 1), expect.K("refund", 1), expect.K("void", 0)))
	require.NoError(t, err)
	compiled, reused := c.Counts("billing")
	require.Equal(t, int64(2), compiled)
	require.Zero(t, reused)
}

func TestGenerate_CancelledContext(t *testing.T) {
	c := NewCompiler(fakeResolver{}, unit.NewLoader())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, "billing", snapshotOf())
	require.ErrorIs(t, err, context.Canceled)
}
