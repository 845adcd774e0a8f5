package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/mimic/internal/mock/codegen"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/mock/unit"
	"github.com/zjrosen/mimic/internal/pubsub"
)

const waitFor = 2 * time.Second

// fakeGen installs empty code. Once held, every Generate blocks until a value
// is sent on release. A deaf generator does not give up when ctx ends.
type fakeGen struct {
	mu      sync.Mutex
	snaps   []expect.Snapshot
	hold    bool
	deaf    bool
	failAll error
	entered chan struct{}
	release chan error
}

func newFakeGen() *fakeGen {
	return &fakeGen{entered: make(chan struct{}, 8), release: make(chan error)}
}

func (g *fakeGen) holdReloads() {
	g.mu.Lock()
	g.hold = true
	g.mu.Unlock()
}

func (g *fakeGen) ignoreCancel() {
	g.mu.Lock()
	g.hold, g.deaf = true, true
	g.mu.Unlock()
}

func (g *fakeGen) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.snaps)
}

func (g *fakeGen) lastSnapshot() expect.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snaps[len(g.snaps)-1]
}

func (g *fakeGen) Generate(ctx context.Context, name string, snap expect.Snapshot) (*unit.Code, error) {
	g.mu.Lock()
	g.snaps = append(g.snaps, snap)
	hold, deaf, failAll := g.hold, g.deaf, g.failAll
	g.mu.Unlock()

	if failAll != nil {
		return nil, failAll
	}
	if !hold {
		return unit.NewCode(name, nil), nil
	}
	g.entered <- struct{}{}
	if deaf {
		if err := <-g.release; err != nil {
			return nil, err
		}
		return unit.NewCode(name, nil), nil
	}
	select {
	case err := <-g.release:
		if err != nil {
			return nil, err
		}
		return unit.NewCode(name, nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *fakeGen) awaitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(waitFor):
		t.Fatal("regeneration did not start")
	}
}

func billingModule() *unit.Module {
	return unit.NewModule("billing").
		Def("charge", 1, func(_ context.Context, args []any) (any, error) {
			return fmt.Sprintf("real charge %v", args[0]), nil
		}).
		Def("refund", 1, func(_ context.Context, args []any) (any, error) {
			return fmt.Sprintf("real refund %v", args[0]), nil
		})
}

func startActor(t *testing.T, cfg Config, opts ...Option) (*Actor, *fakeGen, *unit.Loader) {
	t.Helper()
	loader := unit.NewLoader()
	m := billingModule()
	require.NoError(t, loader.Load(m))

	gen := newFakeGen()
	a, err := New("billing", m, gen, loader, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		if a.IsRunning() {
			_ = a.Stop(context.Background())
		}
	})
	return a, gen, loader
}

// async runs fn on its own goroutine and returns a channel with its error.
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func receive(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("no reply")
		return nil
	}
}

func requireBlocked(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("expected request to still be pending, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func callRecord(caller, op string, args ...any) history.Record {
	return history.Record{
		Caller:  caller,
		Call:    history.Call{Unit: "billing", Op: op, Args: args},
		Outcome: history.Returned("ok"),
	}
}

// ===========================================================================
// Creation
// ===========================================================================

func TestNew_RejectsBadConfig(t *testing.T) {
	stub := expect.Val("stub")
	stateful := expect.Seq(expect.Val(1), expect.Val(2))

	tests := []struct {
		name   string
		unit   string
		module *unit.Module
		cfg    Config
	}{
		{name: "empty name", unit: "", module: nil, cfg: Config{UnrestrictedSurface: true}},
		{name: "module name mismatch", unit: "orders", module: billingModule()},
		{name: "no module restricted", unit: "billing"},
		{name: "passthrough with stub_all", unit: "billing", module: billingModule(), cfg: Config{PassthroughDefault: true, StubAll: &stub}},
		{name: "stateful stub_all", unit: "billing", module: billingModule(), cfg: Config{StubAll: &stateful}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.unit, tt.module, newFakeGen(), unit.NewLoader(), tt.cfg)
			require.ErrorIs(t, err, types.ErrBadArg)
		})
	}
}

func TestStart_InitialGenerationFailureRestores(t *testing.T) {
	loader := unit.NewLoader()
	require.NoError(t, loader.Load(billingModule()))
	gen := newFakeGen()
	gen.failAll = errors.New("compiler exploded")

	a, err := New("billing", billingModule(), gen, loader, Config{})
	require.NoError(t, err)

	err = a.Start(context.Background())
	require.ErrorIs(t, err, types.ErrReloadFailed)
	require.False(t, a.IsRunning())

	got, err := loader.Call(context.Background(), "billing", "charge", 3)
	require.NoError(t, err)
	require.Equal(t, "real charge 3", got)
}

func TestStart_Twice(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	require.ErrorIs(t, a.Start(context.Background()), types.ErrAlreadyMocked)
}

func TestStart_InitialTable(t *testing.T) {
	stub := expect.Val("stub")
	tests := []struct {
		name string
		cfg  Config
		all  []expect.Key
		user []expect.Key
	}{
		{name: "plain", cfg: Config{}, all: nil, user: nil},
		{
			name: "passthrough",
			cfg:  Config{PassthroughDefault: true},
			all:  []expect.Key{expect.K("charge", 1), expect.K("refund", 1)},
			user: []expect.Key{},
		},
		{
			name: "stub_all",
			cfg:  Config{StubAll: &stub},
			all:  []expect.Key{expect.K("charge", 1), expect.K("refund", 1)},
			user: []expect.Key{expect.K("charge", 1), expect.K("refund", 1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := startActor(t, tt.cfg)
			ctx := context.Background()

			all, err := a.ListExpects(ctx, false)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.all, all)

			user, err := a.ListExpects(ctx, true)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.user, user)
		})
	}
}

// ===========================================================================
// Expectations
// ===========================================================================

func TestSetExpect_RegeneratesBeforeReplying(t *testing.T) {
	a, gen, _ := startActor(t, Config{})
	ctx := context.Background()

	key := expect.K("charge", 1)
	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.Always(expect.Val("mocked")))))

	require.Equal(t, 2, gen.calls())
	require.Equal(t, []expect.Key{key}, gen.lastSnapshot().Keys())

	keys, err := a.ListExpects(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []expect.Key{key}, keys)
}

func TestSetExpect_RejectsIneligibleOperations(t *testing.T) {
	a, gen, _ := startActor(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		key  expect.Key
		want error
	}{
		{name: "autogenerated", key: expect.K("init", 0), want: types.ErrCannotMockAutogenerated},
		{name: "builtin", key: expect.K("len", 1), want: types.ErrCannotMockBuiltin},
		{name: "not exported", key: expect.K("void", 1), want: types.ErrUndefinedFunction},
		{name: "wrong arity", key: expect.K("charge", 2), want: types.ErrUndefinedFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.SetExpect(ctx, expect.New(tt.key, expect.Always(expect.Val(1))))
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Equal(t, 1, gen.calls(), "rejected requests must not regenerate")
}

func TestSetExpect_UnrestrictedAcceptsUnknownOperations(t *testing.T) {
	a, _, _ := startActor(t, Config{UnrestrictedSurface: true})
	ctx := context.Background()

	require.NoError(t, a.SetExpect(ctx, expect.New(expect.K("void", 1), expect.Always(expect.Val(1)))))
	err := a.SetExpect(ctx, expect.New(expect.K("init", 0), expect.Always(expect.Val(1))))
	require.ErrorIs(t, err, types.ErrCannotMockAutogenerated)
}

func TestSetExpect_RejectsInvalidExpectation(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	err := a.SetExpect(context.Background(), expect.New(expect.K("charge", 1)))
	require.ErrorIs(t, err, types.ErrBadArg)
}

func TestSetExpect_ConcurrentReloadRejected(t *testing.T) {
	a, gen, _ := startActor(t, Config{})
	ctx := context.Background()
	gen.holdReloads()

	first := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)

	err := a.SetExpect(ctx, expect.New(expect.K("refund", 1), expect.Always(expect.Val(2))))
	require.ErrorIs(t, err, types.ErrConcurrentReload)
	err = a.DeleteExpect(ctx, expect.K("charge", 1), true)
	require.ErrorIs(t, err, types.ErrConcurrentReload)

	// Reads keep being answered while the reload is pending.
	valid, err := a.Validate(ctx)
	require.NoError(t, err)
	require.True(t, valid)
	requireBlocked(t, first)

	gen.release <- nil
	require.NoError(t, receive(t, first))

	keys, err := a.ListExpects(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []expect.Key{expect.K("charge", 1)}, keys)
	require.Eventually(t, func() bool { return a.Stats().Rejected == 2 }, waitFor, time.Millisecond)
}

func TestSetExpect_FastPathSkipsRegeneration(t *testing.T) {
	a, gen, _ := startActor(t, Config{PassthroughDefault: true})
	ctx := context.Background()

	require.NoError(t, a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val("mocked")))))
	require.Equal(t, 1, gen.calls())

	rule, err := a.GetResultSpec(ctx, "charge", []any{1})
	require.NoError(t, err)
	require.Equal(t, "mocked", rule.Value())
}

func TestSetExpect_UnrestrictedPassthroughQueuesFollowUp(t *testing.T) {
	a, gen, _ := startActor(t, Config{UnrestrictedSurface: true, PassthroughDefault: true})
	ctx := context.Background()
	gen.holdReloads()

	first := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("audit", 0), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)

	second := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("notify", 2), expect.Always(expect.Val(2))))
	})
	requireBlocked(t, second)

	gen.release <- nil
	require.NoError(t, receive(t, first))

	gen.awaitEntered(t)
	requireBlocked(t, second)
	gen.release <- nil
	require.NoError(t, receive(t, second))

	require.Equal(t, 3, gen.calls())
	require.Contains(t, gen.lastSnapshot().Keys(), expect.K("notify", 2))
}

func TestSetExpect_MergeAppendsClauses(t *testing.T) {
	a, _, _ := startActor(t, Config{MergeOnSet: true})
	ctx := context.Background()
	key := expect.K("charge", 1)

	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.When(expect.Eq(1), expect.Val("one")))))
	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.When(expect.Eq(2), expect.Val("two")))))

	for arg, want := range map[int]string{1: "one", 2: "two"} {
		rule, err := a.GetResultSpec(ctx, "charge", []any{arg})
		require.NoError(t, err)
		require.Equal(t, want, rule.Value())
	}
}

func TestSetExpect_ReplacesWithoutMerge(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()
	key := expect.K("charge", 1)

	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.When(expect.Eq(1), expect.Val("one")))))
	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.When(expect.Eq(2), expect.Val("two")))))

	_, err := a.GetResultSpec(ctx, "charge", []any{1})
	require.ErrorIs(t, err, types.ErrNoMatchingClause)
}

func TestSetExpect_CallerMutationDoesNotLeak(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	e := expect.New(expect.K("charge", 1), expect.Always(expect.Val("before")))
	require.NoError(t, a.SetExpect(ctx, e))
	e.Clauses[0] = expect.Always(expect.Val("after"))

	rule, err := a.GetResultSpec(ctx, "charge", []any{1})
	require.NoError(t, err)
	require.Equal(t, "before", rule.Value())
}

func TestDeleteExpect(t *testing.T) {
	ctx := context.Background()
	key := expect.K("charge", 1)

	t.Run("passthrough without force keeps the key", func(t *testing.T) {
		a, _, _ := startActor(t, Config{PassthroughDefault: true})
		require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.Always(expect.Val("mocked")))))
		require.NoError(t, a.DeleteExpect(ctx, key, false))

		all, err := a.ListExpects(ctx, false)
		require.NoError(t, err)
		require.Contains(t, all, key)
		user, err := a.ListExpects(ctx, true)
		require.NoError(t, err)
		require.NotContains(t, user, key)

		rule, err := a.GetResultSpec(ctx, "charge", []any{1})
		require.NoError(t, err)
		require.True(t, rule.IsPassthrough())
	})

	t.Run("force removes the key", func(t *testing.T) {
		a, gen, _ := startActor(t, Config{PassthroughDefault: true})
		require.NoError(t, a.DeleteExpect(ctx, key, true))
		require.Equal(t, 2, gen.calls())

		all, err := a.ListExpects(ctx, false)
		require.NoError(t, err)
		require.NotContains(t, all, key)
	})

	t.Run("plain unit removes the key", func(t *testing.T) {
		a, _, _ := startActor(t, Config{})
		require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.Always(expect.Val("mocked")))))
		require.NoError(t, a.DeleteExpect(ctx, key, false))

		all, err := a.ListExpects(ctx, false)
		require.NoError(t, err)
		require.Empty(t, all)
	})
}

func TestGetResultSpec_AdvancesStatefulRules(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	require.NoError(t, a.SetExpect(ctx, expect.New(expect.K("charge", 1),
		expect.Always(expect.Loop(expect.Val(1), expect.Val(2))))))
	require.NoError(t, a.SetExpect(ctx, expect.New(expect.K("refund", 1),
		expect.Always(expect.Seq(expect.Val("a"), expect.Val("b"))))))

	var loop, seq []any
	for range 3 {
		rule, err := a.GetResultSpec(ctx, "charge", []any{0})
		require.NoError(t, err)
		loop = append(loop, rule.Value())

		rule, err = a.GetResultSpec(ctx, "refund", []any{0})
		require.NoError(t, err)
		seq = append(seq, rule.Value())
	}
	require.Equal(t, []any{1, 2, 1}, loop)
	require.Equal(t, []any{"a", "b", "b"}, seq)
}

func TestGetResultSpec_NoMatchingClause(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	_, err := a.GetResultSpec(ctx, "charge", []any{1})
	require.ErrorIs(t, err, types.ErrNoMatchingClause)
}

// ===========================================================================
// History and wait
// ===========================================================================

func TestHistory_OldestFirstAndReset(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	r1, r2 := callRecord("t1", "charge", 1), callRecord("t2", "refund", 2)
	a.AddHistory(r1)
	a.AddHistory(r2)

	got, err := a.History(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, r1.Call, got[0].Call)
	require.Equal(t, r2.Call, got[1].Call)
	require.False(t, got[0].At.IsZero())

	require.NoError(t, a.Reset(ctx))
	got, err = a.History(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestHistory_PreservesAppendOrder(t *testing.T) {
	a, _, _ := startActor(t, Config{})

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		require.NoError(t, a.Reset(ctx))

		ops := rapid.SliceOf(rapid.SampledFrom([]string{"charge", "refund"})).Draw(t, "ops")
		for i, op := range ops {
			a.AddHistory(callRecord("", op, i))
		}

		got, err := a.History(ctx)
		require.NoError(t, err)
		require.Len(t, got, len(ops))
		for i, r := range got {
			require.Equal(t, ops[i], r.Call.Op)
			require.Equal(t, []any{i}, r.Call.Args)
		}
	})
}

func TestWait_AlreadySatisfied(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	a.AddHistory(callRecord("", "charge", 1))
	a.AddHistory(callRecord("", "charge", 2))

	require.NoError(t, a.Wait(ctx, 2, history.Filter{Op: "charge"}, 0))
	require.NoError(t, a.Wait(ctx, 0, history.Filter{Op: "refund"}, 0))
}

func TestWait_ZeroTimeoutPolls(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	a.AddHistory(callRecord("", "charge", 1))

	start := time.Now()
	err := a.Wait(ctx, 2, history.Filter{Op: "charge"}, 0)
	require.ErrorIs(t, err, types.ErrTimeout)
	require.Less(t, time.Since(start), waitFor)
	require.Zero(t, a.Stats().LiveTrackers)
}

func TestWait_FiresOnMatchingCalls(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	a.AddHistory(callRecord("worker", "charge", 1))
	done := async(func() error {
		return a.Wait(ctx, 3, history.Filter{Op: "charge", Caller: "worker"}, waitFor)
	})
	require.Eventually(t, func() bool { return a.Stats().LiveTrackers == 1 }, waitFor, time.Millisecond)

	a.AddHistory(callRecord("other", "charge", 2))
	a.AddHistory(callRecord("worker", "refund", 3))
	a.AddHistory(callRecord("worker", "charge", 4))
	requireBlocked(t, done)

	a.AddHistory(callRecord("worker", "charge", 5))
	require.NoError(t, receive(t, done))
	require.Eventually(t, func() bool { return a.Stats().LiveTrackers == 0 }, waitFor, time.Millisecond)
}

func TestWait_ArgsMatcher(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	done := async(func() error {
		return a.Wait(ctx, 1, history.Filter{Op: "charge", Args: expect.Eq(42)}, waitFor)
	})
	require.Eventually(t, func() bool { return a.Stats().LiveTrackers == 1 }, waitFor, time.Millisecond)

	a.AddHistory(callRecord("", "charge", 41))
	requireBlocked(t, done)
	a.AddHistory(callRecord("", "charge", 42))
	require.NoError(t, receive(t, done))
}

func TestWait_Expires(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	timeout := 30 * time.Millisecond
	start := time.Now()
	err := a.Wait(ctx, 1, history.Filter{Op: "charge"}, timeout)
	require.ErrorIs(t, err, types.ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), timeout)
	require.Eventually(t, func() bool { return a.Stats().LiveTrackers == 0 }, waitFor, time.Millisecond)

	// A call arriving after expiry is only recorded.
	a.AddHistory(callRecord("", "charge", 1))
	got, err := a.History(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestWait_DisabledHistoryStillTracks(t *testing.T) {
	a, _, _ := startActor(t, Config{DisableHistory: true})
	ctx := context.Background()

	done := async(func() error {
		return a.Wait(ctx, 1, history.Filter{Op: "charge"}, waitFor)
	})
	require.Eventually(t, func() bool { return a.Stats().LiveTrackers == 1 }, waitFor, time.Millisecond)

	a.AddHistory(callRecord("", "charge", 1))
	require.NoError(t, receive(t, done))

	got, err := a.History(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWait_DisabledHistoryDoesNotCountEarlierCalls(t *testing.T) {
	a, _, _ := startActor(t, Config{DisableHistory: true})
	ctx := context.Background()

	a.AddHistory(callRecord("", "charge", 1))
	a.AddHistory(callRecord("", "charge", 2))
	got, err := a.History(ctx)
	require.NoError(t, err)
	require.Empty(t, got)

	timeout := 30 * time.Millisecond
	start := time.Now()
	err = a.Wait(ctx, 1, history.Filter{Op: "charge"}, timeout)
	require.ErrorIs(t, err, types.ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), timeout)
}

func TestWait_RejectsNegativeArguments(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	err := a.Wait(context.Background(), -1, history.Filter{}, 0)
	require.ErrorIs(t, err, types.ErrBadArg)
}

// ===========================================================================
// Reload failure and validity
// ===========================================================================

func TestReloadFailure_InvalidatesAndAnswers(t *testing.T) {
	a, gen, _ := startActor(t, Config{})
	ctx := context.Background()
	gen.holdReloads()

	pending := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)
	gen.release <- errors.New("disk full")

	err := receive(t, pending)
	require.ErrorIs(t, err, types.ErrReloadFailed)
	require.ErrorContains(t, err, "disk full")

	valid, err := a.Validate(ctx)
	require.NoError(t, err)
	require.False(t, valid)

	// The unit is not stuck: the next mutation starts a new regeneration.
	next := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("refund", 1), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)
	gen.release <- nil
	require.NoError(t, receive(t, next))
}

func TestInvalidate(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	valid, err := a.Validate(ctx)
	require.NoError(t, err)
	require.True(t, valid)

	a.Invalidate("unexpected call")
	valid, err = a.Validate(ctx)
	require.NoError(t, err)
	require.False(t, valid)
}

// ===========================================================================
// Stop
// ===========================================================================

func TestStop_RestoresOriginal(t *testing.T) {
	a, _, loader := startActor(t, Config{})
	ctx := context.Background()

	_, err := loader.Call(ctx, "billing", "charge", 1)
	require.ErrorIs(t, err, unit.ErrUndefined)

	require.NoError(t, a.Stop(ctx))
	require.False(t, a.IsRunning())

	got, err := loader.Call(ctx, "billing", "charge", 1)
	require.NoError(t, err)
	require.Equal(t, "real charge 1", got)
}

func TestStop_LaterRequestsFailNotMocked(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()
	require.NoError(t, a.Stop(ctx))

	_, err := a.ListExpects(ctx, false)
	require.ErrorIs(t, err, types.ErrNotMocked)
	err = a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1))))
	require.ErrorIs(t, err, types.ErrNotMocked)
	require.ErrorIs(t, a.Stop(ctx), types.ErrNotMocked)

	// Fire-and-forget requests are dropped.
	a.AddHistory(callRecord("", "charge", 1))
	a.Invalidate("late")
}

func TestStop_FailsOutstandingWaits(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	done := async(func() error {
		return a.Wait(ctx, 1, history.Filter{Op: "charge"}, time.Minute)
	})
	require.Eventually(t, func() bool { return a.Stats().LiveTrackers == 1 }, waitFor, time.Millisecond)

	require.NoError(t, a.Stop(ctx))
	require.ErrorIs(t, receive(t, done), types.ErrNotMocked)
}

func TestStop_WaitsForInFlightReload(t *testing.T) {
	a, gen, loader := startActor(t, Config{})
	ctx := context.Background()
	gen.holdReloads()

	pending := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)

	require.NoError(t, a.Stop(ctx))
	require.ErrorIs(t, receive(t, pending), types.ErrNotMocked)

	got, err := loader.Call(ctx, "billing", "charge", 2)
	require.NoError(t, err)
	require.Equal(t, "real charge 2", got)
}

func TestStop_GeneratorIgnoringCancellation(t *testing.T) {
	a, gen, loader := startActor(t, Config{})
	ctx := context.Background()
	gen.ignoreCancel()

	pending := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, a.Stop(stopCtx), context.DeadlineExceeded)
	require.False(t, a.IsRunning())
	require.ErrorIs(t, receive(t, pending), types.ErrNotMocked)

	_, err := a.History(ctx)
	require.ErrorIs(t, err, types.ErrProcessorNotRunning)
	select {
	case <-a.Done():
		t.Fatal("exited before the regeneration reported back")
	default:
	}

	gen.release <- nil
	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatal("actor did not exit")
	}

	got, err := loader.Call(ctx, "billing", "charge", 2)
	require.NoError(t, err)
	require.Equal(t, "real charge 2", got)

	again, err := New("billing", billingModule(), newFakeGen(), loader, Config{})
	require.NoError(t, err)
	require.NoError(t, again.Start(ctx))
	require.NoError(t, again.Stop(ctx))
}

func TestStop_SecondStopWhileDraining(t *testing.T) {
	a, gen, _ := startActor(t, Config{})
	ctx := context.Background()
	gen.ignoreCancel()

	pending := async(func() error {
		return a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1))))
	})
	gen.awaitEntered(t)

	first := async(func() error { return a.Stop(ctx) })
	require.ErrorIs(t, receive(t, pending), types.ErrNotMocked)
	requireBlocked(t, first)
	require.ErrorIs(t, a.Stop(ctx), types.ErrNotMocked)

	gen.release <- nil
	require.NoError(t, receive(t, first))
}

// ===========================================================================
// Events and stats
// ===========================================================================

func TestActor_PublishesEvents(t *testing.T) {
	bus := pubsub.NewBroker[any]()
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events := bus.Subscribe(ctx)

	a, _, _ := startActor(t, Config{}, WithEventBus(bus))
	key := expect.K("charge", 1)
	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.Always(expect.Val(1)))))

	var changed *ExpectationsChanged
	var completed *ReloadCompleted
	timeout := time.After(waitFor)
	for changed == nil || completed == nil {
		select {
		case ev := <-events:
			switch p := ev.Payload.(type) {
			case ExpectationsChanged:
				changed = &p
			case ReloadCompleted:
				completed = &p
			}
		case <-timeout:
			t.Fatal("events not published")
		}
	}
	require.Equal(t, key, changed.Key)
	require.Equal(t, 1, completed.Waiters)
	require.NoError(t, completed.Err)
}

func TestActor_PublishesDeletionAsDeleted(t *testing.T) {
	bus := pubsub.NewBroker[any]()
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events := bus.Subscribe(ctx)

	a, _, _ := startActor(t, Config{}, WithEventBus(bus))
	key := expect.K("charge", 1)
	require.NoError(t, a.SetExpect(ctx, expect.New(key, expect.Always(expect.Val(1)))))
	require.NoError(t, a.DeleteExpect(ctx, key, false))

	var kinds []pubsub.EventType
	timeout := time.After(waitFor)
	for len(kinds) < 2 {
		select {
		case ev := <-events:
			if _, ok := ev.Payload.(ExpectationsChanged); ok {
				kinds = append(kinds, ev.Type)
			}
		case <-timeout:
			t.Fatal("events not published")
		}
	}
	require.Equal(t, []pubsub.EventType{pubsub.UpdatedEvent, pubsub.DeletedEvent}, kinds)
}

func TestActor_Stats(t *testing.T) {
	a, _, _ := startActor(t, Config{})
	ctx := context.Background()

	require.NoError(t, a.SetExpect(ctx, expect.New(expect.K("charge", 1), expect.Always(expect.Val(1)))))
	a.AddHistory(callRecord("", "charge", 1))
	_, err := a.History(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := a.Stats()
		return s.Expectations == 1 && s.HistoryLen == 1 && s.Reloads == 1 && s.Valid && !s.Pending
	}, waitFor, time.Millisecond)
}

// ===========================================================================
// End to end with the compiler
// ===========================================================================

type actorResolver struct {
	mu     sync.Mutex
	actors map[string]*Actor
}

func (r *actorResolver) Resolve(name string) (codegen.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[name]
	if !ok {
		return nil, types.ErrNotMocked
	}
	return a, nil
}

func TestActor_WithCompiler(t *testing.T) {
	ctx := context.Background()
	loader := unit.NewLoader()
	m := billingModule()
	require.NoError(t, loader.Load(m))

	resolver := &actorResolver{actors: map[string]*Actor{}}
	compiler := codegen.NewCompiler(resolver, loader, codegen.WithoutCache())

	a, err := New("billing", m, compiler, loader, Config{PassthroughDefault: true})
	require.NoError(t, err)
	resolver.actors["billing"] = a
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Stop(ctx) })

	got, err := loader.Call(ctx, "billing", "charge", 7)
	require.NoError(t, err)
	require.Equal(t, "real charge 7", got)

	require.NoError(t, a.SetExpect(ctx, expect.New(expect.K("charge", 1),
		expect.When(expect.Eq(1), expect.Val("mocked one")),
		expect.Always(expect.Passthrough()))))

	got, err = loader.Call(ctx, "billing", "charge", 1)
	require.NoError(t, err)
	require.Equal(t, "mocked one", got)
	got, err = loader.Call(ctx, "billing", "charge", 2)
	require.NoError(t, err)
	require.Equal(t, "real charge 2", got)

	require.NoError(t, a.Wait(ctx, 3, history.Filter{Op: "charge"}, waitFor))
	records, err := a.History(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "mocked one", records[1].Outcome.Value)

	valid, err := a.Validate(ctx)
	require.NoError(t, err)
	require.True(t, valid)
}
