package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/tracing"
	"github.com/zjrosen/mimic/pkg/mimic"
)

// DefaultWaitTimeout bounds wait steps that set no timeout.
const DefaultWaitTimeout = 5 * time.Second

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEngineOptions passes options to the engine created for every run.
func WithEngineOptions(opts ...mimic.EngineOption) RunnerOption {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// WithWaitTimeout sets the timeout of wait steps that name none.
func WithWaitTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.waitTimeout = d
		}
	}
}

// Runner executes scenarios. Every run gets its own engine, so runs share
// nothing and may execute in parallel.
type Runner struct {
	engineOpts  []mimic.EngineOption
	waitTimeout time.Duration
}

// NewRunner creates a runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{waitTimeout: DefaultWaitTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes s and reports the outcome. Steps stop at the first failure;
// histories are still collected and compared. Every command of the run
// carries the trace ID of ctx, or a fresh one when ctx has none.
func (r *Runner) Run(ctx context.Context, s *Scenario) *Report {
	traceID := tracing.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = tracing.GenerateTraceID()
		ctx = tracing.ContextWithTraceID(ctx, traceID)
	}
	report := &Report{Scenario: s.Name, Path: s.Path, TraceID: traceID, StartedAt: time.Now()}
	log.Info(log.CatScenario, "running scenario", "name", s.Name, "units", len(s.Units), "steps", len(s.Steps), "trace_id", traceID)

	eng := mimic.NewEngine(r.engineOpts...)
	defer func() {
		if err := eng.UnloadAll(context.WithoutCancel(ctx)); err != nil {
			log.ErrorErr(log.CatScenario, "unload failed", err, "scenario", s.Name)
		}
	}()

	mocks, err := r.setup(ctx, eng, s)
	if err != nil {
		report.SetupErr = err
		report.Duration = time.Since(report.StartedAt)
		return report
	}

	for i, st := range s.Steps {
		start := time.Now()
		res := StepResult{Index: i + 1, Label: st.label()}
		res.Err = r.step(ctx, eng, mocks, st)
		res.Duration = time.Since(start)
		report.Steps = append(report.Steps, res)
		if res.Err != nil {
			log.Warn(log.CatScenario, "step failed", "scenario", s.Name, "step", res.Label, "error", res.Err)
			break
		}
	}

	for _, u := range s.Units {
		report.Units = append(report.Units, collect(ctx, mocks[u.Name]))
	}
	for _, h := range s.History {
		report.Checks = append(report.Checks, check(h, report.unit(h.Unit)))
	}

	report.Duration = time.Since(report.StartedAt)
	log.Info(log.CatScenario, "scenario finished", "name", s.Name, "passed", report.Passed(), "duration", report.Duration)
	return report
}

func (r *Runner) setup(ctx context.Context, eng *mimic.Engine, s *Scenario) (map[string]*mimic.Mock, error) {
	mocks := make(map[string]*mimic.Mock, len(s.Units))
	for _, u := range s.Units {
		opts, err := u.Options.options()
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}

		var m *mimic.Mock
		if u.Virtual {
			m, err = eng.NewVirtual(ctx, u.Name, opts...)
		} else {
			var mod *mimic.Module
			if mod, err = u.module(); err == nil {
				m, err = eng.New(ctx, mod, opts...)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		mocks[u.Name] = m

		for _, e := range u.Expect {
			if err := expectError(e.Error, program(ctx, m, e)); err != nil {
				return nil, fmt.Errorf("unit %s: expect %s/%d: %w", u.Name, e.Op, e.Arity, err)
			}
		}
	}
	return mocks, nil
}

func (u UnitSpec) module() (*mimic.Module, error) {
	mod := mimic.NewModule(u.Name)
	for _, e := range u.Exports {
		fn, err := e.Impl.Func()
		if err != nil {
			return nil, err
		}
		mod.Def(e.Op, e.Arity, fn)
	}
	for _, k := range u.Autogenerated {
		key, err := expect.ParseKey(k)
		if err != nil {
			return nil, err
		}
		mod.Autogenerated = append(mod.Autogenerated, key)
	}
	for _, k := range u.Builtins {
		key, err := expect.ParseKey(k)
		if err != nil {
			return nil, err
		}
		mod.Builtins = append(mod.Builtins, key)
	}
	return mod, nil
}

func (o OptionsSpec) options() ([]mimic.Option, error) {
	var opts []mimic.Option
	if o.Passthrough {
		opts = append(opts, mimic.WithPassthrough())
	}
	if o.Unrestricted {
		opts = append(opts, mimic.WithUnrestricted())
	}
	if o.Merge {
		opts = append(opts, mimic.WithMerge())
	}
	if o.DisableHistory {
		opts = append(opts, mimic.WithoutHistory())
	}
	if o.StubAll != nil {
		res, err := o.StubAll.Result()
		if err != nil {
			return nil, fmt.Errorf("stub_all: %w", err)
		}
		opts = append(opts, mimic.WithStubAll(res))
	}
	return opts, nil
}

func program(ctx context.Context, m *mimic.Mock, e ExpectSpec) error {
	clauses := make([]mimic.Clause, len(e.Clauses))
	for i, c := range e.Clauses {
		res, err := c.Rule.Result()
		if err != nil {
			return err
		}
		if c.Args == nil {
			clauses[i] = mimic.Always(res)
		} else {
			clauses[i] = mimic.When(matcher(c.Args), res)
		}
	}
	return m.ExpectClauses(ctx, e.Op, e.Arity, clauses...)
}

func (r *Runner) step(ctx context.Context, eng *mimic.Engine, mocks map[string]*mimic.Mock, st Step) error {
	switch {
	case st.Call != nil:
		return call(ctx, eng, *st.Call)

	case len(st.Concurrent) > 0:
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range st.Concurrent {
			g.Go(func() error {
				if err := call(gctx, eng, c); err != nil {
					return fmt.Errorf("concurrent[%d]: %w", i, err)
				}
				return nil
			})
		}
		return g.Wait()

	case st.Wait != nil:
		w := st.Wait
		timeout := r.waitTimeout
		if w.Timeout != nil {
			timeout = *w.Timeout
		}
		f := mimic.Filter{Op: w.Op, Args: matcher(w.Args), Caller: w.Caller}
		return expectError(w.Error, mocks[w.Unit].Wait(ctx, w.times(), f, timeout))

	case st.Expect != nil:
		return expectError(st.Expect.Error, program(ctx, mocks[st.Expect.Unit], *st.Expect))

	case st.Delete != nil:
		d := st.Delete
		m := mocks[d.Unit]
		var err error
		if d.Force {
			err = m.ForceDelete(ctx, d.Op, d.Arity)
		} else {
			err = m.Delete(ctx, d.Op, d.Arity)
		}
		return expectError(d.Error, err)

	default:
		return mocks[st.Reset].Reset(ctx)
	}
}

func call(ctx context.Context, eng *mimic.Engine, c CallStep) error {
	if c.Caller != "" {
		ctx = mimic.WithCaller(ctx, c.Caller)
	}
	got, err := eng.Call(ctx, c.Unit, c.Op, c.Args...)
	label := callLabel(c)
	switch {
	case c.Want != nil:
		if cerr := c.Want.Check(got, err); cerr != nil {
			return fmt.Errorf("%s: %w", label, cerr)
		}
		return nil
	case c.Error != "":
		if eerr := expectError(c.Error, err); eerr != nil {
			return fmt.Errorf("%s: %w", label, eerr)
		}
		return nil
	default:
		// Without want or error any outcome is accepted; the history check
		// still sees it.
		return nil
	}
}

func collect(ctx context.Context, m *mimic.Mock) UnitReport {
	ur := UnitReport{Name: m.Name()}
	records, err := m.History(ctx)
	if err != nil {
		ur.Err = err
		return ur
	}
	ur.Records = records
	ur.Lines = make([]string, len(records))
	for i, rec := range records {
		ur.Lines[i] = rec.String()
	}
	if ur.Valid, err = m.Validate(ctx); err != nil {
		ur.Err = err
	}
	ur.Stats = m.Stats()
	return ur
}

func check(h HistorySpec, ur *UnitReport) HistoryCheck {
	hc := HistoryCheck{Unit: h.Unit, Unordered: h.Unordered, Want: h.Lines}
	if ur == nil || ur.Err != nil {
		hc.Err = fmt.Errorf("history of %s unavailable", h.Unit)
		if ur != nil {
			hc.Err = fmt.Errorf("%w: %w", hc.Err, ur.Err)
		}
		return hc
	}
	hc.Got = ur.Lines

	want, got := hc.Want, hc.Got
	if h.Unordered {
		want, got = sorted(want), sorted(got)
	}
	hc.Diff = DiffLines(want, got)
	hc.Passed = !hc.Diff.Changed()
	return hc
}

func sorted(lines []string) []string {
	out := append([]string(nil), lines...)
	sort.Strings(out)
	return out
}

func (st Step) label() string {
	if st.Name != "" {
		return st.Name
	}
	switch {
	case st.Call != nil:
		return "call " + callLabel(*st.Call)
	case len(st.Concurrent) > 0:
		labels := make([]string, len(st.Concurrent))
		for i, c := range st.Concurrent {
			labels[i] = callLabel(c)
		}
		return "concurrent " + strings.Join(labels, ", ")
	case st.Wait != nil:
		op := st.Wait.Op
		if op == "" {
			op = "*"
		}
		return fmt.Sprintf("wait %s.%s", st.Wait.Unit, op)
	case st.Expect != nil:
		return fmt.Sprintf("expect %s.%s/%d", st.Expect.Unit, st.Expect.Op, st.Expect.Arity)
	case st.Delete != nil:
		return fmt.Sprintf("delete %s.%s/%d", st.Delete.Unit, st.Delete.Op, st.Delete.Arity)
	default:
		return "reset " + st.Reset
	}
}

func callLabel(c CallStep) string {
	return fmt.Sprintf("%s.%s/%d", c.Unit, c.Op, len(c.Args))
}
