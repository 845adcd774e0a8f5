package codegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/types"
)

// interceptor returns the installed function for key. It runs on the
// caller's goroutine; only the rule lookup and the history append go through
// the actor.
func (c *Compiler) interceptor(unitName string, key expect.Key) expect.Func {
	return func(ctx context.Context, args []any) (any, error) {
		backend, err := c.resolver.Resolve(unitName)
		if err != nil {
			return nil, fmt.Errorf("%s:%s: %w", unitName, key, err)
		}

		call := history.Call{Unit: unitName, Op: key.Name, Args: args}
		inv := invocation{backend: backend, call: call, caller: history.CallerFrom(ctx)}

		rule, err := backend.GetResultSpec(ctx, key.Name, args)
		if err != nil {
			if !errors.Is(err, types.ErrNoMatchingClause) {
				return nil, err
			}
			exc := history.FunctionClause(1)
			backend.Invalidate("no clause matches " + call.String())
			inv.record(history.Raised(exc))
			return nil, fmt.Errorf("%s: %w", call, err)
		}

		return c.exec(ctx, inv, key, rule)
	}
}

type invocation struct {
	backend recorder
	call    history.Call
	caller  string
}

// recorder is the part of Backend an invocation needs after the rule lookup.
type recorder interface {
	AddHistory(rec history.Record)
	Invalidate(reason string)
}

func (inv invocation) record(o history.Outcome) {
	inv.backend.AddHistory(history.Record{
		Caller:  inv.caller,
		Call:    inv.call,
		Outcome: o,
		At:      time.Now(),
	})
}

func (c *Compiler) exec(ctx context.Context, inv invocation, key expect.Key, rule expect.Result) (any, error) {
	switch rule.Kind() {
	case expect.ResultValue:
		inv.record(history.Returned(rule.Value()))
		return rule.Value(), nil

	case expect.ResultRaise:
		exc := history.NewException(rule.RaiseKind(), rule.RaiseReason(), 1)
		inv.record(history.Raised(exc))
		return nil, exc

	case expect.ResultPassthrough:
		original, ok := c.target.Original(inv.call.Unit, key)
		if !ok {
			exc := history.NewException("error", "undef", 1)
			inv.record(history.Raised(exc))
			return nil, fmt.Errorf("%s: %w", inv.call, types.ErrUndefinedFunction)
		}
		return inv.run(ctx, original, false)

	case expect.ResultFunc:
		return inv.run(ctx, rule.Func(), true)

	default:
		// Seq and Loop are resolved to a concrete rule by the actor.
		exc := history.NewException("error", "bad_result_rule", 1)
		inv.record(history.Raised(exc))
		return nil, fmt.Errorf("%s: unexpected %s rule", inv.call, rule.Kind())
	}
}

// run calls fn and records its outcome. A returned error is an expected
// exception. A panic from a user function is not: it also invalidates the unit.
func (inv invocation) run(ctx context.Context, fn expect.Func, user bool) (result any, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		exc := &history.Exception{Kind: "panic", Reason: fmt.Sprint(p), Trace: history.CaptureTrace(2)}
		if user {
			log.Warn(log.CatCodegen, "user function panicked", "call", inv.call.String(), "panic", exc.Reason)
			inv.backend.Invalidate("panic in " + inv.call.String())
		}
		inv.record(history.Raised(exc))
		result, err = nil, exc
	}()

	v, err := fn(ctx, inv.call.Args)
	if err != nil {
		var exc *history.Exception
		if !errors.As(err, &exc) {
			exc = &history.Exception{Kind: "error", Reason: err.Error()}
		}
		inv.record(history.Raised(exc))
		return nil, err
	}
	inv.record(history.Returned(v))
	return v, nil
}
