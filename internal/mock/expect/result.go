package expect

import (
	"context"
	"errors"
	"fmt"
)

// Func is the shape of every callable operation: the original implementation,
// a user-supplied fake, or a generated interceptor.
type Func func(ctx context.Context, args []any) (any, error)

// ResultKind selects how a result rule produces the call outcome.
type ResultKind int

const (
	ResultValue ResultKind = iota
	ResultRaise
	ResultPassthrough
	ResultFunc
	ResultSeq
	ResultLoop
)

func (k ResultKind) String() string {
	switch k {
	case ResultValue:
		return "value"
	case ResultRaise:
		return "raise"
	case ResultPassthrough:
		return "passthrough"
	case ResultFunc:
		return "func"
	case ResultSeq:
		return "seq"
	case ResultLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Result is a result rule. Seq and Loop rules are stateful: every time the
// actor hands one out it advances to the next position.
type Result struct {
	kind   ResultKind
	value  any
	class  string
	reason string
	fn     Func
	rules  []Result
	pos    int
}

// Val returns value.
func Val(value any) Result {
	return Result{kind: ResultValue, value: value}
}

// Raise makes the call fail with an expected exception of the given kind.
func Raise(kind, reason string) Result {
	return Result{kind: ResultRaise, class: kind, reason: reason}
}

// Passthrough delegates the call to the original implementation.
func Passthrough() Result {
	return Result{kind: ResultPassthrough}
}

// Exec runs fn on the caller's goroutine.
func Exec(fn Func) Result {
	return Result{kind: ResultFunc, fn: fn}
}

// Seq hands out rules in order and keeps repeating the last one.
func Seq(rules ...Result) Result {
	return Result{kind: ResultSeq, rules: rules}
}

// Loop hands out rules in order and starts over after the last one.
func Loop(rules ...Result) Result {
	return Result{kind: ResultLoop, rules: rules}
}

// Kind reports the rule kind.
func (r Result) Kind() ResultKind { return r.kind }

// Value is the returned value of a ResultValue rule.
func (r Result) Value() any { return r.value }

// RaiseKind is the exception kind of a ResultRaise rule.
func (r Result) RaiseKind() string { return r.class }

// RaiseReason is the exception reason of a ResultRaise rule.
func (r Result) RaiseReason() string { return r.reason }

// Func is the user function of a ResultFunc rule.
func (r Result) Func() Func { return r.fn }

// IsPassthrough reports whether the rule delegates to the original.
func (r Result) IsPassthrough() bool { return r.kind == ResultPassthrough }

// Stateful reports whether handing the rule out changes it.
func (r Result) Stateful() bool {
	return r.kind == ResultSeq || r.kind == ResultLoop
}

func (r Result) String() string {
	switch r.kind {
	case ResultValue:
		return fmt.Sprintf("val(%v)", r.value)
	case ResultRaise:
		return fmt.Sprintf("raise(%s, %s)", r.class, r.reason)
	case ResultSeq, ResultLoop:
		return fmt.Sprintf("%s(%d rules, at %d)", r.kind, len(r.rules), r.pos)
	default:
		return r.kind.String()
	}
}

// Validate checks the rule can be handed out.
func (r Result) Validate() error {
	switch r.kind {
	case ResultValue, ResultPassthrough:
		return nil
	case ResultRaise:
		if r.class == "" {
			return errors.New("raise requires a kind")
		}
		return nil
	case ResultFunc:
		if r.fn == nil {
			return errors.New("exec requires a function")
		}
		return nil
	case ResultSeq, ResultLoop:
		if len(r.rules) == 0 {
			return fmt.Errorf("%s requires at least one rule", r.kind)
		}
		for i, rule := range r.rules {
			if rule.Stateful() {
				return fmt.Errorf("%s rule %d: nested %s is not supported", r.kind, i, rule.kind)
			}
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("%s rule %d: %w", r.kind, i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown result kind %d", r.kind)
	}
}

// advance returns the concrete rule to use now and the rule to store for the next call.
func (r Result) advance() (current Result, next Result) {
	switch r.kind {
	case ResultSeq:
		if len(r.rules) <= 1 {
			return r.rules[0], r
		}
		return r.rules[0], Result{kind: ResultSeq, rules: r.rules[1:]}
	case ResultLoop:
		current = r.rules[r.pos]
		next = r
		next.pos = (r.pos + 1) % len(r.rules)
		return current, next
	default:
		return r, r
	}
}
