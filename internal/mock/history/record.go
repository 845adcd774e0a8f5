// Package history records completed calls of a mocked unit and the wait
// trackers evaluated against each new record.
package history

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/zjrosen/mimic/internal/mock/expect"
)

// Call is the signature of one invocation.
type Call struct {
	Unit string
	Op   string
	Args []any
}

// Key returns the (operation, arity) pair of the call.
func (c Call) Key() expect.Key {
	return expect.K(c.Op, len(c.Args))
}

func (c Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = fmt.Sprintf("%#v", a)
	}
	return fmt.Sprintf("%s.%s(%s)", c.Unit, c.Op, strings.Join(parts, ", "))
}

// Exception describes a call that failed instead of returning.
type Exception struct {
	Kind   string
	Reason string
	Trace  []string
}

// NewException builds an exception with a trace of the calling goroutine.
// skip counts frames above the caller of NewException to leave out.
func NewException(kind, reason string, skip int) *Exception {
	return &Exception{Kind: kind, Reason: reason, Trace: CaptureTrace(skip + 1)}
}

func (e *Exception) Error() string {
	return e.Kind + ":" + e.Reason
}

// FunctionClause is the exception recorded when no clause matches a call.
func FunctionClause(skip int) *Exception {
	return NewException("error", "function_clause", skip+1)
}

// Outcome is either a returned value or an exception.
type Outcome struct {
	Value     any
	Exception *Exception
}

// Returned builds a value outcome.
func Returned(v any) Outcome {
	return Outcome{Value: v}
}

// Raised builds an exception outcome.
func Raised(e *Exception) Outcome {
	return Outcome{Exception: e}
}

// IsException reports whether the call failed.
func (o Outcome) IsException() bool {
	return o.Exception != nil
}

func (o Outcome) String() string {
	if o.Exception != nil {
		return "raise " + o.Exception.Error()
	}
	return fmt.Sprintf("%#v", o.Value)
}

// Record is one completed call. Records are never modified after append.
type Record struct {
	Caller  string
	Call    Call
	Outcome Outcome
	At      time.Time
}

// String renders the record on one line, without the timestamp, so rendered
// histories of equivalent runs compare equal.
func (r Record) String() string {
	caller := r.Caller
	if caller == "" {
		caller = "-"
	}
	return fmt.Sprintf("%s %s -> %s", caller, r.Call, r.Outcome)
}

// CaptureTrace returns "function file:line" frames of the calling goroutine.
func CaptureTrace(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var out []string
	for {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}
	return out
}

type callerKey struct{}

// WithCaller tags ctx with the identity recorded for calls made under it.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller identity set by WithCaller, or "".
func CallerFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}
