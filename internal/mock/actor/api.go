package actor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mimic/internal/mock/command"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/tracing"
)

type traceable interface {
	SetTraceID(string)
	SetSpanContext(trace.SpanContext)
}

// stamp copies trace information from ctx onto cmd.
func stamp(ctx context.Context, cmd command.Command) command.Command {
	if t, ok := cmd.(traceable); ok {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			t.SetSpanContext(sc)
			t.SetTraceID(sc.TraceID().String())
		} else if id := tracing.TraceIDFromContext(ctx); id != "" {
			t.SetTraceID(id)
		}
	}
	return cmd
}

func (a *Actor) call(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	result, err := a.SubmitAndWait(ctx, stamp(ctx, cmd))
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// SetExpect stores e, or merges it into the existing expectation when the
// unit merges on set. It returns once the installed code reflects the change.
func (a *Actor) SetExpect(ctx context.Context, e *expect.Expectation) error {
	if e == nil {
		return fmt.Errorf("%w: nil expectation", types.ErrBadArg)
	}
	_, err := a.call(ctx, command.NewSetExpectCommand(command.SourceClient, e.Clone()))
	return err
}

// DeleteExpect removes the expectation for key. Without force a passthrough
// unit keeps the key resolving to the original.
func (a *Actor) DeleteExpect(ctx context.Context, key expect.Key, force bool) error {
	_, err := a.call(ctx, command.NewDeleteExpectCommand(command.SourceClient, key, force))
	return err
}

// ListExpects returns the keys with an expectation, in key order.
func (a *Actor) ListExpects(ctx context.Context, excludePassthrough bool) ([]expect.Key, error) {
	result, err := a.call(ctx, command.NewListExpectsCommand(command.SourceClient, excludePassthrough))
	if err != nil {
		return nil, err
	}
	keys, _ := result.Data.([]expect.Key)
	return keys, nil
}

// History returns the recorded calls, oldest first.
func (a *Actor) History(ctx context.Context) ([]history.Record, error) {
	result, err := a.call(ctx, command.NewGetHistoryCommand(command.SourceClient))
	if err != nil {
		return nil, err
	}
	records, _ := result.Data.([]history.Record)
	return records, nil
}

// GetResultSpec selects the result rule for a call of op with args.
func (a *Actor) GetResultSpec(ctx context.Context, op string, args []any) (expect.Result, error) {
	result, err := a.call(ctx, command.NewGetResultSpecCommand(command.SourceInterceptor, op, args))
	if err != nil {
		return expect.Result{}, err
	}
	rule, _ := result.Data.(expect.Result)
	return rule, nil
}

// AddHistory appends rec without waiting for it to be processed. Records are
// dropped once the unit has stopped.
func (a *Actor) AddHistory(rec history.Record) {
	_ = a.post(command.NewAddRecordCommand(command.SourceInterceptor, rec))
}

// Wait blocks until times calls matching filter have been recorded. A zero
// timeout only checks calls already recorded.
func (a *Actor) Wait(ctx context.Context, times int, filter history.Filter, timeout time.Duration) error {
	_, err := a.call(ctx, command.NewWaitCommand(command.SourceClient, times, filter, timeout))
	return err
}

// Reset empties the history. Expectations and trackers are kept.
func (a *Actor) Reset(ctx context.Context) error {
	_, err := a.call(ctx, command.NewResetCommand(command.SourceClient))
	return err
}

// Validate reports whether every call so far matched an expectation and every
// regeneration succeeded.
func (a *Actor) Validate(ctx context.Context) (bool, error) {
	result, err := a.call(ctx, command.NewValidateCommand(command.SourceClient))
	if err != nil {
		return false, err
	}
	valid, _ := result.Data.(bool)
	return valid, nil
}

// Invalidate marks the unit invalid without waiting.
func (a *Actor) Invalidate(reason string) {
	_ = a.post(command.NewInvalidateCommand(command.SourceInterceptor, reason))
}

// Stop tears the unit down and restores the original. The unit refuses
// commands as soon as the stop is handled, but the original comes back only
// after an in-flight regeneration reports back. If ctx ends first Stop
// returns its error and the restore still happens later; Done tells when.
func (a *Actor) Stop(ctx context.Context) error {
	_, err := a.call(ctx, command.NewStopCommand(command.SourceClient))
	if err != nil {
		return err
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
