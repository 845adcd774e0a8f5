package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/command"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/reload"
	"github.com/zjrosen/mimic/internal/mock/types"
)

// ===========================================================================
// Expectation Handlers
// ===========================================================================

func (a *Actor) handleSetExpect(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.SetExpectCommand)
	key := c.Expectation.Key

	if err := a.checkMockable(key); err != nil {
		return command.Fail(err), nil
	}
	return a.mutate(key, false, func() bool {
		return a.table.Store(c.Expectation, a.cfg.MergeOnSet)
	}), nil
}

func (a *Actor) handleDeleteExpect(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.DeleteExpectCommand)
	return a.mutate(c.Key, true, func() bool {
		return a.table.Delete(c.Key, a.cfg.PassthroughDefault, c.Force)
	}), nil
}

// checkMockable rejects keys that can never carry an expectation.
func (a *Actor) checkMockable(key expect.Key) error {
	switch {
	case a.module.IsAutogenerated(key):
		return fmt.Errorf("%s:%s: %w", a.name, key, types.ErrCannotMockAutogenerated)
	case a.module.IsBuiltin(key):
		return fmt.Errorf("%s:%s: %w", a.name, key, types.ErrCannotMockBuiltin)
	case a.cfg.restricted() && !a.module.Exposes(key):
		return fmt.Errorf("%s:%s: %w", a.name, key, types.ErrUndefinedFunction)
	}
	return nil
}

// mutate applies a table change under the reload protocol. apply reports
// whether the key set changed.
func (a *Actor) mutate(key expect.Key, deleted bool, apply func() bool) *command.CommandResult {
	if a.reload.InFlight() {
		if !a.cfg.concurrentMutationsAllowed() {
			a.metrics.MutationRejected()
			log.Debug(log.CatExpect, "mutation rejected during reload", "unit", a.name, "key", key.String())
			return command.Fail(fmt.Errorf("%s:%s: %w", a.name, key, types.ErrConcurrentReload))
		}
		apply()
		a.followUp = true
		a.queued = append(a.queued, a.takeReply())
		log.Debug(log.CatExpect, "mutation applied during reload, follow-up queued", "unit", a.name, "key", key.String())
		return a.deferred(key, deleted)
	}

	changed := apply()
	if a.cfg.fastPath(changed) {
		result := command.Ok(nil)
		result.Events = []any{a.changedEvent(key, deleted)}
		return result
	}

	a.pending = append(a.pending, a.takeReply())
	a.startReload()
	return a.deferred(key, deleted)
}

func (a *Actor) deferred(key expect.Key, deleted bool) *command.CommandResult {
	result := command.Deferred()
	result.Events = []any{a.changedEvent(key, deleted)}
	return result
}

func (a *Actor) changedEvent(key expect.Key, deleted bool) ExpectationsChanged {
	return ExpectationsChanged{Unit: a.name, Key: key, Deleted: deleted, Keys: a.table.Keys()}
}

func (a *Actor) startReload() {
	a.metrics.ReloadStarted()
	a.reload.Start(a.ctx, a.table.Snapshot())
}

func (a *Actor) handleListExpects(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.ListExpectsCommand)
	return command.Ok(a.table.List(c.ExcludePassthrough)), nil
}

// handleGetResultSpec selects the rule for one call. Seq and Loop rules
// advance here, so two identical calls may get different rules.
func (a *Actor) handleGetResultSpec(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.GetResultSpecCommand)
	key := c.Key()

	e, ok := a.table.Get(key)
	if !ok {
		return command.Fail(fmt.Errorf("%s:%s: %w", a.name, key, types.ErrNoMatchingClause)), nil
	}
	rule, ok := e.Next(c.Args)
	if !ok {
		return command.Fail(fmt.Errorf("%s:%s: %w", a.name, key, types.ErrNoMatchingClause)), nil
	}
	return command.Ok(rule), nil
}

// ===========================================================================
// Reload Handlers
// ===========================================================================

// handleReloadComplete ends the in-flight regeneration. Success or failure,
// the pending state is cleared and every deferred requester is answered.
func (a *Actor) handleReloadComplete(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.ReloadCompleteCommand)
	if !a.reload.Complete(reload.Outcome{Seq: c.Seq, Err: c.Err, Duration: c.Duration}) {
		return command.Ok(nil), nil
	}
	a.metrics.ReloadFinished(c.Duration, c.Err != nil)

	reply := command.Ok(nil)
	if c.Err != nil {
		a.valid = false
		reply = command.Fail(fmt.Errorf("%s: %w: %w", a.name, types.ErrReloadFailed, c.Err))
	}

	waiters := a.pending
	a.pending = nil
	for _, w := range waiters {
		w(reply)
	}

	events := []any{ReloadCompleted{Unit: a.name, Seq: c.Seq, Err: c.Err, Duration: c.Duration, Waiters: len(waiters)}}
	if c.Err != nil {
		events = append(events, Invalidated{Unit: a.name, Reason: "regeneration failed: " + c.Err.Error()})
	}

	if a.followUp {
		a.followUp = false
		a.pending = a.queued
		a.queued = nil
		a.startReload()
	}

	return &command.CommandResult{Success: true, Events: events}, nil
}

// ===========================================================================
// History Handlers
// ===========================================================================

func (a *Actor) handleGetHistory(_ context.Context, _ command.Command) (*command.CommandResult, error) {
	return command.Ok(a.history.Records()), nil
}

// handleAddHistory appends a record and runs one tracker evaluation pass.
func (a *Actor) handleAddHistory(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.AddHistoryCommand)

	retained := a.history.Append(c.Record)
	fired, expired := a.trackers.Evaluate(c.Record, time.Now())
	a.finishTrackers(fired, nil)
	a.finishTrackers(expired, types.ErrTimeout)

	result := command.Ok(nil)
	result.Events = []any{HistoryAppended{Unit: a.name, Record: c.Record, Retained: retained}}
	return result, nil
}

// handleWait answers at once when enough matching calls are already recorded.
// Otherwise a zero timeout fails immediately and a positive one installs a
// tracker with an absolute deadline.
func (a *Actor) handleWait(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.WaitCommand)
	now := time.Now()

	have := a.history.Count(c.Filter)
	if have >= c.Times {
		return command.Ok(nil), nil
	}
	if c.Timeout == 0 {
		return command.Fail(fmt.Errorf("%s: %d of %d calls: %w", a.name, have, c.Times, types.ErrTimeout)), nil
	}

	a.nextTracker++
	id := a.nextTracker
	reply := a.takeReply()
	t := history.NewTracker(id, c.Filter, c.Times-have, now.Add(c.Timeout), func(err error) {
		if err != nil {
			reply(command.Fail(fmt.Errorf("%s: %w", a.name, err)))
			return
		}
		reply(command.Ok(nil))
	})
	a.trackers.Add(t)
	a.timers[id] = time.AfterFunc(c.Timeout, a.signalExpiry)

	log.Debug(log.CatHistory, "tracker installed", "unit", a.name, "id", id, "countdown", t.Countdown, "timeout", c.Timeout)
	return command.Deferred(), nil
}

// signalExpiry wakes the run loop to drop expired trackers. Signals coalesce.
func (a *Actor) signalExpiry() {
	select {
	case a.expireCh <- struct{}{}:
	default:
	}
}

func (a *Actor) handleExpireTrackers(_ context.Context, _ command.Command) (*command.CommandResult, error) {
	expired := a.trackers.Expire(time.Now())
	a.finishTrackers(expired, types.ErrTimeout)
	return command.Ok(len(expired)), nil
}

func (a *Actor) finishTrackers(ts []*history.Tracker, err error) {
	for _, t := range ts {
		if timer, ok := a.timers[t.ID]; ok {
			timer.Stop()
			delete(a.timers, t.ID)
		}
		if err != nil {
			log.Debug(log.CatHistory, "tracker expired", "unit", a.name, "id", t.ID)
		} else {
			log.Debug(log.CatHistory, "tracker fired", "unit", a.name, "id", t.ID)
		}
		t.Complete(err)
	}
}

func (a *Actor) handleReset(_ context.Context, _ command.Command) (*command.CommandResult, error) {
	a.history.Reset()
	return command.Ok(nil), nil
}

// ===========================================================================
// Lifecycle Handlers
// ===========================================================================

func (a *Actor) handleValidate(_ context.Context, _ command.Command) (*command.CommandResult, error) {
	return command.Ok(a.valid), nil
}

func (a *Actor) handleInvalidate(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	c := cmd.(*command.InvalidateCommand)
	a.valid = false
	log.Warn(log.CatActor, "unit invalidated", "unit", a.name, "reason", c.Reason)

	result := command.Ok(nil)
	result.Events = []any{Invalidated{Unit: a.name, Reason: c.Reason}}
	return result, nil
}

// handleStop unmocks the unit. With a regeneration in flight the reply is
// deferred until it reports back and the original is restored.
func (a *Actor) handleStop(_ context.Context, _ command.Command) (*command.CommandResult, error) {
	if a.beginStop() {
		if err := a.restore(); err != nil {
			return command.Fail(err), nil
		}
		return command.Ok(nil), nil
	}
	a.stopReply = a.takeReply()
	return command.Deferred(), nil
}

// beginStop fails every outstanding waiter and marks the actor as stopping.
// It reports whether the original can be restored right away; otherwise the
// in-flight regeneration is asked to give up and the run loop waits for it.
func (a *Actor) beginStop() bool {
	a.stopping = true
	a.running.Store(false)
	notMocked := fmt.Errorf("%s: %w", a.name, types.ErrNotMocked)

	a.finishTrackers(a.trackers.Drain(), notMocked)
	for _, w := range append(a.pending, a.queued...) {
		w(command.Fail(notMocked))
	}
	a.pending, a.queued, a.followUp = nil, nil, false

	if a.reload.InFlight() {
		a.cancel()
		return false
	}
	return true
}

func (a *Actor) restore() error {
	if err := a.preserver.Restore(a.name, a.backup); err != nil {
		log.ErrorErr(log.CatActor, "restore failed", err, "unit", a.name)
		return fmt.Errorf("restore %s: %w", a.name, err)
	}
	return nil
}
