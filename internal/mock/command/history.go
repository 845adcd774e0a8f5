package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/mimic/internal/mock/history"
)

// ===========================================================================
// History Commands
// ===========================================================================

// GetHistoryCommand reads the history.
type GetHistoryCommand struct {
	*BaseCommand
}

// NewGetHistoryCommand creates a new GetHistoryCommand.
func NewGetHistoryCommand(source CommandSource) *GetHistoryCommand {
	base := NewBaseCommand(CmdGetHistory, source)
	return &GetHistoryCommand{BaseCommand: &base}
}

// AddHistoryCommand appends a completed call. It carries either a returned
// value or an exception.
type AddHistoryCommand struct {
	*BaseCommand
	Record history.Record
}

// NewAddHistoryCommand records a call that returned value.
func NewAddHistoryCommand(source CommandSource, caller string, call history.Call, value any) *AddHistoryCommand {
	return newAddHistory(source, history.Record{Caller: caller, Call: call, Outcome: history.Returned(value)})
}

// NewAddHistoryExceptionCommand records a call that raised exc.
func NewAddHistoryExceptionCommand(source CommandSource, caller string, call history.Call, exc *history.Exception) *AddHistoryCommand {
	return newAddHistory(source, history.Record{Caller: caller, Call: call, Outcome: history.Raised(exc)})
}

// NewAddRecordCommand appends a record built by the caller. A zero At is
// stamped with the command's creation time.
func NewAddRecordCommand(source CommandSource, r history.Record) *AddHistoryCommand {
	return newAddHistory(source, r)
}

func newAddHistory(source CommandSource, r history.Record) *AddHistoryCommand {
	base := NewBaseCommand(CmdAddHistory, source)
	if r.At.IsZero() {
		r.At = base.CreatedAt()
	}
	return &AddHistoryCommand{BaseCommand: &base, Record: r}
}

// Validate checks that the call names an operation.
func (c *AddHistoryCommand) Validate() error {
	if c.Record.Call.Op == "" {
		return errors.New("operation name is required")
	}
	return nil
}

// WaitCommand blocks until Times matching calls are recorded or Timeout elapses.
// A zero Timeout only checks the calls already recorded.
type WaitCommand struct {
	*BaseCommand
	Times   int
	Filter  history.Filter
	Timeout time.Duration
}

// NewWaitCommand creates a new WaitCommand.
func NewWaitCommand(source CommandSource, times int, filter history.Filter, timeout time.Duration) *WaitCommand {
	base := NewBaseCommand(CmdWait, source)
	return &WaitCommand{BaseCommand: &base, Times: times, Filter: filter, Timeout: timeout}
}

// Validate checks Times and Timeout are not negative.
func (c *WaitCommand) Validate() error {
	if c.Times < 0 {
		return fmt.Errorf("times must not be negative, got %d", c.Times)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// ResetCommand empties the history.
type ResetCommand struct {
	*BaseCommand
}

// NewResetCommand creates a new ResetCommand.
func NewResetCommand(source CommandSource) *ResetCommand {
	base := NewBaseCommand(CmdReset, source)
	return &ResetCommand{BaseCommand: &base}
}

// ExpireTrackersCommand drops trackers whose deadline has passed.
type ExpireTrackersCommand struct {
	*BaseCommand
}

// NewExpireTrackersCommand creates a new ExpireTrackersCommand.
func NewExpireTrackersCommand() *ExpireTrackersCommand {
	base := NewBaseCommand(CmdExpireTrackers, SourceInternal)
	return &ExpireTrackersCommand{BaseCommand: &base}
}
