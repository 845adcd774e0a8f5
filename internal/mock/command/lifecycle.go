package command

import "time"

// ===========================================================================
// Lifecycle Commands
// ===========================================================================

// ValidateCommand reads the valid flag.
type ValidateCommand struct {
	*BaseCommand
}

// NewValidateCommand creates a new ValidateCommand.
func NewValidateCommand(source CommandSource) *ValidateCommand {
	base := NewBaseCommand(CmdValidate, source)
	return &ValidateCommand{BaseCommand: &base}
}

// InvalidateCommand marks the unit invalid.
type InvalidateCommand struct {
	*BaseCommand
	Reason string
}

// NewInvalidateCommand creates a new InvalidateCommand.
func NewInvalidateCommand(source CommandSource, reason string) *InvalidateCommand {
	base := NewBaseCommand(CmdInvalidate, source)
	return &InvalidateCommand{BaseCommand: &base, Reason: reason}
}

// ReloadCompleteCommand reports the end of regeneration Seq.
type ReloadCompleteCommand struct {
	*BaseCommand
	Seq      uint64
	Err      error
	Duration time.Duration
}

// NewReloadCompleteCommand creates a new ReloadCompleteCommand.
func NewReloadCompleteCommand(seq uint64, err error, d time.Duration) *ReloadCompleteCommand {
	base := NewBaseCommand(CmdReloadComplete, SourceInternal)
	return &ReloadCompleteCommand{BaseCommand: &base, Seq: seq, Err: err, Duration: d}
}

// StopCommand tears the actor down.
type StopCommand struct {
	*BaseCommand
}

// NewStopCommand creates a new StopCommand.
func NewStopCommand(source CommandSource) *StopCommand {
	base := NewBaseCommand(CmdStop, source)
	return &StopCommand{BaseCommand: &base}
}
