// Package types provides shared error sentinels and handler contracts for the
// mocking engine. It sits below every other mock package to avoid import cycles.
package types

import "errors"

// ===========================================================================
// Addressing Errors
// ===========================================================================

// ErrNotMocked is returned when the addressed unit has no live actor.
var ErrNotMocked = errors.New("unit is not mocked")

// ErrAlreadyMocked is returned when starting a second actor for the same unit.
var ErrAlreadyMocked = errors.New("unit is already mocked")

// ===========================================================================
// Mutation Errors
// ===========================================================================

// ErrConcurrentReload is returned when a mutation arrives while a regeneration
// is still in flight. Callers retry.
var ErrConcurrentReload = errors.New("concurrent reload in progress")

// ErrReloadFailed is returned to a deferred mutator whose regeneration failed.
var ErrReloadFailed = errors.New("regeneration failed")

// ===========================================================================
// Validation Errors
// ===========================================================================

// ErrCannotMockAutogenerated is returned for bookkeeping operations generated by the toolchain.
var ErrCannotMockAutogenerated = errors.New("cannot mock autogenerated operation")

// ErrCannotMockBuiltin is returned for operations intrinsic to the runtime.
var ErrCannotMockBuiltin = errors.New("cannot mock builtin operation")

// ErrUndefinedFunction is returned when a restricted unit does not expose the operation.
var ErrUndefinedFunction = errors.New("undefined function")

// ErrBadArg is returned for malformed actor configuration.
var ErrBadArg = errors.New("bad argument")

// ===========================================================================
// Call Errors
// ===========================================================================

// ErrNoMatchingClause is returned when a call arrives for which no behavior is defined.
var ErrNoMatchingClause = errors.New("no matching clause")

// ErrTimeout is returned when a wait deadline passes before enough matching calls.
var ErrTimeout = errors.New("timeout")

// ===========================================================================
// Processor Errors
// ===========================================================================

// ErrUnknownCommandType is returned when no handler is registered for a command type.
var ErrUnknownCommandType = errors.New("unknown command type")

// ErrProcessorNotRunning is returned when submitting to a stopped actor.
var ErrProcessorNotRunning = errors.New("actor is not running")

// ErrQueueFull is returned when the mailbox has reached capacity.
var ErrQueueFull = errors.New("mailbox is full")
