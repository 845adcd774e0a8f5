// Package command defines the requests a control actor accepts: the Command
// interface, CommandType routing constants, BaseCommand, and CommandResult.
package command

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Command is one request addressed to a control actor.
type Command interface {
	// ID returns unique command identifier for tracing/correlation
	ID() string
	// Type returns the command type for routing to handlers
	Type() CommandType
	// Validate checks command preconditions before execution
	Validate() error
	// CreatedAt returns when command was created
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
type CommandType string

const (
	// Expectation Commands

	// CmdSetExpect stores or merges an expectation.
	CmdSetExpect CommandType = "set_expect"
	// CmdDeleteExpect removes an expectation, or resets it to passthrough.
	CmdDeleteExpect CommandType = "delete_expect"
	// CmdListExpects lists the defined keys.
	CmdListExpects CommandType = "list_expects"
	// CmdGetResultSpec selects the result rule for an intercepted call.
	CmdGetResultSpec CommandType = "get_result_spec"

	// History Commands

	// CmdGetHistory reads the history oldest-first.
	CmdGetHistory CommandType = "get_history"
	// CmdAddHistory appends a record and evaluates trackers.
	CmdAddHistory CommandType = "add_history"
	// CmdWait blocks until enough matching calls are recorded.
	CmdWait CommandType = "wait"
	// CmdReset empties the history.
	CmdReset CommandType = "reset"
	// CmdExpireTrackers drops trackers whose deadline has passed.
	CmdExpireTrackers CommandType = "expire_trackers"

	// Lifecycle Commands

	// CmdValidate reports whether the installed code still matches the actor's view.
	CmdValidate CommandType = "validate"
	// CmdInvalidate marks the unit invalid.
	CmdInvalidate CommandType = "invalidate"
	// CmdReloadComplete reports the outcome of a regeneration task.
	CmdReloadComplete CommandType = "reload_complete"
	// CmdStop tears the actor down.
	CmdStop CommandType = "stop"
)

// String returns the string representation of the CommandType.
func (ct CommandType) String() string {
	return string(ct)
}

// Mutating reports whether the command changes the expectation table.
func (ct CommandType) Mutating() bool {
	return ct == CmdSetExpect || ct == CmdDeleteExpect
}

// CommandSource identifies where the command originated.
type CommandSource string

const (
	// SourceClient indicates the command came from test code through the public API.
	SourceClient CommandSource = "client"
	// SourceInterceptor indicates the command came from installed interceptor code.
	SourceInterceptor CommandSource = "interceptor"
	// SourceInternal indicates the command was generated by the actor itself.
	SourceInternal CommandSource = "internal"
	// SourceScenario indicates the command came from the scenario runner.
	SourceScenario CommandSource = "scenario"
)

// String returns the string representation of the CommandSource.
func (cs CommandSource) String() string {
	return string(cs)
}

// BaseCommand provides common fields for all commands.
// Concrete command types should embed this struct.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	createdAt   time.Time
	source      CommandSource
	traceID     string
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated UUID and current timestamp.
func NewBaseCommand(cmdType CommandType, source CommandSource) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

// ID returns the unique command identifier.
func (b *BaseCommand) ID() string {
	return b.id
}

// Type returns the command type for handler routing.
func (b *BaseCommand) Type() CommandType {
	return b.cmdType
}

// CreatedAt returns when the command was created.
func (b *BaseCommand) CreatedAt() time.Time {
	return b.createdAt
}

// Source returns the origin of this command.
func (b *BaseCommand) Source() CommandSource {
	return b.source
}

// TraceID returns the correlation ID for related commands.
// If a valid SpanContext is set, the trace ID is derived from it.
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return b.traceID
}

// SetTraceID sets the correlation ID for command tracing.
func (b *BaseCommand) SetTraceID(traceID string) {
	b.traceID = traceID
}

// SpanContext returns the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SpanContext() trace.SpanContext {
	return b.spanContext
}

// SetSpanContext sets the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) {
	b.spanContext = sc
}

// Validate is a no-op for BaseCommand. Concrete commands should override this.
func (b *BaseCommand) Validate() error {
	return nil
}

// CommandResult contains the outcome of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool
	// Deferred means the handler kept the reply and will answer later,
	// after a regeneration completes or a tracker fires.
	Deferred bool
	// Events contains domain events to publish.
	Events []any
	// Error contains the error if Success is false.
	Error error
	// Data contains optional result data for the caller.
	Data any
}

// Ok builds a successful result carrying data.
func Ok(data any) *CommandResult {
	return &CommandResult{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(err error) *CommandResult {
	return &CommandResult{Success: false, Error: err}
}

// Deferred builds the result of a handler that answers later.
func Deferred() *CommandResult {
	return &CommandResult{Success: true, Deferred: true}
}

// Err returns the error carried by r, if any.
func (r *CommandResult) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return r.Error
}
