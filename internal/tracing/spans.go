package tracing

// Span attribute keys.
const (
	// Command attributes
	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"

	// Unit attributes
	AttrUnit       = "mock.unit"
	AttrOperation  = "mock.operation"
	AttrReloadSeq  = "mock.reload.seq"
	AttrDeferred   = "mock.deferred"
	AttrRunID      = "scenario.run_id"
	AttrScenario   = "scenario.name"
	AttrCallStatus = "scenario.call.status"

	// Error attributes
	AttrErrorMessage = "error.message"
)

// Span name prefixes.
const (
	SpanPrefixCommand  = "actor.command."
	SpanPrefixScenario = "scenario."
)

// Event names for span events.
const (
	EventReplyDeferred = "reply.deferred"
)
