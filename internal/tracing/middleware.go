package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mimic/internal/mock/command"
	"github.com/zjrosen/mimic/internal/mock/types"
)

// MiddlewareConfig configures the tracing middleware.
type MiddlewareConfig struct {
	// Tracer creates the spans. A nil Tracer makes the middleware a pass-through.
	Tracer trace.Tracer
	// Unit is recorded on every span.
	Unit string
}

// NewMiddleware creates a middleware that wraps every command in a span.
// A command carrying a span context becomes a child of it.
func NewMiddleware(cfg MiddlewareConfig) types.Middleware {
	if cfg.Tracer == nil {
		return func(next types.CommandHandler) types.CommandHandler {
			return next
		}
	}

	return func(next types.CommandHandler) types.CommandHandler {
		return types.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			ctx = restoreSpanContext(ctx, cmd)

			ctx, span := cfg.Tracer.Start(ctx, SpanPrefixCommand+cmd.Type().String(),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrCommandID, cmd.ID()),
				attribute.String(AttrCommandType, cmd.Type().String()),
				attribute.String(AttrUnit, cfg.Unit),
			)
			if hasSource, ok := cmd.(interface{ Source() command.CommandSource }); ok {
				span.SetAttributes(attribute.String(AttrCommandSource, hasSource.Source().String()))
			}

			result, err := next.Handle(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && !result.Success:
				if result.Error != nil {
					span.RecordError(result.Error)
					span.SetStatus(codes.Error, result.Error.Error())
				} else {
					span.SetStatus(codes.Error, "command failed without error details")
				}
			case result != nil && result.Deferred:
				span.AddEvent(EventReplyDeferred)
				span.SetAttributes(attribute.Bool(AttrDeferred, true))
				span.SetStatus(codes.Ok, "")
			default:
				span.SetStatus(codes.Ok, "")
			}

			return result, err
		})
	}
}

// restoreSpanContext makes spans children of the span context a command carries.
func restoreSpanContext(ctx context.Context, cmd command.Command) context.Context {
	if hasSpanContext, ok := cmd.(interface{ SpanContext() trace.SpanContext }); ok {
		if sc := hasSpanContext.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}
