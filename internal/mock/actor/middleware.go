package actor

import (
	"context"
	"time"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/command"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/pubsub"
)

// DefaultSlowHandlerThreshold is the default threshold for logging slow handlers.
const DefaultSlowHandlerThreshold = 100 * time.Millisecond

type traced interface{ TraceID() string }

type sourced interface{ Source() command.CommandSource }

func traceIDOf(cmd command.Command) string {
	if t, ok := cmd.(traced); ok {
		return t.TraceID()
	}
	return ""
}

func sourceOf(cmd command.Command) command.CommandSource {
	if s, ok := cmd.(sourced); ok {
		return s.Source()
	}
	return ""
}

// ===========================================================================
// Logging Middleware
// ===========================================================================

// NewLoggingMiddleware logs every command once its handler returns.
func NewLoggingMiddleware(unitName string) types.Middleware {
	return func(next types.CommandHandler) types.CommandHandler {
		return types.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			fields := []any{
				"unit", unitName,
				"command_id", cmd.ID(),
				"command_type", cmd.Type().String(),
				"trace_id", traceIDOf(cmd),
				"source", sourceOf(cmd).String(),
				"duration", duration,
			}

			switch {
			case err != nil:
				log.ErrorErr(log.CatActor, "command failed", err, fields...)
			case result != nil && !result.Success:
				errMsg := ""
				if result.Error != nil {
					errMsg = result.Error.Error()
				}
				log.Debug(log.CatActor, "command rejected", append(fields, "error", errMsg)...)
			case result != nil && result.Deferred:
				log.Debug(log.CatActor, "command deferred", fields...)
			default:
				log.Debug(log.CatActor, "command completed", fields...)
			}
			return result, err
		})
	}
}

// ===========================================================================
// Command Log Middleware
// ===========================================================================

// NewCommandLogMiddleware publishes a CommandLogEvent for each processed
// command. It does nothing when bus is nil.
func NewCommandLogMiddleware(unitName string, bus *pubsub.Broker[any]) types.Middleware {
	return func(next types.CommandHandler) types.CommandHandler {
		if bus == nil {
			return next
		}
		return types.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			event := CommandLogEvent{
				Unit:        unitName,
				CommandID:   cmd.ID(),
				CommandType: cmd.Type(),
				Source:      sourceOf(cmd),
				Success:     err == nil && result != nil && result.Success,
				Deferred:    result != nil && result.Deferred,
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
				TraceID:     traceIDOf(cmd),
			}
			if err != nil {
				event.Error = err
			} else if result != nil {
				event.Error = result.Error
			}
			bus.Publish(pubsub.UpdatedEvent, event)

			return result, err
		})
	}
}

// ===========================================================================
// Timeout Middleware
// ===========================================================================

// NewTimeoutMiddleware logs handlers that take longer than threshold. It
// never aborts a handler; a half-applied mutation would be worse than a slow one.
func NewTimeoutMiddleware(threshold time.Duration) types.Middleware {
	if threshold <= 0 {
		threshold = DefaultSlowHandlerThreshold
	}
	return func(next types.CommandHandler) types.CommandHandler {
		return types.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			if duration := time.Since(start); duration > threshold {
				log.Warn(log.CatActor, "handler exceeded time threshold",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"threshold", threshold,
				)
			}
			return result, err
		})
	}
}
