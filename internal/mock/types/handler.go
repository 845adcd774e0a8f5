package types

import (
	"context"

	"github.com/zjrosen/mimic/internal/mock/command"
)

// CommandHandler executes one command on the actor goroutine.
// Failures are reported either as a returned error or as a CommandResult
// with Success=false; the actor treats both the same way.
type CommandHandler interface {
	Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd command.Command) (*command.CommandResult, error)

// Handle calls f(ctx, cmd).
func (f HandlerFunc) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	return f(ctx, cmd)
}

// Middleware wraps a CommandHandler to add cross-cutting behavior.
type Middleware func(CommandHandler) CommandHandler

// ChainMiddleware applies middlewares in reverse order so the first one
// listed is the outermost wrapper: Chain(h, a, b) is a(b(h)).
func ChainMiddleware(handler CommandHandler, middlewares ...Middleware) CommandHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
