package command

import (
	"errors"
	"fmt"

	"github.com/zjrosen/mimic/internal/mock/expect"
)

// ===========================================================================
// Expectation Commands
// ===========================================================================

// SetExpectCommand stores or merges an expectation.
type SetExpectCommand struct {
	*BaseCommand
	Expectation *expect.Expectation
}

// NewSetExpectCommand creates a new SetExpectCommand.
func NewSetExpectCommand(source CommandSource, e *expect.Expectation) *SetExpectCommand {
	base := NewBaseCommand(CmdSetExpect, source)
	return &SetExpectCommand{BaseCommand: &base, Expectation: e}
}

// Validate checks the expectation is well formed.
func (c *SetExpectCommand) Validate() error {
	if c.Expectation == nil {
		return errors.New("expectation is required")
	}
	return c.Expectation.Validate()
}

// DeleteExpectCommand removes an expectation.
type DeleteExpectCommand struct {
	*BaseCommand
	Key   expect.Key
	Force bool // Remove even when the unit defaults to passthrough
}

// NewDeleteExpectCommand creates a new DeleteExpectCommand.
func NewDeleteExpectCommand(source CommandSource, key expect.Key, force bool) *DeleteExpectCommand {
	base := NewBaseCommand(CmdDeleteExpect, source)
	return &DeleteExpectCommand{BaseCommand: &base, Key: key, Force: force}
}

// Validate checks that Key is set.
func (c *DeleteExpectCommand) Validate() error {
	if c.Key.Name == "" {
		return errors.New("operation name is required")
	}
	if c.Key.Arity < 0 {
		return fmt.Errorf("negative arity %d", c.Key.Arity)
	}
	return nil
}

// ListExpectsCommand lists the defined keys.
type ListExpectsCommand struct {
	*BaseCommand
	ExcludePassthrough bool
}

// NewListExpectsCommand creates a new ListExpectsCommand.
func NewListExpectsCommand(source CommandSource, excludePassthrough bool) *ListExpectsCommand {
	base := NewBaseCommand(CmdListExpects, source)
	return &ListExpectsCommand{BaseCommand: &base, ExcludePassthrough: excludePassthrough}
}

// GetResultSpecCommand asks for the result rule of one call.
type GetResultSpecCommand struct {
	*BaseCommand
	Op   string
	Args []any
}

// NewGetResultSpecCommand creates a new GetResultSpecCommand.
func NewGetResultSpecCommand(source CommandSource, op string, args []any) *GetResultSpecCommand {
	base := NewBaseCommand(CmdGetResultSpec, source)
	return &GetResultSpecCommand{BaseCommand: &base, Op: op, Args: args}
}

// Validate checks that Op is set.
func (c *GetResultSpecCommand) Validate() error {
	if c.Op == "" {
		return errors.New("operation name is required")
	}
	return nil
}

// Key returns the (operation, arity) the call resolves to.
func (c *GetResultSpecCommand) Key() expect.Key {
	return expect.K(c.Op, len(c.Args))
}
