// Package reload runs regeneration tasks for a control actor. Each task gets
// an immutable snapshot of the expectation table, runs on its own goroutine,
// and reports completion on a channel the actor selects on.
package reload

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/codegen"
	"github.com/zjrosen/mimic/internal/mock/expect"
)

// Outcome is the completion signal of one regeneration task.
type Outcome struct {
	Seq      uint64
	Err      error
	Duration time.Duration
}

// Coordinator starts regeneration tasks for one unit. At most one task is
// in flight; Start and Complete are called from the owning actor goroutine only.
type Coordinator struct {
	unit    string
	gen     codegen.Generator
	results chan Outcome

	seq      uint64
	inflight bool
}

// NewCoordinator creates a coordinator for unitName.
func NewCoordinator(unitName string, gen codegen.Generator) *Coordinator {
	return &Coordinator{
		unit:    unitName,
		gen:     gen,
		results: make(chan Outcome, 1),
	}
}

// Results delivers task outcomes.
func (c *Coordinator) Results() <-chan Outcome {
	return c.results
}

// InFlight reports whether a task is running.
func (c *Coordinator) InFlight() bool {
	return c.inflight
}

// Start spawns a task generating code from snap. It returns the task's
// sequence number. Starting while a task is in flight is a programming error.
func (c *Coordinator) Start(ctx context.Context, snap expect.Snapshot) uint64 {
	if c.inflight {
		panic(fmt.Sprintf("reload: %s already has task %d in flight", c.unit, c.seq))
	}
	c.seq++
	c.inflight = true
	seq := c.seq

	log.Debug(log.CatReload, "regeneration started", "unit", c.unit, "seq", seq, "ops", snap.Len())

	go func() {
		start := time.Now()
		err := c.run(ctx, snap)
		// Buffered for the single in-flight task, so this never blocks.
		c.results <- Outcome{Seq: seq, Err: err, Duration: time.Since(start)}
	}()
	return seq
}

// Complete clears the in-flight state for outcome o. It reports false for an
// outcome that does not belong to the current task.
func (c *Coordinator) Complete(o Outcome) bool {
	if !c.inflight || o.Seq != c.seq {
		return false
	}
	c.inflight = false
	if o.Err != nil {
		log.Warn(log.CatReload, "regeneration failed", "unit", c.unit, "seq", o.Seq, "duration", o.Duration, "error", o.Err)
	} else {
		log.Debug(log.CatReload, "regeneration completed", "unit", c.unit, "seq", o.Seq, "duration", o.Duration)
	}
	return true
}

// run executes the generator, converting a panic into an error.
func (c *Coordinator) run(ctx context.Context, snap expect.Snapshot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("generator panicked: %v", p)
		}
	}()
	_, err = c.gen.Generate(ctx, c.unit, snap)
	return err
}
