// Package actor implements the control actor of a mocked unit. One goroutine
// per unit owns the expectation table, the history, and the wait trackers,
// and handles commands from a FIFO mailbox one at a time. Regeneration runs
// on a separate task; while it is in flight the actor keeps answering reads
// and rejects mutations instead of blocking.
package actor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/metrics"
	"github.com/zjrosen/mimic/internal/mock/codegen"
	"github.com/zjrosen/mimic/internal/mock/command"
	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/history"
	"github.com/zjrosen/mimic/internal/mock/reload"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/mock/unit"
	"github.com/zjrosen/mimic/internal/pubsub"
	"github.com/zjrosen/mimic/internal/tracing"
)

var _ codegen.Backend = (*Actor)(nil)

// DefaultQueueCapacity is the default buffer size of the mailbox.
const DefaultQueueCapacity = 1000

// Preserver saves the original implementation of a unit at start and puts it
// back at teardown.
type Preserver interface {
	Backup(unitName string) (unit.Handle, error)
	Restore(unitName string, h unit.Handle) error
}

// Option configures the Actor.
type Option func(*Actor)

// WithQueueCapacity sets the mailbox buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(a *Actor) {
		a.queueCapacity = capacity
	}
}

// WithEventBus sets the broker domain events are published on.
func WithEventBus(bus *pubsub.Broker[any]) Option {
	return func(a *Actor) {
		a.eventBus = bus
	}
}

// WithTracer wraps every command in a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Actor) {
		a.tracer = tracer
	}
}

// WithSlowHandlerThreshold sets when a handler is logged as slow.
func WithSlowHandlerThreshold(d time.Duration) Option {
	return func(a *Actor) {
		a.slowThreshold = d
	}
}

// WithMiddleware adds middleware inside the built-in chain.
// Middleware is applied in order: first middleware wraps outermost.
func WithMiddleware(middlewares ...types.Middleware) Option {
	return func(a *Actor) {
		a.middlewares = append(a.middlewares, middlewares...)
	}
}

// Actor is the control actor of one mocked unit.
type Actor struct {
	name      string
	module    *unit.Module
	cfg       Config
	gen       codegen.Generator
	preserver Preserver

	queue         chan queueItem
	queueCapacity int
	handlers      map[command.CommandType]types.CommandHandler
	middlewares   []types.Middleware
	eventBus      *pubsub.Broker[any]
	tracer        trace.Tracer
	slowThreshold time.Duration
	metrics       *metrics.Recorder

	// Owned by the run goroutine.
	table       *expect.Table
	history     *history.Log
	trackers    history.Trackers
	timers      map[uint64]*time.Timer
	nextTracker uint64
	valid       bool
	backup      unit.Handle
	reload      *reload.Coordinator
	pending     []replyFunc // answered when the in-flight regeneration ends
	queued      []replyFunc // answered when the follow-up regeneration ends
	followUp    bool
	stopping    bool
	stopReply   replyFunc // answered once the unit is restored
	current     chan *commandResponse

	expireCh chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	started  atomic.Bool
}

// queueItem wraps a command with an optional result channel for SubmitAndWait.
type queueItem struct {
	cmd      command.Command
	resultCh chan *commandResponse // nil for fire-and-forget Submit
}

type commandResponse struct {
	result *command.CommandResult
	err    error
}

// replyFunc answers a request whose handler returned a deferred result.
type replyFunc func(*command.CommandResult)

// New creates an actor for unit name. module is the original implementation;
// it may be nil only with an unrestricted surface. The actor does nothing
// until Start.
func New(name string, module *unit.Module, gen codegen.Generator, preserver Preserver, cfg Config, opts ...Option) (*Actor, error) {
	if err := cfg.Validate(name, module); err != nil {
		return nil, err
	}
	if gen == nil || preserver == nil {
		return nil, fmt.Errorf("%w: generator and preserver are required", types.ErrBadArg)
	}

	a := &Actor{
		name:          name,
		module:        module,
		cfg:           cfg,
		gen:           gen,
		preserver:     preserver,
		queueCapacity: DefaultQueueCapacity,
		handlers:      make(map[command.CommandType]types.CommandHandler),
		metrics:       metrics.NewRecorder(name),
		history:       history.NewLog(cfg.DisableHistory),
		timers:        make(map[uint64]*time.Timer),
		valid:         true,
		expireCh:      make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.reload = reload.NewCoordinator(name, gen)
	a.registerHandlers()
	return a, nil
}

// Name returns the unit name.
func (a *Actor) Name() string {
	return a.name
}

// Config returns the creation configuration.
func (a *Actor) Config() Config {
	return a.cfg
}

func (a *Actor) registerHandlers() {
	chain := []types.Middleware{
		tracing.NewMiddleware(tracing.MiddlewareConfig{Tracer: a.tracer, Unit: a.name}),
		NewLoggingMiddleware(a.name),
		NewCommandLogMiddleware(a.name, a.eventBus),
		NewTimeoutMiddleware(a.slowThreshold),
	}
	chain = append(chain, a.middlewares...)

	register := func(t command.CommandType, h types.HandlerFunc) {
		a.handlers[t] = types.ChainMiddleware(h, chain...)
	}
	register(command.CmdSetExpect, a.handleSetExpect)
	register(command.CmdDeleteExpect, a.handleDeleteExpect)
	register(command.CmdListExpects, a.handleListExpects)
	register(command.CmdGetResultSpec, a.handleGetResultSpec)
	register(command.CmdGetHistory, a.handleGetHistory)
	register(command.CmdAddHistory, a.handleAddHistory)
	register(command.CmdWait, a.handleWait)
	register(command.CmdReset, a.handleReset)
	register(command.CmdExpireTrackers, a.handleExpireTrackers)
	register(command.CmdValidate, a.handleValidate)
	register(command.CmdInvalidate, a.handleInvalidate)
	register(command.CmdReloadComplete, a.handleReloadComplete)
	register(command.CmdStop, a.handleStop)
}

// Start backs up the original, installs the initial expectations, generates
// code for them, and starts the run goroutine. Start can only be called once.
func (a *Actor) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", types.ErrAlreadyMocked, a.name)
	}

	backup, err := a.preserver.Backup(a.name)
	if err != nil {
		return fmt.Errorf("backup %s: %w", a.name, err)
	}
	a.backup = backup

	var exports []expect.Key
	if a.module != nil {
		exports = a.module.Exports()
	}
	a.table = expect.InitialTable(exports, a.cfg.PassthroughDefault, a.cfg.StubAll)

	if _, err := a.gen.Generate(ctx, a.name, a.table.Snapshot()); err != nil {
		if rerr := a.preserver.Restore(a.name, a.backup); rerr != nil {
			log.ErrorErr(log.CatActor, "restore after failed start", rerr, "unit", a.name)
		}
		return fmt.Errorf("%w: initial generation of %s: %w", types.ErrReloadFailed, a.name, err)
	}

	// Detached so a cancelled request context that started the unit does not
	// stop it; Stop or the registry ends it.
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.queue = make(chan queueItem, a.queueCapacity)
	a.running.Store(true)
	a.publishState()

	log.Info(log.CatActor, "unit mocked",
		"unit", a.name,
		"ops", a.table.Len(),
		"unrestricted", a.cfg.UnrestrictedSurface,
		"passthrough", a.cfg.PassthroughDefault,
	)

	go a.run()
	return nil
}

// run is the processing loop. It exits after a stop command or when the
// actor context is cancelled.
func (a *Actor) run() {
	defer a.exit()

	for !a.stopping {
		select {
		case <-a.ctx.Done():
			a.stopReply = func(*command.CommandResult) {}
			if a.beginStop() {
				_ = a.restore()
			}
		case item := <-a.queue:
			a.processItem(item)
		case o := <-a.reload.Results():
			a.processItem(queueItem{cmd: command.NewReloadCompleteCommand(o.Seq, o.Err, o.Duration)})
		case <-a.expireCh:
			a.processItem(queueItem{cmd: command.NewExpireTrackersCommand()})
		}
	}
	if a.reload.InFlight() {
		a.drainStop()
	}
}

// drainStop runs while a stopped unit waits for its in-flight regeneration.
// The generator installs code itself, so the original can only be restored
// after it reports back. Everything else is refused meanwhile.
func (a *Actor) drainStop() {
	log.Debug(log.CatActor, "stop waiting for regeneration", "unit", a.name)
	for {
		select {
		case item := <-a.queue:
			a.reject(item)
		case o := <-a.reload.Results():
			if !a.reload.Complete(o) {
				continue
			}
			a.metrics.ReloadFinished(o.Duration, o.Err != nil)
			reply := command.Ok(nil)
			if err := a.restore(); err != nil {
				reply = command.Fail(err)
			}
			a.stopReply(reply)
			return
		}
	}
}

// exit stops accepting commands and fails everything still queued.
func (a *Actor) exit() {
	a.running.Store(false)
	for {
		select {
		case item := <-a.queue:
			a.reject(item)
		default:
			a.cancel()
			close(a.done)
			a.publishState()
			log.Info(log.CatActor, "unit unmocked", "unit", a.name)
			return
		}
	}
}

func (a *Actor) reject(item queueItem) {
	if item.resultCh != nil {
		item.resultCh <- &commandResponse{err: a.notRunning()}
		close(item.resultCh)
	}
}

// Done is closed once the actor has exited and restored the original.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// IsRunning reports whether the actor accepts commands.
func (a *Actor) IsRunning() bool {
	return a.running.Load()
}

// QueueLength returns the number of commands waiting in the mailbox.
func (a *Actor) QueueLength() int {
	if a.queue == nil {
		return 0
	}
	return len(a.queue)
}

// Stats returns a snapshot of the actor's counters without going through the mailbox.
func (a *Actor) Stats() metrics.UnitStats {
	return a.metrics.Snapshot()
}

func (a *Actor) notRunning() error {
	return fmt.Errorf("%s: %w: %w", a.name, types.ErrNotMocked, types.ErrProcessorNotRunning)
}

// Submit adds a command to the mailbox without waiting for the result.
// Returns ErrQueueFull if the mailbox is at capacity.
func (a *Actor) Submit(cmd command.Command) error {
	if !a.running.Load() {
		return a.notRunning()
	}
	select {
	case a.queue <- queueItem{cmd: cmd}:
		return nil
	default:
		return types.ErrQueueFull
	}
}

// post adds a command to the mailbox, waiting for room. Used for
// notifications that must not be dropped, such as history appends.
func (a *Actor) post(cmd command.Command) error {
	if !a.running.Load() {
		return a.notRunning()
	}
	select {
	case a.queue <- queueItem{cmd: cmd}:
		return nil
	case <-a.done:
		return a.notRunning()
	}
}

// SubmitAndWait adds a command to the mailbox and waits for its result.
// Cancelling ctx abandons the wait; the command itself still runs.
func (a *Actor) SubmitAndWait(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	if !a.running.Load() {
		return nil, a.notRunning()
	}

	resultCh := make(chan *commandResponse, 1)
	select {
	case a.queue <- queueItem{cmd: cmd, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, a.notRunning()
	}

	select {
	case resp := <-resultCh:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		select {
		case resp := <-resultCh:
			return resp.result, resp.err
		default:
			return nil, a.notRunning()
		}
	}
}

// processItem handles one command and answers its sender unless the handler
// took the reply for later.
func (a *Actor) processItem(item queueItem) {
	a.current = item.resultCh
	result := a.processCommand(item.cmd)
	a.metrics.CommandProcessed(result != nil && !result.Success)

	if a.current != nil {
		if result != nil && result.Deferred {
			// A handler deferred without keeping the reply. Nobody would ever answer.
			result = command.Fail(fmt.Errorf("%s: deferred without reply", item.cmd.Type()))
		}
		a.current <- &commandResponse{result: result}
		close(a.current)
		a.current = nil
	}
	a.publishState()
}

// processCommand validates, routes and executes cmd.
// Errors are wrapped in the CommandResult, not returned separately.
func (a *Actor) processCommand(cmd command.Command) *command.CommandResult {
	if err := cmd.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", types.ErrBadArg, err)
		a.emitErrorEvent(cmd, err)
		return command.Fail(err)
	}

	handler, ok := a.handlers[cmd.Type()]
	if !ok {
		a.emitErrorEvent(cmd, types.ErrUnknownCommandType)
		return command.Fail(types.ErrUnknownCommandType)
	}

	result, err := handler.Handle(a.ctx, cmd)
	if err != nil {
		a.emitErrorEvent(cmd, err)
		return command.Fail(err)
	}

	if result != nil && len(result.Events) > 0 {
		a.emitEvents(result.Events)
	}
	return result
}

// takeReply hands the current request's reply to the handler. The handler
// must call it exactly once, now or later.
func (a *Actor) takeReply() replyFunc {
	ch := a.current
	a.current = nil
	if ch == nil {
		return func(*command.CommandResult) {}
	}
	return func(r *command.CommandResult) {
		ch <- &commandResponse{result: r}
		close(ch)
	}
}

func (a *Actor) publishState() {
	if a.table == nil {
		return
	}
	a.metrics.SetState(a.table.Len(), a.history.Len(), a.trackers.Len(), a.reload.InFlight(), a.valid)
}

func (a *Actor) emitEvents(events []any) {
	if a.eventBus == nil {
		return
	}
	for _, event := range events {
		typ := pubsub.UpdatedEvent
		if c, ok := event.(ExpectationsChanged); ok && c.Deleted {
			typ = pubsub.DeletedEvent
		}
		a.eventBus.Publish(typ, event)
	}
}

func (a *Actor) emitErrorEvent(cmd command.Command, err error) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(pubsub.UpdatedEvent, CommandErrorEvent{
		Unit:        a.name,
		CommandID:   cmd.ID(),
		CommandType: cmd.Type(),
		Error:       err,
	})
}
