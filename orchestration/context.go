package orchestration

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/task"
)

// Context is the surface orchestrator code uses. It is rebuilt from history
// on every Execute call and must only be used from the orchestrator
// function and the continuations it registers.
//
// Every call that returns a Task takes the next sequence id in program
// order, which is what ties a call to its completion event in history.
// Orchestrator code must therefore not branch on wall-clock time,
// randomness or goroutine scheduling; use CurrentTime and NewUUID instead.
type Context struct {
	ctx    context.Context
	exec   *Executor
	logger Logger
	waiter task.Waiter
	flow   *coroutine

	instanceID  string
	name        string
	rawInput    string
	appID       string
	currentTime time.Time
	isReplaying bool
	started     bool

	sequence    int32
	uuidCounter int

	pendingActions map[int32]*history.Action
	actionOrder    []int32
	pendingTasks   map[int32]*task.Completable

	bufferedEvents []*history.Event
	eventWaiters   map[string][]*task.Completable

	customStatus    string
	hasCustomStatus bool

	suspended       bool
	suspendedEvents []*history.Event

	completion *completion
}

type completion struct {
	status    history.RuntimeStatus
	output    string
	failure   *history.FailureDetails
	carryover []*history.Event
	preserve  bool

	action *history.CompleteOrchestrationAction
}

type flowWaiter struct {
	oc *Context
}

func (w flowWaiter) Wait(t task.Task) error {
	oc := w.oc
	if !oc.flow.active {
		return durable.NewError(durable.ErrAwaitOutsideFlow,
			fmt.Sprintf("task %q (#%d) awaited outside the orchestration flow", t.Name(), t.ID()),
			nil,
			map[string]any{"task_id": t.ID(), "task_name": t.Name()},
		)
	}
	for !t.IsDone() {
		oc.flow.park(t)
	}
	return nil
}

func newContext(ctx context.Context, exec *Executor) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	oc := &Context{
		ctx:            ctx,
		exec:           exec,
		logger:         exec.logger.WithContext(ctx),
		flow:           newCoroutine(),
		isReplaying:    true,
		pendingActions: make(map[int32]*history.Action),
		pendingTasks:   make(map[int32]*task.Completable),
		eventWaiters:   make(map[string][]*task.Completable),
	}
	oc.waiter = flowWaiter{oc: oc}
	return oc
}

// Context returns the context.Context passed to Execute.
func (oc *Context) Context() context.Context { return oc.ctx }

func (oc *Context) InstanceID() string { return oc.instanceID }

func (oc *Context) Name() string { return oc.name }

// AppID returns the application identity derived from the start event.
func (oc *Context) AppID() string { return oc.appID }

// IsReplaying reports whether the current code path is rebuilding state
// from past events.
func (oc *Context) IsReplaying() bool { return oc.isReplaying }

// CurrentTime returns the timestamp of the latest OrchestratorStarted event.
func (oc *Context) CurrentTime() time.Time { return oc.currentTime }

// GetInput decodes the orchestration input into v.
func (oc *Context) GetInput(v any) error {
	if err := decodePayload(oc.rawInput, v); err != nil {
		return fmt.Errorf("decode orchestration input: %w", err)
	}
	return nil
}

// Logger returns a logger that stays silent while replaying.
func (oc *Context) Logger() Logger {
	return &replaySafeLogger{oc: oc, inner: oc.logger}
}

// SetCustomStatus records a JSON encoded status reported with the result.
func (oc *Context) SetCustomStatus(v any) error {
	raw, err := encodePayload(v)
	if err != nil {
		return fmt.Errorf("encode custom status: %w", err)
	}
	oc.customStatus = raw
	oc.hasCustomStatus = true
	return nil
}

func (oc *Context) ClearCustomStatus() {
	oc.customStatus = ""
	oc.hasCustomStatus = false
}

// Complete ends the orchestration with output. Code after Complete in the
// orchestrator function does not run.
func (oc *Context) Complete(output any) {
	oc.setOutput(output)
	oc.exitFlow()
}

// ContinueAsNew ends this execution and asks the backend to restart the
// instance with input. Pending tasks are discarded.
func (oc *Context) ContinueAsNew(input any, opts ...ContinueAsNewOption) {
	o := &continueAsNewOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	raw, err := encodePayload(input)
	if err != nil {
		oc.setFailed(fmt.Errorf("encode continue-as-new input: %w", err))
		oc.exitFlow()
		return
	}
	var carry []*history.Event
	if o.preserveEvents && len(oc.bufferedEvents) > 0 {
		carry = slices.Clone(oc.bufferedEvents)
	}
	oc.setCompletion(&completion{
		status:    history.StatusContinuedAsNew,
		output:    raw,
		carryover: carry,
		preserve:  o.preserveEvents,
	})
	oc.exitFlow()
}

func (oc *Context) nextID() int32 {
	id := oc.sequence
	oc.sequence++
	return id
}

func (oc *Context) newTask(id int32, name string) *task.Completable {
	t := task.New(id, name, oc.waiter)
	oc.pendingTasks[id] = t
	return t
}

func (oc *Context) addAction(a *history.Action) {
	if _, exists := oc.pendingActions[a.ID]; !exists {
		oc.actionOrder = append(oc.actionOrder, a.ID)
	}
	oc.pendingActions[a.ID] = a
}

func (oc *Context) removeAction(id int32) {
	delete(oc.pendingActions, id)
	if i := slices.Index(oc.actionOrder, id); i >= 0 {
		oc.actionOrder = slices.Delete(oc.actionOrder, i, i+1)
	}
}

func (oc *Context) actions() []*history.Action {
	out := make([]*history.Action, 0, len(oc.actionOrder))
	for _, id := range oc.actionOrder {
		if a, ok := oc.pendingActions[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// takeTask removes the pending task so continuations may register a new
// task under the same id.
func (oc *Context) takeTask(id int32) (*task.Completable, bool) {
	t, ok := oc.pendingTasks[id]
	if ok {
		delete(oc.pendingTasks, id)
	}
	return t, ok
}

func (oc *Context) setOutput(output any) {
	if oc.completion != nil {
		return
	}
	raw, err := encodePayload(output)
	if err != nil {
		oc.setFailed(fmt.Errorf("encode orchestration output: %w", err))
		return
	}
	oc.setCompletion(&completion{status: history.StatusCompleted, output: raw})
}

func (oc *Context) setFailed(err error) {
	if oc.completion != nil {
		return
	}
	oc.setCompletion(&completion{
		status:  history.StatusFailed,
		failure: task.NewFailureDetails(err),
	})
}

func (oc *Context) setCompletion(c *completion) {
	if oc.completion != nil || c == nil {
		return
	}
	if c.status == history.StatusContinuedAsNew {
		oc.pendingActions = make(map[int32]*history.Action)
		oc.actionOrder = nil
		oc.pendingTasks = make(map[int32]*task.Completable)
	}
	oc.completion = c
	c.action = &history.CompleteOrchestrationAction{
		Status:          c.status,
		Result:          c.output,
		FailureDetails:  c.failure,
		CarryoverEvents: c.carryover,
	}
	oc.addAction(&history.Action{
		ID:                    oc.nextID(),
		Router:                oc.completionRouter(),
		CompleteOrchestration: c.action,
	})
}

// failCompletion replaces a finished outcome with a failure. A recorded
// non-determinism or missing orchestrator failure is kept.
func (oc *Context) failCompletion(err error) {
	c := oc.completion
	if c == nil {
		oc.setFailed(err)
		return
	}
	if c.failure != nil {
		switch c.failure.ErrorType {
		case durable.ErrCodeNonDeterminism, durable.ErrCodeOrchestratorNotFound:
			return
		}
	}
	c.status = history.StatusFailed
	c.output = ""
	c.failure = task.NewFailureDetails(err)
	c.action.Status = c.status
	c.action.Result = ""
	c.action.FailureDetails = c.failure
}

// exitFlow stops the orchestrator goroutine when called from it. Calls made
// from continuations running on the replay loop only record the outcome.
func (oc *Context) exitFlow() {
	if oc.flow.active {
		oc.flow.exit()
	}
}

func (oc *Context) debug(msg string, args ...any) {
	if oc.isReplaying {
		return
	}
	oc.logger.Debug(msg, args...)
}
