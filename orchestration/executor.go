package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/task"
)

// Result is the outcome of one Execute call.
type Result struct {
	InstanceID string
	Name       string
	// Status is StatusRunning while the orchestration waits for more events.
	Status       history.RuntimeStatus
	IsComplete   bool
	Output       string
	Failure      *history.FailureDetails
	CustomStatus string
	// Actions lists new decisions in the order they were made.
	Actions []*history.Action
}

// Executor replays history through orchestrator code and collects the
// actions it takes. An Executor holds no per-instance state and may be used
// concurrently.
type Executor struct {
	registry *Registry
	config   Config
	logger   Logger
}

// NewExecutor builds an executor resolving orchestrators from registry.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		config:   DefaultConfig(),
		logger:   normalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = normalizeLogger(e.logger)
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	return e
}

// Config returns the executor config.
func (e *Executor) Config() Config { return e.config }

// Execute replays past followed by newEvents and returns the resulting
// state and the actions not yet recorded in history. The error is reserved
// for unusable input; orchestration failures are reported in the Result.
func (e *Executor) Execute(ctx context.Context, past, newEvents []*history.Event) (*Result, error) {
	if e == nil {
		return nil, durable.NewError(durable.ErrInvalidConfig, "executor not configured", nil, nil)
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	total := len(past) + len(newEvents)
	if total == 0 {
		return nil, durable.NewError(durable.ErrEmptyHistory, "no history events to execute", nil, nil)
	}
	if limit := e.config.MaxHistoryEvents; limit > 0 && total > limit {
		return nil, durable.NewError(durable.ErrInvalidHistory,
			fmt.Sprintf("history has %d events, limit is %d", total, limit), nil,
			map[string]any{"events": total, "limit": limit})
	}

	oc := newContext(ctx, e)
	defer oc.flow.abort()

	events := make([]*history.Event, 0, total)
	events = append(events, past...)
	events = append(events, newEvents...)

	for i, ev := range events {
		if ev == nil {
			return nil, durable.NewError(durable.ErrInvalidHistory, fmt.Sprintf("history event %d is nil", i), nil, nil)
		}
		oc.isReplaying = i < len(past)
		if oc.completion != nil {
			oc.settle(ev)
			continue
		}
		oc.dispatch(ev)
	}

	if !oc.started && oc.completion == nil {
		return nil, durable.NewError(durable.ErrInvalidHistory, "history has no execution started event", nil,
			map[string]any{"events": total})
	}

	res := oc.result()
	withLoggerFields(oc.logger, map[string]any{
		"instance_id":   res.InstanceID,
		"orchestration": res.Name,
		"status":        string(res.Status),
		"actions":       len(res.Actions),
		"sequence":      oc.sequence,
	}).Debug("orchestration executed")
	return res, nil
}

func (oc *Context) result() *Result {
	res := &Result{
		InstanceID: oc.instanceID,
		Name:       oc.name,
		Status:     history.StatusRunning,
		Actions:    oc.actions(),
	}
	if oc.hasCustomStatus {
		res.CustomStatus = oc.customStatus
	}
	if oc.suspended {
		res.Status = history.StatusSuspended
	}
	if c := oc.completion; c != nil {
		res.Status = c.status
		res.IsComplete = true
		res.Output = c.output
		res.Failure = c.failure
	}
	return res
}

func (oc *Context) dispatch(ev *history.Event) {
	kind := ev.Kind()
	if oc.suspended {
		switch kind {
		case history.KindExecutionResumed, history.KindExecutionTerminated, history.KindOrchestratorStarted:
		default:
			oc.suspendedEvents = append(oc.suspendedEvents, ev)
			return
		}
	}

	oc.handle(ev)

	if kind == history.KindExecutionResumed && !oc.suspended {
		buffered := oc.suspendedEvents
		oc.suspendedEvents = nil
		for _, b := range buffered {
			if oc.completion != nil {
				oc.settle(b)
				continue
			}
			oc.dispatch(b)
		}
	}
}

// handle applies one event and then lets the orchestrator run for as long
// as the task it waits on is resolved.
func (oc *Context) handle(ev *history.Event) {
	defer durable.CapturePanic(func(p *durable.Panic) {
		oc.setFailed(p)
	})

	if oc.exec.config.LogReplayEvents {
		oc.logger.Trace("processing history event kind=%s id=%d replaying=%t", ev.Kind(), ev.EventID, oc.isReplaying)
	}
	if err := oc.processEvent(ev); err != nil {
		withLoggerFields(oc.logger, map[string]any{
			"instance_id": oc.instanceID,
			"event":       string(ev.Kind()),
		}).Warn("history event failed the orchestration: %v", err)
		oc.setFailed(err)
		return
	}
	for oc.completion == nil && oc.flow.ready() {
		oc.flow.resume()
	}
}

func (oc *Context) processEvent(ev *history.Event) error {
	switch {
	case ev.OrchestratorStarted != nil:
		oc.currentTime = ev.Timestamp.UTC()
	case ev.ExecutionStarted != nil:
		return oc.onExecutionStarted(ev.ExecutionStarted)
	case ev.TaskScheduled != nil:
		return oc.matchAction(ev, ev.TaskScheduled.TaskID, history.ActionScheduleTask, ev.TaskScheduled.Name)
	case ev.TaskCompleted != nil:
		oc.completeTask(ev, ev.TaskCompleted.TaskID, ev.TaskCompleted.Result)
	case ev.TaskFailed != nil:
		oc.failTask(ev, ev.TaskFailed.TaskID, ev.TaskFailed.FailureDetails)
	case ev.TimerCreated != nil:
		return oc.matchAction(ev, ev.TimerCreated.TimerID, history.ActionCreateTimer, "")
	case ev.TimerFired != nil:
		oc.completeTask(ev, ev.TimerFired.TimerID, "")
	case ev.SubOrchestrationCreated != nil:
		return oc.matchAction(ev, ev.SubOrchestrationCreated.TaskID, history.ActionCreateSubOrchestration, ev.SubOrchestrationCreated.Name)
	case ev.SubOrchestrationCompleted != nil:
		oc.completeTask(ev, ev.SubOrchestrationCompleted.TaskID, ev.SubOrchestrationCompleted.Result)
	case ev.SubOrchestrationFailed != nil:
		oc.failTask(ev, ev.SubOrchestrationFailed.TaskID, ev.SubOrchestrationFailed.FailureDetails)
	case ev.EventRaised != nil:
		oc.onEventRaised(ev)
	case ev.EventSent != nil:
		return oc.matchAction(ev, ev.EventSent.TaskID, history.ActionSendEvent, ev.EventSent.Name)
	case ev.ExecutionTerminated != nil:
		oc.setCompletion(&completion{
			status: history.StatusTerminated,
			output: ev.ExecutionTerminated.Output,
		})
	case ev.ExecutionSuspended != nil:
		oc.suspended = true
	case ev.ExecutionResumed != nil:
		oc.suspended = false
	case ev.OrchestratorCompleted != nil:
	default:
		oc.logger.Warn("ignoring history event %d with no known variant", ev.EventID)
	}
	return nil
}

func (oc *Context) onExecutionStarted(es *history.ExecutionStartedEvent) error {
	if oc.started {
		oc.logger.Warn("ignoring duplicate execution started event for %s", es.InstanceID)
		return nil
	}
	oc.started = true
	oc.instanceID = es.InstanceID
	oc.name = es.Name
	oc.rawInput = es.Input
	oc.appID = appIDFromRouter(es.Router)
	oc.logger = withLoggerFields(oc.logger, map[string]any{
		"instance_id":   es.InstanceID,
		"orchestration": es.Name,
	})

	fn, ok := oc.exec.registry.Orchestrator(es.Name)
	if !ok {
		return durable.NewError(durable.ErrOrchestratorNotFound,
			fmt.Sprintf("orchestrator %q is not registered", es.Name), nil,
			map[string]any{"name": es.Name})
	}
	oc.flow.start(func() { oc.run(fn) })
	return nil
}

func (oc *Context) run(fn Orchestrator) {
	defer durable.CapturePanic(func(p *durable.Panic) {
		oc.setFailed(p)
	})
	output, err := fn(oc)
	if oc.completion != nil {
		return
	}
	if err != nil {
		oc.setFailed(err)
		return
	}
	oc.setOutput(output)
}

// settle accounts for an event seen after the orchestrator finished. A
// preserving continue-as-new carries raised events over in arrival order.
// Other outcomes still check scheduling events against the actions taken.
func (oc *Context) settle(ev *history.Event) {
	c := oc.completion
	switch c.status {
	case history.StatusContinuedAsNew:
		if c.preserve && ev.EventRaised != nil {
			c.carryover = append(c.carryover, ev)
			c.action.CarryoverEvents = c.carryover
		}
	case history.StatusCompleted, history.StatusFailed:
		var err error
		switch {
		case ev.TaskScheduled != nil:
			err = oc.matchAction(ev, ev.TaskScheduled.TaskID, history.ActionScheduleTask, ev.TaskScheduled.Name)
		case ev.TimerCreated != nil:
			err = oc.matchAction(ev, ev.TimerCreated.TimerID, history.ActionCreateTimer, "")
		case ev.SubOrchestrationCreated != nil:
			err = oc.matchAction(ev, ev.SubOrchestrationCreated.TaskID, history.ActionCreateSubOrchestration, ev.SubOrchestrationCreated.Name)
		case ev.EventSent != nil:
			err = oc.matchAction(ev, ev.EventSent.TaskID, history.ActionSendEvent, ev.EventSent.Name)
		}
		if err != nil {
			withLoggerFields(oc.logger, map[string]any{
				"instance_id": oc.instanceID,
				"event":       string(ev.Kind()),
			}).Warn("history diverges after the orchestration finished: %v", err)
			oc.failCompletion(err)
		}
	}
}

// matchAction checks a scheduling event against the action this execution
// took under the same sequence id.
func (oc *Context) matchAction(ev *history.Event, id int32, kind history.ActionKind, name string) error {
	action, ok := oc.pendingActions[id]
	if !ok || action.Kind() != kind {
		found := "no action"
		if ok {
			found = string(action.Kind())
		}
		return durable.NewError(durable.ErrNonDeterminism,
			fmt.Sprintf("history has %s for sequence id %d but this execution produced %s", ev.Kind(), id, found),
			nil,
			map[string]any{"sequence_id": id, "event": string(ev.Kind()), "expected": string(kind)},
		)
	}
	if got := actionName(action); name != "" && !strings.EqualFold(got, name) {
		return durable.NewError(durable.ErrNonDeterminism,
			fmt.Sprintf("history scheduled %q for sequence id %d but this execution scheduled %q", name, id, got),
			nil,
			map[string]any{"sequence_id": id, "history_name": name, "name": got},
		)
	}
	oc.removeAction(id)
	return nil
}

func (oc *Context) completeTask(ev *history.Event, id int32, result string) {
	t, ok := oc.takeTask(id)
	if !ok {
		oc.logger.Warn("ignoring %s for unknown sequence id %d", ev.Kind(), id)
		return
	}
	var raw []byte
	if result != "" {
		raw = []byte(result)
	}
	t.Complete(raw)
}

func (oc *Context) failTask(ev *history.Event, id int32, details *history.FailureDetails) {
	t, ok := oc.takeTask(id)
	if !ok {
		oc.logger.Warn("ignoring %s for unknown sequence id %d", ev.Kind(), id)
		return
	}
	if details == nil {
		details = &history.FailureDetails{ErrorType: "unknown", ErrorMessage: "task failed without details"}
	}
	t.Fail(&task.TaskFailedError{TaskName: t.Name(), TaskID: id, Details: details})
}

func actionName(a *history.Action) string {
	switch {
	case a.ScheduleTask != nil:
		return a.ScheduleTask.Name
	case a.CreateSubOrchestration != nil:
		return a.CreateSubOrchestration.Name
	case a.SendEvent != nil:
		return a.SendEvent.Name
	case a.CreateTimer != nil:
		return a.CreateTimer.Name
	default:
		return ""
	}
}
