// Package worker drives the replay executor against a history store and runs
// activities, tracing both with OpenTelemetry.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/historystore"
	"github.com/goliatone/go-durable/orchestration"
	"github.com/goliatone/go-durable/task"
)

const tracerName = "github.com/goliatone/go-durable/worker"

// Worker processes orchestration work items.
type Worker struct {
	registry *orchestration.Registry
	executor *orchestration.Executor
	store    historystore.Store
	tracer   trace.Tracer
	logger   orchestration.Logger
	now      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithStore sets the history store used by ProcessInstance.
func WithStore(store historystore.Store) Option {
	return func(w *Worker) {
		w.store = store
	}
}

// WithTracerProvider traces through tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) {
		if tp != nil {
			w.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithLogger(logger orchestration.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithExecutor replaces the executor built from the registry.
func WithExecutor(executor *orchestration.Executor) Option {
	return func(w *Worker) {
		if executor != nil {
			w.executor = executor
		}
	}
}

// WithClock sets the time source used to stamp recorded events.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a worker for the orchestrators and activities in registry.
func New(registry *orchestration.Registry, opts ...Option) *Worker {
	if registry == nil {
		registry = orchestration.NewRegistry()
	}
	w := &Worker{
		registry: registry,
		tracer:   otel.Tracer(tracerName),
		logger:   orchestration.NewFmtLogger(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.executor == nil {
		w.executor = orchestration.NewExecutor(registry, orchestration.WithLogger(w.logger))
	}
	return w
}

// Executor returns the executor the worker runs.
func (w *Worker) Executor() *orchestration.Executor { return w.executor }

// ProcessOrchestration runs one execution of an orchestration inside a span.
func (w *Worker) ProcessOrchestration(ctx context.Context, past, newEvents []*history.Event) (*orchestration.Result, error) {
	ctx, span := w.tracer.Start(ctx, "durable.orchestration.execute", trace.WithAttributes(
		attribute.Int("durable.history.past", len(past)),
		attribute.Int("durable.history.new", len(newEvents)),
	))
	defer span.End()

	res, err := w.executor.Execute(ctx, past, newEvents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("durable.instance_id", res.InstanceID),
		attribute.String("durable.orchestration", res.Name),
		attribute.String("durable.status", string(res.Status)),
		attribute.Int("durable.actions", len(res.Actions)),
	)
	if res.Failure != nil {
		span.SetStatus(codes.Error, res.Failure.ErrorMessage)
	}
	return res, nil
}

// ProcessInstance replays the stored history of instanceID with newEvents and
// records newEvents, the events for accepted actions and an
// OrchestratorCompleted marker. A continued-as-new instance has its log
// reset; the caller starts the next generation.
func (w *Worker) ProcessInstance(ctx context.Context, instanceID string, newEvents []*history.Event) (*orchestration.Result, error) {
	if w.store == nil {
		return nil, durable.NewError(durable.ErrInvalidConfig, "worker has no history store", nil, nil)
	}
	past, err := w.store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	res, err := w.ProcessOrchestration(ctx, past, newEvents)
	if err != nil {
		return nil, err
	}

	if res.Status == history.StatusContinuedAsNew {
		if err := w.store.Reset(ctx, instanceID); err != nil {
			return nil, err
		}
		return res, nil
	}

	now := w.now()
	record := make([]*history.Event, 0, len(newEvents)+len(res.Actions)+1)
	record = append(record, newEvents...)
	for _, a := range res.Actions {
		if ev := history.ScheduledEvent(a, now); ev != nil {
			record = append(record, ev)
		}
	}
	record = append(record, history.NewOrchestratorCompletedEvent())
	if err := w.store.Append(ctx, instanceID, record...); err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteActivity runs the activity scheduled by action and returns the
// TaskCompleted or TaskFailed event to deliver to the orchestration.
func (w *Worker) ExecuteActivity(ctx context.Context, instanceID string, action *history.Action) *history.Event {
	if action == nil || action.ScheduleTask == nil {
		err := durable.NewError(durable.ErrInvalidOptions, "activity action has no schedule task", nil, nil)
		return history.NewTaskFailedEvent(actionID(action), task.NewFailureDetails(err))
	}
	name := action.ScheduleTask.Name
	ctx, span := w.tracer.Start(ctx, "durable.activity.execute", trace.WithAttributes(
		attribute.String("durable.instance_id", instanceID),
		attribute.String("durable.activity", name),
		attribute.Int("durable.task_id", int(action.ID)),
	))
	defer span.End()

	output, err := w.runActivity(ctx, instanceID, action.ID, action.ScheduleTask)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		withFields(w.logger, map[string]any{
			"instance_id": instanceID,
			"activity":    name,
			"task_id":     action.ID,
		}).Warn("activity failed: %v", err)
		return history.NewTaskFailedEvent(action.ID, task.NewFailureDetails(err))
	}
	return history.NewTaskCompletedEvent(action.ID, output)
}

func (w *Worker) runActivity(ctx context.Context, instanceID string, id int32, st *history.ScheduleTaskAction) (output string, err error) {
	fn, ok := w.registry.Activity(st.Name)
	if !ok {
		return "", durable.NewError(durable.ErrActivityNotFound,
			fmt.Sprintf("activity %q is not registered", st.Name), nil,
			map[string]any{"name": st.Name})
	}

	defer durable.CapturePanic(func(p *durable.Panic) {
		output, err = "", p
	})

	value, err := fn(orchestration.NewActivityContext(ctx, instanceID, st.Name, id, st.Input))
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode output of activity %q: %w", st.Name, err)
	}
	return string(raw), nil
}

// NextGeneration builds the events that start the next execution of a
// continued-as-new instance: a fresh start event carrying the new input,
// followed by any carried-over external events.
func NextGeneration(res *orchestration.Result, router *history.TaskRouter, now time.Time) []*history.Event {
	if res == nil || res.Status != history.StatusContinuedAsNew {
		return nil
	}
	var input string
	var carry []*history.Event
	if complete := completeAction(res); complete != nil {
		input = complete.Result
		carry = complete.CarryoverEvents
	}
	out := []*history.Event{
		history.NewOrchestratorStartedEvent(now),
		history.NewExecutionStartedEvent(res.Name, res.InstanceID, input, router),
	}
	for _, ev := range carry {
		if ev == nil || ev.EventRaised == nil {
			continue
		}
		out = append(out, history.NewEventRaisedEvent(ev.EventRaised.Name, ev.EventRaised.Input))
	}
	return out
}

func completeAction(res *orchestration.Result) *history.CompleteOrchestrationAction {
	for _, a := range res.Actions {
		if a.CompleteOrchestration != nil {
			return a.CompleteOrchestration
		}
	}
	return nil
}

func actionID(a *history.Action) int32 {
	if a == nil {
		return -1
	}
	return a.ID
}

func withFields(logger orchestration.Logger, fields map[string]any) orchestration.Logger {
	if fl, ok := logger.(orchestration.FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}
