// Package durabletest runs orchestrations end to end in process against a
// virtual clock. Activities run inline, timers fire by advancing the clock
// and sub-orchestrations and sent events are delivered locally.
package durabletest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/historystore"
	"github.com/goliatone/go-durable/orchestration"
	"github.com/goliatone/go-durable/worker"
)

// DefaultMaxSteps bounds RunUntilIdle.
const DefaultMaxSteps = 10000

// Backend is a single-process orchestration backend.
type Backend struct {
	mu sync.Mutex

	worker   *worker.Worker
	store    historystore.Store
	clock    time.Time
	maxSteps int

	instances map[string]*instance
	activity  []activityItem
	timers    []timerItem
	timerSeq  int
}

type instance struct {
	id      string
	router  *history.TaskRouter
	parent  *parentRef
	pending []*history.Event

	executions int
	actions    []*history.Action
	result     *orchestration.Result
}

type parentRef struct {
	instanceID string
	taskID     int32
}

type activityItem struct {
	instanceID string
	action     *history.Action
}

type timerItem struct {
	instanceID string
	id         int32
	fireAt     time.Time
	seq        int
}

type config struct {
	store        historystore.Store
	start        time.Time
	maxSteps     int
	executorOpts []orchestration.Option
	logger       orchestration.Logger
}

// Option configures a Backend.
type Option func(*config)

// WithStore persists histories in store instead of an in-memory store.
func WithStore(store historystore.Store) Option {
	return func(c *config) { c.store = store }
}

// WithStartTime sets the initial virtual clock.
func WithStartTime(t time.Time) Option {
	return func(c *config) { c.start = t.UTC() }
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(c *config) { c.maxSteps = n }
}

// WithExecutorOptions passes options to the replay executor.
func WithExecutorOptions(opts ...orchestration.Option) Option {
	return func(c *config) { c.executorOpts = append(c.executorOpts, opts...) }
}

func WithLogger(logger orchestration.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New creates a backend for the orchestrators and activities in registry.
func New(registry *orchestration.Registry, opts ...Option) *Backend {
	cfg := config{
		start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		maxSteps: DefaultMaxSteps,
		logger:   orchestration.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.store == nil {
		cfg.store = historystore.NewInMemoryStore()
	}

	b := &Backend{
		store:     cfg.store,
		clock:     cfg.start,
		maxSteps:  cfg.maxSteps,
		instances: make(map[string]*instance),
	}
	executorOpts := append([]orchestration.Option{orchestration.WithLogger(cfg.logger)}, cfg.executorOpts...)
	b.worker = worker.New(registry,
		worker.WithStore(cfg.store),
		worker.WithLogger(cfg.logger),
		worker.WithExecutor(orchestration.NewExecutor(registry, executorOpts...)),
		worker.WithClock(b.now),
	)
	return b
}

func (b *Backend) now() time.Time { return b.clock }

// Now returns the virtual clock.
func (b *Backend) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock
}

// Start schedules a new orchestration instance.
func (b *Backend) Start(name, instanceID string, input any, router *history.TaskRouter) error {
	raw, err := encode(input)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start(name, instanceID, raw, router, nil)
}

func (b *Backend) start(name, instanceID, input string, router *history.TaskRouter, parent *parentRef) error {
	if _, exists := b.instances[instanceID]; exists {
		return durable.NewError(durable.ErrAlreadyRegistered,
			fmt.Sprintf("instance %q already exists", instanceID), nil,
			map[string]any{"instance_id": instanceID})
	}
	b.instances[instanceID] = &instance{
		id:     instanceID,
		router: router,
		parent: parent,
		pending: []*history.Event{
			history.NewOrchestratorStartedEvent(b.clock),
			history.NewExecutionStartedEvent(name, instanceID, input, router),
		},
	}
	return nil
}

// RaiseEvent delivers an external event to instanceID.
func (b *Backend) RaiseEvent(instanceID, name string, data any) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	return b.enqueue(instanceID, history.NewEventRaisedEvent(name, raw))
}

// Suspend pauses event processing of instanceID.
func (b *Backend) Suspend(instanceID, reason string) error {
	return b.enqueue(instanceID, history.NewExecutionSuspendedEvent(reason))
}

func (b *Backend) Resume(instanceID, reason string) error {
	return b.enqueue(instanceID, history.NewExecutionResumedEvent(reason))
}

// Terminate ends instanceID with output.
func (b *Backend) Terminate(instanceID string, output any) error {
	raw, err := encode(output)
	if err != nil {
		return err
	}
	return b.enqueue(instanceID, history.NewExecutionTerminatedEvent(raw))
}

func (b *Backend) enqueue(instanceID string, ev *history.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.instances[instanceID]
	if !ok {
		return durable.NewError(durable.ErrInvalidOptions,
			fmt.Sprintf("instance %q does not exist", instanceID), nil,
			map[string]any{"instance_id": instanceID})
	}
	inst.pending = append(inst.pending, ev)
	return nil
}

// RunUntilIdle processes work until no instance has pending events, no
// activity is queued and no timer is outstanding. Instances are processed
// before activities, and activities before the clock moves.
func (b *Backend) RunUntilIdle(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for step := 0; step < b.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed, err := b.step(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
	return fmt.Errorf("durabletest: no idle state after %d steps", b.maxSteps)
}

func (b *Backend) step(ctx context.Context) (bool, error) {
	if inst := b.nextReady(); inst != nil {
		return true, b.execute(ctx, inst)
	}
	if len(b.activity) > 0 {
		item := b.activity[0]
		b.activity = b.activity[1:]
		ev := b.worker.ExecuteActivity(ctx, item.instanceID, item.action)
		b.deliver(item.instanceID, ev)
		return true, nil
	}
	if len(b.timers) > 0 {
		sort.SliceStable(b.timers, func(i, j int) bool {
			if !b.timers[i].fireAt.Equal(b.timers[j].fireAt) {
				return b.timers[i].fireAt.Before(b.timers[j].fireAt)
			}
			return b.timers[i].seq < b.timers[j].seq
		})
		item := b.timers[0]
		b.timers = b.timers[1:]
		if item.fireAt.After(b.clock) {
			b.clock = item.fireAt
		}
		b.deliver(item.instanceID, history.NewTimerFiredEvent(item.id, item.fireAt))
		return true, nil
	}
	return false, nil
}

func (b *Backend) nextReady() *instance {
	ids := make([]string, 0, len(b.instances))
	for id, inst := range b.instances {
		if len(inst.pending) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return b.instances[ids[0]]
}

// deliver queues ev for a running instance and drops it otherwise.
func (b *Backend) deliver(instanceID string, ev *history.Event) {
	inst, ok := b.instances[instanceID]
	if !ok || ev == nil {
		return
	}
	if inst.result != nil && inst.result.IsComplete {
		return
	}
	inst.pending = append(inst.pending, ev)
}

func (b *Backend) execute(ctx context.Context, inst *instance) error {
	newEvents := inst.pending
	inst.pending = nil
	if inst.result != nil && inst.result.IsComplete {
		return nil
	}
	if newEvents[0].OrchestratorStarted == nil {
		newEvents = append([]*history.Event{history.NewOrchestratorStartedEvent(b.clock)}, newEvents...)
	}

	res, err := b.worker.ProcessInstance(ctx, inst.id, newEvents)
	if err != nil {
		return err
	}
	inst.executions++
	inst.result = res
	inst.actions = append(inst.actions, res.Actions...)

	for _, a := range res.Actions {
		if err := b.apply(ctx, inst, a); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) apply(ctx context.Context, inst *instance, a *history.Action) error {
	switch {
	case a.ScheduleTask != nil:
		b.activity = append(b.activity, activityItem{instanceID: inst.id, action: a})
	case a.CreateTimer != nil:
		b.timerSeq++
		b.timers = append(b.timers, timerItem{instanceID: inst.id, id: a.ID, fireAt: a.CreateTimer.FireAt, seq: b.timerSeq})
	case a.CreateSubOrchestration != nil:
		s := a.CreateSubOrchestration
		// retried sub-orchestrations reuse their instance id
		if prev, ok := b.instances[s.InstanceID]; ok && prev.result != nil && prev.result.IsComplete {
			delete(b.instances, s.InstanceID)
			if err := b.store.Reset(ctx, s.InstanceID); err != nil {
				return err
			}
		}
		return b.start(s.Name, s.InstanceID, s.Input, s.Router, &parentRef{instanceID: inst.id, taskID: a.ID})
	case a.SendEvent != nil:
		b.deliver(a.SendEvent.InstanceID, history.NewEventRaisedEvent(a.SendEvent.Name, a.SendEvent.Data))
	case a.CompleteOrchestration != nil:
		b.complete(inst, a.CompleteOrchestration)
	}
	return nil
}

func (b *Backend) complete(inst *instance, c *history.CompleteOrchestrationAction) {
	if c.Status == history.StatusContinuedAsNew {
		next := worker.NextGeneration(inst.result, inst.router, b.clock)
		inst.result = nil
		inst.pending = append(next, inst.pending...)
		b.dropWork(inst.id)
		return
	}
	if inst.parent == nil {
		return
	}
	var ev *history.Event
	if c.Status == history.StatusFailed {
		ev = history.NewSubOrchestrationFailedEvent(inst.parent.taskID, c.FailureDetails)
	} else {
		ev = history.NewSubOrchestrationCompletedEvent(inst.parent.taskID, c.Result)
	}
	b.deliver(inst.parent.instanceID, ev)
}

// dropWork discards queued activities and timers of a finished generation.
func (b *Backend) dropWork(instanceID string) {
	b.activity = slices.DeleteFunc(b.activity, func(it activityItem) bool { return it.instanceID == instanceID })
	b.timers = slices.DeleteFunc(b.timers, func(it timerItem) bool { return it.instanceID == instanceID })
}

// Result returns the latest execution result of instanceID.
func (b *Backend) Result(instanceID string) (*orchestration.Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.instances[instanceID]
	if !ok || inst.result == nil {
		return nil, false
	}
	return inst.result, true
}

// Executions counts Execute calls made for instanceID.
func (b *Backend) Executions(instanceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.instances[instanceID]; ok {
		return inst.executions
	}
	return 0
}

// Actions returns every action instanceID produced, across executions.
func (b *Backend) Actions(instanceID string) []*history.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.instances[instanceID]; ok {
		return slices.Clone(inst.actions)
	}
	return nil
}

// History returns the stored history of instanceID.
func (b *Backend) History(ctx context.Context, instanceID string) ([]*history.Event, error) {
	return b.store.Load(ctx, instanceID)
}

func encode(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}
