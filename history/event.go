package history

import "time"

// EventKind names the populated variant of an Event.
type EventKind string

const (
	KindUnknown                   EventKind = "unknown"
	KindOrchestratorStarted       EventKind = "orchestrator_started"
	KindExecutionStarted          EventKind = "execution_started"
	KindTaskScheduled             EventKind = "task_scheduled"
	KindTaskCompleted             EventKind = "task_completed"
	KindTaskFailed                EventKind = "task_failed"
	KindTimerCreated              EventKind = "timer_created"
	KindTimerFired                EventKind = "timer_fired"
	KindSubOrchestrationCreated   EventKind = "sub_orchestration_created"
	KindSubOrchestrationCompleted EventKind = "sub_orchestration_completed"
	KindSubOrchestrationFailed    EventKind = "sub_orchestration_failed"
	KindEventRaised               EventKind = "event_raised"
	KindEventSent                 EventKind = "event_sent"
	KindExecutionTerminated       EventKind = "execution_terminated"
	KindExecutionSuspended        EventKind = "execution_suspended"
	KindExecutionResumed          EventKind = "execution_resumed"
	KindOrchestratorCompleted     EventKind = "orchestrator_completed"
)

// TaskRouter carries the application identity used to route actions
// between apps.
type TaskRouter struct {
	SourceAppID string `json:"sourceAppID,omitempty" yaml:"sourceAppID,omitempty"`
	TargetAppID string `json:"targetAppID,omitempty" yaml:"targetAppID,omitempty"`
}

// FailureDetails is the serializable shape of a failure.
type FailureDetails struct {
	ErrorType      string          `json:"errorType" yaml:"errorType"`
	ErrorMessage   string          `json:"errorMessage" yaml:"errorMessage"`
	StackTrace     string          `json:"stackTrace,omitempty" yaml:"stackTrace,omitempty"`
	InnerFailure   *FailureDetails `json:"innerFailure,omitempty" yaml:"innerFailure,omitempty"`
	IsNonRetriable bool            `json:"isNonRetriable,omitempty" yaml:"isNonRetriable,omitempty"`
}

// Event is one immutable history record. Exactly one variant is set.
type Event struct {
	EventID   int32     `json:"eventId" yaml:"eventId"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	OrchestratorStarted       *OrchestratorStartedEvent       `json:"orchestratorStarted,omitempty" yaml:"orchestratorStarted,omitempty"`
	ExecutionStarted          *ExecutionStartedEvent          `json:"executionStarted,omitempty" yaml:"executionStarted,omitempty"`
	TaskScheduled             *TaskScheduledEvent             `json:"taskScheduled,omitempty" yaml:"taskScheduled,omitempty"`
	TaskCompleted             *TaskCompletedEvent             `json:"taskCompleted,omitempty" yaml:"taskCompleted,omitempty"`
	TaskFailed                *TaskFailedEvent                `json:"taskFailed,omitempty" yaml:"taskFailed,omitempty"`
	TimerCreated              *TimerCreatedEvent              `json:"timerCreated,omitempty" yaml:"timerCreated,omitempty"`
	TimerFired                *TimerFiredEvent                `json:"timerFired,omitempty" yaml:"timerFired,omitempty"`
	SubOrchestrationCreated   *SubOrchestrationCreatedEvent   `json:"subOrchestrationCreated,omitempty" yaml:"subOrchestrationCreated,omitempty"`
	SubOrchestrationCompleted *SubOrchestrationCompletedEvent `json:"subOrchestrationCompleted,omitempty" yaml:"subOrchestrationCompleted,omitempty"`
	SubOrchestrationFailed    *SubOrchestrationFailedEvent    `json:"subOrchestrationFailed,omitempty" yaml:"subOrchestrationFailed,omitempty"`
	EventRaised               *EventRaisedEvent               `json:"eventRaised,omitempty" yaml:"eventRaised,omitempty"`
	EventSent                 *EventSentEvent                 `json:"eventSent,omitempty" yaml:"eventSent,omitempty"`
	ExecutionTerminated       *ExecutionTerminatedEvent       `json:"executionTerminated,omitempty" yaml:"executionTerminated,omitempty"`
	ExecutionSuspended        *ExecutionSuspendedEvent        `json:"executionSuspended,omitempty" yaml:"executionSuspended,omitempty"`
	ExecutionResumed          *ExecutionResumedEvent          `json:"executionResumed,omitempty" yaml:"executionResumed,omitempty"`
	OrchestratorCompleted     *OrchestratorCompletedEvent     `json:"orchestratorCompleted,omitempty" yaml:"orchestratorCompleted,omitempty"`
}

type OrchestratorStartedEvent struct{}

type ExecutionStartedEvent struct {
	Name       string      `json:"name" yaml:"name"`
	InstanceID string      `json:"instanceId" yaml:"instanceId"`
	Input      string      `json:"input,omitempty" yaml:"input,omitempty"`
	Router     *TaskRouter `json:"router,omitempty" yaml:"router,omitempty"`
}

type TaskScheduledEvent struct {
	TaskID int32       `json:"taskId" yaml:"taskId"`
	Name   string      `json:"name" yaml:"name"`
	Input  string      `json:"input,omitempty" yaml:"input,omitempty"`
	Router *TaskRouter `json:"router,omitempty" yaml:"router,omitempty"`
}

type TaskCompletedEvent struct {
	TaskID int32  `json:"taskId" yaml:"taskId"`
	Result string `json:"result,omitempty" yaml:"result,omitempty"`
}

type TaskFailedEvent struct {
	TaskID         int32           `json:"taskId" yaml:"taskId"`
	FailureDetails *FailureDetails `json:"failureDetails,omitempty" yaml:"failureDetails,omitempty"`
}

type TimerCreatedEvent struct {
	TimerID int32     `json:"timerId" yaml:"timerId"`
	FireAt  time.Time `json:"fireAt" yaml:"fireAt"`
	Name    string    `json:"name,omitempty" yaml:"name,omitempty"`
}

type TimerFiredEvent struct {
	TimerID int32     `json:"timerId" yaml:"timerId"`
	FireAt  time.Time `json:"fireAt" yaml:"fireAt"`
}

type SubOrchestrationCreatedEvent struct {
	TaskID     int32       `json:"taskId" yaml:"taskId"`
	Name       string      `json:"name" yaml:"name"`
	InstanceID string      `json:"instanceId" yaml:"instanceId"`
	Input      string      `json:"input,omitempty" yaml:"input,omitempty"`
	Router     *TaskRouter `json:"router,omitempty" yaml:"router,omitempty"`
}

type SubOrchestrationCompletedEvent struct {
	TaskID int32  `json:"taskId" yaml:"taskId"`
	Result string `json:"result,omitempty" yaml:"result,omitempty"`
}

type SubOrchestrationFailedEvent struct {
	TaskID         int32           `json:"taskId" yaml:"taskId"`
	FailureDetails *FailureDetails `json:"failureDetails,omitempty" yaml:"failureDetails,omitempty"`
}

type EventRaisedEvent struct {
	Name  string `json:"name" yaml:"name"`
	Input string `json:"input,omitempty" yaml:"input,omitempty"`
}

type EventSentEvent struct {
	TaskID     int32  `json:"taskId" yaml:"taskId"`
	InstanceID string `json:"instanceId" yaml:"instanceId"`
	Name       string `json:"name" yaml:"name"`
	Input      string `json:"input,omitempty" yaml:"input,omitempty"`
}

type ExecutionTerminatedEvent struct {
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

type ExecutionSuspendedEvent struct {
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type ExecutionResumedEvent struct {
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type OrchestratorCompletedEvent struct{}

// Kind reports which variant is populated.
func (e *Event) Kind() EventKind {
	switch {
	case e == nil:
		return KindUnknown
	case e.OrchestratorStarted != nil:
		return KindOrchestratorStarted
	case e.ExecutionStarted != nil:
		return KindExecutionStarted
	case e.TaskScheduled != nil:
		return KindTaskScheduled
	case e.TaskCompleted != nil:
		return KindTaskCompleted
	case e.TaskFailed != nil:
		return KindTaskFailed
	case e.TimerCreated != nil:
		return KindTimerCreated
	case e.TimerFired != nil:
		return KindTimerFired
	case e.SubOrchestrationCreated != nil:
		return KindSubOrchestrationCreated
	case e.SubOrchestrationCompleted != nil:
		return KindSubOrchestrationCompleted
	case e.SubOrchestrationFailed != nil:
		return KindSubOrchestrationFailed
	case e.EventRaised != nil:
		return KindEventRaised
	case e.EventSent != nil:
		return KindEventSent
	case e.ExecutionTerminated != nil:
		return KindExecutionTerminated
	case e.ExecutionSuspended != nil:
		return KindExecutionSuspended
	case e.ExecutionResumed != nil:
		return KindExecutionResumed
	case e.OrchestratorCompleted != nil:
		return KindOrchestratorCompleted
	default:
		return KindUnknown
	}
}

func NewOrchestratorStartedEvent(ts time.Time) *Event {
	return &Event{EventID: -1, Timestamp: ts.UTC(), OrchestratorStarted: &OrchestratorStartedEvent{}}
}

func NewExecutionStartedEvent(name, instanceID, input string, router *TaskRouter) *Event {
	return &Event{EventID: -1, ExecutionStarted: &ExecutionStartedEvent{
		Name:       name,
		InstanceID: instanceID,
		Input:      input,
		Router:     router,
	}}
}

func NewTaskScheduledEvent(taskID int32, name, input string, router *TaskRouter) *Event {
	return &Event{EventID: -1, TaskScheduled: &TaskScheduledEvent{TaskID: taskID, Name: name, Input: input, Router: router}}
}

func NewTaskCompletedEvent(taskID int32, result string) *Event {
	return &Event{EventID: -1, TaskCompleted: &TaskCompletedEvent{TaskID: taskID, Result: result}}
}

func NewTaskFailedEvent(taskID int32, details *FailureDetails) *Event {
	return &Event{EventID: -1, TaskFailed: &TaskFailedEvent{TaskID: taskID, FailureDetails: details}}
}

func NewTimerCreatedEvent(timerID int32, fireAt time.Time, name string) *Event {
	return &Event{EventID: -1, TimerCreated: &TimerCreatedEvent{TimerID: timerID, FireAt: fireAt.UTC(), Name: name}}
}

func NewTimerFiredEvent(timerID int32, fireAt time.Time) *Event {
	return &Event{EventID: -1, TimerFired: &TimerFiredEvent{TimerID: timerID, FireAt: fireAt.UTC()}}
}

func NewSubOrchestrationCreatedEvent(taskID int32, name, instanceID, input string, router *TaskRouter) *Event {
	return &Event{EventID: -1, SubOrchestrationCreated: &SubOrchestrationCreatedEvent{
		TaskID:     taskID,
		Name:       name,
		InstanceID: instanceID,
		Input:      input,
		Router:     router,
	}}
}

func NewSubOrchestrationCompletedEvent(taskID int32, result string) *Event {
	return &Event{EventID: -1, SubOrchestrationCompleted: &SubOrchestrationCompletedEvent{TaskID: taskID, Result: result}}
}

func NewSubOrchestrationFailedEvent(taskID int32, details *FailureDetails) *Event {
	return &Event{EventID: -1, SubOrchestrationFailed: &SubOrchestrationFailedEvent{TaskID: taskID, FailureDetails: details}}
}

func NewEventRaisedEvent(name, input string) *Event {
	return &Event{EventID: -1, EventRaised: &EventRaisedEvent{Name: name, Input: input}}
}

func NewEventSentEvent(taskID int32, instanceID, name, input string) *Event {
	return &Event{EventID: -1, EventSent: &EventSentEvent{TaskID: taskID, InstanceID: instanceID, Name: name, Input: input}}
}

func NewExecutionTerminatedEvent(output string) *Event {
	return &Event{EventID: -1, ExecutionTerminated: &ExecutionTerminatedEvent{Output: output}}
}

func NewExecutionSuspendedEvent(reason string) *Event {
	return &Event{EventID: -1, ExecutionSuspended: &ExecutionSuspendedEvent{Reason: reason}}
}

func NewExecutionResumedEvent(reason string) *Event {
	return &Event{EventID: -1, ExecutionResumed: &ExecutionResumedEvent{Reason: reason}}
}

func NewOrchestratorCompletedEvent() *Event {
	return &Event{EventID: -1, OrchestratorCompleted: &OrchestratorCompletedEvent{}}
}
