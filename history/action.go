package history

import "time"

// RuntimeStatus is the status reported for an orchestration instance.
type RuntimeStatus string

const (
	StatusRunning        RuntimeStatus = "running"
	StatusCompleted      RuntimeStatus = "completed"
	StatusFailed         RuntimeStatus = "failed"
	StatusContinuedAsNew RuntimeStatus = "continued_as_new"
	StatusTerminated     RuntimeStatus = "terminated"
	StatusSuspended      RuntimeStatus = "suspended"
)

// IsTerminal reports whether the status ends the current execution.
func (s RuntimeStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusContinuedAsNew, StatusTerminated:
		return true
	default:
		return false
	}
}

// ActionKind names the populated variant of an Action.
type ActionKind string

const (
	ActionUnknown                ActionKind = "unknown"
	ActionScheduleTask           ActionKind = "schedule_task"
	ActionCreateTimer            ActionKind = "create_timer"
	ActionCreateSubOrchestration ActionKind = "create_sub_orchestration"
	ActionSendEvent              ActionKind = "send_event"
	ActionCompleteOrchestration  ActionKind = "complete_orchestration"
)

// Action is an orchestrator decision to be recorded by the backend.
// Exactly one variant is set.
type Action struct {
	ID     int32       `json:"id" yaml:"id"`
	Router *TaskRouter `json:"router,omitempty" yaml:"router,omitempty"`

	ScheduleTask           *ScheduleTaskAction           `json:"scheduleTask,omitempty" yaml:"scheduleTask,omitempty"`
	CreateTimer            *CreateTimerAction            `json:"createTimer,omitempty" yaml:"createTimer,omitempty"`
	CreateSubOrchestration *CreateSubOrchestrationAction `json:"createSubOrchestration,omitempty" yaml:"createSubOrchestration,omitempty"`
	SendEvent              *SendEventAction              `json:"sendEvent,omitempty" yaml:"sendEvent,omitempty"`
	CompleteOrchestration  *CompleteOrchestrationAction  `json:"completeOrchestration,omitempty" yaml:"completeOrchestration,omitempty"`
}

type ScheduleTaskAction struct {
	Name   string      `json:"name" yaml:"name"`
	Input  string      `json:"input,omitempty" yaml:"input,omitempty"`
	Router *TaskRouter `json:"router,omitempty" yaml:"router,omitempty"`
}

type CreateTimerAction struct {
	FireAt time.Time `json:"fireAt" yaml:"fireAt"`
	Name   string    `json:"name,omitempty" yaml:"name,omitempty"`
}

type CreateSubOrchestrationAction struct {
	Name       string      `json:"name" yaml:"name"`
	InstanceID string      `json:"instanceId" yaml:"instanceId"`
	Input      string      `json:"input,omitempty" yaml:"input,omitempty"`
	Router     *TaskRouter `json:"router,omitempty" yaml:"router,omitempty"`
}

type SendEventAction struct {
	InstanceID string `json:"instanceId" yaml:"instanceId"`
	Name       string `json:"name" yaml:"name"`
	Data       string `json:"data,omitempty" yaml:"data,omitempty"`
}

type CompleteOrchestrationAction struct {
	Status          RuntimeStatus   `json:"status" yaml:"status"`
	Result          string          `json:"result,omitempty" yaml:"result,omitempty"`
	FailureDetails  *FailureDetails `json:"failureDetails,omitempty" yaml:"failureDetails,omitempty"`
	CarryoverEvents []*Event        `json:"carryoverEvents,omitempty" yaml:"carryoverEvents,omitempty"`
}

// Kind reports which variant is populated.
func (a *Action) Kind() ActionKind {
	switch {
	case a == nil:
		return ActionUnknown
	case a.ScheduleTask != nil:
		return ActionScheduleTask
	case a.CreateTimer != nil:
		return ActionCreateTimer
	case a.CreateSubOrchestration != nil:
		return ActionCreateSubOrchestration
	case a.SendEvent != nil:
		return ActionSendEvent
	case a.CompleteOrchestration != nil:
		return ActionCompleteOrchestration
	default:
		return ActionUnknown
	}
}

// ScheduledEvent returns the history event a backend records once it
// accepted a. CompleteOrchestration actions have no such event and return nil.
func ScheduledEvent(a *Action, ts time.Time) *Event {
	var ev *Event
	switch {
	case a == nil:
		return nil
	case a.ScheduleTask != nil:
		ev = NewTaskScheduledEvent(a.ID, a.ScheduleTask.Name, a.ScheduleTask.Input, a.ScheduleTask.Router)
	case a.CreateTimer != nil:
		ev = NewTimerCreatedEvent(a.ID, a.CreateTimer.FireAt, a.CreateTimer.Name)
	case a.CreateSubOrchestration != nil:
		s := a.CreateSubOrchestration
		ev = NewSubOrchestrationCreatedEvent(a.ID, s.Name, s.InstanceID, s.Input, s.Router)
	case a.SendEvent != nil:
		ev = NewEventSentEvent(a.ID, a.SendEvent.InstanceID, a.SendEvent.Name, a.SendEvent.Data)
	default:
		return nil
	}
	ev.Timestamp = ts.UTC()
	return ev
}
