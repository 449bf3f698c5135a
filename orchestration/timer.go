package orchestration

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/task"
)

// CreateTimer returns a task that resolves once delay has elapsed in
// orchestration time. Non-positive delays resolve immediately without a
// backend round trip.
func (oc *Context) CreateTimer(delay time.Duration) task.Task {
	return oc.createTimer(oc.currentTime.Add(delay), "")
}

// CreateTimerAt returns a task that resolves at fireAt.
func (oc *Context) CreateTimerAt(fireAt time.Time) task.Task {
	return oc.createTimer(fireAt.UTC(), "")
}

// CreateScheduledTimer resolves at the next time matching a standard cron
// expression, computed from CurrentTime.
func (oc *Context) CreateScheduledTimer(expr string) task.Task {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return task.Failed(expr, durable.NewError(durable.ErrInvalidOptions,
			fmt.Sprintf("invalid cron expression %q: %v", expr, err), err,
			map[string]any{"expression": expr}))
	}
	next := schedule.Next(oc.currentTime)
	if next.IsZero() {
		return task.Failed(expr, durable.NewError(durable.ErrInvalidOptions,
			fmt.Sprintf("cron expression %q has no upcoming occurrence", expr), nil,
			map[string]any{"expression": expr}))
	}
	return oc.createTimer(next.UTC(), expr)
}

// createTimer takes a single sequence id for the logical timer. When the
// delay exceeds the maximum timer interval the same id is reused for every
// link of the chain.
func (oc *Context) createTimer(fireAt time.Time, name string) task.Task {
	if !fireAt.After(oc.currentTime) {
		return task.Completed(name, nil)
	}
	id := oc.nextID()
	outer := task.New(id, name, oc.waiter)
	oc.scheduleTimerLink(id, outer, fireAt, name)
	return outer
}

func (oc *Context) scheduleTimerLink(id int32, outer *task.Completable, finalAt time.Time, name string) {
	linkAt := finalAt
	if limit := oc.exec.config.MaximumTimerInterval; limit > 0 && finalAt.Sub(oc.currentTime) > limit {
		linkAt = oc.currentTime.Add(limit)
	}

	oc.addAction(&history.Action{
		ID:          id,
		CreateTimer: &history.CreateTimerAction{FireAt: linkAt, Name: name},
	})
	link := oc.newTask(id, name)
	link.ThenAccept(func(fired task.Task) {
		if fired.IsFailed() {
			outer.Fail(fired.Err())
			return
		}
		if !linkAt.Before(finalAt) || !oc.currentTime.Before(finalAt) {
			outer.Complete(nil)
			return
		}
		oc.debug("scheduling next timer link id=%d fire_at=%s final=%s", id, oc.currentTime, finalAt)
		oc.scheduleTimerLink(id, outer, finalAt, name)
	})
}
