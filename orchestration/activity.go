package orchestration

import (
	"fmt"

	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/task"
)

// CallActivity schedules the named activity with input encoded as JSON.
func (oc *Context) CallActivity(name string, input any, opts ...TaskOption) task.Task {
	o, err := newTaskOptions(opts)
	if err != nil {
		return task.Failed(name, err)
	}
	raw, err := encodePayload(input)
	if err != nil {
		return task.Failed(name, fmt.Errorf("encode input of activity %q: %w", name, err))
	}

	return oc.withRetry(name, o, func() task.Task {
		id := oc.nextID()
		oc.addAction(&history.Action{
			ID:     id,
			Router: oc.routerFor(o.appID),
			ScheduleTask: &history.ScheduleTaskAction{
				Name:   name,
				Input:  raw,
				Router: oc.routerFor(o.appID),
			},
		})
		return oc.newTask(id, name)
	})
}

// CallSubOrchestrator schedules a child orchestration. Without
// WithInstanceID the child instance id is derived from NewUUID.
func (oc *Context) CallSubOrchestrator(name string, input any, opts ...TaskOption) task.Task {
	o, err := newTaskOptions(opts)
	if err != nil {
		return task.Failed(name, err)
	}
	raw, err := encodePayload(input)
	if err != nil {
		return task.Failed(name, fmt.Errorf("encode input of sub-orchestration %q: %w", name, err))
	}
	instanceID := o.instanceID
	if instanceID == "" {
		instanceID = oc.NewUUID().String()
	}

	return oc.withRetry(name, o, func() task.Task {
		id := oc.nextID()
		oc.addAction(&history.Action{
			ID:     id,
			Router: oc.routerFor(o.appID),
			CreateSubOrchestration: &history.CreateSubOrchestrationAction{
				Name:       name,
				InstanceID: instanceID,
				Input:      raw,
				Router:     oc.routerFor(o.appID),
			},
		})
		return oc.newTask(id, name)
	})
}
