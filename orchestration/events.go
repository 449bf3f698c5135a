package orchestration

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/task"
)

// WaitForever disables the timeout of WaitForExternalEvent.
const WaitForever time.Duration = -1

// WaitForExternalEvent returns a task resolved with the input of the next
// event raised with name, compared case-insensitively. A negative timeout
// waits forever, a zero timeout only accepts an already buffered event, and
// a positive timeout fails the task with *task.TaskCanceledError when the
// timer fires first. Events arriving after a timeout stay buffered for the
// next waiter.
func (oc *Context) WaitForExternalEvent(name string, timeout time.Duration) task.Task {
	id := oc.nextID()
	key := strings.ToUpper(name)
	t := task.New(id, name, oc.waiter)

	if ev, ok := oc.takeBufferedEvent(key); ok {
		t.Complete(payloadBytes(ev.EventRaised.Input))
		return t
	}

	canceled := &task.TaskCanceledError{
		TaskName: name,
		TaskID:   id,
		Message:  fmt.Sprintf("Timeout of %s expired while waiting for an event named '%s' (ID = %d).", timeout, name, id),
	}
	if timeout == 0 {
		t.Fail(canceled)
		return t
	}

	oc.eventWaiters[key] = append(oc.eventWaiters[key], t)
	if timeout > 0 {
		oc.CreateTimer(timeout).ThenAccept(func(task.Task) {
			if t.IsDone() {
				return
			}
			oc.removeWaiter(key, t)
			t.Fail(canceled)
		})
	}
	return t
}

// SendEvent raises an event on another orchestration instance.
func (oc *Context) SendEvent(instanceID, name string, data any) error {
	raw, err := encodePayload(data)
	if err != nil {
		return fmt.Errorf("encode event %q: %w", name, err)
	}
	oc.addAction(&history.Action{
		ID: oc.nextID(),
		SendEvent: &history.SendEventAction{
			InstanceID: instanceID,
			Name:       name,
			Data:       raw,
		},
	})
	return nil
}

func (oc *Context) onEventRaised(ev *history.Event) {
	key := strings.ToUpper(ev.EventRaised.Name)
	if waiters := oc.eventWaiters[key]; len(waiters) > 0 {
		t := waiters[0]
		if len(waiters) == 1 {
			delete(oc.eventWaiters, key)
		} else {
			oc.eventWaiters[key] = waiters[1:]
		}
		t.Complete(payloadBytes(ev.EventRaised.Input))
		return
	}
	oc.bufferedEvents = append(oc.bufferedEvents, ev)
}

func (oc *Context) takeBufferedEvent(key string) (*history.Event, bool) {
	i := slices.IndexFunc(oc.bufferedEvents, func(ev *history.Event) bool {
		return strings.ToUpper(ev.EventRaised.Name) == key
	})
	if i < 0 {
		return nil, false
	}
	ev := oc.bufferedEvents[i]
	oc.bufferedEvents = slices.Delete(oc.bufferedEvents, i, i+1)
	return ev, true
}

func (oc *Context) removeWaiter(key string, t *task.Completable) {
	waiters := oc.eventWaiters[key]
	if i := slices.Index(waiters, t); i >= 0 {
		waiters = slices.Delete(waiters, i, i+1)
	}
	if len(waiters) == 0 {
		delete(oc.eventWaiters, key)
		return
	}
	oc.eventWaiters[key] = waiters
}

func payloadBytes(raw string) []byte {
	if raw == "" {
		return nil
	}
	return []byte(raw)
}
