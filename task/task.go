package task

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Task is an eventual result of a schedulable orchestration call.
type Task interface {
	// ID returns the sequence id correlating the task with history, or -1
	// when the task never reached the backend.
	ID() int32
	Name() string
	IsDone() bool
	IsFailed() bool
	// Err returns the failure once the task failed.
	Err() error
	// Await blocks the orchestration flow until the task resolves and decodes
	// the JSON result into v. A nil v skips decoding.
	Await(v any) error
	// ThenAccept registers fn to run synchronously once the task resolves.
	// It runs immediately when the task is already resolved.
	ThenAccept(fn func(Task))
}

// Waiter parks the calling flow until t resolves.
type Waiter interface {
	Wait(t Task) error
}

// Completable is the only Task implementation. The orchestration context
// resolves it from history events.
type Completable struct {
	id        int32
	name      string
	waiter    Waiter
	done      bool
	result    []byte
	err       error
	winner    Task
	callbacks []func(Task)

	// resolved orders resolutions, zero while pending.
	resolved uint64
}

var _ Task = (*Completable)(nil)

var resolutions atomic.Uint64

// New returns a pending task parked through w.
func New(id int32, name string, w Waiter) *Completable {
	return &Completable{id: id, name: name, waiter: w}
}

// Completed returns a task already resolved with result.
func Completed(name string, result []byte) *Completable {
	c := &Completable{id: -1, name: name}
	c.Complete(result)
	return c
}

// Failed returns a task already failed with err.
func Failed(name string, err error) *Completable {
	c := &Completable{id: -1, name: name}
	c.Fail(err)
	return c
}

func (c *Completable) ID() int32      { return c.id }
func (c *Completable) Name() string   { return c.name }
func (c *Completable) IsDone() bool   { return c.done }
func (c *Completable) IsFailed() bool { return c.done && c.err != nil }
func (c *Completable) Err() error     { return c.err }

// Result returns the raw JSON payload of a completed task.
func (c *Completable) Result() []byte { return c.result }

// Complete resolves the task. It returns false when already resolved.
func (c *Completable) Complete(result []byte) bool {
	if c.done {
		return false
	}
	c.done = true
	c.result = result
	c.resolved = resolutions.Add(1)
	c.fire()
	return true
}

// Fail resolves the task with err. It returns false when already resolved.
func (c *Completable) Fail(err error) bool {
	if c.done {
		return false
	}
	if err == nil {
		err = fmt.Errorf("task %q failed", c.name)
	}
	c.done = true
	c.err = err
	c.resolved = resolutions.Add(1)
	c.fire()
	return true
}

// Resolve copies the outcome of from into c.
func (c *Completable) Resolve(from Task) bool {
	if from == nil || !from.IsDone() {
		return false
	}
	if from.IsFailed() {
		return c.Fail(from.Err())
	}
	if src, ok := from.(*Completable); ok {
		if src.winner != nil {
			if c.done {
				return false
			}
			c.winner = src.winner
		}
		return c.Complete(src.result)
	}
	return c.Complete(nil)
}

func (c *Completable) ThenAccept(fn func(Task)) {
	if fn == nil {
		return
	}
	if c.done {
		fn(c)
		return
	}
	c.callbacks = append(c.callbacks, fn)
}

func (c *Completable) Await(v any) error {
	if !c.done {
		if c.waiter == nil {
			return fmt.Errorf("task %q (#%d) is not complete and has no waiter", c.name, c.id)
		}
		if err := c.waiter.Wait(c); err != nil {
			return err
		}
		if !c.done {
			return fmt.Errorf("task %q (#%d) resumed before completion", c.name, c.id)
		}
	}
	if c.err != nil {
		return c.err
	}
	if v == nil {
		return nil
	}
	if c.winner != nil {
		out, ok := v.(*Task)
		if !ok {
			return fmt.Errorf("any-of result must be awaited into *task.Task, got %T", v)
		}
		*out = c.winner
		return nil
	}
	if len(c.result) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.result, v); err != nil {
		return fmt.Errorf("decode result of task %q (#%d): %w", c.name, c.id, err)
	}
	return nil
}

func (c *Completable) fire() {
	callbacks := c.callbacks
	c.callbacks = nil
	for _, fn := range callbacks {
		fn(c)
	}
}

// Get awaits t and decodes its result into a T.
func Get[T any](t Task) (T, error) {
	var out T
	if t == nil {
		return out, fmt.Errorf("nil task")
	}
	err := t.Await(&out)
	return out, err
}

// ThenApply returns a task resolved with fn's output once t resolves. A
// failure of t skips fn and propagates.
func ThenApply[U any](t Task, fn func(Task) (U, error)) Task {
	out := &Completable{id: t.ID(), name: t.Name(), waiter: waiterOf(t)}
	t.ThenAccept(func(done Task) {
		if done.IsFailed() {
			out.Fail(done.Err())
			return
		}
		value, err := fn(done)
		if err != nil {
			out.Fail(err)
			return
		}
		raw, err := json.Marshal(value)
		if err != nil {
			out.Fail(err)
			return
		}
		out.Complete(raw)
	})
	return out
}

// Winner returns the winning task of an any-of task.
func Winner(t Task) (Task, bool) {
	c, ok := t.(*Completable)
	if !ok || c.winner == nil {
		return nil, false
	}
	return c.winner, true
}

func waiterOf(t Task) Waiter {
	if c, ok := t.(*Completable); ok {
		return c.waiter
	}
	return nil
}
