package orchestration

import (
	"errors"
	"time"

	"github.com/goliatone/go-durable/retry"
	"github.com/goliatone/go-durable/task"
)

// retrier re-invokes a task factory after failed attempts. Every attempt and
// every backoff timer takes its own sequence id, so replay reproduces the
// same number of attempts.
type retrier struct {
	oc        *Context
	name      string
	opts      *taskOptions
	factory   func() task.Task
	outer     *task.Completable
	attempt   int
	startedAt time.Time
}

func (oc *Context) withRetry(name string, o *taskOptions, factory func() task.Task) task.Task {
	if o == nil || (o.policy == nil && o.handler == nil) {
		return factory()
	}
	r := &retrier{
		oc:        oc,
		name:      name,
		opts:      o,
		factory:   factory,
		attempt:   1,
		startedAt: oc.currentTime,
	}
	first := factory()
	r.outer = task.New(first.ID(), name, oc.waiter)
	r.watch(first)
	return r.outer
}

func (r *retrier) watch(attempt task.Task) {
	attempt.ThenAccept(func(done task.Task) {
		if !done.IsFailed() || !r.shouldRetry(done.Err()) {
			r.outer.Resolve(done)
			return
		}
		failed := r.attempt
		r.attempt++

		var delay time.Duration
		if r.opts.policy != nil {
			delay = r.opts.policy.Delay(failed, done.Err())
		}
		r.oc.debug("retrying %s after attempt %d delay=%s", r.name, failed, delay)
		if delay <= 0 {
			r.watch(r.factory())
			return
		}
		r.oc.CreateTimer(delay).ThenAccept(func(timer task.Task) {
			if timer.IsFailed() {
				r.outer.Fail(timer.Err())
				return
			}
			r.watch(r.factory())
		})
	})
}

func (r *retrier) shouldRetry(err error) bool {
	var failed *task.TaskFailedError
	if !errors.As(err, &failed) || failed.IsNonRetriable() {
		return false
	}
	elapsed := r.oc.currentTime.Sub(r.startedAt)
	if r.opts.policy != nil {
		return r.opts.policy.ShouldRetry(r.attempt, err, elapsed)
	}
	return r.opts.handler(retry.Context{
		LastFailure:       err,
		LastAttemptNumber: r.attempt,
		TotalRetryTime:    elapsed,
	})
}
