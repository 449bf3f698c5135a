package task

import (
	"encoding/json"
	"fmt"
)

// AllOf resolves once every task resolved. Results are collected as a JSON
// array in input order. When any task failed the result is a
// *CompositeTaskFailedError listing the failures in input order.
func AllOf(tasks ...Task) Task {
	out := &Completable{id: -1, name: "allOf", waiter: firstWaiter(tasks)}
	if len(tasks) == 0 {
		out.Complete([]byte("[]"))
		return out
	}

	remaining := len(tasks)
	for _, t := range tasks {
		t.ThenAccept(func(Task) {
			remaining--
			if remaining == 0 {
				settleAll(out, tasks)
			}
		})
	}
	return out
}

func settleAll(out *Completable, tasks []Task) {
	var failures []error
	results := make([]json.RawMessage, len(tasks))
	for i, t := range tasks {
		if t.IsFailed() {
			failures = append(failures, t.Err())
			continue
		}
		raw := rawResult(t)
		if len(raw) == 0 {
			raw = []byte("null")
		}
		results[i] = raw
	}
	if len(failures) > 0 {
		out.Fail(&CompositeTaskFailedError{Failures: failures, Total: len(tasks)})
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		out.Fail(fmt.Errorf("encode all-of results: %w", err))
		return
	}
	out.Complete(raw)
}

// AnyOf resolves with the first task to resolve, in the order tasks were
// resolved by history. Await the result into a *Task to obtain the winner,
// then await the winner for its value. AnyOf never fails on its own.
// Losing tasks keep running.
func AnyOf(tasks ...Task) Task {
	out := &Completable{id: -1, name: "anyOf", waiter: firstWaiter(tasks)}
	if len(tasks) == 0 {
		out.Fail(fmt.Errorf("any-of requires at least one task"))
		return out
	}
	// among tasks resolved before the call, the earliest resolution wins
	var first Task
	for _, t := range tasks {
		if t.IsDone() && (first == nil || resolvedAt(t) < resolvedAt(first)) {
			first = t
		}
	}
	if first != nil {
		out.winner = first
		out.Complete(nil)
		return out
	}
	for _, t := range tasks {
		t.ThenAccept(func(done Task) {
			if out.done {
				return
			}
			out.winner = done
			out.Complete(nil)
		})
	}
	return out
}

func resolvedAt(t Task) uint64 {
	if c, ok := t.(*Completable); ok {
		return c.resolved
	}
	return 0
}

func rawResult(t Task) []byte {
	if c, ok := t.(*Completable); ok {
		return c.result
	}
	return nil
}

func firstWaiter(tasks []Task) Waiter {
	for _, t := range tasks {
		if w := waiterOf(t); w != nil {
			return w
		}
	}
	return nil
}
