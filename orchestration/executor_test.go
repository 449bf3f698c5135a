package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/retry"
	"github.com/goliatone/go-durable/task"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T, register func(r *Registry), opts ...Option) *Executor {
	t.Helper()
	r := NewRegistry()
	register(r)
	return NewExecutor(r, append([]Option{WithLogger(NopLogger{})}, opts...)...)
}

func startEvents(name, instanceID, input string, router *history.TaskRouter) []*history.Event {
	return []*history.Event{
		history.NewOrchestratorStartedEvent(t0),
		history.NewExecutionStartedEvent(name, instanceID, input, router),
	}
}

func concat(parts ...[]*history.Event) []*history.Event {
	var out []*history.Event
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func events(evs ...*history.Event) []*history.Event { return evs }

func execute(t *testing.T, e *Executor, past, newEvents []*history.Event) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), past, newEvents)
	require.NoError(t, err)
	return res
}

func greetTwice(ctx *Context) (any, error) {
	var first, second string
	if err := ctx.CallActivity("Hello", "Tokyo").Await(&first); err != nil {
		return nil, err
	}
	if err := ctx.CallActivity("Hello", "London").Await(&second); err != nil {
		return nil, err
	}
	return []string{first, second}, nil
}

func TestExecuteSchedulesActivitiesInProgramOrder(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Greet", greetTwice))
	})

	start := startEvents("Greet", "i1", "", nil)
	res := execute(t, e, nil, start)
	assert.Equal(t, history.StatusRunning, res.Status)
	assert.False(t, res.IsComplete)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(0), res.Actions[0].ID)
	assert.Equal(t, "Hello", res.Actions[0].ScheduleTask.Name)
	assert.Equal(t, `"Tokyo"`, res.Actions[0].ScheduleTask.Input)
	assert.Nil(t, res.Actions[0].Router)

	past := concat(start, events(history.NewTaskScheduledEvent(0, "Hello", `"Tokyo"`, nil)))
	next := events(
		history.NewOrchestratorStartedEvent(t0.Add(time.Second)),
		history.NewTaskCompletedEvent(0, `"Hello Tokyo"`),
	)
	res = execute(t, e, past, next)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(1), res.Actions[0].ID)
	assert.Equal(t, `"London"`, res.Actions[0].ScheduleTask.Input)

	past = concat(past, next, events(history.NewTaskScheduledEvent(1, "Hello", `"London"`, nil)))
	res = execute(t, e, past, events(
		history.NewOrchestratorStartedEvent(t0.Add(2*time.Second)),
		history.NewTaskCompletedEvent(1, `"Hello London"`),
	))
	assert.True(t, res.IsComplete)
	assert.Equal(t, history.StatusCompleted, res.Status)
	assert.JSONEq(t, `["Hello Tokyo","Hello London"]`, res.Output)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(2), res.Actions[0].ID)
	assert.Equal(t, history.StatusCompleted, res.Actions[0].CompleteOrchestration.Status)
	assert.Nil(t, res.Actions[0].Router)
}

func TestExecuteIsReplayingFlipsAtPastBoundary(t *testing.T) {
	var seen []bool
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			seen = append(seen, ctx.IsReplaying())
			if err := ctx.CallActivity("A", nil).Await(nil); err != nil {
				return nil, err
			}
			seen = append(seen, ctx.IsReplaying())
			if err := ctx.CallActivity("B", nil).Await(nil); err != nil {
				return nil, err
			}
			seen = append(seen, ctx.IsReplaying())
			return nil, nil
		}))
	})

	past := concat(startEvents("Flow", "i1", "", nil), events(
		history.NewTaskScheduledEvent(0, "A", "", nil),
		history.NewTaskCompletedEvent(0, ""),
	))
	res := execute(t, e, past, events(
		history.NewTaskScheduledEvent(1, "B", "", nil),
		history.NewTaskCompletedEvent(1, ""),
	))
	assert.Equal(t, history.StatusCompleted, res.Status)
	assert.Equal(t, []bool{true, true, false}, seen)
}

func TestExecuteSequenceIdsAreStableAcrossReplays(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Fan", func(ctx *Context) (any, error) {
			tasks := []task.Task{
				ctx.CallActivity("A", 1),
				ctx.CreateTimer(time.Minute),
				ctx.CallSubOrchestrator("Child", nil, WithInstanceID("child")),
			}
			return nil, task.AllOf(tasks...).Await(nil)
		}))
	})

	start := startEvents("Fan", "i1", "", nil)
	first := execute(t, e, nil, start)
	second := execute(t, e, start, nil)
	require.Len(t, first.Actions, 3)
	require.Len(t, second.Actions, 3)
	for i := range first.Actions {
		assert.Equal(t, first.Actions[i].ID, second.Actions[i].ID)
		assert.Equal(t, first.Actions[i].Kind(), second.Actions[i].Kind())
	}
	assert.Equal(t, []history.ActionKind{
		history.ActionScheduleTask,
		history.ActionCreateTimer,
		history.ActionCreateSubOrchestration,
	}, []history.ActionKind{first.Actions[0].Kind(), first.Actions[1].Kind(), first.Actions[2].Kind()})
}

func TestExecuteFailsOnNonDeterministicHistory(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Greet", greetTwice))
	})

	res := execute(t, e, startEvents("Greet", "i1", "", nil), events(
		history.NewTaskScheduledEvent(0, "Goodbye", "", nil),
	))
	assert.Equal(t, history.StatusFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, durable.ErrCodeNonDeterminism, res.Failure.ErrorType)

	res = execute(t, e, startEvents("Greet", "i1", "", nil), events(
		history.NewTimerCreatedEvent(0, t0.Add(time.Minute), ""),
	))
	assert.Equal(t, history.StatusFailed, res.Status)
	assert.Equal(t, durable.ErrCodeNonDeterminism, res.Failure.ErrorType)
}

func TestExecuteChecksSchedulingEventsAfterCompletion(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Done", func(*Context) (any, error) {
			return "done", nil
		}))
		require.NoError(t, r.AddOrchestrator("Notify", func(ctx *Context) (any, error) {
			ctx.CallActivity("Audit", nil)
			return "ok", nil
		}))
	})

	past := concat(startEvents("Done", "i1", "", nil), events(
		history.NewTaskScheduledEvent(0, "A", "", nil),
		history.NewOrchestratorCompletedEvent(),
	))
	res := execute(t, e, past, events(history.NewTaskCompletedEvent(0, "")))
	assert.Equal(t, history.StatusFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, durable.ErrCodeNonDeterminism, res.Failure.ErrorType)
	assert.Empty(t, res.Output)
	require.Len(t, res.Actions, 1)
	complete := res.Actions[0].CompleteOrchestration
	require.NotNil(t, complete)
	assert.Equal(t, history.StatusFailed, complete.Status)
	assert.Empty(t, complete.Result)
	assert.Equal(t, durable.ErrCodeNonDeterminism, complete.FailureDetails.ErrorType)

	res = execute(t, e, nil, concat(startEvents("Notify", "i2", "", nil), events(
		history.NewTaskScheduledEvent(0, "Audit", "", nil),
		history.NewOrchestratorCompletedEvent(),
	)))
	assert.Equal(t, history.StatusCompleted, res.Status)
	assert.Equal(t, `"ok"`, res.Output)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(1), res.Actions[0].ID)
	assert.NotNil(t, res.Actions[0].CompleteOrchestration)
}

func TestExecuteIgnoresCompletionForUnknownTask(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Greet", greetTwice))
	})
	res := execute(t, e, startEvents("Greet", "i1", "", nil), events(
		history.NewTaskCompletedEvent(42, `"stray"`),
	))
	assert.Equal(t, history.StatusRunning, res.Status)
	require.Len(t, res.Actions, 1)
}

func TestExecuteHarnessErrors(t *testing.T) {
	e := newTestExecutor(t, func(*Registry) {})

	_, err := e.Execute(context.Background(), nil, nil)
	assert.True(t, durable.HasCode(err, durable.ErrCodeEmptyHistory))

	_, err = e.Execute(context.Background(), events(history.NewOrchestratorStartedEvent(t0)), nil)
	assert.True(t, durable.HasCode(err, durable.ErrCodeInvalidHistory))

	_, err = e.Execute(context.Background(), events(nil), nil)
	assert.True(t, durable.HasCode(err, durable.ErrCodeInvalidHistory))

	limited := newTestExecutor(t, func(*Registry) {}, WithConfig(Config{MaxHistoryEvents: 1}))
	_, err = limited.Execute(context.Background(), startEvents("x", "i1", "", nil), nil)
	assert.True(t, durable.HasCode(err, durable.ErrCodeInvalidHistory))

	var nilExec *Executor
	_, err = nilExec.Execute(context.Background(), startEvents("x", "i1", "", nil), nil)
	require.Error(t, err)
}

func TestExecuteUnknownOrchestratorFails(t *testing.T) {
	e := newTestExecutor(t, func(*Registry) {})
	res := execute(t, e, nil, startEvents("Missing", "i1", "", nil))
	assert.Equal(t, history.StatusFailed, res.Status)
	assert.Equal(t, durable.ErrCodeOrchestratorNotFound, res.Failure.ErrorType)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(0), res.Actions[0].ID)
}

func TestExecuteDefaultOrchestratorServesUnknownNames(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator(DefaultOrchestratorName, func(ctx *Context) (any, error) {
			return ctx.Name(), nil
		}))
	})
	res := execute(t, e, nil, startEvents("Anything", "i1", "", nil))
	assert.Equal(t, history.StatusCompleted, res.Status)
	assert.Equal(t, `"Anything"`, res.Output)
}

func TestExecuteUserErrorsAndPanics(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Err", func(*Context) (any, error) {
			return nil, errors.New("bad input")
		}))
		require.NoError(t, r.AddOrchestrator("Panic", func(*Context) (any, error) {
			panic("kaboom")
		}))
		require.NoError(t, r.AddOrchestrator("Unhandled", func(ctx *Context) (any, error) {
			return nil, ctx.CallActivity("Charge", nil).Await(nil)
		}))
	})

	res := execute(t, e, nil, startEvents("Err", "i1", "", nil))
	assert.Equal(t, history.StatusFailed, res.Status)
	assert.Equal(t, "errors.errorString", res.Failure.ErrorType)
	assert.Equal(t, "bad input", res.Failure.ErrorMessage)

	res = execute(t, e, nil, startEvents("Panic", "i2", "", nil))
	assert.Equal(t, history.StatusFailed, res.Status)
	assert.Equal(t, "panic", res.Failure.ErrorType)
	assert.Equal(t, "panic: kaboom", res.Failure.ErrorMessage)
	assert.NotEmpty(t, res.Failure.StackTrace)

	inner := &history.FailureDetails{ErrorType: "PaymentError", ErrorMessage: "declined"}
	res = execute(t, e, startEvents("Unhandled", "i3", "", nil), events(
		history.NewTaskScheduledEvent(0, "Charge", "", nil),
		history.NewTaskFailedEvent(0, inner),
	))
	assert.Equal(t, history.StatusFailed, res.Status)
	assert.Equal(t, "TaskFailedError", res.Failure.ErrorType)
	assert.Equal(t, "Task 'Charge' (#0) failed with an unhandled exception: declined", res.Failure.ErrorMessage)
	assert.Equal(t, inner, res.Failure.InnerFailure)
}

func TestExecuteCompleteStopsTheFlow(t *testing.T) {
	reached := false
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Early", func(ctx *Context) (any, error) {
			ctx.Complete("early")
			reached = true
			return "late", nil
		}))
	})
	res := execute(t, e, nil, startEvents("Early", "i1", "", nil))
	assert.Equal(t, `"early"`, res.Output)
	assert.False(t, reached)
}

func TestExecuteAwaitOutsideFlowIsRejected(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			a := ctx.CallActivity("A", nil)
			b := ctx.CallActivity("B", nil)
			var awaitErr error
			a.ThenAccept(func(task.Task) {
				awaitErr = b.Await(nil)
			})
			if err := a.Await(nil); err != nil {
				return nil, err
			}
			return durable.ErrorCode(awaitErr), nil
		}))
	})
	res := execute(t, e, startEvents("Flow", "i1", "", nil), events(
		history.NewTaskScheduledEvent(0, "A", "", nil),
		history.NewTaskScheduledEvent(1, "B", "", nil),
		history.NewTaskCompletedEvent(0, ""),
	))
	assert.Equal(t, history.StatusCompleted, res.Status)
	assert.Equal(t, `"`+durable.ErrCodeAwaitOutsideFlow+`"`, res.Output)
}

func TestTimerChunkingKeepsOneSequenceID(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Sleep", func(ctx *Context) (any, error) {
			if err := ctx.CreateTimer(7 * time.Second).Await(nil); err != nil {
				return nil, err
			}
			return ctx.CurrentTime().Sub(t0).String(), nil
		}))
	}, WithMaximumTimerInterval(3*time.Second))

	past := startEvents("Sleep", "i1", "", nil)
	res := execute(t, e, nil, past)
	var fireTimes []time.Duration
	for step := 0; step < 5 && !res.IsComplete; step++ {
		require.Len(t, res.Actions, 1)
		action := res.Actions[0]
		require.NotNil(t, action.CreateTimer)
		assert.Equal(t, int32(0), action.ID)
		fireAt := action.CreateTimer.FireAt
		fireTimes = append(fireTimes, fireAt.Sub(t0))

		next := events(
			history.NewTimerCreatedEvent(0, fireAt, ""),
			history.NewOrchestratorStartedEvent(fireAt),
			history.NewTimerFiredEvent(0, fireAt),
		)
		res = execute(t, e, past, next)
		past = concat(past, next)
	}

	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 7 * time.Second}, fireTimes)
	require.True(t, res.IsComplete)
	assert.Equal(t, `"7s"`, res.Output)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(1), res.Actions[0].ID)
}

func TestZeroTimerResolvesWithoutSequenceID(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			if err := ctx.CreateTimer(0).Await(nil); err != nil {
				return nil, err
			}
			if err := ctx.CreateTimerAt(t0.Add(-time.Hour)).Await(nil); err != nil {
				return nil, err
			}
			return nil, ctx.CallActivity("A", nil).Await(nil)
		}))
	})
	res := execute(t, e, nil, startEvents("Flow", "i1", "", nil))
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(0), res.Actions[0].ID)
	assert.NotNil(t, res.Actions[0].ScheduleTask)
}

func TestCreateScheduledTimer(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Cron", func(ctx *Context) (any, error) {
			if err := ctx.CreateScheduledTimer("not a cron").Await(nil); !durable.HasCode(err, durable.ErrCodeInvalidOptions) {
				return nil, errors.New("expected invalid cron error")
			}
			return nil, ctx.CreateScheduledTimer("0 9 * * *").Await(nil)
		}))
	})
	res := execute(t, e, nil, startEvents("Cron", "i1", "", nil))
	require.Len(t, res.Actions, 1)
	require.NotNil(t, res.Actions[0].CreateTimer)
	assert.Equal(t, t0.Add(9*time.Hour), res.Actions[0].CreateTimer.FireAt)
	assert.Equal(t, "0 9 * * *", res.Actions[0].CreateTimer.Name)
}

func approvalFlow(ctx *Context) (any, error) {
	approval := ctx.WaitForExternalEvent("Approval", WaitForever)
	timeout := ctx.CreateTimer(20 * time.Second)
	var winner task.Task
	if err := task.AnyOf(approval, timeout).Await(&winner); err != nil {
		return nil, err
	}
	if winner == timeout {
		return "timeout", nil
	}
	var answer string
	if err := approval.Await(&answer); err != nil {
		return nil, err
	}
	return answer, nil
}

func TestAnyOfEventBeatsChunkedTimer(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Approve", approvalFlow))
	}, WithMaximumTimerInterval(3*time.Second))

	start := startEvents("Approve", "i1", "", nil)
	res := execute(t, e, nil, start)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(1), res.Actions[0].ID)
	assert.Equal(t, t0.Add(3*time.Second), res.Actions[0].CreateTimer.FireAt)

	past := concat(start, events(history.NewTimerCreatedEvent(1, t0.Add(3*time.Second), "")))
	res = execute(t, e, past, events(
		history.NewOrchestratorStartedEvent(t0),
		history.NewEventRaisedEvent("APPROVAL", `"yes"`),
	))
	require.True(t, res.IsComplete)
	assert.Equal(t, `"yes"`, res.Output)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(2), res.Actions[0].ID)
}

func TestAnyOfTimerWins(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Approve", approvalFlow))
	})
	fire := t0.Add(20 * time.Second)
	res := execute(t, e, startEvents("Approve", "i1", "", nil), events(
		history.NewTimerCreatedEvent(1, fire, ""),
		history.NewOrchestratorStartedEvent(fire),
		history.NewTimerFiredEvent(1, fire),
	))
	assert.Equal(t, `"timeout"`, res.Output)
}

func TestAnyOfPicksEarliestCompletionInHistory(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Race", func(ctx *Context) (any, error) {
			a := ctx.CallActivity("A", nil)
			b := ctx.CallActivity("B", nil)
			if err := ctx.CallActivity("X", nil).Await(nil); err != nil {
				return nil, err
			}
			var winner task.Task
			if err := task.AnyOf(a, b).Await(&winner); err != nil {
				return nil, err
			}
			return winner.Name(), nil
		}))
	})
	res := execute(t, e, startEvents("Race", "i1", "", nil), events(
		history.NewTaskScheduledEvent(0, "A", "", nil),
		history.NewTaskScheduledEvent(1, "B", "", nil),
		history.NewTaskScheduledEvent(2, "X", "", nil),
		history.NewTaskCompletedEvent(1, ""),
		history.NewTaskCompletedEvent(0, ""),
		history.NewTaskCompletedEvent(2, ""),
	))
	require.Equal(t, history.StatusCompleted, res.Status, "failure: %+v", res.Failure)
	assert.Equal(t, `"B"`, res.Output)
}

func TestWaitForExternalEventTimeoutAndLateEvent(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Wait", func(ctx *Context) (any, error) {
			var first string
			err := ctx.WaitForExternalEvent("Approval", time.Minute).Await(&first)
			var canceled *task.TaskCanceledError
			if !errors.As(err, &canceled) {
				return nil, errors.New("expected the first wait to time out")
			}
			if err := ctx.CallActivity("Notify", nil).Await(nil); err != nil {
				return nil, err
			}
			var second string
			if err := ctx.WaitForExternalEvent("approval", 0).Await(&second); err != nil {
				return nil, err
			}
			return canceled.Message + "|" + second, nil
		}))
	})

	fire := t0.Add(time.Minute)
	res := execute(t, e, startEvents("Wait", "i1", "", nil), events(
		history.NewTimerCreatedEvent(1, fire, ""),
		history.NewOrchestratorStartedEvent(fire),
		history.NewTimerFiredEvent(1, fire),
		history.NewTaskScheduledEvent(2, "Notify", "", nil),
		history.NewEventRaisedEvent("Approval", `"late"`),
		history.NewTaskCompletedEvent(2, ""),
	))
	require.Equal(t, history.StatusCompleted, res.Status, "failure: %+v", res.Failure)
	assert.Equal(t, `"Timeout of 1m0s expired while waiting for an event named 'Approval' (ID = 0).|late"`, res.Output)
}

func TestWaitForExternalEventZeroTimeoutCancels(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Wait", func(ctx *Context) (any, error) {
			err := ctx.WaitForExternalEvent("Nope", 0).Await(nil)
			var canceled *task.TaskCanceledError
			return errors.As(err, &canceled), nil
		}))
	})
	res := execute(t, e, nil, startEvents("Wait", "i1", "", nil))
	assert.Equal(t, "true", res.Output)
}

func TestExternalEventsMatchWaitersFIFO(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Fifo", func(ctx *Context) (any, error) {
			a := ctx.WaitForExternalEvent("tick", WaitForever)
			b := ctx.WaitForExternalEvent("TICK", WaitForever)
			results, err := task.Get[[]int](task.AllOf(a, b))
			return results, err
		}))
	})
	res := execute(t, e, startEvents("Fifo", "i1", "", nil), events(
		history.NewEventRaisedEvent("Tick", "1"),
		history.NewEventRaisedEvent("tick", "2"),
	))
	assert.JSONEq(t, `[1,2]`, res.Output)
}

func TestContinueAsNewCarriesBufferedEvents(t *testing.T) {
	flow := func(preserve bool) Orchestrator {
		return func(ctx *Context) (any, error) {
			var n int
			if err := ctx.GetInput(&n); err != nil {
				return nil, err
			}
			if err := ctx.CallActivity("Step", n).Await(nil); err != nil {
				return nil, err
			}
			ctx.CallActivity("Dropped", nil)
			if preserve {
				ctx.ContinueAsNew(n+1, WithPreserveUnprocessedEvents())
			} else {
				ctx.ContinueAsNew(n + 1)
			}
			return nil, errors.New("unreachable")
		}
	}
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Keep", flow(true)))
		require.NoError(t, r.AddOrchestrator("Drop", flow(false)))
	})

	run := func(name string) *Result {
		return execute(t, e, startEvents(name, "i1", "0", nil), events(
			history.NewTaskScheduledEvent(0, "Step", "0", nil),
			history.NewEventRaisedEvent("extra", `"a"`),
			history.NewEventRaisedEvent("other", `"b"`),
			history.NewTaskCompletedEvent(0, ""),
		))
	}

	res := run("Keep")
	assert.Equal(t, history.StatusContinuedAsNew, res.Status)
	require.Len(t, res.Actions, 1)
	complete := res.Actions[0].CompleteOrchestration
	require.NotNil(t, complete)
	assert.Equal(t, int32(2), res.Actions[0].ID)
	assert.Equal(t, "1", complete.Result)
	require.Len(t, complete.CarryoverEvents, 2)
	assert.Equal(t, "extra", complete.CarryoverEvents[0].EventRaised.Name)
	assert.Equal(t, "other", complete.CarryoverEvents[1].EventRaised.Name)

	res = run("Drop")
	assert.Equal(t, history.StatusContinuedAsNew, res.Status)
	assert.Empty(t, res.Actions[0].CompleteOrchestration.CarryoverEvents)

	// the next generation starts counting from zero again
	res = execute(t, e, nil, startEvents("Keep", "i1", "1", nil))
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(0), res.Actions[0].ID)
	assert.Equal(t, "1", res.Actions[0].ScheduleTask.Input)
}

func TestContinueAsNewCarriesEventsRaisedAfterTheCall(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Loop", func(ctx *Context) (any, error) {
			if err := ctx.CallActivity("Step", nil).Await(nil); err != nil {
				return nil, err
			}
			ctx.ContinueAsNew(1, WithPreserveUnprocessedEvents())
			return nil, nil
		}))
	})
	carried := func(res *Result) []string {
		require.Equal(t, history.StatusContinuedAsNew, res.Status, "failure: %+v", res.Failure)
		require.Len(t, res.Actions, 1)
		var names []string
		for _, ev := range res.Actions[0].CompleteOrchestration.CarryoverEvents {
			names = append(names, ev.EventRaised.Name)
		}
		return names
	}

	res := execute(t, e, startEvents("Loop", "i1", "", nil), events(
		history.NewEventRaisedEvent("early", `"a"`),
		history.NewTaskScheduledEvent(0, "Step", "", nil),
		history.NewTaskCompletedEvent(0, ""),
		history.NewEventRaisedEvent("late", `"b"`),
		history.NewOrchestratorStartedEvent(t0.Add(time.Second)),
		history.NewEventRaisedEvent("later", `"c"`),
	))
	assert.Equal(t, []string{"early", "late", "later"}, carried(res))
	assert.Equal(t, "1", res.Output)

	// events buffered while suspended are carried once the resume completes the flow
	res = execute(t, e, startEvents("Loop", "i2", "", nil), events(
		history.NewTaskScheduledEvent(0, "Step", "", nil),
		history.NewExecutionSuspendedEvent("pause"),
		history.NewTaskCompletedEvent(0, ""),
		history.NewEventRaisedEvent("held", `"d"`),
		history.NewExecutionResumedEvent(""),
	))
	assert.Equal(t, []string{"held"}, carried(res))
}

func TestCrossAppRouting(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Parent", func(ctx *Context) (any, error) {
			child := ctx.CallSubOrchestrator("Child", nil, WithAppID("app2"), WithInstanceID("child-1"))
			local := ctx.CallActivity("Local", nil, WithAppID("  "))
			return nil, task.AllOf(child, local).Await(nil)
		}))
	})

	res := execute(t, e, nil, startEvents("Parent", "p1", "", &history.TaskRouter{SourceAppID: "app1"}))
	require.Len(t, res.Actions, 2)
	sub := res.Actions[0]
	assert.Equal(t, &history.TaskRouter{SourceAppID: "app1", TargetAppID: "app2"}, sub.Router)
	assert.Equal(t, &history.TaskRouter{SourceAppID: "app1", TargetAppID: "app2"}, sub.CreateSubOrchestration.Router)
	assert.Equal(t, "child-1", sub.CreateSubOrchestration.InstanceID)
	assert.Equal(t, &history.TaskRouter{SourceAppID: "app1"}, res.Actions[1].Router)

	past := concat(startEvents("Parent", "p1", "", &history.TaskRouter{SourceAppID: "app1"}), events(
		history.NewSubOrchestrationCreatedEvent(0, "Child", "child-1", "", nil),
		history.NewTaskScheduledEvent(1, "Local", "", nil),
	))
	res = execute(t, e, past, events(
		history.NewSubOrchestrationCompletedEvent(0, ""),
		history.NewTaskCompletedEvent(1, ""),
	))
	require.True(t, res.IsComplete)
	assert.Equal(t, &history.TaskRouter{SourceAppID: "app1"}, res.Actions[0].Router)

	// a target on the start event is this execution's identity
	res = execute(t, e, nil, startEvents("Parent", "p2", "", &history.TaskRouter{SourceAppID: "app0", TargetAppID: "app1"}))
	assert.Equal(t, "app1", res.Actions[0].Router.SourceAppID)
}

func TestNoRouterWithoutAppID(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Parent", func(ctx *Context) (any, error) {
			return nil, ctx.CallSubOrchestrator("Child", nil).Await(nil)
		}))
	})
	start := startEvents("Parent", "p1", "", nil)
	res := execute(t, e, nil, start)
	require.Len(t, res.Actions, 1)
	assert.Nil(t, res.Actions[0].Router)
	assert.Nil(t, res.Actions[0].CreateSubOrchestration.Router)
	childID := res.Actions[0].CreateSubOrchestration.InstanceID
	_, err := uuid.Parse(childID)
	require.NoError(t, err)

	res = execute(t, e, concat(start, events(history.NewSubOrchestrationCreatedEvent(0, "Child", childID, "", nil))), events(
		history.NewSubOrchestrationFailedEvent(0, &history.FailureDetails{ErrorType: "x", ErrorMessage: "child broke"}),
	))
	assert.Equal(t, history.StatusFailed, res.Status)
	assert.Nil(t, res.Actions[0].Router)
	assert.Equal(t, "Task 'Child' (#0) failed with an unhandled exception: child broke", res.Failure.ErrorMessage)
}

func TestNewUUIDIsDeterministic(t *testing.T) {
	var mu sync.Mutex
	ids := map[string][]uuid.UUID{}
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("IDs", func(ctx *Context) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			ids[ctx.InstanceID()] = append(ids[ctx.InstanceID()], ctx.NewUUID(), ctx.NewUUID())
			return nil, nil
		}))
	})
	execute(t, e, nil, startEvents("IDs", "a", "", nil))
	execute(t, e, nil, startEvents("IDs", "a", "", nil))
	execute(t, e, nil, startEvents("IDs", "b", "", nil))

	require.Len(t, ids["a"], 4)
	assert.Equal(t, ids["a"][0], ids["a"][2])
	assert.Equal(t, ids["a"][1], ids["a"][3])
	assert.NotEqual(t, ids["a"][0], ids["a"][1])
	assert.NotEqual(t, ids["a"][0], ids["b"][0])
	assert.Equal(t, uuid.Version(5), ids["a"][0].Version())
}

func TestCustomStatusAndSendEvent(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Status", func(ctx *Context) (any, error) {
			if err := ctx.SetCustomStatus(map[string]int{"step": 1}); err != nil {
				return nil, err
			}
			if err := ctx.SendEvent("other", "Ping", "hi"); err != nil {
				return nil, err
			}
			return nil, ctx.CreateTimer(time.Hour).Await(nil)
		}))
		require.NoError(t, r.AddOrchestrator("Cleared", func(ctx *Context) (any, error) {
			_ = ctx.SetCustomStatus("x")
			ctx.ClearCustomStatus()
			return nil, nil
		}))
	})

	start := startEvents("Status", "i1", "", nil)
	res := execute(t, e, nil, start)
	assert.JSONEq(t, `{"step":1}`, res.CustomStatus)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, &history.SendEventAction{InstanceID: "other", Name: "Ping", Data: `"hi"`}, res.Actions[0].SendEvent)

	res = execute(t, e, concat(start, events(history.NewEventSentEvent(0, "other", "Ping", `"hi"`))), nil)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, history.ActionCreateTimer, res.Actions[0].Kind())

	res = execute(t, e, nil, startEvents("Cleared", "i2", "", nil))
	assert.Empty(t, res.CustomStatus)
}

func TestSuspendBuffersEventsUntilResume(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			return task.Get[string](ctx.CallActivity("A", nil))
		}))
	})
	suspended := concat(startEvents("Flow", "i1", "", nil), events(
		history.NewTaskScheduledEvent(0, "A", "", nil),
		history.NewExecutionSuspendedEvent("maintenance"),
		history.NewTaskCompletedEvent(0, `"done"`),
	))
	res := execute(t, e, nil, suspended)
	assert.Equal(t, history.StatusSuspended, res.Status)
	assert.Empty(t, res.Actions)

	res = execute(t, e, suspended, events(history.NewExecutionResumedEvent("")))
	assert.Equal(t, history.StatusCompleted, res.Status)
	assert.Equal(t, `"done"`, res.Output)
}

func TestTerminateEndsTheOrchestration(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			return nil, ctx.CallActivity("A", nil).Await(nil)
		}))
	})
	res := execute(t, e, startEvents("Flow", "i1", "", &history.TaskRouter{SourceAppID: "app1"}), events(
		history.NewTaskScheduledEvent(0, "A", "", nil),
		history.NewExecutionTerminatedEvent(`"stopped"`),
		history.NewTaskCompletedEvent(0, ""),
	))
	assert.Equal(t, history.StatusTerminated, res.Status)
	assert.Equal(t, `"stopped"`, res.Output)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, history.StatusTerminated, res.Actions[0].CompleteOrchestration.Status)
	assert.Equal(t, &history.TaskRouter{SourceAppID: "app1"}, res.Actions[0].Router)
}

func TestInvalidTaskOptionsFailTheTask(t *testing.T) {
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			err := ctx.CallActivity("A", nil,
				WithRetryPolicy(&retry.Policy{MaxAttempts: 2}),
				WithRetryHandler(func(retry.Context) bool { return true }),
			).Await(nil)
			if !durable.HasCode(err, durable.ErrCodeInvalidOptions) {
				return nil, errors.New("expected invalid options")
			}
			err = ctx.CallSubOrchestrator("Child", nil, WithRetryPolicy(&retry.Policy{})).Await(nil)
			return durable.HasCode(err, durable.ErrCodeInvalidOptions), nil
		}))
	})
	res := execute(t, e, nil, startEvents("Flow", "i1", "", nil))
	assert.Equal(t, "true", res.Output)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(0), res.Actions[0].ID)
}

func TestRetryPolicyInsertsBackoffTimers(t *testing.T) {
	policy := &retry.Policy{MaxAttempts: 2, Backoff: retry.FixedDelayStrategy{Delay: 5 * time.Second}}
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			return task.Get[int](ctx.CallActivity("Flaky", nil, WithRetryPolicy(policy)))
		}))
	})
	start := startEvents("Flow", "i1", "", nil)
	failure := &history.FailureDetails{ErrorType: "x", ErrorMessage: "flaky"}

	past := concat(start, events(history.NewTaskScheduledEvent(0, "Flaky", "", nil)))
	res := execute(t, e, past, events(
		history.NewOrchestratorStartedEvent(t0.Add(time.Second)),
		history.NewTaskFailedEvent(0, failure),
	))
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(1), res.Actions[0].ID)
	assert.Equal(t, t0.Add(6*time.Second), res.Actions[0].CreateTimer.FireAt)

	past = concat(past, events(
		history.NewOrchestratorStartedEvent(t0.Add(time.Second)),
		history.NewTaskFailedEvent(0, failure),
		history.NewTimerCreatedEvent(1, t0.Add(6*time.Second), ""),
	))
	res = execute(t, e, past, events(
		history.NewOrchestratorStartedEvent(t0.Add(6*time.Second)),
		history.NewTimerFiredEvent(1, t0.Add(6*time.Second)),
	))
	require.Len(t, res.Actions, 1)
	assert.Equal(t, int32(2), res.Actions[0].ID)
	assert.Equal(t, "Flaky", res.Actions[0].ScheduleTask.Name)

	res = execute(t, e, past, events(
		history.NewOrchestratorStartedEvent(t0.Add(6*time.Second)),
		history.NewTimerFiredEvent(1, t0.Add(6*time.Second)),
		history.NewTaskScheduledEvent(2, "Flaky", "", nil),
		history.NewTaskCompletedEvent(2, "5"),
	))
	assert.Equal(t, "5", res.Output)
}

type recordingLogger struct {
	NopLogger
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func (l *recordingLogger) WithContext(context.Context) Logger { return l }

func TestReplaySafeLoggerSkipsReplayedLines(t *testing.T) {
	logger := &recordingLogger{}
	e := newTestExecutor(t, func(r *Registry) {
		require.NoError(t, r.AddOrchestrator("Flow", func(ctx *Context) (any, error) {
			ctx.Logger().Info("before")
			if err := ctx.CallActivity("A", nil).Await(nil); err != nil {
				return nil, err
			}
			ctx.Logger().Info("after")
			return nil, nil
		}))
	}, WithLogger(logger))

	past := concat(startEvents("Flow", "i1", "", nil), events(history.NewTaskScheduledEvent(0, "A", "", nil)))
	execute(t, e, past, events(history.NewTaskCompletedEvent(0, "")))
	assert.Equal(t, []string{"after"}, logger.lines)
}
