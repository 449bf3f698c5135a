package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-durable/orchestration"
	"github.com/goliatone/go-durable/retry"
	"github.com/goliatone/go-durable/task"
)

// registerSamples installs the orchestrations the CLI can run and replay.
// Recorded histories only replay against the code that produced them, so
// these names are part of the tool's contract.
func registerSamples(r *orchestration.Registry) error {
	orchestrators := map[string]orchestration.Orchestrator{
		"HelloCities": helloCities,
		"FanOut":      fanOut,
		"Approval":    approval,
		"Counter":     counter,
		"Sleep":       sleep,
	}
	activities := map[string]orchestration.Activity{
		"SayHello": sayHello,
		"Square":   square,
	}
	for name, fn := range orchestrators {
		if err := r.AddOrchestrator(name, fn); err != nil {
			return err
		}
	}
	for name, fn := range activities {
		if err := r.AddActivity(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func helloCities(ctx *orchestration.Context) (any, error) {
	cities := []string{"Tokyo", "Seattle", "London"}
	if err := ctx.GetInput(&cities); err != nil {
		return nil, err
	}
	greetings := make([]string, 0, len(cities))
	for _, city := range cities {
		greeting, err := task.Get[string](ctx.CallActivity("SayHello", city))
		if err != nil {
			return nil, err
		}
		greetings = append(greetings, greeting)
	}
	ctx.Logger().Info("greeted %d cities", len(greetings))
	return greetings, nil
}

// fanOut squares every input in parallel and sums the results.
func fanOut(ctx *orchestration.Context) (any, error) {
	numbers := []int{1, 2, 3}
	if err := ctx.GetInput(&numbers); err != nil {
		return nil, err
	}
	policy := &retry.Policy{
		MaxAttempts: 3,
		Backoff: retry.ExponentialBackoffStrategy{
			Base:   time.Second,
			Factor: 2,
			Max:    10 * time.Second,
		},
	}
	tasks := make([]task.Task, 0, len(numbers))
	for _, n := range numbers {
		tasks = append(tasks, ctx.CallActivity("Square", n, orchestration.WithRetryPolicy(policy)))
	}
	var squares []int
	if err := task.AllOf(tasks...).Await(&squares); err != nil {
		return nil, err
	}
	sum := 0
	for _, sq := range squares {
		sum += sq
	}
	return sum, nil
}

// approval waits for an "Approval" event for the number of seconds given as
// input, 60 by default.
func approval(ctx *orchestration.Context) (any, error) {
	seconds := 60
	if err := ctx.GetInput(&seconds); err != nil {
		return nil, err
	}
	_ = ctx.SetCustomStatus("waiting for approval")

	event := ctx.WaitForExternalEvent("Approval", orchestration.WaitForever)
	timeout := ctx.CreateTimer(time.Duration(seconds) * time.Second)
	var winner task.Task
	if err := task.AnyOf(event, timeout).Await(&winner); err != nil {
		return nil, err
	}
	ctx.ClearCustomStatus()
	if winner == timeout {
		return "expired", nil
	}
	var answer string
	if err := event.Await(&answer); err != nil {
		return nil, err
	}
	return answer, nil
}

// counter continues as new until it reaches 3.
func counter(ctx *orchestration.Context) (any, error) {
	var n int
	if err := ctx.GetInput(&n); err != nil {
		return nil, err
	}
	if n >= 3 {
		return n, nil
	}
	if err := ctx.CreateTimer(time.Second).Await(nil); err != nil {
		return nil, err
	}
	ctx.ContinueAsNew(n + 1)
	return nil, nil
}

// sleep waits for the duration given as input, "1m" by default.
func sleep(ctx *orchestration.Context) (any, error) {
	raw := "1m"
	if err := ctx.GetInput(&raw); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if err := ctx.CreateTimer(d).Await(nil); err != nil {
		return nil, err
	}
	return ctx.CurrentTime().UTC().Format(time.RFC3339), nil
}

func sayHello(ctx *orchestration.ActivityContext) (any, error) {
	var city string
	if err := ctx.GetInput(&city); err != nil {
		return nil, err
	}
	if strings.TrimSpace(city) == "" {
		return nil, task.NonRetriable(fmt.Errorf("city is required"))
	}
	return "Hello, " + city + "!", nil
}

func square(ctx *orchestration.ActivityContext) (any, error) {
	var n int
	if err := ctx.GetInput(&n); err != nil {
		return nil, err
	}
	return n * n, nil
}
