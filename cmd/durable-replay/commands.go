package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/durabletest"
	"github.com/goliatone/go-durable/history"
	"github.com/goliatone/go-durable/historystore"
	"github.com/goliatone/go-durable/orchestration"
	"github.com/goliatone/go-durable/worker"
)

// report is the printable outcome of one execution.
type report struct {
	InstanceID   string                  `json:"instanceId" yaml:"instanceId"`
	Name         string                  `json:"name" yaml:"name"`
	Status       history.RuntimeStatus   `json:"status" yaml:"status"`
	Output       string                  `json:"output,omitempty" yaml:"output,omitempty"`
	CustomStatus string                  `json:"customStatus,omitempty" yaml:"customStatus,omitempty"`
	Failure      *history.FailureDetails `json:"failure,omitempty" yaml:"failure,omitempty"`
	Actions      []*history.Action       `json:"actions,omitempty" yaml:"actions,omitempty"`
}

func newReport(res *orchestration.Result) report {
	return report{
		InstanceID:   res.InstanceID,
		Name:         res.Name,
		Status:       res.Status,
		Output:       res.Output,
		CustomStatus: res.CustomStatus,
		Failure:      res.Failure,
		Actions:      res.Actions,
	}
}

func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func readDocument(path string) (*history.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	doc, err := history.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type replayCmd struct {
	File   string `arg:"" help:"Recorded history, JSON or YAML." type:"existingfile"`
	Split  int    `help:"Number of leading events treated as already processed." default:"0"`
	Format string `help:"Output format." default:"json" enum:"json,yaml"`
}

func (c *replayCmd) CLIOptions() cliConfig {
	return cliConfig{
		Name:        "replay",
		Description: "Replay a recorded history and print the resulting decisions.",
		Aliases:     []string{"r"},
	}
}

func (c *replayCmd) CLIHandler() any { return c }

func (c *replayCmd) Run(ctx context.Context, app *App) error {
	doc, err := readDocument(c.File)
	if err != nil {
		return err
	}
	if c.Split < 0 || c.Split > len(doc.Events) {
		return fmt.Errorf("split %d out of range [0, %d]", c.Split, len(doc.Events))
	}

	w := worker.New(app.Registry,
		worker.WithLogger(app.Logger),
		worker.WithExecutor(orchestration.NewExecutor(app.Registry, app.ExecutorOptions()...)),
	)
	res, err := w.ProcessOrchestration(ctx, doc.Events[:c.Split], doc.Events[c.Split:])
	if err != nil {
		return err
	}
	return writeFormatted(app.Out, c.Format, newReport(res))
}

type inspectCmd struct {
	File string `arg:"" help:"Recorded history, JSON or YAML." type:"existingfile"`
}

func (c *inspectCmd) CLIOptions() cliConfig {
	return cliConfig{
		Name:        "inspect",
		Description: "Print a recorded history as a table.",
		Aliases:     []string{"i"},
	}
}

func (c *inspectCmd) CLIHandler() any { return c }

func (c *inspectCmd) Run(app *App) error {
	doc, err := readDocument(c.File)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTIMESTAMP\tDETAIL")
	counts := map[history.EventKind]int{}
	for _, ev := range doc.Events {
		if ev == nil {
			continue
		}
		kind := ev.Kind()
		counts[kind]++
		ts := ""
		if !ev.Timestamp.IsZero() {
			ts = ev.Timestamp.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.EventID, kind, ts, describe(ev))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	kinds := make([]history.EventKind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	fmt.Fprintln(app.Out)
	for _, kind := range kinds {
		fmt.Fprintf(app.Out, "%s: %d\n", kind, counts[kind])
	}
	return nil
}

func describe(ev *history.Event) string {
	switch {
	case ev.ExecutionStarted != nil:
		return fmt.Sprintf("%s instance=%s input=%s", ev.ExecutionStarted.Name, ev.ExecutionStarted.InstanceID, ev.ExecutionStarted.Input)
	case ev.TaskScheduled != nil:
		return fmt.Sprintf("%s input=%s", ev.TaskScheduled.Name, ev.TaskScheduled.Input)
	case ev.TaskCompleted != nil:
		return fmt.Sprintf("task=%d result=%s", ev.TaskCompleted.TaskID, ev.TaskCompleted.Result)
	case ev.TaskFailed != nil:
		return fmt.Sprintf("task=%d %s", ev.TaskFailed.TaskID, failureText(ev.TaskFailed.FailureDetails))
	case ev.TimerCreated != nil:
		return "fire_at=" + ev.TimerCreated.FireAt.UTC().Format(time.RFC3339)
	case ev.TimerFired != nil:
		return fmt.Sprintf("timer=%d", ev.TimerFired.TimerID)
	case ev.SubOrchestrationCreated != nil:
		return fmt.Sprintf("%s instance=%s", ev.SubOrchestrationCreated.Name, ev.SubOrchestrationCreated.InstanceID)
	case ev.SubOrchestrationCompleted != nil:
		return fmt.Sprintf("task=%d result=%s", ev.SubOrchestrationCompleted.TaskID, ev.SubOrchestrationCompleted.Result)
	case ev.SubOrchestrationFailed != nil:
		return fmt.Sprintf("task=%d %s", ev.SubOrchestrationFailed.TaskID, failureText(ev.SubOrchestrationFailed.FailureDetails))
	case ev.EventRaised != nil:
		return fmt.Sprintf("%s input=%s", ev.EventRaised.Name, ev.EventRaised.Input)
	case ev.EventSent != nil:
		return fmt.Sprintf("%s to=%s", ev.EventSent.Name, ev.EventSent.InstanceID)
	case ev.ExecutionTerminated != nil:
		return "output=" + ev.ExecutionTerminated.Output
	case ev.ExecutionSuspended != nil:
		return ev.ExecutionSuspended.Reason
	case ev.ExecutionResumed != nil:
		return ev.ExecutionResumed.Reason
	}
	return ""
}

func failureText(f *history.FailureDetails) string {
	if f == nil {
		return ""
	}
	return f.ErrorType + ": " + f.ErrorMessage
}

type runCmd struct {
	Orchestrator string   `arg:"" help:"Registered orchestrator name."`
	Input        string   `help:"JSON input."`
	InstanceID   string   `name:"instance-id" help:"Instance id." default:"instance-1"`
	AppID        string   `name:"app-id" help:"App id stamped on the start event."`
	Events       []string `name:"event" help:"External event raised before running, as NAME=JSON. Repeatable." sep:"none"`
	Store        string   `help:"SQLite DSN persisting the history, in memory when empty."`
	Out          string   `help:"Write the recorded history document to this file." type:"path"`
	Format       string   `help:"Output format." default:"json" enum:"json,yaml"`
}

func (c *runCmd) CLIOptions() cliConfig {
	return cliConfig{
		Name:        "run",
		Description: "Run an orchestration to idle on the in-process backend.",
	}
}

func (c *runCmd) CLIHandler() any { return c }

func (c *runCmd) Run(ctx context.Context, app *App) error {
	if _, ok := app.Registry.Orchestrator(c.Orchestrator); !ok {
		return durable.NewError(durable.ErrOrchestratorNotFound,
			fmt.Sprintf("orchestrator %q is not registered, known: %s", c.Orchestrator, strings.Join(app.Registry.OrchestratorNames(), ", ")),
			nil, map[string]any{"name": c.Orchestrator})
	}
	opts := []durabletest.Option{
		durabletest.WithLogger(app.Logger),
		durabletest.WithExecutorOptions(app.ExecutorOptions()...),
	}
	if c.Store != "" {
		store, err := historystore.OpenSQLite(ctx, c.Store, "")
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, durabletest.WithStore(store))
	}
	backend := durabletest.New(app.Registry, opts...)

	var router *history.TaskRouter
	if appID := strings.TrimSpace(c.AppID); appID != "" {
		router = &history.TaskRouter{SourceAppID: appID}
	}
	input, err := jsonArg("input", c.Input)
	if err != nil {
		return err
	}
	if err := backend.Start(c.Orchestrator, c.InstanceID, input, router); err != nil {
		return err
	}
	for _, raw := range c.Events {
		name, data, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("event %q: expected NAME=JSON", raw)
		}
		payload, err := jsonArg("event "+name, data)
		if err != nil {
			return err
		}
		if err := backend.RaiseEvent(c.InstanceID, strings.TrimSpace(name), payload); err != nil {
			return err
		}
	}

	if err := backend.RunUntilIdle(ctx); err != nil {
		return err
	}
	res, ok := backend.Result(c.InstanceID)
	if !ok {
		return fmt.Errorf("instance %q produced no result", c.InstanceID)
	}

	if c.Out != "" {
		events, err := backend.History(ctx, c.InstanceID)
		if err != nil {
			return err
		}
		doc := &history.Document{
			InstanceID: c.InstanceID,
			Events:     events,
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.Out, data, 0o644); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		app.Logger.Info("wrote %d events to %s", len(events), c.Out)
	}
	return writeFormatted(app.Out, c.Format, newReport(res))
}

// jsonArg turns a command-line JSON value into a payload the backend passes
// through unchanged.
func jsonArg(what, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("%s is not valid JSON: %s", what, raw)
	}
	return json.RawMessage(raw), nil
}
