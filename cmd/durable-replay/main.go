// Command durable-replay runs sample orchestrations against the in-process
// backend, records their history and replays recorded histories through the
// executor.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-durable/orchestration"
)

type cli struct {
	Config           string        `help:"YAML or JSON executor config file." type:"existingfile"`
	LogLevel         string        `name:"log-level" help:"Log level." default:"info" enum:"trace,debug,info,warn,error"`
	JSONLogs         bool          `name:"json-logs" help:"Write logs as JSON."`
	OtelEndpoint     string        `name:"otel-endpoint" help:"OTLP/HTTP endpoint receiving traces." env:"DURABLE_OTEL_ENDPOINT"`
	MaxTimerInterval time.Duration `name:"max-timer-interval" help:"Split timers longer than this, overrides the config file."`
}

// App carries what every subcommand needs.
type App struct {
	Registry *orchestration.Registry
	Config   orchestration.Config
	Logger   orchestration.Logger
	Out      io.Writer
}

// ExecutorOptions configures executors built by subcommands.
func (a *App) ExecutorOptions() []orchestration.Option {
	return []orchestration.Option{
		orchestration.WithConfig(a.Config),
		orchestration.WithLogger(a.Logger),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	commands := newCommandRegistry()
	for _, cmd := range []cliCommand{&replayCmd{}, &inspectCmd{}, &runCmd{}} {
		if err := commands.RegisterCommand(cmd); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if err := commands.Initialize(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	cmdOpts, err := commands.CLIOptions()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	var root cli
	exitCode := -1
	opts := append([]kong.Option{
		kong.Name("durable-replay"),
		kong.Description("Run and replay durable orchestrations."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
		kong.BindTo(ctx, (*context.Context)(nil)),
	}, cmdOpts...)

	parser, err := kong.New(&root, opts...)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	app, err := root.app(stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	shutdown, err := setupTracing(ctx, root.OtelEndpoint)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			app.Logger.Warn("trace shutdown failed: %v", err)
		}
	}()

	if err := kctx.Run(app); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func (c *cli) app(stdout, stderr io.Writer) (*App, error) {
	cfg := orchestration.DefaultConfig()
	if c.Config != "" {
		data, err := os.ReadFile(c.Config)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = orchestration.ParseConfig(data); err != nil {
			return nil, err
		}
	}
	cfg, err := orchestration.ConfigFromEnv(cfg)
	if err != nil {
		return nil, err
	}
	if c.MaxTimerInterval > 0 {
		cfg.MaximumTimerInterval = c.MaxTimerInterval
	}

	registry := orchestration.NewRegistry()
	if err := registerSamples(registry); err != nil {
		return nil, err
	}

	return &App{
		Registry: registry,
		Config:   cfg,
		Logger:   newLogger(stderr, c.LogLevel, c.JSONLogs),
		Out:      stdout,
	}, nil
}
