package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// cliCommand is a subcommand mounted on the root parser at Initialize.
type cliCommand interface {
	CLIHandler() any
	CLIOptions() cliConfig
}

type cliConfig struct {
	Name        string
	Description string
	Group       string
	Aliases     []string
	Hidden      bool
}

// BuildTags renders the struct tags kong reads from dynamic commands.
func (c cliConfig) BuildTags() []string {
	tags := make([]string, 0, 2)
	if len(c.Aliases) > 0 {
		tags = append(tags, fmt.Sprintf("aliases:%q", strings.Join(c.Aliases, ",")))
	}
	if c.Hidden {
		tags = append(tags, `hidden:""`)
	}
	return tags
}

type commandRegistry struct {
	mu          sync.Mutex
	commands    []cliCommand
	cliOptions  []kong.Option
	initialized bool
}

func newCommandRegistry() *commandRegistry {
	return &commandRegistry{cliOptions: make([]kong.Option, 0)}
}

func (r *commandRegistry) RegisterCommand(cmd cliCommand) error {
	if cmd == nil {
		return errors.New("command cannot be nil", errors.CategoryBadInput).
			WithTextCode("NIL_COMMAND")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("cannot register commands after registry has been initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_ALREADY_INITIALIZED")
	}
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *commandRegistry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("registry already initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_ALREADY_INITIALIZED")
	}

	seen := make(map[string]bool, len(r.commands))
	for _, cmd := range r.commands {
		opts := cmd.CLIOptions()
		name := strings.TrimSpace(opts.Name)
		if name == "" || seen[name] {
			return errors.New("command name must be unique and non-empty", errors.CategoryBadInput).
				WithTextCode("INVALID_COMMAND_NAME").
				WithMetadata(map[string]any{"name": opts.Name})
		}
		seen[name] = true
		r.cliOptions = append(r.cliOptions, kong.DynamicCommand(
			name,
			opts.Description,
			opts.Group,
			cmd.CLIHandler(),
			opts.BuildTags()...,
		))
	}

	r.initialized = true
	return nil
}

func (r *commandRegistry) CLIOptions() ([]kong.Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, errors.New("registry not initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_NOT_INITIALIZED")
	}

	options := make([]kong.Option, len(r.cliOptions))
	copy(options, r.cliOptions)
	return options, nil
}
