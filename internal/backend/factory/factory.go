package factory

import (
	"fmt"

	"cligate/internal/backend"
	"cligate/internal/backend/claude"
	"cligate/internal/backend/copilot"
	"cligate/internal/config"
	"cligate/internal/discovery"
	"cligate/internal/workspace"
)

const workspacePrefix = "cligate"

// Components is everything the request pipeline needs from the backend side.
type Components struct {
	Backend    backend.Backend
	Discovery  *discovery.Service
	Runner     *backend.Runner
	Workspaces *workspace.Manager
}

// Option customises Build.
type Option func(*backend.RunnerOptions)

// WithCommand replaces the process constructor, mainly for tests.
func WithCommand(fn backend.CommandFunc) Option {
	return func(o *backend.RunnerOptions) {
		o.Command = fn
	}
}

// Build selects the configured backend variant and its model discovery.
func Build(cfg config.Config, opts ...Option) (Components, error) {
	runnerOpts := backend.RunnerOptions{
		Timeout:       cfg.Backend.Timeout,
		MaxConcurrent: cfg.Backend.MaxConcurrent,
		Env:           cfg.Backend.Env,
	}
	for _, opt := range opts {
		opt(&runnerOpts)
	}
	runner := backend.NewRunner(runnerOpts)

	workspaces, err := workspace.NewManager(cfg.Backend.TempDirBase, workspacePrefix)
	if err != nil {
		return Components{}, fmt.Errorf("initialise workspaces: %w", err)
	}

	components := Components{Runner: runner, Workspaces: workspaces}

	switch cfg.Backend.Service {
	case copilot.Name:
		b, err := copilot.New(cfg.Backend.Copilot.CLIPath, runner, workspaces)
		if err != nil {
			return Components{}, fmt.Errorf("initialise copilot backend: %w", err)
		}
		components.Backend = b
		components.Discovery = discovery.NewDynamic(
			discovery.NewCLIProber(runner, copilot.Name, cfg.Backend.Copilot.CLIPath),
			discovery.NewCache(),
		)
	case claude.Name:
		b, err := claude.New(cfg.Backend.Claude.CLIPath, cfg.Backend.Claude.Model, runner, workspaces)
		if err != nil {
			return Components{}, fmt.Errorf("initialise claude backend: %w", err)
		}
		components.Backend = b
		components.Discovery = discovery.NewFixed(cfg.Backend.Claude.Model)
	default:
		return Components{}, fmt.Errorf("%w: %q", backend.ErrUnknownBackend, cfg.Backend.Service)
	}

	return components, nil
}
