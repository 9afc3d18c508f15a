package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cligate/internal/models"
	"cligate/internal/transform"
	"cligate/internal/workspace"
)

const versionProbeTimeout = 5 * time.Second

var systemReminderPattern = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// Sink receives the fragments of a streaming execution followed by Done on a
// clean exit.
type Sink interface {
	Fragment(text string) error
	Done() error
}

// Delta is a structured streaming fragment for consumers that build their own
// wire frames.
type Delta struct {
	Content string
}

// Backend executes conversations through a local CLI agent.
type Backend interface {
	Name() string
	// ResolveModel maps a requested model to the one the CLI will run.
	ResolveModel(requested string) string
	// Execute runs the CLI to completion and returns its cleaned output
	// together with the model that actually served the request.
	Execute(ctx context.Context, messages []models.ChatMessage, model string) (models.Completion, error)
	// ExecuteStream forwards raw stdout fragments to sink as they arrive.
	ExecuteStream(ctx context.Context, messages []models.ChatMessage, model string, sink Sink) error
	// ExecuteDeltas is ExecuteStream for callers that want Delta values.
	ExecuteDeltas(ctx context.Context, messages []models.ChatMessage, model string, onDelta func(Delta) error) error
	// Version reports the CLI's version string, failing when it is unusable.
	Version(ctx context.Context) (string, error)
}

// Variant captures what differs between CLI agents: argument contract,
// system prompt delivery and output noise.
type Variant interface {
	Name() string
	CLIPath() string
	Artifact() workspace.Artifact
	// Model maps the requested model to the one passed to the CLI.
	Model(requested string) string
	Args(prompt, model, artifactPath string, stream bool) []string
	Clean(output string) string
}

// CLI implements Backend for any Variant.
type CLI struct {
	variant    Variant
	runner     *Runner
	workspaces *workspace.Manager
}

var _ Backend = (*CLI)(nil)

// NewCLI wires a variant to the shared runner and workspace manager.
func NewCLI(variant Variant, runner *Runner, workspaces *workspace.Manager) (*CLI, error) {
	if variant == nil {
		return nil, errors.New("backend variant must not be nil")
	}
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}
	if workspaces == nil {
		return nil, errors.New("workspace manager must not be nil")
	}
	if strings.TrimSpace(variant.CLIPath()) == "" {
		return nil, fmt.Errorf("%s: cli path must not be empty", variant.Name())
	}
	return &CLI{variant: variant, runner: runner, workspaces: workspaces}, nil
}

func (c *CLI) Name() string {
	return c.variant.Name()
}

func (c *CLI) ResolveModel(requested string) string {
	return c.variant.Model(requested)
}

func (c *CLI) Execute(ctx context.Context, messages []models.ChatMessage, model string) (models.Completion, error) {
	model = c.variant.Model(model)

	var output string
	err := c.withWorkspace(messages, model, false, func(inv Invocation) error {
		out, err := c.runner.Run(ctx, inv)
		if err != nil {
			return err
		}
		output = c.variant.Clean(out)
		return nil
	})
	if err != nil {
		return models.Completion{}, err
	}
	return models.Completion{Model: model, Text: output}, nil
}

func (c *CLI) ExecuteStream(ctx context.Context, messages []models.ChatMessage, model string, sink Sink) error {
	if sink == nil {
		return errors.New("stream sink must not be nil")
	}
	model = c.variant.Model(model)

	return c.withWorkspace(messages, model, true, func(inv Invocation) error {
		if err := c.runner.Stream(ctx, inv, sink.Fragment); err != nil {
			return err
		}
		return sink.Done()
	})
}

func (c *CLI) ExecuteDeltas(ctx context.Context, messages []models.ChatMessage, model string, onDelta func(Delta) error) error {
	if onDelta == nil {
		return errors.New("delta callback must not be nil")
	}
	model = c.variant.Model(model)

	return c.withWorkspace(messages, model, true, func(inv Invocation) error {
		return c.runner.Stream(ctx, inv, func(fragment string) error {
			return onDelta(Delta{Content: fragment})
		})
	})
}

func (c *CLI) Version(ctx context.Context) (string, error) {
	result, err := c.runner.Probe(ctx, versionProbeTimeout, c.variant.Name(), c.variant.CLIPath(), "--version")
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s --version exited with code %d", c.variant.CLIPath(), result.ExitCode)
	}
	return strings.TrimSpace(result.Stdout), nil
}

// withWorkspace prepares the per-request directory, hands fn the invocation
// and removes the directory on every exit path.
func (c *CLI) withWorkspace(messages []models.ChatMessage, model string, stream bool, fn func(Invocation) error) error {
	translated := transform.Transform(messages)

	ws, err := c.workspaces.Create()
	if err != nil {
		return err
	}
	defer c.workspaces.Cleanup(ws)

	artifactPath, err := c.workspaces.WriteSystemArtifact(ws, translated.SystemPrompt, c.variant.Artifact())
	if err != nil {
		return err
	}

	return fn(Invocation{
		Backend: c.variant.Name(),
		Path:    c.variant.CLIPath(),
		Args:    c.variant.Args(translated.Prompt, model, artifactPath, stream),
		Dir:     ws.Path,
	})
}

// StripSystemReminders removes <system-reminder> blocks some CLIs echo into
// their output.
func StripSystemReminders(output string) string {
	return systemReminderPattern.ReplaceAllString(output, "")
}
