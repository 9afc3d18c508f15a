// Package claude drives the Claude Code CLI in print mode against a single
// fixed model:
//
//	claude -p <prompt> --dangerously-skip-permissions --model <id> [--system-prompt-file <path>]
package claude

import (
	"strings"

	"cligate/internal/backend"
	"cligate/internal/workspace"
)

// Name identifies this backend in configuration, logs and error codes.
const Name = "claude"

// DefaultModel is the model served when none is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

// Variant implements backend.Variant for Claude Code.
type Variant struct {
	cliPath string
	model   string
}

// NewVariant returns the Claude argument contract. An empty model selects
// DefaultModel.
func NewVariant(cliPath, model string) Variant {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return Variant{cliPath: cliPath, model: model}
}

// New constructs a Claude backend.
func New(cliPath, model string, runner *backend.Runner, workspaces *workspace.Manager) (*backend.CLI, error) {
	return backend.NewCLI(NewVariant(cliPath, model), runner, workspaces)
}

func (v Variant) Name() string {
	return Name
}

func (v Variant) CLIPath() string {
	return v.cliPath
}

func (v Variant) Artifact() workspace.Artifact {
	return workspace.ArtifactSystemPromptFile
}

// Model ignores the request; Claude Code is always run with the configured model.
func (v Variant) Model(string) string {
	return v.model
}

func (v Variant) Args(prompt, model, artifactPath string, _ bool) []string {
	args := []string{
		"-p", prompt,
		"--dangerously-skip-permissions",
		"--model", model,
	}
	if artifactPath != "" {
		args = append(args, "--system-prompt-file", artifactPath)
	}
	return args
}

func (v Variant) Clean(output string) string {
	return strings.TrimSpace(backend.StripSystemReminders(output))
}
