// Package copilot drives the GitHub Copilot CLI in prompt mode:
//
//	copilot -p <prompt> --model <id> --silent --allow-all-tools --stream <on|off>
//
// System prompts are written to AGENTS.md in the working directory, which
// the CLI loads on its own.
package copilot

import (
	"regexp"
	"strings"

	"cligate/internal/backend"
	"cligate/internal/workspace"
)

// Name identifies this backend in configuration, logs and error codes.
const Name = "copilot"

var shellCwdNotice = regexp.MustCompile(`Shell cwd was reset to .+\n?`)

// Variant implements backend.Variant for Copilot.
type Variant struct {
	cliPath string
}

// NewVariant returns the Copilot argument contract bound to cliPath.
func NewVariant(cliPath string) Variant {
	return Variant{cliPath: cliPath}
}

// New constructs a Copilot backend.
func New(cliPath string, runner *backend.Runner, workspaces *workspace.Manager) (*backend.CLI, error) {
	return backend.NewCLI(NewVariant(cliPath), runner, workspaces)
}

func (v Variant) Name() string {
	return Name
}

func (v Variant) CLIPath() string {
	return v.cliPath
}

func (v Variant) Artifact() workspace.Artifact {
	return workspace.ArtifactAgentsFile
}

func (v Variant) Model(requested string) string {
	return requested
}

func (v Variant) Args(prompt, model, _ string, stream bool) []string {
	streamMode := "off"
	if stream {
		streamMode = "on"
	}
	return []string{
		"-p", prompt,
		"--model", model,
		"--silent",
		"--allow-all-tools",
		"--stream", streamMode,
	}
}

func (v Variant) Clean(output string) string {
	cleaned := shellCwdNotice.ReplaceAllString(output, "")
	cleaned = backend.StripSystemReminders(cleaned)
	return strings.TrimSpace(cleaned)
}
