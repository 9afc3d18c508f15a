package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"cligate/internal/backend"
	"cligate/internal/models"
)

const (
	probeTimeout = 10 * time.Second
	// probeModel is deliberately invalid so the CLI answers with its list of
	// accepted models.
	probeModel = "invalid-model-for-discovery"
)

// ErrUnparsable is returned when the probe output has no model list.
var ErrUnparsable = errors.New("failed to parse model list")

// Model ids may contain dots, so match up to the last period on the line.
var allowedChoices = regexp.MustCompile(`(?m)Allowed choices are (.+)\.$`)

// Prober asks a backend which models it accepts.
type Prober interface {
	Probe(ctx context.Context) ([]models.ModelDescriptor, error)
}

// CLIProber runs "<cli> --model invalid-model-for-discovery" and parses the
// rejection message.
type CLIProber struct {
	runner  *backend.Runner
	backend string
	cliPath string
}

// NewCLIProber returns a prober for the CLI at cliPath.
func NewCLIProber(runner *backend.Runner, backendName, cliPath string) *CLIProber {
	return &CLIProber{runner: runner, backend: backendName, cliPath: cliPath}
}

func (p *CLIProber) Probe(ctx context.Context) ([]models.ModelDescriptor, error) {
	result, err := p.runner.Probe(ctx, probeTimeout, p.backend, p.cliPath, "--model", probeModel)
	if err != nil {
		slog.Error("model probe failed to run", "backend", p.backend, "err", err)
		return nil, fmt.Errorf("probe %s models: %w", p.backend, err)
	}

	found, err := ParseAllowedChoices(result.Stderr + result.Stdout)
	if err != nil {
		slog.Warn("model probe output had no model list", "backend", p.backend, "exit_code", result.ExitCode)
		return nil, err
	}
	slog.Info("discovered models", "backend", p.backend, "count", len(found))
	return found, nil
}

// ParseAllowedChoices extracts model ids from a line of the form
// "Allowed choices are a, b, c.".
func ParseAllowedChoices(output string) ([]models.ModelDescriptor, error) {
	match := allowedChoices.FindStringSubmatch(output)
	if match == nil {
		return nil, ErrUnparsable
	}

	var found []models.ModelDescriptor
	for _, id := range strings.Split(match[1], ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		found = append(found, models.ModelDescriptor{ID: id, OwnedBy: InferOwner(id)})
	}
	if len(found) == 0 {
		return nil, ErrUnparsable
	}
	return found, nil
}

// InferOwner attributes a model id to its vendor by prefix.
func InferOwner(id string) models.Owner {
	switch {
	case strings.HasPrefix(id, "claude"):
		return models.OwnerAnthropic
	case strings.HasPrefix(id, "gpt"),
		strings.HasPrefix(id, "o1"),
		strings.HasPrefix(id, "o3"),
		strings.HasPrefix(id, "o4"):
		return models.OwnerOpenAI
	case strings.HasPrefix(id, "gemini"):
		return models.OwnerGoogle
	default:
		return models.OwnerUnknown
	}
}
