package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cligate/internal/backend"
	"cligate/internal/discovery"
	"cligate/internal/models"
)

// ErrUnknownModel indicates the requested model is not in the discovered set.
var ErrUnknownModel = errors.New("unknown model")

// ErrMissingInput indicates a request normalised to zero messages.
var ErrMissingInput = errors.New("input is required")

// ModelNotFoundError carries the ids that would have been accepted.
type ModelNotFoundError struct {
	Model     string
	Available []string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("Model '%s' not found. Available models: %s", e.Model, strings.Join(e.Available, ", "))
}

func (e *ModelNotFoundError) Is(target error) bool {
	return target == ErrUnknownModel
}

// Catalog answers which models the backend accepts.
type Catalog interface {
	Models(ctx context.Context) []models.ModelDescriptor
	Lookup(ctx context.Context, id string) (models.ModelDescriptor, bool)
	LookupFold(ctx context.Context, id string) (models.ModelDescriptor, bool)
}

// Router resolves requests against the catalog and dispatches them to the
// configured backend.
type Router struct {
	backend      backend.Backend
	catalog      Catalog
	defaultModel string
}

// Route is a validated request ready for execution.
type Route struct {
	// Model is the catalog id the client asked for (or the default).
	Model string
	// Served is the model the CLI actually runs, reported back to clients.
	Served   string
	Messages []models.ChatMessage
}

// New constructs a router.
func New(b backend.Backend, catalog Catalog, defaultModel string) (*Router, error) {
	if b == nil {
		return nil, errors.New("backend must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("model catalog must not be nil")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return nil, errors.New("default model must not be empty")
	}
	return &Router{backend: b, catalog: catalog, defaultModel: defaultModel}, nil
}

// Resolve applies the default model, validates it and checks for input. With
// foldCase the model id is matched case-insensitively.
func (r *Router) Resolve(ctx context.Context, req models.ChatRequest, foldCase bool) (Route, error) {
	requested := strings.TrimSpace(req.Model)
	if requested == "" {
		requested = r.defaultModel
	}

	lookup := r.catalog.Lookup
	if foldCase {
		lookup = r.catalog.LookupFold
	}
	descriptor, ok := lookup(ctx, requested)
	if !ok {
		return Route{}, &ModelNotFoundError{
			Model:     requested,
			Available: discovery.IDs(r.catalog.Models(ctx)),
		}
	}

	if len(req.Messages) == 0 {
		return Route{}, ErrMissingInput
	}

	return Route{
		Model:    descriptor.ID,
		Served:   r.backend.ResolveModel(descriptor.ID),
		Messages: req.Messages,
	}, nil
}

// Complete runs a buffered execution.
func (r *Router) Complete(ctx context.Context, route Route) (models.Completion, error) {
	r.logDispatch(route, false)
	completion, err := r.backend.Execute(ctx, route.Messages, route.Model)
	if err != nil {
		return models.Completion{}, fmt.Errorf("%s completion: %w", r.backend.Name(), err)
	}
	return completion, nil
}

// Stream runs a streaming execution into sink.
func (r *Router) Stream(ctx context.Context, route Route, sink backend.Sink) error {
	r.logDispatch(route, true)
	if err := r.backend.ExecuteStream(ctx, route.Messages, route.Model, sink); err != nil {
		return fmt.Errorf("%s stream: %w", r.backend.Name(), err)
	}
	return nil
}

// StreamDeltas runs a streaming execution delivering structured deltas.
func (r *Router) StreamDeltas(ctx context.Context, route Route, onDelta func(backend.Delta) error) error {
	r.logDispatch(route, true)
	if err := r.backend.ExecuteDeltas(ctx, route.Messages, route.Model, onDelta); err != nil {
		return fmt.Errorf("%s stream: %w", r.backend.Name(), err)
	}
	return nil
}

// Models lists the catalog.
func (r *Router) Models(ctx context.Context) []models.ModelDescriptor {
	return r.catalog.Models(ctx)
}

// Model looks up a single catalog entry.
func (r *Router) Model(ctx context.Context, id string) (models.ModelDescriptor, error) {
	descriptor, ok := r.catalog.Lookup(ctx, id)
	if !ok {
		return models.ModelDescriptor{}, &ModelNotFoundError{Model: id, Available: discovery.IDs(r.catalog.Models(ctx))}
	}
	return descriptor, nil
}

// DefaultModel returns the model used when a request names none.
func (r *Router) DefaultModel() string {
	return r.defaultModel
}

// BackendName reports the configured backend.
func (r *Router) BackendName() string {
	return r.backend.Name()
}

// BackendVersion probes the backend CLI.
func (r *Router) BackendVersion(ctx context.Context) (string, error) {
	return r.backend.Version(ctx)
}

func (r *Router) logDispatch(route Route, stream bool) {
	slog.Info("dispatching request",
		"backend", r.backend.Name(),
		"model", route.Model,
		"stream", stream,
		"messages", len(route.Messages),
	)
}
