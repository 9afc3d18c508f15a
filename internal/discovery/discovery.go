// Package discovery maintains the set of model ids the configured backend
// accepts.
//
// A fixed service always reports one model. A dynamic service probes the CLI
// once, caches the answer and falls back to a built-in list when the probe
// fails; the fallback is cached too, so a broken CLI is not probed on every
// request.
package discovery

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"cligate/internal/models"
)

var fallbackModels = []models.ModelDescriptor{
	{ID: "claude-sonnet-4.5", OwnedBy: models.OwnerAnthropic},
	{ID: "claude-haiku-4.5", OwnedBy: models.OwnerAnthropic},
	{ID: "claude-opus-4.5", OwnedBy: models.OwnerAnthropic},
	{ID: "claude-sonnet-4", OwnedBy: models.OwnerAnthropic},
	{ID: "gpt-5.1-codex-max", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-5.1-codex", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-5.2", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-5.1", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-5", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-5.1-codex-mini", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-5-mini", OwnedBy: models.OwnerOpenAI},
	{ID: "gpt-4.1", OwnedBy: models.OwnerOpenAI},
	{ID: "gemini-3-pro-preview", OwnedBy: models.OwnerGoogle},
}

// Fallback returns the built-in model list used when probing fails.
func Fallback() []models.ModelDescriptor {
	return slices.Clone(fallbackModels)
}

// Service answers model lookups for the request pipeline.
type Service struct {
	fixed  []models.ModelDescriptor
	prober Prober
	cache  *Cache
	sf     singleflight.Group
}

// NewFixed returns a service that only knows modelID and never probes.
func NewFixed(modelID string) *Service {
	return &Service{
		fixed: []models.ModelDescriptor{{ID: modelID, OwnedBy: InferOwner(modelID)}},
	}
}

// NewDynamic returns a probing service. A nil cache gets a private one.
func NewDynamic(prober Prober, cache *Cache) *Service {
	if cache == nil {
		cache = NewCache()
	}
	return &Service{prober: prober, cache: cache}
}

// Models returns the known model set, probing on first use. It never fails:
// a failed probe yields the fallback list.
func (s *Service) Models(ctx context.Context) []models.ModelDescriptor {
	if s.fixed != nil {
		return slices.Clone(s.fixed)
	}
	if cached, ok := s.cache.Get(); ok {
		return cached
	}

	// Concurrent first requests share one probe. The probe is detached from
	// the caller so one client disconnecting cannot cache the fallback.
	v, _, _ := s.sf.Do("models", func() (any, error) {
		if cached, ok := s.cache.Get(); ok {
			return cached, nil
		}
		found, err := s.prober.Probe(context.WithoutCancel(ctx))
		if err != nil {
			slog.Warn("using fallback model list", "err", err)
			found = Fallback()
		}
		s.cache.Set(found)
		return found, nil
	})
	return slices.Clone(v.([]models.ModelDescriptor))
}

// Lookup finds id in the model set.
func (s *Service) Lookup(ctx context.Context, id string) (models.ModelDescriptor, bool) {
	for _, m := range s.Models(ctx) {
		if m.ID == id {
			return m, true
		}
	}
	return models.ModelDescriptor{}, false
}

// LookupFold is Lookup ignoring case.
func (s *Service) LookupFold(ctx context.Context, id string) (models.ModelDescriptor, bool) {
	for _, m := range s.Models(ctx) {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return models.ModelDescriptor{}, false
}

// IsValid reports whether id is in the model set.
func (s *Service) IsValid(ctx context.Context, id string) bool {
	_, ok := s.Lookup(ctx, id)
	return ok
}

// ClearCache forces the next lookup to probe again.
func (s *Service) ClearCache() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

// Preload warms the cache at startup and returns what it found.
func (s *Service) Preload(ctx context.Context) []models.ModelDescriptor {
	found := s.Models(ctx)
	slog.Info("preloaded models", "count", len(found))
	return found
}

// IDs returns the ids of set in order.
func IDs(set []models.ModelDescriptor) []string {
	ids := make([]string, 0, len(set))
	for _, m := range set {
		ids = append(ids, m.ID)
	}
	return ids
}
