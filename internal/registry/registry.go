// Package registry manages the set of loaded inference backends, one per
// model type in use.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/scrivener/pkg/llm"
)

// Factory loads a backend for the given model type. Loads are slow and
// blocking; the registry serializes them per model type.
type Factory func(ctx context.Context, modelType string) (llm.Backend, *llm.GenerationConfig, error)

// Entry is one loaded model plus the default generation config derived at
// load time. Defaults are copied into sessions, never mutated.
type Entry struct {
	ModelType string
	Backend   llm.Backend
	Defaults  *llm.GenerationConfig

	lastUsed time.Time
}

// Registry lazily loads backends on first reference and keeps them
// resident until restarted or evicted for idleness.
type Registry struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]*Entry
	group   singleflight.Group
}

// New creates a Registry that loads backends through factory.
func New(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		entries: make(map[string]*Entry),
	}
}

// Ensure returns the entry for modelType, loading it on first reference.
// Concurrent callers for the same unloaded model share a single load.
func (r *Registry) Ensure(ctx context.Context, modelType string) (*Entry, error) {
	r.mu.Lock()
	if entry, ok := r.entries[modelType]; ok {
		entry.lastUsed = time.Now()
		r.mu.Unlock()
		return entry, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(modelType, func() (any, error) {
		start := time.Now()
		backend, defaults, err := r.factory(ctx, modelType)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", modelType, err)
		}
		entry := &Entry{
			ModelType: modelType,
			Backend:   backend,
			Defaults:  defaults,
			lastUsed:  time.Now(),
		}
		r.mu.Lock()
		r.entries[modelType] = entry
		r.mu.Unlock()
		slog.Info("model loaded", "model", modelType, "elapsed", time.Since(start))
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	entry := v.(*Entry)
	r.mu.Lock()
	entry.lastUsed = time.Now()
	r.mu.Unlock()
	return entry, nil
}

// Restart drops and reloads modelType. Used for memory reclamation, not
// correctness; a missing entry is simply loaded fresh.
func (r *Registry) Restart(ctx context.Context, modelType string) (*Entry, error) {
	r.mu.Lock()
	entry, ok := r.entries[modelType]
	if ok {
		delete(r.entries, modelType)
	}
	r.mu.Unlock()

	if ok {
		if err := entry.Backend.Close(); err != nil {
			slog.Warn("close during restart failed", "model", modelType, "error", err)
		}
	}
	return r.Ensure(ctx, modelType)
}

// EvictIdle closes and removes entries that have not been used for longer
// than maxIdle. Returns the evicted model types.
func (r *Registry) EvictIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*Entry
	for modelType, entry := range r.entries {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry)
			delete(r.entries, modelType)
		}
	}
	r.mu.Unlock()

	evicted := make([]string, 0, len(stale))
	for _, entry := range stale {
		if err := entry.Backend.Close(); err != nil {
			slog.Warn("close during eviction failed", "model", entry.ModelType, "error", err)
		}
		evicted = append(evicted, entry.ModelType)
		slog.Info("evicted idle model", "model", entry.ModelType)
	}
	return evicted
}

// Loaded returns the currently loaded model types.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	models := make([]string, 0, len(r.entries))
	for m := range r.entries {
		models = append(models, m)
	}
	return models
}
