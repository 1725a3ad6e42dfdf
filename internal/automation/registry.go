package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides automation definition management with caching and
// thread safety. It wraps a Repository and adds an in-memory cache for
// fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Definition // Cached definitions by ID
	cacheMu sync.RWMutex           // Protects cache
	logger  Logger
}

// NewRegistry creates a new automation registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Definition),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all automation definitions from the repository
// into the cache. This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	defs, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Definition, len(defs))
	for i := range defs {
		d := defs[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("automation cache refreshed", "count", len(defs))
	return nil
}

// Get retrieves an automation definition by ID.
// The returned definition is a deep copy; callers can safely modify it.
func (r *Registry) Get(_ context.Context, id string) (*Definition, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrNotFound
}

// List retrieves all automation definitions from the cache.
// Returns deep copies sorted by name for deterministic ordering.
func (r *Registry) List(_ context.Context) ([]Definition, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	defs := make([]Definition, 0, len(r.cache))
	for _, d := range r.cache {
		defs = append(defs, *d.DeepCopy())
	}
	sortDefinitions(defs)
	return defs, nil
}

// ListEnabled retrieves all enabled automation definitions.
func (r *Registry) ListEnabled(_ context.Context) ([]Definition, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var defs []Definition
	for _, d := range r.cache {
		if d.Enabled {
			defs = append(defs, *d.DeepCopy())
		}
	}
	sortDefinitions(defs)
	return defs, nil
}

// ListByBlueprint retrieves all automations stamped out from one blueprint.
func (r *Registry) ListByBlueprint(_ context.Context, blueprintID string) ([]Definition, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var defs []Definition
	for _, d := range r.cache {
		if d.BlueprintID != nil && *d.BlueprintID == blueprintID {
			defs = append(defs, *d.DeepCopy())
		}
	}
	sortDefinitions(defs)
	return defs, nil
}

// sortDefinitions sorts definitions by name then ID, matching the DB
// query ordering.
func sortDefinitions(defs []Definition) {
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].ID < defs[j].ID
	})
}

// Create validates, persists, and caches a new automation definition.
func (r *Registry) Create(ctx context.Context, def *Definition) error {
	// Generate ID if not provided
	if def.ID == "" {
		def.ID = GenerateID()
	}

	// Apply concurrency policy defaults
	if def.Mode == "" {
		def.Mode = ModeSingle
	}
	if def.MaxExceeded == "" {
		def.MaxExceeded = MaxExceededWarn
	}

	// Validate
	if err := ValidateDefinition(def); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, def); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[def.ID] = def.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("automation created", "id", def.ID, "name", def.Name)
	return nil
}

// Update validates, persists, and updates the cached definition.
func (r *Registry) Update(ctx context.Context, def *Definition) error {
	// Validate
	if err := ValidateDefinition(def); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, def); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[def.ID] = def.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("automation updated", "id", def.ID, "name", def.Name)
	return nil
}

// Delete removes an automation definition from persistence and cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("automation deleted", "id", id)
	return nil
}

// SetEnabled toggles an automation's enabled flag, persisting the change.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	def := cached.DeepCopy()
	if def.Enabled == enabled {
		return nil
	}
	def.Enabled = enabled

	if err := r.repo.Update(ctx, def); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[id] = def
	r.cacheMu.Unlock()

	r.logger.Info("automation enabled state changed", "id", id, "enabled", enabled)
	return nil
}

// Count returns the number of cached automation definitions.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
