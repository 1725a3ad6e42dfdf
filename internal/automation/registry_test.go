package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockRepository is an in-memory implementation of Repository for testing.
type mockRepository struct {
	defs       map[string]*Definition
	executions map[string]*Execution
	blueprints map[string]*BlueprintRecord
	mu         sync.RWMutex
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		defs:       make(map[string]*Definition),
		executions: make(map[string]*Execution),
		blueprints: make(map[string]*BlueprintRecord),
	}
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.DeepCopy(), nil
}

func (m *mockRepository) List(_ context.Context) ([]Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		defs = append(defs, *d.DeepCopy())
	}
	return defs, nil
}

func (m *mockRepository) ListEnabled(_ context.Context) ([]Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var defs []Definition
	for _, d := range m.defs {
		if d.Enabled {
			defs = append(defs, *d.DeepCopy())
		}
	}
	return defs, nil
}

func (m *mockRepository) ListByBlueprint(_ context.Context, blueprintID string) ([]Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var defs []Definition
	for _, d := range m.defs {
		if d.BlueprintID != nil && *d.BlueprintID == blueprintID {
			defs = append(defs, *d.DeepCopy())
		}
	}
	return defs, nil
}

func (m *mockRepository) Create(_ context.Context, def *Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[def.ID]; ok {
		return ErrExists
	}
	m.defs[def.ID] = def.DeepCopy()
	return nil
}

func (m *mockRepository) Update(_ context.Context, def *Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[def.ID]; !ok {
		return ErrNotFound
	}
	m.defs[def.ID] = def.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[id]; !ok {
		return ErrNotFound
	}
	delete(m.defs, id)
	return nil
}

func (m *mockRepository) CreateExecution(_ context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *exec
	m.executions[exec.ExecutionID] = &cpy
	return nil
}

func (m *mockRepository) GetExecution(_ context.Context, executionID string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	cpy := *e
	return &cpy, nil
}

func (m *mockRepository) ListExecutions(_ context.Context, automationID string, limit int) ([]Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var execs []Execution
	for _, e := range m.executions {
		if e.AutomationID == automationID {
			execs = append(execs, *e)
		}
	}
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func (m *mockRepository) CreateBlueprint(_ context.Context, rec *BlueprintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blueprints[rec.ID]; ok {
		return ErrBlueprintExists
	}
	cpy := *rec
	m.blueprints[rec.ID] = &cpy
	return nil
}

func (m *mockRepository) GetBlueprint(_ context.Context, id string) (*BlueprintRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.blueprints[id]
	if !ok {
		return nil, ErrBlueprintNotFound
	}
	cpy := *r
	return &cpy, nil
}

func (m *mockRepository) ListBlueprints(_ context.Context) ([]BlueprintRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []BlueprintRecord
	for _, r := range m.blueprints {
		recs = append(recs, *r)
	}
	return recs, nil
}

func (m *mockRepository) DeleteBlueprint(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blueprints[id]; !ok {
		return ErrBlueprintNotFound
	}
	delete(m.blueprints, id)
	return nil
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	// Pre-populate repo
	repo.defs["a1"] = testDefinition("a1", "Automation 1")
	repo.defs["a2"] = testDefinition("a2", "Automation 2")

	registry := NewRegistry(repo)

	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	if registry.Count() != 2 {
		t.Errorf("Count = %d, want 2", registry.Count())
	}
}

func TestRegistry_Get(t *testing.T) {
	bpID := "bp-original"
	repo := newMockRepository()
	def := testDefinition("a1", "Test")
	def.BlueprintID = &bpID
	repo.defs["a1"] = def

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	t.Run("cache hit", func(t *testing.T) {
		got, err := registry.Get(ctx, "a1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "Test" {
			t.Errorf("Name = %q, want %q", got.Name, "Test")
		}
		// Verify deep copy (modifying returned value shouldn't affect cache)
		got.Name = "Modified"
		got.Triggers[0]["entity_id"] = "light.corrupted"
		original, _ := registry.Get(ctx, "a1")
		if original.Name != "Test" {
			t.Error("cache was mutated by returned copy")
		}
		if original.Triggers[0]["entity_id"] != "light.hall" {
			t.Error("cache config tree was mutated by returned copy")
		}
	})

	t.Run("pointer field isolation", func(t *testing.T) {
		got, err := registry.Get(ctx, "a1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		*got.BlueprintID = "bp-corrupted"

		original, _ := registry.Get(ctx, "a1")
		if *original.BlueprintID != "bp-original" {
			t.Errorf("cache BlueprintID corrupted: got %q", *original.BlueprintID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := registry.Get(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRegistry_List(t *testing.T) {
	repo := newMockRepository()
	repo.defs["a1"] = testDefinition("a1", "Bravo")
	repo.defs["a2"] = testDefinition("a2", "Alpha")

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	defs, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 automations, got %d", len(defs))
	}
	if defs[0].Name != "Alpha" || defs[1].Name != "Bravo" {
		t.Errorf("unexpected order: %q, %q", defs[0].Name, defs[1].Name)
	}
}

func TestRegistry_ListEnabled(t *testing.T) {
	repo := newMockRepository()
	repo.defs["a1"] = testDefinition("a1", "On")
	off := testDefinition("a2", "Off")
	off.Enabled = false
	repo.defs["a2"] = off

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	defs, err := registry.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "a1" {
		t.Errorf("expected only a1, got %d results", len(defs))
	}
}

func TestRegistry_ListByBlueprint(t *testing.T) {
	bpID := "bp-motion"
	repo := newMockRepository()
	fromBP := testDefinition("a1", "From Blueprint")
	fromBP.BlueprintID = &bpID
	repo.defs["a1"] = fromBP
	repo.defs["a2"] = testDefinition("a2", "Plain")

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	defs, err := registry.ListByBlueprint(ctx, bpID)
	if err != nil {
		t.Fatalf("ListByBlueprint: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "a1" {
		t.Errorf("expected only a1, got %d results", len(defs))
	}
}

func TestRegistry_Create(t *testing.T) {
	repo := newMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	t.Run("success with ID generation", func(t *testing.T) {
		def := testDefinition("", "New Automation")

		err := registry.Create(ctx, def)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		if def.ID == "" {
			t.Error("ID not generated")
		}
		if registry.Count() != 1 {
			t.Errorf("Count = %d, want 1", registry.Count())
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		def := testDefinition("", "Defaults")
		def.Mode = ""
		def.MaxExceeded = ""

		if err := registry.Create(ctx, def); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if def.Mode != ModeSingle {
			t.Errorf("Mode = %q, want single", def.Mode)
		}
		if def.MaxExceeded != MaxExceededWarn {
			t.Errorf("MaxExceeded = %q, want warn", def.MaxExceeded)
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		def := testDefinition("", "")
		err := registry.Create(ctx, def)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName, got: %v", err)
		}
	})

	t.Run("no actions", func(t *testing.T) {
		def := testDefinition("", "No Actions")
		def.Actions = nil
		err := registry.Create(ctx, def)
		if !errors.Is(err, ErrNoActions) {
			t.Errorf("expected ErrNoActions, got: %v", err)
		}
	})
}

func TestRegistry_Update(t *testing.T) {
	repo := newMockRepository()
	repo.defs["a1"] = testDefinition("a1", "Original")

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	t.Run("success", func(t *testing.T) {
		def, _ := registry.Get(ctx, "a1")
		def.Name = "Updated"
		def.Mode = ModeParallel

		if err := registry.Update(ctx, def); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := registry.Get(ctx, "a1")
		if got.Name != "Updated" {
			t.Errorf("Name = %q, want Updated", got.Name)
		}
		if got.Mode != ModeParallel {
			t.Errorf("Mode = %q, want parallel", got.Mode)
		}
	})

	t.Run("not found", func(t *testing.T) {
		def := testDefinition("nonexistent", "Nope")
		if err := registry.Update(ctx, def); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		def := testDefinition("a1", "Bad Mode")
		def.Mode = "sideways"
		if err := registry.Update(ctx, def); !errors.Is(err, ErrInvalidMode) {
			t.Errorf("expected ErrInvalidMode, got: %v", err)
		}
	})
}

func TestRegistry_Delete(t *testing.T) {
	repo := newMockRepository()
	repo.defs["a1"] = testDefinition("a1", "Delete Me")

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	t.Run("success", func(t *testing.T) {
		if err := registry.Delete(ctx, "a1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if registry.Count() != 0 {
			t.Errorf("Count = %d, want 0", registry.Count())
		}
		if _, err := registry.Get(ctx, "a1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if err := registry.Delete(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRegistry_SetEnabled(t *testing.T) {
	repo := newMockRepository()
	repo.defs["a1"] = testDefinition("a1", "Toggle Me")

	registry := NewRegistry(repo)
	ctx := context.Background()
	_ = registry.RefreshCache(ctx)

	if err := registry.SetEnabled(ctx, "a1", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	got, _ := registry.Get(ctx, "a1")
	if got.Enabled {
		t.Error("automation still enabled after disable")
	}

	// Persisted, not just cached
	stored, _ := repo.GetByID(ctx, "a1")
	if stored.Enabled {
		t.Error("disable not persisted to repository")
	}

	t.Run("not found", func(t *testing.T) {
		if err := registry.SetEnabled(ctx, "nonexistent", true); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	repo := newMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Pre-populate with some automations
	for i := 0; i < 10; i++ {
		def := testDefinition(GenerateID(), "Concurrent "+string(rune('A'+i)))
		repo.defs[def.ID] = def
	}
	_ = registry.RefreshCache(ctx)

	// Hammer the registry with concurrent reads and writes
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)

		// Concurrent reads
		go func() {
			defer wg.Done()
			_, _ = registry.List(ctx)
		}()

		// Concurrent creates
		go func() {
			defer wg.Done()
			def := testDefinition("", "Created "+GenerateID()[:8])
			_ = registry.Create(ctx, def)
		}()

		// Concurrent count reads
		go func() {
			defer wg.Done()
			_ = registry.Count()
		}()
	}

	wg.Wait()

	if registry.Count() < 10 {
		t.Errorf("Count = %d, expected at least 10", registry.Count())
	}
}
