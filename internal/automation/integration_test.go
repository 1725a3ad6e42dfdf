package automation

import (
	"context"
	"testing"
)

// TestIntegration_AutomationLifecycle runs the full lifecycle against a real
// SQLite database: create → list → fire → check execution → update →
// delete → verify gone.
func TestIntegration_AutomationLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Refresh empty cache
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if registry.Count() != 0 {
		t.Fatalf("expected 0 automations, got %d", registry.Count())
	}

	// Create an automation via the registry
	def := &Definition{
		Name:        "Integration Hall Light",
		Description: "Turns the hall light on with motion",
		Enabled:     true,
		Triggers: []map[string]any{
			{"platform": "state", "entity_id": "binary_sensor.hall_motion", "to": "on"},
		},
		Conditions: []map[string]any{
			{"condition": "state", "entity_id": "input_boolean.guest_mode", "state_not": "on"},
		},
		Actions: []map[string]any{
			{"action": "log", "message": "motion in the hall", "level": "info"},
		},
	}
	if err := registry.Create(ctx, def); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// ID and defaults were filled in
	if def.ID == "" {
		t.Error("automation ID not generated")
	}
	if def.Mode != ModeSingle || def.MaxExceeded != MaxExceededWarn {
		t.Errorf("defaults not applied: mode=%q max_exceeded=%q", def.Mode, def.MaxExceeded)
	}

	// List should return 1
	defs, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 automation, got %d", len(defs))
	}

	got, err := registry.Get(ctx, def.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Integration Hall Light" {
		t.Errorf("Name = %q", got.Name)
	}
	if len(got.Triggers) != 1 || len(got.Conditions) != 1 {
		t.Fatalf("components = %d triggers, %d conditions", len(got.Triggers), len(got.Conditions))
	}

	// Run it through the engine
	engine := NewEngine(repo, EngineOptions{Renderer: NewTemplateRenderer()})
	engine.SetClock(newFakeClock(baseTime).Now)
	if err := engine.Register(got); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.SetEntityState("input_boolean.guest_mode", EntityState{State: "off"})
	engine.SetEntityState("binary_sensor.hall_motion", EntityState{State: "off"})
	engine.SetEntityState("binary_sensor.hall_motion", EntityState{State: "on"})
	engine.Tick(ctx)
	engine.wg.Wait()

	execs, err := repo.ListExecutions(ctx, def.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if !execs[0].Succeeded() {
		t.Errorf("execution failed: %q", execs[0].Error)
	}
	if execs[0].TriggeredBy == "" {
		t.Error("execution missing trigger provenance")
	}

	// Update the automation
	got.Name = "Updated Hall Light"
	got.Mode = ModeQueued
	if err := registry.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, err := registry.Get(ctx, def.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if updated.Name != "Updated Hall Light" || updated.Mode != ModeQueued {
		t.Errorf("update not persisted: %+v", updated)
	}

	// Delete
	if err := registry.Delete(ctx, def.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if registry.Count() != 0 {
		t.Errorf("Count after delete = %d, want 0", registry.Count())
	}
}

// TestIntegration_PersistAcrossRestart verifies that automations survive a
// cache rebuild from the same database (simulating an application restart).
func TestIntegration_PersistAcrossRestart(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	registry1 := NewRegistry(repo)
	if err := registry1.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	def := testDefinition("persist-test", "Persist Test")
	def.Mode = ModeQueued
	def.MaxExceeded = MaxExceededSilent
	if err := registry1.Create(ctx, def); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate restart: a fresh registry over the same repo
	registry2 := NewRegistry(repo)
	if err := registry2.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache (restart): %v", err)
	}

	if registry2.Count() != 1 {
		t.Fatalf("Count after restart = %d, want 1", registry2.Count())
	}
	got, err := registry2.Get(ctx, "persist-test")
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.Name != "Persist Test" || got.Mode != ModeQueued || got.MaxExceeded != MaxExceededSilent {
		t.Errorf("definition = %+v", got)
	}
	if got.Variables["room"] != "hall" {
		t.Errorf("variables not persisted: %v", got.Variables)
	}
}

// TestIntegration_BlueprintToExecution stamps an automation out of a
// blueprint, persists it, and runs it end to end.
func TestIntegration_BlueprintToExecution(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	registry := NewRegistry(repo)
	ctx := context.Background()

	bp := motionBlueprint()
	values := map[string]any{
		"motion_sensor": "binary_sensor.hall_motion",
		"target_light":  "light.hall",
		"brightness":    float64(128),
	}
	instance, err := bp.CreateInstance("Hall Motion", values, "")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	// Persist the stamped definition with blueprint provenance
	def := &Definition{
		ID:      instance.AutomationID,
		Name:    instance.Name,
		Enabled: true,
		BlueprintID: func() *string {
			id := bp.BlueprintID
			return &id
		}(),
		Triggers: []map[string]any{
			ResolveConfig(map[string]any{
				"platform":  "state",
				"entity_id": "!input motion_sensor",
				"to":        "on",
			}, values),
		},
		Actions: []map[string]any{
			{"action": "log", "message": "motion light", "level": "info"},
		},
	}
	if err := registry.Create(ctx, def); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byBlueprint, err := registry.ListByBlueprint(ctx, bp.BlueprintID)
	if err != nil {
		t.Fatalf("ListByBlueprint: %v", err)
	}
	if len(byBlueprint) != 1 {
		t.Fatalf("expected 1 blueprint-derived automation, got %d", len(byBlueprint))
	}

	engine := NewEngine(repo, EngineOptions{})
	engine.SetClock(newFakeClock(baseTime).Now)
	if err := engine.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.SetEntityState("binary_sensor.hall_motion", EntityState{State: "off"})
	engine.SetEntityState("binary_sensor.hall_motion", EntityState{State: "on"})
	engine.Tick(ctx)
	engine.wg.Wait()

	execs, err := repo.ListExecutions(ctx, def.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 || !execs[0].Succeeded() {
		t.Fatalf("executions = %+v", execs)
	}
}
