package automation

import (
	"errors"
	"strings"
	"testing"
)

// motionBlueprint builds the canonical motion-light blueprint used across
// the blueprint tests.
func motionBlueprint() *Blueprint {
	brightnessMin := 1.0
	brightnessMax := 255.0

	return NewBlueprint("motion_light", "Motion Light", "Light on motion").
		AddParameter(Parameter{
			Name:     "motion_sensor",
			Type:     ParameterEntity,
			Required: true,
		}).
		AddParameter(Parameter{
			Name:     "target_light",
			Type:     ParameterEntity,
			Required: true,
		}).
		AddParameter(Parameter{
			Name:    "brightness",
			Type:    ParameterNumber,
			Default: float64(180),
			Min:     &brightnessMin,
			Max:     &brightnessMax,
		}).
		AddTrigger(map[string]any{
			"platform":  "state",
			"entity_id": "!input motion_sensor",
			"to":        "on",
		}).
		AddCondition(map[string]any{
			"condition": "sun",
			"after":     "sunset",
		}).
		AddAction(map[string]any{
			"action":    "service",
			"service":   "light.turn_on",
			"entity_id": "!input target_light",
			"data": map[string]any{
				"brightness": "!input brightness",
			},
		})
}

func TestParameter_Validate(t *testing.T) {
	min := 0.0
	max := 100.0

	tests := []struct {
		name    string
		param   Parameter
		value   any
		wantErr bool
	}{
		{"required missing", Parameter{Name: "p", Type: ParameterString, Required: true}, nil, true},
		{"optional missing", Parameter{Name: "p", Type: ParameterString}, nil, false},
		{"string ok", Parameter{Name: "p", Type: ParameterString}, "hello", false},
		{"string wrong type", Parameter{Name: "p", Type: ParameterString}, 42, true},
		{"number ok", Parameter{Name: "p", Type: ParameterNumber}, 42.0, false},
		{"number int ok", Parameter{Name: "p", Type: ParameterNumber}, 42, false},
		{"number below min", Parameter{Name: "p", Type: ParameterNumber, Min: &min}, -1.0, true},
		{"number above max", Parameter{Name: "p", Type: ParameterNumber, Max: &max}, 150.0, true},
		{"boolean ok", Parameter{Name: "p", Type: ParameterBoolean}, true, false},
		{"boolean wrong type", Parameter{Name: "p", Type: ParameterBoolean}, "yes", true},
		{"entity ok", Parameter{Name: "p", Type: ParameterEntity}, "light.hall", false},
		{"entity missing domain", Parameter{Name: "p", Type: ParameterEntity}, "hall", true},
		{"select in options", Parameter{Name: "p", Type: ParameterSelect, Options: []any{"a", "b"}}, "b", false},
		{"select not in options", Parameter{Name: "p", Type: ParameterSelect, Options: []any{"a", "b"}}, "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.param.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("error not wrapped as ErrInvalidParameter: %v", err)
			}
		})
	}
}

func TestParameter_ValidateErrorNamesParameter(t *testing.T) {
	min := 1.0
	max := 255.0
	p := Parameter{Name: "brightness", Type: ParameterNumber, Min: &min, Max: &max}

	err := p.Validate(500.0)
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
	if !strings.Contains(err.Error(), `"brightness"`) {
		t.Errorf("error %q does not name the parameter", err.Error())
	}
}

func TestBlueprint_CreateInstance(t *testing.T) {
	bp := motionBlueprint()

	t.Run("valid values", func(t *testing.T) {
		instance, err := bp.CreateInstance("Hall Motion", map[string]any{
			"motion_sensor": "binary_sensor.hall_motion",
			"target_light":  "light.hall",
		}, "hall-motion")
		if err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
		if instance.AutomationID != "hall-motion" {
			t.Errorf("AutomationID = %q", instance.AutomationID)
		}
		if instance.BlueprintID != "motion_light" {
			t.Errorf("BlueprintID = %q", instance.BlueprintID)
		}
	})

	t.Run("generated automation ID", func(t *testing.T) {
		instance, err := bp.CreateInstance("Landing Motion", map[string]any{
			"motion_sensor": "binary_sensor.landing_motion",
			"target_light":  "light.landing",
		}, "")
		if err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
		if !strings.HasPrefix(instance.AutomationID, "motion_light_") {
			t.Errorf("AutomationID = %q, want blueprint-prefixed", instance.AutomationID)
		}
	})

	t.Run("missing required parameter", func(t *testing.T) {
		_, err := bp.CreateInstance("Broken", map[string]any{
			"motion_sensor": "binary_sensor.hall_motion",
		}, "")
		if !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter, got: %v", err)
		}
		if !strings.Contains(err.Error(), `"target_light"`) {
			t.Errorf("error %q does not name the missing parameter", err.Error())
		}
	})

	t.Run("out of range value names parameter", func(t *testing.T) {
		_, err := bp.CreateInstance("Too Bright", map[string]any{
			"motion_sensor": "binary_sensor.hall_motion",
			"target_light":  "light.hall",
			"brightness":    999.0,
		}, "")
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), `"brightness"`) {
			t.Errorf("error %q does not name the parameter", err.Error())
		}
	})

	t.Run("default fills optional parameter", func(t *testing.T) {
		_, err := bp.CreateInstance("Defaults", map[string]any{
			"motion_sensor": "binary_sensor.hall_motion",
			"target_light":  "light.hall",
		}, "")
		if err != nil {
			t.Errorf("defaulted instance failed validation: %v", err)
		}
	})
}

func TestBlueprint_InstanceLifecycle(t *testing.T) {
	bp := motionBlueprint()
	values := map[string]any{
		"motion_sensor": "binary_sensor.hall_motion",
		"target_light":  "light.hall",
	}

	instance, err := bp.CreateInstance("Hall", values, "hall")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	got, ok := bp.GetInstance("hall")
	if !ok || got.AutomationID != instance.AutomationID {
		t.Fatal("GetInstance did not return the created instance")
	}

	updated, err := bp.UpdateInstance("hall", map[string]any{
		"motion_sensor": "binary_sensor.hall_motion",
		"target_light":  "light.hall_spot",
	})
	if err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	if updated.ParameterValues["target_light"] != "light.hall_spot" {
		t.Error("parameter values not replaced")
	}
	if updated.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}

	if _, err := bp.UpdateInstance("ghost", values); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	if !bp.DeleteInstance("hall") {
		t.Error("DeleteInstance returned false for existing instance")
	}
	if bp.DeleteInstance("hall") {
		t.Error("DeleteInstance returned true for removed instance")
	}
}

func TestResolveConfig(t *testing.T) {
	cfg := map[string]any{
		"platform":  "state",
		"entity_id": "!input motion_sensor",
		"data": map[string]any{
			"brightness": "!input brightness",
			"static":     "unchanged",
		},
		"targets": []any{"!input target_light", "light.fixed"},
	}

	resolved := ResolveConfig(cfg, map[string]any{
		"motion_sensor": "binary_sensor.hall_motion",
		"brightness":    float64(200),
		"target_light":  "light.hall",
	})

	if resolved["entity_id"] != "binary_sensor.hall_motion" {
		t.Errorf("entity_id = %v", resolved["entity_id"])
	}
	nested := resolved["data"].(map[string]any)
	if nested["brightness"] != float64(200) {
		t.Errorf("nested brightness = %v", nested["brightness"])
	}
	if nested["static"] != "unchanged" {
		t.Errorf("static = %v", nested["static"])
	}
	targets := resolved["targets"].([]any)
	if targets[0] != "light.hall" || targets[1] != "light.fixed" {
		t.Errorf("targets = %v", targets)
	}

	// The source config is untouched
	if cfg["entity_id"] != "!input motion_sensor" {
		t.Error("ResolveConfig mutated the source config")
	}
}

func TestBlueprint_Instantiate(t *testing.T) {
	bp := motionBlueprint()
	values := map[string]any{
		"motion_sensor": "binary_sensor.hall_motion",
		"target_light":  "light.hall",
		"brightness":    float64(128),
	}

	triggers, err := bp.InstantiateTriggers(values)
	if err != nil {
		t.Fatalf("InstantiateTriggers: %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	st, ok := triggers[0].(*StateTrigger)
	if !ok {
		t.Fatalf("trigger type = %T", triggers[0])
	}
	if st.EntityID != "binary_sensor.hall_motion" {
		t.Errorf("EntityID = %q, placeholder not resolved", st.EntityID)
	}
	if st.ToState != "on" {
		t.Errorf("ToState = %q", st.ToState)
	}

	conditions, err := bp.InstantiateConditions(values)
	if err != nil {
		t.Fatalf("InstantiateConditions: %v", err)
	}
	if len(conditions) != 1 || conditions[0].Type() != ConditionSun {
		t.Errorf("conditions = %v", conditions)
	}

	actions, err := bp.InstantiateActions(values)
	if err != nil {
		t.Fatalf("InstantiateActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	sa, ok := actions[0].(*ServiceAction)
	if !ok {
		t.Fatalf("action type = %T", actions[0])
	}
	if sa.EntityID != "light.hall" {
		t.Errorf("EntityID = %q, placeholder not resolved", sa.EntityID)
	}
	if sa.ServiceData["brightness"] != float64(128) {
		t.Errorf("brightness = %v", sa.ServiceData["brightness"])
	}
}

func TestBlueprint_SerializeCopiesConfigs(t *testing.T) {
	bp := motionBlueprint()
	if _, err := bp.CreateInstance("Hall", map[string]any{
		"motion_sensor": "binary_sensor.hall_motion",
		"target_light":  "light.hall",
	}, "a1"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	data := bp.Serialize(true)
	input := data["input"].(map[string]any)

	// Mutate the serialized trees; the blueprint must not see it.
	input["triggers"].([]map[string]any)[0]["entity_id"] = "clobbered"
	input["actions"].([]map[string]any)[0]["data"].(map[string]any)["brightness"] = "clobbered"
	instances := data["instances"].([]map[string]any)
	instances[0]["parameter_values"].(map[string]any)["target_light"] = "clobbered"

	fresh := bp.Serialize(true)
	freshInput := fresh["input"].(map[string]any)
	if got := freshInput["triggers"].([]map[string]any)[0]["entity_id"]; got != "!input motion_sensor" {
		t.Errorf("trigger config mutated through serialized output: %v", got)
	}
	if got := freshInput["actions"].([]map[string]any)[0]["data"].(map[string]any)["brightness"]; got != "!input brightness" {
		t.Errorf("action config mutated through serialized output: %v", got)
	}
	freshInstances := fresh["instances"].([]map[string]any)
	if got := freshInstances[0]["parameter_values"].(map[string]any)["target_light"]; got != "light.hall" {
		t.Errorf("instance parameters mutated through serialized output: %v", got)
	}
}

func TestLibrary(t *testing.T) {
	lib := NewLibrary()

	lighting := motionBlueprint()
	lighting.Domain = "lighting"
	lighting.Author = "ashdene"

	climate := NewBlueprint("frost_guard", "Frost Guard", "Heat on low temperature")
	climate.Domain = "climate"
	climate.Author = "ashdene"

	if err := lib.Register(lighting); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := lib.Register(climate); err != nil {
		t.Fatalf("Register: %v", err)
	}

	t.Run("duplicate registration", func(t *testing.T) {
		if err := lib.Register(motionBlueprint()); !errors.Is(err, ErrBlueprintExists) {
			t.Errorf("expected ErrBlueprintExists, got: %v", err)
		}
	})

	t.Run("get", func(t *testing.T) {
		got, err := lib.Get("motion_light")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "Motion Light" {
			t.Errorf("Name = %q", got.Name)
		}
		if _, err := lib.Get("ghost"); !errors.Is(err, ErrBlueprintNotFound) {
			t.Errorf("expected ErrBlueprintNotFound, got: %v", err)
		}
	})

	t.Run("search", func(t *testing.T) {
		if got := lib.Search(SearchFilter{Domain: "lighting"}); len(got) != 1 {
			t.Errorf("domain search = %d results, want 1", len(got))
		}
		if got := lib.Search(SearchFilter{Name: "frost"}); len(got) != 1 {
			t.Errorf("name search = %d results, want 1", len(got))
		}
		if got := lib.Search(SearchFilter{Author: "ASHDENE"}); len(got) != 2 {
			t.Errorf("author search = %d results, want 2 (case-insensitive)", len(got))
		}
		if got := lib.Search(SearchFilter{}); len(got) != 2 {
			t.Errorf("empty filter = %d results, want 2", len(got))
		}
	})

	t.Run("statistics", func(t *testing.T) {
		_, err := lighting.CreateInstance("Hall", map[string]any{
			"motion_sensor": "binary_sensor.hall_motion",
			"target_light":  "light.hall",
		}, "")
		if err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}

		stats := lib.Statistics()
		if stats.TotalBlueprints != 2 {
			t.Errorf("TotalBlueprints = %d", stats.TotalBlueprints)
		}
		if stats.TotalInstances != 1 {
			t.Errorf("TotalInstances = %d", stats.TotalInstances)
		}
		if stats.ByDomain["lighting"] != 1 || stats.ByDomain["climate"] != 1 {
			t.Errorf("ByDomain = %v", stats.ByDomain)
		}
	})

	t.Run("unregister", func(t *testing.T) {
		if err := lib.Unregister("frost_guard"); err != nil {
			t.Fatalf("Unregister: %v", err)
		}
		if err := lib.Unregister("frost_guard"); !errors.Is(err, ErrBlueprintNotFound) {
			t.Errorf("expected ErrBlueprintNotFound, got: %v", err)
		}
	})
}
