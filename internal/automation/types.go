package automation

import (
	"fmt"
	"time"
)

// Definition is the persisted form of an automation: identity, policy,
// and raw trigger/condition/action config trees. The Registry caches
// definitions; Build hydrates them into runnable Automations through the
// factory dispatch.
type Definition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Enabled     bool        `json:"enabled"`
	Mode        Mode        `json:"mode"`
	MaxExceeded MaxExceeded `json:"max_exceeded"`

	// Optional blueprint provenance
	BlueprintID *string `json:"blueprint_id,omitempty"`

	// Raw component configs (factory input format)
	Triggers   []map[string]any `json:"triggers"`
	Conditions []map[string]any `json:"conditions"`
	Actions    []map[string]any `json:"actions"`

	// Variables seeded into every run's context
	Variables map[string]any `json:"variables,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Build hydrates the definition into a runnable Automation.
func (d *Definition) Build() (*Automation, error) {
	triggers := make([]Trigger, 0, len(d.Triggers))
	for i, cfg := range d.Triggers {
		t, err := TriggerFromConfig(cfg, fmt.Sprintf("%s_trigger_%d", d.ID, i))
		if err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		triggers = append(triggers, t)
	}

	conditions := make([]Condition, 0, len(d.Conditions))
	for i, cfg := range d.Conditions {
		c, err := ConditionFromConfig(cfg, fmt.Sprintf("%s_condition_%d", d.ID, i))
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conditions = append(conditions, c)
	}

	actions := make([]Action, 0, len(d.Actions))
	for i, cfg := range d.Actions {
		a, err := ActionFromConfig(cfg, fmt.Sprintf("%s_action_%d", d.ID, i))
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}

	config := Config{
		AutomationID: d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Enabled:      d.Enabled,
		Mode:         d.Mode,
		MaxExceeded:  d.MaxExceeded,
		Variables:    deepCopyMap(d.Variables),
	}
	if d.BlueprintID != nil {
		config.BlueprintID = *d.BlueprintID
	}

	return New(config, triggers, conditions, actions), nil
}

// DeepCopy creates a complete independent copy of the Definition.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Definition) DeepCopy() *Definition {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.BlueprintID = cloneStringPtr(d.BlueprintID)
	cpy.Triggers = deepCopyConfigList(d.Triggers)
	cpy.Conditions = deepCopyConfigList(d.Conditions)
	cpy.Actions = deepCopyConfigList(d.Actions)
	cpy.Variables = deepCopyMap(d.Variables)

	return &cpy
}

// BlueprintRecord is the persisted form of a blueprint.
type BlueprintRecord struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Domain      string                    `json:"domain,omitempty"`
	Author      string                    `json:"author,omitempty"`
	Version     string                    `json:"version"`
	Parameters  map[string]map[string]any `json:"parameters"`
	Triggers    []map[string]any          `json:"triggers"`
	Conditions  []map[string]any          `json:"conditions"`
	Actions     []map[string]any          `json:"actions"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// ToBlueprint hydrates the record into a runtime Blueprint.
func (r *BlueprintRecord) ToBlueprint() *Blueprint {
	b := NewBlueprint(r.ID, r.Name, r.Description)
	b.Domain = r.Domain
	b.Author = r.Author
	if r.Version != "" {
		b.Version = r.Version
	}

	for name, raw := range r.Parameters {
		p := Parameter{
			Name:        name,
			Type:        ParameterType(cfgString(raw, "type")),
			Default:     raw["default"],
			Required:    cfgBool(raw, "required"),
			Description: cfgString(raw, "description"),
		}
		if opts, ok := raw["options"].([]any); ok {
			p.Options = opts
		}
		p.Min = cfgFloatPtr(raw, "min")
		p.Max = cfgFloatPtr(raw, "max")
		b.AddParameter(p)
	}
	for _, cfg := range r.Triggers {
		b.AddTrigger(cfg)
	}
	for _, cfg := range r.Conditions {
		b.AddCondition(cfg)
	}
	for _, cfg := range r.Actions {
		b.AddAction(cfg)
	}

	// Restore persisted timestamps after the Add* calls above touched them.
	b.CreatedAt = r.CreatedAt
	b.UpdatedAt = r.UpdatedAt
	return b
}

// deepCopyConfigList clones a slice of raw config maps.
func deepCopyConfigList(configs []map[string]any) []map[string]any {
	if configs == nil {
		return nil
	}
	out := make([]map[string]any, len(configs))
	for i, cfg := range configs {
		out[i] = deepCopyMap(cfg)
	}
	return out
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	case []map[string]any:
		return deepCopyConfigList(val)
	default:
		return v // Primitives are immutable
	}
}

// cloneStringPtr creates an independent copy of a *string.
func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
