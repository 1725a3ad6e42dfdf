package automation

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ParameterType identifies the value kind a blueprint parameter accepts.
type ParameterType string

const (
	ParameterString  ParameterType = "string"
	ParameterNumber  ParameterType = "number"
	ParameterBoolean ParameterType = "boolean"
	ParameterEntity  ParameterType = "entity"
	ParameterDevice  ParameterType = "device"
	ParameterSelect  ParameterType = "select"
	ParameterTime    ParameterType = "time"
	ParameterDate    ParameterType = "date"
)

// inputPrefix marks a blueprint placeholder value: "!input <name>".
const inputPrefix = "!input "

// Parameter declares one blueprint input with its validation constraints.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Default     any           `json:"default,omitempty"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
	Options     []any         `json:"options,omitempty"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
}

// Validate checks a candidate value against the parameter's constraints.
// The returned error names the parameter so instantiation failures point
// straight at the offending input.
func (p Parameter) Validate(value any) error {
	if value == nil {
		if p.Required {
			return fmt.Errorf("%w: invalid value for parameter %q: required", ErrInvalidParameter, p.Name)
		}
		return nil
	}

	fail := func(v any) error {
		return fmt.Errorf("%w: invalid value for parameter %q: %v", ErrInvalidParameter, p.Name, v)
	}

	switch p.Type {
	case ParameterString, ParameterTime, ParameterDate:
		if _, ok := value.(string); !ok {
			return fail(value)
		}

	case ParameterNumber:
		num, ok := toFloat(value)
		if !ok {
			return fail(value)
		}
		if p.Min != nil && num < *p.Min {
			return fail(value)
		}
		if p.Max != nil && num > *p.Max {
			return fail(value)
		}

	case ParameterBoolean:
		if _, ok := value.(bool); !ok {
			return fail(value)
		}

	case ParameterEntity:
		s, ok := value.(string)
		if !ok || !strings.Contains(s, ".") {
			return fail(value)
		}

	case ParameterDevice:
		if _, ok := value.(string); !ok {
			return fail(value)
		}

	case ParameterSelect:
		if len(p.Options) > 0 {
			found := false
			for _, opt := range p.Options {
				if valuesEqual(opt, value) {
					found = true
					break
				}
			}
			if !found {
				return fail(value)
			}
		}
	}

	return nil
}

// Serialize emits the parameter schema.
func (p Parameter) Serialize() map[string]any {
	data := map[string]any{
		"name":        p.Name,
		"type":        string(p.Type),
		"default":     p.Default,
		"required":    p.Required,
		"description": p.Description,
		"options":     p.Options,
	}
	if p.Min != nil {
		data["min"] = *p.Min
	}
	if p.Max != nil {
		data["max"] = *p.Max
	}
	return data
}

// Instance records one automation stamped out from a blueprint.
type Instance struct {
	AutomationID    string         `json:"automation_id"`
	Name            string         `json:"name"`
	BlueprintID     string         `json:"blueprint_id"`
	ParameterValues map[string]any `json:"parameter_values"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at,omitempty"`
}

// Blueprint is a named, versioned automation template: a parameter schema
// plus raw trigger/condition/action config trees containing
// "!input <name>" placeholders.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Blueprint struct {
	BlueprintID string
	Name        string
	Description string
	Domain      string
	Author      string
	Version     string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	mu         sync.Mutex
	parameters map[string]Parameter
	paramOrder []string
	triggers   []map[string]any
	conditions []map[string]any
	actions    []map[string]any
	instances  map[string]*Instance
}

// NewBlueprint creates an empty blueprint.
func NewBlueprint(blueprintID, name, description string) *Blueprint {
	now := time.Now().UTC()
	return &Blueprint{
		BlueprintID: blueprintID,
		Name:        name,
		Description: description,
		Version:     "1.0.0",
		CreatedAt:   now,
		UpdatedAt:   now,
		parameters:  make(map[string]Parameter),
		instances:   make(map[string]*Instance),
	}
}

// AddParameter declares a blueprint input. Returns the blueprint for
// chaining.
func (b *Blueprint) AddParameter(p Parameter) *Blueprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.parameters[p.Name]; !exists {
		b.paramOrder = append(b.paramOrder, p.Name)
	}
	b.parameters[p.Name] = p
	b.UpdatedAt = time.Now().UTC()
	return b
}

// AddTrigger appends a raw trigger config (may contain placeholders).
func (b *Blueprint) AddTrigger(cfg map[string]any) *Blueprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers = append(b.triggers, cfg)
	b.UpdatedAt = time.Now().UTC()
	return b
}

// AddCondition appends a raw condition config.
func (b *Blueprint) AddCondition(cfg map[string]any) *Blueprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conditions = append(b.conditions, cfg)
	b.UpdatedAt = time.Now().UTC()
	return b
}

// AddAction appends a raw action config.
func (b *Blueprint) AddAction(cfg map[string]any) *Blueprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, cfg)
	b.UpdatedAt = time.Now().UTC()
	return b
}

// CreateInstance validates every declared parameter against the supplied
// values (falling back to defaults) and records an Instance. Validation
// errors name the offending parameter and are returned synchronously.
func (b *Blueprint) CreateInstance(name string, parameterValues map[string]any, automationID string) (*Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if automationID == "" {
		automationID = b.BlueprintID + "_" + shortID()
	}

	for _, paramName := range b.paramOrder {
		param := b.parameters[paramName]
		value, ok := parameterValues[paramName]
		if !ok {
			value = param.Default
		}
		if err := param.Validate(value); err != nil {
			return nil, err
		}
	}

	instance := &Instance{
		AutomationID:    automationID,
		Name:            name,
		BlueprintID:     b.BlueprintID,
		ParameterValues: parameterValues,
		CreatedAt:       time.Now().UTC(),
	}
	b.instances[automationID] = instance
	return instance, nil
}

// GetInstance returns an instance by automation ID.
func (b *Blueprint) GetInstance(automationID string) (*Instance, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	instance, ok := b.instances[automationID]
	return instance, ok
}

// Instances returns all recorded instances.
func (b *Blueprint) Instances() []*Instance {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Instance, 0, len(b.instances))
	for _, i := range b.instances {
		out = append(out, i)
	}
	return out
}

// DeleteInstance removes an instance record.
func (b *Blueprint) DeleteInstance(automationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.instances[automationID]; !ok {
		return false
	}
	delete(b.instances, automationID)
	return true
}

// UpdateInstance revalidates and replaces an instance's parameter values.
func (b *Blueprint) UpdateInstance(automationID string, parameterValues map[string]any) (*Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	instance, ok := b.instances[automationID]
	if !ok {
		return nil, ErrNotFound
	}

	for _, paramName := range b.paramOrder {
		param := b.parameters[paramName]
		value, exists := parameterValues[paramName]
		if !exists {
			value = param.Default
		}
		if err := param.Validate(value); err != nil {
			return nil, err
		}
	}

	instance.ParameterValues = parameterValues
	instance.UpdatedAt = time.Now().UTC()
	return instance, nil
}

// InstantiateTriggers resolves placeholders and builds concrete triggers.
func (b *Blueprint) InstantiateTriggers(parameterValues map[string]any) ([]Trigger, error) {
	b.mu.Lock()
	configs := b.triggers
	b.mu.Unlock()

	triggers := make([]Trigger, 0, len(configs))
	for i, cfg := range configs {
		resolved := ResolveConfig(cfg, parameterValues)
		trigger, err := TriggerFromConfig(resolved, fmt.Sprintf("trigger_%d", i))
		if err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

// InstantiateConditions resolves placeholders and builds concrete conditions.
func (b *Blueprint) InstantiateConditions(parameterValues map[string]any) ([]Condition, error) {
	b.mu.Lock()
	configs := b.conditions
	b.mu.Unlock()

	conditions := make([]Condition, 0, len(configs))
	for i, cfg := range configs {
		resolved := ResolveConfig(cfg, parameterValues)
		condition, err := ConditionFromConfig(resolved, fmt.Sprintf("condition_%d", i))
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conditions = append(conditions, condition)
	}
	return conditions, nil
}

// InstantiateActions resolves placeholders and builds concrete actions.
func (b *Blueprint) InstantiateActions(parameterValues map[string]any) ([]Action, error) {
	b.mu.Lock()
	configs := b.actions
	b.mu.Unlock()

	actions := make([]Action, 0, len(configs))
	for i, cfg := range configs {
		resolved := ResolveConfig(cfg, parameterValues)
		action, err := ActionFromConfig(resolved, fmt.Sprintf("action_%d", i))
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// ResolveConfig recursively walks a raw config tree, replacing any string
// of the exact form "!input <name>" with the matching parameter value.
// Nested maps and lists are recursed into; everything else passes through
// untouched.
func ResolveConfig(cfg map[string]any, parameters map[string]any) map[string]any {
	resolved := make(map[string]any, len(cfg))
	for key, value := range cfg {
		resolved[key] = resolveValue(value, parameters)
	}
	return resolved
}

func resolveValue(value any, parameters map[string]any) any {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, inputPrefix) {
			return parameters[strings.TrimPrefix(v, inputPrefix)]
		}
		return v
	case map[string]any:
		return ResolveConfig(v, parameters)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, parameters)
		}
		return out
	default:
		return value
	}
}

// Serialize emits the blueprint with its parameter schema and raw config
// trees. Config trees and parameter values are deep-copied so callers can
// mutate the result freely.
func (b *Blueprint) Serialize(includeInstances bool) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	params := make(map[string]any, len(b.parameters))
	for name, p := range b.parameters {
		params[name] = p.Serialize()
	}

	data := map[string]any{
		"blueprint_id": b.BlueprintID,
		"name":         b.Name,
		"description":  b.Description,
		"domain":       b.Domain,
		"author":       b.Author,
		"version":      b.Version,
		"created_at":   b.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   b.UpdatedAt.Format(time.RFC3339Nano),
		"input": map[string]any{
			"parameters": params,
			"triggers":   deepCopyConfigList(b.triggers),
			"conditions": deepCopyConfigList(b.conditions),
			"actions":    deepCopyConfigList(b.actions),
		},
		"instance_count": len(b.instances),
	}

	if includeInstances {
		instances := make([]map[string]any, 0, len(b.instances))
		for _, i := range b.instances {
			instances = append(instances, map[string]any{
				"automation_id":    i.AutomationID,
				"name":             i.Name,
				"blueprint_id":     i.BlueprintID,
				"parameter_values": deepCopyMap(i.ParameterValues),
				"created_at":       i.CreatedAt.Format(time.RFC3339Nano),
			})
		}
		data["instances"] = instances
	}

	return data
}

// LibraryStatistics summarises a blueprint library.
type LibraryStatistics struct {
	TotalBlueprints int            `json:"total_blueprints"`
	TotalInstances  int            `json:"total_instances"`
	ByDomain        map[string]int `json:"by_domain"`
}

// SearchFilter narrows a library search. Empty fields match everything;
// Name and Author match case-insensitive substrings.
type SearchFilter struct {
	Domain string
	Name   string
	Author string
}

// Library is an in-memory blueprint registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Library struct {
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
}

// NewLibrary creates an empty blueprint library.
func NewLibrary() *Library {
	return &Library{blueprints: make(map[string]*Blueprint)}
}

// Register adds a blueprint; registering a duplicate ID fails.
func (l *Library) Register(b *Blueprint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.blueprints[b.BlueprintID]; exists {
		return ErrBlueprintExists
	}
	l.blueprints[b.BlueprintID] = b
	return nil
}

// Unregister removes a blueprint by ID.
func (l *Library) Unregister(blueprintID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.blueprints[blueprintID]; !exists {
		return ErrBlueprintNotFound
	}
	delete(l.blueprints, blueprintID)
	return nil
}

// Get returns a blueprint by ID.
func (l *Library) Get(blueprintID string) (*Blueprint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.blueprints[blueprintID]
	if !ok {
		return nil, ErrBlueprintNotFound
	}
	return b, nil
}

// All returns every registered blueprint.
func (l *Library) All() []*Blueprint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Blueprint, 0, len(l.blueprints))
	for _, b := range l.blueprints {
		out = append(out, b)
	}
	return out
}

// Search returns blueprints matching the filter.
func (l *Library) Search(filter SearchFilter) []*Blueprint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*Blueprint
	for _, b := range l.blueprints {
		if filter.Domain != "" && b.Domain != filter.Domain {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(b.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.Author != "" && !strings.Contains(strings.ToLower(b.Author), strings.ToLower(filter.Author)) {
			continue
		}
		results = append(results, b)
	}
	return results
}

// Statistics summarises the library contents.
func (l *Library) Statistics() LibraryStatistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := LibraryStatistics{
		TotalBlueprints: len(l.blueprints),
		ByDomain:        make(map[string]int),
	}
	for _, b := range l.blueprints {
		stats.TotalInstances += len(b.Instances())
		if b.Domain != "" {
			stats.ByDomain[b.Domain]++
		}
	}
	return stats
}

// toFloat normalises numeric values from decoded JSON/YAML.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
