package automation

import (
	"fmt"
	"strconv"
	"time"
)

// Factory functions build concrete Trigger/Condition/Action instances from
// raw configuration maps. The same dispatch serves blueprint instantiation,
// repository hydration, and the API layer, so serialized output fed back in
// reconstructs an equivalent object.
//
// Type tags are read from "platform"/"trigger_type" for triggers,
// "condition"/"condition_type" for conditions, and "action"/"action_type"
// for actions; the first missing tag falls back to the next.

// TriggerFromConfig builds a trigger from a raw config map. fallbackID is
// used when the config carries no trigger_id.
func TriggerFromConfig(cfg map[string]any, fallbackID string) (Trigger, error) {
	id := cfgString(cfg, "trigger_id")
	if id == "" {
		id = fallbackID
	}

	typ := cfgString(cfg, "platform", "trigger_type")
	if typ == "" {
		typ = string(TriggerState)
	}

	var trigger Trigger
	switch TriggerType(typ) {
	case TriggerState:
		t := NewStateTrigger(id, cfgString(cfg, "entity_id"))
		t.FromState = cfgString(cfg, "from", "from_state")
		t.ToState = cfgString(cfg, "to", "to_state")
		t.Attribute = cfgString(cfg, "attribute")
		t.ForDuration = cfgDuration(cfg, "for", "for_duration")
		trigger = t

	case TriggerTime:
		t := NewTimeTrigger(id)
		t.At = cfgString(cfg, "at")
		t.After = cfgString(cfg, "after")
		t.Before = cfgString(cfg, "before")
		t.Weekdays = cfgStrings(cfg, "weekday")
		t.Interval = cfgString(cfg, "interval")
		trigger = t

	case TriggerEvent:
		t := NewEventTrigger(id, cfgString(cfg, "event_type"))
		t.EventData = cfgMap(cfg, "event_data")
		trigger = t

	case TriggerNumericState:
		t := NewNumericStateTrigger(id, cfgString(cfg, "entity_id"))
		t.Above = cfgFloatPtr(cfg, "above")
		t.Below = cfgFloatPtr(cfg, "below")
		t.Attribute = cfgString(cfg, "attribute")
		t.ForDuration = cfgDuration(cfg, "for", "for_duration")
		trigger = t

	case TriggerTemplate:
		t := NewTemplateTrigger(id, cfgString(cfg, "value_template"))
		t.ForDuration = cfgDuration(cfg, "for", "for_duration")
		trigger = t

	case TriggerSun:
		t := NewSunTrigger(id, cfgString(cfg, "event"))
		t.Offset = cfgDuration(cfg, "offset")
		trigger = t

	case TriggerMQTT:
		t := NewMQTTTrigger(id, cfgString(cfg, "topic"))
		t.Payload = cfgString(cfg, "payload")
		trigger = t

	default:
		return nil, fmt.Errorf("%w: unrecognised trigger type %q", ErrInvalidConfig, typ)
	}

	applyTriggerBase(trigger, cfg)
	return trigger, nil
}

// applyTriggerBase sets the gating fields shared by every variant.
func applyTriggerBase(t Trigger, cfg map[string]any) {
	if enabled, ok := cfgBoolOK(cfg, "enabled"); ok {
		t.SetEnabled(enabled)
	}
	if cooldown := cfgDuration(cfg, "cooldown"); cooldown > 0 {
		switch v := t.(type) {
		case *StateTrigger:
			v.cooldown = cooldown
		case *TimeTrigger:
			v.cooldown = cooldown
		case *EventTrigger:
			v.cooldown = cooldown
		case *NumericStateTrigger:
			v.cooldown = cooldown
		case *TemplateTrigger:
			v.cooldown = cooldown
		case *SunTrigger:
			v.cooldown = cooldown
		case *MQTTTrigger:
			v.cooldown = cooldown
		}
	}
}

// ConditionFromConfig builds a condition from a raw config map, recursing
// into composite variants.
func ConditionFromConfig(cfg map[string]any, fallbackID string) (Condition, error) {
	id := cfgString(cfg, "condition_id")
	if id == "" {
		id = fallbackID
	}

	typ := cfgString(cfg, "condition", "condition_type")
	if typ == "" {
		typ = string(ConditionState)
	}

	var condition Condition
	switch ConditionType(typ) {
	case ConditionState:
		c := NewStateCondition(id, cfgString(cfg, "entity_id"))
		c.State = cfgString(cfg, "state")
		c.StateNot = cfgString(cfg, "state_not")
		c.Attribute = cfgString(cfg, "attribute")
		c.Match = cfgBool(cfg, "match")
		condition = c

	case ConditionNumericState:
		c := NewNumericStateCondition(id, cfgString(cfg, "entity_id"))
		c.Above = cfgFloatPtr(cfg, "above")
		c.Below = cfgFloatPtr(cfg, "below")
		c.Attribute = cfgString(cfg, "attribute")
		condition = c

	case ConditionTime:
		c := NewTimeCondition(id)
		c.After = cfgString(cfg, "after")
		c.Before = cfgString(cfg, "before")
		c.Weekdays = cfgStrings(cfg, "weekday")
		condition = c

	case ConditionTemplate:
		condition = NewTemplateCondition(id, cfgString(cfg, "value_template"))

	case ConditionDevice:
		c := NewDeviceCondition(id, cfgString(cfg, "device_id"))
		c.EntityID = cfgString(cfg, "entity_id")
		c.Domain = cfgString(cfg, "domain")
		c.Kind = cfgString(cfg, "type")
		c.State = cfgString(cfg, "state")
		condition = c

	case ConditionZone:
		condition = NewZoneCondition(id, cfgString(cfg, "entity_id"), cfgString(cfg, "zone"))

	case ConditionSun:
		c := NewSunCondition(id)
		c.Before = cfgString(cfg, "before")
		c.After = cfgString(cfg, "after")
		c.BeforeOffset = cfgDuration(cfg, "before_offset")
		c.AfterOffset = cfgDuration(cfg, "after_offset")
		condition = c

	case ConditionAnd, ConditionOr:
		children, err := childConditions(cfg, id)
		if err != nil {
			return nil, err
		}
		if ConditionType(typ) == ConditionAnd {
			condition = NewAndCondition(id, children...)
		} else {
			condition = NewOrCondition(id, children...)
		}

	case ConditionNot:
		inner, ok := cfg["condition"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: not condition requires a child condition", ErrInvalidConfig)
		}
		child, err := ConditionFromConfig(inner, id+"_inner")
		if err != nil {
			return nil, err
		}
		condition = NewNotCondition(id, child)

	default:
		return nil, fmt.Errorf("%w: unrecognised condition type %q", ErrInvalidConfig, typ)
	}

	if enabled, ok := cfgBoolOK(cfg, "enabled"); ok {
		condition.SetEnabled(enabled)
	}
	return condition, nil
}

func childConditions(cfg map[string]any, parentID string) ([]Condition, error) {
	raw := cfgSlice(cfg, "conditions")
	children := make([]Condition, 0, len(raw))
	for i, item := range raw {
		childCfg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: child condition %d is not a map", ErrInvalidConfig, i)
		}
		child, err := ConditionFromConfig(childCfg, fmt.Sprintf("%s_%d", parentID, i))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// ActionFromConfig builds an action from a raw config map, recursing into
// composite variants (choose, parallel, repeat).
func ActionFromConfig(cfg map[string]any, fallbackID string) (Action, error) {
	id := cfgString(cfg, "action_id")
	if id == "" {
		id = fallbackID
	}

	typ := cfgString(cfg, "action", "action_type")
	if typ == "" {
		typ = string(ActionService)
	}

	var action Action
	switch ActionType(typ) {
	case ActionService:
		a := NewServiceAction(id, cfgString(cfg, "service"))
		a.EntityID = cfgString(cfg, "entity_id")
		a.ServiceData = cfgMap(cfg, "data", "service_data")
		a.ServiceDataTemplate = cfgMap(cfg, "data_template", "service_data_template")
		action = a

	case ActionScript:
		a := NewScriptAction(id, cfgString(cfg, "script_id"))
		a.Variables = cfgMap(cfg, "variables")
		action = a

	case ActionDelay:
		a := NewDelayAction(id, cfgScalarString(cfg, "delay"))
		a.DelayTemplate = cfgString(cfg, "delay_template")
		action = a

	case ActionNotify:
		a := NewNotifyAction(id, cfgString(cfg, "message"))
		a.Title = cfgString(cfg, "title")
		a.Target = cfgString(cfg, "target")
		a.MessageTemplate = cfgString(cfg, "message_template")
		action = a

	case ActionScene:
		activate := true
		if v, ok := cfgBoolOK(cfg, "activate"); ok {
			activate = v
		}
		action = NewSceneAction(id, cfgString(cfg, "scene_id"), activate)

	case ActionChoose:
		choices, err := chooseBranches(cfg, id)
		if err != nil {
			return nil, err
		}
		defaults, err := childActions(cfgSlice(cfg, "default"), id+"_default")
		if err != nil {
			return nil, err
		}
		action = NewChooseAction(id, choices, defaults)

	case ActionParallel:
		children, err := childActions(cfgSlice(cfg, "actions"), id)
		if err != nil {
			return nil, err
		}
		action = NewParallelAction(id, children, cfgInt(cfg, "max_parallel"))

	case ActionRepeat:
		children, err := childActions(cfgSlice(cfg, "sequence"), id)
		if err != nil {
			return nil, err
		}
		a := NewRepeatAction(id, cfgScalarString(cfg, "repeat"), children)
		a.RepeatTemplate = cfgString(cfg, "repeat_template")
		action = a

	case ActionTemplate:
		action = NewTemplateAction(id, cfgString(cfg, "value_template"))

	case ActionLog:
		action = NewLogAction(id, cfgString(cfg, "message"), cfgString(cfg, "level"))

	default:
		return nil, fmt.Errorf("%w: unrecognised action type %q", ErrInvalidConfig, typ)
	}

	if enabled, ok := cfgBoolOK(cfg, "enabled"); ok {
		action.SetEnabled(enabled)
	}
	return action, nil
}

func chooseBranches(cfg map[string]any, parentID string) ([]ChooseBranch, error) {
	raw := cfgSlice(cfg, "choices")
	branches := make([]ChooseBranch, 0, len(raw))
	for i, item := range raw {
		branchCfg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: choice %d is not a map", ErrInvalidConfig, i)
		}

		branchID := fmt.Sprintf("%s_choice_%d", parentID, i)
		conditions, err := childConditionList(cfgSlice(branchCfg, "conditions"), branchID)
		if err != nil {
			return nil, err
		}
		actions, err := childActions(cfgSlice(branchCfg, "actions"), branchID)
		if err != nil {
			return nil, err
		}
		branches = append(branches, ChooseBranch{Conditions: conditions, Actions: actions})
	}
	return branches, nil
}

func childConditionList(raw []any, parentID string) ([]Condition, error) {
	conditions := make([]Condition, 0, len(raw))
	for i, item := range raw {
		childCfg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: condition %d is not a map", ErrInvalidConfig, i)
		}
		child, err := ConditionFromConfig(childCfg, fmt.Sprintf("%s_cond_%d", parentID, i))
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, child)
	}
	return conditions, nil
}

func childActions(raw []any, parentID string) ([]Action, error) {
	actions := make([]Action, 0, len(raw))
	for i, item := range raw {
		childCfg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: action %d is not a map", ErrInvalidConfig, i)
		}
		child, err := ActionFromConfig(childCfg, fmt.Sprintf("%s_%d", parentID, i))
		if err != nil {
			return nil, err
		}
		actions = append(actions, child)
	}
	return actions, nil
}

// ─── Config Map Helpers ─────────────────────────────────────────────────────

// cfgString returns the first non-empty string value among keys.
func cfgString(cfg map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := cfg[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// cfgScalarString renders a string or numeric value as a string; Delay and
// Repeat accept both forms.
func cfgScalarString(cfg map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := cfg[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

func cfgBool(cfg map[string]any, key string) bool {
	b, _ := cfgBoolOK(cfg, key)
	return b
}

func cfgBoolOK(cfg map[string]any, key string) (bool, bool) {
	b, ok := cfg[key].(bool)
	return b, ok
}

func cfgInt(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func cfgFloatPtr(cfg map[string]any, key string) *float64 {
	switch v := cfg[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

// cfgDuration reads a duration given as seconds (number) or a compound
// string such as "1h30m". Unparseable values yield zero.
func cfgDuration(cfg map[string]any, keys ...string) time.Duration {
	for _, key := range keys {
		switch v := cfg[key].(type) {
		case float64:
			return time.Duration(v * float64(time.Second))
		case int:
			return time.Duration(v) * time.Second
		case string:
			if v == "" {
				continue
			}
			if d, err := parseFlexibleDuration(v); err == nil {
				return d
			}
		}
	}
	return 0
}

func cfgStrings(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func cfgMap(cfg map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if m, ok := cfg[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func cfgSlice(cfg map[string]any, key string) []any {
	switch v := cfg[key].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, m := range v {
			out = append(out, m)
		}
		return out
	}
	return nil
}
