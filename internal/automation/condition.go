package automation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConditionType identifies a condition variant.
type ConditionType string

const (
	ConditionState        ConditionType = "state"
	ConditionNumericState ConditionType = "numeric_state"
	ConditionTime         ConditionType = "time"
	ConditionTemplate     ConditionType = "template"
	ConditionDevice       ConditionType = "device"
	ConditionZone         ConditionType = "zone"
	ConditionSun          ConditionType = "sun"
	ConditionAnd          ConditionType = "and"
	ConditionOr           ConditionType = "or"
	ConditionNot          ConditionType = "not"
)

// Condition is a boolean predicate over an evaluation context.
//
// Evaluation is total and side-effect-free: a failed value resolution
// (missing entity, bad numeric cast, template error) counts as not met.
// A disabled condition always evaluates true (fail-open), so disabling
// one clause never blocks the whole automation.
type Condition interface {
	ID() string
	Type() ConditionType
	Evaluate(run *Context) bool
	SetEnabled(enabled bool)
	Serialize() map[string]any
}

// conditionBase carries identity and the fail-open enabled gate.
type conditionBase struct {
	id      string
	typ     ConditionType
	enabled bool
}

func newConditionBase(id string, typ ConditionType) conditionBase {
	return conditionBase{id: id, typ: typ, enabled: true}
}

func (b *conditionBase) ID() string              { return b.id }
func (b *conditionBase) Type() ConditionType     { return b.typ }
func (b *conditionBase) SetEnabled(enabled bool) { b.enabled = enabled }

func (b *conditionBase) serializeBase() map[string]any {
	return map[string]any{
		"condition_id":   b.id,
		"condition_type": string(b.typ),
		"enabled":        b.enabled,
	}
}

// ─── State Condition ────────────────────────────────────────────────────────

// StateCondition compares an entity's state or attribute against a target.
//
// When Match is set, the State value is treated as a pattern: a "regex:"
// prefix matches from the start of the value, a "glob:" prefix supports
// the * and ? wildcards, anything else compares exactly.
type StateCondition struct {
	conditionBase

	EntityID  string
	State     string
	StateNot  string
	Attribute string
	Match     bool
}

// NewStateCondition creates an entity state condition.
func NewStateCondition(id, entityID string) *StateCondition {
	return &StateCondition{
		conditionBase: newConditionBase(id, ConditionState),
		EntityID:      entityID,
	}
}

func (c *StateCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	entity, ok := run.Entities[c.EntityID]
	if !ok {
		return false
	}

	current := entity.State
	if c.Attribute != "" {
		current = stringify(entity.Attributes[c.Attribute])
	}

	if c.State != "" {
		if c.Match {
			if !matchPattern(c.State, current) {
				return false
			}
		} else if current != c.State {
			return false
		}
	}

	if c.StateNot != "" && current == c.StateNot {
		return false
	}

	return true
}

func (c *StateCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["entity_id"] = c.EntityID
	data["state"] = c.State
	data["state_not"] = c.StateNot
	data["attribute"] = c.Attribute
	data["match"] = c.Match
	return data
}

// matchPattern applies regex/glob/exact matching. Patterns are anchored at
// the start of the value; an invalid pattern is not met.
func matchPattern(pattern, value string) bool {
	switch {
	case strings.HasPrefix(pattern, "regex:"):
		re, err := regexp.Compile("^(?:" + strings.TrimPrefix(pattern, "regex:") + ")")
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case strings.HasPrefix(pattern, "glob:"):
		glob := strings.TrimPrefix(pattern, "glob:")
		expr := strings.ReplaceAll(regexp.QuoteMeta(glob), `\*`, ".*")
		expr = strings.ReplaceAll(expr, `\?`, ".")
		re, err := regexp.Compile("^(?:" + expr + ")")
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return value == pattern
	}
}

// ─── Numeric State Condition ────────────────────────────────────────────────

// NumericStateCondition checks whether a numeric value sits inside the
// open (above, below) range.
type NumericStateCondition struct {
	conditionBase

	EntityID  string
	Above     *float64
	Below     *float64
	Attribute string
}

// NewNumericStateCondition creates a numeric threshold condition.
func NewNumericStateCondition(id, entityID string) *NumericStateCondition {
	return &NumericStateCondition{
		conditionBase: newConditionBase(id, ConditionNumericState),
		EntityID:      entityID,
	}
}

func (c *NumericStateCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	entity, ok := run.Entities[c.EntityID]
	if !ok {
		return false
	}

	raw := entity.State
	if c.Attribute != "" {
		raw = stringify(entity.Attributes[c.Attribute])
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}

	if c.Above != nil && value <= *c.Above {
		return false
	}
	if c.Below != nil && value >= *c.Below {
		return false
	}
	return true
}

func (c *NumericStateCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["entity_id"] = c.EntityID
	data["above"] = floatPtrValue(c.Above)
	data["below"] = floatPtrValue(c.Below)
	data["attribute"] = c.Attribute
	return data
}

// ─── Time Condition ─────────────────────────────────────────────────────────

// TimeCondition checks the current time of day and weekday. The window
// check applies only when both After and Before are set; a parse error
// is not met.
type TimeCondition struct {
	conditionBase

	After    string // "HH:MM:SS"
	Before   string
	Weekdays []string
}

// NewTimeCondition creates a time-of-day condition.
func NewTimeCondition(id string) *TimeCondition {
	return &TimeCondition{conditionBase: newConditionBase(id, ConditionTime)}
}

func (c *TimeCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	now := run.Now()

	if len(c.Weekdays) > 0 {
		today := strings.ToLower(now.Weekday().String())
		matched := false
		for _, w := range c.Weekdays {
			if strings.ToLower(w) == today {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.After != "" && c.Before != "" {
		after, errA := secondsOfDay(c.After)
		before, errB := secondsOfDay(c.Before)
		if errA != nil || errB != nil {
			return false
		}
		current := nowSeconds(now)
		if !(after <= current && current <= before) {
			return false
		}
	}

	return true
}

func (c *TimeCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["after"] = c.After
	data["before"] = c.Before
	data["weekday"] = c.Weekdays
	return data
}

// ─── Template Condition ─────────────────────────────────────────────────────

// TemplateCondition is met when its expression renders truthy.
type TemplateCondition struct {
	conditionBase

	ValueTemplate string
}

// NewTemplateCondition creates a template condition.
func NewTemplateCondition(id, valueTemplate string) *TemplateCondition {
	return &TemplateCondition{
		conditionBase: newConditionBase(id, ConditionTemplate),
		ValueTemplate: valueTemplate,
	}
}

func (c *TemplateCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	result, err := run.Render(c.ValueTemplate)
	if err != nil {
		run.Log().Warn("template condition render failed", "condition_id", c.id, "error", err)
		return false
	}
	return isTruthy(result)
}

func (c *TemplateCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["value_template"] = c.ValueTemplate
	return data
}

// ─── Device Condition ───────────────────────────────────────────────────────

// DeviceCondition checks properties of a device snapshot. Unset fields
// are not checked; a missing device is not met.
type DeviceCondition struct {
	conditionBase

	DeviceID string
	EntityID string
	Domain   string
	Kind     string // device type
	State    string
}

// NewDeviceCondition creates a device property condition.
func NewDeviceCondition(id, deviceID string) *DeviceCondition {
	return &DeviceCondition{
		conditionBase: newConditionBase(id, ConditionDevice),
		DeviceID:      deviceID,
	}
}

func (c *DeviceCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	device, ok := run.Devices[c.DeviceID]
	if !ok {
		return false
	}

	if c.EntityID != "" {
		found := false
		for _, e := range device.Entities {
			if e == c.EntityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if c.Domain != "" && device.Domain != c.Domain {
		return false
	}
	if c.Kind != "" && device.Type != c.Kind {
		return false
	}

	if c.State != "" {
		deviceState := device.State
		if deviceState == "" {
			deviceState = "unknown"
		}
		if deviceState != c.State {
			return false
		}
	}

	return true
}

func (c *DeviceCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["device_id"] = c.DeviceID
	data["entity_id"] = c.EntityID
	data["domain"] = c.Domain
	data["type"] = c.Kind
	data["state"] = c.State
	return data
}

// ─── Zone Condition ─────────────────────────────────────────────────────────

// ZoneCondition checks whether an entity's "zone" attribute matches.
type ZoneCondition struct {
	conditionBase

	EntityID string
	Zone     string
}

// NewZoneCondition creates a zone presence condition.
func NewZoneCondition(id, entityID, zone string) *ZoneCondition {
	return &ZoneCondition{
		conditionBase: newConditionBase(id, ConditionZone),
		EntityID:      entityID,
		Zone:          zone,
	}
}

func (c *ZoneCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	entity, ok := run.Entities[c.EntityID]
	if !ok {
		return false
	}
	return stringify(entity.Attributes["zone"]) == c.Zone
}

func (c *ZoneCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["entity_id"] = c.EntityID
	data["zone"] = c.Zone
	return data
}

// ─── Sun Condition ──────────────────────────────────────────────────────────

// SunCondition checks the current time against sunrise/sunset, with
// optional per-bound offsets. A sun event missing from the snapshot skips
// that bound rather than failing.
type SunCondition struct {
	conditionBase

	Before       string // "sunrise" or "sunset"
	After        string
	BeforeOffset time.Duration
	AfterOffset  time.Duration
}

// NewSunCondition creates a solar-position condition.
func NewSunCondition(id string) *SunCondition {
	return &SunCondition{conditionBase: newConditionBase(id, ConditionSun)}
}

func (c *SunCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}

	now := run.Now()

	if c.Before != "" {
		if eventTime, ok := run.SunEvents[c.Before]; ok {
			if now.After(eventTime.Add(c.BeforeOffset)) {
				return false
			}
		}
	}

	if c.After != "" {
		if eventTime, ok := run.SunEvents[c.After]; ok {
			if now.Before(eventTime.Add(c.AfterOffset)) {
				return false
			}
		}
	}

	return true
}

func (c *SunCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["before"] = c.Before
	data["after"] = c.After
	data["before_offset"] = c.BeforeOffset.Seconds()
	data["after_offset"] = c.AfterOffset.Seconds()
	return data
}

// ─── Composite Conditions ───────────────────────────────────────────────────

// AndCondition is the conjunction of its children (short-circuits on the
// first false child).
type AndCondition struct {
	conditionBase

	Conditions []Condition
}

// NewAndCondition creates a conjunction of child conditions.
func NewAndCondition(id string, conditions ...Condition) *AndCondition {
	return &AndCondition{
		conditionBase: newConditionBase(id, ConditionAnd),
		Conditions:    conditions,
	}
}

func (c *AndCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}
	for _, child := range c.Conditions {
		if !child.Evaluate(run) {
			return false
		}
	}
	return true
}

func (c *AndCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["conditions"] = serializeConditions(c.Conditions)
	return data
}

// OrCondition is the disjunction of its children (short-circuits on the
// first true child).
type OrCondition struct {
	conditionBase

	Conditions []Condition
}

// NewOrCondition creates a disjunction of child conditions.
func NewOrCondition(id string, conditions ...Condition) *OrCondition {
	return &OrCondition{
		conditionBase: newConditionBase(id, ConditionOr),
		Conditions:    conditions,
	}
}

func (c *OrCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}
	for _, child := range c.Conditions {
		if child.Evaluate(run) {
			return true
		}
	}
	return false
}

func (c *OrCondition) Serialize() map[string]any {
	data := c.serializeBase()
	data["conditions"] = serializeConditions(c.Conditions)
	return data
}

// NotCondition negates one child condition.
type NotCondition struct {
	conditionBase

	Condition Condition
}

// NewNotCondition creates a negation of a child condition.
func NewNotCondition(id string, condition Condition) *NotCondition {
	return &NotCondition{
		conditionBase: newConditionBase(id, ConditionNot),
		Condition:     condition,
	}
}

func (c *NotCondition) Evaluate(run *Context) bool {
	if !c.enabled {
		return true
	}
	return !c.Condition.Evaluate(run)
}

func (c *NotCondition) Serialize() map[string]any {
	data := c.serializeBase()
	if c.Condition != nil {
		data["condition"] = c.Condition.Serialize()
	}
	return data
}

func serializeConditions(conditions []Condition) []map[string]any {
	out := make([]map[string]any, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, c.Serialize())
	}
	return out
}
