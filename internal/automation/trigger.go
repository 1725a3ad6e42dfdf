package automation

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashdene/butler-core/internal/metrics"
)

// TriggerType identifies a trigger variant.
type TriggerType string

const (
	TriggerState        TriggerType = "state"
	TriggerTime         TriggerType = "time"
	TriggerEvent        TriggerType = "event"
	TriggerNumericState TriggerType = "numeric_state"
	TriggerTemplate     TriggerType = "template"
	TriggerSun          TriggerType = "sun"
	TriggerMQTT         TriggerType = "mqtt"
)

// TriggerData is the record delivered to subscriber callbacks when a
// trigger fires.
type TriggerData struct {
	TriggerID    string   `json:"trigger_id"`
	TriggerType  string   `json:"trigger_type"`
	Timestamp    string   `json:"timestamp"` // RFC 3339
	TriggerCount int      `json:"trigger_count"`
	Context      *Context `json:"-"`
}

// TriggerCallback receives fire notifications. A callback error is logged
// and swallowed; it never affects the fire result.
type TriggerCallback func(data TriggerData) error

// Trigger is the common contract for all trigger variants.
//
// Fire is the gated entry point: it applies the enabled/cooldown gates,
// runs the variant-specific check, and on success updates fire bookkeeping
// and notifies subscribers.
type Trigger interface {
	ID() string
	Type() TriggerType
	Fire(run *Context) bool
	AddCallback(cb TriggerCallback)
	SetEnabled(enabled bool)
	LastTriggered() time.Time
	Count() int
	Serialize() map[string]any
}

// triggerBase carries the gating state shared by every variant.
type triggerBase struct {
	id       string
	typ      TriggerType
	cooldown time.Duration

	mu        sync.Mutex
	enabled   bool
	last      time.Time
	count     int
	callbacks []TriggerCallback
}

func newTriggerBase(id string, typ TriggerType, enabled bool, cooldown time.Duration) triggerBase {
	return triggerBase{id: id, typ: typ, enabled: enabled, cooldown: cooldown}
}

func (b *triggerBase) ID() string        { return b.id }
func (b *triggerBase) Type() TriggerType { return b.typ }

func (b *triggerBase) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *triggerBase) AddCallback(cb TriggerCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

func (b *triggerBase) LastTriggered() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *triggerBase) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// fire applies the gating protocol around a variant check.
//
// Gate order: disabled wins, then cooldown, then the check predicate.
// Only a passing check updates last-triggered/count and notifies
// subscribers.
func (b *triggerBase) fire(run *Context, check func(*Context) bool) bool {
	now := run.Now()

	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return false
	}
	if b.cooldown > 0 && !b.last.IsZero() && now.Sub(b.last) < b.cooldown {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	if !check(run) {
		return false
	}

	b.mu.Lock()
	b.last = now
	b.count++
	data := TriggerData{
		TriggerID:    b.id,
		TriggerType:  string(b.typ),
		Timestamp:    now.Format(time.RFC3339Nano),
		TriggerCount: b.count,
		Context:      run,
	}
	callbacks := make([]TriggerCallback, len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.Unlock()

	metrics.TriggersFired.WithLabelValues(string(b.typ)).Inc()

	for _, cb := range callbacks {
		if err := cb(data); err != nil {
			run.Log().Warn("trigger callback failed", "trigger_id", b.id, "error", err)
		}
	}
	return true
}

// serializeBase emits the fields common to all variants.
func (b *triggerBase) serializeBase() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"trigger_id":   b.id,
		"trigger_type": string(b.typ),
		"enabled":      b.enabled,
		"cooldown":     b.cooldown.Seconds(),
	}
}

// ─── State Trigger ──────────────────────────────────────────────────────────

// StateTrigger fires when an entity's state (or one attribute) transitions,
// optionally filtered by from/to values and held for a duration.
type StateTrigger struct {
	triggerBase

	EntityID    string
	FromState   string
	ToState     string
	Attribute   string
	ForDuration time.Duration

	pendingSince time.Time
}

// NewStateTrigger creates a state-change trigger.
func NewStateTrigger(id, entityID string) *StateTrigger {
	return &StateTrigger{
		triggerBase: newTriggerBase(id, TriggerState, true, 0),
		EntityID:    entityID,
	}
}

func (t *StateTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *StateTrigger) check(run *Context) bool {
	entity, ok := run.Entities[t.EntityID]
	if !ok {
		return false
	}

	var oldValue, newValue string
	if t.Attribute != "" {
		newValue = stringify(entity.Attributes[t.Attribute])
		if old, exists := run.OldStates[t.EntityID]; exists {
			oldValue = stringify(old.Attributes[t.Attribute])
		}
	} else {
		newValue = entity.State
		if old, exists := run.OldStates[t.EntityID]; exists {
			oldValue = old.State
		}
	}

	if t.FromState != "" && oldValue != t.FromState {
		return false
	}
	if t.ToState != "" && newValue != t.ToState {
		return false
	}
	if (t.FromState != "" || t.ToState != "") && oldValue == newValue {
		return false
	}

	if t.ForDuration > 0 {
		if t.pendingSince.IsZero() {
			t.pendingSince = run.Now()
			return false
		}
		if run.Now().Sub(t.pendingSince) < t.ForDuration {
			return false
		}
		t.pendingSince = time.Time{}
	}

	return true
}

func (t *StateTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["entity_id"] = t.EntityID
	data["from_state"] = t.FromState
	data["to_state"] = t.ToState
	data["for_duration"] = t.ForDuration.Seconds()
	data["attribute"] = t.Attribute
	return data
}

// ─── Time Trigger ───────────────────────────────────────────────────────────

// TimeTrigger fires at an exact time of day (±1s), inside an [after,before]
// window, or on a repeating interval, optionally filtered by weekday.
type TimeTrigger struct {
	triggerBase

	At       string // "HH:MM:SS"
	After    string
	Before   string
	Weekdays []string // lowercase full names
	Interval string   // "1h30m" or bare seconds

	lastIntervalFire time.Time
}

// NewTimeTrigger creates a time trigger; configure At/After/Before/Interval
// on the returned value.
func NewTimeTrigger(id string) *TimeTrigger {
	return &TimeTrigger{triggerBase: newTriggerBase(id, TriggerTime, true, 0)}
}

func (t *TimeTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *TimeTrigger) check(run *Context) bool {
	now := run.Now()

	if len(t.Weekdays) > 0 {
		today := strings.ToLower(now.Weekday().String())
		matched := false
		for _, w := range t.Weekdays {
			if strings.ToLower(w) == today {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if t.At != "" {
		if target, err := secondsOfDay(t.At); err == nil {
			if math.Abs(float64(nowSeconds(now)-target)) <= 1 {
				return true
			}
		}
	}

	if t.After != "" && t.Before != "" {
		after, errA := secondsOfDay(t.After)
		before, errB := secondsOfDay(t.Before)
		if errA == nil && errB == nil {
			current := nowSeconds(now)
			if after <= current && current <= before {
				return true
			}
		}
	}

	if t.Interval != "" {
		if t.lastIntervalFire.IsZero() {
			t.lastIntervalFire = now
			return true
		}
		interval, err := parseFlexibleDuration(t.Interval)
		if err == nil && now.Sub(t.lastIntervalFire) >= interval {
			t.lastIntervalFire = now
			return true
		}
	}

	return false
}

func (t *TimeTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["at"] = t.At
	data["after"] = t.After
	data["before"] = t.Before
	data["weekday"] = t.Weekdays
	data["interval"] = t.Interval
	return data
}

// secondsOfDay parses "HH:MM:SS" into seconds since midnight.
func secondsOfDay(s string) (int, error) {
	parsed, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("parsing time of day %q: %w", s, err)
	}
	return parsed.Hour()*3600 + parsed.Minute()*60 + parsed.Second(), nil
}

func nowSeconds(now time.Time) int {
	return now.Hour()*3600 + now.Minute()*60 + now.Second()
}

// ─── Event Trigger ──────────────────────────────────────────────────────────

// EventTrigger fires when the pass carries a matching bus event.
type EventTrigger struct {
	triggerBase

	EventType string
	EventData map[string]any // exact sub-map match against event data
}

// NewEventTrigger creates an event trigger for the given event type.
func NewEventTrigger(id, eventType string) *EventTrigger {
	return &EventTrigger{
		triggerBase: newTriggerBase(id, TriggerEvent, true, 0),
		EventType:   eventType,
	}
}

func (t *EventTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *EventTrigger) check(run *Context) bool {
	if run.Event == nil {
		return false
	}
	if run.Event.Type != t.EventType {
		return false
	}
	for key, expected := range t.EventData {
		if !valuesEqual(run.Event.Data[key], expected) {
			return false
		}
	}
	return true
}

func (t *EventTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["event_type"] = t.EventType
	data["event_data"] = t.EventData
	return data
}

// ─── Numeric State Trigger ──────────────────────────────────────────────────

// NumericStateTrigger fires when a numeric value sits inside the open
// (above, below) range, optionally held for a duration. The hold timer
// resets whenever the value leaves the range.
type NumericStateTrigger struct {
	triggerBase

	EntityID    string
	Above       *float64
	Below       *float64
	Attribute   string
	ForDuration time.Duration

	metSince time.Time
}

// NewNumericStateTrigger creates a numeric threshold trigger.
func NewNumericStateTrigger(id, entityID string) *NumericStateTrigger {
	return &NumericStateTrigger{
		triggerBase: newTriggerBase(id, TriggerNumericState, true, 0),
		EntityID:    entityID,
	}
}

func (t *NumericStateTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *NumericStateTrigger) check(run *Context) bool {
	entity, ok := run.Entities[t.EntityID]
	if !ok {
		return false
	}

	raw := entity.State
	if t.Attribute != "" {
		raw = stringify(entity.Attributes[t.Attribute])
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}

	met := true
	if t.Above != nil && value <= *t.Above {
		met = false
	}
	if t.Below != nil && value >= *t.Below {
		met = false
	}

	if !met {
		t.metSince = time.Time{}
		return false
	}

	if t.ForDuration > 0 {
		if t.metSince.IsZero() {
			t.metSince = run.Now()
			return false
		}
		if run.Now().Sub(t.metSince) < t.ForDuration {
			return false
		}
		t.metSince = time.Time{}
	}

	return true
}

func (t *NumericStateTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["entity_id"] = t.EntityID
	data["above"] = floatPtrValue(t.Above)
	data["below"] = floatPtrValue(t.Below)
	data["attribute"] = t.Attribute
	data["for_duration"] = t.ForDuration.Seconds()
	return data
}

// ─── Template Trigger ───────────────────────────────────────────────────────

// TemplateTrigger fires when its expression renders truthy, optionally held
// for a duration. A render error never fires.
type TemplateTrigger struct {
	triggerBase

	ValueTemplate string
	ForDuration   time.Duration

	trueSince time.Time
}

// NewTemplateTrigger creates a template trigger.
func NewTemplateTrigger(id, valueTemplate string) *TemplateTrigger {
	return &TemplateTrigger{
		triggerBase:   newTriggerBase(id, TriggerTemplate, true, 0),
		ValueTemplate: valueTemplate,
	}
}

func (t *TemplateTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *TemplateTrigger) check(run *Context) bool {
	result, err := run.Render(t.ValueTemplate)
	if err != nil {
		run.Log().Warn("template trigger render failed", "trigger_id", t.id, "error", err)
		return false
	}

	if !isTruthy(result) {
		t.trueSince = time.Time{}
		return false
	}

	if t.ForDuration > 0 {
		if t.trueSince.IsZero() {
			t.trueSince = run.Now()
			return false
		}
		if run.Now().Sub(t.trueSince) < t.ForDuration {
			return false
		}
		t.trueSince = time.Time{}
	}

	return true
}

func (t *TemplateTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["value_template"] = t.ValueTemplate
	data["for_duration"] = t.ForDuration.Seconds()
	return data
}

// ─── Sun Trigger ────────────────────────────────────────────────────────────

// SunTrigger fires within one second of sunrise/sunset plus an offset.
type SunTrigger struct {
	triggerBase

	Event  string // "sunrise" or "sunset"
	Offset time.Duration
}

// NewSunTrigger creates a solar-event trigger.
func NewSunTrigger(id, event string) *SunTrigger {
	return &SunTrigger{
		triggerBase: newTriggerBase(id, TriggerSun, true, 0),
		Event:       event,
	}
}

func (t *SunTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *SunTrigger) check(run *Context) bool {
	eventTime, ok := run.SunEvents[t.Event]
	if !ok {
		return false
	}
	target := eventTime.Add(t.Offset)
	diff := run.Now().Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Second
}

func (t *SunTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["event"] = t.Event
	data["offset"] = t.Offset.Seconds()
	return data
}

// ─── MQTT Trigger ───────────────────────────────────────────────────────────

// MQTTTrigger fires when the pass carries a message on an exact topic,
// optionally requiring an exact payload.
type MQTTTrigger struct {
	triggerBase

	Topic   string
	Payload string // empty means any payload
}

// NewMQTTTrigger creates an MQTT message trigger for an exact topic.
func NewMQTTTrigger(id, topic string) *MQTTTrigger {
	return &MQTTTrigger{
		triggerBase: newTriggerBase(id, TriggerMQTT, true, 0),
		Topic:       topic,
	}
}

func (t *MQTTTrigger) Fire(run *Context) bool {
	return t.fire(run, t.check)
}

func (t *MQTTTrigger) check(run *Context) bool {
	msg := run.MQTTMessage
	if msg == nil {
		return false
	}
	if msg.Topic != t.Topic {
		return false
	}
	if t.Payload != "" && msg.Payload != t.Payload {
		return false
	}
	return true
}

func (t *MQTTTrigger) Serialize() map[string]any {
	data := t.serializeBase()
	data["topic"] = t.Topic
	data["payload"] = t.Payload
	data["encoding"] = "utf-8"
	return data
}

// ─── Shared Helpers ─────────────────────────────────────────────────────────

// stringify renders an attribute value the way state strings are compared.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// valuesEqual compares event-data values exactly, bridging only the decode
// split between config and payload: YAML configs carry whole numbers as int
// while JSON payloads carry float64, so numbers compare by value. A string
// never matches a number.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	af, aNum := numericValue(a)
	bf, bNum := numericValue(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// numericValue reports v as a float when it is a genuine number. Numeric
// strings do not count.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func floatPtrValue(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
