package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashdene/butler-core/internal/metrics"
)

// Broker is the interface the engine needs from the MQTT layer. It is
// satisfied by a thin adapter over the infrastructure client so the
// automation package carries no transport dependency.
type Broker interface {
	// Subscribe registers a handler for a topic filter.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// SunProvider supplies sunrise/sunset times for sun triggers and conditions.
type SunProvider interface {
	// Events returns the sun events for the day containing t.
	Events(t time.Time) map[string]time.Time
}

// MQTT topic layout the engine speaks.
const (
	topicStateFilter = "butler/state/+"
	topicStatePrefix = "butler/state/"
	topicEventFilter = "butler/event/#"
	topicEventPrefix = "butler/event/"
)

// Default scheduler settings.
const (
	defaultTickInterval = time.Second
	defaultQueueSize    = 256
)

// EngineOptions bundles the engine's injected capabilities. Every field is
// optional; an absent capability degrades the corresponding action or
// trigger rather than failing construction.
type EngineOptions struct {
	Broker   Broker
	Sun      SunProvider
	Services ServiceCaller
	Scripts  ScriptExecutor
	Notify   Notifier
	Scenes   SceneExecutor
	Renderer Renderer
	Logger   Logger

	// TickInterval is the scheduler pass interval (default 1s).
	TickInterval time.Duration
	// QueueSize bounds the pending event and message queues (default 256).
	QueueSize int
	// HistoryLimit caps each automation's in-memory execution history
	// (default 100).
	HistoryLimit int
}

// Engine is the automation scheduler.
//
// It holds hydrated Automations, maintains the entity/device state snapshot
// from inbound MQTT, and runs a periodic evaluation pass: a base pass for
// time/sun/state triggers, plus one pass per queued bus event and per queued
// MQTT message so event-scoped triggers see exactly one payload each.
// Trigger checks run on the scheduler goroutine; each fired run is
// dispatched on its own goroutine so many executions can be in flight and a
// slow action never delays the next pass.
//
// Thread Safety: all public methods are safe for concurrent use.
type Engine struct {
	repo   Repository
	broker Broker
	sun    SunProvider

	services ServiceCaller
	scripts  ScriptExecutor
	notify   Notifier
	scenes   SceneExecutor
	renderer Renderer
	logger   Logger

	interval     time.Duration
	historyLimit int

	mu          sync.RWMutex
	automations map[string]*Automation
	order       []string // registration order, drives deterministic evaluation
	entities    map[string]EntityState
	oldStates   map[string]EntityState
	devices     map[string]Device
	subscribed  map[string]bool // MQTT trigger topics already subscribed

	events   chan Event
	messages chan Message

	wg sync.WaitGroup // dispatched automation runs in flight

	clock func() time.Time
}

// NewEngine creates an automation engine.
//
// Parameters:
//   - repo: Repository for persisting execution records (may be nil)
//   - opts: Injected capabilities and scheduler tuning
func NewEngine(repo Repository, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Engine{
		repo:         repo,
		broker:       opts.Broker,
		sun:          opts.Sun,
		services:     opts.Services,
		scripts:      opts.Scripts,
		notify:       opts.Notify,
		scenes:       opts.Scenes,
		renderer:     opts.Renderer,
		logger:       opts.Logger,
		interval:     opts.TickInterval,
		historyLimit: opts.HistoryLimit,
		automations:  make(map[string]*Automation),
		entities:     make(map[string]EntityState),
		oldStates:    make(map[string]EntityState),
		devices:      make(map[string]Device),
		subscribed:   make(map[string]bool),
		events:       make(chan Event, opts.QueueSize),
		messages:     make(chan Message, opts.QueueSize),
		clock:        time.Now,
	}
}

// SetClock overrides the engine wall clock. Intended for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	e.clock = clock
}

// ─── Registration ───────────────────────────────────────────────────────────

// Register hydrates a definition and adds it to the scheduler.
// Re-registering an existing ID replaces the previous automation.
func (e *Engine) Register(def *Definition) error {
	auto, err := def.Build()
	if err != nil {
		return fmt.Errorf("building automation %q: %w", def.ID, err)
	}
	auto.SetLogger(e.logger)
	auto.SetHistoryLimit(e.historyLimit)

	e.mu.Lock()
	if _, exists := e.automations[auto.ID()]; !exists {
		e.order = append(e.order, auto.ID())
	}
	e.automations[auto.ID()] = auto
	e.mu.Unlock()

	e.subscribeTriggerTopics(auto)

	e.logger.Info("automation registered",
		"id", auto.ID(),
		"name", auto.Name(),
		"triggers", len(auto.Triggers()),
	)
	return nil
}

// Unregister removes an automation from the scheduler.
func (e *Engine) Unregister(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.automations[id]; !ok {
		return ErrNotFound
	}
	delete(e.automations, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}

	e.logger.Info("automation unregistered", "id", id)
	return nil
}

// Get returns a registered automation by ID.
func (e *Engine) Get(id string) (*Automation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	auto, ok := e.automations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return auto, nil
}

// List returns all registered automations in registration order.
func (e *Engine) List() []*Automation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	autos := make([]*Automation, 0, len(e.order))
	for _, id := range e.order {
		autos = append(autos, e.automations[id])
	}
	return autos
}

// SetEnabled toggles a registered automation's runtime enabled flag.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	auto, err := e.Get(id)
	if err != nil {
		return err
	}
	auto.SetEnabled(enabled)
	return nil
}

// subscribeTriggerTopics subscribes the broker to the topics of the
// automation's MQTT triggers so their messages reach the queue.
func (e *Engine) subscribeTriggerTopics(auto *Automation) {
	if e.broker == nil {
		return
	}
	for _, t := range auto.Triggers() {
		mt, ok := t.(*MQTTTrigger)
		if !ok {
			continue
		}

		e.mu.Lock()
		already := e.subscribed[mt.Topic]
		e.subscribed[mt.Topic] = true
		e.mu.Unlock()
		if already {
			continue
		}

		topic := mt.Topic
		err := e.broker.Subscribe(topic, 1, func(topic string, payload []byte) error {
			e.SubmitMessage(Message{Topic: topic, Payload: string(payload)})
			return nil
		})
		if err != nil {
			e.logger.Error("subscribing trigger topic", "topic", topic, "error", err)
		}
	}
}

// ─── Inbound Queues ─────────────────────────────────────────────────────────

// SubmitEvent queues a bus event for the next scheduler pass. When the
// queue is full the oldest pending event is dropped to keep the engine
// live under bursts.
func (e *Engine) SubmitEvent(ev Event) {
	for {
		select {
		case e.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-e.events:
			metrics.EventsDropped.Inc()
			e.logger.Warn("event queue full, dropping oldest", "event_type", dropped.Type)
		default:
		}
	}
}

// SubmitMessage queues an MQTT message for the next scheduler pass, with
// the same oldest-drop overflow policy as SubmitEvent.
func (e *Engine) SubmitMessage(msg Message) {
	for {
		select {
		case e.messages <- msg:
			return
		default:
		}
		select {
		case dropped := <-e.messages:
			metrics.EventsDropped.Inc()
			e.logger.Warn("message queue full, dropping oldest", "topic", dropped.Topic)
		default:
		}
	}
}

// ─── Broker Wiring ──────────────────────────────────────────────────────────

// BindBroker subscribes the engine's state and event topics. State messages
// update the entity snapshot; event messages feed event triggers. Call once
// after the broker connects.
func (e *Engine) BindBroker() error {
	if e.broker == nil {
		return fmt.Errorf("automation: no broker configured")
	}

	if err := e.broker.Subscribe(topicStateFilter, 1, e.handleStateMessage); err != nil {
		return fmt.Errorf("subscribing %s: %w", topicStateFilter, err)
	}
	if err := e.broker.Subscribe(topicEventFilter, 1, e.handleEventMessage); err != nil {
		return fmt.Errorf("subscribing %s: %w", topicEventFilter, err)
	}
	return nil
}

// handleStateMessage ingests a retained or live entity state update.
// Topic shape: butler/state/{entity_id}, payload {"state": ..., "attributes": {...}}.
func (e *Engine) handleStateMessage(topic string, payload []byte) error {
	entityID := topic[len(topicStatePrefix):]
	if entityID == "" {
		return fmt.Errorf("state topic missing entity id: %q", topic)
	}

	var update struct {
		State      string         `json:"state"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.Unmarshal(payload, &update); err != nil {
		// Bare payloads are treated as the state value itself.
		update.State = string(payload)
	}

	e.mu.Lock()
	if prev, ok := e.entities[entityID]; ok {
		e.oldStates[entityID] = prev
	}
	e.entities[entityID] = EntityState{
		State:       update.State,
		Attributes:  update.Attributes,
		LastChanged: e.clock(),
	}
	e.mu.Unlock()

	return nil
}

// handleEventMessage ingests a bus event.
// Topic shape: butler/event/{event_type}, payload is the event data object.
func (e *Engine) handleEventMessage(topic string, payload []byte) error {
	eventType := topic[len(topicEventPrefix):]
	if eventType == "" {
		return fmt.Errorf("event topic missing type: %q", topic)
	}

	var data map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("decoding event payload on %q: %w", topic, err)
		}
	}

	e.SubmitEvent(Event{Type: eventType, Data: data})
	return nil
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Run drives the scheduler until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("automation engine started", "tick_interval", e.interval.String())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// In-flight runs share ctx, so delays unwind promptly.
			e.wg.Wait()
			e.logger.Info("automation engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick performs one scheduler pass: a base pass for ambient triggers, then
// one pass per pending event and per pending MQTT message. Exported so
// tests can drive the scheduler without the ticker.
func (e *Engine) Tick(ctx context.Context) {
	metrics.EngineTicks.Inc()

	// Base pass: time, sun, state, numeric_state, template triggers.
	e.pass(ctx, e.newRunContext(nil, nil))

	// One pass per queued event so each event trigger sees one payload.
drainEvents:
	for {
		select {
		case ev := <-e.events:
			e.pass(ctx, e.newRunContext(&ev, nil))
		default:
			break drainEvents
		}
	}

drainMessages:
	for {
		select {
		case msg := <-e.messages:
			e.pass(ctx, e.newRunContext(nil, &msg))
		default:
			break drainMessages
		}
	}
}

// pass evaluates every registered automation's triggers against one context.
func (e *Engine) pass(ctx context.Context, run *Context) {
	e.mu.RLock()
	autos := make([]*Automation, 0, len(e.order))
	for _, id := range e.order {
		autos = append(autos, e.automations[id])
	}
	e.mu.RUnlock()

	for _, auto := range autos {
		if !auto.Enabled() {
			continue
		}
		e.checkAutomation(ctx, auto, run)
	}
}

// checkAutomation fires an automation's triggers against the pass context.
// Each fired trigger dispatches its run on a fresh goroutine: the context
// snapshot is immutable once built, and the automation's mode admission
// arbitrates overlapping runs. A delay in one run therefore suspends only
// that run, never the scheduler or sibling automations. Panics in trigger
// checks or actions are contained to the one automation.
func (e *Engine) checkAutomation(ctx context.Context, auto *Automation, run *Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("automation panicked",
				"id", auto.ID(),
				"panic", fmt.Sprint(r),
			)
		}
	}()

	for _, trigger := range auto.Triggers() {
		if !trigger.Fire(run) {
			continue
		}

		data := TriggerData{
			TriggerID:    trigger.ID(),
			TriggerType:  string(trigger.Type()),
			Timestamp:    run.Now().Format(time.RFC3339Nano),
			TriggerCount: trigger.Count(),
			Context:      run,
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("automation panicked",
						"id", auto.ID(),
						"panic", fmt.Sprint(r),
					)
				}
			}()

			exec := auto.HandleTrigger(ctx, run, data)
			e.recordExecution(ctx, auto, exec)
		}()
	}
}

// recordExecution persists an execution and announces it on the broker.
func (e *Engine) recordExecution(ctx context.Context, auto *Automation, exec *Execution) {
	if e.repo != nil {
		if err := e.repo.CreateExecution(ctx, exec); err != nil {
			e.logger.Error("persisting execution",
				"automation_id", auto.ID(),
				"execution_id", exec.ExecutionID,
				"error", err,
			)
		}
	}

	if e.broker != nil {
		payload, err := json.Marshal(map[string]any{
			"automation_id": exec.AutomationID,
			"execution_id":  exec.ExecutionID,
			"trigger_id":    exec.TriggeredBy,
			"success":       exec.Succeeded(),
			"error":         exec.Error,
		})
		if err == nil {
			topic := "butler/automation/" + auto.ID() + "/fired"
			if pubErr := e.broker.Publish(topic, payload, 0, false); pubErr != nil {
				e.logger.Warn("publishing fired event", "topic", topic, "error", pubErr)
			}
		}
	}

	if exec.Succeeded() {
		e.logger.Debug("automation run complete",
			"automation_id", auto.ID(),
			"execution_id", exec.ExecutionID,
		)
	} else {
		e.logger.Warn("automation run failed",
			"automation_id", auto.ID(),
			"execution_id", exec.ExecutionID,
			"error", exec.Error,
		)
	}
}

// newRunContext assembles the evaluation snapshot for one pass. Entity and
// device maps are copied so a pass never observes mid-pass mutation.
func (e *Engine) newRunContext(ev *Event, msg *Message) *Context {
	e.mu.RLock()
	entities := make(map[string]EntityState, len(e.entities))
	for k, v := range e.entities {
		entities[k] = v
	}
	oldStates := make(map[string]EntityState, len(e.oldStates))
	for k, v := range e.oldStates {
		oldStates[k] = v
	}
	devices := make(map[string]Device, len(e.devices))
	for k, v := range e.devices {
		devices[k] = v
	}
	clock := e.clock
	e.mu.RUnlock()

	var sunEvents map[string]time.Time
	if e.sun != nil {
		sunEvents = e.sun.Events(clock())
	}

	return &Context{
		Entities:    entities,
		OldStates:   oldStates,
		Event:       ev,
		MQTTMessage: msg,
		SunEvents:   sunEvents,
		Devices:     devices,
		Services:    e.services,
		Scripts:     e.scripts,
		Notify:      e.notify,
		Scenes:      e.scenes,
		Renderer:    e.renderer,
		Logger:      e.logger,
		Clock:       clock,
	}
}

// ─── Snapshot Maintenance ───────────────────────────────────────────────────

// SetEntityState updates the entity snapshot directly, preserving the
// previous value as the old state. Used by in-process state sources and
// tests; MQTT state messages arrive through handleStateMessage.
func (e *Engine) SetEntityState(entityID string, state EntityState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.entities[entityID]; ok {
		e.oldStates[entityID] = prev
	}
	e.entities[entityID] = state
}

// SetDevice updates the device snapshot used by device conditions.
func (e *Engine) SetDevice(dev Device) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices[dev.ID] = dev
}

// EntityState returns the current snapshot for one entity.
func (e *Engine) EntityState(entityID string) (EntityState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.entities[entityID]
	return state, ok
}
