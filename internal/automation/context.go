package automation

import (
	"context"
	"time"
)

// EntityState is a read-only snapshot of a single entity at evaluation time.
type EntityState struct {
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed,omitempty"`
}

// Event is a bus event delivered to the engine for event triggers.
type Event struct {
	Type string         `json:"event_type"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is an inbound MQTT message delivered to the engine for MQTT triggers.
type Message struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// Device is a read-only device snapshot for device conditions.
type Device struct {
	ID       string   `json:"id"`
	Domain   string   `json:"domain,omitempty"`
	Type     string   `json:"type,omitempty"`
	State    string   `json:"state,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// ServiceCaller invokes a device/service action on behalf of a Service action.
type ServiceCaller func(ctx context.Context, service string, data map[string]any) (any, error)

// ScriptExecutor runs a stored script on behalf of a Script action.
type ScriptExecutor func(ctx context.Context, scriptID string, vars map[string]any) (any, error)

// Notifier delivers a notification on behalf of a Notify action.
type Notifier func(ctx context.Context, message, title, target string) error

// SceneExecutor activates or deactivates scenes on behalf of a Scene action.
type SceneExecutor interface {
	ActivateScene(ctx context.Context, sceneID string) error
	DeactivateScene(ctx context.Context, sceneID string) error
}

// Renderer evaluates a template expression against an evaluation context.
type Renderer interface {
	Render(src string, run *Context) (string, error)
}

// Context is the read-only evaluation snapshot threaded through every
// trigger check, condition evaluation, and action execution.
//
// The engine assembles a fresh Context per scheduler pass; triggers,
// conditions, and actions never reach for ambient global state. Capability
// fields (Services, Scripts, Notify, Scenes) are optional — actions that
// need an absent capability return a failure result rather than crashing.
type Context struct {
	// Snapshot inputs, refreshed once per scheduler pass.
	Entities    map[string]EntityState
	OldStates   map[string]EntityState
	Event       *Event
	MQTTMessage *Message
	SunEvents   map[string]time.Time
	Devices     map[string]Device
	Variables   map[string]any

	// Injected capabilities.
	Services ServiceCaller
	Scripts  ScriptExecutor
	Notify   Notifier
	Scenes   SceneExecutor
	Renderer Renderer
	Logger   Logger

	// Clock overrides the wall clock; nil means time.Now. Used by
	// duration-gated triggers and time triggers so tests can control time.
	Clock func() time.Time
}

// Now returns the current evaluation time.
func (c *Context) Now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Log returns the context logger, or a no-op logger when none is set.
func (c *Context) Log() Logger {
	if c == nil || c.Logger == nil {
		return noopLogger{}
	}
	return c.Logger
}

// Render evaluates src through the context renderer. A context without a
// renderer fails the render, which callers treat as "fall back to raw".
func (c *Context) Render(src string) (string, error) {
	if c == nil || c.Renderer == nil {
		return "", ErrInvalidConfig
	}
	return c.Renderer.Render(src, c)
}

// WithVariables returns a shallow copy of the context whose Variables map
// is extended with vars. The original context is not modified; Repeat and
// Script actions use this to scope per-iteration values.
func (c *Context) WithVariables(vars map[string]any) *Context {
	cpy := *c
	merged := make(map[string]any, len(c.Variables)+len(vars))
	for k, v := range c.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	cpy.Variables = merged
	return &cpy
}
