package automation

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// templateData is the root object exposed to template expressions.
//
// Expressions address snapshot inputs directly, e.g.
//
//	{{ if eq (state "binary_sensor.motion") "on" }}true{{ end }}
//	{{ .Variables.repeat_index }}
type templateData struct {
	Entities    map[string]EntityState
	OldStates   map[string]EntityState
	Event       *Event
	MQTTMessage *Message
	SunEvents   map[string]time.Time
	Devices     map[string]Device
	Variables   map[string]any
	Now         time.Time
}

// TemplateRenderer renders expressions using text/template with helper
// functions for entity lookups.
//
// Thread Safety:
//   - Render is safe for concurrent use; each call parses independently.
type TemplateRenderer struct{}

// NewTemplateRenderer creates the default renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render evaluates src against the evaluation context and returns the
// rendered output. Parse and execution errors are returned to the caller;
// callers decide whether an error means "not met" or "use the raw string".
func (r *TemplateRenderer) Render(src string, run *Context) (string, error) {
	funcs := template.FuncMap{
		"state": func(entityID string) string {
			if e, ok := run.Entities[entityID]; ok {
				return e.State
			}
			return ""
		},
		"attr": func(entityID, name string) any {
			if e, ok := run.Entities[entityID]; ok {
				return e.Attributes[name]
			}
			return nil
		},
		"stateFloat": func(entityID string) float64 {
			e, ok := run.Entities[entityID]
			if !ok {
				return 0
			}
			v, err := strconv.ParseFloat(e.State, 64)
			if err != nil {
				return 0
			}
			return v
		},
		"var": func(name string) any {
			return run.Variables[name]
		},
	}

	t, err := template.New("expr").Option("missingkey=zero").Funcs(funcs).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	data := templateData{
		Entities:    run.Entities,
		OldStates:   run.OldStates,
		Event:       run.Event,
		MQTTMessage: run.MQTTMessage,
		SunEvents:   run.SunEvents,
		Devices:     run.Devices,
		Variables:   run.Variables,
		Now:         run.Now(),
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// isTruthy reports whether a rendered template result counts as true.
// The accepted set matches common switch-state vocabulary.
func isTruthy(result string) bool {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// renderOrRaw renders src and falls back to the raw string when rendering
// fails. Service data, notify messages, and log messages use best-effort
// resolution so a bad template never blocks the action outright.
func renderOrRaw(run *Context, src string) string {
	out, err := run.Render(src)
	if err != nil {
		return src
	}
	return out
}

// parseFlexibleDuration parses either a compound duration string such as
// "1h30m" / "2m10s" or a bare number of seconds ("90", "0.5").
func parseFlexibleDuration(s string) (time.Duration, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if d, err := time.ParseDuration(trimmed); err == nil {
		return d, nil
	}

	secs, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognised duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
