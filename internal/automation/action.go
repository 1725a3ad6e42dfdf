package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashdene/butler-core/internal/metrics"
)

// ActionType identifies an action variant.
type ActionType string

const (
	ActionService  ActionType = "service"
	ActionScript   ActionType = "script"
	ActionDelay    ActionType = "delay"
	ActionNotify   ActionType = "notify"
	ActionScene    ActionType = "scene"
	ActionChoose   ActionType = "choose"
	ActionParallel ActionType = "parallel"
	ActionRepeat   ActionType = "repeat"
	ActionTemplate ActionType = "template"
	ActionLog      ActionType = "log"
)

// ActionResult is the outcome of one action execution. Every execution
// yields exactly one result; failures are captured here, never propagated
// as panics or returned errors.
type ActionResult struct {
	Success    bool           `json:"success"`
	ActionID   string         `json:"action_id"`
	ActionType string         `json:"action_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Serialize emits the result as a stable map for persistence and the API.
func (r ActionResult) Serialize() map[string]any {
	data := map[string]any{
		"success":     r.Success,
		"action_id":   r.ActionID,
		"action_type": r.ActionType,
		"timestamp":   r.Timestamp.Format(time.RFC3339Nano),
		"data":        r.Data,
	}
	if r.Error != "" {
		data["error"] = r.Error
	}
	return data
}

// Action is the common contract for all action variants.
//
// Execute never propagates an error past its own boundary: a failing
// external call, a missing capability, or a bad template all produce a
// failure ActionResult. ctx carries cancellation for cooperative
// suspension points (delays, external calls).
type Action interface {
	ID() string
	Type() ActionType
	Execute(ctx context.Context, run *Context) ActionResult
	SetEnabled(enabled bool)
	Serialize() map[string]any
}

// actionBase carries identity and the enabled flag shared by variants.
type actionBase struct {
	id      string
	typ     ActionType
	enabled bool
}

func newActionBase(id string, typ ActionType) actionBase {
	return actionBase{id: id, typ: typ, enabled: true}
}

func (b *actionBase) ID() string              { return b.id }
func (b *actionBase) Type() ActionType        { return b.typ }
func (b *actionBase) SetEnabled(enabled bool) { b.enabled = enabled }

func (b *actionBase) success(run *Context, data map[string]any) ActionResult {
	metrics.ActionsExecuted.WithLabelValues(string(b.typ), "success").Inc()
	return ActionResult{
		Success:    true,
		ActionID:   b.id,
		ActionType: string(b.typ),
		Timestamp:  run.Now(),
		Data:       data,
	}
}

func (b *actionBase) failure(run *Context, errMsg string) ActionResult {
	metrics.ActionsExecuted.WithLabelValues(string(b.typ), "failure").Inc()
	return ActionResult{
		Success:    false,
		ActionID:   b.id,
		ActionType: string(b.typ),
		Timestamp:  run.Now(),
		Error:      errMsg,
	}
}

func (b *actionBase) disabledResult(run *Context) ActionResult {
	return b.failure(run, "Action is disabled")
}

func (b *actionBase) serializeBase() map[string]any {
	return map[string]any{
		"action_id":   b.id,
		"action_type": string(b.typ),
		"enabled":     b.enabled,
	}
}

// ─── Service Action ─────────────────────────────────────────────────────────

// ServiceAction invokes an external service through the context's service
// caller. String values in ServiceData and ServiceDataTemplate are resolved
// as templates with a raw-string fallback; EntityID, when set, is injected
// into the call data.
type ServiceAction struct {
	actionBase

	Service             string
	EntityID            string
	ServiceData         map[string]any
	ServiceDataTemplate map[string]any
}

// NewServiceAction creates a service call action.
func NewServiceAction(id, service string) *ServiceAction {
	return &ServiceAction{
		actionBase: newActionBase(id, ActionService),
		Service:    service,
	}
}

func (a *ServiceAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}
	if run.Services == nil {
		return a.failure(run, "No service caller available in context")
	}

	data := resolveTemplates(run, a.ServiceData)
	for k, v := range resolveTemplates(run, a.ServiceDataTemplate) {
		data[k] = v
	}
	if a.EntityID != "" {
		data["entity_id"] = a.EntityID
	}

	result, err := run.Services(ctx, a.Service, data)
	if err != nil {
		return a.failure(run, err.Error())
	}

	return a.success(run, map[string]any{
		"service": a.Service,
		"data":    data,
		"result":  result,
	})
}

func (a *ServiceAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["service"] = a.Service
	data["entity_id"] = a.EntityID
	data["service_data"] = a.ServiceData
	data["service_data_template"] = a.ServiceDataTemplate
	return data
}

// resolveTemplates renders every string value in data as a template,
// keeping the raw string when rendering fails.
func resolveTemplates(run *Context, data map[string]any) map[string]any {
	resolved := make(map[string]any, len(data))
	for key, value := range data {
		if s, ok := value.(string); ok {
			resolved[key] = renderOrRaw(run, s)
		} else {
			resolved[key] = value
		}
	}
	return resolved
}

// ─── Script Action ──────────────────────────────────────────────────────────

// ScriptAction runs a stored script through the context's script executor,
// passing the action's variables merged over the run variables.
type ScriptAction struct {
	actionBase

	ScriptID  string
	Variables map[string]any
}

// NewScriptAction creates a script execution action.
func NewScriptAction(id, scriptID string) *ScriptAction {
	return &ScriptAction{
		actionBase: newActionBase(id, ActionScript),
		ScriptID:   scriptID,
	}
}

func (a *ScriptAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}
	if run.Scripts == nil {
		return a.failure(run, "No script executor available in context")
	}

	scoped := run.WithVariables(a.Variables)
	result, err := run.Scripts(ctx, a.ScriptID, scoped.Variables)
	if err != nil {
		return a.failure(run, err.Error())
	}

	return a.success(run, map[string]any{
		"script_id": a.ScriptID,
		"result":    result,
	})
}

func (a *ScriptAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["script_id"] = a.ScriptID
	data["variables"] = a.Variables
	return data
}

// ─── Delay Action ───────────────────────────────────────────────────────────

// DelayAction suspends its branch of the action tree. The duration comes
// from a literal number of seconds, a "1h30m"-style string, or a template
// that renders to either.
type DelayAction struct {
	actionBase

	Delay         string // literal seconds or compound duration string
	DelayTemplate string
}

// NewDelayAction creates a delay action.
func NewDelayAction(id, delay string) *DelayAction {
	return &DelayAction{
		actionBase: newActionBase(id, ActionDelay),
		Delay:      delay,
	}
}

func (a *DelayAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}

	source := a.Delay
	if a.DelayTemplate != "" {
		rendered, err := run.Render(a.DelayTemplate)
		if err != nil {
			return a.failure(run, err.Error())
		}
		source = rendered
	}

	duration, err := parseFlexibleDuration(source)
	if err != nil {
		return a.failure(run, err.Error())
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return a.failure(run, ctx.Err().Error())
	}

	return a.success(run, map[string]any{
		"delay_seconds": duration.Seconds(),
	})
}

func (a *DelayAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["delay"] = a.Delay
	data["delay_template"] = a.DelayTemplate
	return data
}

// ─── Notify Action ──────────────────────────────────────────────────────────

// NotifyAction delivers a notification through the context's notifier.
// MessageTemplate, when set, takes precedence over the literal message.
type NotifyAction struct {
	actionBase

	Message         string
	Title           string
	Target          string
	MessageTemplate string
}

// NewNotifyAction creates a notification action.
func NewNotifyAction(id, message string) *NotifyAction {
	return &NotifyAction{
		actionBase: newActionBase(id, ActionNotify),
		Message:    message,
	}
}

func (a *NotifyAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}
	if run.Notify == nil {
		return a.failure(run, "No notifier available in context")
	}

	message := a.Message
	if a.MessageTemplate != "" {
		rendered, err := run.Render(a.MessageTemplate)
		if err != nil {
			return a.failure(run, err.Error())
		}
		message = rendered
	}

	if err := run.Notify(ctx, message, a.Title, a.Target); err != nil {
		return a.failure(run, err.Error())
	}

	return a.success(run, map[string]any{
		"message": message,
		"title":   a.Title,
		"target":  a.Target,
	})
}

func (a *NotifyAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["message"] = a.Message
	data["title"] = a.Title
	data["target"] = a.Target
	data["message_template"] = a.MessageTemplate
	return data
}

// ─── Scene Action ───────────────────────────────────────────────────────────

// SceneAction activates or deactivates a scene through the context's
// scene executor.
type SceneAction struct {
	actionBase

	SceneID  string
	Activate bool
}

// NewSceneAction creates a scene activation action.
func NewSceneAction(id, sceneID string, activate bool) *SceneAction {
	return &SceneAction{
		actionBase: newActionBase(id, ActionScene),
		SceneID:    sceneID,
		Activate:   activate,
	}
}

func (a *SceneAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}
	if run.Scenes == nil {
		return a.failure(run, "No scene executor available in context")
	}

	var err error
	if a.Activate {
		err = run.Scenes.ActivateScene(ctx, a.SceneID)
	} else {
		err = run.Scenes.DeactivateScene(ctx, a.SceneID)
	}
	if err != nil {
		return a.failure(run, err.Error())
	}

	return a.success(run, map[string]any{
		"scene_id":  a.SceneID,
		"activated": a.Activate,
	})
}

func (a *SceneAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["scene_id"] = a.SceneID
	data["activate"] = a.Activate
	return data
}

// ─── Choose Action ──────────────────────────────────────────────────────────

// ChooseBranch pairs a candidate's conditions with the actions to run when
// every condition is met.
type ChooseBranch struct {
	Conditions []Condition
	Actions    []Action
}

// ChooseAction evaluates branches in order and executes the first whose
// conditions are all met (all-of semantics per branch). Falls back to the
// Default actions when no branch matches; with no default either, the
// action itself fails.
type ChooseAction struct {
	actionBase

	Choices []ChooseBranch
	Default []Action
}

// NewChooseAction creates a branching action.
func NewChooseAction(id string, choices []ChooseBranch, defaultActions []Action) *ChooseAction {
	return &ChooseAction{
		actionBase: newActionBase(id, ActionChoose),
		Choices:    choices,
		Default:    defaultActions,
	}
}

func (a *ChooseAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}

	for i, choice := range a.Choices {
		allMet := true
		for _, condition := range choice.Conditions {
			if !condition.Evaluate(run) {
				allMet = false
				break
			}
		}
		if !allMet {
			continue
		}

		results := executeSequence(ctx, run, choice.Actions)
		return a.success(run, map[string]any{
			"choice_index": i,
			"results":      serializeResults(results),
		})
	}

	if len(a.Default) > 0 {
		results := executeSequence(ctx, run, a.Default)
		return a.success(run, map[string]any{
			"choice":  "default",
			"results": serializeResults(results),
		})
	}

	return a.failure(run, "No matching choice found and no default action")
}

func (a *ChooseAction) Serialize() map[string]any {
	choices := make([]map[string]any, 0, len(a.Choices))
	for _, choice := range a.Choices {
		choices = append(choices, map[string]any{
			"conditions": serializeConditions(choice.Conditions),
			"actions":    serializeActions(choice.Actions),
		})
	}

	data := a.serializeBase()
	data["choices"] = choices
	data["default"] = serializeActions(a.Default)
	return data
}

// ─── Parallel Action ────────────────────────────────────────────────────────

// ParallelAction executes its children concurrently, optionally bounded by
// MaxParallel. Overall success requires every child to succeed.
type ParallelAction struct {
	actionBase

	Actions     []Action
	MaxParallel int // 0 means unbounded
}

// NewParallelAction creates a concurrent action group.
func NewParallelAction(id string, actions []Action, maxParallel int) *ParallelAction {
	return &ParallelAction{
		actionBase:  newActionBase(id, ActionParallel),
		Actions:     actions,
		MaxParallel: maxParallel,
	}
}

func (a *ParallelAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}

	var sem *semaphore.Weighted
	if a.MaxParallel > 0 {
		sem = semaphore.NewWeighted(int64(a.MaxParallel))
	}

	results := make([]ActionResult, len(a.Actions))
	var wg sync.WaitGroup
	for i, child := range a.Actions {
		wg.Add(1)
		go func(idx int, action Action) {
			defer wg.Done()

			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					results[idx] = ActionResult{
						Success:    false,
						ActionID:   action.ID(),
						ActionType: string(action.Type()),
						Timestamp:  run.Now(),
						Error:      err.Error(),
					}
					return
				}
				defer sem.Release(1)
			}

			results[idx] = action.Execute(ctx, run)
		}(i, child)
	}
	wg.Wait()

	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	errorCount := len(results) - successCount

	result := ActionResult{
		Success:    errorCount == 0,
		ActionID:   a.id,
		ActionType: string(a.typ),
		Timestamp:  run.Now(),
		Data: map[string]any{
			"total_actions": len(a.Actions),
			"success_count": successCount,
			"error_count":   errorCount,
			"results":       serializeResults(results),
		},
	}
	status := "success"
	if errorCount > 0 {
		status = "failure"
	}
	metrics.ActionsExecuted.WithLabelValues(string(a.typ), status).Inc()
	return result
}

func (a *ParallelAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["actions"] = serializeActions(a.Actions)
	data["max_parallel"] = a.MaxParallel
	return data
}

// ─── Repeat Action ──────────────────────────────────────────────────────────

// RepeatAction runs its sequence a resolved number of times, injecting
// repeat_index and repeat_count into each iteration's variables.
type RepeatAction struct {
	actionBase

	Repeat         string // literal count
	RepeatTemplate string
	Sequence       []Action
}

// NewRepeatAction creates a repetition action.
func NewRepeatAction(id, repeat string, sequence []Action) *RepeatAction {
	return &RepeatAction{
		actionBase: newActionBase(id, ActionRepeat),
		Repeat:     repeat,
		Sequence:   sequence,
	}
}

func (a *RepeatAction) Execute(ctx context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}

	source := a.Repeat
	if a.RepeatTemplate != "" {
		rendered, err := run.Render(a.RepeatTemplate)
		if err != nil {
			return a.failure(run, err.Error())
		}
		source = rendered
	}

	count, err := strconv.Atoi(strings.TrimSpace(source))
	if err != nil {
		return a.failure(run, fmt.Sprintf("unrecognised repeat count %q", source))
	}

	var allResults []ActionResult
	for i := 0; i < count; i++ {
		loopRun := run.WithVariables(map[string]any{
			"repeat_index": i,
			"repeat_count": count,
		})
		allResults = append(allResults, executeSequence(ctx, loopRun, a.Sequence)...)
	}

	return a.success(run, map[string]any{
		"repeat_count": count,
		"results":      serializeResults(allResults),
	})
}

func (a *RepeatAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["repeat"] = a.Repeat
	data["repeat_template"] = a.RepeatTemplate
	data["sequence"] = serializeActions(a.Sequence)
	return data
}

// ─── Template Action ────────────────────────────────────────────────────────

// TemplateAction renders an expression for its side value; the rendered
// output lands in the result data.
type TemplateAction struct {
	actionBase

	ValueTemplate string
}

// NewTemplateAction creates a template evaluation action.
func NewTemplateAction(id, valueTemplate string) *TemplateAction {
	return &TemplateAction{
		actionBase:    newActionBase(id, ActionTemplate),
		ValueTemplate: valueTemplate,
	}
}

func (a *TemplateAction) Execute(_ context.Context, run *Context) ActionResult {
	if !a.enabled {
		return a.disabledResult(run)
	}

	result, err := run.Render(a.ValueTemplate)
	if err != nil {
		return a.failure(run, err.Error())
	}

	return a.success(run, map[string]any{
		"result": result,
	})
}

func (a *TemplateAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["value_template"] = a.ValueTemplate
	return data
}

// ─── Log Action ─────────────────────────────────────────────────────────────

// LogAction writes a rendered message to the context logger at the
// configured level. Message rendering falls back to the raw string.
type LogAction struct {
	actionBase

	Message string
	Level   string // debug, info, warning, error
}

// NewLogAction creates a logging action.
func NewLogAction(id, message, level string) *LogAction {
	if level == "" {
		level = "info"
	}
	return &LogAction{
		actionBase: newActionBase(id, ActionLog),
		Message:    message,
		Level:      level,
	}
}

func (a *LogAction) Execute(_ context.Context, run *Context) ActionResult {
	message := renderOrRaw(run, a.Message)

	log := run.Log()
	switch a.Level {
	case "debug":
		log.Debug(message)
	case "warning":
		log.Warn(message)
	case "error":
		log.Error(message)
	default:
		log.Info(message)
	}

	return a.success(run, map[string]any{
		"message": message,
		"level":   a.Level,
	})
}

func (a *LogAction) Serialize() map[string]any {
	data := a.serializeBase()
	data["message"] = a.Message
	data["level"] = a.Level
	return data
}

// ─── Shared Helpers ─────────────────────────────────────────────────────────

// executeSequence runs actions in order, collecting every result. A failed
// action never aborts its siblings.
func executeSequence(ctx context.Context, run *Context, actions []Action) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, action.Execute(ctx, run))
	}
	return results
}

func serializeActions(actions []Action) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Serialize())
	}
	return out
}

func serializeResults(results []ActionResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, r.Serialize())
	}
	return out
}
