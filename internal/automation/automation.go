package automation

import (
	"context"
	"sync"
	"time"

	"github.com/ashdene/butler-core/internal/metrics"
)

// Mode controls how concurrent trigger fires for one automation are handled.
type Mode string

const (
	// ModeSingle rejects a new run while one is already tracked; the
	// rejection is recorded as a completed execution per MaxExceeded.
	ModeSingle Mode = "single"

	// ModeRestart untracks all in-flight runs and tracks only the new one.
	// Cancellation is advisory: already-scheduled action steps are not
	// interrupted, they are simply no longer counted as running.
	ModeRestart Mode = "restart"

	// ModeQueued serialises runs in arrival order.
	ModeQueued Mode = "queued"

	// ModeParallel runs every fire concurrently.
	ModeParallel Mode = "parallel"
)

// AllModes returns all valid execution modes.
func AllModes() []Mode {
	return []Mode{ModeSingle, ModeRestart, ModeQueued, ModeParallel}
}

// MaxExceeded selects how noisily single-mode rejections are reported.
type MaxExceeded string

const (
	MaxExceededSilent MaxExceeded = "silent"
	MaxExceededWarn   MaxExceeded = "warn"
	MaxExceededError  MaxExceeded = "error"
)

// maxExceededPrefix opens every single-mode rejection error.
const maxExceededPrefix = "Max exceeded"

// historyLimit is the default cap on in-memory execution history per
// automation. Override with SetHistoryLimit.
const historyLimit = 100

// Config is the immutable identity and policy of one automation.
type Config struct {
	AutomationID string         `json:"automation_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Enabled      bool           `json:"enabled"`
	Mode         Mode           `json:"mode"`
	MaxExceeded  MaxExceeded    `json:"max_exceeded"`
	BlueprintID  string         `json:"blueprint_id,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// State is the mutable runtime state of one automation, updated only by
// the automation's own executor.
type State struct {
	IsRunning          bool      `json:"is_running"`
	CurrentAction      string    `json:"current_action,omitempty"`
	CurrentActionStart time.Time `json:"current_action_start,omitempty"`
	LastRun            time.Time `json:"last_run,omitempty"`
	RunCount           int       `json:"run_count"`
	SuccessCount       int       `json:"success_count"`
	ErrorCount         int       `json:"error_count"`
}

// Execution is the audit record of one run attempt. It is created at run
// start and immutable once Completed is true.
type Execution struct {
	ExecutionID  string         `json:"execution_id"`
	AutomationID string         `json:"automation_id"`
	TriggeredBy  string         `json:"triggered_by,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Completed    bool           `json:"completed"`
	Error        string         `json:"error,omitempty"`
	Results      []ActionResult `json:"results,omitempty"`
}

// Succeeded reports whether the run completed without an execution-level
// error. Individual action failures do not fail the run.
func (e *Execution) Succeeded() bool {
	return e.Completed && e.Error == ""
}

// Serialize emits the canonical run-audit record.
func (e *Execution) Serialize() map[string]any {
	data := map[string]any{
		"execution_id":  e.ExecutionID,
		"automation_id": e.AutomationID,
		"triggered_by":  e.TriggeredBy,
		"started_at":    e.StartedAt.Format(time.RFC3339Nano),
		"completed":     e.Completed,
		"results":       serializeResults(e.Results),
	}
	if e.FinishedAt != nil {
		data["finished_at"] = e.FinishedAt.Format(time.RFC3339Nano)
	}
	if e.Error != "" {
		data["error"] = e.Error
	}
	return data
}

// Automation owns one rule: its triggers, conditions, action tree, policy,
// and runtime state.
//
// Thread Safety:
//   - HandleTrigger is safe for concurrent use; each automation guards its
//     own tracked-run set and counters. Nothing is shared across
//     automations, so there is no cross-automation locking.
type Automation struct {
	config     Config
	triggers   []Trigger
	conditions []Condition
	actions    []Action
	logger     Logger

	mu         sync.Mutex
	cond       *sync.Cond // queued-mode admission, signalled on untrack
	running    map[string]struct{}
	queue      []string // arrival order of queued-mode waiters
	active     int      // admitted runs currently executing
	state      State
	history    []*Execution
	historyCap int // 0 means historyLimit
}

// New creates an automation from its parts. Missing mode/max_exceeded
// fall back to single/warn.
func New(config Config, triggers []Trigger, conditions []Condition, actions []Action) *Automation {
	if config.Mode == "" {
		config.Mode = ModeSingle
	}
	if config.MaxExceeded == "" {
		config.MaxExceeded = MaxExceededWarn
	}
	a := &Automation{
		config:     config,
		triggers:   triggers,
		conditions: conditions,
		actions:    actions,
		logger:     noopLogger{},
		running:    make(map[string]struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// SetLogger sets the logger for the automation.
func (a *Automation) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

// ID returns the automation ID.
func (a *Automation) ID() string { return a.config.AutomationID }

// Name returns the automation name.
func (a *Automation) Name() string { return a.config.Name }

// Config returns a copy of the automation config.
func (a *Automation) Config() Config { return a.config }

// Enabled reports whether the automation participates in trigger checks.
func (a *Automation) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config.Enabled
}

// SetEnabled enables or disables the automation.
func (a *Automation) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Enabled = enabled
}

// Triggers returns the automation's triggers in registration order.
func (a *Automation) Triggers() []Trigger { return a.triggers }

// State returns a snapshot of the runtime state.
func (a *Automation) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the bounded execution history, oldest first.
func (a *Automation) History() []*Execution {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Execution, len(a.history))
	copy(out, a.history)
	return out
}

// RunningCount returns the number of currently tracked runs.
func (a *Automation) RunningCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}

// HandleTrigger runs the automation once for a fired trigger, applying the
// execution-mode admission policy, then conditions, then the action tree.
//
// The returned execution is always completed; admission rejections and
// condition misses are recorded as completed executions with an error,
// never raised.
func (a *Automation) HandleTrigger(ctx context.Context, run *Context, data TriggerData) *Execution {
	exec := &Execution{
		ExecutionID:  GenerateID(),
		AutomationID: a.config.AutomationID,
		TriggeredBy:  data.TriggerID,
		StartedAt:    run.Now(),
	}

	if !a.admit(exec) {
		return exec
	}

	metrics.ExecutionsStarted.WithLabelValues(string(a.config.Mode)).Inc()
	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	a.mu.Lock()
	a.state.IsRunning = true
	a.state.LastRun = exec.StartedAt
	a.state.RunCount++
	a.mu.Unlock()

	started := time.Now()
	a.execute(ctx, run, exec)
	metrics.ExecutionDuration.Observe(float64(time.Since(started).Milliseconds()))

	a.finish(exec)
	return exec
}

// admit applies the mode policy. It returns false when the run is rejected,
// in which case exec is already completed and recorded.
func (a *Automation) admit(exec *Execution) bool {
	a.mu.Lock()

	switch a.config.Mode {
	case ModeSingle:
		if len(a.running) > 0 {
			a.rejectLocked(exec)
			a.mu.Unlock()
			return false
		}
		a.running[exec.ExecutionID] = struct{}{}

	case ModeRestart:
		// Advisory cancellation: drop all tracked runs, keep only the new one.
		a.running = map[string]struct{}{exec.ExecutionID: {}}
		a.cond.Broadcast()

	case ModeQueued:
		// FIFO admission: track immediately, then wait until this run is at
		// the head of the arrival queue and nothing else is executing.
		a.running[exec.ExecutionID] = struct{}{}
		a.queue = append(a.queue, exec.ExecutionID)
		for {
			if _, tracked := a.running[exec.ExecutionID]; !tracked {
				// Untracked while waiting (restart-style discard).
				a.removeQueuedLocked(exec.ExecutionID)
				a.rejectLocked(exec)
				a.mu.Unlock()
				return false
			}
			if len(a.queue) > 0 && a.queue[0] == exec.ExecutionID && a.active == 0 {
				break
			}
			a.cond.Wait()
		}
		a.queue = a.queue[1:]

	default: // ModeParallel
		a.running[exec.ExecutionID] = struct{}{}
	}

	a.active++
	a.mu.Unlock()
	return true
}

// removeQueuedLocked drops an execution ID from the arrival queue.
// Caller holds a.mu.
func (a *Automation) removeQueuedLocked(executionID string) {
	for i, id := range a.queue {
		if id == executionID {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

// rejectLocked completes exec as a policy rejection and records it.
// Caller holds a.mu.
func (a *Automation) rejectLocked(exec *Execution) {
	metrics.ExecutionsRejected.WithLabelValues(string(a.config.Mode)).Inc()

	exec.Error = maxExceededPrefix + " - " + string(a.config.MaxExceeded)
	now := time.Now()
	exec.FinishedAt = &now
	exec.Completed = true

	switch a.config.MaxExceeded {
	case MaxExceededWarn:
		a.logger.Warn("automation run rejected",
			"automation_id", a.config.AutomationID, "mode", string(a.config.Mode))
	case MaxExceededError:
		a.logger.Error("automation run rejected",
			"automation_id", a.config.AutomationID, "mode", string(a.config.Mode))
	}

	a.appendHistoryLocked(exec)
}

// execute evaluates conditions and runs the action tree, filling exec.
func (a *Automation) execute(ctx context.Context, run *Context, exec *Execution) {
	for _, condition := range a.conditions {
		if !condition.Evaluate(run) {
			exec.Error = "Conditions not met"
			return
		}
	}

	for _, action := range a.actions {
		a.mu.Lock()
		a.state.CurrentAction = action.ID()
		a.state.CurrentActionStart = run.Now()
		a.mu.Unlock()

		result := action.Execute(ctx, run)
		exec.Results = append(exec.Results, result)

		a.mu.Lock()
		if result.Success {
			a.state.SuccessCount++
		} else {
			a.state.ErrorCount++
		}
		a.mu.Unlock()

		// Partial-failure semantics: one action's error never aborts its
		// siblings.
		if !result.Success {
			a.logger.Warn("action failed",
				"automation_id", a.config.AutomationID,
				"action_id", result.ActionID,
				"error", result.Error)
		}
	}
}

// finish untracks the run, clears the running pointers, and records the
// execution in history.
func (a *Automation) finish(exec *Execution) {
	now := time.Now()
	exec.FinishedAt = &now
	exec.Completed = true

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.running, exec.ExecutionID)
	a.removeQueuedLocked(exec.ExecutionID)
	a.active--
	a.cond.Broadcast()

	if len(a.running) == 0 {
		a.state.IsRunning = false
	}
	a.state.CurrentAction = ""
	a.state.CurrentActionStart = time.Time{}

	a.appendHistoryLocked(exec)
}

// SetHistoryLimit overrides the in-memory execution history cap.
// Values below 1 restore the default.
func (a *Automation) SetHistoryLimit(limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.historyCap = limit
}

// appendHistoryLocked appends to the bounded history, dropping the oldest
// record past the cap. Caller holds a.mu.
func (a *Automation) appendHistoryLocked(exec *Execution) {
	limit := a.historyCap
	if limit < 1 {
		limit = historyLimit
	}
	a.history = append(a.history, exec)
	if len(a.history) > limit {
		a.history = a.history[len(a.history)-limit:]
	}
}

// Serialize emits the automation with its full component trees.
func (a *Automation) Serialize() map[string]any {
	a.mu.Lock()
	cfg := a.config
	state := a.state
	a.mu.Unlock()

	triggers := make([]map[string]any, 0, len(a.triggers))
	for _, t := range a.triggers {
		triggers = append(triggers, t.Serialize())
	}

	return map[string]any{
		"automation_id": cfg.AutomationID,
		"name":          cfg.Name,
		"description":   cfg.Description,
		"enabled":       cfg.Enabled,
		"mode":          string(cfg.Mode),
		"max_exceeded":  string(cfg.MaxExceeded),
		"blueprint_id":  cfg.BlueprintID,
		"variables":     cfg.Variables,
		"triggers":      triggers,
		"conditions":    serializeConditions(a.conditions),
		"actions":       serializeActions(a.actions),
		"state": map[string]any{
			"is_running":     state.IsRunning,
			"current_action": state.CurrentAction,
			"run_count":      state.RunCount,
			"success_count":  state.SuccessCount,
			"error_count":    state.ErrorCount,
		},
	}
}
