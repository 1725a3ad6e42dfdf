package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for automation persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Automation definition CRUD
	GetByID(ctx context.Context, id string) (*Definition, error)
	List(ctx context.Context) ([]Definition, error)
	ListEnabled(ctx context.Context) ([]Definition, error)
	ListByBlueprint(ctx context.Context, blueprintID string) ([]Definition, error)
	Create(ctx context.Context, def *Definition) error
	Update(ctx context.Context, def *Definition) error
	Delete(ctx context.Context, id string) error

	// Execution audit logging
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	ListExecutions(ctx context.Context, automationID string, limit int) ([]Execution, error)

	// Blueprint persistence
	CreateBlueprint(ctx context.Context, rec *BlueprintRecord) error
	GetBlueprint(ctx context.Context, id string) (*BlueprintRecord, error)
	ListBlueprints(ctx context.Context) ([]BlueprintRecord, error)
	DeleteBlueprint(ctx context.Context, id string) error
}

// automationColumns is the SELECT column list for automation queries.
const automationColumns = `id, name, description, enabled, mode, max_exceeded, blueprint_id,
			triggers, conditions, actions, variables, created_at, updated_at`

// blueprintColumns is the SELECT column list for blueprint queries.
const blueprintColumns = `id, name, description, domain, author, version,
			parameters, triggers, conditions, actions, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Automation Definitions ─────────────────────────────────────────────────

// GetByID retrieves an automation definition by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Definition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	def, err := scanDefinitionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying automation by id: %w", err)
	}
	return def, nil
}

// List retrieves all automation definitions ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Definition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY name`
	return r.queryDefinitions(ctx, query)
}

// ListEnabled retrieves all enabled automation definitions.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Definition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE enabled = 1 ORDER BY name`
	return r.queryDefinitions(ctx, query)
}

// ListByBlueprint retrieves all automations stamped out from one blueprint.
func (r *SQLiteRepository) ListByBlueprint(ctx context.Context, blueprintID string) ([]Definition, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE blueprint_id = ? ORDER BY name`
	return r.queryDefinitions(ctx, query, blueprintID)
}

// Create inserts a new automation definition.
func (r *SQLiteRepository) Create(ctx context.Context, def *Definition) error {
	triggers, conditions, actions, variables, err := marshalDefinitionJSON(def)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	query := `
		INSERT INTO automations (
			id, name, description, enabled, mode, max_exceeded, blueprint_id,
			triggers, conditions, actions, variables, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		def.ID,
		def.Name,
		def.Description,
		boolToInt(def.Enabled),
		string(def.Mode),
		string(def.MaxExceeded),
		nullableString(def.BlueprintID),
		triggers,
		conditions,
		actions,
		variables,
		def.CreatedAt.Format(time.RFC3339),
		def.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting automation: %w", err)
	}
	return nil
}

// Update modifies an existing automation definition.
func (r *SQLiteRepository) Update(ctx context.Context, def *Definition) error {
	triggers, conditions, actions, variables, err := marshalDefinitionJSON(def)
	if err != nil {
		return err
	}

	def.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE automations SET
			name = ?, description = ?, enabled = ?, mode = ?, max_exceeded = ?,
			blueprint_id = ?, triggers = ?, conditions = ?, actions = ?,
			variables = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		def.Name,
		def.Description,
		boolToInt(def.Enabled),
		string(def.Mode),
		string(def.MaxExceeded),
		nullableString(def.BlueprintID),
		triggers,
		conditions,
		actions,
		variables,
		def.UpdatedAt.Format(time.RFC3339),
		def.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an automation definition by ID. Execution records are
// removed by the foreign-key cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// queryDefinitions executes a query and returns a slice of definitions.
func (r *SQLiteRepository) queryDefinitions(ctx context.Context, query string, args ...any) ([]Definition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		def, scanErr := scanDefinitionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning automation: %w", scanErr)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automations: %w", err)
	}
	return defs, nil
}

// ─── Execution Audit Records ────────────────────────────────────────────────

// CreateExecution inserts a completed execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *Execution) error {
	resultJSON, err := json.Marshal(serializeResults(exec.Results))
	if err != nil {
		return fmt.Errorf("marshalling results: %w", err)
	}

	failed := 0
	for _, res := range exec.Results {
		if !res.Success {
			failed++
		}
	}

	query := `
		INSERT INTO automation_executions (
			execution_id, automation_id, trigger_id, started_at, finished_at,
			success, error, actions_total, actions_failed, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		exec.ExecutionID,
		exec.AutomationID,
		exec.TriggeredBy,
		exec.StartedAt.Format(time.RFC3339Nano),
		nullableTime(exec.FinishedAt),
		boolToInt(exec.Succeeded()),
		exec.Error,
		len(exec.Results),
		failed,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution record by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	query := `
		SELECT execution_id, automation_id, trigger_id, started_at, finished_at,
			success, error, actions_total, actions_failed, result
		FROM automation_executions
		WHERE execution_id = ?`

	row := r.db.QueryRowContext(ctx, query, executionID)
	exec, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions for an automation.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, automationID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT execution_id, automation_id, trigger_id, started_at, finished_at,
			success, error, actions_total, actions_failed, result
		FROM automation_executions
		WHERE automation_id = ?
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		exec, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// ─── Blueprints ─────────────────────────────────────────────────────────────

// CreateBlueprint inserts a blueprint record.
func (r *SQLiteRepository) CreateBlueprint(ctx context.Context, rec *BlueprintRecord) error {
	parameters, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}
	triggers, err := json.Marshal(rec.Triggers)
	if err != nil {
		return fmt.Errorf("marshalling triggers: %w", err)
	}
	conditions, err := json.Marshal(rec.Conditions)
	if err != nil {
		return fmt.Errorf("marshalling conditions: %w", err)
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("marshalling actions: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO blueprints (
			id, name, description, domain, author, version,
			parameters, triggers, conditions, actions, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Description,
		rec.Domain,
		rec.Author,
		rec.Version,
		string(parameters),
		string(triggers),
		string(conditions),
		string(actions),
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrBlueprintExists
		}
		return fmt.Errorf("inserting blueprint: %w", err)
	}
	return nil
}

// GetBlueprint retrieves a blueprint record by ID.
func (r *SQLiteRepository) GetBlueprint(ctx context.Context, id string) (*BlueprintRecord, error) {
	query := `SELECT ` + blueprintColumns + ` FROM blueprints WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rec, err := scanBlueprintRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlueprintNotFound
		}
		return nil, fmt.Errorf("querying blueprint: %w", err)
	}
	return rec, nil
}

// ListBlueprints retrieves all blueprint records ordered by name.
func (r *SQLiteRepository) ListBlueprints(ctx context.Context) ([]BlueprintRecord, error) {
	query := `SELECT ` + blueprintColumns + ` FROM blueprints ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying blueprints: %w", err)
	}
	defer rows.Close()

	var records []BlueprintRecord
	for rows.Next() {
		rec, scanErr := scanBlueprintRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning blueprint: %w", scanErr)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blueprints: %w", err)
	}
	return records, nil
}

// DeleteBlueprint removes a blueprint record by ID.
func (r *SQLiteRepository) DeleteBlueprint(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM blueprints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting blueprint: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrBlueprintNotFound
	}
	return nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinitionRow(scanner rowScanner) (*Definition, error) {
	var d Definition
	var blueprintID sql.NullString
	var enabled int
	var mode, maxExceeded string
	var triggersJSON, conditionsJSON, actionsJSON, variablesJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Description,
		&enabled,
		&mode,
		&maxExceeded,
		&blueprintID,
		&triggersJSON,
		&conditionsJSON,
		&actionsJSON,
		&variablesJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Enabled = enabled != 0
	d.Mode = Mode(mode)
	d.MaxExceeded = MaxExceeded(maxExceeded)
	if blueprintID.Valid {
		d.BlueprintID = &blueprintID.String
	}

	if err := unmarshalConfigList(triggersJSON, &d.Triggers); err != nil {
		return nil, fmt.Errorf("unmarshalling triggers: %w", err)
	}
	if err := unmarshalConfigList(conditionsJSON, &d.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshalling conditions: %w", err)
	}
	if err := unmarshalConfigList(actionsJSON, &d.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions: %w", err)
	}
	if variablesJSON != "" && variablesJSON != "{}" {
		if err := json.Unmarshal([]byte(variablesJSON), &d.Variables); err != nil {
			return nil, fmt.Errorf("unmarshalling variables: %w", err)
		}
	}

	// Parse timestamps (stored as RFC3339)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		d.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		d.UpdatedAt = t
	}

	return &d, nil
}

func scanExecutionRow(scanner rowScanner) (*Execution, error) {
	var e Execution
	var startedAt string
	var finishedAt sql.NullString
	var success int
	var errMsg sql.NullString
	var actionsTotal, actionsFailed int
	var resultJSON sql.NullString

	err := scanner.Scan(
		&e.ExecutionID,
		&e.AutomationID,
		&e.TriggeredBy,
		&startedAt,
		&finishedAt,
		&success,
		&errMsg,
		&actionsTotal,
		&actionsFailed,
		&resultJSON,
	)
	if err != nil {
		return nil, err
	}

	e.Completed = true
	if errMsg.Valid {
		e.Error = errMsg.String
	}

	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		e.StartedAt = t
	}
	if finishedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, finishedAt.String); parseErr == nil {
			e.FinishedAt = &t
		}
	}

	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		var raw []map[string]any
		if jsonErr := json.Unmarshal([]byte(resultJSON.String), &raw); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling results: %w", jsonErr)
		}
		e.Results = resultsFromSerialized(raw)
	}

	return &e, nil
}

// resultsFromSerialized rebuilds ActionResults from their stored form.
func resultsFromSerialized(raw []map[string]any) []ActionResult {
	results := make([]ActionResult, 0, len(raw))
	for _, m := range raw {
		r := ActionResult{
			Success:    cfgBool(m, "success"),
			ActionID:   cfgString(m, "action_id"),
			ActionType: cfgString(m, "action_type"),
			Error:      cfgString(m, "error"),
			Data:       cfgMap(m, "data"),
		}
		if ts := cfgString(m, "timestamp"); ts != "" {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				r.Timestamp = t
			}
		}
		results = append(results, r)
	}
	return results
}

func scanBlueprintRow(scanner rowScanner) (*BlueprintRecord, error) {
	var r BlueprintRecord
	var parametersJSON, triggersJSON, conditionsJSON, actionsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.Domain,
		&r.Author,
		&r.Version,
		&parametersJSON,
		&triggersJSON,
		&conditionsJSON,
		&actionsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parametersJSON != "" && parametersJSON != "{}" {
		if err := json.Unmarshal([]byte(parametersJSON), &r.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshalling parameters: %w", err)
		}
	}
	if err := unmarshalConfigList(triggersJSON, &r.Triggers); err != nil {
		return nil, fmt.Errorf("unmarshalling triggers: %w", err)
	}
	if err := unmarshalConfigList(conditionsJSON, &r.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshalling conditions: %w", err)
	}
	if err := unmarshalConfigList(actionsJSON, &r.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions: %w", err)
	}

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		r.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		r.UpdatedAt = t
	}

	return &r, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalDefinitionJSON(def *Definition) (triggers, conditions, actions, variables string, err error) {
	t, err := json.Marshal(emptyIfNil(def.Triggers))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshalling triggers: %w", err)
	}
	c, err := json.Marshal(emptyIfNil(def.Conditions))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshalling conditions: %w", err)
	}
	a, err := json.Marshal(emptyIfNil(def.Actions))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	v, err := json.Marshal(def.Variables)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshalling variables: %w", err)
	}
	if def.Variables == nil {
		v = []byte("{}")
	}
	return string(t), string(c), string(a), string(v), nil
}

func emptyIfNil(configs []map[string]any) []map[string]any {
	if configs == nil {
		return []map[string]any{}
	}
	return configs
}

func unmarshalConfigList(raw string, dest *[]map[string]any) error {
	if raw == "" || raw == "[]" {
		*dest = []map[string]any{}
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
