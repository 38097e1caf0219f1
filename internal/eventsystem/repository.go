package eventsystem

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for rule persistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error
	MarkFired(ctx context.Context, id string, at time.Time) error

	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]Execution, error)
}

const ruleColumns = `id, name, description, enabled, trigger_def, actions, cooldown_s,
			last_fired, fire_count, created_at, updated_at`

const executionColumns = `id, rule_id, trigger_source, trigger_detail, status,
			actions_total, actions_completed, actions_failed, error_message,
			started_at, completed_at, duration_ms`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	triggerJSON, actionsJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rules (
			id, name, description, enabled, trigger_def, actions, cooldown_s,
			last_fired, fire_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.Name,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		triggerJSON,
		actionsJSON,
		rule.CooldownS,
		nullableTime(rule.LastFired),
		rule.FireCount,
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies the definition of an existing rule. Firing statistics
// are left alone.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	triggerJSON, actionsJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, description = ?, enabled = ?, trigger_def = ?, actions = ?,
			cooldown_s = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		triggerJSON,
		actionsJSON,
		rule.CooldownS,
		rule.UpdatedAt.Format(time.RFC3339),
		rule.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("updating rule: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// Delete removes a rule and, through the foreign key, its executions.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// MarkFired stamps last_fired and increments fire_count.
func (r *SQLiteRepository) MarkFired(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rules SET last_fired = ?, fire_count = fire_count + 1 WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("marking rule fired: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *Execution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.RuleID,
		string(exec.TriggerSource),
		nullableString(exec.TriggerDetail),
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		nullableString(exec.ErrorMessage),
		exec.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(exec.CompletedAt),
		exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution updates the progress of an execution record.
func (r *SQLiteRepository) UpdateExecution(ctx context.Context, exec *Execution) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE rule_executions SET
			status = ?, actions_total = ?, actions_completed = ?, actions_failed = ?,
			error_message = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		nullableString(exec.ErrorMessage),
		nullableTime(exec.CompletedAt),
		exec.DurationMS,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	return expectOneRow(result, ErrExecutionNotFound)
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM rule_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves the most recent executions of a rule.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM rule_executions
		WHERE rule_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner rowScanner) (*Rule, error) {
	var rule Rule
	var description, lastFired sql.NullString
	var triggerJSON, actionsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.Name,
		&description,
		&enabled,
		&triggerJSON,
		&actionsJSON,
		&rule.CooldownS,
		&lastFired,
		&rule.FireCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		rule.Description = &description.String
	}
	rule.Enabled = enabled != 0
	rule.LastFired = parseNullableTime(lastFired)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		rule.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		rule.UpdatedAt = t
	}

	if err := json.Unmarshal([]byte(triggerJSON), &rule.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshalling trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions: %w", err)
	}
	if rule.Actions == nil {
		rule.Actions = []Action{}
	}
	return &rule, nil
}

func scanExecution(scanner rowScanner) (*Execution, error) {
	var e Execution
	var source, status, startedAt string
	var detail, errMsg, completedAt sql.NullString
	var durationMS sql.NullInt64

	err := scanner.Scan(
		&e.ID,
		&e.RuleID,
		&source,
		&detail,
		&status,
		&e.ActionsTotal,
		&e.ActionsCompleted,
		&e.ActionsFailed,
		&errMsg,
		&startedAt,
		&completedAt,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	e.TriggerSource = TriggerSource(source)
	e.Status = ExecutionStatus(status)
	if detail.Valid {
		e.TriggerDetail = &detail.String
	}
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		e.StartedAt = t
	}
	e.CompletedAt = parseNullableTime(completedAt)
	if durationMS.Valid {
		d := int(durationMS.Int64)
		e.DurationMS = &d
	}
	return &e, nil
}

func marshalRule(rule *Rule) (string, string, error) {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return "", "", fmt.Errorf("marshalling trigger: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	return string(triggerJSON), string(actionsJSON), nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
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
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
