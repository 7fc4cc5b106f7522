package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// RuleStore is the source of truth for alert rules
type RuleStore interface {
	// Create stores a new rule
	Create(ctx context.Context, rule *model.AlertRule) error

	// Update replaces a stored rule
	Update(ctx context.Context, rule *model.AlertRule) error

	// Delete removes a rule by ID
	Delete(ctx context.Context, id string) error

	// Get retrieves a rule by ID
	Get(ctx context.Context, id string) (*model.AlertRule, error)

	// List retrieves rules matching the filter
	List(ctx context.Context, filter model.RuleFilter) ([]*model.AlertRule, error)

	// RecordTrigger increments the trigger counter and sets the last trigger time
	RecordTrigger(ctx context.Context, id string, at time.Time) error
}

// SQLiteRuleStore implements RuleStore using SQLite
type SQLiteRuleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRuleStore creates a rule store on an opened database
func NewSQLiteRuleStore(logger *zap.Logger, db *sql.DB) *SQLiteRuleStore {
	return &SQLiteRuleStore{
		logger: logger.Named("rule-store"),
		db:     db,
	}
}

const ruleColumns = `id, owner_id, scope_id, name, description, rule_type, metric_type, conditions,
	severity, is_active, cooldown_minutes, aggregation_window_minutes, notification_channels,
	notification_settings, triggered_count, last_triggered_at, created_at, updated_at`

// Create implements RuleStore.Create
func (s *SQLiteRuleStore) Create(ctx context.Context, rule *model.AlertRule) error {
	conditions, channels, settings, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.OwnerID,
		nullString(rule.ScopeID),
		rule.Name,
		rule.Description,
		rule.RuleType,
		rule.MetricType,
		conditions,
		rule.Severity,
		rule.IsActive,
		rule.CooldownMinutes,
		rule.AggregationWindowMinutes,
		channels,
		settings,
		rule.TriggeredCount,
		nullTime(rule.LastTriggeredAt),
		rule.CreatedAt.UTC(),
		rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store rule: %w", err)
	}
	return nil
}

// Update implements RuleStore.Update
func (s *SQLiteRuleStore) Update(ctx context.Context, rule *model.AlertRule) error {
	conditions, channels, settings, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET
			scope_id = ?,
			name = ?,
			description = ?,
			rule_type = ?,
			metric_type = ?,
			conditions = ?,
			severity = ?,
			is_active = ?,
			cooldown_minutes = ?,
			aggregation_window_minutes = ?,
			notification_channels = ?,
			notification_settings = ?,
			updated_at = ?
		WHERE id = ?`,
		nullString(rule.ScopeID),
		rule.Name,
		rule.Description,
		rule.RuleType,
		rule.MetricType,
		conditions,
		rule.Severity,
		rule.IsActive,
		rule.CooldownMinutes,
		rule.AggregationWindowMinutes,
		channels,
		settings,
		rule.UpdatedAt.UTC(),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOneRow(result, "rule", rule.ID)
}

// Delete implements RuleStore.Delete
func (s *SQLiteRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectOneRow(result, "rule", id)
}

// Get implements RuleStore.Get
func (s *SQLiteRuleStore) Get(ctx context.Context, id string) (*model.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	return rule, nil
}

// List implements RuleStore.List
func (s *SQLiteRuleStore) List(ctx context.Context, filter model.RuleFilter) ([]*model.AlertRule, error) {
	var where []string
	var args []interface{}

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.MetricType != "" {
		where = append(where, "metric_type = ?")
		args = append(args, filter.MetricType)
	}
	if filter.ScopeID != nil {
		where = append(where, "scope_id = ?")
		args = append(args, *filter.ScopeID)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := "SELECT " + ruleColumns + " FROM alert_rules"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rules, nil
}

// RecordTrigger implements RuleStore.RecordTrigger
func (s *SQLiteRuleStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET
			triggered_count = triggered_count + 1,
			last_triggered_at = ?
		WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record rule trigger: %w", err)
	}
	return expectOneRow(result, "rule", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*model.AlertRule, error) {
	var rule model.AlertRule
	var scope, description, channels, settings sql.NullString
	var conditions string
	var lastTriggered sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&scope,
		&rule.Name,
		&description,
		&rule.RuleType,
		&rule.MetricType,
		&conditions,
		&rule.Severity,
		&rule.IsActive,
		&rule.CooldownMinutes,
		&rule.AggregationWindowMinutes,
		&channels,
		&settings,
		&rule.TriggeredCount,
		&lastTriggered,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scope.Valid {
		rule.ScopeID = &scope.String
	}
	rule.Description = description.String
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", rule.ID, err)
	}
	if channels.Valid && channels.String != "" {
		if err := json.Unmarshal([]byte(channels.String), &rule.NotificationChannels); err != nil {
			return nil, fmt.Errorf("failed to decode channels of rule %s: %w", rule.ID, err)
		}
	}
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &rule.NotificationSettings); err != nil {
			return nil, fmt.Errorf("failed to decode settings of rule %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

func encodeRuleJSON(rule *model.AlertRule) (string, string, string, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	channels, err := json.Marshal(rule.NotificationChannels)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal channels: %w", err)
	}
	settings, err := json.Marshal(rule.NotificationSettings)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal notification settings: %w", err)
	}
	return string(conditions), string(channels), string(settings), nil
}

func expectOneRow(result sql.Result, kind, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
