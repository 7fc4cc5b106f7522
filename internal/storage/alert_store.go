package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// AlertStore persists alert instances
type AlertStore interface {
	// Insert stores a new alert instance
	Insert(ctx context.Context, alert *model.AlertInstance) error

	// Get retrieves an alert instance by ID
	Get(ctx context.Context, id string) (*model.AlertInstance, error)

	// Transition writes the acknowledgement/resolution fields of alert, but only
	// if the stored status still equals from. A lost race yields ErrConflict.
	Transition(ctx context.Context, alert *model.AlertInstance, from model.AlertStatus) error

	// ListActive retrieves active alerts of an owner
	ListActive(ctx context.Context, ownerID string, filters model.AlertFilters) ([]*model.AlertInstance, error)
}

// SQLiteAlertStore implements AlertStore using SQLite
type SQLiteAlertStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertStore creates an alert store on an opened database
func NewSQLiteAlertStore(logger *zap.Logger, db *sql.DB) *SQLiteAlertStore {
	return &SQLiteAlertStore{
		logger: logger.Named("alert-store"),
		db:     db,
	}
}

const alertColumns = `id, rule_id, owner_id, scope_id, status, severity, title, message,
	trigger_value, threshold_value, metric_data, context_data, triggered_at,
	acknowledged_at, acknowledged_by, ack_notes, resolved_at, resolved_by, resolve_notes`

// Insert implements AlertStore.Insert
func (s *SQLiteAlertStore) Insert(ctx context.Context, alert *model.AlertInstance) error {
	metricData, err := json.Marshal(alert.MetricData)
	if err != nil {
		return fmt.Errorf("failed to marshal metric data: %w", err)
	}
	contextData, err := json.Marshal(alert.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_instances (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.RuleID,
		alert.OwnerID,
		nullString(alert.ScopeID),
		alert.Status,
		alert.Severity,
		alert.Title,
		alert.Message,
		alert.TriggerValue,
		nullFloat(alert.ThresholdValue),
		string(metricData),
		string(contextData),
		alert.TriggeredAt.UTC(),
		nullTime(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		nullString(alert.AckNotes),
		nullTime(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		nullString(alert.ResolveNotes),
	)
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// Get implements AlertStore.Get
func (s *SQLiteAlertStore) Get(ctx context.Context, id string) (*model.AlertInstance, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alert_instances WHERE id = ?", id)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return alert, nil
}

// Transition implements AlertStore.Transition
func (s *SQLiteAlertStore) Transition(ctx context.Context, alert *model.AlertInstance, from model.AlertStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_instances SET
			status = ?,
			acknowledged_at = ?,
			acknowledged_by = ?,
			ack_notes = ?,
			resolved_at = ?,
			resolved_by = ?,
			resolve_notes = ?
		WHERE id = ? AND status = ?`,
		alert.Status,
		nullTime(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		nullString(alert.AckNotes),
		nullTime(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		nullString(alert.ResolveNotes),
		alert.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, alert.ID); err != nil {
			return err
		}
		return fmt.Errorf("alert %s is no longer %s: %w", alert.ID, from, model.ErrConflict)
	}
	return nil
}

// ListActive implements AlertStore.ListActive
func (s *SQLiteAlertStore) ListActive(ctx context.Context, ownerID string, filters model.AlertFilters) ([]*model.AlertInstance, error) {
	where := []string{"owner_id = ?", "status = ?"}
	args := []interface{}{ownerID, model.AlertStatusActive}

	if filters.ScopeID != nil {
		where = append(where, "scope_id = ?")
		args = append(args, *filters.ScopeID)
	}
	if filters.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, *filters.Severity)
	}

	query := "SELECT " + alertColumns + " FROM alert_instances WHERE " +
		strings.Join(where, " AND ") + " ORDER BY triggered_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.AlertInstance
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (*model.AlertInstance, error) {
	var alert model.AlertInstance
	var scope, metricData, contextData, ackBy, ackNotes, resolvedBy, notes sql.NullString
	var threshold sql.NullFloat64
	var ackAt, resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.OwnerID,
		&scope,
		&alert.Status,
		&alert.Severity,
		&alert.Title,
		&alert.Message,
		&alert.TriggerValue,
		&threshold,
		&metricData,
		&contextData,
		&alert.TriggeredAt,
		&ackAt,
		&ackBy,
		&ackNotes,
		&resolvedAt,
		&resolvedBy,
		&notes,
	)
	if err != nil {
		return nil, err
	}

	if scope.Valid {
		alert.ScopeID = &scope.String
	}
	if threshold.Valid {
		alert.ThresholdValue = &threshold.Float64
	}
	if ackAt.Valid {
		alert.AcknowledgedAt = &ackAt.Time
	}
	if ackBy.Valid {
		alert.AcknowledgedBy = &ackBy.String
	}
	if ackNotes.Valid {
		alert.AckNotes = &ackNotes.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.String
	}
	if notes.Valid {
		alert.ResolveNotes = &notes.String
	}
	if metricData.Valid && metricData.String != "" {
		if err := json.Unmarshal([]byte(metricData.String), &alert.MetricData); err != nil {
			return nil, fmt.Errorf("failed to decode metric data of alert %s: %w", alert.ID, err)
		}
	}
	if contextData.Valid && contextData.String != "" {
		if err := json.Unmarshal([]byte(contextData.String), &alert.ContextData); err != nil {
			return nil, fmt.Errorf("failed to decode context data of alert %s: %w", alert.ID, err)
		}
	}
	return &alert, nil
}
