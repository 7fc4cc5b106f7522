package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// NotificationStore keeps the audit trail of notification attempts
type NotificationStore interface {
	// Record stores one channel attempt
	Record(ctx context.Context, record *model.NotificationRecord) error

	// ListByAlert retrieves all attempts made for an alert instance
	ListByAlert(ctx context.Context, alertID string) ([]*model.NotificationRecord, error)
}

// SQLiteNotificationStore implements NotificationStore using SQLite
type SQLiteNotificationStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteNotificationStore creates a notification audit store on an opened database
func NewSQLiteNotificationStore(logger *zap.Logger, db *sql.DB) *SQLiteNotificationStore {
	return &SQLiteNotificationStore{
		logger: logger.Named("notification-store"),
		db:     db,
	}
}

// Record implements NotificationStore.Record
func (s *SQLiteNotificationStore) Record(ctx context.Context, record *model.NotificationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_records (
			id, alert_instance_id, channel, recipient, status, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AlertInstanceID,
		record.Channel,
		record.Recipient,
		record.Status,
		sql.NullString{String: record.Error, Valid: record.Error != ""},
		record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store notification record: %w", err)
	}
	return nil
}

// ListByAlert implements NotificationStore.ListByAlert
func (s *SQLiteNotificationStore) ListByAlert(ctx context.Context, alertID string) ([]*model.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_instance_id, channel, recipient, status, error, created_at
		FROM notification_records
		WHERE alert_instance_id = ?
		ORDER BY created_at ASC, channel ASC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}
	defer rows.Close()

	var records []*model.NotificationRecord
	for rows.Next() {
		record := &model.NotificationRecord{}
		var recipient, errorStr sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.AlertInstanceID,
			&record.Channel,
			&recipient,
			&record.Status,
			&errorStr,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		record.Recipient = recipient.String
		record.Error = errorStr.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
