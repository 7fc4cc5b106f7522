package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS alert_rules (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	scope_id TEXT,
	name TEXT NOT NULL,
	description TEXT,
	rule_type TEXT NOT NULL,
	metric_type TEXT NOT NULL,
	conditions TEXT NOT NULL,
	severity TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	cooldown_minutes INTEGER NOT NULL DEFAULT 15,
	aggregation_window_minutes INTEGER NOT NULL DEFAULT 5,
	notification_channels TEXT,
	notification_settings TEXT,
	triggered_count INTEGER NOT NULL DEFAULT 0,
	last_triggered_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_rules_owner ON alert_rules(owner_id);
CREATE INDEX IF NOT EXISTS idx_alert_rules_metric ON alert_rules(metric_type, scope_id, is_active);

CREATE TABLE IF NOT EXISTS alert_instances (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	scope_id TEXT,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	trigger_value REAL NOT NULL,
	threshold_value REAL,
	metric_data TEXT,
	context_data TEXT,
	triggered_at DATETIME NOT NULL,
	acknowledged_at DATETIME,
	acknowledged_by TEXT,
	ack_notes TEXT,
	resolved_at DATETIME,
	resolved_by TEXT,
	resolve_notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_alert_instances_owner_status ON alert_instances(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_alert_instances_rule ON alert_instances(rule_id);

CREATE TABLE IF NOT EXISTS notification_records (
	id TEXT PRIMARY KEY,
	alert_instance_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	recipient TEXT,
	status TEXT NOT NULL,
	error TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_records_alert ON notification_records(alert_instance_id);
`

// Open opens (or creates) the SQLite database at path and applies the schema
func Open(logger *zap.Logger, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Database ready", zap.String("path", path))
	return db, nil
}
