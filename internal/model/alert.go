package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Valid reports whether s is a known severity
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityLow, AlertSeverityMedium, AlertSeverityHigh, AlertSeverityCritical:
		return true
	}
	return false
}

// AlertStatus represents the lifecycle state of an alert instance
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// AlertInstance represents a concrete occurrence of a triggered rule
type AlertInstance struct {
	ID             string                 `json:"id"`
	RuleID         string                 `json:"rule_id"`
	OwnerID        string                 `json:"owner_id"`
	ScopeID        *string                `json:"scope_id,omitempty"`
	Status         AlertStatus            `json:"status"`
	Severity       AlertSeverity          `json:"severity"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	TriggerValue   float64                `json:"trigger_value"`
	ThresholdValue *float64               `json:"threshold_value,omitempty"`
	MetricData     map[string]interface{} `json:"metric_data,omitempty"`
	ContextData    map[string]interface{} `json:"context_data,omitempty"`
	TriggeredAt    time.Time              `json:"triggered_at"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AckNotes       *string    `json:"ack_notes,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolveNotes   *string    `json:"resolve_notes,omitempty"`
}

// AlertFilters narrows an active alert query
type AlertFilters struct {
	ScopeID  *string
	Severity *AlertSeverity
	Limit    int
}
