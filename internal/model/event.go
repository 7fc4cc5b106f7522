package model

import "time"

// EventType names a lifecycle event on the internal bus
type EventType string

const (
	EventAlertTriggered    EventType = "alert_triggered"
	EventAlertAcknowledged EventType = "alert_acknowledged"
	EventAlertResolved     EventType = "alert_resolved"
)

// Event is published on the internal bus after a lifecycle transition
type Event struct {
	Type       EventType          `json:"type"`
	Instance   *AlertInstance     `json:"instance"`
	Rule       *AlertRule         `json:"rule,omitempty"`
	Context    *EvaluationContext `json:"context,omitempty"`
	Evaluation *EvaluationResult  `json:"evaluation,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}
