package model

import "time"

// MetricSample is a single value published on the metric ingress channel
type MetricSample struct {
	ScopeID    string    `json:"entity_key,omitempty"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// TriggerSource identifies which path started an evaluation
type TriggerSource string

const (
	TriggerSweep  TriggerSource = "sweep"
	TriggerPush   TriggerSource = "push"
	TriggerManual TriggerSource = "manual"
)

// EvaluationContext is the input of one evaluation pass
type EvaluationContext struct {
	ScopeID    string                 `json:"scope_id,omitempty"`
	MetricType string                 `json:"metric_type"`
	Value      float64                `json:"value"`
	Timestamp  time.Time              `json:"timestamp"`
	Source     TriggerSource          `json:"source"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EntityKey returns the key anomaly windows are tracked under
func (c EvaluationContext) EntityKey() string {
	if c.ScopeID == "" {
		return "global"
	}
	return c.ScopeID
}

// EvaluationResult is produced for every evaluated rule, triggered or not
type EvaluationResult struct {
	RuleID         string                 `json:"rule_id"`
	Triggered      bool                   `json:"triggered"`
	MetricValue    float64                `json:"metric_value"`
	ThresholdValue *float64               `json:"threshold_value,omitempty"`
	EvaluatedAt    time.Time              `json:"evaluated_at"`
	Reason         string                 `json:"reason"`
	Details        map[string]interface{} `json:"details,omitempty"`
	AlertID        string                 `json:"alert_id,omitempty"`
}
