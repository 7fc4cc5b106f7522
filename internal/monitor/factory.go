package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/alertd/internal/model"
)

// NewAlertInstance builds the alert recorded for a triggered evaluation
func NewAlertInstance(rule *model.AlertRule, result model.EvaluationResult, ec model.EvaluationContext, now time.Time) *model.AlertInstance {
	alert := &model.AlertInstance{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		OwnerID:      rule.OwnerID,
		Status:       model.AlertStatusActive,
		Severity:     rule.Severity,
		Title:        fmt.Sprintf("[%s] %s", strings.ToUpper(string(rule.Severity)), rule.Name),
		Message:      alertMessage(rule, result, ec),
		TriggerValue: result.MetricValue,
		TriggeredAt:  now,
		MetricData: map[string]interface{}{
			"metric_type": ec.MetricType,
			"value":       ec.Value,
			"timestamp":   ec.Timestamp,
		},
		ContextData: map[string]interface{}{
			"rule_type": string(rule.RuleType),
			"source":    string(ec.Source),
			"reason":    result.Reason,
		},
	}
	if scope := ec.ScopeID; scope != "" {
		alert.ScopeID = &scope
	} else if rule.ScopeID != nil {
		scope := *rule.ScopeID
		alert.ScopeID = &scope
	}
	if result.ThresholdValue != nil {
		t := *result.ThresholdValue
		alert.ThresholdValue = &t
	}
	for k, v := range result.Details {
		alert.ContextData[k] = v
	}
	for k, v := range ec.Metadata {
		alert.MetricData[k] = v
	}
	return alert
}

func alertMessage(rule *model.AlertRule, result model.EvaluationResult, ec model.EvaluationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %q triggered: %s", rule.Name, result.Reason)
	if ec.ScopeID != "" {
		fmt.Fprintf(&b, " (scope %s)", ec.ScopeID)
	}
	if rule.Description != "" {
		b.WriteString(". ")
		b.WriteString(rule.Description)
	}
	return b.String()
}
