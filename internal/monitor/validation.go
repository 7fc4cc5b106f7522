package monitor

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/t77yq/alertd/internal/model"
)

var operatorAliases = map[string]model.Operator{
	">":                     model.OperatorGreaterThan,
	"gt":                    model.OperatorGreaterThan,
	"greater_than":          model.OperatorGreaterThan,
	">=":                    model.OperatorGreaterOrEqual,
	"gte":                   model.OperatorGreaterOrEqual,
	"greater_than_or_equal": model.OperatorGreaterOrEqual,
	"greater_or_equal":      model.OperatorGreaterOrEqual,
	"<":                     model.OperatorLessThan,
	"lt":                    model.OperatorLessThan,
	"less_than":             model.OperatorLessThan,
	"<=":                    model.OperatorLessOrEqual,
	"lte":                   model.OperatorLessOrEqual,
	"less_than_or_equal":    model.OperatorLessOrEqual,
	"less_or_equal":         model.OperatorLessOrEqual,
	"==":                    model.OperatorEqual,
	"=":                     model.OperatorEqual,
	"eq":                    model.OperatorEqual,
	"equal":                 model.OperatorEqual,
	"equals":                model.OperatorEqual,
	"!=":                    model.OperatorNotEqual,
	"ne":                    model.OperatorNotEqual,
	"neq":                   model.OperatorNotEqual,
	"not_equal":             model.OperatorNotEqual,
	"not_equals":            model.OperatorNotEqual,
}

var knownChannels = map[model.Channel]bool{
	model.ChannelEmail:    true,
	model.ChannelSMS:      true,
	model.ChannelSlack:    true,
	model.ChannelWebhook:  true,
	model.ChannelTelegram: true,
}

// NormalizeOperator maps an operator or one of its aliases to canonical form
func NormalizeOperator(op model.Operator) (model.Operator, bool) {
	canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(string(op)))]
	return canonical, ok
}

// newRuleFromRequest builds a validated rule with defaults applied
func newRuleFromRequest(req *model.RuleRequest, now time.Time) (*model.AlertRule, error) {
	if req == nil {
		return nil, &model.ValidationError{Field: "request", Reason: "is required"}
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, &model.ValidationError{Field: "owner_id", Reason: "is required"}
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "is required"}
	}
	if req.RuleType == nil {
		return nil, &model.ValidationError{Field: "rule_type", Reason: "is required"}
	}
	if req.MetricType == nil || strings.TrimSpace(*req.MetricType) == "" {
		return nil, &model.ValidationError{Field: "metric_type", Reason: "is required"}
	}
	if req.Conditions == nil {
		return nil, &model.ValidationError{Field: "conditions", Reason: "are required"}
	}

	rule := &model.AlertRule{
		ID:                       uuid.New().String(),
		OwnerID:                  req.OwnerID,
		Severity:                 model.AlertSeverityMedium,
		IsActive:                 true,
		CooldownMinutes:          model.DefaultCooldownMinutes,
		AggregationWindowMinutes: model.DefaultAggregationWindowMinutes,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	applyRequest(rule, req)

	if err := normalizeRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// mergeRuleUpdate applies a partial update to a copy of existing
func mergeRuleUpdate(existing *model.AlertRule, req *model.RuleRequest, now time.Time) (*model.AlertRule, error) {
	if req == nil {
		return nil, &model.ValidationError{Field: "request", Reason: "is required"}
	}

	rule := existing.Clone()
	if req.RuleType != nil && *req.RuleType != existing.RuleType && req.Conditions == nil {
		return nil, &model.ValidationError{Field: "conditions", Reason: "are required when changing rule_type"}
	}
	applyRequest(rule, req)
	rule.UpdatedAt = now

	if err := normalizeRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func applyRequest(rule *model.AlertRule, req *model.RuleRequest) {
	if req.ScopeID != nil {
		if scope := strings.TrimSpace(*req.ScopeID); scope != "" {
			rule.ScopeID = &scope
		} else {
			rule.ScopeID = nil
		}
	}
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.RuleType != nil {
		rule.RuleType = model.RuleType(strings.ToLower(string(*req.RuleType)))
	}
	if req.MetricType != nil {
		rule.MetricType = strings.TrimSpace(*req.MetricType)
	}
	if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	if req.Severity != nil {
		rule.Severity = model.AlertSeverity(strings.ToLower(string(*req.Severity)))
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.AggregationWindowMinutes != nil {
		rule.AggregationWindowMinutes = *req.AggregationWindowMinutes
	}
	if req.NotificationChannels != nil {
		rule.NotificationChannels = append([]model.Channel(nil), req.NotificationChannels...)
	}
	if req.NotificationSettings != nil {
		rule.NotificationSettings = req.NotificationSettings
	}
}

func normalizeRule(rule *model.AlertRule) error {
	if rule.Name == "" {
		return &model.ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.IndexFunc(rule.Name, unicode.IsControl) >= 0 {
		return &model.ValidationError{Field: "name", Reason: "must not contain control characters"}
	}
	if rule.MetricType == "" {
		return &model.ValidationError{Field: "metric_type", Reason: "is required"}
	}
	if rule.Severity == "" {
		rule.Severity = model.AlertSeverityMedium
	}
	if !rule.Severity.Valid() {
		return &model.ValidationError{Field: "severity", Reason: "unknown severity " + string(rule.Severity)}
	}
	if rule.CooldownMinutes < 0 {
		return &model.ValidationError{Field: "cooldown_minutes", Reason: "must not be negative"}
	}
	if rule.AggregationWindowMinutes <= 0 {
		return &model.ValidationError{Field: "aggregation_window_minutes", Reason: "must be positive"}
	}

	seen := make(map[model.Channel]bool, len(rule.NotificationChannels))
	channels := rule.NotificationChannels[:0]
	for _, ch := range rule.NotificationChannels {
		ch = model.Channel(strings.ToLower(string(ch)))
		if !knownChannels[ch] {
			return &model.ValidationError{Field: "notification_channels", Reason: "unknown channel " + string(ch)}
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}
	rule.NotificationChannels = channels

	return normalizeConditions(rule)
}

func normalizeConditions(rule *model.AlertRule) error {
	c := &rule.Conditions

	switch rule.RuleType {
	case model.RuleTypeThreshold:
		op, ok := NormalizeOperator(c.Operator)
		if !ok {
			return &model.ValidationError{Field: "conditions.operator", Reason: "unknown operator " + string(c.Operator)}
		}
		if c.Value == nil {
			return &model.ValidationError{Field: "conditions.value", Reason: "is required for threshold rules"}
		}
		c.Operator = op
		c.Sensitivity, c.WindowMinutes, c.ChangeThreshold = nil, nil, nil

	case model.RuleTypeAnomaly:
		if c.Sensitivity == nil {
			s := model.DefaultSensitivity
			c.Sensitivity = &s
		}
		if *c.Sensitivity <= 0 {
			return &model.ValidationError{Field: "conditions.sensitivity", Reason: "must be positive"}
		}
		c.Operator, c.Value, c.WindowMinutes, c.ChangeThreshold = "", nil, nil, nil

	case model.RuleTypeTrend:
		if c.WindowMinutes == nil {
			w := model.DefaultTrendWindowMinutes
			c.WindowMinutes = &w
		}
		if *c.WindowMinutes <= 0 {
			return &model.ValidationError{Field: "conditions.window_minutes", Reason: "must be positive"}
		}
		if c.ChangeThreshold == nil {
			t := model.DefaultChangeThreshold
			c.ChangeThreshold = &t
		}
		if *c.ChangeThreshold < 0 {
			return &model.ValidationError{Field: "conditions.change_threshold", Reason: "must not be negative"}
		}
		c.Operator, c.Value, c.Sensitivity = "", nil, nil

	default:
		return &model.ValidationError{Field: "rule_type", Reason: "unknown rule type " + string(rule.RuleType)}
	}
	return nil
}
