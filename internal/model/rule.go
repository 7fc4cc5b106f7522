package model

import "time"

// RuleType selects the evaluation strategy of a rule
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypeAnomaly   RuleType = "anomaly"
	RuleTypeTrend     RuleType = "trend"
)

// Operator is a threshold comparison operator in canonical form
type Operator string

const (
	OperatorGreaterThan    Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLessThan       Operator = "<"
	OperatorLessOrEqual    Operator = "<="
	OperatorEqual          Operator = "=="
	OperatorNotEqual       Operator = "!="
)

// Channel identifies a notification delivery mechanism
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelSlack    Channel = "slack"
	ChannelWebhook  Channel = "webhook"
	ChannelTelegram Channel = "telegram"
)

// Rule defaults
const (
	DefaultCooldownMinutes          = 15
	DefaultAggregationWindowMinutes = 5
	DefaultSensitivity              = 2.5
	DefaultTrendWindowMinutes       = 30
	DefaultChangeThreshold          = 0.2
)

// Conditions holds the type-specific parameters of a rule. Only the fields
// required by the rule's type are meaningful.
type Conditions struct {
	// threshold
	Operator Operator `json:"operator,omitempty"`
	Value    *float64 `json:"value,omitempty"`

	// anomaly
	Sensitivity *float64 `json:"sensitivity,omitempty"`

	// trend
	WindowMinutes   *int     `json:"window_minutes,omitempty"`
	ChangeThreshold *float64 `json:"change_threshold,omitempty"`
}

// ChannelSettings configures delivery for one channel of a rule
type ChannelSettings struct {
	Recipients []string          `json:"recipients,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// AlertRule defines a user-configured condition over a metric
type AlertRule struct {
	ID                       string                      `json:"id"`
	OwnerID                  string                      `json:"owner_id"`
	ScopeID                  *string                     `json:"scope_id,omitempty"`
	Name                     string                      `json:"name"`
	Description              string                      `json:"description,omitempty"`
	RuleType                 RuleType                    `json:"rule_type"`
	MetricType               string                      `json:"metric_type"`
	Conditions               Conditions                  `json:"conditions"`
	Severity                 AlertSeverity               `json:"severity"`
	IsActive                 bool                        `json:"is_active"`
	CooldownMinutes          int                         `json:"cooldown_minutes"`
	AggregationWindowMinutes int                         `json:"aggregation_window_minutes"`
	NotificationChannels     []Channel                   `json:"notification_channels"`
	NotificationSettings     map[Channel]ChannelSettings `json:"notification_settings,omitempty"`
	TriggeredCount           int                         `json:"triggered_count"`
	LastTriggeredAt          *time.Time                  `json:"last_triggered_at,omitempty"`
	CreatedAt                time.Time                   `json:"created_at"`
	UpdatedAt                time.Time                   `json:"updated_at"`
}

// Clone returns a deep copy of the rule so cached values are never shared
// with callers.
func (r *AlertRule) Clone() *AlertRule {
	if r == nil {
		return nil
	}
	c := *r
	if r.ScopeID != nil {
		s := *r.ScopeID
		c.ScopeID = &s
	}
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	c.Conditions = r.Conditions.clone()
	c.NotificationChannels = append([]Channel(nil), r.NotificationChannels...)
	if r.NotificationSettings != nil {
		c.NotificationSettings = make(map[Channel]ChannelSettings, len(r.NotificationSettings))
		for k, v := range r.NotificationSettings {
			v.Recipients = append([]string(nil), v.Recipients...)
			if v.Headers != nil {
				h := make(map[string]string, len(v.Headers))
				for hk, hv := range v.Headers {
					h[hk] = hv
				}
				v.Headers = h
			}
			c.NotificationSettings[k] = v
		}
	}
	return &c
}

// Scope returns the rule scope or the empty string for global rules
func (r *AlertRule) Scope() string {
	if r.ScopeID == nil {
		return ""
	}
	return *r.ScopeID
}

func (c Conditions) clone() Conditions {
	out := Conditions{Operator: c.Operator}
	if c.Value != nil {
		v := *c.Value
		out.Value = &v
	}
	if c.Sensitivity != nil {
		v := *c.Sensitivity
		out.Sensitivity = &v
	}
	if c.WindowMinutes != nil {
		v := *c.WindowMinutes
		out.WindowMinutes = &v
	}
	if c.ChangeThreshold != nil {
		v := *c.ChangeThreshold
		out.ChangeThreshold = &v
	}
	return out
}

// RuleRequest carries the fields of a create or update call. Nil fields are
// left unchanged on update.
type RuleRequest struct {
	OwnerID                  string                      `json:"owner_id"`
	ScopeID                  *string                     `json:"scope_id,omitempty"`
	Name                     *string                     `json:"name,omitempty"`
	Description              *string                     `json:"description,omitempty"`
	RuleType                 *RuleType                   `json:"rule_type,omitempty"`
	MetricType               *string                     `json:"metric_type,omitempty"`
	Conditions               *Conditions                 `json:"conditions,omitempty"`
	Severity                 *AlertSeverity              `json:"severity,omitempty"`
	IsActive                 *bool                       `json:"is_active,omitempty"`
	CooldownMinutes          *int                        `json:"cooldown_minutes,omitempty"`
	AggregationWindowMinutes *int                        `json:"aggregation_window_minutes,omitempty"`
	NotificationChannels     []Channel                   `json:"notification_channels,omitempty"`
	NotificationSettings     map[Channel]ChannelSettings `json:"notification_settings,omitempty"`
}

// RuleFilter narrows a rule store lookup. Zero values match everything.
type RuleFilter struct {
	OwnerID    string
	MetricType string
	ScopeID    *string
	ActiveOnly bool
}
