package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/t77yq/alertd/internal/model"
)

// Message is the rendered notification handed to a channel sender
type Message struct {
	Alert    *model.AlertInstance
	Rule     *model.AlertRule
	Settings model.ChannelSettings
	Subject  string
	Body     string
}

// Sender delivers messages over one channel
type Sender interface {
	// Channel returns the channel the sender serves
	Channel() model.Channel

	// Send delivers msg. It must honor ctx cancellation where it can.
	Send(ctx context.Context, msg *Message) error
}

// NewMessage renders the notification of alert for one channel
func NewMessage(rule *model.AlertRule, alert *model.AlertInstance, channel model.Channel) *Message {
	settings := rule.NotificationSettings[channel]
	return &Message{
		Alert:    alert,
		Rule:     rule,
		Settings: settings,
		Subject:  alert.Title,
		Body:     renderBody(rule, alert),
	}
}

// Recipient describes where msg is addressed, for the notification record
func (m *Message) Recipient() string {
	if m.Settings.URL != "" {
		return m.Settings.URL
	}
	return strings.Join(m.Settings.Recipients, ",")
}

func renderBody(rule *model.AlertRule, alert *model.AlertInstance) string {
	var b strings.Builder
	b.WriteString(alert.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "Metric: %s\n", rule.MetricType)
	fmt.Fprintf(&b, "Value: %v\n", alert.TriggerValue)
	if alert.ThresholdValue != nil {
		fmt.Fprintf(&b, "Threshold: %v\n", *alert.ThresholdValue)
	}
	if alert.ScopeID != nil {
		fmt.Fprintf(&b, "Scope: %s\n", *alert.ScopeID)
	}
	fmt.Fprintf(&b, "Triggered at: %s\n", alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST"))

	if reason, ok := alert.ContextData["reason"].(string); ok && reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", reason)
	}
	keys := make([]string, 0, len(alert.ContextData))
	for k := range alert.ContextData {
		if k == "reason" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, alert.ContextData[k])
	}
	fmt.Fprintf(&b, "Alert ID: %s\n", alert.ID)
	return b.String()
}
