package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// WebhookSender posts the alert as JSON to the URL configured on the rule
type WebhookSender struct {
	logger *zap.Logger
	client *http.Client
}

// NewWebhookSender creates a generic webhook sender
func NewWebhookSender(logger *zap.Logger) *WebhookSender {
	return &WebhookSender{
		logger: logger.Named("webhook"),
		client: newHTTPClient(),
	}
}

type webhookPayload struct {
	Event     string               `json:"event"`
	Alert     *model.AlertInstance `json:"alert"`
	RuleID    string               `json:"rule_id"`
	RuleName  string               `json:"rule_name"`
	RuleType  model.RuleType       `json:"rule_type"`
	Metric    string               `json:"metric_type"`
	Message   string               `json:"message"`
	Timestamp time.Time            `json:"timestamp"`
}

// Channel implements Sender
func (s *WebhookSender) Channel() model.Channel {
	return model.ChannelWebhook
}

// Send implements Sender
func (s *WebhookSender) Send(ctx context.Context, msg *Message) error {
	if msg.Settings.URL == "" {
		return errors.New("no webhook url configured")
	}

	payload := webhookPayload{
		Event:     string(model.EventAlertTriggered),
		Alert:     msg.Alert,
		RuleID:    msg.Rule.ID,
		RuleName:  msg.Rule.Name,
		RuleType:  msg.Rule.RuleType,
		Metric:    msg.Rule.MetricType,
		Message:   msg.Alert.Message,
		Timestamp: msg.Alert.TriggeredAt,
	}
	if err := postJSON(ctx, s.client, msg.Settings.URL, msg.Settings.Headers, payload); err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	return nil
}

// SlackSender posts the alert to a Slack incoming webhook
type SlackSender struct {
	logger *zap.Logger
	client *http.Client
}

// NewSlackSender creates a Slack sender
func NewSlackSender(logger *zap.Logger) *SlackSender {
	return &SlackSender{
		logger: logger.Named("slack"),
		client: newHTTPClient(),
	}
}

// Channel implements Sender
func (s *SlackSender) Channel() model.Channel {
	return model.ChannelSlack
}

// Send implements Sender
func (s *SlackSender) Send(ctx context.Context, msg *Message) error {
	if msg.Settings.URL == "" {
		return errors.New("no slack webhook url configured")
	}

	text := fmt.Sprintf("%s *%s*\n%s", severityEmoji(msg.Alert.Severity), msg.Subject, strings.TrimSpace(msg.Body))
	if err := postJSON(ctx, s.client, msg.Settings.URL, msg.Settings.Headers, map[string]string{"text": text}); err != nil {
		return fmt.Errorf("slack delivery failed: %w", err)
	}
	return nil
}

func severityEmoji(severity model.AlertSeverity) string {
	switch severity {
	case model.AlertSeverityCritical:
		return ":rotating_light:"
	case model.AlertSeverityHigh:
		return ":red_circle:"
	case model.AlertSeverityMedium:
		return ":large_orange_circle:"
	default:
		return ":large_blue_circle:"
	}
}
