package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
)

const smsMaxLength = 320

// SMSSender delivers alerts through an HTTP SMS gateway. Each recipient gets
// one form-encoded POST to the gateway's messages endpoint.
type SMSSender struct {
	logger *zap.Logger
	config config.SMSConfig
	client *http.Client
}

// NewSMSSender creates an SMS sender
func NewSMSSender(logger *zap.Logger, cfg config.SMSConfig) *SMSSender {
	return &SMSSender{
		logger: logger.Named("sms"),
		config: cfg,
		client: newHTTPClient(),
	}
}

// Channel implements Sender
func (s *SMSSender) Channel() model.Channel {
	return model.ChannelSMS
}

// Send implements Sender
func (s *SMSSender) Send(ctx context.Context, msg *Message) error {
	if s.config.BaseURL == "" {
		return errors.New("sms gateway not configured")
	}
	if len(msg.Settings.Recipients) == 0 {
		return errors.New("no sms recipients configured")
	}

	text := msg.Alert.Title + ": " + msg.Alert.Message
	text = truncate(text, smsMaxLength)

	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/messages"
	var errs []error
	for _, to := range msg.Settings.Recipients {
		form := url.Values{}
		form.Set("to", to)
		form.Set("from", s.config.From)
		form.Set("text", text)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if s.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
		}

		if err := do(s.client, req); err != nil {
			s.logger.Warn("SMS delivery failed", zap.String("recipient", to), zap.Error(err))
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// truncate shortens s to at most max bytes without splitting a rune
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
