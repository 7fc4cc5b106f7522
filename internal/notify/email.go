package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers alerts over SMTP
type EmailSender struct {
	logger   *zap.Logger
	config   config.EmailConfig
	sendMail sendMailFunc
}

// NewEmailSender creates an SMTP sender
func NewEmailSender(logger *zap.Logger, cfg config.EmailConfig) *EmailSender {
	return &EmailSender{
		logger:   logger.Named("email"),
		config:   cfg,
		sendMail: smtp.SendMail,
	}
}

// Channel implements Sender
func (s *EmailSender) Channel() model.Channel {
	return model.ChannelEmail
}

// Send implements Sender
func (s *EmailSender) Send(ctx context.Context, msg *Message) error {
	if len(msg.Settings.Recipients) == 0 {
		return errors.New("no email recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	body := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		s.config.From,
		strings.Join(msg.Settings.Recipients, ", "),
		mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)),
		strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := s.sendMail(addr, auth, s.config.From, msg.Settings.Recipients, []byte(body)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	s.logger.Debug("Email sent",
		zap.String("alert_id", msg.Alert.ID),
		zap.Int("recipients", len(msg.Settings.Recipients)))
	return nil
}

// headerValue folds CR and LF out of a header value
func headerValue(v string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(v)
}
