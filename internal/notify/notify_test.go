package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
)

type memoryStore struct {
	mu      sync.Mutex
	records []*model.NotificationRecord
}

func (s *memoryStore) Record(ctx context.Context, record *model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *record
	s.records = append(s.records, &r)
	return nil
}

func (s *memoryStore) ListByAlert(ctx context.Context, alertID string) ([]*model.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.NotificationRecord
	for _, r := range s.records {
		if r.AlertInstanceID == alertID {
			out = append(out, r)
		}
	}
	return out, nil
}

type funcSender struct {
	channel model.Channel
	send    func(ctx context.Context, msg *Message) error
}

func (s *funcSender) Channel() model.Channel { return s.channel }

func (s *funcSender) Send(ctx context.Context, msg *Message) error { return s.send(ctx, msg) }

func testRule(channels ...model.Channel) *model.AlertRule {
	v := 100.0
	return &model.AlertRule{
		ID:                   "rule-1",
		OwnerID:              "owner-1",
		Name:                 "High CPU",
		RuleType:             model.RuleTypeThreshold,
		MetricType:           "cpu",
		Conditions:           model.Conditions{Operator: model.OperatorGreaterThan, Value: &v},
		Severity:             model.AlertSeverityHigh,
		NotificationChannels: channels,
		NotificationSettings: map[model.Channel]model.ChannelSettings{},
	}
}

func testAlert() *model.AlertInstance {
	v := 100.0
	return &model.AlertInstance{
		ID:             "alert-1",
		RuleID:         "rule-1",
		OwnerID:        "owner-1",
		Status:         model.AlertStatusActive,
		Severity:       model.AlertSeverityHigh,
		Title:          "[HIGH] High CPU",
		Message:        `Rule "High CPU" triggered: cpu value 150 > threshold 100`,
		TriggerValue:   150,
		ThresholdValue: &v,
		ContextData:    map[string]interface{}{"reason": "cpu value 150 > threshold 100"},
		TriggeredAt:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	store := &memoryStore{}
	d := NewDispatcher(zaptest.NewLogger(t), store, time.Second)

	d.Register(&funcSender{channel: model.ChannelEmail, send: func(ctx context.Context, msg *Message) error {
		return nil
	}})
	d.Register(&funcSender{channel: model.ChannelSMS, send: func(ctx context.Context, msg *Message) error {
		return nil
	}})
	d.Register(&funcSender{channel: model.ChannelWebhook, send: func(ctx context.Context, msg *Message) error {
		return errors.New("connection refused")
	}})

	rule := testRule(model.ChannelEmail, model.ChannelSMS, model.ChannelWebhook)
	records := d.Dispatch(context.Background(), rule, testAlert())

	require.Len(t, records, 3)
	assert.Equal(t, model.ChannelEmail, records[0].Channel)
	assert.Equal(t, model.NotificationStatusSent, records[0].Status)
	assert.Empty(t, records[0].Error)
	assert.Equal(t, model.ChannelSMS, records[1].Channel)
	assert.Equal(t, model.NotificationStatusSent, records[1].Status)
	assert.Equal(t, model.ChannelWebhook, records[2].Channel)
	assert.Equal(t, model.NotificationStatusFailed, records[2].Status)
	assert.Contains(t, records[2].Error, "connection refused")

	stored, err := store.ListByAlert(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestDispatchTimeoutAndPanic(t *testing.T) {
	store := &memoryStore{}
	d := NewDispatcher(zaptest.NewLogger(t), store, 100*time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	d.Register(&funcSender{channel: model.ChannelSMS, send: func(ctx context.Context, msg *Message) error {
		<-release // ignores ctx
		return nil
	}})
	d.Register(&funcSender{channel: model.ChannelSlack, send: func(ctx context.Context, msg *Message) error {
		panic("boom")
	}})
	d.Register(&funcSender{channel: model.ChannelEmail, send: func(ctx context.Context, msg *Message) error {
		return nil
	}})

	start := time.Now()
	records := d.Dispatch(context.Background(), testRule(model.ChannelSMS, model.ChannelSlack, model.ChannelEmail), testAlert())
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, records, 3)
	assert.Equal(t, model.NotificationStatusFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "timed out")
	assert.Equal(t, model.NotificationStatusFailed, records[1].Status)
	assert.Contains(t, records[1].Error, "panic")
	assert.Equal(t, model.NotificationStatusSent, records[2].Status)
}

func TestDispatchUnregisteredChannel(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t), &memoryStore{}, time.Second)

	records := d.Dispatch(context.Background(), testRule(model.ChannelTelegram), testAlert())
	require.Len(t, records, 1)
	assert.Equal(t, model.NotificationStatusFailed, records[0].Status)
	assert.Contains(t, records[0].Error, ErrNoSender.Error())
}

func TestWebhookSender(t *testing.T) {
	var got map[string]interface{}
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rule := testRule(model.ChannelWebhook)
	rule.NotificationSettings[model.ChannelWebhook] = model.ChannelSettings{
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
	}

	s := NewWebhookSender(zaptest.NewLogger(t))
	err := s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelWebhook))
	require.NoError(t, err)

	assert.Equal(t, "secret", header)
	assert.Equal(t, "alert_triggered", got["event"])
	assert.Equal(t, "rule-1", got["rule_id"])
	alert := got["alert"].(map[string]interface{})
	assert.Equal(t, "alert-1", alert["id"])
}

func TestWebhookSenderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(zaptest.NewLogger(t))

	rule := testRule(model.ChannelWebhook)
	err := s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelWebhook))
	assert.ErrorContains(t, err, "no webhook url")

	rule.NotificationSettings[model.ChannelWebhook] = model.ChannelSettings{URL: srv.URL}
	err = s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelWebhook))
	assert.ErrorContains(t, err, "status 500")
}

func TestSlackSender(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		text = body["text"]
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rule := testRule(model.ChannelSlack)
	rule.NotificationSettings[model.ChannelSlack] = model.ChannelSettings{URL: srv.URL}

	s := NewSlackSender(zaptest.NewLogger(t))
	require.NoError(t, s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelSlack)))
	assert.Contains(t, text, "*[HIGH] High CPU*")
	assert.Contains(t, text, "Threshold: 100")
}

func TestSMSSender(t *testing.T) {
	var mu sync.Mutex
	var recipients []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		recipients = append(recipients, r.PostForm.Get("to"))
		mu.Unlock()
		if r.PostForm.Get("to") == "+100" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	s := NewSMSSender(zaptest.NewLogger(t), config.SMSConfig{BaseURL: srv.URL, APIKey: "key", From: "alertd"})
	rule := testRule(model.ChannelSMS)
	rule.NotificationSettings[model.ChannelSMS] = model.ChannelSettings{Recipients: []string{"+100", "+200"}}

	err := s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelSMS))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+100")
	assert.NotContains(t, err.Error(), "+200")
	assert.Equal(t, []string{"+100", "+200"}, recipients)
}

func TestEmailSender(t *testing.T) {
	s := NewEmailSender(zaptest.NewLogger(t), config.EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "alerts@example.com",
	})

	var addr string
	var to []string
	var body string
	s.sendMail = func(a string, auth smtp.Auth, from string, rcpt []string, msg []byte) error {
		addr, to, body = a, rcpt, string(msg)
		return nil
	}

	rule := testRule(model.ChannelEmail)
	rule.NotificationSettings[model.ChannelEmail] = model.ChannelSettings{Recipients: []string{"ops@example.com"}}
	require.NoError(t, s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelEmail)))

	assert.Equal(t, "smtp.example.com:587", addr)
	assert.Equal(t, []string{"ops@example.com"}, to)
	assert.Contains(t, body, "Subject: [HIGH] High CPU\r\n")
	assert.Contains(t, body, "Alert ID: alert-1")

	rule.NotificationSettings[model.ChannelEmail] = model.ChannelSettings{}
	assert.Error(t, s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelEmail)))
}

func TestEmailSenderFoldsSubjectLineBreaks(t *testing.T) {
	s := NewEmailSender(zaptest.NewLogger(t), config.EmailConfig{Host: "smtp.example.com", Port: 25, From: "alerts@example.com"})
	var body string
	s.sendMail = func(a string, auth smtp.Auth, from string, rcpt []string, msg []byte) error {
		body = string(msg)
		return nil
	}

	rule := testRule(model.ChannelEmail)
	rule.NotificationSettings[model.ChannelEmail] = model.ChannelSettings{Recipients: []string{"ops@example.com"}}
	msg := NewMessage(rule, testAlert(), model.ChannelEmail)
	msg.Subject = "[HIGH] cpu\r\nBcc: someone@example.com"
	require.NoError(t, s.Send(context.Background(), msg))

	headers, _, found := strings.Cut(body, "\r\n\r\n")
	require.True(t, found)
	assert.NotContains(t, headers, "\r\nBcc:")
	assert.Contains(t, headers, "Subject: [HIGH] cpu Bcc: someone@example.com\r\n")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmn", 10))

	// "é" is two bytes; the cut must not land inside it
	out := truncate("abcdefé"+strings.Repeat("x", 10), 10)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "abcdef...", out)
}

func TestTelegramSender(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	s, err := NewTelegramSender(zaptest.NewLogger(t), "123:abc", srv.URL)
	require.NoError(t, err)

	rule := testRule(model.ChannelTelegram)
	rule.NotificationSettings[model.ChannelTelegram] = model.ChannelSettings{Recipients: []string{"42", "@ops"}}
	require.NoError(t, s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelTelegram)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.Equal(t, "/bot123:abc/sendMessage", p)
	}

	rule.NotificationSettings[model.ChannelTelegram] = model.ChannelSettings{}
	assert.Error(t, s.Send(context.Background(), NewMessage(rule, testAlert(), model.ChannelTelegram)))
}
