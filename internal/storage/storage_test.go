package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRule(owner string) *model.AlertRule {
	value := 100.0
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.AlertRule{
		ID:         uuid.New().String(),
		OwnerID:    owner,
		Name:       "High latency",
		RuleType:   model.RuleTypeThreshold,
		MetricType: "latency_ms",
		Conditions: model.Conditions{
			Operator: model.OperatorGreaterThan,
			Value:    &value,
		},
		Severity:                 model.AlertSeverityHigh,
		IsActive:                 true,
		CooldownMinutes:          15,
		AggregationWindowMinutes: 5,
		NotificationChannels:     []model.Channel{model.ChannelEmail, model.ChannelWebhook},
		NotificationSettings: map[model.Channel]model.ChannelSettings{
			model.ChannelEmail:   {Recipients: []string{"ops@example.com"}},
			model.ChannelWebhook: {URL: "https://hooks.example.com/alerts"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteRuleStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteRuleStore(zaptest.NewLogger(t), openTestDB(t))

	rule := newTestRule("user-1")
	require.NoError(t, store.Create(ctx, rule))

	stored, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, stored.Name)
	assert.Equal(t, model.OperatorGreaterThan, stored.Conditions.Operator)
	require.NotNil(t, stored.Conditions.Value)
	assert.Equal(t, 100.0, *stored.Conditions.Value)
	assert.Equal(t, rule.NotificationChannels, stored.NotificationChannels)
	assert.Equal(t, "ops@example.com", stored.NotificationSettings[model.ChannelEmail].Recipients[0])
	assert.Nil(t, stored.ScopeID)
	assert.True(t, stored.IsActive)

	scope := "server-7"
	rule.ScopeID = &scope
	rule.Name = "Very high latency"
	rule.IsActive = false
	rule.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Update(ctx, rule))

	stored, err = store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Very high latency", stored.Name)
	require.NotNil(t, stored.ScopeID)
	assert.Equal(t, "server-7", *stored.ScopeID)
	assert.False(t, stored.IsActive)

	require.NoError(t, store.Delete(ctx, rule.ID))
	_, err = store.Get(ctx, rule.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, rule.ID), model.ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, rule), model.ErrNotFound)
}

func TestSQLiteRuleStore_ListAndRecordTrigger(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteRuleStore(zaptest.NewLogger(t), openTestDB(t))

	active := newTestRule("user-1")
	inactive := newTestRule("user-1")
	inactive.IsActive = false
	other := newTestRule("user-2")
	other.MetricType = "cpu_usage"

	for _, r := range []*model.AlertRule{active, inactive, other} {
		require.NoError(t, store.Create(ctx, r))
	}

	rules, err := store.List(ctx, model.RuleFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	rules, err = store.List(ctx, model.RuleFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	rules, err = store.List(ctx, model.RuleFilter{MetricType: "cpu_usage"})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, other.ID, rules[0].ID)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.RecordTrigger(ctx, active.ID, at))
	require.NoError(t, store.RecordTrigger(ctx, active.ID, at.Add(time.Minute)))

	stored, err := store.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TriggeredCount)
	require.NotNil(t, stored.LastTriggeredAt)
	assert.True(t, stored.LastTriggeredAt.Equal(at.Add(time.Minute)))

	assert.ErrorIs(t, store.RecordTrigger(ctx, "missing", at), model.ErrNotFound)
}

func newTestAlert(owner string, severity model.AlertSeverity) *model.AlertInstance {
	threshold := 100.0
	return &model.AlertInstance{
		ID:             uuid.New().String(),
		RuleID:         "rule-1",
		OwnerID:        owner,
		Status:         model.AlertStatusActive,
		Severity:       severity,
		Title:          "[HIGH] High latency",
		Message:        "latency_ms is 150 which is > 100",
		TriggerValue:   150,
		ThresholdValue: &threshold,
		MetricData:     map[string]interface{}{"metric_type": "latency_ms"},
		ContextData:    map[string]interface{}{"source": "push"},
		TriggeredAt:    time.Now().UTC(),
	}
}

func TestSQLiteAlertStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteAlertStore(zaptest.NewLogger(t), openTestDB(t))

	alert := newTestAlert("user-1", model.AlertSeverityHigh)
	require.NoError(t, store.Insert(ctx, alert))

	stored, err := store.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusActive, stored.Status)
	assert.Equal(t, "latency_ms", stored.MetricData["metric_type"])
	require.NotNil(t, stored.ThresholdValue)
	assert.Equal(t, 100.0, *stored.ThresholdValue)

	now := time.Now().UTC()
	by := "user-1"
	stored.Status = model.AlertStatusAcknowledged
	stored.AcknowledgedAt = &now
	stored.AcknowledgedBy = &by
	require.NoError(t, store.Transition(ctx, stored, model.AlertStatusActive))

	// a second writer still expecting "active" loses
	err = store.Transition(ctx, stored, model.AlertStatusActive)
	assert.ErrorIs(t, err, model.ErrConflict)

	missing := newTestAlert("user-1", model.AlertSeverityLow)
	err = store.Transition(ctx, missing, model.AlertStatusActive)
	assert.ErrorIs(t, err, model.ErrNotFound)

	stored, err = store.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusAcknowledged, stored.Status)
	require.NotNil(t, stored.AcknowledgedBy)
	assert.Equal(t, "user-1", *stored.AcknowledgedBy)
}

func TestSQLiteAlertStore_ListActive(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteAlertStore(zaptest.NewLogger(t), openTestDB(t))

	scope := "server-1"
	high := newTestAlert("user-1", model.AlertSeverityHigh)
	high.ScopeID = &scope
	low := newTestAlert("user-1", model.AlertSeverityLow)
	resolved := newTestAlert("user-1", model.AlertSeverityHigh)
	resolved.Status = model.AlertStatusResolved
	foreign := newTestAlert("user-2", model.AlertSeverityHigh)

	for _, a := range []*model.AlertInstance{high, low, resolved, foreign} {
		require.NoError(t, store.Insert(ctx, a))
	}

	alerts, err := store.ListActive(ctx, "user-1", model.AlertFilters{})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	severity := model.AlertSeverityHigh
	alerts, err = store.ListActive(ctx, "user-1", model.AlertFilters{Severity: &severity})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, high.ID, alerts[0].ID)

	alerts, err = store.ListActive(ctx, "user-1", model.AlertFilters{ScopeID: &scope})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, high.ID, alerts[0].ID)
}

func TestSQLiteNotificationStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteNotificationStore(zaptest.NewLogger(t), openTestDB(t))

	now := time.Now().UTC()
	records := []*model.NotificationRecord{
		{ID: uuid.New().String(), AlertInstanceID: "alert-1", Channel: model.ChannelEmail, Recipient: "ops@example.com", Status: model.NotificationStatusSent, Timestamp: now},
		{ID: uuid.New().String(), AlertInstanceID: "alert-1", Channel: model.ChannelWebhook, Recipient: "https://hooks.example.com", Status: model.NotificationStatusFailed, Error: "HTTP 500", Timestamp: now},
		{ID: uuid.New().String(), AlertInstanceID: "alert-2", Channel: model.ChannelSMS, Recipient: "+15550100", Status: model.NotificationStatusSent, Timestamp: now},
	}
	for _, r := range records {
		require.NoError(t, store.Record(ctx, r))
	}

	stored, err := store.ListByAlert(ctx, "alert-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.ChannelEmail, stored[0].Channel)
	assert.Equal(t, model.NotificationStatusFailed, stored[1].Status)
	assert.Equal(t, "HTTP 500", stored[1].Error)
}
