package monitor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// GetActiveAlerts returns the active alerts of owner, newest first
func (e *Engine) GetActiveAlerts(ctx context.Context, owner string, filters model.AlertFilters) ([]*model.AlertInstance, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, &model.ValidationError{Field: "owner", Reason: "is required"}
	}
	if filters.Severity != nil && !filters.Severity.Valid() {
		return nil, &model.ValidationError{Field: "severity", Reason: "unknown severity " + string(*filters.Severity)}
	}
	if filters.Limit < 0 {
		return nil, &model.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	return e.alerts.ListActive(ctx, owner, filters)
}

// GetAlert returns alert id if it belongs to owner
func (e *Engine) GetAlert(ctx context.Context, id, owner string) (*model.AlertInstance, error) {
	alert, err := e.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.OwnerID != owner {
		return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	return alert, nil
}

// AcknowledgeAlert moves an active alert to acknowledged
func (e *Engine) AcknowledgeAlert(ctx context.Context, id, owner string, notes *string) (*model.AlertInstance, error) {
	alert, err := e.GetAlert(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if alert.Status != model.AlertStatusActive {
		return nil, fmt.Errorf("alert %s is %s, only active alerts can be acknowledged: %w", id, alert.Status, model.ErrConflict)
	}

	now := e.now()
	alert.Status = model.AlertStatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = &owner
	alert.AckNotes = notes

	if err := e.alerts.Transition(ctx, alert, model.AlertStatusActive); err != nil {
		return nil, err
	}

	e.logger.Info("Alert acknowledged", zap.String("alert_id", id), zap.String("by", owner))
	e.publishTransition(model.EventAlertAcknowledged, alert)
	return alert, nil
}

// ResolveAlert moves an active or acknowledged alert to resolved. Resolving
// an already resolved alert is a conflict.
func (e *Engine) ResolveAlert(ctx context.Context, id, owner string, notes *string) (*model.AlertInstance, error) {
	alert, err := e.GetAlert(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if alert.Status == model.AlertStatusResolved {
		return nil, fmt.Errorf("alert %s is already resolved: %w", id, model.ErrConflict)
	}

	from := alert.Status
	now := e.now()
	alert.Status = model.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = &owner
	alert.ResolveNotes = notes

	if err := e.alerts.Transition(ctx, alert, from); err != nil {
		return nil, err
	}

	e.logger.Info("Alert resolved", zap.String("alert_id", id), zap.String("by", owner))
	e.publishTransition(model.EventAlertResolved, alert)
	return alert, nil
}

// ListNotifications returns the delivery records of alert id
func (e *Engine) ListNotifications(ctx context.Context, id, owner string) ([]*model.NotificationRecord, error) {
	if _, err := e.GetAlert(ctx, id, owner); err != nil {
		return nil, err
	}
	return e.notifications.ListByAlert(ctx, id)
}

func (e *Engine) publishTransition(t model.EventType, alert *model.AlertInstance) {
	evt := model.Event{
		Type:       t,
		Instance:   alert,
		OccurredAt: e.now(),
	}
	if rule, ok := e.cache.Get(alert.RuleID); ok {
		evt.Rule = rule.Clone()
	}
	e.bus.Publish(evt)
}
