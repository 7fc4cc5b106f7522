package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/storage"
)

// DefaultTimeout bounds one channel delivery
const DefaultTimeout = 10 * time.Second

// ErrNoSender is recorded when a rule names a channel with no registered sender
var ErrNoSender = errors.New("no sender registered for channel")

// Dispatcher fans an alert out to the channels of its rule. Channels are
// independent: each runs concurrently under its own timeout and a failure
// of one never affects another. Every attempt produces one record.
type Dispatcher struct {
	logger  *zap.Logger
	store   storage.NotificationStore
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	senders map[model.Channel]Sender
}

// NewDispatcher creates a dispatcher recording attempts in store
func NewDispatcher(logger *zap.Logger, store storage.NotificationStore, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		logger:  logger.Named("dispatcher"),
		store:   store,
		timeout: timeout,
		now:     time.Now,
		senders: make(map[model.Channel]Sender),
	}
}

// Register adds or replaces the sender of its channel
func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Channel()] = s
	d.logger.Info("Registered notification sender", zap.String("channel", string(s.Channel())))
}

// Dispatch sends alert to every channel of rule and waits for all attempts.
// The returned records are in the order of rule.NotificationChannels.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *model.AlertRule, alert *model.AlertInstance) []model.NotificationRecord {
	records := make([]model.NotificationRecord, len(rule.NotificationChannels))

	var wg sync.WaitGroup
	for i, channel := range rule.NotificationChannels {
		wg.Add(1)
		go func(i int, channel model.Channel) {
			defer wg.Done()
			records[i] = d.deliver(ctx, rule, alert, channel)
		}(i, channel)
	}
	wg.Wait()

	return records
}

func (d *Dispatcher) deliver(ctx context.Context, rule *model.AlertRule, alert *model.AlertInstance, channel model.Channel) model.NotificationRecord {
	msg := NewMessage(rule, alert, channel)
	start := d.now()

	err := d.send(ctx, channel, msg)

	record := model.NotificationRecord{
		ID:              uuid.New().String(),
		AlertInstanceID: alert.ID,
		Channel:         channel,
		Recipient:       msg.Recipient(),
		Status:          model.NotificationStatusSent,
		Timestamp:       d.now(),
	}
	if err != nil {
		record.Status = model.NotificationStatusFailed
		record.Error = err.Error()
		d.logger.Warn("Notification failed",
			zap.String("alert_id", alert.ID),
			zap.String("channel", string(channel)),
			zap.Error(err))
	} else {
		d.logger.Info("Notification sent",
			zap.String("alert_id", alert.ID),
			zap.String("channel", string(channel)))
	}

	metrics.NotificationsTotal.WithLabelValues(string(channel), string(record.Status)).Inc()
	metrics.NotificationDuration.WithLabelValues(string(channel)).Observe(d.now().Sub(start).Seconds())

	// recording outlives the delivery timeout
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.store.Record(recordCtx, &record); err != nil {
		d.logger.Error("Failed to store notification record",
			zap.String("alert_id", alert.ID),
			zap.String("channel", string(channel)),
			zap.Error(err))
	}
	return record
}

// send runs the sender under the dispatch timeout. A sender that ignores its
// context is abandoned when the timeout expires.
func (d *Dispatcher) send(ctx context.Context, channel model.Channel, msg *Message) error {
	d.mu.RLock()
	sender, ok := d.senders[channel]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, channel)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsRecovered.WithLabelValues("notify_" + string(channel)).Inc()
				done <- fmt.Errorf("sender panic: %v", r)
			}
		}()
		done <- sender.Send(ctx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery timed out: %w", ctx.Err())
	}
}
