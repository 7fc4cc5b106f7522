package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

const (
	alertStreamName    = "ALERTS"
	alertSubjectPrefix = "alert."
)

// JetStreamBridge republishes bus events on JetStream subjects so consumers
// outside the process can observe the alert lifecycle.
type JetStreamBridge struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	sub    *Subscription
	done   chan struct{}
}

// NewJetStreamBridge creates the ALERTS stream if needed and returns an idle bridge
func NewJetStreamBridge(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamBridge, error) {
	stream, err := js.StreamInfo(alertStreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{alertSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &JetStreamBridge{
		logger: logger.Named("jetstream-bridge"),
		js:     js,
		done:   make(chan struct{}),
	}, nil
}

// Subject returns the JetStream subject an event type is published on
func Subject(t model.EventType) string {
	return alertSubjectPrefix + string(t)
}

// Start subscribes the bridge to b and forwards events until Stop
func (br *JetStreamBridge) Start(b *Bus) {
	br.sub = b.Subscribe()
	go br.forward()
}

// Stop detaches the bridge and waits for the forwarder to exit
func (br *JetStreamBridge) Stop() {
	if br.sub == nil {
		return
	}
	br.sub.Close()
	<-br.done
}

func (br *JetStreamBridge) forward() {
	defer close(br.done)

	for evt := range br.sub.C {
		data, err := json.Marshal(evt)
		if err != nil {
			br.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}

		if _, err := br.js.Publish(Subject(evt.Type), data); err != nil {
			br.logger.Error("Failed to publish event",
				zap.String("type", string(evt.Type)),
				zap.Error(err))
			continue
		}

		alertID := ""
		if evt.Instance != nil {
			alertID = evt.Instance.ID
		}
		br.logger.Debug("Event bridged",
			zap.String("type", string(evt.Type)),
			zap.String("alert_id", alertID))
	}
}
