package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

const (
	metricStreamName    = "METRICS"
	metricSubjectPrefix = "metric.update."
	streamMaxAge        = time.Hour
)

// Source delivers metric samples to a handler until the returned
// unsubscribe function is called.
type Source interface {
	Subscribe(handler func(model.MetricSample)) (func() error, error)
}

// SubjectFor returns the subject samples of a metric type are published on
func SubjectFor(metricType string) string {
	return metricSubjectPrefix + metricType
}

// EnsureStream creates the METRICS stream if it does not exist
func EnsureStream(js nats.JetStreamContext, logger *zap.Logger) error {
	_, err := js.StreamInfo(metricStreamName)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     metricStreamName,
		Subjects: []string{metricSubjectPrefix + ">"},
		Storage:  nats.MemoryStorage,
		MaxAge:   streamMaxAge,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	logger.Info("Created metric stream", zap.String("name", metricStreamName))
	return nil
}

// NATSSource subscribes to metric updates on JetStream
type NATSSource struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSSource creates a source reading from the METRICS stream
func NewNATSSource(js nats.JetStreamContext, logger *zap.Logger) (*NATSSource, error) {
	if err := EnsureStream(js, logger); err != nil {
		return nil, err
	}
	return &NATSSource{
		js:     js,
		logger: logger.Named("nats-source"),
	}, nil
}

// Subscribe implements Source. Only samples published after the call are
// delivered; a restarted engine does not replay old metric values.
func (s *NATSSource) Subscribe(handler func(model.MetricSample)) (func() error, error) {
	sub, err := s.js.Subscribe(metricSubjectPrefix+">", func(msg *nats.Msg) {
		var sample model.MetricSample
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			s.logger.Error("Failed to unmarshal metric sample",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			msg.Ack()
			return
		}

		if sample.MetricType == "" {
			sample.MetricType = strings.TrimPrefix(msg.Subject, metricSubjectPrefix)
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = time.Now()
		}

		handler(sample)
		msg.Ack()
	}, nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to metric updates: %w", err)
	}

	return sub.Unsubscribe, nil
}

// Publisher publishes metric samples on the ingress channel
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewPublisher creates a metric publisher
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	return &Publisher{
		js:     js,
		logger: logger.Named("metric-publisher"),
	}
}

// Publish sends a sample to the subject of its metric type
func (p *Publisher) Publish(ctx context.Context, sample model.MetricSample) error {
	if sample.MetricType == "" {
		return fmt.Errorf("metric type is required")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	if _, err := p.js.Publish(SubjectFor(sample.MetricType), data, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish sample",
			zap.String("metric_type", sample.MetricType),
			zap.Error(err))
		return fmt.Errorf("failed to publish sample: %w", err)
	}
	return nil
}
