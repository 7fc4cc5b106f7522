package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/testutil"
)

func TestNATSSource_PublishSubscribe(t *testing.T) {
	_, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	source, err := NewNATSSource(js, logger)
	require.NoError(t, err)

	received := make(chan model.MetricSample, 4)
	unsubscribe, err := source.Subscribe(func(s model.MetricSample) {
		received <- s
	})
	require.NoError(t, err)
	defer unsubscribe()

	publisher := NewPublisher(js, logger)
	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, publisher.Publish(context.Background(), model.MetricSample{
		ScopeID:    "server-1",
		MetricType: "latency_ms",
		Value:      150,
		Timestamp:  at,
	}))

	select {
	case s := <-received:
		assert.Equal(t, "server-1", s.ScopeID)
		assert.Equal(t, "latency_ms", s.MetricType)
		assert.Equal(t, 150.0, s.Value)
		assert.True(t, s.Timestamp.Equal(at))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for metric sample")
	}
}

func TestPublisher_RequiresMetricType(t *testing.T) {
	_, js := testutil.StartJetStream(t)
	publisher := NewPublisher(js, zaptest.NewLogger(t))

	err := publisher.Publish(context.Background(), model.MetricSample{Value: 1})
	require.Error(t, err)
}

type recordingPublisher struct {
	mu      sync.Mutex
	samples []model.MetricSample
}

func (p *recordingPublisher) Publish(ctx context.Context, sample model.MetricSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, sample)
	return nil
}

func TestHostCollector_Collect(t *testing.T) {
	pub := &recordingPublisher{}
	collector := NewHostCollector(pub, time.Second, "test-host", zaptest.NewLogger(t))

	collector.Collect(context.Background())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.NotEmpty(t, pub.samples)
	for _, s := range pub.samples {
		assert.Equal(t, "test-host", s.ScopeID)
		assert.Contains(t, []string{MetricHostCPU, MetricHostMemory}, s.MetricType)
		assert.GreaterOrEqual(t, s.Value, 0.0)
	}
}

func TestHostCollector_StartStop(t *testing.T) {
	pub := &recordingPublisher{}
	collector := NewHostCollector(pub, 50*time.Millisecond, "test-host", zaptest.NewLogger(t))

	collector.Start(context.Background())
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.samples) > 0
	}, 5*time.Second, 20*time.Millisecond)

	collector.Stop()
	collector.Stop()
}
