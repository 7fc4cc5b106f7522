package ingress

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// Host metric types produced by HostCollector
const (
	MetricHostCPU    = "host_cpu_percent"
	MetricHostMemory = "host_memory_percent"
)

// SamplePublisher is the sink HostCollector writes to
type SamplePublisher interface {
	Publish(ctx context.Context, sample model.MetricSample) error
}

// HostCollector periodically samples local CPU and memory usage and
// publishes them as metric samples scoped to the host.
type HostCollector struct {
	logger    *zap.Logger
	publisher SamplePublisher
	interval  time.Duration
	scope     string

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewHostCollector creates a collector; an empty scope defaults to the hostname
func NewHostCollector(publisher SamplePublisher, interval time.Duration, scope string, logger *zap.Logger) *HostCollector {
	if scope == "" {
		if host, err := os.Hostname(); err == nil {
			scope = host
		}
	}
	return &HostCollector{
		logger:    logger.Named("host-collector"),
		publisher: publisher,
		interval:  interval,
		scope:     scope,
	}
}

// Start starts the collection loop
func (c *HostCollector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}

	c.logger.Info("Starting host collector",
		zap.String("scope_id", c.scope),
		zap.Duration("interval", c.interval))

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.collectLoop(ctx, c.stop, c.done)
}

// Stop stops the collection loop
func (c *HostCollector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}

	c.logger.Info("Stopping host collector")
	close(c.stop)
	<-c.done
	c.stop = nil
}

func (c *HostCollector) collectLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes one CPU and memory reading and publishes them
func (c *HostCollector) Collect(ctx context.Context) {
	now := time.Now()

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(cpuPercent) == 0 {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else {
		c.publish(ctx, MetricHostCPU, cpuPercent[0], now)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		c.publish(ctx, MetricHostMemory, memInfo.UsedPercent, now)
	}
}

func (c *HostCollector) publish(ctx context.Context, metricType string, value float64, at time.Time) {
	sample := model.MetricSample{
		ScopeID:    c.scope,
		MetricType: metricType,
		Value:      value,
		Timestamp:  at,
	}
	if err := c.publisher.Publish(ctx, sample); err != nil {
		c.logger.Error("Failed to publish host metric",
			zap.String("metric_type", metricType),
			zap.Error(err))
		return
	}
	c.logger.Debug("Host metric collected",
		zap.String("metric_type", metricType),
		zap.Float64("value", value))
}
