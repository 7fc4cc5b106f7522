package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/ingress"
	"github.com/t77yq/alertd/internal/model"
)

// Scheduler runs the two evaluation paths of the engine: a cron-driven sweep
// and cache refresh, and a subscription to the metric ingress. The paths run
// on independent goroutines so a slow sweep never delays pushed samples.
type Scheduler struct {
	logger *zap.Logger
	target Target
	source ingress.Source
	cfg    Config

	mu          sync.Mutex
	running     bool
	cron        *cron.Cron
	cancel      context.CancelFunc
	unsubscribe func() error
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// New creates a scheduler. source may be nil, in which case only the timer
// path runs.
func New(target Target, source ingress.Source, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		target: target,
		source: source,
		cfg:    cfg.withDefaults(),
	}
}

// Start loads the rule cache, arms the timers and subscribes to the ingress.
// A failed initial load is logged and the scheduler starts anyway; the next
// refresh tick retries it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := s.target.RefreshRules(runCtx); err != nil {
		s.logger.Warn("Initial rule load failed, starting with an empty cache", zap.Error(err))
	}

	logger := &cronLogger{logger: s.logger.Named("cron")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(s.cfg.SweepInterval), cron.FuncJob(func() {
		s.target.Sweep(runCtx)
	}))
	c.Schedule(cron.Every(s.cfg.RefreshInterval), cron.FuncJob(func() {
		if err := s.target.RefreshRules(runCtx); err != nil {
			s.logger.Warn("Rule refresh failed, keeping cached rules", zap.Error(err))
		}
	}))

	var unsubscribe func() error
	if s.source != nil {
		var err error
		unsubscribe, err = s.source.Subscribe(func(sample model.MetricSample) {
			s.target.HandleSample(runCtx, sample)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to metric ingress: %w", err)
		}
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.unsubscribe = unsubscribe
	s.running = true

	s.logger.Info("Scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("refresh_interval", s.cfg.RefreshInterval),
		zap.Bool("push", s.source != nil))
	return nil
}

// Stop cancels the timers and the ingress subscription. In-flight work is
// not awaited.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	s.cron.Stop()
	if s.unsubscribe != nil {
		if err := s.unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe from metric ingress", zap.Error(err))
		}
	}
	s.cancel()

	s.cron = nil
	s.cancel = nil
	s.unsubscribe = nil
	s.running = false

	s.logger.Info("Scheduler stopped")
	return nil
}

// Running reports whether the scheduler is started
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
