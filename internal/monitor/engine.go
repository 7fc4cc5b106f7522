package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/bus"
	"github.com/t77yq/alertd/internal/ingress"
	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/scheduler"
	"github.com/t77yq/alertd/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine
	ErrAlreadyRunning = scheduler.ErrAlreadyRunning

	// ErrNotRunning is returned by Stop on a stopped engine
	ErrNotRunning = scheduler.ErrNotRunning
)

// Notifier delivers a triggered alert to the channels of its rule
type Notifier interface {
	Dispatch(ctx context.Context, rule *model.AlertRule, alert *model.AlertInstance) []model.NotificationRecord
}

// Deps are the collaborators of the engine
type Deps struct {
	Rules         storage.RuleStore
	Alerts        storage.AlertStore
	Notifications storage.NotificationStore
	Notifier      Notifier
	Bus           *bus.Bus
	Source        ingress.Source
}

// Options tune the engine
type Options struct {
	SweepInterval     time.Duration
	RefreshInterval   time.Duration
	AnomalyWindowSize int
	AnomalyMaxWindows int
	SeriesCapacity    int
	SeriesMaxAge      time.Duration
	Now               func() time.Time
}

// Engine evaluates alert rules against the live metric stream and manages
// the lifecycle of the alerts they raise.
type Engine struct {
	logger        *zap.Logger
	rules         storage.RuleStore
	alerts        storage.AlertStore
	notifications storage.NotificationStore
	notifier      Notifier
	bus           *bus.Bus

	cache     *RuleCache
	windows   *WindowStore
	cooldown  *CooldownTracker
	series    *SeriesBuffer
	evaluator *Evaluator
	scheduler *scheduler.Scheduler
	now       func() time.Time

	// rulesMu orders rule writes against cache refreshes so a refresh
	// never installs a snapshot older than a completed write.
	rulesMu  sync.Mutex
	inflight sync.WaitGroup
}

// NewEngine creates an engine. It does nothing until Start is called,
// except for the operations invoked on it directly.
func NewEngine(logger *zap.Logger, deps Deps, opts Options) *Engine {
	logger = logger.Named("engine")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	b := deps.Bus
	if b == nil {
		b = bus.New(logger, 0)
	}

	windows := NewWindowStore(opts.AnomalyWindowSize, opts.AnomalyMaxWindows)
	cooldown := NewCooldownTracker()
	series := NewSeriesBuffer(opts.SeriesCapacity, opts.SeriesMaxAge)

	e := &Engine{
		logger:        logger,
		rules:         deps.Rules,
		alerts:        deps.Alerts,
		notifications: deps.Notifications,
		notifier:      deps.Notifier,
		bus:           b,
		cache:         NewRuleCache(),
		windows:       windows,
		cooldown:      cooldown,
		series:        series,
		evaluator:     NewEvaluator(windows, cooldown, series, now),
		now:           now,
	}
	e.scheduler = scheduler.New(e, deps.Source, scheduler.Config{
		SweepInterval:   opts.SweepInterval,
		RefreshInterval: opts.RefreshInterval,
	}, logger)
	return e
}

// Start loads the rule cache and starts the sweep and push paths
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx)
}

// Stop halts both evaluation paths. Notifications already in flight are not
// awaited; use Wait for that.
func (e *Engine) Stop() error {
	return e.scheduler.Stop()
}

// Wait blocks until every in-flight notification dispatch has finished
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Subscribe returns a subscription to lifecycle events
func (e *Engine) Subscribe(types ...model.EventType) *bus.Subscription {
	return e.bus.Subscribe(types...)
}

// CreateRule validates, stores and caches a new rule
func (e *Engine) CreateRule(ctx context.Context, req *model.RuleRequest) (*model.AlertRule, error) {
	rule, err := newRuleFromRequest(req, e.now())
	if err != nil {
		return nil, err
	}

	e.rulesMu.Lock()
	if err := e.rules.Create(ctx, rule); err != nil {
		e.rulesMu.Unlock()
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	e.cache.Put(rule)
	e.rulesMu.Unlock()

	e.logger.Info("Created rule",
		zap.String("rule_id", rule.ID),
		zap.String("owner_id", rule.OwnerID),
		zap.String("type", string(rule.RuleType)),
		zap.String("metric", rule.MetricType))
	return rule.Clone(), nil
}

// UpdateRule applies a partial update to rule id
func (e *Engine) UpdateRule(ctx context.Context, id string, req *model.RuleRequest) (*model.AlertRule, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	existing, err := e.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req != nil && req.OwnerID != "" && req.OwnerID != existing.OwnerID {
		return nil, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}

	rule, err := mergeRuleUpdate(existing, req, e.now())
	if err != nil {
		return nil, err
	}
	if last, count, ok := e.cooldown.Last(id); ok && (rule.LastTriggeredAt == nil || last.After(*rule.LastTriggeredAt)) {
		rule.LastTriggeredAt = &last
		if count > rule.TriggeredCount {
			rule.TriggeredCount = count
		}
	}

	if err := e.rules.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	e.cache.Put(rule)

	if !rule.IsActive {
		e.forgetRuleState(id)
	} else {
		if rule.LastTriggeredAt != nil {
			e.cooldown.Seed(id, *rule.LastTriggeredAt, rule.TriggeredCount)
		}
		if rule.RuleType != existing.RuleType || rule.MetricType != existing.MetricType || rule.Scope() != existing.Scope() {
			e.windows.ForgetRule(id)
		}
	}

	e.logger.Info("Updated rule", zap.String("rule_id", id), zap.Bool("active", rule.IsActive))
	return rule.Clone(), nil
}

// DeleteRule removes rule id and all in-memory state derived from it
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	if err := e.rules.Delete(ctx, id); err != nil {
		return err
	}
	e.cache.Remove(id)
	e.forgetRuleState(id)

	e.logger.Info("Deleted rule", zap.String("rule_id", id))
	return nil
}

// GetRule returns rule id from storage
func (e *Engine) GetRule(ctx context.Context, id string) (*model.AlertRule, error) {
	return e.rules.Get(ctx, id)
}

// ListRules returns the stored rules matching filter
func (e *Engine) ListRules(ctx context.Context, filter model.RuleFilter) ([]*model.AlertRule, error) {
	return e.rules.List(ctx, filter)
}

// EvaluateMetric evaluates every active rule matching the metric and scope of
// ec and returns one result per rule. The value is also recorded in the
// metric history used by sweeps and trend rules.
func (e *Engine) EvaluateMetric(ctx context.Context, ec model.EvaluationContext) ([]model.EvaluationResult, error) {
	if ec.MetricType == "" {
		return nil, &model.ValidationError{Field: "metric_type", Reason: "is required"}
	}
	if math.IsNaN(ec.Value) || math.IsInf(ec.Value, 0) {
		return nil, &model.ValidationError{Field: "value", Reason: "must be a finite number"}
	}
	if ec.Timestamp.IsZero() {
		ec.Timestamp = e.now()
	}
	if ec.Source == "" {
		ec.Source = model.TriggerManual
	}

	e.series.Record(model.MetricSample{
		ScopeID:    ec.ScopeID,
		MetricType: ec.MetricType,
		Value:      ec.Value,
		Timestamp:  ec.Timestamp,
	})

	rules := e.cache.Matching(ec.MetricType, ec.ScopeID)
	results := make([]model.EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(ctx, rule, ec))
	}
	return results, nil
}

// HandleSample is the push path entry point
func (e *Engine) HandleSample(ctx context.Context, sample model.MetricSample) {
	results, err := e.EvaluateMetric(ctx, model.EvaluationContext{
		ScopeID:    sample.ScopeID,
		MetricType: sample.MetricType,
		Value:      sample.Value,
		Timestamp:  sample.Timestamp,
		Source:     model.TriggerPush,
	})
	if err != nil {
		metrics.PushSamplesTotal.WithLabelValues("rejected").Inc()
		e.logger.Warn("Rejected pushed sample",
			zap.String("metric", sample.MetricType),
			zap.Error(err))
		return
	}
	metrics.PushSamplesTotal.WithLabelValues("accepted").Inc()

	for _, r := range results {
		if r.Triggered {
			e.logger.Info("Push evaluation triggered alert",
				zap.String("rule_id", r.RuleID),
				zap.String("alert_id", r.AlertID),
				zap.String("reason", r.Reason))
		}
	}
}

// Sweep evaluates every active rule against the mean of its aggregation
// window. Rules without samples in their window are skipped.
func (e *Engine) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := e.now()
	evaluated, triggered := 0, 0
	for _, rule := range e.cache.Active() {
		if ctx.Err() != nil {
			return
		}

		window := time.Duration(rule.AggregationWindowMinutes) * time.Minute
		points, err := e.series.Samples(ctx, rule.MetricType, rule.Scope(), now.Add(-window), now)
		if err != nil {
			e.logger.Error("Failed to aggregate metric",
				zap.String("rule_id", rule.ID),
				zap.String("metric", rule.MetricType),
				zap.Error(err))
			continue
		}
		if len(points) == 0 {
			continue
		}

		sum := 0.0
		for _, p := range points {
			sum += p.Value
		}
		ec := model.EvaluationContext{
			ScopeID:    rule.Scope(),
			MetricType: rule.MetricType,
			Value:      sum / float64(len(points)),
			Timestamp:  now,
			Source:     model.TriggerSweep,
			Metadata: map[string]interface{}{
				"aggregation":    "mean",
				"sample_count":   len(points),
				"window_minutes": rule.AggregationWindowMinutes,
			},
		}

		result := e.evaluateRule(ctx, rule, ec)
		evaluated++
		if result.Triggered {
			triggered++
		}
	}

	e.logger.Debug("Sweep finished",
		zap.Int("evaluated", evaluated),
		zap.Int("triggered", triggered),
		zap.Duration("took", time.Since(start)))
}

// RefreshRules reloads the active rules from storage. On failure the cached
// rules stay in place.
func (e *Engine) RefreshRules(ctx context.Context) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	rules, err := e.rules.List(ctx, model.RuleFilter{ActiveOnly: true})
	if err != nil {
		metrics.CacheRefreshFailures.Inc()
		return fmt.Errorf("failed to load active rules: %w", err)
	}

	for _, r := range rules {
		if r.LastTriggeredAt != nil {
			e.cooldown.Seed(r.ID, *r.LastTriggeredAt, r.TriggeredCount)
		}
	}
	e.cache.Replace(rules)
	e.windows.Retain(e.cache.Contains)

	e.logger.Debug("Refreshed rule cache", zap.Int("rules", e.cache.Len()))
	return nil
}

// evaluateRule evaluates one rule and, when it fires and wins the cooldown
// claim, raises the alert. A panic or error is contained to this rule.
func (e *Engine) evaluateRule(ctx context.Context, rule *model.AlertRule, ec model.EvaluationContext) (result model.EvaluationResult) {
	start := time.Now()
	outcome := "not_triggered"
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("evaluator").Inc()
			e.logger.Error("Rule evaluation panicked",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r))
			result = model.EvaluationResult{
				RuleID:      rule.ID,
				MetricValue: ec.Value,
				EvaluatedAt: e.now(),
				Reason:      fmt.Sprintf("evaluation error: %v", r),
			}
			outcome = "error"
		}
		metrics.EvaluationsTotal.WithLabelValues(string(rule.RuleType), string(ec.Source), outcome).Inc()
		metrics.EvaluationDuration.WithLabelValues(string(rule.RuleType)).Observe(time.Since(start).Seconds())
	}()

	result, err := e.evaluator.Evaluate(ctx, rule, ec)
	if err != nil {
		outcome = "error"
		e.logger.Error("Rule evaluation failed", zap.String("rule_id", rule.ID), zap.Error(err))
		result.Triggered = false
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}
	if !result.Triggered {
		if _, ok := result.Details["cooldown_remaining_seconds"]; ok {
			outcome = "cooldown"
		}
		return result
	}

	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	if !e.cooldown.Claim(rule.ID, cooldown, result.EvaluatedAt) {
		metrics.ClaimsLostTotal.Inc()
		outcome = "cooldown"
		result.Triggered = false
		result.Reason = "cooldown: rule triggered by a concurrent evaluation"
		return result
	}

	outcome = "triggered"
	alert := e.trigger(ctx, rule, &result, ec)
	if alert != nil {
		result.AlertID = alert.ID
	}
	return result
}

// trigger persists the alert of a won claim, then notifies and publishes
// asynchronously.
func (e *Engine) trigger(ctx context.Context, rule *model.AlertRule, result *model.EvaluationResult, ec model.EvaluationContext) *model.AlertInstance {
	at := result.EvaluatedAt

	if err := e.rules.RecordTrigger(ctx, rule.ID, at); err != nil && !errors.Is(err, model.ErrNotFound) {
		e.logger.Error("Failed to record rule trigger", zap.String("rule_id", rule.ID), zap.Error(err))
	}
	e.cache.Update(rule.ID, func(r *model.AlertRule) {
		r.TriggeredCount++
		r.LastTriggeredAt = &at
	})

	alert := NewAlertInstance(rule, *result, ec, at)
	if err := e.alerts.Insert(ctx, alert); err != nil {
		e.logger.Error("Failed to store alert",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		return nil
	}
	metrics.TriggersTotal.WithLabelValues(string(alert.Severity)).Inc()

	e.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("source", string(ec.Source)),
		zap.String("reason", result.Reason))

	ruleCopy := rule.Clone()
	resultCopy := *result
	resultCopy.AlertID = alert.ID
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsRecovered.WithLabelValues("dispatch").Inc()
				e.logger.Error("Notification dispatch panicked",
					zap.String("alert_id", alert.ID),
					zap.Any("panic", r))
			}
		}()

		if e.notifier != nil && len(ruleCopy.NotificationChannels) > 0 {
			e.notifier.Dispatch(context.Background(), ruleCopy, alert)
		}
		e.bus.Publish(model.Event{
			Type:       model.EventAlertTriggered,
			Instance:   alert,
			Rule:       ruleCopy,
			Context:    &ec,
			Evaluation: &resultCopy,
			OccurredAt: e.now(),
		})
	}()
	return alert
}

func (e *Engine) forgetRuleState(id string) {
	e.windows.ForgetRule(id)
	e.cooldown.Forget(id)
}
