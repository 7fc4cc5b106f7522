package monitor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/t77yq/alertd/internal/model"
)

// Evaluator decides whether a rule fires for one evaluation context. It is
// pure apart from the anomaly windows it appends to; recording a trigger is
// left to the caller through the cooldown tracker's Claim.
type Evaluator struct {
	windows  *WindowStore
	cooldown *CooldownTracker
	series   SeriesReader
	now      func() time.Time
}

// NewEvaluator creates an evaluator
func NewEvaluator(windows *WindowStore, cooldown *CooldownTracker, series SeriesReader, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		windows:  windows,
		cooldown: cooldown,
		series:   series,
		now:      now,
	}
}

// Evaluate runs the cooldown gate and then the strategy of the rule's type
func (e *Evaluator) Evaluate(ctx context.Context, rule *model.AlertRule, ec model.EvaluationContext) (model.EvaluationResult, error) {
	now := e.now()
	result := model.EvaluationResult{
		RuleID:      rule.ID,
		MetricValue: ec.Value,
		EvaluatedAt: now,
		Details:     map[string]interface{}{},
	}

	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	if remaining := e.cooldown.Remaining(rule.ID, cooldown, now); remaining > 0 {
		result.Reason = fmt.Sprintf("cooldown: %s remaining of %s", remaining.Round(time.Second), cooldown)
		result.Details["cooldown_remaining_seconds"] = remaining.Seconds()
		return result, nil
	}

	switch rule.RuleType {
	case model.RuleTypeThreshold:
		e.evaluateThreshold(rule, ec, &result)
	case model.RuleTypeAnomaly:
		e.evaluateAnomaly(rule, ec, &result)
	case model.RuleTypeTrend:
		if err := e.evaluateTrend(ctx, rule, ec, &result); err != nil {
			return result, err
		}
	default:
		return result, fmt.Errorf("rule %s has unknown type %q", rule.ID, rule.RuleType)
	}
	return result, nil
}

func (e *Evaluator) evaluateThreshold(rule *model.AlertRule, ec model.EvaluationContext, result *model.EvaluationResult) {
	op, ok := NormalizeOperator(rule.Conditions.Operator)
	if !ok || rule.Conditions.Value == nil {
		result.Reason = fmt.Sprintf("invalid threshold conditions (operator %q)", rule.Conditions.Operator)
		return
	}
	threshold := *rule.Conditions.Value
	result.ThresholdValue = &threshold
	result.Details["operator"] = string(op)

	result.Triggered = compare(ec.Value, op, threshold)
	if result.Triggered {
		result.Reason = fmt.Sprintf("%s value %s %s threshold %s",
			ec.MetricType, formatFloat(ec.Value), op, formatFloat(threshold))
	} else {
		result.Reason = fmt.Sprintf("%s value %s is not %s threshold %s",
			ec.MetricType, formatFloat(ec.Value), op, formatFloat(threshold))
	}
}

func compare(value float64, op model.Operator, threshold float64) bool {
	switch op {
	case model.OperatorGreaterThan:
		return value > threshold
	case model.OperatorGreaterOrEqual:
		return value >= threshold
	case model.OperatorLessThan:
		return value < threshold
	case model.OperatorLessOrEqual:
		return value <= threshold
	case model.OperatorEqual:
		return value == threshold
	case model.OperatorNotEqual:
		return value != threshold
	}
	return false
}

func (e *Evaluator) evaluateAnomaly(rule *model.AlertRule, ec model.EvaluationContext, result *model.EvaluationResult) {
	sensitivity := model.DefaultSensitivity
	if rule.Conditions.Sensitivity != nil {
		sensitivity = *rule.Conditions.Sensitivity
	}
	result.ThresholdValue = &sensitivity

	values := e.windows.Observe(rule.ID, ec.EntityKey(), ec.Value)
	result.Details["window_size"] = len(values)

	mean, stddev := stat.PopMeanStdDev(values, nil)
	if floats.Max(values) == floats.Min(values) || stddev == 0 || math.IsNaN(stddev) {
		result.Reason = "insufficient variance"
		return
	}

	z := math.Abs(ec.Value-mean) / stddev
	result.Details["mean"] = mean
	result.Details["stddev"] = stddev
	result.Details["z_score"] = z

	result.Triggered = z > sensitivity
	if result.Triggered {
		result.Reason = fmt.Sprintf("z-score %.2f exceeds sensitivity %.2f (mean %.2f, stddev %.2f)", z, sensitivity, mean, stddev)
	} else {
		result.Reason = fmt.Sprintf("z-score %.2f within sensitivity %.2f", z, sensitivity)
	}
}

func (e *Evaluator) evaluateTrend(ctx context.Context, rule *model.AlertRule, ec model.EvaluationContext, result *model.EvaluationResult) error {
	window := model.DefaultTrendWindowMinutes
	if rule.Conditions.WindowMinutes != nil {
		window = *rule.Conditions.WindowMinutes
	}
	changeThreshold := model.DefaultChangeThreshold
	if rule.Conditions.ChangeThreshold != nil {
		changeThreshold = *rule.Conditions.ChangeThreshold
	}
	result.ThresholdValue = &changeThreshold

	to := ec.Timestamp
	if to.IsZero() {
		to = result.EvaluatedAt
	}
	from := to.Add(-time.Duration(window) * time.Minute)

	points, err := e.series.Samples(ctx, rule.MetricType, ec.ScopeID, from, to)
	if err != nil {
		return fmt.Errorf("failed to read %s samples: %w", rule.MetricType, err)
	}
	result.Details["sample_count"] = len(points)
	result.Details["window_minutes"] = window

	if len(points) < 2 {
		result.Reason = "insufficient data"
		return nil
	}

	first, last := points[0], points[len(points)-1]
	change := 0.0
	if first.Value != 0 {
		change = (last.Value - first.Value) / first.Value
	}
	result.Details["first_value"] = first.Value
	result.Details["last_value"] = last.Value
	result.Details["relative_change"] = change
	if slope, ok := trendSlope(points); ok {
		result.Details["slope_per_minute"] = slope
	}

	result.Triggered = math.Abs(change) > changeThreshold
	if result.Triggered {
		result.Reason = fmt.Sprintf("relative change %.1f%% over %dm exceeds %.1f%%", change*100, window, changeThreshold*100)
	} else {
		result.Reason = fmt.Sprintf("relative change %.1f%% over %dm within %.1f%%", change*100, window, changeThreshold*100)
	}
	return nil
}

// trendSlope fits a least squares line through the points, in value per minute
func trendSlope(points []Point) (float64, bool) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.At.Sub(points[0].At).Minutes()
		ys[i] = p.Value
	}
	if floats.Max(xs) == floats.Min(xs) {
		return 0, false
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, false
	}
	return beta, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
