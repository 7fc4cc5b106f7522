package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_evaluations_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule_type", "source", "outcome"}, // outcome: triggered, not_triggered, cooldown, error
	)

	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertd_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a rule",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"rule_type"},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_triggers_total",
			Help: "Total number of alert instances created",
		},
		[]string{"severity"},
	)

	ClaimsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_cooldown_claims_lost_total",
			Help: "Triggered evaluations that lost the cooldown claim to a concurrent evaluation",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertd_sweep_duration_seconds",
			Help:    "Time taken by a full sweep over cached rules",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
	)

	PushSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_push_samples_total",
			Help: "Metric samples received on the push path",
		},
		[]string{"status"}, // status: accepted, rejected
	)

	// Rule cache metrics
	CachedRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_cached_rules",
			Help: "Number of rules in the rule cache",
		},
	)

	CacheRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_cache_refresh_failures_total",
			Help: "Failed rule cache refresh cycles",
		},
	)

	AnomalyWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_anomaly_windows",
			Help: "Number of tracked anomaly windows",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_notifications_total",
			Help: "Notification attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertd_notification_duration_seconds",
			Help:    "Time taken by a single channel send",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_events_published_total",
			Help: "Lifecycle events published on the internal bus",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
