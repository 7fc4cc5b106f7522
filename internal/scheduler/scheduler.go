package scheduler

import (
	"context"
	"time"

	"github.com/t77yq/alertd/internal/model"
)

// Target is driven by the scheduler. Sweep and RefreshRules run on the
// timer path; HandleSample runs on the push path for every ingress sample.
type Target interface {
	// Sweep evaluates every active rule against its aggregated window
	Sweep(ctx context.Context)

	// RefreshRules reloads the active rule cache from storage
	RefreshRules(ctx context.Context) error

	// HandleSample evaluates the rules matching one pushed sample
	HandleSample(ctx context.Context, sample model.MetricSample)
}

// Config holds the timer periods of the scheduler
type Config struct {
	SweepInterval   time.Duration
	RefreshInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	return c
}
