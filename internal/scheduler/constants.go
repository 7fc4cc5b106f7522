package scheduler

import "time"

const (
	DefaultSweepInterval   = 30 * time.Second
	DefaultRefreshInterval = 5 * time.Minute
)
