package scheduler

import (
	"fmt"

	"github.com/t77yq/alertd/internal/model"
)

var (
	// ErrAlreadyRunning is returned by Start when the scheduler is running
	ErrAlreadyRunning = fmt.Errorf("scheduler already running: %w", model.ErrConflict)

	// ErrNotRunning is returned by Stop when the scheduler is stopped
	ErrNotRunning = fmt.Errorf("scheduler not running: %w", model.ErrConflict)
)
