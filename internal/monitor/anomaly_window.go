package monitor

import (
	"strings"

	"github.com/t77yq/alertd/internal/metrics"
)

// DefaultWindowSize is the number of values an anomaly window retains
const DefaultWindowSize = 100

const windowKeySep = "\x00"

// WindowStore keeps the recent values of every (rule, entity) pair watched by
// an anomaly rule.
type WindowStore struct {
	size  int
	arena *Arena[[]float64]
}

// NewWindowStore creates a store of windows holding size values each, with at
// most maxWindows windows overall (0 = unbounded).
func NewWindowStore(size, maxWindows int) *WindowStore {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &WindowStore{
		size: size,
		arena: NewArena(maxWindows, func() []float64 {
			return make([]float64, 0, size)
		}),
	}
}

// Observe appends value to the window of (ruleID, entity), evicting the
// oldest value when full, and returns a copy of the resulting window.
func (s *WindowStore) Observe(ruleID, entity string, value float64) []float64 {
	var snapshot []float64
	s.arena.With(windowKey(ruleID, entity), func(w *[]float64) {
		if len(*w) >= s.size {
			copy(*w, (*w)[1:])
			*w = (*w)[:s.size-1]
		}
		*w = append(*w, value)
		snapshot = append([]float64(nil), *w...)
	})
	metrics.AnomalyWindows.Set(float64(s.arena.Len()))
	return snapshot
}

// Values returns a copy of the window of (ruleID, entity)
func (s *WindowStore) Values(ruleID, entity string) []float64 {
	var snapshot []float64
	s.arena.Peek(windowKey(ruleID, entity), func(w *[]float64) {
		snapshot = append([]float64(nil), *w...)
	})
	return snapshot
}

// ForgetRule drops every window of ruleID
func (s *WindowStore) ForgetRule(ruleID string) {
	prefix := ruleID + windowKeySep
	s.arena.DeleteFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	metrics.AnomalyWindows.Set(float64(s.arena.Len()))
}

// Retain drops the windows of every rule for which keep returns false
func (s *WindowStore) Retain(keep func(ruleID string) bool) {
	s.arena.DeleteFunc(func(key string) bool {
		ruleID, _, _ := strings.Cut(key, windowKeySep)
		return !keep(ruleID)
	})
	metrics.AnomalyWindows.Set(float64(s.arena.Len()))
}

// Len returns the number of tracked windows
func (s *WindowStore) Len() int {
	return s.arena.Len()
}

func windowKey(ruleID, entity string) string {
	return ruleID + windowKeySep + entity
}
