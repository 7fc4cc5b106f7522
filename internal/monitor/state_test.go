package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/alertd/internal/model"
)

func TestArena_EvictsLeastRecentlyUsed(t *testing.T) {
	a := NewArena(2, func() int { return 0 })

	a.With("a", func(v *int) { *v = 1 })
	a.With("b", func(v *int) { *v = 2 })
	a.With("a", func(v *int) {}) // touch a
	a.With("c", func(v *int) { *v = 3 })

	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Peek("a", func(v *int) { assert.Equal(t, 1, *v) }))
	assert.False(t, a.Peek("b", func(v *int) {}))
	assert.True(t, a.Peek("c", func(v *int) {}))

	removed := a.DeleteFunc(func(key string) bool { return key == "a" })
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, a.Len())
}

func TestArena_PerKeyAccessIsSerialized(t *testing.T) {
	a := NewArena(0, func() int { return 0 })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.With("counter", func(v *int) { *v++ })
			}
		}()
	}
	wg.Wait()

	a.Peek("counter", func(v *int) { assert.Equal(t, 5000, *v) })
}

func TestWindowStore_BoundedFIFO(t *testing.T) {
	s := NewWindowStore(100, 0)
	for i := 1; i <= 150; i++ {
		s.Observe("rule", "global", float64(i))
	}

	values := s.Values("rule", "global")
	require.Len(t, values, 100)
	assert.Equal(t, 51.0, values[0])
	assert.Equal(t, 150.0, values[99])
}

func TestWindowStore_IndependentEntities(t *testing.T) {
	s := NewWindowStore(10, 0)
	s.Observe("rule", "host-a", 1)
	s.Observe("rule", "host-b", 2)
	s.Observe("other", "host-a", 3)

	assert.Equal(t, []float64{1}, s.Values("rule", "host-a"))
	assert.Equal(t, []float64{2}, s.Values("rule", "host-b"))
	assert.Equal(t, 3, s.Len())

	s.ForgetRule("rule")
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.Values("rule", "host-a"))

	s.Retain(func(ruleID string) bool { return ruleID != "other" })
	assert.Equal(t, 0, s.Len())
}

func TestWindowStore_MaxWindows(t *testing.T) {
	s := NewWindowStore(10, 3)
	for i := 0; i < 10; i++ {
		s.Observe("rule", fmt.Sprintf("entity-%d", i), 1)
	}
	assert.Equal(t, 3, s.Len())
}

func TestCooldownTracker(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 15 * time.Minute

	assert.Zero(t, tracker.Remaining("rule", cooldown, now))
	assert.True(t, tracker.Claim("rule", cooldown, now))
	assert.False(t, tracker.Claim("rule", cooldown, now.Add(time.Minute)))
	assert.Equal(t, 5*time.Minute, tracker.Remaining("rule", cooldown, now.Add(10*time.Minute)))

	// exactly at the boundary the rule may fire again
	assert.True(t, tracker.Claim("rule", cooldown, now.Add(cooldown)))

	last, count, ok := tracker.Last("rule")
	require.True(t, ok)
	assert.Equal(t, now.Add(cooldown), last)
	assert.Equal(t, 2, count)

	tracker.Forget("rule")
	_, _, ok = tracker.Last("rule")
	assert.False(t, ok)
}

func TestCooldownTracker_SeedNeverMovesBackwards(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Now()

	tracker.Seed("rule", now, 3)
	tracker.Seed("rule", now.Add(-time.Hour), 1)

	last, count, ok := tracker.Last("rule")
	require.True(t, ok)
	assert.Equal(t, now, last)
	assert.Equal(t, 3, count)
}

func TestCooldownTracker_ConcurrentClaims(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Claim("rule", 15*time.Minute, now) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSeriesBuffer(t *testing.T) {
	b := NewSeriesBuffer(5, time.Hour)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	b.Record(model.MetricSample{MetricType: "cpu", ScopeID: "a", Value: 1, Timestamp: t0})
	b.Record(model.MetricSample{MetricType: "cpu", ScopeID: "b", Value: 2, Timestamp: t0.Add(time.Minute)})
	b.Record(model.MetricSample{MetricType: "cpu", ScopeID: "a", Value: 3, Timestamp: t0.Add(2 * time.Minute)})
	// out of order
	b.Record(model.MetricSample{MetricType: "cpu", ScopeID: "a", Value: 0, Timestamp: t0.Add(-time.Minute)})
	b.Record(model.MetricSample{MetricType: "mem", ScopeID: "a", Value: 9, Timestamp: t0})

	ctx := context.Background()
	points, err := b.Samples(ctx, "cpu", "a", t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, []float64{0, 1, 3}, []float64{points[0].Value, points[1].Value, points[2].Value})

	merged, err := b.Samples(ctx, "cpu", "", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, merged, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{merged[0].Value, merged[1].Value, merged[2].Value})
}

func TestSeriesBuffer_Bounds(t *testing.T) {
	b := NewSeriesBuffer(3, 10*time.Minute)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Record(model.MetricSample{MetricType: "cpu", Value: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}
	points, _ := b.Samples(ctx, "cpu", "", t0, t0.Add(time.Hour))
	require.Len(t, points, 3)
	assert.Equal(t, 2.0, points[0].Value)

	b.Record(model.MetricSample{MetricType: "cpu", Value: 100, Timestamp: t0.Add(time.Hour)})
	points, _ = b.Samples(ctx, "cpu", "", t0, t0.Add(2*time.Hour))
	require.Len(t, points, 1)
	assert.Equal(t, 100.0, points[0].Value)
}

func TestRuleCache(t *testing.T) {
	c := NewRuleCache()
	scope := "host-a"
	global := &model.AlertRule{ID: "g", MetricType: "cpu", IsActive: true}
	scoped := &model.AlertRule{ID: "s", MetricType: "cpu", ScopeID: &scope, IsActive: true}
	inactive := &model.AlertRule{ID: "i", MetricType: "cpu"}

	c.Replace([]*model.AlertRule{global, scoped, inactive})
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains("i"))

	assert.Len(t, c.Matching("cpu", "host-a"), 2)
	assert.Len(t, c.Matching("cpu", "host-b"), 1)
	assert.Len(t, c.Matching("cpu", ""), 1)
	assert.Empty(t, c.Matching("mem", "host-a"))

	// cached copies are isolated from the caller
	global.MetricType = "mem"
	got, ok := c.Get("g")
	require.True(t, ok)
	assert.Equal(t, "cpu", got.MetricType)

	snapshot := c.Active()
	ok = c.Update("g", func(r *model.AlertRule) { r.TriggeredCount = 7 })
	require.True(t, ok)
	got, _ = c.Get("g")
	assert.Equal(t, 7, got.TriggeredCount)
	for _, r := range snapshot {
		assert.Zero(t, r.TriggeredCount, "earlier snapshots are not mutated")
	}

	c.Put(&model.AlertRule{ID: "s", MetricType: "cpu", ScopeID: &scope})
	assert.False(t, c.Contains("s"))

	c.Remove("g")
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Update("g", func(r *model.AlertRule) {}))
}
