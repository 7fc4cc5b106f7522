package monitor

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
)

type ruleSet struct {
	byID     map[string]*model.AlertRule
	byMetric map[string][]*model.AlertRule
}

func newRuleSet(rules map[string]*model.AlertRule) *ruleSet {
	set := &ruleSet{
		byID:     rules,
		byMetric: make(map[string][]*model.AlertRule),
	}
	for _, r := range rules {
		set.byMetric[r.MetricType] = append(set.byMetric[r.MetricType], r)
	}
	for _, list := range set.byMetric {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	return set
}

// RuleCache mirrors the active rules in memory. Readers load an immutable
// snapshot without locking; writers build a new snapshot and swap it in.
// Cached rules must never be modified in place.
type RuleCache struct {
	mu      sync.Mutex
	current atomic.Pointer[ruleSet]
}

// NewRuleCache creates an empty cache
func NewRuleCache() *RuleCache {
	c := &RuleCache{}
	c.current.Store(newRuleSet(map[string]*model.AlertRule{}))
	return c
}

// Replace swaps the whole cache for rules. Inactive rules are skipped.
func (c *RuleCache) Replace(rules []*model.AlertRule) {
	byID := make(map[string]*model.AlertRule, len(rules))
	for _, r := range rules {
		if r.IsActive {
			byID[r.ID] = r.Clone()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.Store(newRuleSet(byID))
	metrics.CachedRules.Set(float64(len(byID)))
}

// Put inserts or replaces rule, or removes it when it is inactive
func (c *RuleCache) Put(rule *model.AlertRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.copyLocked()
	if rule.IsActive {
		next[rule.ID] = rule.Clone()
	} else {
		delete(next, rule.ID)
	}
	c.swapLocked(next)
}

// Update applies fn to a copy of the cached rule id and stores the result.
// It reports false when id is not cached.
func (c *RuleCache) Update(id string, fn func(rule *model.AlertRule)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.current.Load().byID[id]
	if !ok {
		return false
	}
	updated := existing.Clone()
	fn(updated)

	next := c.copyLocked()
	next[id] = updated
	c.swapLocked(next)
	return true
}

// Remove drops rule id
func (c *RuleCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.current.Load().byID[id]; !ok {
		return
	}
	next := c.copyLocked()
	delete(next, id)
	c.swapLocked(next)
}

// Get returns the cached rule id
func (c *RuleCache) Get(id string) (*model.AlertRule, bool) {
	r, ok := c.current.Load().byID[id]
	return r, ok
}

// Contains reports whether rule id is cached
func (c *RuleCache) Contains(id string) bool {
	_, ok := c.current.Load().byID[id]
	return ok
}

// Active returns every cached rule
func (c *RuleCache) Active() []*model.AlertRule {
	set := c.current.Load()
	out := make([]*model.AlertRule, 0, len(set.byID))
	for _, list := range set.byMetric {
		out = append(out, list...)
	}
	return out
}

// Matching returns the rules on metricType that apply to scope: global rules
// and rules scoped to exactly scope.
func (c *RuleCache) Matching(metricType, scope string) []*model.AlertRule {
	var out []*model.AlertRule
	for _, r := range c.current.Load().byMetric[metricType] {
		if r.ScopeID == nil || *r.ScopeID == scope {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of cached rules
func (c *RuleCache) Len() int {
	return len(c.current.Load().byID)
}

func (c *RuleCache) copyLocked() map[string]*model.AlertRule {
	cur := c.current.Load().byID
	next := make(map[string]*model.AlertRule, len(cur)+1)
	for id, r := range cur {
		next[id] = r
	}
	return next
}

func (c *RuleCache) swapLocked(next map[string]*model.AlertRule) {
	c.current.Store(newRuleSet(next))
	metrics.CachedRules.Set(float64(len(next)))
}
