package monitor

import "time"

type cooldownEntry struct {
	last  time.Time
	count int
}

// CooldownTracker remembers when each rule last triggered. Claim is the only
// way to record a trigger and is atomic per rule, so at most one caller wins
// a trigger within one cooldown window.
type CooldownTracker struct {
	arena *Arena[cooldownEntry]
}

// NewCooldownTracker creates an empty tracker
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		arena: NewArena(0, func() cooldownEntry { return cooldownEntry{} }),
	}
}

// Seed records a trigger time loaded from the rule store. It never moves the
// tracked time backwards.
func (t *CooldownTracker) Seed(ruleID string, last time.Time, count int) {
	t.arena.With(ruleID, func(e *cooldownEntry) {
		if last.After(e.last) {
			e.last = last
		}
		if count > e.count {
			e.count = count
		}
	})
}

// Remaining returns how long ruleID stays suppressed at now, or zero when it
// may trigger.
func (t *CooldownTracker) Remaining(ruleID string, cooldown time.Duration, now time.Time) time.Duration {
	var remaining time.Duration
	t.arena.Peek(ruleID, func(e *cooldownEntry) {
		remaining = remainingCooldown(e.last, cooldown, now)
	})
	return remaining
}

// Claim records a trigger of ruleID at now unless the rule is still cooling
// down. It reports whether the caller won the claim.
func (t *CooldownTracker) Claim(ruleID string, cooldown time.Duration, now time.Time) bool {
	won := false
	t.arena.With(ruleID, func(e *cooldownEntry) {
		if remainingCooldown(e.last, cooldown, now) > 0 {
			return
		}
		e.last = now
		e.count++
		won = true
	})
	return won
}

// Last returns the last trigger time and count of ruleID
func (t *CooldownTracker) Last(ruleID string) (time.Time, int, bool) {
	var entry cooldownEntry
	ok := t.arena.Peek(ruleID, func(e *cooldownEntry) {
		entry = *e
	})
	return entry.last, entry.count, ok && !entry.last.IsZero()
}

// Forget drops the state of ruleID
func (t *CooldownTracker) Forget(ruleID string) {
	t.arena.Delete(ruleID)
}

func remainingCooldown(last time.Time, cooldown time.Duration, now time.Time) time.Duration {
	if last.IsZero() || cooldown <= 0 {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}
