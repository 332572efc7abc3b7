package pipeline

import "time"

// CooldownGate throttles analyzer uploads: once a detection trips it,
// every further detection is absorbed until the cooldown elapses. It is
// level-triggered, so continuous presence of a person yields one allow
// per cooldown window, not one per rising edge.
//
// The gate is queried exactly once per frame from the single-threaded
// monitor loop, so it carries no locking.
type CooldownGate struct {
	cooldown    time.Duration
	lastTrigger time.Time
}

func NewCooldownGate(cooldown time.Duration) *CooldownGate {
	return &CooldownGate{cooldown: cooldown}
}

// Allow reports whether an upload may fire now. On an allow it stamps
// the trigger time immediately; the stamp never moves at response time.
func (g *CooldownGate) Allow(personPresent bool, now time.Time) bool {
	if !personPresent {
		return false
	}
	if !g.lastTrigger.IsZero() && now.Sub(g.lastTrigger) < g.cooldown {
		return false
	}
	g.lastTrigger = now
	return true
}

// Cooling reports whether the gate is inside a cooldown window.
func (g *CooldownGate) Cooling(now time.Time) bool {
	return !g.lastTrigger.IsZero() && now.Sub(g.lastTrigger) < g.cooldown
}
