package engine

import (
	"time"
)

// CooldownGate suppresses repeat notifications for an alert whose condition
// stays true. The durable side of the gate is the repository's
// last_triggered_at column; this type only decides.
type CooldownGate struct {
	cooldown time.Duration
}

// NewCooldownGate builds a gate with the configured cooldown duration.
func NewCooldownGate(cooldown time.Duration) CooldownGate {
	return CooldownGate{cooldown: cooldown}
}

// Allow reports whether an alert last triggered at lastTriggeredAt may fire
// again at now. A nil lastTriggeredAt means never triggered.
func (g CooldownGate) Allow(lastTriggeredAt *time.Time, now time.Time) bool {
	if lastTriggeredAt == nil {
		return true
	}
	return now.Sub(*lastTriggeredAt) >= g.cooldown
}

// Remaining returns how much cooldown is left at now; zero when allowed.
func (g CooldownGate) Remaining(lastTriggeredAt *time.Time, now time.Time) time.Duration {
	if lastTriggeredAt == nil {
		return 0
	}
	left := g.cooldown - now.Sub(*lastTriggeredAt)
	if left < 0 {
		return 0
	}
	return left
}
