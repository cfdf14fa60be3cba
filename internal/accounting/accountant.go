// Package accounting tracks per-tier byte usage. The Accountant is the single
// source of truth for budget enforcement: every tier insert reserves capacity
// before storing and every removal releases it afterwards, so accounted usage
// never drifts from the physical contents.
package accounting

import (
	"sync"

	"github.com/recordcache/recordcache/pkg/types"
)

// Accountant enforces a byte budget per tier.
type Accountant struct {
	mu      sync.Mutex
	budgets map[types.Tier]int64
	usage   map[types.Tier]int64
}

// New creates an accountant with the given per-tier budgets. Tiers without a
// budget entry reject all reservations.
func New(budgets map[types.Tier]int64) *Accountant {
	b := make(map[types.Tier]int64, len(budgets))
	for tier, budget := range budgets {
		b[tier] = budget
	}
	return &Accountant{
		budgets: b,
		usage:   make(map[types.Tier]int64, len(budgets)),
	}
}

// TryReserve atomically reserves n bytes in the tier. It returns false when
// the reservation would push usage past the tier's budget, leaving usage
// unchanged.
func (a *Accountant) TryReserve(tier types.Tier, n int64) bool {
	if n < 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	budget, ok := a.budgets[tier]
	if !ok {
		return false
	}
	if a.usage[tier]+n > budget {
		return false
	}
	a.usage[tier] += n
	return true
}

// Release returns n bytes to the tier. Usage never goes below zero.
func (a *Accountant) Release(tier types.Tier, n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.usage[tier] -= n
	if a.usage[tier] < 0 {
		a.usage[tier] = 0
	}
}

// Usage returns the currently accounted bytes for the tier.
func (a *Accountant) Usage(tier types.Tier) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage[tier]
}

// Budget returns the tier's configured budget, or zero when none is set.
func (a *Accountant) Budget(tier types.Tier) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.budgets[tier]
}

// Reset zeroes the tier's usage. Used when a tier's backing store is replaced
// or cleared wholesale.
func (a *Accountant) Reset(tier types.Tier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage[tier] = 0
}
