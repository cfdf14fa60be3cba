package cache

import (
	"sync"
	"time"

	"github.com/recordcache/recordcache/pkg/types"
)

// PopularityTracker counts per-key accesses and decides when a generated
// record has earned a Tier 3 slot. Counters only ever grow, except for the
// optional decay epochs and an explicit Reset.
type PopularityTracker struct {
	mu            sync.Mutex
	counts        map[types.CacheKey]int64
	cooldownUntil map[types.CacheKey]time.Time

	threshold int64
	cooldown  time.Duration

	// resident reports Tier 3 residency; promotion is never suggested for a
	// key that is already cached.
	resident func(types.CacheKey) bool

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPopularityTracker creates a tracker. A threshold below one is clamped to
// one, so every generated record is immediately eligible.
func NewPopularityTracker(threshold int64, cooldown time.Duration, resident func(types.CacheKey) bool) *PopularityTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &PopularityTracker{
		counts:        make(map[types.CacheKey]int64),
		cooldownUntil: make(map[types.CacheKey]time.Time),
		threshold:     threshold,
		cooldown:      cooldown,
		resident:      resident,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// RecordAccess increments the key's counter and returns the new count.
func (t *PopularityTracker) RecordAccess(key types.CacheKey) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
	return t.counts[key]
}

// Count returns the key's current counter.
func (t *PopularityTracker) Count(key types.CacheKey) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key]
}

// ShouldPromote is true exactly when the key's count has reached the
// threshold, the key is not already resident in Tier 3, and the key is not
// inside a promotion cooldown window.
func (t *PopularityTracker) ShouldPromote(key types.CacheKey) bool {
	t.mu.Lock()
	if t.counts[key] < t.threshold {
		t.mu.Unlock()
		return false
	}
	if until, ok := t.cooldownUntil[key]; ok {
		if t.now().Before(until) {
			t.mu.Unlock()
			return false
		}
		delete(t.cooldownUntil, key)
	}
	resident := t.resident
	t.mu.Unlock()

	// Residency probe runs outside the tracker lock; it takes the Tier 3
	// lock.
	if resident != nil && resident(key) {
		return false
	}
	return true
}

// SetCooldown starts the key's cooldown window. Called after a promotion was
// rejected for lack of budget, so the tracker does not keep suggesting a
// futile insert.
func (t *PopularityTracker) SetCooldown(key types.CacheKey) {
	if t.cooldown <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cooldownUntil[key] = t.now().Add(t.cooldown)
}

// InCooldown reports whether the key is currently inside a cooldown window.
func (t *PopularityTracker) InCooldown(key types.CacheKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.cooldownUntil[key]
	return ok && t.now().Before(until)
}

// Reset clears all counters and cooldowns.
func (t *PopularityTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[types.CacheKey]int64)
	t.cooldownUntil = make(map[types.CacheKey]time.Time)
}

// StartDecay launches a loop that halves every counter once per interval,
// keeping promotion reflective of recent traffic instead of all-time totals.
// Counts change only at epoch boundaries, so threshold comparisons stay
// monotonic within an epoch. Stop the loop with Close.
func (t *PopularityTracker) StartDecay(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.decay()
			case <-t.stopCh:
				return
			}
		}
	}()
}

func (t *PopularityTracker) decay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, count := range t.counts {
		half := count / 2
		if half == 0 {
			delete(t.counts, key)
			continue
		}
		t.counts[key] = half
	}
}

// Close stops the decay loop, if one is running.
func (t *PopularityTracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
