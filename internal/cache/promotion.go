package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/recordcache/recordcache/internal/accounting"
	"github.com/recordcache/recordcache/internal/codec"
	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
)

// PromotionCache is the Tier 3 store: a bounded, LRU-evicted cache of
// compressed detail records. Every Get moves the accessed entry to the
// most-recent position in constant time; Insert evicts strictly by oldest
// last access until the new entry fits.
type PromotionCache struct {
	codec codec.Codec
	acct  *accounting.Accountant

	mu        sync.Mutex
	items     map[types.CacheKey]*detailEntry
	evictList *list.List // front = most recently used
	evictions uint64
	corrupt   uint64

	now func() time.Time
}

type detailEntry struct {
	key         types.CacheKey
	blob        []byte
	size        int64
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount int64
	element     *list.Element
}

// NewPromotionCache creates an empty Tier 3 cache charging against acct.
func NewPromotionCache(c codec.Codec, acct *accounting.Accountant) *PromotionCache {
	return &PromotionCache{
		codec:     c,
		acct:      acct,
		items:     make(map[types.CacheKey]*detailEntry),
		evictList: list.New(),
		now:       time.Now,
	}
}

// Insert compresses the record and stores it, evicting least-recently-used
// entries one at a time until the reservation succeeds. It returns the keys
// evicted to make room. When the record cannot fit even an empty cache the
// insert fails with BUDGET_EXCEEDED and the key's previous entry, if any, is
// left in place; other entries already evicted during the attempt stay
// evicted.
func (p *PromotionCache) Insert(key types.CacheKey, rec *types.DetailRecord) ([]types.CacheKey, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError, "failed to encode record %s", key).
			WithComponent("tier3").WithOperation("Insert").WithCause(err)
	}
	blob, err := p.codec.Compress(payload)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError, "failed to compress record %s", key).
			WithComponent("tier3").WithOperation("Insert").WithCause(err)
	}
	size := int64(len(blob))

	p.mu.Lock()
	defer p.mu.Unlock()

	// Replacing an existing entry frees its space first.
	var replaced *detailEntry
	if existing, ok := p.items[key]; ok {
		p.removeLocked(existing, false)
		replaced = existing
	}

	var evicted []types.CacheKey
	for !p.acct.TryReserve(types.Tier3, size) {
		back := p.evictList.Back()
		if back == nil {
			if replaced != nil {
				// The cache is empty and the old entry fit before, so its
				// reservation cannot fail.
				p.acct.TryReserve(types.Tier3, replaced.size)
				replaced.element = p.evictList.PushFront(replaced)
				p.items[replaced.key] = replaced
			}
			return evicted, errors.Newf(errors.ErrCodeBudgetExceeded,
				"record %s needs %d bytes but the tier3 budget is %d",
				key, size, p.acct.Budget(types.Tier3)).
				WithComponent("tier3").WithOperation("Insert").
				WithDetail("needed_bytes", size)
		}
		victim := back.Value.(*detailEntry)
		p.removeLocked(victim, true)
		evicted = append(evicted, victim.key)
	}

	now := p.now()
	e := &detailEntry{
		key:        key,
		blob:       blob,
		size:       size,
		insertedAt: now,
		lastAccess: now,
	}
	e.element = p.evictList.PushFront(e)
	p.items[key] = e
	return evicted, nil
}

// Get returns the decoded record for key and refreshes its recency. A stored
// payload that fails to decode is removed and reported as a miss.
func (p *PromotionCache) Get(key types.CacheKey) (*types.DetailRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[key]
	if !ok {
		return nil, false
	}

	payload, err := p.codec.Decompress(e.blob)
	var rec types.DetailRecord
	if err == nil {
		err = json.Unmarshal(payload, &rec)
	}
	if err != nil {
		p.removeLocked(e, false)
		p.corrupt++
		return nil, false
	}

	e.lastAccess = p.now()
	e.accessCount++
	p.evictList.MoveToFront(e.element)
	return &rec, true
}

// Remove deletes key from the cache, reporting whether it was present.
func (p *PromotionCache) Remove(key types.CacheKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[key]
	if !ok {
		return false
	}
	p.removeLocked(e, false)
	return true
}

// Contains reports residency without refreshing recency.
func (p *PromotionCache) Contains(key types.CacheKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[key]
	return ok
}

// Info returns entry metadata for key, if resident.
func (p *PromotionCache) Info(key types.CacheKey) (types.EntryInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[key]
	if !ok {
		return types.EntryInfo{}, false
	}
	return types.EntryInfo{
		Key:         e.key,
		Size:        e.size,
		InsertedAt:  e.insertedAt,
		LastAccess:  e.lastAccess,
		AccessCount: e.accessCount,
	}, true
}

// Len returns the number of resident entries.
func (p *PromotionCache) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Keys returns all resident keys (for debugging and admin inspection).
func (p *PromotionCache) Keys() []types.CacheKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]types.CacheKey, 0, len(p.items))
	for key := range p.items {
		keys = append(keys, key)
	}
	return keys
}

// Evictions returns the number of budget-driven evictions so far.
func (p *PromotionCache) Evictions() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictions
}

// CorruptCount returns how many entries were dropped as corrupt.
func (p *PromotionCache) CorruptCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.corrupt
}

// Clear empties the cache and its accounting.
func (p *PromotionCache) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = make(map[types.CacheKey]*detailEntry)
	p.evictList.Init()
	p.acct.Reset(types.Tier3)
}

func (p *PromotionCache) removeLocked(e *detailEntry, countEviction bool) {
	p.evictList.Remove(e.element)
	delete(p.items, e.key)
	p.acct.Release(types.Tier3, e.size)
	if countEviction {
		p.evictions++
	}
}
