package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/recordcache/recordcache/internal/accounting"
	"github.com/recordcache/recordcache/internal/codec"
	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
)

// RecordStore is the Tier 1 store: a fixed-budget, compressed, read-mostly
// map of basic records. It is populated wholesale by LoadAll and never grows
// between loads; the only other mutation is dropping an entry whose payload
// fails to decompress.
type RecordStore struct {
	codec codec.Codec
	acct  *accounting.Accountant

	mu      sync.RWMutex
	entries map[types.CacheKey]*storeEntry
	bytes   int64
	corrupt uint64
}

type storeEntry struct {
	blob       []byte
	size       int64
	insertedAt time.Time
}

// NewRecordStore creates an empty Tier 1 store charging against acct.
func NewRecordStore(c codec.Codec, acct *accounting.Accountant) *RecordStore {
	return &RecordStore{
		codec:   c,
		acct:    acct,
		entries: make(map[types.CacheKey]*storeEntry),
	}
}

// LoadAll replaces the store contents with the given records, inserted in
// order and compressed on insert. Loading stops at the first record that
// would push usage past the Tier 1 budget; the remaining records are dropped
// and a PARTIAL_LOAD error reports the truncation. The returned count is the
// number of records actually loaded.
//
// A budget too small for even the first record is a configuration fault and
// fails with INVALID_CONFIG; the store is left unchanged in that case.
func (s *RecordStore) LoadAll(records []types.BulkRecord) (int, error) {
	budget := s.acct.Budget(types.Tier1)

	staged := make(map[types.CacheKey]*storeEntry, len(records))
	var stagedBytes int64
	loaded := 0
	truncated := false
	now := time.Now()

	for _, rec := range records {
		blob, err := s.codec.Compress(rec.Payload)
		if err != nil {
			return 0, errors.Newf(errors.ErrCodeInternalError,
				"failed to compress record %s", rec.Key).
				WithComponent("tier1").WithOperation("LoadAll").WithCause(err)
		}

		size := rec.Size
		if size <= 0 {
			size = int64(len(blob))
		}

		if stagedBytes+size > budget {
			truncated = true
			break
		}

		if prev, ok := staged[rec.Key]; ok {
			// Duplicate key in the input set: last write wins.
			stagedBytes -= prev.size
			loaded--
		}
		staged[rec.Key] = &storeEntry{blob: blob, size: size, insertedAt: now}
		stagedBytes += size
		loaded++
	}

	if len(records) > 0 && loaded == 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidConfig,
			"tier1 budget of %d bytes cannot hold the first record", budget).
			WithComponent("tier1").WithOperation("LoadAll")
	}

	// Swap in the new contents atomically.
	s.mu.Lock()
	s.entries = staged
	s.bytes = stagedBytes
	s.acct.Reset(types.Tier1)
	s.acct.TryReserve(types.Tier1, stagedBytes)
	s.mu.Unlock()

	if truncated {
		return loaded, errors.Newf(errors.ErrCodePartialLoad,
			"loaded %d of %d records before reaching the tier1 budget", loaded, len(records)).
			WithComponent("tier1").WithOperation("LoadAll").
			WithDetail("loaded", loaded).
			WithDetail("dropped", len(records)-loaded)
	}
	return loaded, nil
}

// Get decompresses and returns the basic record for key. A payload that no
// longer decodes is dropped from the store and its accounting, and the call
// reports a miss.
func (s *RecordStore) Get(key types.CacheKey) (*types.BasicRecord, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	payload, err := s.codec.Decompress(e.blob)
	var rec types.BasicRecord
	if err == nil {
		err = json.Unmarshal(payload, &rec)
	}
	if err != nil {
		s.dropCorrupt(key, e)
		return nil, false
	}
	return &rec, true
}

func (s *RecordStore) dropCorrupt(key types.CacheKey, e *storeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && cur == e {
		delete(s.entries, key)
		s.bytes -= e.size
		s.acct.Release(types.Tier1, e.size)
		s.corrupt++
	}
}

// Contains reports whether key is resident without touching the payload.
func (s *RecordStore) Contains(key types.CacheKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of resident records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Bytes returns the accounted size of the store.
func (s *RecordStore) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// CorruptCount returns how many entries were dropped as corrupt since the
// last load.
func (s *RecordStore) CorruptCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt
}

// Clear empties the store and its accounting.
func (s *RecordStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[types.CacheKey]*storeEntry)
	s.bytes = 0
	s.corrupt = 0
	s.acct.Reset(types.Tier1)
}
