package types

import (
	"fmt"
	"time"
)

// DetailLevel selects how much of a record a caller wants.
type DetailLevel int

const (
	// DetailBasic requests the small preloaded record.
	DetailBasic DetailLevel = iota
	// DetailFull requests the full record with analysis sections.
	DetailFull
)

// String returns a human-readable name for the detail level.
func (l DetailLevel) String() string {
	switch l {
	case DetailBasic:
		return "basic"
	case DetailFull:
		return "full"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Tier identifies a storage level of the cache.
type Tier int

const (
	// TierNone means the request was not served from any tier.
	TierNone Tier = iota
	// Tier1 is the preloaded, compressed basic record store.
	Tier1
	// Tier2 is the on-demand generation path; nothing is stored there.
	Tier2
	// Tier3 is the bounded cache of promoted detail records.
	Tier3
	// TierAll addresses every tier in administrative operations.
	TierAll
)

// String returns a human-readable name for the tier.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	case TierAll:
		return "all"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// CacheKey identifies an entity. Keys are value types and safe to use as map
// keys.
type CacheKey struct {
	ID       string `json:"id" yaml:"id"`
	Category string `json:"category" yaml:"category"`
}

// String renders the key in "category/id" form.
func (k CacheKey) String() string {
	return k.Category + "/" + k.ID
}

// Record is implemented by both record kinds served from the cache.
type Record interface {
	RecordKey() CacheKey
}

// BasicRecord is the small record preloaded into Tier 1 at startup.
type BasicRecord struct {
	Key        CacheKey          `json:"key"`
	Name       string            `json:"name"`
	Summary    string            `json:"summary,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RecordKey implements Record.
func (r *BasicRecord) RecordKey() CacheKey { return r.Key }

// AnalysisSection is one section of a detail record.
type AnalysisSection struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Score float64 `json:"score,omitempty"`
}

// DetailRecord is the full record produced by a Generator. It is larger than
// a BasicRecord and is only cached after its key proves popular.
type DetailRecord struct {
	Key         CacheKey          `json:"key"`
	Name        string            `json:"name"`
	Summary     string            `json:"summary,omitempty"`
	Sections    []AnalysisSection `json:"sections,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// RecordKey implements Record.
func (r *DetailRecord) RecordKey() CacheKey { return r.Key }

// BulkRecord is the load-time unit supplied by a bulk producer. Payload is an
// encoded BasicRecord; Size is the producer's declared footprint in bytes and
// is authoritative for the Tier 1 budget cutoff. A zero Size means the store
// charges the compressed payload length instead.
type BulkRecord struct {
	Key     CacheKey `json:"key"`
	Payload []byte   `json:"payload"`
	Size    int64    `json:"size"`
}

// CacheStats reports the observable state of the whole cache.
type CacheStats struct {
	TotalRequests uint64  `json:"total_requests"`
	Tier1Hits     uint64  `json:"tier1_hits"`
	Tier1Misses   uint64  `json:"tier1_misses"`
	Tier3Hits     uint64  `json:"tier3_hits"`
	Tier3Misses   uint64  `json:"tier3_misses"`
	Tier1Bytes    int64   `json:"tier1_bytes"`
	Tier3Bytes    int64   `json:"tier3_bytes"`
	Tier1Count    int     `json:"tier1_count"`
	Tier3Count    int     `json:"tier3_count"`
	Tier1HitRate  float64 `json:"tier1_hit_rate"`
	Tier3HitRate  float64 `json:"tier3_hit_rate"`

	Generations        uint64 `json:"generations"`
	GenerationFailures uint64 `json:"generation_failures"`
	Promotions         uint64 `json:"promotions"`
	PromotionRejects   uint64 `json:"promotion_rejects"`
	Evictions          uint64 `json:"evictions"`
	CorruptEntries     uint64 `json:"corrupt_entries"`
}

// LastAccess metadata kept for every Tier 3 entry.
type EntryInfo struct {
	Key         CacheKey  `json:"key"`
	Size        int64     `json:"size"`
	InsertedAt  time.Time `json:"inserted_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int64     `json:"access_count"`
}
