/*
Package cache implements the tiered record cache.

Three tiers serve two kinds of record under hard byte budgets:

	Tier 1  RecordStore      compressed basic records, loaded wholesale at
	                         startup, read-only between reloads
	Tier 2  generation path  detail records computed on demand, never stored
	Tier 3  PromotionCache   bounded LRU of detail records whose keys crossed
	                         the popularity threshold

The Coordinator ties them together. A basic request is answered from Tier 1
or not at all. A full request is answered from Tier 3 when resident;
otherwise the generator runs under the caller's deadline (deduplicated per
key through a single-flight group), the PopularityTracker records the access,
and the result is promoted into Tier 3 once its key has been requested often
enough. Promotion evicts least-recently-used entries until the record fits; a
record that cannot fit at all is still returned to the caller, and the key
enters a cooldown so the cache does not thrash on futile inserts.

All byte accounting flows through a single accounting.Accountant, which keeps
each tier's accounted usage equal to its physical contents even under
concurrent inserts and evictions. The generator is never invoked while a tier
lock is held, so slow generation cannot block readers of unrelated keys.
*/
package cache
