// Package entitycache implements the transaction-scoped identity cache that
// sits beneath the session's read/write path.
//
// # Overview
//
// The package exports two core types:
//
//   - EntityKey: the (entity type, primary key) identity pair, composite-aware
//   - Store: the per-transaction table mapping EntityKey to the last-observed
//     instance and its field-level snapshot
//
// A Store is owned by exactly one session scope and torn down when that scope
// ends. Scopes that join an existing transaction share the same Store by
// reference; scopes that start an independent transaction fork a fresh one.
//
// # Isolation policy
//
// Reads and writes are gated by the transaction's isolation level:
//
//   - ReadUncommitted / ReadCommitted: identity lookups always miss, forcing a
//     fresh database read. Writes still land for types with dirty checking
//     enabled, purely so a dirty-check baseline exists.
//   - RepeatableRead and above, or any read-only scope: lookups and writes
//     behave normally and identity is preserved transaction-wide; two lookups
//     of the same key return the same instance, by reference.
//
// Snapshot reads are never gated: the dirty checker must see baselines even
// when identity reads are disabled.
//
// # Retention
//
// RetentionStrong (the default) keeps every entry until the scope ends.
// RetentionMinimal bounds memory with an LRU keyed by scope-local access
// order; an evicted entry only costs a fresh construction and a conservative
// full-row update on the next touch of its key. A miss is never an error.
package entitycache
