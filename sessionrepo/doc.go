// Package sessionrepo binds a repository to a transaction scope's entity
// cache.
//
// SessionRepository decorates a go-repository-bun Repository so the write
// path keeps the cache coherent: a successful Update, Upsert, or Delete
// invalidates the mutated record's cache entry, and statements whose
// affected rows cannot be attributed to keys (DeleteWhere, DeleteMany, Raw)
// empty the cache entirely. Primary-key reads consult the cache first, so a
// transaction that re-reads an entity it already hydrated observes the same
// instance.
//
// The decorator derives cache keys from records by reflecting over the ID
// field; entities with composite or unconventional keys supply their own
// KeyFunc through Options.
package sessionrepo
