package hydration

import "github.com/goliatone/go-entity-session/entitycache"

// Interner deduplicates repeated occurrences of the same entity inside one
// query's result stream. Nested joins routinely repeat a parent row once per
// child row; without interning, memory and construction cost scale with the
// join fan-out rather than the distinct-entity count.
//
// An Interner is scoped to exactly one query execution and must be discarded
// when the traversal ends. It never carries over to the next query, even
// within the same transaction, regardless of isolation level.
type Interner struct {
	entries map[entitycache.EntityKey]any
	hits    uint64
}

// NewInterner returns an empty interner for one query execution.
func NewInterner() *Interner {
	return &Interner{entries: make(map[entitycache.EntityKey]any)}
}

// InternOrConstruct returns the instance already interned under key, or runs
// construct once and interns its result. For a key appearing N times in one
// result stream, construct runs exactly once and the hit count ends at N-1.
func (in *Interner) InternOrConstruct(key entitycache.EntityKey, construct func() (any, error)) (any, error) {
	if instance, ok := in.entries[key]; ok {
		in.hits++
		return instance, nil
	}
	instance, err := construct()
	if err != nil {
		return nil, err
	}
	in.entries[key] = instance
	return instance, nil
}

// lookup reports an interned instance without constructing.
func (in *Interner) lookup(key entitycache.EntityKey) (any, bool) {
	instance, ok := in.entries[key]
	if ok {
		in.hits++
	}
	return instance, ok
}

// intern records a constructed instance.
func (in *Interner) intern(key entitycache.EntityKey, instance any) {
	in.entries[key] = instance
}

// Hits returns how many lookups were served from the interner.
func (in *Interner) Hits() uint64 { return in.hits }

// Len returns the distinct-entity count seen so far.
func (in *Interner) Len() int { return len(in.entries) }
