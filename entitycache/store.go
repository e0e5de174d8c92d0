package entitycache

import (
	"container/list"
	"database/sql"
)

// RetentionMode controls how long entries stay resident within a scope.
type RetentionMode int

const (
	// RetentionStrong keeps every entry alive for the whole transaction. This is
	// the default: it is the only mode that preserves reference identity for
	// every re-read of a key within the scope.
	RetentionStrong RetentionMode = iota

	// RetentionMinimal bounds memory with an LRU over scope-local access order.
	// An evicted entry costs a fresh construction and a full-row update on the
	// next touch of its key; for evicted keys the instance returned by a later
	// lookup is a new object. Memory/latency trade-off only: the set of values
	// a correct caller observes never changes.
	RetentionMinimal
)

// String returns the mode name for logs and config errors.
func (m RetentionMode) String() string {
	switch m {
	case RetentionStrong:
		return "strong"
	case RetentionMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// Entry is what the store holds for one key: the last-observed instance, the
// field values captured for dirty checking (nil when no baseline was taken),
// and the savepoint generation of the write.
type Entry struct {
	Instance any
	Snapshot []any
	Gen      uint64
}

// Options configures a Store for one scope.
type Options struct {
	// Isolation is the transaction's isolation level. Below RepeatableRead the
	// identity read path is disabled; see Lookup.
	Isolation sql.IsolationLevel

	// ReadOnly scopes always get the full identity cache regardless of level.
	ReadOnly bool

	// Retention selects strong or minimal (LRU) retention.
	Retention RetentionMode

	// Capacity bounds the entry count under RetentionMinimal. Ignored otherwise.
	Capacity int

	// DirtyEnabled reports whether dirty checking is on for an entity type.
	// Under low isolation the store still records baselines for such types even
	// though identity lookups miss. Nil means enabled for every type.
	DirtyEnabled func(typeName string) bool
}

// Store is the transaction-scoped identity cache: (EntityKey → Entry) with an
// isolation-aware read/write policy and a configurable retention policy. It is
// owned by exactly one scope (or shared by reference among scopes that join
// one another) and must only be touched from that scope's goroutine.
type Store struct {
	policy       isolationPolicy
	dirtyEnabled func(string) bool
	retention    RetentionMode
	capacity     int

	entries map[EntityKey]*Entry
	order   *list.List
	elems   map[EntityKey]*list.Element

	gen uint64
}

// NewStore builds an empty store for one scope.
func NewStore(opts Options) *Store {
	s := &Store{
		policy:       policyFor(opts.Isolation, opts.ReadOnly),
		dirtyEnabled: opts.DirtyEnabled,
		retention:    opts.Retention,
		capacity:     opts.Capacity,
		entries:      make(map[EntityKey]*Entry),
	}
	if s.retention == RetentionMinimal {
		if s.capacity <= 0 {
			s.capacity = DefaultCapacity
		}
		s.order = list.New()
		s.elems = make(map[EntityKey]*list.Element)
	}
	return s
}

// DefaultCapacity bounds RetentionMinimal stores when no capacity is configured.
const DefaultCapacity = 4096

// Lookup returns the cached instance for key, gated by the isolation policy:
// below RepeatableRead (and outside read-only scopes) it always reports a miss
// so callers re-read from the database. A miss is never an error; it only ever
// causes a fresh construction.
func (s *Store) Lookup(key EntityKey) (any, bool) {
	return s.policy.lookup(s, key)
}

// Snapshot returns the dirty-check baseline for key. Unlike Lookup this is not
// isolation-gated: under low isolation the store records baselines without
// serving identity reads, and the dirty checker must still see them. The
// second result is false when no baseline exists (reclaimed, invalidated, or
// never captured) and the caller falls back to a full-row write.
func (s *Store) Snapshot(key EntityKey) ([]any, bool) {
	e, ok := s.entries[key]
	if !ok || e.Snapshot == nil {
		return nil, false
	}
	s.touch(key)
	return e.Snapshot, true
}

// Put records an instance and its baseline under key, subject to the isolation
// policy: under low isolation the write only lands when dirty checking is
// enabled for the type, purely so a baseline exists. Any later permitted read
// of the same key swaps the value and refreshes the snapshot.
func (s *Store) Put(key EntityKey, instance any, snapshot []any) {
	s.policy.store(s, key, instance, snapshot)
}

// Invalidate removes the entry for key. Called on any mutation affecting the
// key so the next lookup never returns the pre-mutation instance.
func (s *Store) Invalidate(key EntityKey) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	if s.elems != nil {
		if el, ok := s.elems[key]; ok {
			s.order.Remove(el)
			delete(s.elems, key)
		}
	}
}

// InvalidateAll empties the store. This is the only safe response to a raw or
// untyped mutation whose affected rows cannot be attributed to specific keys.
func (s *Store) InvalidateAll() {
	s.entries = make(map[EntityKey]*Entry)
	if s.elems != nil {
		s.order.Init()
		s.elems = make(map[EntityKey]*list.Element)
	}
}

// Len reports the resident entry count.
func (s *Store) Len() int { return len(s.entries) }

// Mark opens a savepoint window and returns its generation. Entries written or
// overwritten after Mark carry a higher generation than the returned value.
func (s *Store) Mark() uint64 {
	s.gen++
	return s.gen
}

// RollbackTo discards every entry written or overwritten since the generation
// returned by Mark. Entries from before the savepoint remain valid. An entry
// overwritten inside the window is discarded rather than restored: a miss is
// always safe, a stale pre-savepoint value is not provably so.
func (s *Store) RollbackTo(gen uint64) {
	for key, e := range s.entries {
		if e.Gen > gen {
			s.Invalidate(key)
		}
	}
}

// put is the ungated write path used by the policy implementations.
func (s *Store) put(key EntityKey, instance any, snapshot []any) {
	s.gen++
	s.entries[key] = &Entry{Instance: instance, Snapshot: snapshot, Gen: s.gen}
	if s.elems != nil {
		if el, ok := s.elems[key]; ok {
			s.order.MoveToFront(el)
		} else {
			s.elems[key] = s.order.PushFront(key)
		}
		s.evict()
	}
}

// touch marks key most-recently-used under RetentionMinimal.
func (s *Store) touch(key EntityKey) {
	if s.elems == nil {
		return
	}
	if el, ok := s.elems[key]; ok {
		s.order.MoveToFront(el)
	}
}

// evict drops least-recently-used entries until the store fits its capacity.
func (s *Store) evict() {
	for len(s.entries) > s.capacity {
		back := s.order.Back()
		if back == nil {
			return
		}
		key := back.Value.(EntityKey)
		s.order.Remove(back)
		delete(s.elems, key)
		delete(s.entries, key)
	}
}

func (s *Store) typeDirtyEnabled(typeName string) bool {
	if s.dirtyEnabled == nil {
		return true
	}
	return s.dirtyEnabled(typeName)
}
