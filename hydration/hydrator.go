package hydration

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-entity-session/entitycache"
)

// ErrShortRow is returned when a row has fewer columns than its plan's span.
var ErrShortRow = errors.New("row shorter than column plan span")

// DeferredRef is what a deferred relation hydrates to: the target entity's key,
// never the full row. Resolving it to a full instance is a separate, explicit
// operation that goes through the cache first.
type DeferredRef struct {
	Key entitycache.EntityKey
}

// CacheStore is the identity-cache surface the hydrator consults before
// constructing. *entitycache.Store satisfies it.
type CacheStore interface {
	Lookup(key entitycache.EntityKey) (any, bool)
	Put(key entitycache.EntityKey, instance any, snapshot []any)
}

// SnapshotFunc converts a constructed entity's own column values into the
// dirty-check baseline stored alongside it. Nil keeps the observed values as
// the baseline (by-reference comparison).
type SnapshotFunc func(typeName string, own []any) []any

// Recorder receives hydration-path observations. Implemented by pkg/metrics.
type Recorder interface {
	CacheHit(typeName string)
	CacheMiss(typeName string)
	InternerHit(typeName string)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)    {}
func (nopRecorder) CacheMiss(string)   {}
func (nopRecorder) InternerHit(string) {}

// Options configures a Hydrator. All fields are optional.
type Options struct {
	// Cache is the transaction's identity cache, consulted at the root level
	// and written at every level. Nil disables caching.
	Cache CacheStore

	// Snapshot produces dirty-check baselines for stored entities.
	Snapshot SnapshotFunc

	// Metrics receives hit/miss observations.
	Metrics Recorder
}

// Hydrator turns flat rows into object graphs per a ColumnPlan, consulting the
// interner and the entity cache before constructing each entity.
type Hydrator struct {
	cache    CacheStore
	snapshot SnapshotFunc
	metrics  Recorder
}

// NewHydrator builds a hydrator for one scope.
func NewHydrator(opts Options) *Hydrator {
	m := opts.Metrics
	if m == nil {
		m = nopRecorder{}
	}
	return &Hydrator{cache: opts.Cache, snapshot: opts.Snapshot, metrics: m}
}

// frame is one work-stack level, keyed by the column range it owns. The stack
// replaces language-level recursion so arbitrarily deep entity graphs cannot
// blow the goroutine stack.
type frame struct {
	plan     *ColumnPlan
	base     int
	nullable bool
	root     bool

	key      entitycache.EntityKey
	children []any
	next     int
	keyed    bool
}

// pendingPut is a cache write held back until the whole row hydrates. An error
// mid-row must not leave partial state in the entity cache.
type pendingPut struct {
	key      entitycache.EntityKey
	typeName string
	instance any
	own      []any
}

// Hydrate produces one fully-populated, possibly nested instance from row.
// The interner deduplicates repeated keys within the current query; a nil
// interner gets a throwaway one covering just this row.
func (h *Hydrator) Hydrate(in *Interner, row Row, plan *ColumnPlan) (any, error) {
	if in == nil {
		in = NewInterner()
	}
	if len(row) < plan.Span() {
		return nil, fmt.Errorf("%w: have %d columns, plan %s spans %d", ErrShortRow, len(row), plan.TypeName, plan.Span())
	}

	var pending []pendingPut
	stack := []*frame{{plan: plan, base: 0, root: true}}

	var result any
	delivering := false

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		if delivering {
			f.children[f.next] = result
			f.next++
			delivering = false
		}

		if !f.keyed {
			done, instance, err := h.openFrame(f, in, row)
			if err != nil {
				return nil, err
			}
			if done {
				stack = stack[:len(stack)-1]
				result = instance
				delivering = true
				continue
			}
		}

		pushed := false
		for f.next < len(f.plan.Relations) {
			rel := &f.plan.Relations[f.next]
			off := f.base + f.plan.RelationOffset(f.next)
			if rel.Deferred {
				ref, err := deferredChild(f.plan, rel, row[off])
				if err != nil {
					return nil, err
				}
				f.children[f.next] = ref
				f.next++
				continue
			}
			stack = append(stack, &frame{plan: rel.Plan, base: off, nullable: rel.Nullable})
			pushed = true
			break
		}
		if pushed {
			continue
		}

		own := make([]any, len(f.plan.Columns))
		copy(own, row[f.base:f.base+len(f.plan.Columns)])

		instance, err := f.plan.Build(own, f.children)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", f.plan.TypeName, err)
		}

		in.intern(f.key, instance)
		pending = append(pending, pendingPut{key: f.key, typeName: f.plan.TypeName, instance: instance, own: own})

		stack = stack[:len(stack)-1]
		result = instance
		delivering = true
	}

	if h.cache != nil {
		for i := range pending {
			p := &pending[i]
			snap := p.own
			if h.snapshot != nil {
				snap = h.snapshot(p.typeName, p.own)
			}
			h.cache.Put(p.key, p.instance, snap)
		}
	}
	return result, nil
}

// openFrame runs steps 1-2 for one nesting level: primary-key extraction
// before anything else, then the cache (root only) and interner checks. A hit
// or a null relation completes the frame without construction, skipping the
// subtree entirely since column addressing is offset-based.
func (h *Hydrator) openFrame(f *frame, in *Interner, row Row) (done bool, instance any, err error) {
	components := make([]any, len(f.plan.PKOffsets))
	nilComponent := false
	for i, off := range f.plan.PKOffsets {
		v := row[f.base+off]
		if v == nil {
			nilComponent = true
		}
		components[i] = v
	}

	if nilComponent {
		if f.nullable && allNull(row, f.base, f.plan.Span()) {
			return true, nil, nil
		}
		return false, nil, &IntegrityError{Entity: f.plan.TypeName, Detail: "null primary-key component"}
	}

	key, err := entitycache.NewKey(f.plan.TypeName, components...)
	if err != nil {
		return false, nil, &IntegrityError{Entity: f.plan.TypeName, Detail: err.Error()}
	}
	f.key = key

	if f.root && h.cache != nil {
		if cached, ok := h.cache.Lookup(key); ok {
			h.metrics.CacheHit(f.plan.TypeName)
			// Interning the cache hit keeps later occurrences in this stream
			// resolving to the same instance.
			in.intern(key, cached)
			return true, cached, nil
		}
		h.metrics.CacheMiss(f.plan.TypeName)
	}

	if cached, ok := in.lookup(key); ok {
		h.metrics.InternerHit(f.plan.TypeName)
		return true, cached, nil
	}

	f.keyed = true
	f.children = make([]any, len(f.plan.Relations))
	return false, nil, nil
}

// deferredChild reads only the foreign-key column of a deferred relation.
func deferredChild(parent *ColumnPlan, rel *RelationPlan, fk any) (any, error) {
	if fk == nil {
		if rel.Nullable {
			return nil, nil
		}
		return nil, &IntegrityError{Entity: parent.TypeName, Relation: rel.Name, Detail: "null foreign key"}
	}
	key, err := entitycache.NewKey(rel.TargetType, fk)
	if err != nil {
		return nil, &IntegrityError{Entity: parent.TypeName, Relation: rel.Name, Detail: err.Error()}
	}
	return DeferredRef{Key: key}, nil
}

func allNull(row Row, base, span int) bool {
	for i := base; i < base+span; i++ {
		if row[i] != nil {
			return false
		}
	}
	return true
}
