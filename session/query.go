package session

import (
	"context"
	"fmt"

	"github.com/goliatone/go-entity-session/entitycache"
	"github.com/goliatone/go-entity-session/hydration"
)

// Query is one logical result-set traversal. It owns the interner that
// deduplicates repeated entity occurrences within the stream; the interner is
// discarded when the traversal ends or the scope closes, and never carries
// over to the next query.
type Query struct {
	scope    *Scope
	interner *hydration.Interner
	ended    bool
}

// BeginQuery opens a query execution against the scope.
func (s *Scope) BeginQuery() (*Query, error) {
	if err := s.ensureActive(); err != nil {
		return nil, err
	}
	q := &Query{scope: s, interner: hydration.NewInterner()}
	s.activeQuery = q
	return q, nil
}

// Hydrate constructs one object graph from row per plan, consulting the
// scope's entity cache and this query's interner before building anything.
func (q *Query) Hydrate(row hydration.Row, plan *hydration.ColumnPlan) (any, error) {
	if q.ended {
		return nil, ErrQueryEnded
	}
	if err := q.scope.ensureActive(); err != nil {
		return nil, err
	}
	return q.scope.hydrator.Hydrate(q.interner, row, plan)
}

// InternerHits reports how many occurrences were served without construction.
func (q *Query) InternerHits() uint64 {
	if q.interner == nil {
		return 0
	}
	return q.interner.Hits()
}

// End discards the query's interner. Safe to call more than once; aborting a
// traversal mid-stream goes through the same path.
func (q *Query) End() {
	if q.ended {
		return
	}
	q.ended = true
	q.interner = nil
	if q.scope.activeQuery == q {
		q.scope.activeQuery = nil
	}
}

// FetchFunc retrieves the flat row for one entity key, typically a primary-key
// SELECT issued by the repository layer. Returning a nil row means the entity
// does not exist.
type FetchFunc func(ctx context.Context, key entitycache.EntityKey) (hydration.Row, error)

// Resolve turns a deferred reference into a full instance: the cache is
// consulted first, and only on a miss is the row fetched and hydrated as a
// fresh top-level operation.
func (s *Scope) Resolve(ctx context.Context, ref hydration.DeferredRef, plan *hydration.ColumnPlan, fetch FetchFunc) (any, error) {
	if err := s.ensureActive(); err != nil {
		return nil, err
	}
	if plan.TypeName != ref.Key.Type() {
		return nil, fmt.Errorf("%w: ref %s, plan %s", ErrTypeMismatch, ref.Key.Type(), plan.TypeName)
	}

	if cached, ok := s.store.Lookup(ref.Key); ok {
		s.metrics.CacheHit(plan.TypeName)
		return cached, nil
	}

	row, err := fetch(ctx, ref.Key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return s.hydrator.Hydrate(nil, row, plan)
}
