package dirtycheck

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// ShapeTracker bounds the number of distinct update shapes (column subsets)
// generated per entity type. Every distinct shape becomes a distinct prepared
// statement downstream; once a type exceeds the ceiling, every subsequent
// update for it falls back to a full-row write for the rest of the tracker's
// lifetime. The trip is monotonic and never resets.
//
// The tracker is shared across transactions, so unlike the rest of this core
// it carries its own synchronization.
type ShapeTracker struct {
	limit int
	types *xsync.MapOf[string, *typeShapes]
}

type typeShapes struct {
	mu      sync.Mutex
	seen    map[uint64]struct{}
	tripped bool
}

// NewShapeTracker builds a tracker allowing up to limit distinct shapes per
// type. A non-positive limit disables tracking (every shape admitted).
func NewShapeTracker(limit int) *ShapeTracker {
	return &ShapeTracker{
		limit: limit,
		types: xsync.NewMapOf[string, *typeShapes](),
	}
}

// Admit reports whether a column subset may be emitted as its own update
// shape. The first return is false once the type has tripped; the second is
// true when this exact call caused the trip.
func (t *ShapeTracker) Admit(typeName string, columns []string) (admitted, trippedNow bool) {
	if t == nil || t.limit <= 0 {
		return true, false
	}

	ts, _ := t.types.LoadOrCompute(typeName, func() *typeShapes {
		return &typeShapes{seen: make(map[uint64]struct{})}
	})

	sig := shapeSignature(columns)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.tripped {
		return false, false
	}
	if _, ok := ts.seen[sig]; ok {
		return true, false
	}
	if len(ts.seen)+1 > t.limit {
		ts.tripped = true
		return false, true
	}
	ts.seen[sig] = struct{}{}
	return true, false
}

// Tripped reports whether the type has exceeded its shape ceiling.
func (t *ShapeTracker) Tripped(typeName string) bool {
	if t == nil || t.limit <= 0 {
		return false
	}
	ts, ok := t.types.Load(typeName)
	if !ok {
		return false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.tripped
}

// shapeSignature hashes a column subset order-insensitively.
func shapeSignature(columns []string) uint64 {
	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.Strings(sorted)
	return xxhash.Sum64String(strings.Join(sorted, "\x00"))
}
