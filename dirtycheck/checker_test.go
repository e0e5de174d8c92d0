package dirtycheck

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entity-session/entitycache"
	"github.com/goliatone/go-entity-session/hydration"
)

type account struct {
	ID      int64
	Name    string
	Balance int64
	Owner   *owner
}

type owner struct {
	Email string
}

func accountPlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "Account",
		Columns:   []string{"id", "name", "balance", "owner"},
		PKOffsets: []int{0},
		Build: func(own []any, _ []any) (any, error) {
			a := &account{ID: own[0].(int64), Name: own[1].(string), Balance: own[2].(int64)}
			if own[3] != nil {
				a.Owner = own[3].(*owner)
			}
			return a, nil
		},
		Fields: func(instance any) []any {
			a := instance.(*account)
			var o any
			if a.Owner != nil {
				o = a.Owner
			}
			return []any{a.ID, a.Name, a.Balance, o}
		},
	}
}

// seed stores a baseline for the account through the checker's own capture
// path, mirroring what the hydrator does after construction.
func seed(c *Checker, store *entitycache.Store, a *account) entitycache.EntityKey {
	key := entitycache.MustKey("Account", a.ID)
	var o any
	if a.Owner != nil {
		o = a.Owner
	}
	own := []any{a.ID, a.Name, a.Balance, o}
	store.Put(key, a, c.CaptureBaseline("Account", own))
	return key
}

func newStore() *entitycache.Store {
	return entitycache.NewStore(entitycache.Options{Isolation: sql.LevelRepeatableRead})
}

func TestDiff_ModeOffAlwaysFullRow(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{Baseline: store, Mode: ModeOff})

	a := &account{ID: 1, Name: "x", Balance: 10}
	key := seed(c, store, a)

	d := c.Diff(key, a, accountPlan())
	assert.Equal(t, FullRow, d.Kind)
	assert.Equal(t, ReasonModeOff, d.Reason)
}

func TestDiff_EntityModeNoWriteWhenClean(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{Baseline: store, Mode: ModeEntity})

	a := &account{ID: 1, Name: "x", Balance: 10, Owner: &owner{Email: "a@b"}}
	key := seed(c, store, a)

	d := c.Diff(key, a, accountPlan())
	assert.Equal(t, NoWrite, d.Kind)

	a.Balance = 11
	d = c.Diff(key, a, accountPlan())
	assert.Equal(t, FullRow, d.Kind)
	assert.Equal(t, ReasonChanged, d.Reason)
}

func TestDiff_FieldModeReturnsExactColumns(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{Baseline: store, Mode: ModeField})

	a := &account{ID: 1, Name: "x", Balance: 10}
	key := seed(c, store, a)

	a.Name = "y"
	a.Balance = 20

	d := c.Diff(key, a, accountPlan())
	require.Equal(t, ChangedColumns, d.Kind)
	if diff := cmp.Diff([]string{"name", "balance"}, d.Columns); diff != "" {
		t.Errorf("changed columns mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_NoBaselineFallsBackToFullRow(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{Baseline: store, Mode: ModeField})

	a := &account{ID: 99, Name: "x", Balance: 10}
	key := entitycache.MustKey("Account", a.ID)

	d := c.Diff(key, a, accountPlan())
	assert.Equal(t, FullRow, d.Kind)
	assert.Equal(t, ReasonNoBaseline, d.Reason)
}

func TestDiff_ByReferenceMissesInPlaceMutation(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{Baseline: store, Mode: ModeField, Strategy: CompareByReference})

	a := &account{ID: 1, Name: "x", Balance: 10, Owner: &owner{Email: "a@b"}}
	key := seed(c, store, a)

	// Same pointer, mutated contents: by-reference cannot see this, which is
	// exactly why it is only correct for immutable value objects.
	a.Owner.Email = "c@d"
	d := c.Diff(key, a, accountPlan())
	assert.Equal(t, NoWrite, d.Kind)

	// A replaced pointer is visible.
	a.Owner = &owner{Email: "c@d"}
	d = c.Diff(key, a, accountPlan())
	require.Equal(t, ChangedColumns, d.Kind)
	assert.Equal(t, []string{"owner"}, d.Columns)
}

func TestDiff_ByValueSeesInPlaceMutation(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{Baseline: store, Mode: ModeField, Strategy: CompareByValue})

	a := &account{ID: 1, Name: "x", Balance: 10, Owner: &owner{Email: "a@b"}}
	key := seed(c, store, a)

	a.Owner.Email = "c@d"
	d := c.Diff(key, a, accountPlan())
	require.Equal(t, ChangedColumns, d.Kind)
	assert.Equal(t, []string{"owner"}, d.Columns)
}

func TestDiff_PerTypeOverrides(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{
		Baseline:       store,
		Mode:           ModeField,
		ModeByType:     map[string]Mode{"Account": ModeOff},
		Strategy:       CompareByReference,
		StrategyByType: map[string]Strategy{"Account": CompareByValue},
	})

	assert.Equal(t, ModeOff, c.ModeFor("Account"))
	assert.Equal(t, ModeField, c.ModeFor("Order"))
	assert.Equal(t, CompareByValue, c.StrategyFor("Account"))
	assert.Equal(t, CompareByReference, c.StrategyFor("Order"))
	assert.False(t, c.Enabled("Account"))
	assert.True(t, c.Enabled("Order"))
}

func TestDiff_ShapeCeilingTripsMonotonically(t *testing.T) {
	store := newStore()
	c := NewChecker(Options{
		Baseline: store,
		Mode:     ModeField,
		Shapes:   NewShapeTracker(2),
	})

	a := &account{ID: 1, Name: "x", Balance: 10}
	key := seed(c, store, a)

	mutations := []func(*account){
		func(a *account) { a.Name = "n1" },
		func(a *account) { a.Balance = 1 },
		func(a *account) { a.Name = "n2"; a.Balance = 2 },
	}

	// First two distinct shapes pass; the third trips the ceiling.
	kinds := make([]Kind, 0, 3)
	for _, mutate := range mutations {
		fresh := &account{ID: 1, Name: "x", Balance: 10}
		seed(c, store, fresh)
		mutate(fresh)
		kinds = append(kinds, c.Diff(key, fresh, accountPlan()).Kind)
	}
	assert.Equal(t, []Kind{ChangedColumns, ChangedColumns, FullRow}, kinds)

	// Once tripped, even a previously-admitted shape gets full-row.
	fresh := &account{ID: 1, Name: "x", Balance: 10}
	seed(c, store, fresh)
	fresh.Name = "n3"
	d := c.Diff(key, fresh, accountPlan())
	assert.Equal(t, FullRow, d.Kind)
	assert.Equal(t, ReasonShapeCeiling, d.Reason)
}

func TestShapeTracker_OrderInsensitiveSignatures(t *testing.T) {
	tr := NewShapeTracker(1)

	admitted, _ := tr.Admit("Account", []string{"a", "b"})
	require.True(t, admitted)

	// Same subset, different order: same shape, still admitted.
	admitted, trippedNow := tr.Admit("Account", []string{"b", "a"})
	assert.True(t, admitted)
	assert.False(t, trippedNow)

	admitted, trippedNow = tr.Admit("Account", []string{"a"})
	assert.False(t, admitted)
	assert.True(t, trippedNow)
	assert.True(t, tr.Tripped("Account"))
	assert.False(t, tr.Tripped("Order"))
}

func TestShapeTracker_PerTypeIsolation(t *testing.T) {
	tr := NewShapeTracker(1)

	admitted, _ := tr.Admit("Account", []string{"a"})
	require.True(t, admitted)

	admitted, _ = tr.Admit("Order", []string{"a"})
	assert.True(t, admitted, "ceilings are tracked per type")
}

func TestShapeTracker_ConcurrentAdmit(t *testing.T) {
	tr := NewShapeTracker(4)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				tr.Admit("Account", []string{fmt.Sprintf("col%d", i%8)})
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.True(t, tr.Tripped("Account"))
}
