package session_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entity-session/dirtycheck"
	"github.com/goliatone/go-entity-session/entitycache"
	"github.com/goliatone/go-entity-session/hydration"
	"github.com/goliatone/go-entity-session/pkg/testsupport"
	"github.com/goliatone/go-entity-session/session"
)

func newScope(t *testing.T, mutate func(*session.Config)) *session.Scope {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Isolation = sql.LevelRepeatableRead
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := session.New(cfg)
	require.NoError(t, err)
	return s
}

func hydrateUser(t *testing.T, s *session.Scope, row hydration.Row) *testsupport.User {
	t.Helper()
	q, err := s.BeginQuery()
	require.NoError(t, err)
	defer q.End()
	out, err := q.Hydrate(row, testsupport.UserPlan())
	require.NoError(t, err)
	return out.(*testsupport.User)
}

func TestScopePreservesIdentityAcrossQueries(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	first := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", int64(10), "lisbon"))
	second := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", int64(10), "lisbon"))

	assert.Same(t, first, second)
	assert.Same(t, first.Address, second.Address)
}

func TestInvalidateForcesFreshInstance(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	first := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	require.NoError(t, s.Invalidate(entitycache.MustKey("User", int64(1))))
	second := hydrateUser(t, s, testsupport.UserRow(1, "ana", "renamed@x", nil, nil))

	assert.NotSame(t, first, second)
	assert.Equal(t, "renamed@x", second.Email)
}

func TestInvalidateAllAfterRawMutation(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	first := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	require.NoError(t, s.InvalidateAll())

	_, ok := s.LookupCached(entitycache.MustKey("User", int64(1)))
	assert.False(t, ok)

	second := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	assert.NotSame(t, first, second)
}

func TestLowIsolationMissesButKeepsBaseline(t *testing.T) {
	s := newScope(t, func(cfg *session.Config) {
		cfg.Isolation = sql.LevelReadCommitted
	})
	defer s.Close(session.CloseRollback)

	first := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	second := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))

	// Identity reads are off below RepeatableRead: every read is a fresh
	// instance, matching what the database would return.
	assert.NotSame(t, first, second)

	// The dirty-check baseline still landed, so an update of the mutated
	// instance narrows to the changed column.
	second.Email = "new@x"
	dec, err := s.DiffForUpdate(entitycache.MustKey("User", int64(1)), second, testsupport.UserPlan())
	require.NoError(t, err)
	assert.Equal(t, dirtycheck.ChangedColumns, dec.Kind)
	assert.Equal(t, []string{"email"}, dec.Columns)
}

func TestReadOnlyScopeCachesAtAnyIsolation(t *testing.T) {
	s := newScope(t, func(cfg *session.Config) {
		cfg.Isolation = sql.LevelReadCommitted
		cfg.ReadOnly = true
	})
	defer s.Close(session.CloseCommit)

	first := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	second := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	assert.Same(t, first, second)
}

func TestDiffForUpdateCleanAndChanged(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	u := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	key := entitycache.MustKey("User", int64(1))

	dec, err := s.DiffForUpdate(key, u, testsupport.UserPlan())
	require.NoError(t, err)
	assert.Equal(t, dirtycheck.NoWrite, dec.Kind)

	u.Name = "anabela"
	dec, err = s.DiffForUpdate(key, u, testsupport.UserPlan())
	require.NoError(t, err)
	assert.Equal(t, dirtycheck.ChangedColumns, dec.Kind)
	assert.Equal(t, []string{"name"}, dec.Columns)
}

func TestDiffForUpdateWithoutBaselineDegradesToFullRow(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	dec, err := s.DiffForUpdate(entitycache.MustKey("User", int64(99)), &testsupport.User{ID: 99}, testsupport.UserPlan())
	require.NoError(t, err)
	assert.Equal(t, dirtycheck.FullRow, dec.Kind)
	assert.Equal(t, dirtycheck.ReasonNoBaseline, dec.Reason)
}

func TestCloseHappensExactlyOnce(t *testing.T) {
	s := newScope(t, nil)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mode := session.CloseCommit
			if i%2 == 1 {
				mode = session.CloseRollback
			}
			errs[i] = s.Close(mode)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, session.ErrScopeClosed)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, session.StateClosed, s.State())
}

func TestClosedScopeRejectsEverything(t *testing.T) {
	s := newScope(t, nil)
	require.NoError(t, s.Close(session.CloseCommit))

	_, err := s.BeginQuery()
	assert.ErrorIs(t, err, session.ErrScopeClosed)
	assert.ErrorIs(t, s.Invalidate(entitycache.MustKey("User", int64(1))), session.ErrScopeClosed)
	assert.ErrorIs(t, s.InvalidateAll(), session.ErrScopeClosed)
	_, err = s.DiffForUpdate(entitycache.MustKey("User", int64(1)), &testsupport.User{}, testsupport.UserPlan())
	assert.ErrorIs(t, err, session.ErrScopeClosed)
	_, ok := s.LookupCached(entitycache.MustKey("User", int64(1)))
	assert.False(t, ok)
	_, err = s.Fork()
	assert.ErrorIs(t, err, session.ErrScopeClosed)
	_, err = s.Share()
	assert.ErrorIs(t, err, session.ErrScopeClosed)
}

func TestCloseEndsAbandonedQuery(t *testing.T) {
	s := newScope(t, nil)
	q, err := s.BeginQuery()
	require.NoError(t, err)

	_, err = q.Hydrate(testsupport.UserRow(1, "ana", "ana@x", nil, nil), testsupport.UserPlan())
	require.NoError(t, err)

	require.NoError(t, s.Close(session.CloseCommit))
	_, err = q.Hydrate(testsupport.UserRow(2, "bea", "bea@x", nil, nil), testsupport.UserPlan())
	assert.ErrorIs(t, err, session.ErrQueryEnded)
}

func TestEndedQueryRejectsHydrate(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	q, err := s.BeginQuery()
	require.NoError(t, err)
	q.End()
	q.End() // idempotent

	_, err = q.Hydrate(testsupport.UserRow(1, "ana", "ana@x", nil, nil), testsupport.UserPlan())
	assert.ErrorIs(t, err, session.ErrQueryEnded)
	assert.Zero(t, q.InternerHits())
}

func TestInternerDoesNotOutliveQuery(t *testing.T) {
	s := newScope(t, func(cfg *session.Config) {
		cfg.Isolation = sql.LevelReadCommitted
	})
	defer s.Close(session.CloseRollback)

	q, err := s.BeginQuery()
	require.NoError(t, err)
	row := testsupport.UserRow(1, "ana", "ana@x", nil, nil)
	first, err := q.Hydrate(row, testsupport.UserPlan())
	require.NoError(t, err)
	second, err := q.Hydrate(row, testsupport.UserPlan())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, uint64(1), q.InternerHits())
	q.End()

	// The next query starts with a fresh interner; at this isolation the
	// cache misses too, so a new instance comes back.
	q2, err := s.BeginQuery()
	require.NoError(t, err)
	defer q2.End()
	third, err := q2.Hydrate(row, testsupport.UserPlan())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestForkStartsEmpty(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	parent := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))

	child, err := s.Fork()
	require.NoError(t, err)
	defer child.Close(session.CloseRollback)

	_, ok := child.LookupCached(entitycache.MustKey("User", int64(1)))
	assert.False(t, ok)

	forked := hydrateUser(t, child, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	assert.NotSame(t, parent, forked)
}

func TestShareJoinsTheSameCache(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	parent := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))

	child, err := s.Share()
	require.NoError(t, err)

	shared := hydrateUser(t, child, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	assert.Same(t, parent, shared)

	// Closing the sharing child leaves the owning scope's cache intact.
	require.NoError(t, child.Close(session.CloseCommit))
	_, ok := s.LookupCached(entitycache.MustKey("User", int64(1)))
	assert.True(t, ok)
}

func TestNestedRollbackDiscardsEntriesSinceSavepoint(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	before := hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))

	nested, err := s.Nested()
	require.NoError(t, err)
	hydrateUser(t, nested, testsupport.UserRow(2, "bea", "bea@x", nil, nil))
	require.NoError(t, nested.Close(session.CloseRollback))

	got, ok := s.LookupCached(entitycache.MustKey("User", int64(1)))
	require.True(t, ok)
	assert.Same(t, before, got)

	_, ok = s.LookupCached(entitycache.MustKey("User", int64(2)))
	assert.False(t, ok)
}

func TestNestedCommitKeepsEntries(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	nested, err := s.Nested()
	require.NoError(t, err)
	inner := hydrateUser(t, nested, testsupport.UserRow(2, "bea", "bea@x", nil, nil))
	require.NoError(t, nested.Close(session.CloseCommit))

	got, ok := s.LookupCached(entitycache.MustKey("User", int64(2)))
	require.True(t, ok)
	assert.Same(t, inner, got)
}

func TestSuppressionDefersInvalidation(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	key := entitycache.MustKey("User", int64(1))
	hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))

	release := s.SuppressInvalidation()
	require.NoError(t, s.Invalidate(key))

	_, ok := s.LookupCached(key)
	assert.True(t, ok, "invalidation applies only after suppression unwinds")

	release()
	release() // second call is a no-op

	_, ok = s.LookupCached(key)
	assert.False(t, ok)
}

func TestSuppressionIsReentrant(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	key := entitycache.MustKey("User", int64(1))
	hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))

	outer := s.SuppressInvalidation()
	inner := s.SuppressInvalidation()
	require.NoError(t, s.Invalidate(key))

	inner()
	_, ok := s.LookupCached(key)
	assert.True(t, ok, "outer suppression still holds")

	outer()
	_, ok = s.LookupCached(key)
	assert.False(t, ok)
}

func TestSuppressedFullInvalidationWins(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	hydrateUser(t, s, testsupport.UserRow(1, "ana", "ana@x", nil, nil))
	hydrateUser(t, s, testsupport.UserRow(2, "bea", "bea@x", nil, nil))

	release := s.SuppressInvalidation()
	require.NoError(t, s.Invalidate(entitycache.MustKey("User", int64(1))))
	require.NoError(t, s.InvalidateAll())
	release()

	_, ok := s.LookupCached(entitycache.MustKey("User", int64(1)))
	assert.False(t, ok)
	_, ok = s.LookupCached(entitycache.MustKey("User", int64(2)))
	assert.False(t, ok)
}

func TestResolveFetchesOnceThenServesFromCache(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	q, err := s.BeginQuery()
	require.NoError(t, err)
	out, err := q.Hydrate(testsupport.UserWithCompanyRow(1, "ana", "ana@x", int64(7)), testsupport.UserWithCompanyPlan())
	require.NoError(t, err)
	q.End()

	ref, ok := out.(*testsupport.User).Company.(hydration.DeferredRef)
	require.True(t, ok)

	fetches := 0
	fetch := func(ctx context.Context, key entitycache.EntityKey) (hydration.Row, error) {
		fetches++
		return hydration.Row{int64(7), "acme"}, nil
	}

	first, err := s.Resolve(context.Background(), ref, testsupport.CompanyPlan(), fetch)
	require.NoError(t, err)
	require.Equal(t, 1, fetches)
	assert.Equal(t, "acme", first.(*testsupport.Company).Name)

	second, err := s.Resolve(context.Background(), ref, testsupport.CompanyPlan(), func(context.Context, entitycache.EntityKey) (hydration.Row, error) {
		t.Fatal("cached resolve must not fetch")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestResolveMissingRowReturnsNil(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	ref := hydration.DeferredRef{Key: entitycache.MustKey("Company", int64(404))}
	out, err := s.Resolve(context.Background(), ref, testsupport.CompanyPlan(), func(context.Context, entitycache.EntityKey) (hydration.Row, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResolveRejectsPlanTypeMismatch(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	ref := hydration.DeferredRef{Key: entitycache.MustKey("Company", int64(7))}
	_, err := s.Resolve(context.Background(), ref, testsupport.UserPlan(), func(context.Context, entitycache.EntityKey) (hydration.Row, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, session.ErrTypeMismatch)
}

func TestCompositeKeyIdentity(t *testing.T) {
	s := newScope(t, nil)
	defer s.Close(session.CloseRollback)

	q, err := s.BeginQuery()
	require.NoError(t, err)
	first, err := q.Hydrate(testsupport.OrderLineRow(1, "sku-a", 3), testsupport.OrderLinePlan())
	require.NoError(t, err)
	q.End()

	q2, err := s.BeginQuery()
	require.NoError(t, err)
	second, err := q2.Hydrate(testsupport.OrderLineRow(1, "sku-a", 3), testsupport.OrderLinePlan())
	require.NoError(t, err)
	q2.End()

	assert.Same(t, first, second)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*session.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: nil},
		{name: "mode off", mutate: func(c *session.Config) { c.UpdateMode = dirtycheck.ModeOff }},
		{name: "invalid mode", mutate: func(c *session.Config) { c.UpdateMode = dirtycheck.Mode(42) }, wantErr: true},
		{name: "invalid per-type mode", mutate: func(c *session.Config) {
			c.UpdateModeByType = map[string]dirtycheck.Mode{"User": dirtycheck.Mode(-1)}
		}, wantErr: true},
		{name: "invalid strategy", mutate: func(c *session.Config) { c.CompareStrategy = dirtycheck.Strategy(9) }, wantErr: true},
		{name: "negative shape ceiling", mutate: func(c *session.Config) { c.MaxUpdateShapes = -1 }, wantErr: true},
		{name: "negative retention capacity", mutate: func(c *session.Config) { c.RetentionCapacity = -1 }, wantErr: true},
		{name: "invalid retention", mutate: func(c *session.Config) { c.Retention = entitycache.RetentionMode(3) }, wantErr: true},
		{name: "minimal retention", mutate: func(c *session.Config) { c.Retention = entitycache.RetentionMinimal }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := session.DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr {
				var cerr *session.ConfigError
				assert.ErrorAs(t, err, &cerr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.MaxUpdateShapes = -1
	_, err := session.New(cfg)
	var cerr *session.ConfigError
	assert.ErrorAs(t, err, &cerr)
}
