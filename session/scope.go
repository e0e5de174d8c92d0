package session

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/goliatone/go-entity-session/dirtycheck"
	"github.com/goliatone/go-entity-session/entitycache"
	"github.com/goliatone/go-entity-session/hydration"
)

var (
	// ErrScopeClosed is returned by every operation on a scope that has begun
	// closing. Teardown happens exactly once even when a timeout races an
	// in-flight close.
	ErrScopeClosed = errors.New("session scope is closed")

	// ErrQueryEnded is returned by Hydrate on a query whose traversal ended.
	ErrQueryEnded = errors.New("query already ended")

	// ErrTypeMismatch is returned when a deferred reference is resolved
	// against a plan for a different entity type.
	ErrTypeMismatch = errors.New("deferred reference type does not match plan")
)

// State is the scope lifecycle state.
type State int32

const (
	StateActive State = iota
	StateCommitting
	StateRollingBack
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling-back"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseMode selects how a scope ends.
type CloseMode int

const (
	CloseCommit CloseMode = iota
	CloseRollback
)

// Metrics is the combined observation surface a scope reports to.
// *metrics.Recorder satisfies it.
type Metrics interface {
	hydration.Recorder
	dirtycheck.Recorder
	Invalidation(typeName string)
	FullInvalidation()
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(string)                {}
func (nopMetrics) CacheMiss(string)               {}
func (nopMetrics) InternerHit(string)             {}
func (nopMetrics) FullRowFallback(string, string) {}
func (nopMetrics) ShapeCeilingTrip(string)        {}
func (nopMetrics) Invalidation(string)            {}
func (nopMetrics) FullInvalidation()              {}

// Deps carries process-level collaborators shared across scopes. All fields
// are optional.
type Deps struct {
	// Metrics aggregates observations process-wide.
	Metrics Metrics

	// Shapes is the update-shape tracker. Sharing one across scopes widens the
	// ceiling window beyond a single transaction; nil builds a fresh tracker
	// from Config.MaxUpdateShapes.
	Shapes *dirtycheck.ShapeTracker
}

// Scope is the lifecycle container owning one transaction's entity cache. A
// scope is single-threaded by contract: all cache reads and writes within it
// are linearizable by construction, and concurrent use of one scope is
// unsupported. Only the close transition is atomic, so a transaction timeout
// firing concurrently with in-flight work still tears down exactly once.
type Scope struct {
	cfg      Config
	store    *entitycache.Store
	checker  *dirtycheck.Checker
	hydrator *hydration.Hydrator
	metrics  Metrics
	logger   *slog.Logger

	parent    *Scope
	ownsStore bool
	savepoint uint64
	nested    bool

	state atomic.Int32

	activeQuery *Query

	suppressDepth     int
	pendingInvalid    []entitycache.EntityKey
	pendingInvalidAll bool
}

// New creates a top-level scope with its own empty entity cache.
func New(cfg Config) (*Scope, error) {
	return NewWithDeps(cfg, Deps{})
}

// NewWithDeps creates a top-level scope wired to shared process-level
// collaborators.
func NewWithDeps(cfg Config, deps Deps) (*Scope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	shapes := deps.Shapes
	if shapes == nil {
		shapes = dirtycheck.NewShapeTracker(cfg.MaxUpdateShapes)
	}

	// The store asks the checker whether dirty checking is enabled for a type
	// when deciding low-isolation baseline writes; the checker reads baselines
	// back from the store. The closure breaks the construction cycle.
	var checker *dirtycheck.Checker
	store := entitycache.NewStore(entitycache.Options{
		Isolation: cfg.Isolation,
		ReadOnly:  cfg.ReadOnly,
		Retention: cfg.Retention,
		Capacity:  cfg.RetentionCapacity,
		DirtyEnabled: func(typeName string) bool {
			return checker.Enabled(typeName)
		},
	})
	checker = dirtycheck.NewChecker(dirtycheck.Options{
		Baseline:       store,
		Mode:           cfg.UpdateMode,
		ModeByType:     cfg.UpdateModeByType,
		Strategy:       cfg.CompareStrategy,
		StrategyByType: cfg.CompareStrategyByType,
		Shapes:         shapes,
		Metrics:        m,
	})

	s := &Scope{
		cfg:       cfg,
		store:     store,
		checker:   checker,
		metrics:   m,
		logger:    cfg.logger(),
		ownsStore: true,
	}
	s.hydrator = hydration.NewHydrator(hydration.Options{
		Cache:    store,
		Snapshot: checker.CaptureBaseline,
		Metrics:  m,
	})
	s.logger.Debug("scope created",
		slog.String("isolation", cfg.Isolation.String()),
		slog.Bool("read_only", cfg.ReadOnly))
	return s, nil
}

// Fork creates an independent child scope with a brand-new, empty entity
// cache: the propagation modes that start their own transaction.
func (s *Scope) Fork() (*Scope, error) {
	if err := s.ensureActive(); err != nil {
		return nil, err
	}
	child, err := NewWithDeps(s.cfg, Deps{Metrics: s.metrics, Shapes: nil})
	if err != nil {
		return nil, err
	}
	child.parent = s
	return child, nil
}

// Share creates a child scope joining this scope's transaction: the same
// entity cache by reference. Closing the child never discards the shared
// cache; only the owning scope's close does.
func (s *Scope) Share() (*Scope, error) {
	if err := s.ensureActive(); err != nil {
		return nil, err
	}
	child := &Scope{
		cfg:      s.cfg,
		store:    s.store,
		checker:  s.checker,
		hydrator: s.hydrator,
		metrics:  s.metrics,
		logger:   s.logger,
		parent:   s,
	}
	return child, nil
}

// Nested creates a child scope joining the transaction behind a savepoint:
// the cache is shared, but rolling the child back discards entries written
// since the savepoint. Entries from before remain valid.
func (s *Scope) Nested() (*Scope, error) {
	child, err := s.Share()
	if err != nil {
		return nil, err
	}
	child.nested = true
	child.savepoint = s.store.Mark()
	return child, nil
}

// Close ends the scope. For the scope that owns the cache this discards every
// entry unconditionally: no entry outlives its top-level transaction. For a
// nested scope rolling back, only entries written since the savepoint go. The
// transition is atomic and happens exactly once; later calls and all further
// operations return ErrScopeClosed.
func (s *Scope) Close(mode CloseMode) error {
	target := StateCommitting
	if mode == CloseRollback {
		target = StateRollingBack
	}
	if !s.state.CompareAndSwap(int32(StateActive), int32(target)) {
		return ErrScopeClosed
	}

	if s.activeQuery != nil {
		s.activeQuery.End()
	}

	switch {
	case s.ownsStore:
		s.store.InvalidateAll()
	case s.nested && mode == CloseRollback:
		s.store.RollbackTo(s.savepoint)
		s.logger.Debug("savepoint rolled back")
	}

	s.state.Store(int32(StateClosed))
	s.logger.Debug("scope closed", slog.String("mode", target.String()))
	return nil
}

// State returns the scope's lifecycle state.
func (s *Scope) State() State {
	return State(s.state.Load())
}

func (s *Scope) ensureActive() error {
	if s.State() != StateActive {
		return ErrScopeClosed
	}
	return nil
}

// LookupCached returns the cached instance for key, subject to the scope's
// isolation policy. A miss is never an error.
func (s *Scope) LookupCached(key entitycache.EntityKey) (any, bool) {
	if s.ensureActive() != nil {
		return nil, false
	}
	return s.store.Lookup(key)
}

// Invalidate removes the entry for key so the next lookup never returns the
// pre-mutation instance. While invalidation is suppressed the removal is
// recorded and applied when suppression unwinds.
func (s *Scope) Invalidate(key entitycache.EntityKey) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	if s.suppressDepth > 0 {
		s.pendingInvalid = append(s.pendingInvalid, key)
		return nil
	}
	s.store.Invalidate(key)
	s.metrics.Invalidation(key.Type())
	return nil
}

// InvalidateAll empties the scope's cache: the only safe response to a raw or
// untyped mutation whose affected rows cannot be attributed to keys.
func (s *Scope) InvalidateAll() error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	if s.suppressDepth > 0 {
		s.pendingInvalidAll = true
		return nil
	}
	s.store.InvalidateAll()
	s.metrics.FullInvalidation()
	s.logger.Debug("scope cache invalidated")
	return nil
}

// SuppressInvalidation raises the re-entrant suppression depth and returns the
// function that lowers it. Invalidations issued while suppressed are deferred,
// not dropped; they apply when the depth unwinds to zero. The counter lives on
// the scope, never in global state.
func (s *Scope) SuppressInvalidation() func() {
	s.suppressDepth++
	released := false
	return func() {
		if released {
			return
		}
		released = true
		s.suppressDepth--
		if s.suppressDepth > 0 {
			return
		}
		if s.pendingInvalidAll {
			s.pendingInvalidAll = false
			s.pendingInvalid = nil
			s.store.InvalidateAll()
			s.metrics.FullInvalidation()
			return
		}
		for _, key := range s.pendingInvalid {
			s.store.Invalidate(key)
			s.metrics.Invalidation(key.Type())
		}
		s.pendingInvalid = nil
	}
}

// DiffForUpdate compares candidate against the scope's snapshot for key and
// decides the update statement shape. With no baseline present the decision
// is a full-row write, the designed degradation path.
func (s *Scope) DiffForUpdate(key entitycache.EntityKey, candidate any, plan *hydration.ColumnPlan) (dirtycheck.Decision, error) {
	if err := s.ensureActive(); err != nil {
		return dirtycheck.Decision{}, err
	}
	return s.checker.Diff(key, candidate, plan), nil
}
