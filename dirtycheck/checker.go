package dirtycheck

import (
	"reflect"

	"github.com/goliatone/go-entity-session/entitycache"
	"github.com/goliatone/go-entity-session/hydration"
	"github.com/goliatone/go-entity-session/internal/snapshotinfra"
)

// Mode selects how much comparison the checker performs before an update.
type Mode int

const (
	// ModeOff performs no comparison; every update is a full-row write.
	ModeOff Mode = iota

	// ModeEntity performs a single any-field-different pass: full-row write if
	// anything changed, no write otherwise.
	ModeEntity

	// ModeField compares per field and writes only the differing columns.
	ModeField
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeEntity:
		return "entity"
	case ModeField:
		return "field"
	default:
		return "unknown"
	}
}

// Strategy selects how individual fields are compared against the snapshot.
type Strategy int

const (
	// CompareByReference is the fast path: identity for reference kinds,
	// shallow equality for comparable values. Correct only when unchanged
	// fields are guaranteed to be the same object as before, which holds for
	// immutable value objects.
	CompareByReference Strategy = iota

	// CompareByValue is structural equality over an encoded snapshot. Required
	// when a field's object could be mutated without producing a new reference.
	CompareByValue
)

func (s Strategy) String() string {
	switch s {
	case CompareByReference:
		return "by-reference"
	case CompareByValue:
		return "by-value"
	default:
		return "unknown"
	}
}

// Kind classifies a diff decision.
type Kind int

const (
	// NoWrite means no field differs; skip the statement entirely.
	NoWrite Kind = iota

	// FullRow means write every column.
	FullRow

	// ChangedColumns means write exactly Decision.Columns.
	ChangedColumns
)

// Reason explains a decision, mostly for logs and metrics. Degradation paths
// (no baseline, shape ceiling) are design behavior, not errors.
type Reason int

const (
	ReasonClean Reason = iota
	ReasonChanged
	ReasonModeOff
	ReasonNoBaseline
	ReasonNoFieldAccessor
	ReasonShapeCeiling
)

func (r Reason) String() string {
	switch r {
	case ReasonClean:
		return "clean"
	case ReasonChanged:
		return "changed"
	case ReasonModeOff:
		return "mode-off"
	case ReasonNoBaseline:
		return "no-baseline"
	case ReasonNoFieldAccessor:
		return "no-field-accessor"
	case ReasonShapeCeiling:
		return "shape-ceiling"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one diff.
type Decision struct {
	Kind    Kind
	Columns []string
	Reason  Reason
}

// BaselineSource serves dirty-check baselines. *entitycache.Store satisfies it.
type BaselineSource interface {
	Snapshot(key entitycache.EntityKey) ([]any, bool)
}

// Recorder receives dirty-check observations. Implemented by pkg/metrics.
type Recorder interface {
	FullRowFallback(typeName string, reason string)
	ShapeCeilingTrip(typeName string)
}

type nopRecorder struct{}

func (nopRecorder) FullRowFallback(string, string) {}
func (nopRecorder) ShapeCeilingTrip(string)        {}

// Options configures a Checker.
type Options struct {
	// Baseline is the snapshot source, normally the scope's entity cache.
	Baseline BaselineSource

	// Mode is the default update mode; ModeByType overrides per entity type.
	Mode       Mode
	ModeByType map[string]Mode

	// Strategy is the default comparison strategy; StrategyByType overrides.
	Strategy       Strategy
	StrategyByType map[string]Strategy

	// Shapes bounds distinct update shapes under ModeField. Nil disables the
	// ceiling.
	Shapes *ShapeTracker

	// Metrics receives fallback and ceiling observations.
	Metrics Recorder
}

// Checker compares candidate entities against their cached snapshots to decide
// whether an update is needed and, if so, which columns it must carry.
type Checker struct {
	baseline       BaselineSource
	codec          *snapshotinfra.Codec
	shapes         *ShapeTracker
	mode           Mode
	modeByType     map[string]Mode
	strategy       Strategy
	strategyByType map[string]Strategy
	metrics        Recorder
}

// NewChecker builds a checker for one scope.
func NewChecker(opts Options) *Checker {
	m := opts.Metrics
	if m == nil {
		m = nopRecorder{}
	}
	return &Checker{
		baseline:       opts.Baseline,
		codec:          snapshotinfra.NewCodec(),
		shapes:         opts.Shapes,
		mode:           opts.Mode,
		modeByType:     opts.ModeByType,
		strategy:       opts.Strategy,
		strategyByType: opts.StrategyByType,
		metrics:        m,
	}
}

// ModeFor resolves the update mode for an entity type.
func (c *Checker) ModeFor(typeName string) Mode {
	if m, ok := c.modeByType[typeName]; ok {
		return m
	}
	return c.mode
}

// StrategyFor resolves the comparison strategy for an entity type.
func (c *Checker) StrategyFor(typeName string) Strategy {
	if s, ok := c.strategyByType[typeName]; ok {
		return s
	}
	return c.strategy
}

// Enabled reports whether dirty checking does any work for the type. The
// entity cache uses this to decide whether low-isolation scopes record
// baselines at all.
func (c *Checker) Enabled(typeName string) bool {
	return c.ModeFor(typeName) != ModeOff
}

// CaptureBaseline converts observed column values into the snapshot
// representation the type's strategy compares against: encoded blobs for
// by-value types, the observed values themselves for by-reference types.
// This is the hydrator's SnapshotFunc.
func (c *Checker) CaptureBaseline(typeName string, own []any) []any {
	if c.StrategyFor(typeName) == CompareByValue {
		return c.codec.Capture(own)
	}
	return own
}

// Diff compares candidate against the cached snapshot for key. It never
// guesses: with no baseline it reports a full-row write, the designed
// degradation path, rather than an error.
func (c *Checker) Diff(key entitycache.EntityKey, candidate any, plan *hydration.ColumnPlan) Decision {
	typeName := plan.TypeName

	mode := c.ModeFor(typeName)
	if mode == ModeOff {
		return Decision{Kind: FullRow, Reason: ReasonModeOff}
	}
	if plan.Fields == nil {
		c.metrics.FullRowFallback(typeName, ReasonNoFieldAccessor.String())
		return Decision{Kind: FullRow, Reason: ReasonNoFieldAccessor}
	}

	baseline, ok := c.baseline.Snapshot(key)
	if !ok {
		c.metrics.FullRowFallback(typeName, ReasonNoBaseline.String())
		return Decision{Kind: FullRow, Reason: ReasonNoBaseline}
	}

	values := plan.Fields(candidate)
	if len(values) != len(baseline) || len(values) != len(plan.Columns) {
		// Snapshot taken under a different shape of the same type. Treat as
		// absent baseline.
		c.metrics.FullRowFallback(typeName, ReasonNoBaseline.String())
		return Decision{Kind: FullRow, Reason: ReasonNoBaseline}
	}

	strategy := c.StrategyFor(typeName)

	if mode == ModeEntity {
		for i := range values {
			if !c.fieldEqual(strategy, values[i], baseline[i]) {
				return Decision{Kind: FullRow, Reason: ReasonChanged}
			}
		}
		return Decision{Kind: NoWrite, Reason: ReasonClean}
	}

	var changed []string
	for i := range values {
		if !c.fieldEqual(strategy, values[i], baseline[i]) {
			changed = append(changed, plan.Columns[i])
		}
	}
	if len(changed) == 0 {
		return Decision{Kind: NoWrite, Reason: ReasonClean}
	}

	admitted, trippedNow := c.shapes.Admit(typeName, changed)
	if trippedNow {
		c.metrics.ShapeCeilingTrip(typeName)
	}
	if !admitted {
		c.metrics.FullRowFallback(typeName, ReasonShapeCeiling.String())
		return Decision{Kind: FullRow, Reason: ReasonShapeCeiling}
	}
	return Decision{Kind: ChangedColumns, Columns: changed, Reason: ReasonChanged}
}

func (c *Checker) fieldEqual(strategy Strategy, candidate, baseline any) bool {
	if strategy == CompareByValue {
		return c.codec.Equal(candidate, baseline)
	}
	return sameReference(candidate, baseline)
}

// sameReference implements the by-reference fast path: pointer identity for
// reference kinds, shallow equality for comparable values, changed otherwise.
func sameReference(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Len() == rb.Len() && (ra.Len() == 0 || ra.Pointer() == rb.Pointer())
	}
	if ra.Type().Comparable() {
		return a == b
	}
	return false
}
