package hydration

import (
	"errors"
	"fmt"
)

// Row is one flat result row, column values in plan order. The slice is owned
// by the caller (typically reused per row by the execution layer); the
// hydrator copies what it retains.
type Row []any

// BuildFunc constructs one entity instance from its directly-owned column
// values and its already-constructed nested instances, both in declared order.
// Supplied by the code-generation pipeline; never reflection here.
type BuildFunc func(own []any, children []any) (any, error)

// FieldsFunc extracts an instance's directly-owned column values in declared
// order. The dirty checker compares these against the cached snapshot.
type FieldsFunc func(instance any) []any

// ColumnPlan is a compiled, reusable description of one result shape. It is
// produced by the SQL/join compiler and consumed read-only here. Layout
// convention: a plan's column range starts with its directly-owned columns,
// followed by each relation's sub-range in declaration order. A deferred
// relation occupies exactly one column, its foreign key.
type ColumnPlan struct {
	// TypeName identifies the entity type for cache keys.
	TypeName string

	// Columns names the directly-owned columns, in declared order.
	Columns []string

	// PKOffsets are the primary-key column offsets within Columns. More than
	// one offset means a composite key, extracted as an ordered tuple.
	PKOffsets []int

	// Relations are the nested relations, in declared order.
	Relations []RelationPlan

	// Build constructs the instance. Required.
	Build BuildFunc

	// Fields extracts the instance's own column values for dirty checking.
	// Optional; without it diffs for this type degrade to full-row writes.
	Fields FieldsFunc
}

// RelationPlan describes one nested relation within its parent's range.
type RelationPlan struct {
	// Name is the field name, used in error messages.
	Name string

	// Nullable relations resolve to nil when every column in their sub-range
	// is null. A non-nullable relation with a null primary key is a
	// data-integrity error.
	Nullable bool

	// Deferred relations hold only the foreign-key value; no nested hydration
	// occurs and the field resolves to a DeferredRef.
	Deferred bool

	// TargetType is the referenced entity type. Required for deferred
	// relations, where no child plan carries the type name.
	TargetType string

	// Plan is the child column plan. Required unless Deferred.
	Plan *ColumnPlan
}

var (
	// ErrInvalidPlan wraps every plan validation failure.
	ErrInvalidPlan = errors.New("invalid column plan")
)

// Span returns the total column count of the plan's range, own columns plus
// every relation sub-range.
func (p *ColumnPlan) Span() int {
	n := len(p.Columns)
	for i := range p.Relations {
		n += p.Relations[i].span()
	}
	return n
}

// RelationOffset returns the offset of relation i's sub-range relative to the
// plan's range start.
func (p *ColumnPlan) RelationOffset(i int) int {
	off := len(p.Columns)
	for j := 0; j < i; j++ {
		off += p.Relations[j].span()
	}
	return off
}

func (r *RelationPlan) span() int {
	if r.Deferred {
		return 1
	}
	if r.Plan == nil {
		return 0
	}
	return r.Plan.Span()
}

// Validate checks the plan's structural invariants, recursively. Plans are
// immutable after validation.
func (p *ColumnPlan) Validate() error {
	if p.TypeName == "" {
		return fmt.Errorf("%w: missing type name", ErrInvalidPlan)
	}
	if len(p.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidPlan, p.TypeName)
	}
	if p.Build == nil {
		return fmt.Errorf("%w: %s has no build function", ErrInvalidPlan, p.TypeName)
	}
	if len(p.PKOffsets) == 0 {
		return fmt.Errorf("%w: %s has no primary-key offsets", ErrInvalidPlan, p.TypeName)
	}
	for _, off := range p.PKOffsets {
		if off < 0 || off >= len(p.Columns) {
			return fmt.Errorf("%w: %s primary-key offset %d outside own columns", ErrInvalidPlan, p.TypeName, off)
		}
	}
	for i := range p.Relations {
		r := &p.Relations[i]
		if r.Deferred {
			if r.TargetType == "" {
				return fmt.Errorf("%w: %s deferred relation %q needs a target type", ErrInvalidPlan, p.TypeName, r.Name)
			}
			if r.Plan != nil {
				return fmt.Errorf("%w: %s deferred relation %q must not carry a child plan", ErrInvalidPlan, p.TypeName, r.Name)
			}
			continue
		}
		if r.Plan == nil {
			return fmt.Errorf("%w: %s relation %q has no child plan", ErrInvalidPlan, p.TypeName, r.Name)
		}
		if err := r.Plan.Validate(); err != nil {
			return fmt.Errorf("%s relation %q: %w", p.TypeName, r.Name, err)
		}
	}
	return nil
}
