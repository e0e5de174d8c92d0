// Package dirtycheck decides whether an entity needs an UPDATE and which
// columns that update must carry, by comparing the candidate against the
// snapshot its scope's entity cache observed at hydration time.
//
// Three modes: off (always full-row), entity (any difference means full-row,
// none means no write), field (write exactly the differing columns). Field
// comparison is by reference (identity, for immutable value objects) or by
// value (structural). A missing baseline is never an error; it degrades to a
// full-row write. ModeField additionally bounds the number of distinct column
// subsets per type via ShapeTracker, so the downstream prepared-statement
// population stays finite.
package dirtycheck
