// Package hydration constructs typed object graphs from flat result rows.
//
// A ColumnPlan describes one result shape: ordered columns, nested relation
// sub-ranges, primary-key offsets, and nullability. The Hydrator walks a plan
// with an explicit work-stack, extracting each level's primary key before
// constructing anything, and consults the query-scoped Interner and the
// transaction-scoped entity cache before building each entity. Repeated keys
// inside one result stream always resolve to the same instance.
//
// Deferred relations hydrate to a DeferredRef holding only the foreign key;
// resolving one is a separate top-level operation owned by the session.
package hydration
