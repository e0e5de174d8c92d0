// Package session ties the identity cache, hydrator, and dirty checker
// together under one transaction-scoped lifecycle container.
//
// # Overview
//
// A Scope owns one transaction's entity cache and exposes the operations the
// repository and query-execution layers use:
//
//	scope, _ := session.New(session.DefaultConfig())
//	defer scope.Close(session.CloseRollback)
//
//	q, _ := scope.BeginQuery()
//	entity, _ := q.Hydrate(row, plan)
//	q.End()
//
//	decision, _ := scope.DiffForUpdate(key, entity, plan)
//
// # Propagation
//
// Transaction-propagation glue maps onto three constructors: Fork for
// propagation modes that start an independent transaction (a brand-new, empty
// cache), Share for modes that join the surrounding transaction (the parent's
// cache by reference), and Nested for savepoint-backed scopes (shared cache,
// but rolling back discards entries written since the savepoint).
//
// # Lifecycle
//
// A scope moves Active → Committing/RollingBack → Closed. Close is atomic and
// idempotent-failing: exactly one caller performs teardown, every other call
// gets ErrScopeClosed. On final commit or rollback the owning scope discards
// the cache unconditionally; no entry outlives its top-level transaction.
//
// # Concurrency
//
// One logical goroutine per scope. Nothing here blocks on I/O and nothing is
// locked except the close transition; callers needing parallelism use
// independent scopes. Process-wide collaborators (shape tracker, metrics,
// plan registry) carry their own synchronization.
package session
