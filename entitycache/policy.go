package entitycache

import "database/sql"

// isolationPolicy is the rule, derived from the transaction's isolation level
// and read-only status, governing whether identity reads and writes are
// permitted. One strategy per regime keeps the branch out of the hot path.
type isolationPolicy interface {
	lookup(s *Store, key EntityKey) (any, bool)
	store(s *Store, key EntityKey, instance any, snapshot []any)
}

// passthroughPolicy serves the full identity cache: RepeatableRead and above,
// and every read-only scope. Two lookups of the same key within the scope
// return the same instance by reference.
type passthroughPolicy struct{}

func (passthroughPolicy) lookup(s *Store, key EntityKey) (any, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.touch(key)
	return e.Instance, true
}

func (passthroughPolicy) store(s *Store, key EntityKey, instance any, snapshot []any) {
	s.put(key, instance, snapshot)
}

// baselineOnlyPolicy covers ReadUncommitted and ReadCommitted: identity reads
// always miss, forcing a fresh database read, but writes still land for types
// with dirty checking enabled so a baseline exists for the dirty checker.
// This write-without-read-back is intentional and is not normal caching.
type baselineOnlyPolicy struct{}

func (baselineOnlyPolicy) lookup(*Store, EntityKey) (any, bool) {
	return nil, false
}

func (baselineOnlyPolicy) store(s *Store, key EntityKey, instance any, snapshot []any) {
	if !s.typeDirtyEnabled(key.Type()) {
		return
	}
	s.put(key, instance, snapshot)
}

// policyFor maps an isolation level plus read-only flag to a policy. Read-only
// scopes cannot observe their own writes, so the identity cache is always safe
// there. sql.LevelDefault is treated as ReadCommitted, the common engine
// default, which errs toward fresh reads.
func policyFor(level sql.IsolationLevel, readOnly bool) isolationPolicy {
	if readOnly {
		return passthroughPolicy{}
	}
	switch level {
	case sql.LevelRepeatableRead, sql.LevelSnapshot, sql.LevelSerializable, sql.LevelLinearizable:
		return passthroughPolicy{}
	default:
		return baselineOnlyPolicy{}
	}
}
