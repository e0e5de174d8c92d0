package sessionrepo

import (
	"context"
	"io"
	"log/slog"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entity-session/entitycache"
	"github.com/goliatone/go-entity-session/session"
)

// Interface assertion to ensure SessionRepository implements Repository[T]
var _ repository.Repository[any] = (*SessionRepository[any])(nil)

// KeyFunc derives the entity cache key for a record. The default extracts
// the record's ID field by reflection.
type KeyFunc[T any] func(record T) (entitycache.EntityKey, error)

// Options configures a SessionRepository.
type Options[T any] struct {
	// TypeName is the entity type name used in cache keys. It must match the
	// TypeName carried by the column plans that hydrate this entity. Defaults
	// to the reflected struct name of T.
	TypeName string

	// Key extracts the cache key from a record. Defaults to reflection over
	// the record's ID field.
	Key KeyFunc[T]

	// IDKey builds the cache key for a GetByID lookup. Defaults to keying
	// the raw id string, which matches plans whose primary key column scans
	// as a string (uuid keys). Entities with numeric keys need an IDKey that
	// parses the id, otherwise primary-key reads simply miss the cache.
	IDKey func(id string) (entitycache.EntityKey, error)

	// Logger receives invalidation events. Nil discards them.
	Logger *slog.Logger
}

// SessionRepository decorates a base repository so that every successful
// write invalidates the matching entries in the transaction scope's entity
// cache. Reads by primary key consult the cache first; everything else
// passes through to the base repository.
type SessionRepository[T any] struct {
	base     repository.Repository[T]
	scope    *session.Scope
	typeName string
	label    string
	key      KeyFunc[T]
	idKey    func(id string) (entitycache.EntityKey, error)
	logger   *slog.Logger
}

// New creates a SessionRepository binding base to the given transaction
// scope.
func New[T any](base repository.Repository[T], scope *session.Scope, opts Options[T]) *SessionRepository[T] {
	typeName := opts.TypeName
	if typeName == "" {
		typeName = reflectedTypeName[T]()
	}
	key := opts.Key
	if key == nil {
		key = defaultKey[T](typeName)
	}
	idKey := opts.IDKey
	if idKey == nil {
		idKey = func(id string) (entitycache.EntityKey, error) {
			return entitycache.NewKey(typeName, id)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SessionRepository[T]{
		base:     base,
		scope:    scope,
		typeName: typeName,
		label:    toSnake(typeName),
		key:      key,
		idKey:    idKey,
		logger:   logger,
	}
}

// reflectedTypeName returns the struct name of T, unwrapping one pointer
// level, matching how column plans name entity types.
func reflectedTypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Get retrieves a single record using the provided criteria.
func (r *SessionRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.Get(ctx, criteria...)
}

// GetByID retrieves a record by primary key. The scope's identity cache is
// consulted first; a hit returns the cached instance without touching the
// database, so repeated reads within the transaction observe one instance.
func (r *SessionRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if cached, ok := r.lookupByID(id, criteria); ok {
		return cached, nil
	}
	return r.base.GetByID(ctx, id, criteria...)
}

// GetByIDTx retrieves a record by primary key within a transaction, cache
// first like GetByID.
func (r *SessionRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	if cached, ok := r.lookupByID(id, criteria); ok {
		return cached, nil
	}
	return r.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (r *SessionRepository[T]) lookupByID(id string, criteria []repository.SelectCriteria) (T, bool) {
	var zero T
	// Criteria can widen the select (joins, soft-delete filters); the cached
	// instance only answers the bare primary-key read.
	if r.scope == nil || len(criteria) > 0 {
		return zero, false
	}
	key, err := r.idKey(id)
	if err != nil {
		return zero, false
	}
	cached, ok := r.scope.LookupCached(key)
	if !ok {
		return zero, false
	}
	record, ok := cached.(T)
	if !ok {
		return zero, false
	}
	return record, true
}

// List retrieves multiple records using the provided criteria.
func (r *SessionRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return r.base.List(ctx, criteria...)
}

// Count returns the number of records matching the criteria.
func (r *SessionRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return r.base.Count(ctx, criteria...)
}

// GetByIdentifier retrieves a record by identifier with optional criteria.
func (r *SessionRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIdentifier(ctx, identifier, criteria...)
}

// Create creates a new record and invalidates its cache entry.
func (r *SessionRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := r.base.Create(ctx, record, criteria...)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// CreateTx creates a new record within a transaction.
func (r *SessionRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := r.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// CreateMany creates multiple records.
func (r *SessionRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := r.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		r.invalidateRecords(result)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction.
func (r *SessionRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := r.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		r.invalidateRecords(result)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist.
func (r *SessionRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := r.base.GetOrCreate(ctx, record)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it within a transaction.
func (r *SessionRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := r.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// Update updates a record and invalidates its cache entry so the next read
// never serves the pre-mutation instance.
func (r *SessionRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.Update(ctx, record, criteria...)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// UpdateTx updates a record within a transaction.
func (r *SessionRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// UpdateMany updates multiple records.
func (r *SessionRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		r.invalidateRecords(result)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction.
func (r *SessionRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		r.invalidateRecords(result)
	}
	return result, err
}

// Upsert inserts or updates a record. Whether the row was inserted or
// updated, only the record's own primary key can have changed, so
// invalidation targets that key alone.
func (r *SessionRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.Upsert(ctx, record, criteria...)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction.
func (r *SessionRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		r.invalidateRecord(result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records.
func (r *SessionRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		r.invalidateRecords(result)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction.
func (r *SessionRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		r.invalidateRecords(result)
	}
	return result, err
}

// Delete deletes a record and invalidates its cache entry.
func (r *SessionRepository[T]) Delete(ctx context.Context, record T) error {
	err := r.base.Delete(ctx, record)
	if err == nil {
		r.invalidateRecord(record)
	}
	return err
}

// DeleteTx deletes a record within a transaction.
func (r *SessionRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := r.base.DeleteTx(ctx, tx, record)
	if err == nil {
		r.invalidateRecord(record)
	}
	return err
}

// DeleteMany deletes records by criteria. The affected rows cannot be
// attributed to keys, so the whole scope cache goes.
func (r *SessionRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteMany(ctx, criteria...)
	if err == nil {
		r.invalidateAll()
	}
	return err
}

// DeleteManyTx deletes records by criteria within a transaction.
func (r *SessionRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		r.invalidateAll()
	}
	return err
}

// DeleteWhere deletes records by criteria, invalidating the whole cache.
func (r *SessionRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		r.invalidateAll()
	}
	return err
}

// DeleteWhereTx deletes records by criteria within a transaction.
func (r *SessionRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		r.invalidateAll()
	}
	return err
}

// ForceDelete force deletes a record, bypassing soft delete.
func (r *SessionRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := r.base.ForceDelete(ctx, record)
	if err == nil {
		r.invalidateRecord(record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction.
func (r *SessionRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := r.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		r.invalidateRecord(record)
	}
	return err
}

// GetTx retrieves a single record within a transaction.
func (r *SessionRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetTx(ctx, tx, criteria...)
}

// ListTx retrieves multiple records within a transaction.
func (r *SessionRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return r.base.ListTx(ctx, tx, criteria...)
}

// CountTx returns the matching record count within a transaction.
func (r *SessionRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return r.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier within a transaction.
func (r *SessionRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL statement. The statement cannot be classified, so
// a successful execution empties the scope's cache.
func (r *SessionRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	result, err := r.base.Raw(ctx, sql, args...)
	if err == nil {
		r.invalidateAll()
	}
	return result, err
}

// RawTx executes a raw SQL statement within a transaction.
func (r *SessionRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	result, err := r.base.RawTx(ctx, tx, sql, args...)
	if err == nil {
		r.invalidateAll()
	}
	return result, err
}

// Handlers returns the model handlers from the base repository.
func (r *SessionRepository[T]) Handlers() repository.ModelHandlers[T] {
	return r.base.Handlers()
}

// invalidateRecord drops the cache entry for one record. A record whose key
// cannot be derived falls back to emptying the cache: a stale instance must
// never survive a write.
func (r *SessionRepository[T]) invalidateRecord(record T) {
	if r.scope == nil {
		return
	}
	key, err := r.key(record)
	if err != nil {
		r.logger.Debug("key extraction failed, invalidating all",
			slog.String("entity", r.label), slog.Any("error", err))
		r.invalidateAll()
		return
	}
	if err := r.scope.Invalidate(key); err != nil {
		// A closed scope has already discarded every entry.
		r.logger.Debug("invalidation skipped",
			slog.String("entity", r.label), slog.Any("error", err))
	}
}

func (r *SessionRepository[T]) invalidateRecords(records []T) {
	for _, record := range records {
		r.invalidateRecord(record)
	}
}

func (r *SessionRepository[T]) invalidateAll() {
	if r.scope == nil {
		return
	}
	if err := r.scope.InvalidateAll(); err != nil {
		r.logger.Debug("full invalidation skipped",
			slog.String("entity", r.label), slog.Any("error", err))
	}
}
