package sessionrepo

import (
	"fmt"
	"reflect"

	"github.com/goliatone/go-entity-session/entitycache"
)

// idFieldNames are the struct field names tried, in order, when extracting a
// record's primary key by reflection.
var idFieldNames = []string{"ID", "Id"}

// defaultKey builds a KeyFunc that reflects over the record's ID field. The
// raw field value is keyed, so an int64 ID produces the same key the column
// plan's primary-key extraction does.
func defaultKey[T any](typeName string) KeyFunc[T] {
	return func(record T) (entitycache.EntityKey, error) {
		v := reflect.ValueOf(record)
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return entitycache.EntityKey{}, fmt.Errorf("sessionrepo: nil %s record", typeName)
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return entitycache.EntityKey{}, fmt.Errorf("sessionrepo: %s record is not a struct", typeName)
		}
		for _, name := range idFieldNames {
			field := v.FieldByName(name)
			if field.IsValid() && field.CanInterface() {
				return entitycache.NewKey(typeName, field.Interface())
			}
		}
		return entitycache.EntityKey{}, fmt.Errorf("sessionrepo: no ID field on %s record", typeName)
	}
}
