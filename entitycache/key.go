package entitycache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between key segments.
const KeySeparator = "::"

var (
	// ErrEmptyTypeName is returned when a key is built without an entity type name.
	ErrEmptyTypeName = errors.New("entity key requires a type name")

	// ErrNoKeyComponents is returned when a key is built without any primary-key component.
	ErrNoKeyComponents = errors.New("entity key requires at least one primary-key component")

	// ErrNilKeyComponent is returned when a primary-key component is nil. Composite
	// tuples with a nil component are a data-integrity condition, never coerced to
	// "no relation".
	ErrNilKeyComponent = errors.New("entity key component is nil")
)

// EntityKey identifies one entity instance: the entity type plus its primary-key
// value, which may be a single scalar or a composite tuple. Keys are immutable,
// comparable, and hash composite tuples structurally: two keys built from equal
// component sequences are equal regardless of how the caller obtained the values.
type EntityKey struct {
	typeName string
	encoded  string
	sum      uint64
}

// NewKey builds an EntityKey from a type name and one or more primary-key
// components. Component order is significant for composite keys.
func NewKey(typeName string, components ...any) (EntityKey, error) {
	if typeName == "" {
		return EntityKey{}, ErrEmptyTypeName
	}
	if len(components) == 0 {
		return EntityKey{}, ErrNoKeyComponents
	}

	parts := make([]string, 0, len(components)+1)
	parts = append(parts, typeName)
	for i, c := range components {
		enc, err := encodeComponent(c)
		if err != nil {
			return EntityKey{}, fmt.Errorf("component %d of %s key: %w", i, typeName, err)
		}
		parts = append(parts, enc)
	}

	encoded := strings.Join(parts, KeySeparator)
	return EntityKey{
		typeName: typeName,
		encoded:  encoded,
		sum:      xxhash.Sum64String(encoded),
	}, nil
}

// MustKey is NewKey for callers that control both inputs, typically fixtures.
// It panics on invalid components.
func MustKey(typeName string, components ...any) EntityKey {
	k, err := NewKey(typeName, components...)
	if err != nil {
		panic(err)
	}
	return k
}

// Type returns the entity type name segment of the key.
func (k EntityKey) Type() string { return k.typeName }

// Sum64 returns the precomputed xxhash of the canonical encoding.
func (k EntityKey) Sum64() uint64 { return k.sum }

// IsZero reports whether k is the zero key.
func (k EntityKey) IsZero() bool { return k.encoded == "" }

// String returns the canonical encoding, e.g. "User::i:42" or "OrderLine::i:1::s:x".
func (k EntityKey) String() string { return k.encoded }

// encodeComponent produces a stable, type-prefixed encoding for one primary-key
// component. The prefix keeps values of different kinds from colliding (the
// string "42" vs the int 42). Pointers are dereferenced; nil anywhere is an
// integrity condition surfaced as ErrNilKeyComponent.
func encodeComponent(v any) (string, error) {
	if v == nil {
		return "", ErrNilKeyComponent
	}

	switch c := v.(type) {
	case string:
		return "s:" + c, nil
	case []byte:
		return "b:" + hex.EncodeToString(c), nil
	case bool:
		return "t:" + strconv.FormatBool(c), nil
	case int:
		return "i:" + strconv.FormatInt(int64(c), 10), nil
	case int8:
		return "i:" + strconv.FormatInt(int64(c), 10), nil
	case int16:
		return "i:" + strconv.FormatInt(int64(c), 10), nil
	case int32:
		return "i:" + strconv.FormatInt(int64(c), 10), nil
	case int64:
		return "i:" + strconv.FormatInt(c, 10), nil
	case uint:
		return "u:" + strconv.FormatUint(uint64(c), 10), nil
	case uint8:
		return "u:" + strconv.FormatUint(uint64(c), 10), nil
	case uint16:
		return "u:" + strconv.FormatUint(uint64(c), 10), nil
	case uint32:
		return "u:" + strconv.FormatUint(uint64(c), 10), nil
	case uint64:
		return "u:" + strconv.FormatUint(c, 10), nil
	case float32:
		return "f:" + strconv.FormatFloat(float64(c), 'g', -1, 32), nil
	case float64:
		return "f:" + strconv.FormatFloat(c, 'g', -1, 64), nil
	case fmt.Stringer:
		return "x:" + c.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "", ErrNilKeyComponent
		}
		return encodeComponent(rv.Elem().Interface())
	case reflect.String:
		return "s:" + rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "i:" + strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "u:" + strconv.FormatUint(rv.Uint(), 10), nil
	}

	// Serializable driver types (composite value objects) fall back to JSON,
	// which is deterministic for struct fields in declaration order.
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("unsupported key component type %T: %w", v, err)
	}
	return "j:" + string(data), nil
}
