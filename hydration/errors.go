package hydration

import (
	"errors"
	"fmt"
)

// ErrDataIntegrity is the sentinel for data-integrity failures: a non-nullable
// relation whose primary key is null, or a composite-key tuple with a null
// component where none is expected. These are fatal and surface immediately,
// never coerced to "no relation".
var ErrDataIntegrity = errors.New("data integrity violation")

// IntegrityError carries the entity and relation context of a data-integrity
// failure. It unwraps to ErrDataIntegrity for errors.Is classification.
type IntegrityError struct {
	Entity   string
	Relation string
	Detail   string
}

func (e *IntegrityError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("data integrity violation: %s relation %q: %s", e.Entity, e.Relation, e.Detail)
	}
	return fmt.Sprintf("data integrity violation: %s: %s", e.Entity, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return ErrDataIntegrity }
