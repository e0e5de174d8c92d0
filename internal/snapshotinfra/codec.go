// Package snapshotinfra adapts the msgpack codec for dirty-check baselines.
// By-value comparison needs a representation of the observed field values that
// is independent of the live instance (the caller may mutate a field in place
// without producing a new reference) and cheap to compare. We keep the msgpack
// encoding itself, not a reconstructed copy: encoding is deterministic with
// sorted map keys, so structural equality reduces to a byte comparison.
package snapshotinfra

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Blob is one captured field value in encoded form.
type Blob []byte

// Codec encodes field values for by-value snapshots.
//
// Version compatibility note: this assumes the msgpack v5 API. The encoder is
// configured for deterministic output; revisit on upgrades.
type Codec struct{}

// NewCodec returns a snapshot codec.
func NewCodec() *Codec { return &Codec{} }

// Encode produces the deterministic msgpack encoding of one value.
func (c *Codec) Encode(v any) (Blob, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("snapshot encode %T: %w", v, err)
	}
	return Blob(buf.Bytes()), nil
}

// Capture turns a slice of observed field values into an encoded baseline.
// A value the codec cannot encode is kept by reference instead; comparison for
// that field then degrades to structural reflection, never an error.
func (c *Codec) Capture(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		blob, err := c.Encode(v)
		if err != nil {
			out[i] = v
			continue
		}
		out[i] = blob
	}
	return out
}

// Equal compares a candidate field value against a captured baseline element.
// The baseline element is a Blob when Capture could encode the original value,
// or the original value itself when it could not.
func (c *Codec) Equal(candidate any, baseline any) bool {
	blob, ok := baseline.(Blob)
	if !ok {
		return reflect.DeepEqual(candidate, baseline)
	}
	enc, err := c.Encode(candidate)
	if err != nil {
		// Encoding worked at capture time but not now: the value changed in a
		// way the codec cannot represent. Treat as changed.
		return false
	}
	return bytes.Equal(enc, blob)
}
