// Package model defines the plaintext data model of the encrypted index:
// keywords, locations, the tagged IndexedValue union, backend tokens, and
// the fixed-width Entry and Chain Table payload encodings.
package model

import (
	"bytes"

	"github.com/encsearch/findex/pkg/errors"
)

// Keyword is an opaque search term. It is never stored or transmitted in
// cleartext to a backend.
type Keyword []byte

// Location is an opaque reference to an externally-stored payload, such as
// a row identifier.
type Location []byte

// Label is the public per-epoch salt mixed into token derivation. Changing
// it during compaction makes prior tokens undiscoverable.
type Label []byte

// IndexedValue tags.
const (
	tagLocation    byte = 'l'
	tagNextKeyword byte = 'w'
)

// IndexedValue is either a terminal Location or a NextKeyword indirection
// pointing at another keyword.
type IndexedValue struct {
	tag  byte
	data []byte
}

// IndexLocation wraps a Location.
func IndexLocation(l Location) IndexedValue {
	return IndexedValue{tag: tagLocation, data: bytes.Clone(l)}
}

// IndexNextKeyword wraps a Keyword indirection.
func IndexNextKeyword(w Keyword) IndexedValue {
	return IndexedValue{tag: tagNextKeyword, data: bytes.Clone(w)}
}

// Location returns the wrapped Location, if any.
func (v IndexedValue) Location() (Location, bool) {
	if v.tag != tagLocation {
		return nil, false
	}
	return Location(v.data), true
}

// NextKeyword returns the wrapped Keyword indirection, if any.
func (v IndexedValue) NextKeyword() (Keyword, bool) {
	if v.tag != tagNextKeyword {
		return nil, false
	}
	return Keyword(v.data), true
}

// Bytes returns the serialized form: tag byte followed by the payload.
func (v IndexedValue) Bytes() []byte {
	out := make([]byte, 1+len(v.data))
	out[0] = v.tag
	copy(out[1:], v.data)
	return out
}

// Equal reports whether two values have the same tag and payload.
func (v IndexedValue) Equal(o IndexedValue) bool {
	return v.tag == o.tag && bytes.Equal(v.data, o.data)
}

// ParseIndexedValue decodes the tag ‖ payload form.
func ParseIndexedValue(b []byte) (IndexedValue, error) {
	if len(b) < 1 {
		return IndexedValue{}, errors.Serializationf("empty indexed value")
	}
	switch b[0] {
	case tagLocation, tagNextKeyword:
		return IndexedValue{tag: b[0], data: bytes.Clone(b[1:])}, nil
	default:
		return IndexedValue{}, errors.Serializationf("unknown indexed value tag 0x%02x", b[0])
	}
}
