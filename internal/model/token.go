package model

import (
	"encoding/hex"

	"github.com/encsearch/findex/pkg/errors"
)

// TokenLength is the width of a backend lookup key. It bounds the collision
// probability of the keyed derivation.
const TokenLength = 32

// Token is the only identifier a backend ever sees. It is a pure function
// of (key, label, keyword); same inputs always yield the same token.
type Token [TokenLength]byte

// TokenFromBytes converts a raw slice into a Token, rejecting wrong widths.
func TokenFromBytes(b []byte) (Token, error) {
	var t Token
	if len(b) != TokenLength {
		return t, errors.Serializationf("token must be %d bytes, got %d", TokenLength, len(b))
	}
	copy(t[:], b)
	return t, nil
}

func (t Token) String() string {
	return hex.EncodeToString(t[:])
}
