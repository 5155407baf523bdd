package model

import (
	"encoding/binary"

	"github.com/encsearch/findex/pkg/errors"
)

const (
	// SeedLength is the width of the per-keyword derived key seed stored in
	// an Entry Table payload.
	SeedLength = 16

	// KeywordHashLength is the width of the keyword digest stored alongside
	// the seed; compaction uses it to re-derive tokens without knowing the
	// keyword itself.
	KeywordHashLength = 32

	// EntryPayloadLength is the fixed plaintext width of an Entry Table row.
	EntryPayloadLength = SeedLength + KeywordHashLength + 4
)

// EntryPayload is the decrypted content of an Entry Table row: the
// per-keyword seed, the keyword digest, and the chain-tail pointer. The
// pointer is the number of Chain Table rows written for the keyword; row i
// (1-based) has a token derived from (seed, digest, i).
type EntryPayload struct {
	Seed        [SeedLength]byte
	KeywordHash [KeywordHashLength]byte
	ChainLength uint32
}

// Encode returns the fixed-width serialization.
func (p EntryPayload) Encode() []byte {
	out := make([]byte, EntryPayloadLength)
	copy(out, p.Seed[:])
	copy(out[SeedLength:], p.KeywordHash[:])
	binary.BigEndian.PutUint32(out[SeedLength+KeywordHashLength:], p.ChainLength)
	return out
}

// DecodeEntryPayload parses the fixed-width serialization.
func DecodeEntryPayload(b []byte) (EntryPayload, error) {
	var p EntryPayload
	if len(b) != EntryPayloadLength {
		return p, errors.Serializationf("entry payload must be %d bytes, got %d", EntryPayloadLength, len(b))
	}
	copy(p.Seed[:], b)
	copy(p.KeywordHash[:], b[SeedLength:])
	p.ChainLength = binary.BigEndian.Uint32(b[SeedLength+KeywordHashLength:])
	return p, nil
}
