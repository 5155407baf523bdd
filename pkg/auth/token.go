// Package auth implements the authorization token: a serializable bundle of
// the index master key plus per-operation seeds, with one-way permission
// reduction. Possession of a seed authorizes the matching backend
// operation; an ephemeral key is derived from it per request.
package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"

	"github.com/encsearch/findex/pkg/errors"
)

// Operation identifies one backend operation a seed can authorize.
type Operation uint8

const (
	OpFetchEntry Operation = iota
	OpFetchChain
	OpInsert
	OpUpsert
	OpDeleteEntry
	OpDeleteChain
	OpDumpTokens

	operationCount
)

func (op Operation) String() string {
	switch op {
	case OpFetchEntry:
		return "fetch_entries"
	case OpFetchChain:
		return "fetch_chains"
	case OpInsert:
		return "insert_chains"
	case OpUpsert:
		return "upsert_entries"
	case OpDeleteEntry:
		return "delete_entries"
	case OpDeleteChain:
		return "delete_chains"
	case OpDumpTokens:
		return "dump_tokens"
	default:
		return fmt.Sprintf("operation(%d)", uint8(op))
	}
}

// writeOperations are the seeds a read-only token must not hold.
var writeOperations = []Operation{OpInsert, OpUpsert, OpDeleteEntry, OpDeleteChain}

const (
	// IndexIDLength is the width of the public index identifier.
	IndexIDLength = 5

	// MasterKeyLength is the width of the index master key carried by the
	// token.
	MasterKeyLength = 16

	// SeedLength is the width of one per-operation seed.
	SeedLength = 16

	// DerivedKeyLength is the width of the ephemeral per-operation key
	// produced by GetKey.
	DerivedKeyLength = 32
)

// Token bundles everything needed for authenticated requests to a remote
// index: the public index identifier, the master key, and one seed per
// authorized operation.
type Token struct {
	indexID   string
	masterKey []byte
	seeds     map[Operation][]byte
}

// New builds a token from its parts, copying all key material.
func New(indexID string, masterKey []byte, seeds map[Operation][]byte) (*Token, error) {
	if len(indexID) != IndexIDLength {
		return nil, fmt.Errorf("%w: index ID must be %d chars, got %d",
			errors.ErrMalformedToken, IndexIDLength, len(indexID))
	}
	if len(masterKey) != MasterKeyLength {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d",
			errors.ErrKeySize, MasterKeyLength, len(masterKey))
	}
	t := &Token{
		indexID:   indexID,
		masterKey: bytes.Clone(masterKey),
		seeds:     make(map[Operation][]byte, len(seeds)),
	}
	for op, seed := range seeds {
		if op >= operationCount {
			return nil, fmt.Errorf("%w: unknown operation %d", errors.ErrMalformedToken, op)
		}
		if len(seed) != SeedLength {
			return nil, fmt.Errorf("%w: seed for %s must be %d bytes, got %d",
				errors.ErrKeySize, op, SeedLength, len(seed))
		}
		t.seeds[op] = bytes.Clone(seed)
	}
	return t, nil
}

// Parse decodes the opaque base64 text form.
func Parse(s string) (*Token, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64: %v", errors.ErrMalformedToken, err)
	}
	if len(raw) < IndexIDLength+MasterKeyLength {
		return nil, fmt.Errorf("%w: %d bytes cannot hold an index ID and a master key",
			errors.ErrMalformedToken, len(raw))
	}
	indexID := string(raw[:IndexIDLength])
	raw = raw[IndexIDLength:]
	masterKey := raw[:MasterKeyLength]
	raw = raw[MasterKeyLength:]

	count, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("%w: cannot read seed count", errors.ErrMalformedToken)
	}
	raw = raw[n:]
	// Bound count before multiplying so a crafted value cannot wrap.
	if count > uint64(len(raw))/(1+SeedLength) || uint64(len(raw)) != count*(1+SeedLength) {
		return nil, fmt.Errorf("%w: %d bytes remaining for %d seeds",
			errors.ErrMalformedToken, len(raw), count)
	}
	seeds := make(map[Operation][]byte, count)
	for i := uint64(0); i < count; i++ {
		op := Operation(raw[0])
		if op >= operationCount {
			return nil, fmt.Errorf("%w: unknown operation %d at seed %d",
				errors.ErrMalformedToken, raw[0], i)
		}
		seeds[op] = bytes.Clone(raw[1 : 1+SeedLength])
		raw = raw[1+SeedLength:]
	}
	return New(indexID, masterKey, seeds)
}

// String returns the opaque text form:
// base64(indexID ‖ masterKey ‖ varint(count) ‖ (opByte ‖ seed)*).
// Seeds are emitted in operation order so the form is deterministic.
func (t *Token) String() string {
	out := make([]byte, 0, IndexIDLength+MasterKeyLength+1+len(t.seeds)*(1+SeedLength))
	out = append(out, t.indexID...)
	out = append(out, t.masterKey...)
	out = binary.AppendUvarint(out, uint64(len(t.seeds)))
	ops := make([]Operation, 0, len(t.seeds))
	for op := range t.seeds {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		out = append(out, byte(op))
		out = append(out, t.seeds[op]...)
	}
	return base64.StdEncoding.EncodeToString(out)
}

// IndexID returns the public index identifier.
func (t *Token) IndexID() string {
	return t.indexID
}

// MasterKey returns the index master key.
func (t *Token) MasterKey() []byte {
	return bytes.Clone(t.masterKey)
}

// ReducePermissions narrows what the token authorizes. Reduction is
// one-way: dropped seeds cannot be regenerated from the reduced copy.
// Requesting write access without read access is an error.
func (t *Token) ReducePermissions(read, write bool) error {
	switch {
	case read && write:
		// keep everything
	case read:
		for _, op := range writeOperations {
			delete(t.seeds, op)
		}
	case write:
		return fmt.Errorf("%w: write access needs read access", errors.ErrInvalidInput)
	default:
		t.seeds = make(map[Operation][]byte)
	}
	return nil
}

// GetKey derives the ephemeral key authorizing op, or nil when the token
// holds no seed for it. Derivation is one-way; the seed never leaves the
// token.
func (t *Token) GetKey(op Operation) []byte {
	seed, ok := t.seeds[op]
	if !ok {
		return nil
	}
	key := make([]byte, DerivedKeyLength)
	reader := hkdf.New(sha256.New, seed, []byte(t.indexID), []byte("kmac key"))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil
	}
	return key
}

// Clone returns a deep copy, so reducing one copy never affects another.
func (t *Token) Clone() *Token {
	seeds := make(map[Operation][]byte, len(t.seeds))
	for op, seed := range t.seeds {
		seeds[op] = bytes.Clone(seed)
	}
	return &Token{
		indexID:   t.indexID,
		masterKey: bytes.Clone(t.masterKey),
		seeds:     seeds,
	}
}

// Equal compares tokens by content, seed maps included.
func (t *Token) Equal(o *Token) bool {
	if t.indexID != o.indexID || !bytes.Equal(t.masterKey, o.masterKey) || len(t.seeds) != len(o.seeds) {
		return false
	}
	for op, seed := range t.seeds {
		if !bytes.Equal(seed, o.seeds[op]) {
			return false
		}
	}
	return true
}
