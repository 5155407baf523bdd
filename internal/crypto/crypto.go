// Package crypto implements the cryptographic collaborators of the index
// protocol: keyed token derivation, per-keyword sub-key derivation, and
// AEAD sealing of table rows.
//
// Tokens come from an HMAC-SHA256 pseudorandom function. Sub-keys come from
// HKDF-SHA256 with distinct info strings for cryptographic separation. Rows
// are sealed with ChaCha20-Poly1305; the stored form is
// nonce ‖ ciphertext ‖ tag.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
)

// MasterKeyLength is the width of the index master key.
const MasterKeyLength = 16

// Overhead is the fixed per-row cost of sealing: nonce plus tag.
const Overhead = chacha20poly1305.NonceSize + chacha20poly1305.Overhead

// Sealed row widths, the backend-declared bounds for each table.
const (
	SealedEntryLength = model.EntryPayloadLength + Overhead
	SealedChainLength = model.ChainPayloadLength + Overhead
)

// Info strings for HKDF derivation. Distinct strings ensure separate keys.
const (
	infoEntryToken = "findex-entry-token"
	infoEntryValue = "findex-entry-value"
	infoChainToken = "findex-chain-token"
	infoChainValue = "findex-chain-value"
)

// Keys holds the sub-keys derived from one master key. Derivation is done
// once per call set; Keys is immutable and safe for concurrent use.
type Keys struct {
	token [32]byte
	value [32]byte
}

// DeriveKeys derives the token PRF key and the entry-row sealing key from
// the master key. A master key of the wrong length is rejected, never
// truncated or padded.
func DeriveKeys(masterKey []byte) (*Keys, error) {
	if len(masterKey) != MasterKeyLength {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d",
			errors.ErrKeySize, MasterKeyLength, len(masterKey))
	}
	k := &Keys{}
	if err := hkdfDerive(masterKey, infoEntryToken, k.token[:]); err != nil {
		return nil, err
	}
	if err := hkdfDerive(masterKey, infoEntryValue, k.value[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// KeywordHash returns the SHA-256 digest of a keyword. The digest, not the
// keyword, enters token derivation and the Entry Table payload.
func KeywordHash(kw model.Keyword) [model.KeywordHashLength]byte {
	return sha256.Sum256(kw)
}

// EntryToken derives the Entry Table token for a keyword under the given
// label: HMAC(tokenKey, label ‖ keywordHash).
func (k *Keys) EntryToken(label model.Label, keywordHash [model.KeywordHashLength]byte) model.Token {
	mac := hmac.New(sha256.New, k.token[:])
	mac.Write(label)
	mac.Write(keywordHash[:])
	var t model.Token
	mac.Sum(t[:0])
	return t
}

// SealEntry encrypts an Entry Table payload.
func (k *Keys) SealEntry(payload []byte) ([]byte, error) {
	return Seal(k.value[:], payload)
}

// OpenEntry decrypts an Entry Table row.
func (k *Keys) OpenEntry(sealed []byte) ([]byte, error) {
	return Open(k.value[:], sealed)
}

// ChainKeys holds the sub-keys derived from one per-keyword seed.
type ChainKeys struct {
	token [32]byte
	value [32]byte
}

// DeriveChainKeys derives the chain token and sealing keys from an Entry
// Table seed. Compaction rotates seeds, which makes old and new chains
// unlinkable.
func DeriveChainKeys(seed [model.SeedLength]byte) (*ChainKeys, error) {
	k := &ChainKeys{}
	if err := hkdfDerive(seed[:], infoChainToken, k.token[:]); err != nil {
		return nil, err
	}
	if err := hkdfDerive(seed[:], infoChainValue, k.value[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// Token derives the token of the i-th Chain Table row (1-based):
// HMAC(chainTokenKey, keywordHash ‖ be32(i)).
func (k *ChainKeys) Token(keywordHash [model.KeywordHashLength]byte, i uint32) model.Token {
	var index [4]byte
	binary.BigEndian.PutUint32(index[:], i)
	mac := hmac.New(sha256.New, k.token[:])
	mac.Write(keywordHash[:])
	mac.Write(index[:])
	var t model.Token
	mac.Sum(t[:0])
	return t
}

// Seal encrypts a Chain Table row.
func (k *ChainKeys) Seal(payload []byte) ([]byte, error) {
	return Seal(k.value[:], payload)
}

// Open decrypts a Chain Table row.
func (k *ChainKeys) Open(sealed []byte) ([]byte, error) {
	return Open(k.value[:], sealed)
}

// Seal encrypts plaintext under key with a random nonce and returns
// nonce ‖ ciphertext ‖ tag.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrKeySize, err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize, chacha20poly1305.NonceSize+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Cryptof("drawing nonce: %v", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed value. A tag mismatch implies tampering or
// corruption and surfaces as a crypto failure.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrKeySize, err)
	}
	if len(sealed) < Overhead {
		return nil, errors.Cryptof("sealed value too short: %d bytes", len(sealed))
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Cryptof("authentication failed")
	}
	return plaintext, nil
}

// NewMasterKey draws a fresh master key from the CSPRNG.
func NewMasterKey() ([]byte, error) {
	return randomBytes(MasterKeyLength)
}

// NewLabel draws a fresh public label of the given width.
func NewLabel(n int) (model.Label, error) {
	b, err := randomBytes(n)
	return model.Label(b), err
}

// NewSeed draws a fresh per-keyword seed.
func NewSeed() ([model.SeedLength]byte, error) {
	var seed [model.SeedLength]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, errors.Cryptof("drawing seed: %v", err)
	}
	return seed, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.Cryptof("drawing %d random bytes: %v", n, err)
	}
	return b, nil
}

// hkdfDerive performs HKDF-SHA256 with the given info string. No salt is
// used; the info string alone separates the derived keys.
func hkdfDerive(secret []byte, info string, out []byte) error {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(reader, out); err != nil {
		return errors.Cryptof("hkdf derivation: %v", err)
	}
	return nil
}
