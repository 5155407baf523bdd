package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
)

func testKeys(t *testing.T) *Keys {
	t.Helper()
	keys, err := DeriveKeys(bytes.Repeat([]byte{0x11}, MasterKeyLength))
	require.NoError(t, err)
	return keys
}

func TestDeriveKeys_RejectsWrongSize(t *testing.T) {
	for _, n := range []int{0, MasterKeyLength - 1, MasterKeyLength + 1, 32} {
		_, err := DeriveKeys(make([]byte, n))
		require.ErrorIs(t, err, errors.ErrKeySize, "length %d", n)
	}
}

func TestEntryToken_Deterministic(t *testing.T) {
	keys := testKeys(t)
	label := model.Label("epoch-1")
	hash := KeywordHash(model.Keyword("france"))

	require.Equal(t, keys.EntryToken(label, hash), keys.EntryToken(label, hash))
}

func TestEntryToken_LabelChangesToken(t *testing.T) {
	keys := testKeys(t)
	hash := KeywordHash(model.Keyword("france"))

	t1 := keys.EntryToken(model.Label("epoch-1"), hash)
	t2 := keys.EntryToken(model.Label("epoch-2"), hash)
	require.NotEqual(t, t1, t2)
}

func TestEntryToken_KeyChangesToken(t *testing.T) {
	k1 := testKeys(t)
	k2, err := DeriveKeys(bytes.Repeat([]byte{0x22}, MasterKeyLength))
	require.NoError(t, err)

	label := model.Label("epoch-1")
	hash := KeywordHash(model.Keyword("france"))
	require.NotEqual(t, k1.EntryToken(label, hash), k2.EntryToken(label, hash))
}

func TestSealOpen_Roundtrip(t *testing.T) {
	keys := testKeys(t)
	payload := model.EntryPayload{ChainLength: 3}
	copy(payload.Seed[:], bytes.Repeat([]byte{0x42}, model.SeedLength))

	sealed, err := keys.SealEntry(payload.Encode())
	require.NoError(t, err)
	require.Len(t, sealed, SealedEntryLength)

	opened, err := keys.OpenEntry(sealed)
	require.NoError(t, err)
	require.Equal(t, payload.Encode(), opened)
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	keys := testKeys(t)
	plaintext := make([]byte, model.EntryPayloadLength)

	s1, err := keys.SealEntry(plaintext)
	require.NoError(t, err)
	s2, err := keys.SealEntry(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestOpen_TamperedCiphertext(t *testing.T) {
	keys := testKeys(t)
	sealed, err := keys.SealEntry(make([]byte, model.EntryPayloadLength))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = keys.OpenEntry(sealed)
	require.ErrorIs(t, err, errors.ErrCrypto)
}

func TestOpen_WrongKey(t *testing.T) {
	k1 := testKeys(t)
	k2, err := DeriveKeys(bytes.Repeat([]byte{0x33}, MasterKeyLength))
	require.NoError(t, err)

	sealed, err := k1.SealEntry(make([]byte, model.EntryPayloadLength))
	require.NoError(t, err)
	_, err = k2.OpenEntry(sealed)
	require.ErrorIs(t, err, errors.ErrCrypto)
}

func TestOpen_TooShort(t *testing.T) {
	keys := testKeys(t)
	_, err := keys.OpenEntry(make([]byte, Overhead-1))
	require.ErrorIs(t, err, errors.ErrCrypto)
}

func TestChainKeys_TokenDependsOnIndex(t *testing.T) {
	var seed [model.SeedLength]byte
	keys, err := DeriveChainKeys(seed)
	require.NoError(t, err)

	hash := KeywordHash(model.Keyword("france"))
	require.NotEqual(t, keys.Token(hash, 1), keys.Token(hash, 2))
}

func TestChainKeys_SeedChangesEverything(t *testing.T) {
	s1, err := NewSeed()
	require.NoError(t, err)
	s2, err := NewSeed()
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	k1, err := DeriveChainKeys(s1)
	require.NoError(t, err)
	k2, err := DeriveChainKeys(s2)
	require.NoError(t, err)

	hash := KeywordHash(model.Keyword("france"))
	require.NotEqual(t, k1.Token(hash, 1), k2.Token(hash, 1))
}

func TestChainKeys_SealOpenRoundtrip(t *testing.T) {
	seed, err := NewSeed()
	require.NoError(t, err)
	keys, err := DeriveChainKeys(seed)
	require.NoError(t, err)

	line := bytes.Repeat([]byte{0x5A}, model.ChainPayloadLength)
	sealed, err := keys.Seal(line)
	require.NoError(t, err)
	require.Len(t, sealed, SealedChainLength)

	opened, err := keys.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, line, opened)
}

func TestNewMasterKey(t *testing.T) {
	k1, err := NewMasterKey()
	require.NoError(t, err)
	require.Len(t, k1, MasterKeyLength)

	k2, err := NewMasterKey()
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}
