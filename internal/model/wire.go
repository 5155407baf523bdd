package model

import (
	"encoding/binary"

	"github.com/encsearch/findex/pkg/errors"
)

// Wire format of the callback and REST boundaries: varint-counted sequences
// of fixed-width tokens and length-prefixed values. Deterministic token
// order is not part of the contract; decoders must not rely on it.

// SerializeTokens encodes varint(count) ‖ token*.
func SerializeTokens(tokens []Token) []byte {
	out := binary.AppendUvarint(nil, uint64(len(tokens)))
	for _, t := range tokens {
		out = append(out, t[:]...)
	}
	return out
}

// DeserializeTokens decodes the SerializeTokens form.
func DeserializeTokens(b []byte) ([]Token, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, errors.Serializationf("token set: cannot read count")
	}
	b = b[n:]
	// Bound count before multiplying so a crafted value cannot wrap.
	if count > uint64(len(b))/TokenLength || uint64(len(b)) != count*TokenLength {
		return nil, errors.Serializationf("token set: %d trailing bytes for %d tokens", len(b), count)
	}
	tokens := make([]Token, count)
	for i := range tokens {
		copy(tokens[i][:], b[i*TokenLength:])
	}
	return tokens, nil
}

// SerializeRows encodes varint(count) ‖ (token ‖ varint(len) ‖ value)*.
func SerializeRows(rows map[Token][]byte) []byte {
	out := binary.AppendUvarint(nil, uint64(len(rows)))
	for t, v := range rows {
		out = append(out, t[:]...)
		out = binary.AppendUvarint(out, uint64(len(v)))
		out = append(out, v...)
	}
	return out
}

// DeserializeRows decodes the SerializeRows form.
func DeserializeRows(b []byte) (map[Token][]byte, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, errors.Serializationf("row set: cannot read count")
	}
	b = b[n:]
	// Each row needs at least a token; cap the pre-size on what b can hold.
	if count > uint64(len(b))/TokenLength {
		return nil, errors.Serializationf("row set: %d bytes cannot hold %d rows", len(b), count)
	}
	rows := make(map[Token][]byte, count)
	for i := uint64(0); i < count; i++ {
		var t Token
		if len(b) < TokenLength {
			return nil, errors.Serializationf("row set: truncated token at row %d", i)
		}
		copy(t[:], b)
		b = b[TokenLength:]
		v, rest, err := readValue(b, i)
		if err != nil {
			return nil, err
		}
		b = rest
		rows[t] = v
	}
	if len(b) != 0 {
		return nil, errors.Serializationf("row set: %d trailing bytes", len(b))
	}
	return rows, nil
}

// SerializeUpsert encodes the conditional-write request: varint(count) ‖
// (token ‖ varint(len old) ‖ old ‖ varint(len new) ‖ new)*. An absent old
// value is encoded with length zero.
func SerializeUpsert(oldValues, newValues map[Token][]byte) []byte {
	out := binary.AppendUvarint(nil, uint64(len(newValues)))
	for t, newValue := range newValues {
		out = append(out, t[:]...)
		oldValue := oldValues[t]
		out = binary.AppendUvarint(out, uint64(len(oldValue)))
		out = append(out, oldValue...)
		out = binary.AppendUvarint(out, uint64(len(newValue)))
		out = append(out, newValue...)
	}
	return out
}

// DeserializeUpsert decodes the SerializeUpsert form.
func DeserializeUpsert(b []byte) (oldValues, newValues map[Token][]byte, err error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, errors.Serializationf("upsert request: cannot read count")
	}
	b = b[n:]
	oldValues = make(map[Token][]byte, count)
	newValues = make(map[Token][]byte, count)
	for i := uint64(0); i < count; i++ {
		var t Token
		if len(b) < TokenLength {
			return nil, nil, errors.Serializationf("upsert request: truncated token at row %d", i)
		}
		copy(t[:], b)
		b = b[TokenLength:]
		oldValue, rest, err := readValue(b, i)
		if err != nil {
			return nil, nil, err
		}
		newValue, rest, err := readValue(rest, i)
		if err != nil {
			return nil, nil, err
		}
		b = rest
		if len(oldValue) > 0 {
			oldValues[t] = oldValue
		}
		newValues[t] = newValue
	}
	if len(b) != 0 {
		return nil, nil, errors.Serializationf("upsert request: %d trailing bytes", len(b))
	}
	return oldValues, newValues, nil
}

func readValue(b []byte, row uint64) (value, rest []byte, err error) {
	length, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, errors.Serializationf("cannot read value length at row %d", row)
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return nil, nil, errors.Serializationf("truncated value at row %d", row)
	}
	value = make([]byte, length)
	copy(value, b)
	return value, b[length:], nil
}
