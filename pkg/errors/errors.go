// Package errors defines the error taxonomy of the index protocol. Sentinels
// let the binding layer distinguish protocol and crypto errors (never retry)
// from transient backend errors (the caller may retry).
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrCrypto indicates an AEAD authentication failure or otherwise
	// corrupted ciphertext. It implies tampering and always aborts the call.
	ErrCrypto = errors.New("crypto failure")

	// ErrKeySize indicates a key of the wrong length. Keys are never
	// truncated or padded.
	ErrKeySize = errors.New("wrong key size")

	// ErrBackend indicates the storage backend is unreachable or failed an
	// operation. Retrying is the caller's responsibility.
	ErrBackend = errors.New("backend error")

	// ErrUnauthorized indicates the authorization token holds no seed for
	// the requested operation. Raised before any network call.
	ErrUnauthorized = errors.New("operation not authorized")

	// ErrMissingCallback indicates the caller did not register a callback
	// for the requested backend operation.
	ErrMissingCallback = errors.New("callback not registered")

	// ErrMalformedToken indicates the authorization token could not be
	// parsed.
	ErrMalformedToken = errors.New("malformed authorization token")

	// ErrSerialization indicates a malformed stored value or wire message.
	ErrSerialization = errors.New("serialization error")

	// ErrInvalidInput indicates arguments that violate the protocol
	// contract, such as compacting onto the label already in use.
	ErrInvalidInput = errors.New("invalid input")
)

// Cryptof wraps ErrCrypto with a formatted message.
func Cryptof(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCrypto}, args...)...)
}

// Backendf wraps ErrBackend with a formatted message.
func Backendf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrBackend}, args...)...)
}

// Serializationf wraps ErrSerialization with a formatted message.
func Serializationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSerialization}, args...)...)
}

// Retryable reports whether err is transient. Only backend failures are
// retryable; crypto, authorization, and serialization errors are final.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackend) &&
		!errors.Is(err, ErrCrypto) &&
		!errors.Is(err, ErrSerialization)
}
