package auth

import (
	"crypto/rand"
	"io"

	"github.com/encsearch/findex/pkg/errors"
)

// Random creates a full-permission token for indexID with a fresh master
// key and one fresh seed per operation.
func Random(indexID string) (*Token, error) {
	masterKey := make([]byte, MasterKeyLength)
	if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
		return nil, errors.Cryptof("drawing master key: %v", err)
	}
	seeds := make(map[Operation][]byte, operationCount)
	for op := Operation(0); op < operationCount; op++ {
		seed := make([]byte, SeedLength)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, errors.Cryptof("drawing seed for %s: %v", op, err)
		}
		seeds[op] = seed
	}
	return New(indexID, masterKey, seeds)
}
