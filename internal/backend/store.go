// Package backend defines the five-operation storage contract every
// adapter implements, plus the in-memory reference store, the
// serialized-callback store, and the Prometheus-instrumented decorator.
package backend

import (
	"context"

	"github.com/encsearch/findex/internal/model"
)

// Table names an index table for adapters and metrics.
type Table string

const (
	EntryTable Table = "entry"
	ChainTable Table = "chain"
)

// Store is the capability contract of one index table. All operations are
// bulk and must tolerate concurrent in-flight requests; implementations
// hold no lock across calls. Values are encrypted rows, opaque to the
// store.
type Store interface {
	// DumpTokens enumerates every stored token. Large tables are paginated
	// internally; the caller sees one complete result.
	DumpTokens(ctx context.Context) ([]model.Token, error)

	// Fetch bulk-reads the given tokens. Tokens with no stored row are
	// simply absent from the result, never an error.
	Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error)

	// Upsert conditionally writes newValues: each token's row is replaced
	// only if its currently-stored value equals oldValues[token] (absent
	// meaning no row). It returns the rejected subset mapped to the value
	// currently stored, so the caller can reconcile and resubmit.
	//
	// Adapters may treat a conditioned write on an absent row as a win
	// rather than a rejection (the Redis CAS script does). Callers only
	// condition on values they previously fetched, so the row can be
	// absent only when an entire table epoch was dropped underneath them,
	// and the stale write lands on a token nothing resolves anymore.
	Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error)

	// Insert unconditionally writes rows. Used for Chain Table appends,
	// where token collision is not expected.
	Insert(ctx context.Context, rows map[model.Token][]byte) error

	// Delete unconditionally removes the given tokens. Used by compaction
	// only.
	Delete(ctx context.Context, tokens []model.Token) error
}
