// Package findex implements an encrypted searchable index: a multi-map
// from keywords to opaque values stored on an untrusted backend, which can
// be looked up and updated without revealing keywords or values to that
// backend, supports concurrent writers through backend compare-and-swap,
// and is periodically re-encrypted under a fresh label for unlinkability.
package findex

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/compact"
	"github.com/encsearch/findex/internal/crypto"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/internal/search"
	"github.com/encsearch/findex/internal/upsert"
	"github.com/encsearch/findex/pkg/logger"
	"github.com/encsearch/findex/pkg/metrics"
)

// Re-exported model types, so callers need not import internal packages.
type (
	// Keyword is an opaque search term.
	Keyword = model.Keyword
	// Location is an opaque reference to externally-stored payload.
	Location = model.Location
	// IndexedValue is either a Location or a NextKeyword indirection.
	IndexedValue = model.IndexedValue
	// Label is the public per-epoch salt of token derivation.
	Label = model.Label
)

// IndexLocation wraps a Location for indexing.
func IndexLocation(l Location) IndexedValue { return model.IndexLocation(l) }

// IndexNextKeyword wraps a Keyword indirection for indexing.
func IndexNextKeyword(w Keyword) IndexedValue { return model.IndexNextKeyword(w) }

// BuildKeywordGraph links every strict prefix of each keyword to the next
// longer one, enabling prefix search through indirection.
func BuildKeywordGraph(keywords []Keyword, minLength int) map[string][]IndexedValue {
	return model.BuildKeywordGraph(keywords, minLength)
}

// MasterKeyLength is the width of an index master key.
const MasterKeyLength = crypto.MasterKeyLength

// Keygen draws a fresh master key from the CSPRNG.
func Keygen() ([]byte, error) {
	return crypto.NewMasterKey()
}

// NewLabel draws a fresh 32-byte public label.
func NewLabel() (Label, error) {
	return crypto.NewLabel(32)
}

// Index binds the protocol engines to one Entry Table and one Chain Table
// store. It holds no key material and no mutable state: the master key and
// label are passed per call, so one Index is safe for concurrent use from
// any number of goroutines or processes sharing the backend.
type Index struct {
	entries   backend.Store
	chains    backend.Store
	upserter  *upsert.Engine
	searcher  *search.Engine
	compactor *compact.Engine
	maxDepth  int
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds an Index over the given table stores.
func New(entries, chains backend.Store, opts ...Option) *Index {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics != nil {
		entries = backend.Instrument(entries, backend.EntryTable, o.metrics)
		chains = backend.Instrument(chains, backend.ChainTable, o.metrics)
	}
	return &Index{
		entries:   entries,
		chains:    chains,
		upserter:  upsert.New(entries, chains, o.batchSize),
		searcher:  search.New(entries, chains),
		compactor: compact.New(entries, chains, o.batchSize),
		maxDepth:  o.maxDepth,
		batchSize: o.batchSize,
		metrics:   o.metrics,
		logger:    logger.WithComponent("findex"),
	}
}

// Add indexes the given values under their keywords and returns the
// keywords that were not present before. Compare-and-swap conflicts with
// concurrent writers are reconciled by recomputing the delta against the
// fresh state and resubmitting; each round can only shrink the conflict
// set.
func (x *Index) Add(ctx context.Context, key []byte, label Label, additions map[string][]IndexedValue) ([]Keyword, error) {
	mutations := make(map[string]upsert.Mutation, len(additions))
	for kw, values := range additions {
		mutations[kw] = upsert.Mutation{Additions: values}
	}
	return x.apply(ctx, key, label, mutations)
}

// Delete removes the given values from their keywords' result sets. Values
// not currently indexed are ignored. The Entry row survives as a tombstone
// until compaction even when the value set becomes empty.
func (x *Index) Delete(ctx context.Context, key []byte, label Label, deletions map[string][]IndexedValue) ([]Keyword, error) {
	mutations := make(map[string]upsert.Mutation, len(deletions))
	for kw, values := range deletions {
		mutations[kw] = upsert.Mutation{Deletions: values}
	}
	return x.apply(ctx, key, label, mutations)
}

func (x *Index) apply(ctx context.Context, key []byte, label Label, mutations map[string]upsert.Mutation) ([]Keyword, error) {
	keys, err := crypto.DeriveKeys(key)
	if err != nil {
		return nil, err
	}
	var created []Keyword
	for round := 0; len(mutations) > 0; round++ {
		result, err := x.upserter.Apply(ctx, keys, label, mutations)
		if err != nil {
			return nil, err
		}
		created = append(created, result.Created...)
		if len(result.Rejected) == 0 {
			break
		}
		x.logger.Debug("retrying rejected upserts", "round", round, "rejected", len(result.Rejected))
		retry := make(map[string]upsert.Mutation, len(result.Rejected))
		for kw := range result.Rejected {
			retry[kw] = mutations[kw]
		}
		mutations = retry
	}
	return created, nil
}

// Search resolves keywords to their reachable locations. The result maps
// each queried keyword to the locations found within the configured
// recursion depth; keywords with no index entry map to an empty set.
func (x *Index) Search(ctx context.Context, key []byte, label Label, keywords []Keyword, opts ...SearchOption) (map[string][]Location, error) {
	keys, err := crypto.DeriveKeys(key)
	if err != nil {
		return nil, err
	}
	options := search.Options{MaxDepth: x.maxDepth, BatchSize: x.batchSize}
	for _, opt := range opts {
		opt(&options)
	}
	if x.metrics == nil {
		return x.searcher.Search(ctx, keys, label, keywords, options)
	}

	depth := 0
	stopped := false
	inner := options.Progress
	options.Progress = func(ctx context.Context, level int, found map[string][]IndexedValue) (bool, error) {
		depth = level + 1
		if inner == nil {
			return true, nil
		}
		keepGoing, err := inner(ctx, level, found)
		stopped = !keepGoing
		return keepGoing, err
	}
	results, err := x.searcher.Search(ctx, keys, label, keywords, options)
	if err == nil {
		x.metrics.SearchDepthReached.
			WithLabelValues(strconv.FormatBool(stopped)).
			Observe(float64(depth))
	}
	return results, err
}

// Compact rewrites the whole index under newKey and newLabel, dropping
// tombstones and the locations the filter reports removed. Searches and
// upserts under the old (key, label) pair keep working until the old rows
// are deleted, which happens only after the new epoch is fully written.
func (x *Index) Compact(ctx context.Context, oldKey, newKey []byte, oldLabel, newLabel Label, filter compact.Filter) error {
	oldKeys, err := crypto.DeriveKeys(oldKey)
	if err != nil {
		return err
	}
	newKeys, err := crypto.DeriveKeys(newKey)
	if err != nil {
		return err
	}
	return x.compactor.Compact(ctx, oldKeys, newKeys, oldLabel, newLabel, filter)
}

// RemovedLocationsFilter is the compaction oracle: it receives every
// location referenced by the index and returns the subset still valid.
type RemovedLocationsFilter = compact.Filter

// ProgressCallback is invoked after each search depth level; returning
// false stops the traversal while keeping the locations collected so far.
type ProgressCallback = search.Progress
