package compact

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/crypto"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/internal/search"
	"github.com/encsearch/findex/internal/upsert"
	"github.com/encsearch/findex/pkg/errors"
)

type fixture struct {
	entries  *backend.MemoryStore
	chains   *backend.MemoryStore
	engine   *Engine
	searcher *search.Engine
	upserter *upsert.Engine
	oldKeys  *crypto.Keys
	newKeys  *crypto.Keys
	oldLabel model.Label
	newLabel model.Label
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	oldKeys, err := crypto.DeriveKeys(bytes.Repeat([]byte{0x03}, crypto.MasterKeyLength))
	require.NoError(t, err)
	newKeys, err := crypto.DeriveKeys(bytes.Repeat([]byte{0x04}, crypto.MasterKeyLength))
	require.NoError(t, err)
	entries := backend.NewMemoryStore()
	chains := backend.NewMemoryStore()
	return &fixture{
		entries:  entries,
		chains:   chains,
		engine:   New(entries, chains, 0),
		searcher: search.New(entries, chains),
		upserter: upsert.New(entries, chains, 0),
		oldKeys:  oldKeys,
		newKeys:  newKeys,
		oldLabel: model.Label("epoch-1"),
		newLabel: model.Label("epoch-2"),
	}
}

func loc(s string) model.IndexedValue  { return model.IndexLocation(model.Location(s)) }
func next(s string) model.IndexedValue { return model.IndexNextKeyword(model.Keyword(s)) }

func (f *fixture) index(t *testing.T, kw string, values ...model.IndexedValue) {
	t.Helper()
	result, err := f.upserter.Apply(context.Background(), f.oldKeys, f.oldLabel,
		map[string]upsert.Mutation{kw: {Additions: values}})
	require.NoError(t, err)
	require.Empty(t, result.Rejected)
}

func (f *fixture) remove(t *testing.T, kw string, values ...model.IndexedValue) {
	t.Helper()
	result, err := f.upserter.Apply(context.Background(), f.oldKeys, f.oldLabel,
		map[string]upsert.Mutation{kw: {Deletions: values}})
	require.NoError(t, err)
	require.Empty(t, result.Rejected)
}

func (f *fixture) search(t *testing.T, keys *crypto.Keys, label model.Label, kw string) []model.Location {
	t.Helper()
	results, err := f.searcher.Search(context.Background(), keys, label,
		[]model.Keyword{model.Keyword(kw)}, search.Options{})
	require.NoError(t, err)
	return results[kw]
}

func TestCompact_RequiresFreshLabelOrKey(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Compact(context.Background(), f.oldKeys, f.oldKeys, f.oldLabel, f.oldLabel, nil)
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestCompact_SameKeyFreshLabelAllowed(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("loc1"))

	err := f.engine.Compact(context.Background(), f.oldKeys, f.oldKeys, f.oldLabel, f.newLabel, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []model.Location{model.Location("loc1")},
		f.search(t, f.oldKeys, f.newLabel, "france"))
}

func TestCompact_ResultsEquivalentUnderNewEpoch(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("loc1"), loc("loc2"))
	f.index(t, "germany", loc("loc3"))

	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, nil)
	require.NoError(t, err)

	require.ElementsMatch(t,
		[]model.Location{model.Location("loc1"), model.Location("loc2")},
		f.search(t, f.newKeys, f.newLabel, "france"))
	require.ElementsMatch(t,
		[]model.Location{model.Location("loc3")},
		f.search(t, f.newKeys, f.newLabel, "germany"))
}

func TestCompact_OldEpochUnreachableAfterSwap(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("loc1"))

	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, nil)
	require.NoError(t, err)
	require.Empty(t, f.search(t, f.oldKeys, f.oldLabel, "france"))
}

func TestCompact_DropsTombstones(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("loc1"), loc("loc2"))
	f.remove(t, "france", loc("loc1"))

	chainRowsBefore := f.chains.Len()
	require.Greater(t, chainRowsBefore, 1, "insert plus tombstone rounds")

	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, nil)
	require.NoError(t, err)

	require.ElementsMatch(t, []model.Location{model.Location("loc2")},
		f.search(t, f.newKeys, f.newLabel, "france"))
	require.Equal(t, 1, f.chains.Len(), "collapsed chain fits one row")
}

func TestCompact_DropsEmptiedKeywords(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("loc1"))
	f.remove(t, "france", loc("loc1"))
	require.Equal(t, 1, f.entries.Len())

	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, nil)
	require.NoError(t, err)
	require.Equal(t, 0, f.entries.Len())
	require.Equal(t, 0, f.chains.Len())
}

func TestCompact_FilterRemovesLocations(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("kept"), loc("gone"))
	f.index(t, "germany", loc("gone"))

	filter := func(ctx context.Context, locations []model.Location) ([]model.Location, error) {
		var remaining []model.Location
		for _, l := range locations {
			if string(l) != "gone" {
				remaining = append(remaining, l)
			}
		}
		return remaining, nil
	}

	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, filter)
	require.NoError(t, err)

	require.ElementsMatch(t, []model.Location{model.Location("kept")},
		f.search(t, f.newKeys, f.newLabel, "france"))
	require.Empty(t, f.search(t, f.newKeys, f.newLabel, "germany"))
	require.Equal(t, 1, f.entries.Len(), "germany dropped entirely")
}

func TestCompact_KeepsIndirections(t *testing.T) {
	f := newFixture(t)
	f.index(t, "fra", next("france"))
	f.index(t, "france", loc("loc1"))

	// A filter that keeps everything must not disturb NextKeyword links.
	keepAll := func(ctx context.Context, locations []model.Location) ([]model.Location, error) {
		return locations, nil
	}
	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, keepAll)
	require.NoError(t, err)

	require.ElementsMatch(t, []model.Location{model.Location("loc1")},
		f.search(t, f.newKeys, f.newLabel, "fra"))
}

func TestCompact_FilterErrorLeavesOldEpochIntact(t *testing.T) {
	f := newFixture(t)
	f.index(t, "france", loc("loc1"))

	failing := func(ctx context.Context, locations []model.Location) ([]model.Location, error) {
		return nil, context.DeadlineExceeded
	}
	err := f.engine.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, failing)
	require.Error(t, err)

	require.ElementsMatch(t, []model.Location{model.Location("loc1")},
		f.search(t, f.oldKeys, f.oldLabel, "france"))
}

func TestCompact_WritesAreBatchedAcrossManyKeywords(t *testing.T) {
	f := newFixture(t)
	small := New(f.entries, f.chains, 2) // force multiple fetch batches

	for _, kw := range []string{"k1", "k2", "k3", "k4", "k5"} {
		f.index(t, kw, loc("loc-"+kw))
	}
	err := small.Compact(context.Background(), f.oldKeys, f.newKeys, f.oldLabel, f.newLabel, nil)
	require.NoError(t, err)

	for _, kw := range []string{"k1", "k2", "k3", "k4", "k5"} {
		require.ElementsMatch(t, []model.Location{model.Location("loc-" + kw)},
			f.search(t, f.newKeys, f.newLabel, kw))
	}
}
