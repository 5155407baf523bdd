package findex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/pkg/config"
	"github.com/encsearch/findex/pkg/metrics"
)

func newTestIndex(t *testing.T, opts ...Option) (*Index, []byte, Label) {
	t.Helper()
	key, err := Keygen()
	require.NoError(t, err)
	label, err := NewLabel()
	require.NoError(t, err)
	return NewMemory(opts...), key, label
}

func TestIndex_AddThenSearch(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	created, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1")), IndexLocation(Location("loc2"))},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]Location{Location("loc1"), Location("loc2")},
		results["france"])
}

func TestIndex_DeleteHidesValue(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1")), IndexLocation(Location("loc2"))},
	})
	require.NoError(t, err)

	_, err = index.Delete(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1"))},
	})
	require.NoError(t, err)

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.ElementsMatch(t, []Location{Location("loc2")}, results["france"])
}

func TestIndex_WrongKeyFindsNothing(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1"))},
	})
	require.NoError(t, err)

	otherKey, err := Keygen()
	require.NoError(t, err)
	results, err := index.Search(ctx, otherKey, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.Empty(t, results["france"])
}

func TestIndex_RejectsWrongKeySize(t *testing.T) {
	ctx := context.Background()
	index, _, label := newTestIndex(t)

	_, err := index.Add(ctx, make([]byte, 8), label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1"))},
	})
	require.Error(t, err)

	_, err = index.Search(ctx, make([]byte, 8), label, []Keyword{Keyword("france")})
	require.Error(t, err)
}

func TestIndex_PrefixSearchThroughGraph(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	words := []Keyword{Keyword("robert"), Keyword("roberta")}
	additions := map[string][]IndexedValue{
		"robert":  {IndexLocation(Location("doc-robert"))},
		"roberta": {IndexLocation(Location("doc-roberta"))},
	}
	for from, links := range BuildKeywordGraph(words, 3) {
		additions[from] = append(additions[from], links...)
	}
	_, err := index.Add(ctx, key, label, additions)
	require.NoError(t, err)

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("rob")})
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]Location{Location("doc-robert"), Location("doc-roberta")},
		results["rob"])
}

func TestIndex_ConcurrentAddsAllVisible(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
				"france": {IndexLocation(Location{byte(i)})},
			})
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.Len(t, results["france"], writers, "retry loop must converge past CAS conflicts")
}

func TestIndex_CompactRotatesEpoch(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("kept")), IndexLocation(Location("gone"))},
	})
	require.NoError(t, err)

	newKey, err := Keygen()
	require.NoError(t, err)
	newLabel, err := NewLabel()
	require.NoError(t, err)

	filter := func(ctx context.Context, locations []Location) ([]Location, error) {
		var remaining []Location
		for _, l := range locations {
			if string(l) != "gone" {
				remaining = append(remaining, l)
			}
		}
		return remaining, nil
	}
	require.NoError(t, index.Compact(ctx, key, newKey, label, newLabel, filter))

	results, err := index.Search(ctx, newKey, newLabel, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.ElementsMatch(t, []Location{Location("kept")}, results["france"])

	old, err := index.Search(ctx, key, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.Empty(t, old["france"])
}

func TestIndex_SearchOptions(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t)

	_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"fra":    {IndexNextKeyword(Keyword("france"))},
		"france": {IndexLocation(Location("deep"))},
	})
	require.NoError(t, err)

	var levels int
	results, err := index.Search(ctx, key, label, []Keyword{Keyword("fra")},
		WithProgress(func(ctx context.Context, level int, found map[string][]IndexedValue) (bool, error) {
			levels++
			return true, nil
		}))
	require.NoError(t, err)
	require.ElementsMatch(t, []Location{Location("deep")}, results["fra"])
	require.Equal(t, 2, levels)

	shallow, err := index.Search(ctx, key, label, []Keyword{Keyword("fra")}, WithSearchDepth(1))
	require.NoError(t, err)
	require.Empty(t, shallow["fra"])
}

func TestIndex_CallbackBackend(t *testing.T) {
	ctx := context.Background()
	entryStore := backend.NewMemoryStore()
	chainStore := backend.NewMemoryStore()
	index := NewCallback(backend.WrapStore(entryStore), backend.WrapStore(chainStore))

	key, err := Keygen()
	require.NoError(t, err)
	label, err := NewLabel()
	require.NoError(t, err)

	_, err = index.Add(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1"))},
	})
	require.NoError(t, err)

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.ElementsMatch(t, []Location{Location("loc1")}, results["france"])
}

func TestIndex_WithIndexConfig(t *testing.T) {
	ctx := context.Background()
	index, key, label := newTestIndex(t, WithIndexConfig(config.IndexConfig{MaxDepth: 1, FetchBatchSize: 2}))

	_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"fra":    {IndexNextKeyword(Keyword("france"))},
		"france": {IndexLocation(Location("deep"))},
	})
	require.NoError(t, err)

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("fra")})
	require.NoError(t, err)
	require.Empty(t, results["fra"], "configured depth bound stops before the indirection target")
}

func TestIndex_WithMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	index, key, label := newTestIndex(t, WithMetrics(m))

	_, err := index.Add(ctx, key, label, map[string][]IndexedValue{
		"france": {IndexLocation(Location("loc1"))},
	})
	require.NoError(t, err)

	results, err := index.Search(ctx, key, label, []Keyword{Keyword("france")})
	require.NoError(t, err)
	require.ElementsMatch(t, []Location{Location("loc1")}, results["france"])
}
