package pgstore

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/config"
	"github.com/encsearch/findex/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "findex_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "findex"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
	client, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func newTestStore(t *testing.T, table backend.Table) *Store {
	t.Helper()
	client := skipIfNoPostgres(t)
	store, err := New(client, table)
	require.NoError(t, err)
	require.NoError(t, store.Clear(context.Background()))
	return store
}

func tok(fill byte) model.Token {
	var t model.Token
	for i := range t {
		t[i] = fill
	}
	return t
}

func TestStore_RoundtripAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, backend.EntryTable)

	require.NoError(t, store.Insert(ctx, map[model.Token][]byte{
		tok(1): []byte("one"),
		tok(2): []byte("two"),
	}))

	rows, err := store.Fetch(ctx, []model.Token{tok(1), tok(2), tok(3)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []byte("one"), rows[tok(1)])

	tokens, err := store.DumpTokens(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []model.Token{tok(1), tok(2)}, tokens)

	require.NoError(t, store.Delete(ctx, []model.Token{tok(1)}))
	rows, err = store.Fetch(ctx, []model.Token{tok(1)})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStore_UpsertSemantics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, backend.EntryTable)

	rejected, err := store.Upsert(ctx, nil, map[model.Token][]byte{tok(1): []byte("v1")})
	require.NoError(t, err)
	require.Empty(t, rejected)

	rejected, err = store.Upsert(ctx,
		map[model.Token][]byte{tok(1): []byte("v1")},
		map[model.Token][]byte{tok(1): []byte("v2")})
	require.NoError(t, err)
	require.Empty(t, rejected)

	rejected, err = store.Upsert(ctx,
		map[model.Token][]byte{tok(1): []byte("v1")},
		map[model.Token][]byte{tok(1): []byte("v3")})
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), rejected[tok(1)])
}

func TestStore_ConcurrentUpsertOneWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, backend.EntryTable)

	const writers = 8
	wins := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		go func() {
			rejected, err := store.Upsert(ctx, nil, map[model.Token][]byte{tok(7): {byte(i)}})
			if err != nil {
				wins <- false
				return
			}
			wins <- len(rejected) == 0
		}()
	}

	winners := 0
	for i := 0; i < writers; i++ {
		if <-wins {
			winners++
		}
	}
	require.Equal(t, 1, winners)
}

func TestStore_DumpPagesThroughLargeTable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, backend.ChainTable)
	t.Cleanup(func() { store.Clear(ctx) })

	rows := make(map[model.Token][]byte, 1500)
	for i := 0; i < 1500; i++ {
		var tk model.Token
		tk[0] = byte(i >> 8)
		tk[1] = byte(i)
		tk[2] = 0xA5
		rows[tk] = []byte{byte(i)}
	}
	require.NoError(t, store.Insert(ctx, rows))

	tokens, err := store.DumpTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, len(rows))
}
