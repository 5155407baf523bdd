package findex

import (
	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/backend/pgstore"
	"github.com/encsearch/findex/internal/backend/redisstore"
	"github.com/encsearch/findex/internal/backend/reststore"
	"github.com/encsearch/findex/internal/backend/sqlitestore"
	"github.com/encsearch/findex/internal/chain"
	"github.com/encsearch/findex/internal/search"
	"github.com/encsearch/findex/pkg/auth"
	"github.com/encsearch/findex/pkg/config"
	"github.com/encsearch/findex/pkg/metrics"
	"github.com/encsearch/findex/pkg/postgres"
	"github.com/encsearch/findex/pkg/redis"
)

// Callbacks is the handler set of a caller-provided backend.
type Callbacks = backend.Callbacks

type options struct {
	maxDepth  int
	batchSize int
	metrics   *metrics.Metrics
}

func defaultOptions() *options {
	return &options{
		maxDepth:  search.DefaultMaxDepth,
		batchSize: chain.DefaultBatchSize,
	}
}

// Option configures an Index at construction time.
type Option func(*options)

// WithMaxDepth bounds keyword indirection during search.
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

// WithBatchSize sets how many rows are fetched per backend round trip.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithMetrics wraps both stores with per-operation Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIndexConfig applies the engine limits from a loaded configuration.
func WithIndexConfig(cfg config.IndexConfig) Option {
	return func(o *options) {
		if cfg.MaxDepth > 0 {
			o.maxDepth = cfg.MaxDepth
		}
		if cfg.FetchBatchSize > 0 {
			o.batchSize = cfg.FetchBatchSize
		}
	}
}

// SearchOption tunes a single Search call.
type SearchOption func(*search.Options)

// WithProgress registers a callback invoked after each recursion level.
func WithProgress(p ProgressCallback) SearchOption {
	return func(o *search.Options) { o.Progress = p }
}

// WithSearchDepth overrides the index-wide depth bound for one call.
func WithSearchDepth(depth int) SearchOption {
	return func(o *search.Options) { o.MaxDepth = depth }
}

// NewMemory builds an Index over in-process maps. Intended for tests and
// single-process use.
func NewMemory(opts ...Option) *Index {
	return New(backend.NewMemoryStore(), backend.NewMemoryStore(), opts...)
}

// NewRedis builds an Index over a shared Redis database, with the two
// tables separated by key prefix.
func NewRedis(client *redis.Client, opts ...Option) *Index {
	return New(
		redisstore.New(client, backend.EntryTable),
		redisstore.New(client, backend.ChainTable),
		opts...,
	)
}

// NewPostgres builds an Index over two PostgreSQL tables, creating them if
// absent.
func NewPostgres(client *postgres.Client, opts ...Option) (*Index, error) {
	entries, err := pgstore.New(client, backend.EntryTable)
	if err != nil {
		return nil, err
	}
	chains, err := pgstore.New(client, backend.ChainTable)
	if err != nil {
		return nil, err
	}
	return New(entries, chains, opts...), nil
}

// NewSQLite builds an Index over two SQLite files. The two paths may name
// the same file.
func NewSQLite(cfg config.SQLiteConfig, opts ...Option) (*Index, error) {
	entries, err := sqlitestore.New(cfg.EntryPath, backend.EntryTable)
	if err != nil {
		return nil, err
	}
	chains, err := sqlitestore.New(cfg.ChainPath, backend.ChainTable)
	if err != nil {
		entries.Close()
		return nil, err
	}
	return New(entries, chains, opts...), nil
}

// NewREST builds an Index speaking to a remote index server, signing each
// request with the per-operation keys carried by the authorization token.
// Operations whose seed the token lacks fail before any network traffic.
func NewREST(cfg config.RESTConfig, token *auth.Token, opts ...Option) *Index {
	return New(
		reststore.New(cfg, token, backend.EntryTable),
		reststore.New(cfg, token, backend.ChainTable),
		opts...,
	)
}

// NewCallback builds an Index whose storage operations are delegated to
// caller-provided functions over the serialized wire format.
func NewCallback(entries, chains Callbacks, opts ...Option) *Index {
	return New(
		backend.NewCallbackStore(backend.EntryTable, entries),
		backend.NewCallbackStore(backend.ChainTable, chains),
		opts...,
	)
}
