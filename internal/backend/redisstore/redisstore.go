// Package redisstore implements the index backend contract on Redis. The
// Entry Table's conditional write runs as a Lua script so the
// compare-and-swap is atomic on the server.
package redisstore

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
	"github.com/encsearch/findex/pkg/logger"
	"github.com/encsearch/findex/pkg/redis"
)

// Keys are namespaced with a two-byte table prefix so one database can hold
// both tables.
var tablePrefix = map[backend.Table][]byte{
	backend.EntryTable: {0x00, 0xEE},
	backend.ChainTable: {0x00, 0xEF},
}

// casScript replaces the stored value only when it is absent or equals
// ARGV[1]; otherwise the current value is returned to the caller.
const casScript = `
local value = redis.call('GET', KEYS[1])
if ((value == false) or (ARGV[1] == value)) then
    redis.call('SET', KEYS[1], ARGV[2])
    return
else
    return value
end`

// Store implements backend.Store for one table on one Redis database.
type Store struct {
	client *redis.Client
	table  backend.Table
	cas    *goredis.Script
	logger *slog.Logger
}

// New wraps an existing client for the given table.
func New(client *redis.Client, table backend.Table) *Store {
	return &Store{
		client: client,
		table:  table,
		cas:    goredis.NewScript(casScript),
		logger: logger.WithComponent("redis-" + string(table)),
	}
}

func (s *Store) key(t model.Token) string {
	k := make([]byte, 0, len(tablePrefix[s.table])+model.TokenLength)
	k = append(k, tablePrefix[s.table]...)
	k = append(k, t[:]...)
	return string(k)
}

func (s *Store) DumpTokens(ctx context.Context) ([]model.Token, error) {
	prefix := tablePrefix[s.table]
	var tokens []model.Token
	iter := s.client.RDB().Scan(ctx, 0, string(prefix)+"*", 1000).Iterator()
	for iter.Next(ctx) {
		key := []byte(iter.Val())
		if len(key) != len(prefix)+model.TokenLength {
			continue
		}
		t, err := model.TokenFromBytes(key[len(prefix):])
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Backendf("redis scan: %v", err)
	}
	s.logger.Debug("dumped tokens", "count", len(tokens))
	return tokens, nil
}

func (s *Store) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	if len(tokens) == 0 {
		return map[model.Token][]byte{}, nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = s.key(t)
	}
	values, err := s.client.RDB().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Backendf("redis mget: %v", err)
	}
	found := make(map[model.Token][]byte, len(tokens))
	for i, v := range values {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, errors.Serializationf("redis returned non-string value for %s", tokens[i])
		}
		found[tokens[i]] = []byte(str)
	}
	return found, nil
}

func (s *Store) Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error) {
	rejected := make(map[model.Token][]byte)
	for t, newValue := range newValues {
		current, err := s.cas.Run(ctx, s.client.RDB(),
			[]string{s.key(t)}, oldValues[t], newValue).Result()
		if err == goredis.Nil {
			continue // accepted
		}
		if err != nil {
			return nil, errors.Backendf("redis cas script: %v", err)
		}
		str, ok := current.(string)
		if !ok {
			return nil, errors.Serializationf("redis cas returned non-string value for %s", t)
		}
		rejected[t] = []byte(str)
	}
	s.logger.Debug("upsert done", "written", len(newValues)-len(rejected), "rejected", len(rejected))
	return rejected, nil
}

func (s *Store) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	if len(rows) == 0 {
		return nil
	}
	pipe := s.client.RDB().TxPipeline()
	for t, v := range rows {
		pipe.Set(ctx, s.key(t), v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Backendf("redis insert pipeline: %v", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tokens []model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	pipe := s.client.RDB().TxPipeline()
	for _, t := range tokens {
		pipe.Del(ctx, s.key(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Backendf("redis delete pipeline: %v", err)
	}
	return nil
}
