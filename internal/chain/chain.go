// Package chain resolves a keyword's Chain Table rows: token derivation
// from the Entry Table payload, batched fetching, decryption, and replay.
package chain

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/crypto"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
)

// DefaultBatchSize bounds how many tokens one backend round-trip carries.
const DefaultBatchSize = 500

// Tokens derives the tokens of rows first..payload.ChainLength (1-based).
func Tokens(keys *crypto.ChainKeys, payload model.EntryPayload, first uint32) []model.Token {
	if first < 1 {
		first = 1
	}
	if payload.ChainLength < first {
		return nil
	}
	tokens := make([]model.Token, 0, payload.ChainLength-first+1)
	for i := first; i <= payload.ChainLength; i++ {
		tokens = append(tokens, keys.Token(payload.KeywordHash, i))
	}
	return tokens
}

// Fetch retrieves and decrypts the complete chain described by payload.
// Batches are dispatched concurrently and awaited jointly; rows are
// reassembled in derivation order regardless of backend response order.
func Fetch(ctx context.Context, store backend.Store, payload model.EntryPayload, batchSize int) ([]model.ChainEntry, error) {
	keys, err := crypto.DeriveChainKeys(payload.Seed)
	if err != nil {
		return nil, err
	}
	tokens := Tokens(keys, payload, 1)
	if len(tokens) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var mu sync.Mutex
	sealed := make(map[model.Token][]byte, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(tokens); start += batchSize {
		batch := tokens[start:min(start+batchSize, len(tokens))]
		g.Go(func() error {
			rows, err := store.Fetch(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			for t, v := range rows {
				sealed[t] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lines := make([][]byte, 0, len(tokens))
	for i, t := range tokens {
		row, ok := sealed[t]
		if !ok {
			// Every row up to the chain-tail pointer must exist.
			return nil, errors.Backendf("chain row %d of %d missing", i+1, len(tokens))
		}
		line, err := keys.Open(row)
		if err != nil {
			return nil, fmt.Errorf("opening chain row %d: %w", i+1, err)
		}
		lines = append(lines, line)
	}
	return model.DecodeChainLines(lines)
}
