// Package compact rewrites the whole index under a fresh label,
// garbage-collecting tombstones and entries whose locations the caller
// reports as gone. Old-label rows are deleted only after the new label is
// completely written, so concurrent reads and writes against the old label
// keep succeeding until the swap. A failure before the swap leaves the old
// label fully readable; partially-written new-label rows are unreachable
// without the new label and are simply discarded.
package compact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/chain"
	"github.com/encsearch/findex/internal/crypto"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
	"github.com/encsearch/findex/pkg/logger"
)

// Filter is the removed-locations oracle: given the locations currently
// referenced by the index, it returns the subset still valid in the
// external dataset. A nil Filter keeps everything.
type Filter func(ctx context.Context, locations []model.Location) ([]model.Location, error)

// Engine rewrites the index across the two table stores.
type Engine struct {
	entries   backend.Store
	chains    backend.Store
	batchSize int
	logger    *slog.Logger
}

// New builds an engine over the two table stores.
func New(entries, chains backend.Store, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = chain.DefaultBatchSize
	}
	return &Engine{
		entries:   entries,
		chains:    chains,
		batchSize: batchSize,
		logger:    logger.WithComponent("compaction-engine"),
	}
}

// keywordState is one keyword's collapsed index state read under the old
// label.
type keywordState struct {
	keywordHash [model.KeywordHashLength]byte
	oldPayload  model.EntryPayload
	oldToken    model.Token
	visible     []model.IndexedValue
}

// Compact rewrites every entry under newKeys and newLabel, dropping
// tombstoned values and locations the filter reports removed. The new
// (key, label) pair must differ from the old one, or new rows would
// collide with the rows they are meant to replace.
func (e *Engine) Compact(ctx context.Context, oldKeys, newKeys *crypto.Keys, oldLabel, newLabel model.Label, filter Filter) error {
	if bytes.Equal(oldLabel, newLabel) && oldKeys.EntryToken(oldLabel, [32]byte{}) == newKeys.EntryToken(newLabel, [32]byte{}) {
		return fmt.Errorf("%w: compaction requires a fresh label or key", errors.ErrInvalidInput)
	}

	// (a) Read the full current index.
	states, oldChainTokens, err := e.readAll(ctx, oldKeys, oldLabel)
	if err != nil {
		return err
	}

	// (c) Consult the removed-locations oracle and collapse tombstones.
	if err := e.applyFilter(ctx, states, filter); err != nil {
		return err
	}

	// (b)+(d) Re-derive all tokens under the new label and write the new
	// epoch. Keywords left with no values are dropped entirely.
	newEntries := make(map[model.Token][]byte)
	newChains := make(map[model.Token][]byte)
	for _, st := range states {
		if len(st.visible) == 0 {
			continue
		}
		seed, err := crypto.NewSeed()
		if err != nil {
			return err
		}
		payload := model.EntryPayload{Seed: seed, KeywordHash: st.keywordHash}
		chainKeys, err := crypto.DeriveChainKeys(seed)
		if err != nil {
			return err
		}
		records := make([]model.ChainEntry, len(st.visible))
		for i, v := range st.visible {
			records[i] = model.ChainEntry{Op: model.OpInsert, Value: v}
		}
		for _, line := range model.EncodeChainLines(records) {
			payload.ChainLength++
			sealed, err := chainKeys.Seal(line)
			if err != nil {
				return err
			}
			newChains[chainKeys.Token(payload.KeywordHash, payload.ChainLength)] = sealed
		}
		sealed, err := newKeys.SealEntry(payload.Encode())
		if err != nil {
			return err
		}
		newEntries[newKeys.EntryToken(newLabel, st.keywordHash)] = sealed
	}

	if err := e.chains.Insert(ctx, newChains); err != nil {
		return err
	}
	if err := e.entries.Insert(ctx, newEntries); err != nil {
		return err
	}

	// (e) Swap: only now do old-label rows disappear.
	oldEntryTokens := make([]model.Token, 0, len(states))
	for _, st := range states {
		oldEntryTokens = append(oldEntryTokens, st.oldToken)
	}
	if err := e.entries.Delete(ctx, oldEntryTokens); err != nil {
		return err
	}
	if err := e.chains.Delete(ctx, oldChainTokens); err != nil {
		return err
	}

	e.logger.Info("compaction done",
		"keywords", len(states),
		"kept", len(newEntries),
		"chain_rows", len(newChains),
	)
	return nil
}

// readAll dumps the Entry Table and resolves every keyword's chain under
// the old epoch.
func (e *Engine) readAll(ctx context.Context, keys *crypto.Keys, label model.Label) ([]*keywordState, []model.Token, error) {
	tokens, err := e.entries.DumpTokens(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make(map[model.Token][]byte, len(tokens))
	for start := 0; start < len(tokens); start += e.batchSize {
		batch, err := e.entries.Fetch(ctx, tokens[start:min(start+e.batchSize, len(tokens))])
		if err != nil {
			return nil, nil, err
		}
		for t, v := range batch {
			rows[t] = v
		}
	}

	states := make([]*keywordState, 0, len(rows))
	var oldChainTokens []model.Token
	g, gctx := errgroup.WithContext(ctx)
	for t, sealed := range rows {
		plaintext, err := keys.OpenEntry(sealed)
		if err != nil {
			return nil, nil, err
		}
		payload, err := model.DecodeEntryPayload(plaintext)
		if err != nil {
			return nil, nil, err
		}
		chainKeys, err := crypto.DeriveChainKeys(payload.Seed)
		if err != nil {
			return nil, nil, err
		}
		oldChainTokens = append(oldChainTokens, chain.Tokens(chainKeys, payload, 1)...)

		st := &keywordState{keywordHash: payload.KeywordHash, oldPayload: payload, oldToken: t}
		states = append(states, st)
		g.Go(func() error {
			entries, err := chain.Fetch(gctx, e.chains, st.oldPayload, e.batchSize)
			if err != nil {
				return err
			}
			st.visible = model.CollapseChain(entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return states, oldChainTokens, nil
}

// applyFilter drops locations the oracle reports removed. NextKeyword
// indirections are never filtered; they are pruned naturally when their
// target entry disappears.
func (e *Engine) applyFilter(ctx context.Context, states []*keywordState, filter Filter) error {
	if filter == nil {
		return nil
	}
	unique := make(map[string]struct{})
	var all []model.Location
	for _, st := range states {
		for _, v := range st.visible {
			if loc, ok := v.Location(); ok {
				if _, seen := unique[string(loc)]; !seen {
					unique[string(loc)] = struct{}{}
					all = append(all, loc)
				}
			}
		}
	}
	remaining, err := filter(ctx, all)
	if err != nil {
		return fmt.Errorf("removed-locations filter: %w", err)
	}
	keep := make(map[string]struct{}, len(remaining))
	for _, loc := range remaining {
		keep[string(loc)] = struct{}{}
	}
	for _, st := range states {
		kept := st.visible[:0]
		for _, v := range st.visible {
			if loc, ok := v.Location(); ok {
				if _, ok := keep[string(loc)]; !ok {
					continue
				}
			}
			kept = append(kept, v)
		}
		st.visible = kept
	}
	return nil
}
