// Package upsert turns batches of keyword additions and removals into
// conditional writes against the Entry and Chain Tables. The engine
// performs exactly one compare-and-swap round: rejected rows are returned
// to the caller, never retried internally, so correctness under concurrent
// writers rests entirely on the backend's compare-and-swap semantics.
package upsert

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/chain"
	"github.com/encsearch/findex/internal/crypto"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/logger"
)

// Mutation is one keyword's requested delta.
type Mutation struct {
	Additions []model.IndexedValue
	Deletions []model.IndexedValue
}

// Rejection reports a compare-and-swap conflict: the Entry Table token and
// the value the backend currently stores for it.
type Rejection struct {
	Token        model.Token
	CurrentValue []byte
}

// Result is the outcome of one engine round.
type Result struct {
	// Created lists keywords whose Entry Table row was newly written.
	Created []model.Keyword

	// Rejected maps keywords to their conflict. The caller must recompute
	// the delta against the fresh state and resubmit.
	Rejected map[string]Rejection
}

// Engine applies mutations through one conditional-write round.
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
		logger:    logger.WithComponent("upsert-engine"),
	}
}

// plan is the per-keyword state assembled before the write round.
type plan struct {
	keyword    model.Keyword
	token      model.Token
	oldSealed  []byte // absent for new keywords
	payload    model.EntryPayload
	newLines   map[model.Token][]byte
	newKeyword bool
}

// Apply runs one round for the given mutations. A keyword whose delta is
// already fully covered by stored chain data produces no write at all. A
// keyword whose value set becomes empty keeps its Entry row as a tombstone
// until compaction.
func (e *Engine) Apply(ctx context.Context, keys *crypto.Keys, label model.Label, mutations map[string]Mutation) (*Result, error) {
	if len(mutations) == 0 {
		return &Result{Rejected: map[string]Rejection{}}, nil
	}

	// Derive every Entry token and read current rows in one round-trip.
	tokens := make([]model.Token, 0, len(mutations))
	tokenOf := make(map[string]model.Token, len(mutations))
	for kw := range mutations {
		t := keys.EntryToken(label, crypto.KeywordHash(model.Keyword(kw)))
		tokenOf[kw] = t
		tokens = append(tokens, t)
	}
	stored, err := e.entries.Fetch(ctx, tokens)
	if err != nil {
		return nil, err
	}

	plans := make([]*plan, 0, len(mutations))
	for kw, mutation := range mutations {
		p, err := e.plan(ctx, kw, tokenOf[kw], stored[tokenOf[kw]], keys, mutation)
		if err != nil {
			return nil, err
		}
		if p != nil {
			plans = append(plans, p)
		}
	}
	if len(plans) == 0 {
		return &Result{Rejected: map[string]Rejection{}}, nil
	}

	// One conditional write per keyword, submitted as a bulk CAS.
	oldValues := make(map[model.Token][]byte, len(plans))
	newValues := make(map[model.Token][]byte, len(plans))
	for _, p := range plans {
		if p.oldSealed != nil {
			oldValues[p.token] = p.oldSealed
		}
		sealed, err := keys.SealEntry(p.payload.Encode())
		if err != nil {
			return nil, err
		}
		newValues[p.token] = sealed
	}
	rejectedRows, err := e.entries.Upsert(ctx, oldValues, newValues)
	if err != nil {
		return nil, err
	}

	result := &Result{Rejected: make(map[string]Rejection, len(rejectedRows))}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plans {
		if current, rejected := rejectedRows[p.token]; rejected {
			result.Rejected[string(p.keyword)] = Rejection{Token: p.token, CurrentValue: current}
			continue
		}
		if p.newKeyword {
			result.Created = append(result.Created, p.keyword)
		}
		if len(p.newLines) > 0 {
			lines := p.newLines
			g.Go(func() error {
				return e.chains.Insert(gctx, lines)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("upsert round done",
		"keywords", len(mutations),
		"written", len(plans)-len(result.Rejected),
		"rejected", len(result.Rejected),
	)
	return result, nil
}

// plan computes one keyword's delta against its stored chain. It returns
// nil when nothing needs writing.
func (e *Engine) plan(ctx context.Context, kw string, token model.Token, oldSealed []byte, keys *crypto.Keys, mutation Mutation) (*plan, error) {
	p := &plan{keyword: model.Keyword(kw), token: token, oldSealed: oldSealed}

	var visible []model.IndexedValue
	if oldSealed == nil {
		seed, err := crypto.NewSeed()
		if err != nil {
			return nil, err
		}
		p.payload = model.EntryPayload{
			Seed:        seed,
			KeywordHash: crypto.KeywordHash(p.keyword),
		}
		p.newKeyword = true
	} else {
		plaintext, err := keys.OpenEntry(oldSealed)
		if err != nil {
			return nil, err
		}
		p.payload, err = model.DecodeEntryPayload(plaintext)
		if err != nil {
			return nil, err
		}
		entries, err := chain.Fetch(ctx, e.chains, p.payload, e.batchSize)
		if err != nil {
			return nil, err
		}
		visible = model.CollapseChain(entries)
	}

	var delta []model.ChainEntry
	for _, v := range mutation.Additions {
		if !contains(visible, v) && !inDelta(delta, model.OpInsert, v) {
			delta = append(delta, model.ChainEntry{Op: model.OpInsert, Value: v})
		}
	}
	for _, v := range mutation.Deletions {
		if contains(visible, v) && !inDelta(delta, model.OpDelete, v) {
			delta = append(delta, model.ChainEntry{Op: model.OpDelete, Value: v})
		}
	}
	if len(delta) == 0 {
		return nil, nil
	}

	chainKeys, err := crypto.DeriveChainKeys(p.payload.Seed)
	if err != nil {
		return nil, err
	}
	p.newLines = make(map[model.Token][]byte)
	for _, line := range model.EncodeChainLines(delta) {
		p.payload.ChainLength++
		sealed, err := chainKeys.Seal(line)
		if err != nil {
			return nil, err
		}
		p.newLines[chainKeys.Token(p.payload.KeywordHash, p.payload.ChainLength)] = sealed
	}
	return p, nil
}

func contains(values []model.IndexedValue, v model.IndexedValue) bool {
	for _, existing := range values {
		if existing.Equal(v) {
			return true
		}
	}
	return false
}

func inDelta(delta []model.ChainEntry, op model.ChainOp, v model.IndexedValue) bool {
	for _, e := range delta {
		if e.Op == op && e.Value.Equal(v) {
			return true
		}
	}
	return false
}
