// Package search resolves keywords to result locations, following
// keyword-to-keyword indirection level by level. Fetches within one depth
// level run concurrently and are awaited jointly; depth levels are strictly
// sequential.
package search

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/chain"
	"github.com/encsearch/findex/internal/crypto"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/logger"
)

// DefaultMaxDepth bounds keyword indirection when the caller does not.
const DefaultMaxDepth = 100

// Progress is invoked after each depth level with the values resolved at
// that level, grouped by queried keyword. Returning false stops the
// traversal; locations collected so far are still returned.
type Progress func(ctx context.Context, level int, found map[string][]model.IndexedValue) (bool, error)

// Options tune one search call.
type Options struct {
	MaxDepth  int
	BatchSize int
	Progress  Progress
}

// Engine resolves keywords against the two table stores.
type Engine struct {
	entries backend.Store
	chains  backend.Store
	logger  *slog.Logger
}

// New builds an engine over the two table stores.
func New(entries, chains backend.Store) *Engine {
	return &Engine{
		entries: entries,
		chains:  chains,
		logger:  logger.WithComponent("search-engine"),
	}
}

// resolution is one keyword's decrypted chain, split by kind.
type resolution struct {
	locations []model.IndexedValue
	next      []model.Keyword
}

// Search returns, for each queried keyword, the set of locations reachable
// from it within opts.MaxDepth levels of indirection. For a fixed index
// state the result is exactly the union of reachable terminal leaves; row
// order from the backend carries no meaning.
func (e *Engine) Search(ctx context.Context, keys *crypto.Keys, label model.Label, keywords []model.Keyword, opts Options) (map[string][]model.Location, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = chain.DefaultBatchSize
	}

	results := make(map[string][]model.Location, len(keywords))
	collected := make(map[string]map[string]struct{}, len(keywords))

	// frontier maps the keywords of the current level to the queried roots
	// they serve; visited is tracked per root to terminate cycles.
	frontier := make(map[string]map[string]struct{})
	visited := make(map[string]map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		root := string(kw)
		results[root] = nil
		collected[root] = make(map[string]struct{})
		visited[root] = map[string]struct{}{root: {}}
		if frontier[root] == nil {
			frontier[root] = make(map[string]struct{})
		}
		frontier[root][root] = struct{}{}
	}

	// resolved memoizes per-keyword chains across levels, so a keyword
	// reachable from several roots is fetched once.
	resolved := make(map[string]*resolution)

	for level := 0; len(frontier) > 0 && level < opts.MaxDepth; level++ {
		if err := e.resolveLevel(ctx, keys, label, frontier, resolved, opts.BatchSize); err != nil {
			return nil, err
		}

		found := make(map[string][]model.IndexedValue)
		next := make(map[string]map[string]struct{})
		for kw, roots := range frontier {
			res, ok := resolved[kw]
			if !ok {
				continue // keyword not indexed
			}
			for root := range roots {
				for _, v := range res.locations {
					loc, _ := v.Location()
					if _, seen := collected[root][string(loc)]; seen {
						continue
					}
					collected[root][string(loc)] = struct{}{}
					results[root] = append(results[root], loc)
					found[root] = append(found[root], v)
				}
				for _, nk := range res.next {
					if _, seen := visited[root][string(nk)]; seen {
						continue
					}
					visited[root][string(nk)] = struct{}{}
					if next[string(nk)] == nil {
						next[string(nk)] = make(map[string]struct{})
					}
					next[string(nk)][root] = struct{}{}
					found[root] = append(found[root], model.IndexNextKeyword(nk))
				}
			}
		}

		if opts.Progress != nil {
			keepGoing, err := opts.Progress(ctx, level, found)
			if err != nil {
				return nil, err
			}
			if !keepGoing {
				e.logger.Debug("search interrupted", "level", level)
				return results, nil
			}
		}
		frontier = next
	}

	e.logger.Debug("search done", "keywords", len(keywords), "roots", len(results))
	return results, nil
}

// resolveLevel fetches and decrypts every unresolved keyword of the level:
// one batched Entry Table round-trip, then the chains, concurrently per
// keyword and jointly awaited.
func (e *Engine) resolveLevel(ctx context.Context, keys *crypto.Keys, label model.Label, frontier map[string]map[string]struct{}, resolved map[string]*resolution, batchSize int) error {
	pending := make([]string, 0, len(frontier))
	tokens := make([]model.Token, 0, len(frontier))
	tokenOf := make(map[string]model.Token, len(frontier))
	for kw := range frontier {
		if _, done := resolved[kw]; done {
			continue
		}
		t := keys.EntryToken(label, crypto.KeywordHash(model.Keyword(kw)))
		pending = append(pending, kw)
		tokens = append(tokens, t)
		tokenOf[kw] = t
	}
	if len(pending) == 0 {
		return nil
	}

	stored, err := e.entries.Fetch(ctx, tokens)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, kw := range pending {
		sealed, ok := stored[tokenOf[kw]]
		if !ok {
			continue // keyword not indexed; absence is not an error
		}
		g.Go(func() error {
			plaintext, err := keys.OpenEntry(sealed)
			if err != nil {
				return err
			}
			payload, err := model.DecodeEntryPayload(plaintext)
			if err != nil {
				return err
			}
			entries, err := chain.Fetch(gctx, e.chains, payload, batchSize)
			if err != nil {
				return err
			}
			res := &resolution{}
			for _, v := range model.CollapseChain(entries) {
				if nk, ok := v.NextKeyword(); ok {
					res.next = append(res.next, nk)
				} else {
					res.locations = append(res.locations, v)
				}
			}
			mu.Lock()
			resolved[kw] = res
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
