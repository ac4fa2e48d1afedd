package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/doclens/doclens/internal/store"
)

// Expander grows a fused seed set into a token-bounded context window using
// the documents' section hierarchies. Hierarchies are cached per document in
// an LRU since every query for a document walks the same tree.
type Expander struct {
	chunks      store.ChunkStore
	hierarchies store.HierarchyStore
	estimator   TokenEstimator
	cache       *lru.Cache[string, *store.Hierarchy]
}

// NewExpander creates an expander with a hierarchy cache of the given size.
func NewExpander(chunks store.ChunkStore, hierarchies store.HierarchyStore, estimator TokenEstimator, cacheSize int) (*Expander, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, *store.Hierarchy](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create hierarchy cache: %w", err)
	}
	return &Expander{
		chunks:      chunks,
		hierarchies: hierarchies,
		estimator:   estimator,
		cache:       cache,
	}, nil
}

// expandedChunk pairs a chunk with its provenance tags.
type expandedChunk struct {
	chunk     *store.Chunk
	isSeed    bool
	expansion ExpansionType // empty for seeds
}

// expansionOutcome is the unordered expansion result; the engine applies the
// final (doc, page, id) ordering after enrichment.
type expansionOutcome struct {
	chunks  []*expandedChunk
	summary ExpansionSummary
}

// Expand adds seeds first, in the order provided, then walks each seed
// document's hierarchy for sibling/parent/child candidates under one shared
// running token budget. A document without a hierarchy degrades to seeds-only
// for that document. Identical inputs always produce identical output: every
// step sorts on stable keys and never relies on map iteration order.
func (e *Expander) Expand(ctx context.Context, seeds []*store.Chunk, opts options) (*expansionOutcome, error) {
	out := &expansionOutcome{
		summary: ExpansionSummary{TokenBudget: opts.tokenBudget},
	}

	seen := make(map[string]bool, len(seeds))
	tokensUsed := 0

	// Seeds go in first. A first seed larger than the whole budget is still
	// included; after that the first overflowing chunk stops admission.
	for _, seed := range seeds {
		cost := e.estimator.Estimate(seed.Content)
		if len(out.chunks) > 0 && tokensUsed+cost > opts.tokenBudget {
			break
		}
		out.chunks = append(out.chunks, &expandedChunk{chunk: seed, isSeed: true})
		seen[seed.ID] = true
		tokensUsed += cost
		out.summary.SeedCount++
	}

	if opts.expandSiblings || opts.expandParents || opts.expandChildren {
		if err := e.expandDocs(ctx, out, seen, &tokensUsed, opts); err != nil {
			return nil, err
		}
	} else {
		// Even with all relations disabled, hierarchy_used reflects whether
		// any seed document had a hierarchy to consult.
		for _, docID := range seedDocOrder(out.chunks) {
			if _, err := e.hierarchy(ctx, docID); err == nil {
				out.summary.HierarchyUsed = true
				break
			} else if !isHierarchyNotFound(err) {
				return nil, err
			}
		}
	}

	out.summary.TokensUsed = tokensUsed
	return out, nil
}

// expandDocs walks each seed document in seed order, collecting candidates in
// relation order (siblings, parents, children) and admitting them greedily in
// (page, chunk id) order until the budget is hit.
func (e *Expander) expandDocs(ctx context.Context, out *expansionOutcome, seen map[string]bool, tokensUsed *int, opts options) error {
	for _, docID := range seedDocOrder(out.chunks) {
		h, err := e.hierarchy(ctx, docID)
		if isHierarchyNotFound(err) {
			continue // seeds-only for this document
		}
		if err != nil {
			return err
		}
		out.summary.HierarchyUsed = true

		candidateIDs, tags := e.collectCandidates(h, out.chunks, docID, seen, opts)
		if len(candidateIDs) == 0 {
			continue
		}

		candidates, err := e.chunks.GetChunks(ctx, candidateIDs)
		if err != nil {
			return fmt.Errorf("fetch expansion candidates: %w", err)
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].PageNumber != candidates[j].PageNumber {
				return candidates[i].PageNumber < candidates[j].PageNumber
			}
			return candidates[i].ID < candidates[j].ID
		})

		for _, c := range candidates {
			cost := e.estimator.Estimate(c.Content)
			if *tokensUsed+cost > opts.tokenBudget {
				// Greedy, order-sensitive truncation: no backtracking to
				// fit smaller candidates later.
				return nil
			}
			tag := tags[c.ID]
			out.chunks = append(out.chunks, &expandedChunk{chunk: c, expansion: tag})
			seen[c.ID] = true
			*tokensUsed += cost
			switch tag {
			case ExpansionSibling:
				out.summary.SiblingsAdded++
			case ExpansionParent:
				out.summary.ParentsAdded++
			case ExpansionChild:
				out.summary.ChildrenAdded++
			}
		}
	}
	return nil
}

// collectCandidates gathers deduplicated candidate chunk ids for one
// document's seeds. Seed iteration order plus the sibling -> parent -> child
// relation order decides which expansion tag a multiply-reachable chunk gets.
func (e *Expander) collectCandidates(h *store.Hierarchy, chunks []*expandedChunk, docID string, seen map[string]bool, opts options) ([]string, map[string]ExpansionType) {
	var ids []string
	tags := make(map[string]ExpansionType)

	add := func(chunkIDs []string, tag ExpansionType) {
		for _, id := range chunkIDs {
			if seen[id] {
				continue
			}
			if _, tagged := tags[id]; tagged {
				continue // first discovery wins
			}
			tags[id] = tag
			ids = append(ids, id)
		}
	}

	for _, ec := range chunks {
		if !ec.isSeed || ec.chunk.DocID != docID {
			continue
		}
		sec := h.Section(ec.chunk.SectionID)
		if sec == nil {
			continue
		}
		if opts.expandSiblings {
			add(sec.ChunkIDs, ExpansionSibling)
		}
		if opts.expandParents {
			if parent := h.Section(sec.ParentID); parent != nil {
				add(parent.ChunkIDs, ExpansionParent)
			}
		}
		if opts.expandChildren {
			for _, childID := range sec.ChildIDs {
				if child := h.Section(childID); child != nil {
					add(child.ChunkIDs, ExpansionChild)
				}
			}
		}
	}
	return ids, tags
}

// hierarchy loads a document's section tree through the LRU cache.
func (e *Expander) hierarchy(ctx context.Context, docID string) (*store.Hierarchy, error) {
	if h, ok := e.cache.Get(docID); ok {
		return h, nil
	}
	h, err := e.hierarchies.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	e.cache.Add(docID, h)
	return h, nil
}

// Invalidate drops a document's cached hierarchy, used after reloading.
func (e *Expander) Invalidate(docID string) {
	e.cache.Remove(docID)
}

// seedDocOrder returns the distinct documents of the included seeds in first
// appearance order.
func seedDocOrder(chunks []*expandedChunk) []string {
	var docs []string
	seen := make(map[string]bool)
	for _, ec := range chunks {
		if !ec.isSeed || seen[ec.chunk.DocID] {
			continue
		}
		seen[ec.chunk.DocID] = true
		docs = append(docs, ec.chunk.DocID)
	}
	return docs
}

func isHierarchyNotFound(err error) bool {
	var notFound store.ErrHierarchyNotFound
	return errors.As(err, &notFound)
}
