package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/embed"
	"github.com/doclens/doclens/internal/errors"
	"github.com/doclens/doclens/internal/store"
)

// Engine orchestrates one query: parallel lexical and vector search, RRF
// fusion, hierarchy expansion, and asset enrichment. The engine only reads
// from its stores; all per-query state is request-scoped, so any number of
// queries proceed in parallel without locking.
type Engine struct {
	lexical  store.LexicalStore
	vector   store.VectorStore
	chunks   store.ChunkStore
	embedder embed.Embedder

	fusion   *RRFFusion
	expander *Expander
	enricher *Enricher

	cfg    config.SearchConfig
	logger *slog.Logger
}

// Deps are the stores and providers an Engine reads from.
type Deps struct {
	Lexical     store.LexicalStore
	Vector      store.VectorStore
	Chunks      store.ChunkStore
	Hierarchies store.HierarchyStore
	Assets      store.AssetStore
	Embedder    embed.Embedder
	Logger      *slog.Logger
}

// NewEngine wires an engine from its dependencies and search configuration.
func NewEngine(deps Deps, cfg config.SearchConfig) (*Engine, error) {
	if deps.Lexical == nil || deps.Vector == nil || deps.Chunks == nil ||
		deps.Hierarchies == nil || deps.Assets == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("engine dependencies are incomplete")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	estimator, err := NewTokenEstimator(cfg.Tokenizer)
	if err != nil {
		return nil, err
	}
	expander, err := NewExpander(deps.Chunks, deps.Hierarchies, estimator, cfg.HierarchyCacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		lexical:  deps.Lexical,
		vector:   deps.Vector,
		chunks:   deps.Chunks,
		embedder: deps.Embedder,
		fusion:   NewRRFFusion(cfg.RRFConstant),
		expander: expander,
		enricher: NewEnricher(deps.Assets),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Query runs the full pipeline and returns a tagged outcome: a response, an
// empty result, or a classified failure. It never returns a bare error, so
// failures cannot leak downstream disguised as data.
func (e *Engine) Query(ctx context.Context, req Request) Result {
	start := time.Now()

	opts, err := req.normalize(e.cfg)
	if err != nil {
		e.logger.Warn("rejected query", "code", errors.GetCode(err), "error", err)
		return Failed(FailureInvalidRequest, err)
	}

	lexResults, vecResults, err := e.parallelSearch(ctx, opts)
	if err != nil {
		e.logger.Error("search failed", "error", err)
		return Failed(FailureUpstream, errors.Wrap(errors.ErrCodeSearchFailed, err))
	}

	fused := e.fusion.Fuse(lexResults, vecResults, opts.weights, opts.topK)
	if len(fused) == 0 {
		e.logger.Info("query matched nothing",
			"lexical_hits", len(lexResults), "vector_hits", len(vecResults),
			"duration", time.Since(start))
		return NoResults()
	}

	seedIDs := make([]string, len(fused))
	fusedByID := make(map[string]*FusedResult, len(fused))
	for i, f := range fused {
		seedIDs[i] = f.ChunkID
		fusedByID[f.ChunkID] = f
	}
	seeds, err := e.chunks.GetChunks(ctx, seedIDs)
	if err != nil {
		e.logger.Error("seed fetch failed", "error", err)
		return Failed(FailureUpstream, errors.StorageError("fetch seed chunks", err))
	}

	expanded, err := e.expander.Expand(ctx, seeds, opts)
	if err != nil {
		e.logger.Error("expansion failed", "error", err)
		return Failed(FailureUpstream, errors.StorageError("expand context", err))
	}

	resp := buildResponse(expanded, fusedByID)
	if err := e.enricher.Enrich(ctx, resp.Chunks, opts.includeImages, opts.includeTables); err != nil {
		e.logger.Error("enrichment failed", "error", err)
		return Failed(FailureUpstream, errors.StorageError("enrich chunks", err))
	}

	e.logger.Info("query served",
		"seeds", resp.ExpansionSummary.SeedCount,
		"chunks", resp.TotalResults,
		"tokens_used", resp.ExpansionSummary.TokensUsed,
		"hierarchy_used", resp.ExpansionSummary.HierarchyUsed,
		"duration", time.Since(start))
	return Success(resp)
}

// parallelSearch runs the lexical arm and the embed-then-vector arm
// concurrently. The first failure cancels the sibling via the group context
// and aborts the whole query: no partial fusion.
func (e *Engine) parallelSearch(ctx context.Context, opts options) ([]*store.LexicalResult, []*store.VectorResult, error) {
	var lexResults []*store.LexicalResult
	var vecResults []*store.VectorResult

	limit := e.cfg.CandidateLimit
	if limit <= 0 {
		limit = opts.topK * 5
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results, err := e.lexical.Search(gctx, opts.queryText, opts.docIDs, limit)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexResults = results
		return nil
	})

	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, opts.queryText)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		results, err := e.vector.Search(gctx, vec, opts.docIDs, e.cfg.SimilarityThreshold, limit)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vecResults = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return lexResults, vecResults, nil
}

// buildResponse converts the expansion outcome to the response shape, ordered
// by (doc_id, page_number, chunk id) ascending.
func buildResponse(expanded *expansionOutcome, fusedByID map[string]*FusedResult) *Response {
	chunks := make([]*ResultChunk, 0, len(expanded.chunks))
	for _, ec := range expanded.chunks {
		rc := &ResultChunk{
			ID:            ec.chunk.ID,
			DocID:         ec.chunk.DocID,
			Content:       ec.chunk.Content,
			PageNumber:    ec.chunk.PageNumber,
			SectionID:     ec.chunk.SectionID,
			SectionPath:   ec.chunk.SectionPath,
			IsSeed:        ec.isSeed,
			ExpansionType: ec.expansion,
		}
		if f, ok := fusedByID[ec.chunk.ID]; ok && ec.isSeed {
			rc.CombinedScore = f.CombinedScore
			rc.MatchType = f.Match
		}
		chunks = append(chunks, rc)
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocID != chunks[j].DocID {
			return chunks[i].DocID < chunks[j].DocID
		}
		if chunks[i].PageNumber != chunks[j].PageNumber {
			return chunks[i].PageNumber < chunks[j].PageNumber
		}
		return chunks[i].ID < chunks[j].ID
	})

	return &Response{
		Chunks:           chunks,
		ExpansionSummary: expanded.summary,
		TotalResults:     len(chunks),
	}
}

// InvalidateHierarchy drops a document's cached hierarchy after a reload.
func (e *Engine) InvalidateHierarchy(docID string) {
	e.expander.Invalidate(docID)
}
