package retrieval

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/embed"
	"github.com/doclens/doclens/internal/store"
)

// stubLexical and stubVector let tests force deterministic search arms and
// injected failures without a real index.
type stubLexical struct {
	store.LexicalStore
	results []*store.LexicalResult
	err     error
}

func (s *stubLexical) Search(ctx context.Context, query string, docFilter []string, limit int) ([]*store.LexicalResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubVector struct {
	store.VectorStore
	results []*store.VectorResult
	err     error
}

func (s *stubVector) Search(ctx context.Context, query []float32, docFilter []string, threshold float64, limit int) ([]*store.VectorResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubEmbedder struct {
	embed.Embedder
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func newStubEngine(t *testing.T, s *store.SQLiteStore, lex *stubLexical, vec *stubVector, emb *stubEmbedder) *Engine {
	t.Helper()
	if emb == nil {
		emb = &stubEmbedder{}
	}
	eng, err := NewEngine(Deps{
		Lexical:     lex,
		Vector:      vec,
		Chunks:      s,
		Hierarchies: s,
		Assets:      s,
		Embedder:    emb,
	}, testSearchConfig())
	require.NoError(t, err)
	return eng
}

func TestQuery_EmptyQueryTextIsInvalid(t *testing.T) {
	s := newTestSQLite(t)
	eng := newStubEngine(t, s, &stubLexical{}, &stubVector{}, nil)

	result := eng.Query(context.Background(), Request{QueryText: "   "})

	kind, cause, failed := result.Failure()
	require.True(t, failed)
	assert.Equal(t, FailureInvalidRequest, kind)
	assert.Error(t, cause)
	_, ok := result.Response()
	assert.False(t, ok)
}

func TestQuery_InvalidWeights(t *testing.T) {
	s := newTestSQLite(t)
	eng := newStubEngine(t, s, &stubLexical{}, &stubVector{}, nil)

	neg := -0.5
	result := eng.Query(context.Background(), Request{QueryText: "q", LexicalWeight: &neg})

	kind, _, failed := result.Failure()
	require.True(t, failed)
	assert.Equal(t, FailureInvalidRequest, kind)
}

func TestQuery_BothArmsEmptyIsNoResults(t *testing.T) {
	// Given: both search arms return nothing
	s := newTestSQLite(t)
	eng := newStubEngine(t, s, &stubLexical{}, &stubVector{}, nil)

	// When: I query
	result := eng.Query(context.Background(), Request{QueryText: "nothing matches"})

	// Then: the outcome is empty, not a failure and not a response
	assert.True(t, result.IsEmpty())
	_, ok := result.Response()
	assert.False(t, ok)
	_, _, failed := result.Failure()
	assert.False(t, failed)
}

func TestQuery_LexicalFailureAbortsRequest(t *testing.T) {
	s := newTestSQLite(t)
	boom := errors.New("index corrupted")
	eng := newStubEngine(t, s, &stubLexical{err: boom}, &stubVector{}, nil)

	result := eng.Query(context.Background(), Request{QueryText: "q"})

	kind, cause, failed := result.Failure()
	require.True(t, failed)
	assert.Equal(t, FailureUpstream, kind)
	assert.ErrorIs(t, cause, boom)
}

func TestQuery_EmbedderFailureAbortsRequest(t *testing.T) {
	s := newTestSQLite(t)
	boom := errors.New("connection refused")
	eng := newStubEngine(t, s, &stubLexical{}, &stubVector{}, &stubEmbedder{err: boom})

	result := eng.Query(context.Background(), Request{QueryText: "q"})

	kind, cause, failed := result.Failure()
	require.True(t, failed)
	assert.Equal(t, FailureUpstream, kind)
	assert.ErrorIs(t, cause, boom)
}

func TestQuery_FullPipeline(t *testing.T) {
	// Given: a two-section document with images and a table
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveChunks(ctx, []*store.Chunk{
		{ID: "c1", DocID: "doc-1", Content: "The coolant pump runs continuously.", PageNumber: 1, SectionID: "s1", SectionPath: []string{"Cooling"}},
		{ID: "c2", DocID: "doc-1", Content: "Pump pressure must stay below 4 bar.", PageNumber: 2, SectionID: "s1", SectionPath: []string{"Cooling"}},
		{ID: "c3", DocID: "doc-1", Content: "Valve maintenance intervals.", PageNumber: 3, SectionID: "s2", SectionPath: []string{"Valves"}},
	}))
	require.NoError(t, s.SaveHierarchy(ctx, &store.Hierarchy{
		DocID: "doc-1",
		Sections: map[string]*store.Section{
			"s1": {ID: "s1", Title: "Cooling", ChunkIDs: []string{"c1", "c2"}, Level: 1},
			"s2": {ID: "s2", Title: "Valves", ChunkIDs: []string{"c3"}, Level: 1},
		},
		RootIDs: []string{"s1", "s2"},
	}))
	require.NoError(t, s.SaveImages(ctx, []*store.Image{
		{ID: "img-1", DocID: "doc-1", SectionID: "s1", PageNumber: 1, URL: "http://assets/pump.png"},
	}))
	require.NoError(t, s.SaveTables(ctx, []*store.Table{
		{ID: "tab-1", DocID: "doc-1", PageNumber: 2, Markdown: "| bar | limit |"},
	}))

	// And: the lexical arm finds c2, the vector arm finds c1 then c2
	lex := &stubLexical{results: []*store.LexicalResult{{ChunkID: "c2", Rank: 1, Score: 2.0}}}
	vec := &stubVector{results: []*store.VectorResult{
		{ChunkID: "c1", Similarity: 0.9, Rank: 1},
		{ChunkID: "c2", Similarity: 0.8, Rank: 2},
	}}
	eng := newStubEngine(t, s, lex, vec, nil)

	// When: I query
	result := eng.Query(context.Background(), Request{QueryText: "pump pressure"})

	// Then: the response holds both seeds plus nothing from section s2
	resp, ok := result.Response()
	require.True(t, ok)
	require.Equal(t, 2, resp.TotalResults)

	// Chunks are ordered by (doc, page, id)
	assert.Equal(t, "c1", resp.Chunks[0].ID)
	assert.Equal(t, "c2", resp.Chunks[1].ID)
	assert.True(t, sort.SliceIsSorted(resp.Chunks, func(i, j int) bool {
		return resp.Chunks[i].PageNumber < resp.Chunks[j].PageNumber
	}))

	// Both chunks are seeds; c2 was found by both arms
	assert.True(t, resp.Chunks[1].IsSeed)
	assert.Equal(t, MatchBoth, resp.Chunks[1].MatchType)
	assert.Equal(t, MatchVectorOnly, resp.Chunks[0].MatchType)
	assert.InDelta(t, 0.4/61+0.6/62, resp.Chunks[1].CombinedScore, 1e-12)

	// Assets: section image on the s1 chunks, page-scoped table on page 2
	require.Len(t, resp.Chunks[0].Images, 1)
	assert.Equal(t, "img-1", resp.Chunks[0].Images[0].ID)
	require.Len(t, resp.Chunks[1].Tables, 1)
	assert.Equal(t, "tab-1", resp.Chunks[1].Tables[0].ID)

	// Summary reflects the expansion pass
	assert.Equal(t, 2, resp.ExpansionSummary.SeedCount)
	assert.True(t, resp.ExpansionSummary.HierarchyUsed)
	assert.LessOrEqual(t, resp.ExpansionSummary.TokensUsed, resp.ExpansionSummary.TokenBudget)
}

func TestQuery_AssetFlagsGateEnrichment(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveChunks(ctx, []*store.Chunk{
		{ID: "c1", DocID: "doc-1", Content: "content", PageNumber: 1},
	}))
	require.NoError(t, s.SaveImages(ctx, []*store.Image{
		{ID: "img-1", DocID: "doc-1", PageNumber: 1, URL: "u"},
	}))

	lex := &stubLexical{results: []*store.LexicalResult{{ChunkID: "c1", Rank: 1, Score: 1}}}
	eng := newStubEngine(t, s, lex, &stubVector{}, nil)

	off := false
	result := eng.Query(context.Background(), Request{
		QueryText:     "content",
		IncludeImages: &off,
		IncludeTables: &off,
	})

	resp, ok := result.Response()
	require.True(t, ok)
	assert.Empty(t, resp.Chunks[0].Images)
	assert.Empty(t, resp.Chunks[0].Tables)
}

func TestQuery_TopKTruncatesSeeds(t *testing.T) {
	// Given: five lexical hits but top_k=2
	s := newTestSQLite(t)
	ctx := context.Background()
	var lexResults []*store.LexicalResult
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		require.NoError(t, s.SaveChunks(ctx, []*store.Chunk{
			{ID: id, DocID: "doc-1", Content: "text", PageNumber: 1},
		}))
		lexResults = append(lexResults, &store.LexicalResult{ChunkID: id, Rank: len(lexResults) + 1, Score: 1})
	}
	eng := newStubEngine(t, s, &stubLexical{results: lexResults}, &stubVector{}, nil)

	result := eng.Query(context.Background(), Request{QueryText: "text", TopK: 2})

	resp, ok := result.Response()
	require.True(t, ok)
	assert.Equal(t, 2, resp.ExpansionSummary.SeedCount)
	assert.Equal(t, 2, resp.TotalResults)
}
