package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalStore(t *testing.T) *BleveLexicalStore {
	t.Helper()
	store, err := NewBleveLexicalStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBleveLexicalStore_SearchRanking(t *testing.T) {
	// Given: three chunks with varying mention density of "pump"
	store := newTestLexicalStore(t)
	chunks := []*Chunk{
		{ID: "c1", DocID: "doc-1", Content: "The pump operates at high pressure. Pump maintenance is scheduled monthly."},
		{ID: "c2", DocID: "doc-1", Content: "Valves regulate the flow of cooling water."},
		{ID: "c3", DocID: "doc-2", Content: "Replace the pump filter every quarter."},
	}
	require.NoError(t, store.Index(context.Background(), chunks))

	// When: I search for "pump"
	results, err := store.Search(context.Background(), "pump", nil, 10)
	require.NoError(t, err)

	// Then: both pump chunks match, the denser one first, with 1-based ranks
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "c3", results[1].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestBleveLexicalStore_Stemming(t *testing.T) {
	// Given: a chunk mentioning "pumping"
	store := newTestLexicalStore(t)
	chunks := []*Chunk{
		{ID: "c1", DocID: "doc-1", Content: "Pumping stations move water uphill."},
	}
	require.NoError(t, store.Index(context.Background(), chunks))

	// When: I search for the stem "pumps"
	results, err := store.Search(context.Background(), "pumps", nil, 10)
	require.NoError(t, err)

	// Then: the English analyzer stems both to "pump" and matches
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestBleveLexicalStore_DocFilter(t *testing.T) {
	// Given: the same term in two documents
	store := newTestLexicalStore(t)
	chunks := []*Chunk{
		{ID: "c1", DocID: "doc-1", Content: "safety valve inspection"},
		{ID: "c2", DocID: "doc-2", Content: "safety valve replacement"},
	}
	require.NoError(t, store.Index(context.Background(), chunks))

	// When: I restrict the search to doc-2
	results, err := store.Search(context.Background(), "valve", []string{"doc-2"}, 10)
	require.NoError(t, err)

	// Then: only the doc-2 chunk is returned
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
}

func TestBleveLexicalStore_NoMatchIsEmptyNotError(t *testing.T) {
	store := newTestLexicalStore(t)
	require.NoError(t, store.Index(context.Background(), []*Chunk{
		{ID: "c1", DocID: "doc-1", Content: "heat exchanger schematic"},
	}))

	results, err := store.Search(context.Background(), "zebra", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalStore_BlankQuery(t *testing.T) {
	store := newTestLexicalStore(t)

	results, err := store.Search(context.Background(), "   ", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalStore_Delete(t *testing.T) {
	// Given: two indexed chunks
	store := newTestLexicalStore(t)
	require.NoError(t, store.Index(context.Background(), []*Chunk{
		{ID: "c1", DocID: "doc-1", Content: "turbine blade wear"},
		{ID: "c2", DocID: "doc-1", Content: "turbine shaft alignment"},
	}))

	// When: I delete one
	require.NoError(t, store.Delete(context.Background(), []string{"c1"}))

	// Then: it no longer matches and the count drops
	results, err := store.Search(context.Background(), "turbine", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBleveLexicalStore_LimitTruncation(t *testing.T) {
	// Given: five matching chunks
	store := newTestLexicalStore(t)
	chunks := []*Chunk{
		{ID: "c1", DocID: "d", Content: "filter cleaning"},
		{ID: "c2", DocID: "d", Content: "filter cleaning"},
		{ID: "c3", DocID: "d", Content: "filter cleaning"},
		{ID: "c4", DocID: "d", Content: "filter cleaning"},
		{ID: "c5", DocID: "d", Content: "filter cleaning"},
	}
	require.NoError(t, store.Index(context.Background(), chunks))

	// When: I search with limit 3
	results, err := store.Search(context.Background(), "filter", nil, 3)
	require.NoError(t, err)

	// Then: three results come back with equal scores broken by id
	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "c2", results[1].ChunkID)
	assert.Equal(t, "c3", results[2].ChunkID)
}
