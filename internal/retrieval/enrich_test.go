package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/store"
)

func TestEnrich_SectionBeatsPage(t *testing.T) {
	// Given: a section-scoped image and a page-scoped image on the same page
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveImages(ctx, []*store.Image{
		{ID: "img-section", DocID: "doc-1", SectionID: "s1", PageNumber: 1, URL: "a"},
		{ID: "img-page", DocID: "doc-1", PageNumber: 1, URL: "b"},
	}))
	enricher := NewEnricher(s)

	chunks := []*ResultChunk{
		{ID: "c1", DocID: "doc-1", PageNumber: 1, SectionID: "s1"},
	}

	// When: I enrich
	require.NoError(t, enricher.Enrich(ctx, chunks, true, true))

	// Then: the section-scoped image wins over the page match
	require.Len(t, chunks[0].Images, 1)
	assert.Equal(t, "img-section", chunks[0].Images[0].ID)
}

func TestEnrich_PageFallback(t *testing.T) {
	// Given: only a page-scoped image
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveImages(ctx, []*store.Image{
		{ID: "img-page", DocID: "doc-1", PageNumber: 2, URL: "u"},
	}))
	enricher := NewEnricher(s)

	chunks := []*ResultChunk{
		// Chunk with a section that has no assets of its own.
		{ID: "c1", DocID: "doc-1", PageNumber: 2, SectionID: "s9"},
		// Chunk without a section at all.
		{ID: "c2", DocID: "doc-1", PageNumber: 2},
		// Chunk on a different page.
		{ID: "c3", DocID: "doc-1", PageNumber: 3},
	}

	require.NoError(t, enricher.Enrich(ctx, chunks, true, true))

	require.Len(t, chunks[0].Images, 1)
	require.Len(t, chunks[1].Images, 1)
	assert.Empty(t, chunks[2].Images)
}

func TestEnrich_SharedSectionDuplication(t *testing.T) {
	// Given: two chunks in the same section and one section table
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveTables(ctx, []*store.Table{
		{ID: "tab-1", DocID: "doc-1", SectionID: "s1", PageNumber: 1, Markdown: "| x |"},
	}))
	enricher := NewEnricher(s)

	chunks := []*ResultChunk{
		{ID: "c1", DocID: "doc-1", PageNumber: 1, SectionID: "s1"},
		{ID: "c2", DocID: "doc-1", PageNumber: 2, SectionID: "s1"},
	}

	require.NoError(t, enricher.Enrich(ctx, chunks, true, true))

	// Then: both chunks carry the table; the duplication is accepted
	require.Len(t, chunks[0].Tables, 1)
	require.Len(t, chunks[1].Tables, 1)
	assert.Equal(t, chunks[0].Tables[0].ID, chunks[1].Tables[0].ID)
}

func TestEnrich_FlagsGateEachKind(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveImages(ctx, []*store.Image{
		{ID: "img-1", DocID: "doc-1", PageNumber: 1, URL: "u"},
	}))
	require.NoError(t, s.SaveTables(ctx, []*store.Table{
		{ID: "tab-1", DocID: "doc-1", PageNumber: 1, Markdown: "| x |"},
	}))
	enricher := NewEnricher(s)

	chunks := []*ResultChunk{{ID: "c1", DocID: "doc-1", PageNumber: 1}}

	// Only tables requested
	require.NoError(t, enricher.Enrich(ctx, chunks, false, true))
	assert.Empty(t, chunks[0].Images)
	require.Len(t, chunks[0].Tables, 1)

	// Neither requested: no asset store round trip, chunks untouched
	chunks[0].Tables = nil
	require.NoError(t, enricher.Enrich(ctx, chunks, false, false))
	assert.Empty(t, chunks[0].Images)
	assert.Empty(t, chunks[0].Tables)
}

func TestEnrich_MultiDocIsolation(t *testing.T) {
	// Given: assets in two documents on the same page number
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveImages(ctx, []*store.Image{
		{ID: "img-a", DocID: "doc-a", PageNumber: 1, URL: "a"},
		{ID: "img-b", DocID: "doc-b", PageNumber: 1, URL: "b"},
	}))
	enricher := NewEnricher(s)

	chunks := []*ResultChunk{
		{ID: "c1", DocID: "doc-a", PageNumber: 1},
		{ID: "c2", DocID: "doc-b", PageNumber: 1},
	}

	require.NoError(t, enricher.Enrich(ctx, chunks, true, false))

	require.Len(t, chunks[0].Images, 1)
	assert.Equal(t, "img-a", chunks[0].Images[0].ID)
	require.Len(t, chunks[1].Images, 1)
	assert.Equal(t, "img-b", chunks[1].Images[0].ID)
}
