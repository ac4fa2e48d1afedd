package retrieval

import (
	"context"
	"fmt"

	"github.com/doclens/doclens/internal/store"
)

// Enricher attaches images and tables to result chunks. Assets scoped to the
// chunk's section win; a chunk without a section, or whose section has no
// assets, falls back to a page-number match. Chunks sharing a section each
// carry the same assets; the duplication is accepted.
type Enricher struct {
	assets store.AssetStore
}

// NewEnricher creates an enricher over the given asset store.
func NewEnricher(assets store.AssetStore) *Enricher {
	return &Enricher{assets: assets}
}

// Enrich populates Images and Tables on the chunks in place. One asset query
// per document and kind; lookups never mutate stored assets.
func (e *Enricher) Enrich(ctx context.Context, chunks []*ResultChunk, includeImages, includeTables bool) error {
	if !includeImages && !includeTables {
		return nil
	}

	for _, docID := range docOrder(chunks) {
		sectionIDs, pages := docScope(chunks, docID)

		var imagesBySection map[string][]*store.Image
		var imagesByPage map[int][]*store.Image
		if includeImages {
			images, err := e.assets.ImagesFor(ctx, docID, sectionIDs, pages)
			if err != nil {
				return fmt.Errorf("fetch images for %s: %w", docID, err)
			}
			imagesBySection, imagesByPage = indexImages(images)
		}

		var tablesBySection map[string][]*store.Table
		var tablesByPage map[int][]*store.Table
		if includeTables {
			tables, err := e.assets.TablesFor(ctx, docID, sectionIDs, pages)
			if err != nil {
				return fmt.Errorf("fetch tables for %s: %w", docID, err)
			}
			tablesBySection, tablesByPage = indexTables(tables)
		}

		for _, c := range chunks {
			if c.DocID != docID {
				continue
			}
			if includeImages {
				c.Images = pickAssets(c, imagesBySection, imagesByPage)
			}
			if includeTables {
				c.Tables = pickAssets(c, tablesBySection, tablesByPage)
			}
		}
	}
	return nil
}

// pickAssets applies the section-first, page-fallback policy for one chunk.
func pickAssets[T any](c *ResultChunk, bySection map[string][]T, byPage map[int][]T) []T {
	if c.SectionID != "" {
		if assets := bySection[c.SectionID]; len(assets) > 0 {
			return assets
		}
	}
	return byPage[c.PageNumber]
}

func indexImages(images []*store.Image) (map[string][]*store.Image, map[int][]*store.Image) {
	bySection := make(map[string][]*store.Image)
	byPage := make(map[int][]*store.Image)
	for _, img := range images {
		if img.SectionID != "" {
			bySection[img.SectionID] = append(bySection[img.SectionID], img)
		}
		byPage[img.PageNumber] = append(byPage[img.PageNumber], img)
	}
	return bySection, byPage
}

func indexTables(tables []*store.Table) (map[string][]*store.Table, map[int][]*store.Table) {
	bySection := make(map[string][]*store.Table)
	byPage := make(map[int][]*store.Table)
	for _, t := range tables {
		if t.SectionID != "" {
			bySection[t.SectionID] = append(bySection[t.SectionID], t)
		}
		byPage[t.PageNumber] = append(byPage[t.PageNumber], t)
	}
	return bySection, byPage
}

// docOrder returns distinct doc ids in first appearance order.
func docOrder(chunks []*ResultChunk) []string {
	var docs []string
	seen := make(map[string]bool)
	for _, c := range chunks {
		if !seen[c.DocID] {
			seen[c.DocID] = true
			docs = append(docs, c.DocID)
		}
	}
	return docs
}

// docScope collects the section ids and pages of a document's result chunks
// for the asset query.
func docScope(chunks []*ResultChunk, docID string) ([]string, []int) {
	var sections []string
	var pages []int
	seenSec := make(map[string]bool)
	seenPage := make(map[int]bool)
	for _, c := range chunks {
		if c.DocID != docID {
			continue
		}
		if c.SectionID != "" && !seenSec[c.SectionID] {
			seenSec[c.SectionID] = true
			sections = append(sections, c.SectionID)
		}
		if !seenPage[c.PageNumber] {
			seenPage[c.PageNumber] = true
			pages = append(pages, c.PageNumber)
		}
	}
	return sections, pages
}
