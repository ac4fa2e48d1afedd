// Package store provides the persistence adapters consumed by the retrieval
// engine: a Bleve-backed lexical index, an HNSW vector store, and SQLite-backed
// chunk, hierarchy, and asset stores. All stores are read-only from the
// engine's perspective; writes happen only through the corpus loader.
package store

import (
	"context"
	"fmt"
	"sort"
)

// Chunk is a retrievable unit of document content. Chunks are created by
// ingestion and never mutated by the engine.
type Chunk struct {
	ID          string    `json:"id"`
	DocID       string    `json:"doc_id"`
	Content     string    `json:"content"`
	PageNumber  int       `json:"page_number"`            // 1-indexed
	SectionID   string    `json:"section_id,omitempty"`   // empty = no owning section
	SectionPath []string  `json:"section_path,omitempty"` // ancestor section titles, outermost first
	Embedding   []float32 `json:"embedding,omitempty"`    // nil = not embedded
}

// Section is a node in a document's structural tree. ChunkIDs preserves
// document order; expansion and final rendering rely on it.
type Section struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
	Level    int      `json:"level"`
}

// Hierarchy is the full section tree for one document: an arena of sections
// indexed by id with parent/child links as id references, plus a page index.
type Hierarchy struct {
	DocID    string              `json:"doc_id"`
	Sections map[string]*Section `json:"sections"`
	RootIDs  []string            `json:"root_ids"`

	// PageSections maps page number to the section ids with chunks on that
	// page. Built by BuildPageIndex; ids are sorted for determinism.
	PageSections map[int][]string `json:"-"`
}

// Validate checks referential integrity of the section arena: every parent,
// child, and root reference must name a section that exists.
func (h *Hierarchy) Validate() error {
	for id, sec := range h.Sections {
		if sec.ID != id {
			return fmt.Errorf("hierarchy %s: section keyed %q has id %q", h.DocID, id, sec.ID)
		}
		if sec.ParentID != "" {
			if _, ok := h.Sections[sec.ParentID]; !ok {
				return fmt.Errorf("hierarchy %s: section %s references missing parent %s", h.DocID, id, sec.ParentID)
			}
		}
		for _, child := range sec.ChildIDs {
			if _, ok := h.Sections[child]; !ok {
				return fmt.Errorf("hierarchy %s: section %s references missing child %s", h.DocID, id, child)
			}
		}
	}
	for _, root := range h.RootIDs {
		if _, ok := h.Sections[root]; !ok {
			return fmt.Errorf("hierarchy %s: missing root section %s", h.DocID, root)
		}
	}
	return nil
}

// ValidateChunks cross-checks the document's chunks against the section
// arena: every chunk that names a section must name one that exists, and that
// section's ChunkIDs must list the chunk exactly once.
func (h *Hierarchy) ValidateChunks(chunks []*Chunk) error {
	for _, c := range chunks {
		if c.SectionID == "" {
			continue
		}
		sec, ok := h.Sections[c.SectionID]
		if !ok {
			return fmt.Errorf("hierarchy %s: chunk %s references missing section %s", h.DocID, c.ID, c.SectionID)
		}
		listed := 0
		for _, id := range sec.ChunkIDs {
			if id == c.ID {
				listed++
			}
		}
		if listed != 1 {
			return fmt.Errorf("hierarchy %s: section %s lists chunk %s %d times, want exactly once",
				h.DocID, c.SectionID, c.ID, listed)
		}
	}
	return nil
}

// BuildPageIndex populates PageSections from the chunks of the document.
// Safe to call more than once.
func (h *Hierarchy) BuildPageIndex(chunks []*Chunk) {
	h.PageSections = make(map[int][]string)
	seen := make(map[int]map[string]bool)
	for _, c := range chunks {
		if c.SectionID == "" {
			continue
		}
		if _, ok := h.Sections[c.SectionID]; !ok {
			continue
		}
		if seen[c.PageNumber] == nil {
			seen[c.PageNumber] = make(map[string]bool)
		}
		if !seen[c.PageNumber][c.SectionID] {
			seen[c.PageNumber][c.SectionID] = true
			h.PageSections[c.PageNumber] = append(h.PageSections[c.PageNumber], c.SectionID)
		}
	}
	for page := range h.PageSections {
		sort.Strings(h.PageSections[page])
	}
}

// Section returns the section with the given id, or nil.
func (h *Hierarchy) Section(id string) *Section {
	if h == nil || id == "" {
		return nil
	}
	return h.Sections[id]
}

// Image is a document image resolved to chunks at read time by section or
// page affinity. Never mutated by the engine.
type Image struct {
	ID          string `json:"id"`
	DocID       string `json:"doc_id"`
	SectionID   string `json:"section_id,omitempty"`
	PageNumber  int    `json:"page_number"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Table is a document table. The payload is markdown.
type Table struct {
	ID          string `json:"id"`
	DocID       string `json:"doc_id"`
	SectionID   string `json:"section_id,omitempty"`
	PageNumber  int    `json:"page_number"`
	Markdown    string `json:"markdown"`
	Description string `json:"description,omitempty"`
}

// LexicalResult is a single lexical search hit. Rank 1 = best match.
type LexicalResult struct {
	ChunkID string
	Rank    int
	Score   float64
}

// VectorResult is a single vector search hit. Rank 1 = highest similarity.
type VectorResult struct {
	ChunkID    string
	Similarity float64 // cosine similarity in [-1, 1]
	Rank       int
}

// LexicalStore provides stemmed, stopword-aware term search over chunk
// content. An empty docFilter means all documents. No match yields an empty
// slice, not an error.
type LexicalStore interface {
	Index(ctx context.Context, chunks []*Chunk) error
	Search(ctx context.Context, query string, docFilter []string, limit int) ([]*LexicalResult, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Count() (int, error)
	Close() error
}

// VectorStore scores chunks against a query embedding. Results are filtered
// to similarity > threshold and sorted by similarity descending, ties broken
// by chunk id ascending.
type VectorStore interface {
	Add(ctx context.Context, refs []ChunkRef, vectors [][]float32) error
	Search(ctx context.Context, query []float32, docFilter []string, threshold float64, limit int) ([]*VectorResult, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ChunkRef identifies a chunk and its owning document for vector indexing.
type ChunkRef struct {
	ID    string
	DocID string
}

// ChunkStore persists chunk records and serves point-in-time reads.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDoc(ctx context.Context, docID string) ([]*Chunk, error)
	DeleteChunksByDoc(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// HierarchyStore serves per-document section trees. Get returns
// ErrHierarchyNotFound when the document has no hierarchy row; callers degrade
// to seeds-only expansion in that case.
type HierarchyStore interface {
	SaveHierarchy(ctx context.Context, h *Hierarchy) error
	Get(ctx context.Context, docID string) (*Hierarchy, error)
	Close() error
}

// AssetStore serves images and tables for enrichment, looked up by section
// ids or page numbers within a document.
type AssetStore interface {
	SaveImages(ctx context.Context, images []*Image) error
	SaveTables(ctx context.Context, tables []*Table) error
	ImagesFor(ctx context.Context, docID string, sectionIDs []string, pages []int) ([]*Image, error)
	TablesFor(ctx context.Context, docID string, sectionIDs []string, pages []int) ([]*Table, error)
	Close() error
}

// ErrHierarchyNotFound reports that a document has no stored hierarchy.
// This is an expected condition, not a failure: expansion degrades to seeds.
type ErrHierarchyNotFound struct {
	DocID string
}

func (e ErrHierarchyNotFound) Error() string {
	return fmt.Sprintf("no hierarchy for document %s", e.DocID)
}
