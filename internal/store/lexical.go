package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveLexicalStore implements LexicalStore on Bleve v2. Chunk content is
// analyzed with the English analyzer (porter stemming + stopword removal);
// doc_id is indexed verbatim for filtering.
type BleveLexicalStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalStore = (*BleveLexicalStore)(nil)

// lexicalDocument is the shape Bleve indexes per chunk.
type lexicalDocument struct {
	Content string `json:"content"`
	DocID   string `json:"doc_id"`
}

// NewBleveLexicalStore opens or creates a lexical index at path.
// An empty path creates an in-memory index, used by tests.
func NewBleveLexicalStore(path string) (*BleveLexicalStore, error) {
	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	return &BleveLexicalStore{index: idx, path: path}, nil
}

// createLexicalMapping builds the index mapping: stemmed English content and
// a keyword doc_id field.
func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = en.AnalyzerName
	contentField.Store = false

	docIDField := bleve.NewTextFieldMapping()
	docIDField.Analyzer = keyword.Name
	docIDField.Store = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("doc_id", docIDField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = en.AnalyzerName
	return indexMapping, nil
}

// Index adds chunks to the lexical index. Existing ids are replaced.
func (s *BleveLexicalStore) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := s.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := lexicalDocument{Content: c.Content, DocID: c.DocID}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	return s.index.Batch(batch)
}

// Search returns ranked lexical matches for the query, optionally restricted
// to a document-id set. Rank 1 is the best match; ties on score are broken by
// chunk id ascending so the ordering is deterministic across runs.
func (s *BleveLexicalStore) Search(ctx context.Context, query string, docFilter []string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*LexicalResult{}, nil
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("content")

	var searchQuery = bleve.NewConjunctionQuery(match)
	if len(docFilter) > 0 {
		docs := bleve.NewDisjunctionQuery()
		for _, docID := range docFilter {
			term := bleve.NewTermQuery(docID)
			term.SetField("doc_id")
			docs.AddQuery(term)
		}
		searchQuery.AddQuery(docs)
	}

	// Over-fetch so equal-score ties at the cut line sort stably before
	// truncation.
	req := bleve.NewSearchRequestOptions(searchQuery, limit*2, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	results := make([]*LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &LexicalResult{ChunkID: hit.ID, Score: hit.Score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
	}
	return results, nil
}

// Delete removes chunks from the index.
func (s *BleveLexicalStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := s.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return s.index.Batch(batch)
}

// Count returns the number of indexed chunks.
func (s *BleveLexicalStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	n, err := s.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying index. Idempotent.
func (s *BleveLexicalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}
