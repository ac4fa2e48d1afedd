package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorStore implements VectorStore using the coder/hnsw pure Go graph.
// String chunk ids are mapped to uint64 graph keys; deletes are lazy (the node
// stays in the graph but loses its id mapping) because removing the last graph
// node is unreliable in coder/hnsw.
type HNSWVectorStore struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64 // chunk id -> graph key
	keyMap  map[uint64]string // graph key -> chunk id
	docMap  map[string]string // chunk id -> doc id
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWVectorStore)(nil)

// hnswSidecar holds the id mappings persisted next to the graph file.
type hnswSidecar struct {
	IDMap      map[string]uint64
	DocMap     map[string]string
	NextKey    uint64
	Dimensions int
}

// NewHNSWVectorStore creates an empty HNSW store with cosine distance.
func NewHNSWVectorStore(dimensions int) (*HNSWVectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", dimensions)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &HNSWVectorStore{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		docMap:     make(map[string]string),
	}, nil
}

// Add inserts vectors for the given chunk refs. Existing ids are replaced.
// Chunks without embeddings simply never reach this store.
func (s *HNSWVectorStore) Add(ctx context.Context, refs []ChunkRef, vectors [][]float32) error {
	if len(refs) == 0 {
		return nil
	}
	if len(refs) != len(vectors) {
		return fmt.Errorf("refs and vectors length mismatch: %d vs %d", len(refs), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.dimensions {
			return fmt.Errorf("dimension mismatch: expected %d, got %d", s.dimensions, len(v))
		}
	}

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if oldKey, exists := s.idMap[ref.ID]; exists {
			// Lazy replacement: orphan the old graph node.
			delete(s.keyMap, oldKey)
			delete(s.idMap, ref.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[ref.ID] = key
		s.keyMap[key] = ref.ID
		s.docMap[ref.ID] = ref.DocID
	}
	return nil
}

// Search returns up to limit chunks with cosine similarity strictly above
// threshold, sorted by similarity descending with ties broken by chunk id.
// When a doc filter is set the graph is over-fetched and filtered afterwards.
func (s *HNSWVectorStore) Search(ctx context.Context, query []float32, docFilter []string, threshold float64, limit int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", s.dimensions, len(query))
	}
	if s.graph.Len() == 0 || limit <= 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	var filter map[string]bool
	k := limit
	if len(docFilter) > 0 {
		filter = make(map[string]bool, len(docFilter))
		for _, d := range docFilter {
			filter[d] = true
		}
		// Over-fetch so doc filtering still yields enough hits.
		k = limit * 8
	}
	// Lazy-deleted orphans also reduce the usable result count.
	k += len(s.keyMap) - len(s.idMap)
	if k > s.graph.Len() {
		k = s.graph.Len()
	}

	nodes := s.graph.Search(normalized, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // lazily deleted
		}
		if filter != nil && !filter[s.docMap[id]] {
			continue
		}
		// coder/hnsw cosine distance = 1 - cosine similarity.
		similarity := 1 - float64(s.graph.Distance(normalized, node.Value))
		if similarity <= threshold {
			continue
		}
		results = append(results, &VectorResult{ChunkID: id, Similarity: similarity})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
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

// Delete removes vectors by chunk id using lazy deletion.
func (s *HNSWVectorStore) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, id := range chunkIDs {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.docMap, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (s *HNSWVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and id mappings using temp-file + rename.
func (s *HNSWVectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename graph file: %w", err)
	}

	return s.saveSidecar(path + ".meta")
}

func (s *HNSWVectorStore) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	meta := hnswSidecar{
		IDMap:      s.idMap,
		DocMap:     s.docMap,
		NextKey:    s.nextKey,
		Dimensions: s.dimensions,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close sidecar: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and id mappings from disk.
func (s *HNSWVectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open sidecar: %w", err)
	}
	defer metaFile.Close()

	var meta hnswSidecar
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode sidecar: %w", err)
	}
	s.idMap = meta.IDMap
	s.docMap = meta.DocMap
	s.nextKey = meta.NextKey
	s.dimensions = meta.Dimensions
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

// Close releases the graph. Idempotent.
func (s *HNSWVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
