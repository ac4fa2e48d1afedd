package retrieval

import (
	"sort"

	"github.com/doclens/doclens/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter, empirically
// validated across domains (used by Azure AI Search, OpenSearch, and others).
const DefaultRRFConstant = 60

// Weights are the relative contributions of each search arm to the fused
// score. They need not sum to 1.
type Weights struct {
	Lexical float64
	Vector  float64
}

// FusedResult is one chunk after RRF fusion. Request-scoped, never persisted.
type FusedResult struct {
	ChunkID          string
	CombinedScore    float64
	LexicalRank      int // 1-indexed, 0 if absent from the lexical list
	VectorRank       int // 1-indexed, 0 if absent from the vector list
	LexicalScore     float64
	VectorSimilarity float64
	Match            MatchType
}

// RRFFusion merges ranked lists with Reciprocal Rank Fusion:
//
//	score(c) = lexW/(k + lexRank(c)) + vecW/(k + vecRank(c))
//
// with 1-indexed ranks. A list that does not contain the chunk contributes
// nothing; there is no synthetic rank for absent entries, so a chunk found by
// both arms strictly outranks a chunk at the same raw rank found by one.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates an RRF fuser. k <= 0 falls back to the default.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse unions both lists, scores every chunk, sorts by (score desc, chunk id
// asc), and truncates to topK. Returns an empty slice, never nil.
func (f *RRFFusion) Fuse(lex []*store.LexicalResult, vec []*store.VectorResult, w Weights, topK int) []*FusedResult {
	if len(lex) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(lex)+len(vec))
	get := func(id string) *FusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		scores[id] = r
		return r
	}

	for i, r := range lex {
		fused := get(r.ChunkID)
		fused.LexicalRank = i + 1
		fused.LexicalScore = r.Score
		fused.CombinedScore += w.Lexical / float64(f.K+i+1)
	}
	for i, r := range vec {
		fused := get(r.ChunkID)
		fused.VectorRank = i + 1
		fused.VectorSimilarity = r.Similarity
		fused.CombinedScore += w.Vector / float64(f.K+i+1)
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		switch {
		case r.LexicalRank > 0 && r.VectorRank > 0:
			r.Match = MatchBoth
		case r.LexicalRank > 0:
			r.Match = MatchLexicalOnly
		default:
			r.Match = MatchVectorOnly
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
