// Package retrieval implements the hybrid retrieval and context-expansion
// engine: lexical and vector search run concurrently, their ranked lists are
// fused with Reciprocal Rank Fusion, the fused seeds are expanded through the
// document hierarchy under a token budget, and the expanded chunks are
// enriched with images and tables.
package retrieval

import (
	"strconv"
	"strings"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/errors"
	"github.com/doclens/doclens/internal/store"
)

// MatchType records which search arms surfaced a fused chunk.
type MatchType string

const (
	MatchLexicalOnly MatchType = "lexical-only"
	MatchVectorOnly  MatchType = "vector-only"
	MatchBoth        MatchType = "both"
)

// ExpansionType records the first hierarchy relation under which a non-seed
// chunk was discovered.
type ExpansionType string

const (
	ExpansionSibling ExpansionType = "sibling"
	ExpansionParent  ExpansionType = "parent"
	ExpansionChild   ExpansionType = "child"
)

// Request is the engine's query input. Pointer fields distinguish "omitted"
// from an explicit zero value; defaults are applied by normalize.
type Request struct {
	QueryText      string   `json:"query_text"`
	DocIDs         []string `json:"doc_ids,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
	LexicalWeight  *float64 `json:"lexical_weight,omitempty"`
	VectorWeight   *float64 `json:"vector_weight,omitempty"`
	TokenBudget    int      `json:"token_budget,omitempty"`
	ExpandSiblings *bool    `json:"expand_siblings,omitempty"`
	ExpandParents  *bool    `json:"expand_parents,omitempty"`
	ExpandChildren *bool    `json:"expand_children,omitempty"`
	IncludeImages  *bool    `json:"include_images,omitempty"`
	IncludeTables  *bool    `json:"include_tables,omitempty"`
}

// options is the fully resolved form of a Request.
type options struct {
	queryText      string
	docIDs         []string
	topK           int
	weights        Weights
	tokenBudget    int
	expandSiblings bool
	expandParents  bool
	expandChildren bool
	includeImages  bool
	includeTables  bool
}

// normalize validates the request and fills unset fields from the search
// configuration.
func (r Request) normalize(cfg config.SearchConfig) (options, error) {
	if strings.TrimSpace(r.QueryText) == "" {
		return options{}, errors.New(errors.ErrCodeQueryEmpty, "query_text must not be empty", nil)
	}

	opts := options{
		queryText:      r.QueryText,
		docIDs:         r.DocIDs,
		topK:           r.TopK,
		weights:        Weights{Lexical: cfg.LexicalWeight, Vector: cfg.VectorWeight},
		tokenBudget:    r.TokenBudget,
		expandSiblings: true,
		expandParents:  true,
		expandChildren: false,
		includeImages:  true,
		includeTables:  true,
	}

	if opts.topK == 0 {
		opts.topK = cfg.TopK
	}
	if opts.topK <= 0 {
		return options{}, errors.ValidationError("top_k must be positive", nil).
			WithDetail("top_k", strconv.Itoa(r.TopK))
	}
	if opts.tokenBudget == 0 {
		opts.tokenBudget = cfg.TokenBudget
	}
	if opts.tokenBudget <= 0 {
		return options{}, errors.New(errors.ErrCodeInvalidBudget, "token_budget must be positive", nil)
	}
	if r.LexicalWeight != nil {
		opts.weights.Lexical = *r.LexicalWeight
	}
	if r.VectorWeight != nil {
		opts.weights.Vector = *r.VectorWeight
	}
	if opts.weights.Lexical < 0 || opts.weights.Vector < 0 ||
		(opts.weights.Lexical == 0 && opts.weights.Vector == 0) {
		return options{}, errors.New(errors.ErrCodeInvalidWeights,
			"weights must be non-negative and not both zero", nil)
	}
	if r.ExpandSiblings != nil {
		opts.expandSiblings = *r.ExpandSiblings
	}
	if r.ExpandParents != nil {
		opts.expandParents = *r.ExpandParents
	}
	if r.ExpandChildren != nil {
		opts.expandChildren = *r.ExpandChildren
	}
	if r.IncludeImages != nil {
		opts.includeImages = *r.IncludeImages
	}
	if r.IncludeTables != nil {
		opts.includeTables = *r.IncludeTables
	}
	return opts, nil
}

// ResultChunk is one entry of the final context window.
type ResultChunk struct {
	ID          string   `json:"id"`
	DocID       string   `json:"doc_id"`
	Content     string   `json:"content"`
	PageNumber  int      `json:"page_number"`
	SectionID   string   `json:"section_id,omitempty"`
	SectionPath []string `json:"section_path,omitempty"`

	// Seed-only fields; zero for expanded chunks.
	CombinedScore float64   `json:"combined_score,omitempty"`
	MatchType     MatchType `json:"match_type,omitempty"`

	IsSeed        bool          `json:"is_seed"`
	ExpansionType ExpansionType `json:"expansion_type,omitempty"`

	Images []*store.Image `json:"images,omitempty"`
	Tables []*store.Table `json:"tables,omitempty"`
}

// ExpansionSummary reports what expansion did for one request.
type ExpansionSummary struct {
	SeedCount     int  `json:"seed_count"`
	SiblingsAdded int  `json:"siblings_added"`
	ParentsAdded  int  `json:"parents_added"`
	ChildrenAdded int  `json:"children_added"`
	TokensUsed    int  `json:"tokens_used"`
	TokenBudget   int  `json:"token_budget"`
	HierarchyUsed bool `json:"hierarchy_used"`
}

// Response is a successful, non-empty query result.
type Response struct {
	Chunks           []*ResultChunk   `json:"chunks"`
	ExpansionSummary ExpansionSummary `json:"expansion_summary"`
	TotalResults     int              `json:"total_results"`
}

// FailureKind classifies a failed query.
type FailureKind int

const (
	// FailureInvalidRequest means the caller sent a malformed request.
	FailureInvalidRequest FailureKind = iota + 1
	// FailureUpstream means a store or the embedder failed; the request was
	// aborted with no partial results.
	FailureUpstream
)

// Result is the tagged outcome of a query: success with a response, an empty
// result, or a failure. Fields are unexported so a failure can never be read
// as response data; callers must branch on the accessors.
type Result struct {
	response *Response
	failure  FailureKind
	err      error
}

// Success wraps a non-empty response.
func Success(resp *Response) Result {
	return Result{response: resp}
}

// NoResults is the outcome of a query that matched nothing. Not an error.
func NoResults() Result {
	return Result{}
}

// Failed wraps a classified failure.
func Failed(kind FailureKind, err error) Result {
	return Result{failure: kind, err: err}
}

// Response returns the payload of a successful result.
func (r Result) Response() (*Response, bool) {
	return r.response, r.response != nil
}

// IsEmpty reports a successful query with zero fused results.
func (r Result) IsEmpty() bool {
	return r.response == nil && r.failure == 0
}

// Failure returns the failure classification and cause.
func (r Result) Failure() (FailureKind, error, bool) {
	return r.failure, r.err, r.failure != 0
}
