package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/store"
)

func newTestSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		LexicalWeight:       0.4,
		VectorWeight:        0.6,
		RRFConstant:         60,
		SimilarityThreshold: 0.0,
		TopK:                10,
		CandidateLimit:      50,
		TokenBudget:         8000,
		Tokenizer:           "heuristic",
		HierarchyCacheSize:  8,
	}
}
