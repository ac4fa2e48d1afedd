package retrieval

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates the token cost of chunk content for budgeting.
type TokenEstimator interface {
	Estimate(text string) int
	Name() string
}

// HeuristicEstimator approximates tokens as ceil(len/4). Cheap and
// deterministic; the budget-ceiling guarantees are defined against it.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int {
	return (len(text) + 3) / 4
}

func (HeuristicEstimator) Name() string { return "heuristic" }

// TiktokenEstimator counts exact BPE tokens with the cl100k_base encoding.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the cl100k_base encoding.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding: %w", err)
	}
	return &TiktokenEstimator{encoding: enc}, nil
}

func (t *TiktokenEstimator) Estimate(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

func (t *TiktokenEstimator) Name() string { return "tiktoken" }

// NewTokenEstimator builds the estimator named by the configuration.
func NewTokenEstimator(name string) (TokenEstimator, error) {
	switch name {
	case "", "heuristic":
		return HeuristicEstimator{}, nil
	case "tiktoken":
		return NewTiktokenEstimator()
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
