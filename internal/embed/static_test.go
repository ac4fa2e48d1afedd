package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	v1, err := e.Embed(context.Background(), "pump maintenance schedule")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "pump maintenance schedule")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	v, err := e.Embed(context.Background(), "cooling water valve inspection")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, math.Sqrt(dot(v, v)), 1e-5)
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	// Given: two related texts and one unrelated text
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	pump1, err := e.Embed(context.Background(), "pump pressure inspection report")
	require.NoError(t, err)
	pump2, err := e.Embed(context.Background(), "inspection of the pump pressure gauge")
	require.NoError(t, err)
	other, err := e.Embed(context.Background(), "quarterly financial summary")
	require.NoError(t, err)

	// Then: shared vocabulary dominates the cosine similarity
	assert.Greater(t, dot(pump1, pump2), dot(pump1, other))
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	assert.Zero(t, dot(v, v))
}

func TestStaticEmbedder_Batch(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestStaticEmbedder_ClosedErrors(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
