package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text"}]}`))
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
			for i := range req.Input {
				vec := make([]float32, dims)
				vec[i%dims] = 1
				resp.Embeddings[i] = vec
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	// Given: a fake Ollama endpoint returning 4-dim one-hot vectors
	srv := newFakeOllama(t, 4)
	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 4, BatchSize: 2})
	defer func() { _ = e.Close() }()

	// When: I embed three texts with batch size two
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	// Then: order is preserved across the batch split
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(1), vecs[1][1])
	assert.Equal(t, float32(1), vecs[2][0])
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	srv := newFakeOllama(t, 8)
	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL})
	defer func() { _ = e.Close() }()

	assert.Equal(t, 0, e.Dimensions())

	_, err := e.Embed(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimensions())
}

func TestOllamaEmbedder_Available(t *testing.T) {
	srv := newFakeOllama(t, 4)
	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL})
	defer func() { _ = e.Close() }()
	assert.True(t, e.Available(context.Background()))

	down := NewOllamaEmbedder(OllamaConfig{Host: "http://127.0.0.1:1"})
	defer func() { _ = down.Close() }()
	assert.False(t, down.Available(context.Background()))
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
