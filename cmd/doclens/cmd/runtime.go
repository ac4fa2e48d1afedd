package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/doclens/doclens/internal/api"
	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/embed"
	"github.com/doclens/doclens/internal/retrieval"
	"github.com/doclens/doclens/internal/store"
)

// runtime bundles the opened stores, embedder, and engine behind one Close.
type runtime struct {
	cfg      *config.Config
	sqlite   *store.SQLiteStore
	lexical  *store.BleveLexicalStore
	vector   *store.HNSWVectorStore
	embedder embed.Embedder
	engine   *retrieval.Engine
	lock     *store.DirLock
}

func vectorGraphPath(dataDir string) string {
	return filepath.Join(dataDir, "vectors.hnsw")
}

// openRuntime opens all stores under the configured data directory and wires
// the engine. withLock guards the directory against concurrent writers; query
// only reads and skips it.
func openRuntime(ctx context.Context, cfg *config.Config, withLock bool) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	dataDir := cfg.Paths.DataDir

	if withLock {
		lock, err := store.AcquireDirLock(dataDir)
		if err != nil {
			return nil, err
		}
		rt.lock = lock
	}

	sqlite, err := store.NewSQLiteStore(filepath.Join(dataDir, "doclens.db"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.sqlite = sqlite

	lexical, err := store.NewBleveLexicalStore(filepath.Join(dataDir, "lexical.bleve"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	rt.lexical = lexical

	embedder, err := embed.NewEmbedder(cfg.Embeddings)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.embedder = embedder

	dims := embedder.Dimensions()
	if dims == 0 {
		dims = cfg.Embeddings.Dimensions
	}
	vector, err := store.NewHNSWVectorStore(dims)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if _, statErr := os.Stat(vectorGraphPath(dataDir)); statErr == nil {
		if err := vector.Load(vectorGraphPath(dataDir)); err != nil {
			rt.Close()
			return nil, fmt.Errorf("load vector graph: %w", err)
		}
	}
	rt.vector = vector

	engine, err := retrieval.NewEngine(retrieval.Deps{
		Lexical:     lexical,
		Vector:      vector,
		Chunks:      sqlite,
		Hierarchies: sqlite,
		Assets:      sqlite,
		Embedder:    embedder,
		Logger:      slog.Default(),
	}, cfg.Search)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine

	return rt, nil
}

// stats serves the health endpoint's store counts.
func (rt *runtime) stats(ctx context.Context) (api.Stats, error) {
	chunks, err := rt.sqlite.Count(ctx)
	if err != nil {
		return api.Stats{}, err
	}
	return api.Stats{Chunks: chunks, Vectors: rt.vector.Count()}, nil
}

// Close releases every opened resource. Safe on a partially opened runtime.
func (rt *runtime) Close() {
	if rt.vector != nil {
		_ = rt.vector.Close()
	}
	if rt.embedder != nil {
		_ = rt.embedder.Close()
	}
	if rt.lexical != nil {
		_ = rt.lexical.Close()
	}
	if rt.sqlite != nil {
		_ = rt.sqlite.Close()
	}
	if rt.lock != nil {
		_ = rt.lock.Release()
	}
}
