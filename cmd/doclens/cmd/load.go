package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/internal/store"
)

// corpusFile is the JSON fixture format accepted by `doclens load`: already
// chunked and sectioned documents. Chunking itself happens upstream.
type corpusFile struct {
	Documents []corpusDocument `json:"documents"`
}

type corpusDocument struct {
	DocID          string           `json:"doc_id"`
	Chunks         []*store.Chunk   `json:"chunks"`
	Sections       []*store.Section `json:"sections,omitempty"`
	RootSectionIDs []string         `json:"root_section_ids,omitempty"`
	Images         []*store.Image   `json:"images,omitempty"`
	Tables         []*store.Table   `json:"tables,omitempty"`
}

func newLoadCmd() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "load <corpus.json>",
		Short: "Load a JSON corpus into the stores and index it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read corpus: %w", err)
			}
			var corpus corpusFile
			if err := json.Unmarshal(data, &corpus); err != nil {
				return fmt.Errorf("parse corpus: %w", err)
			}

			rt, err := openRuntime(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			total := 0
			for _, doc := range corpus.Documents {
				n, err := loadDocument(cmd.Context(), rt, doc, replace)
				if err != nil {
					return fmt.Errorf("load %s: %w", doc.DocID, err)
				}
				total += n
			}

			if err := rt.vector.Save(vectorGraphPath(cfg.Paths.DataDir)); err != nil {
				return fmt.Errorf("persist vector graph: %w", err)
			}

			fmt.Printf("loaded %d documents, %d chunks\n", len(corpus.Documents), total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "Delete existing chunks of each document first")
	return cmd
}

// loadDocument stores, indexes, and embeds one document. Chunk doc ids are
// forced to the document's id so a sloppy fixture cannot split a document.
func loadDocument(ctx context.Context, rt *runtime, doc corpusDocument, replace bool) (int, error) {
	if doc.DocID == "" {
		return 0, fmt.Errorf("document without doc_id")
	}

	if replace {
		old, err := rt.sqlite.GetChunksByDoc(ctx, doc.DocID)
		if err != nil {
			return 0, err
		}
		ids := make([]string, len(old))
		for i, c := range old {
			ids[i] = c.ID
		}
		if err := rt.lexical.Delete(ctx, ids); err != nil {
			return 0, err
		}
		if err := rt.vector.Delete(ctx, ids); err != nil {
			return 0, err
		}
		if err := rt.sqlite.DeleteChunksByDoc(ctx, doc.DocID); err != nil {
			return 0, err
		}
	}

	for _, c := range doc.Chunks {
		c.DocID = doc.DocID
	}

	// Embed chunk content, then persist embeddings alongside the chunks.
	texts := make([]string, len(doc.Chunks))
	for i, c := range doc.Chunks {
		texts[i] = c.Content
	}
	vectors, err := rt.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	refs := make([]store.ChunkRef, len(doc.Chunks))
	for i, c := range doc.Chunks {
		c.Embedding = vectors[i]
		refs[i] = store.ChunkRef{ID: c.ID, DocID: c.DocID}
	}

	if err := rt.sqlite.SaveChunks(ctx, doc.Chunks); err != nil {
		return 0, err
	}
	if err := rt.lexical.Index(ctx, doc.Chunks); err != nil {
		return 0, err
	}
	if err := rt.vector.Add(ctx, refs, vectors); err != nil {
		return 0, err
	}

	if len(doc.Sections) > 0 {
		sections := make(map[string]*store.Section, len(doc.Sections))
		for _, sec := range doc.Sections {
			sections[sec.ID] = sec
		}
		h := &store.Hierarchy{
			DocID:    doc.DocID,
			Sections: sections,
			RootIDs:  doc.RootSectionIDs,
		}
		if err := rt.sqlite.SaveHierarchy(ctx, h); err != nil {
			return 0, err
		}
		rt.engine.InvalidateHierarchy(doc.DocID)
	}

	for _, img := range doc.Images {
		img.DocID = doc.DocID
	}
	for _, tab := range doc.Tables {
		tab.DocID = doc.DocID
	}
	if err := rt.sqlite.SaveImages(ctx, doc.Images); err != nil {
		return 0, err
	}
	if err := rt.sqlite.SaveTables(ctx, doc.Tables); err != nil {
		return 0, err
	}

	slog.Info("document loaded", "doc_id", doc.DocID,
		"chunks", len(doc.Chunks), "sections", len(doc.Sections))
	return len(doc.Chunks), nil
}
