package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/internal/retrieval"
)

func newQueryCmd() *cobra.Command {
	var docIDs []string
	var topK int
	var tokenBudget int
	var noImages, noTables, children bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a one-shot query and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			req := retrieval.Request{
				QueryText:   strings.Join(args, " "),
				DocIDs:      docIDs,
				TopK:        topK,
				TokenBudget: tokenBudget,
			}
			if noImages {
				off := false
				req.IncludeImages = &off
			}
			if noTables {
				off := false
				req.IncludeTables = &off
			}
			if children {
				on := true
				req.ExpandChildren = &on
			}

			result := rt.engine.Query(cmd.Context(), req)

			if _, cause, failed := result.Failure(); failed {
				return cause
			}
			if resp, ok := result.Response(); ok {
				return printJSON(resp)
			}

			fmt.Fprintln(os.Stderr, "no results")
			return printJSON(&retrieval.Response{Chunks: []*retrieval.ResultChunk{}})
		},
	}

	cmd.Flags().StringSliceVar(&docIDs, "doc", nil, "Restrict search to these document ids")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of fused seeds (default from config)")
	cmd.Flags().IntVar(&tokenBudget, "budget", 0, "Token budget for context expansion (default from config)")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "Skip image enrichment")
	cmd.Flags().BoolVar(&noTables, "no-tables", false, "Skip table enrichment")
	cmd.Flags().BoolVar(&children, "children", false, "Also expand child sections")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
