package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/retriever"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Display statistics about the chunk store, keyword index, vector
index, and embedding cache.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runStats(cmd.Context(), cmd, cfg, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, cfg *config.Config, jsonOutput bool) error {
	logger := slog.Default()

	ret := retriever.New(cfg, logger)
	if err := ret.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	stats := ret.Stats(ctx)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Index Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Chunks:        %d (%d sources)\n", stats.ChunkStore.TotalChunks, stats.ChunkStore.UniqueSources)
	fmt.Fprintf(w, "BM25 docs:     %d\n", stats.BM25.TotalDocuments)
	fmt.Fprintf(w, "Vector nodes:  %d (%s, %d dims)\n", stats.Vector.Nodes, stats.Vector.Backend, stats.Vector.Dimensions)
	fmt.Fprintf(w, "Embedding:     %s (%d dims)\n", stats.Embedding.Model, stats.Embedding.Dimensions)
	fmt.Fprintf(w, "Embed cache:   %d hits, %d misses, %d entries\n",
		stats.Embedding.CacheHits, stats.Embedding.CacheMiss, stats.Embedding.CacheSize)

	if len(stats.ChunkStore.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		sources := make([]string, 0, len(stats.ChunkStore.Sources))
		for src := range stats.ChunkStore.Sources {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(w, "  %s (%d chunks)\n", src, stats.ChunkStore.Sources[src])
		}
	}
	return nil
}
