package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/llm"
	"github.com/auditkit/guideline-rag/internal/retriever"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	format string // "text", "json"
	answer bool
	mode   string // "default", "shorter", "more"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed guidelines",
		Long: `Search indexed guidelines with hybrid retrieval.

Combines BM25 keyword search and vector similarity with reciprocal
rank fusion. With --answer, the retrieved excerpts are also fed to the
configured chat model for a verdict-style answer.

Examples:
  guideline-rag search "firearm displayed on a table"
  guideline-rag search "alcohol advertising" --limit 3 --format json
  guideline-rag search "is this harassment" --answer`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, cfg, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 uses the configured default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.answer, "answer", false, "Generate an answer from the retrieved excerpts")
	cmd.Flags().StringVar(&opts.mode, "mode", "default", "Answer length: default, shorter, more")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, query string, opts searchOptions) error {
	logger := slog.Default()

	ret := retriever.New(cfg, logger)
	if err := ret.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	results, err := ret.Retrieve(ctx, query, opts.limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		if len(results) == 0 {
			fmt.Fprintf(out, "No results found for %q\n", query)
		} else {
			fmt.Fprintf(out, "Found %d results for %q:\n\n", len(results), query)
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s (score: %.4f)\n", i+1, r.Title, r.Score)
				fmt.Fprintf(out, "   %s\n", r.Link)
				for _, line := range snippetLines(r.Snippet, 3) {
					fmt.Fprintf(out, "   %s\n", line)
				}
				fmt.Fprintln(out)
			}
		}
	}

	if !opts.answer {
		return nil
	}

	llmHost := cfg.LLM.OllamaHost
	if llmHost == "" {
		llmHost = cfg.Embedding.OllamaHost
	}
	generator, err := llm.New(llm.Config{
		Host:        llmHost,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	answer, err := generator.Answer(ctx, query, results, parseMode(opts.mode))
	if err != nil {
		return fmt.Errorf("answer generation failed: %w", err)
	}
	fmt.Fprintln(out, answer)
	return nil
}

func parseMode(s string) llm.Mode {
	switch s {
	case "shorter":
		return llm.ModeShorter
	case "more":
		return llm.ModeMore
	default:
		return llm.ModeDefault
	}
}

// snippetLines returns the first n non-empty lines of a snippet.
func snippetLines(snippet string, n int) []string {
	lines := strings.Split(snippet, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
